package telemetry

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"runtime"
	"slices"
	"strings"
	"sync"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/zap"
)

// ProfilerConfig configures continuous profiling pushed to Pyroscope.
// ProfileTypes takes cpu, alloc_objects, alloc_space, inuse_objects,
// inuse_space, goroutines, mutex and block; empty selects cpu, alloc_space,
// inuse_space and goroutines.
type ProfilerConfig struct {
	Enabled           bool
	ServerAddress     string
	ApplicationName   string
	BasicAuthUser     string
	BasicAuthPassword string
	ProfileTypes      []string
}

// contention profiles sample one event in this many
const contentionSampleRate = 5

var profileTypes = map[string][]pyroscope.ProfileType{
	"cpu":           {pyroscope.ProfileCPU},
	"alloc_objects": {pyroscope.ProfileAllocObjects},
	"alloc_space":   {pyroscope.ProfileAllocSpace},
	"inuse_objects": {pyroscope.ProfileInuseObjects},
	"inuse_space":   {pyroscope.ProfileInuseSpace},
	"goroutines":    {pyroscope.ProfileGoroutines},
	"mutex":         {pyroscope.ProfileMutexCount, pyroscope.ProfileMutexDuration},
	"block":         {pyroscope.ProfileBlockCount, pyroscope.ProfileBlockDuration},
}

// Profiler owns a running Pyroscope session, or nothing when disabled
type Profiler struct {
	session *pyroscope.Profiler
	logger  *zap.Logger
	once    sync.Once
	err     error
}

func NewProfiler(cfg ProfilerConfig, logger *zap.Logger) (*Profiler, error) {
	p := &Profiler{logger: logger}
	if !cfg.Enabled {
		return p, nil
	}
	switch {
	case cfg.ServerAddress == "":
		return nil, errors.New("profiler server address is required when profiling is enabled")
	case cfg.ApplicationName == "":
		return nil, errors.New("profiler application name is required when profiling is enabled")
	}

	names := cfg.ProfileTypes
	if len(names) == 0 {
		names = []string{"cpu", "alloc_space", "inuse_space", "goroutines"}
	}
	types, err := resolveProfileTypes(names)
	if err != nil {
		return nil, err
	}

	tags := map[string]string{}
	if host, err := os.Hostname(); err == nil {
		tags["hostname"] = host
	}
	session, err := pyroscope.Start(pyroscope.Config{
		ApplicationName:   cfg.ApplicationName,
		ServerAddress:     cfg.ServerAddress,
		BasicAuthUser:     cfg.BasicAuthUser,
		BasicAuthPassword: cfg.BasicAuthPassword,
		Logger:            logger.Named("pyroscope").Sugar(),
		Tags:              tags,
		ProfileTypes:      types,
	})
	if err != nil {
		return nil, fmt.Errorf("start pyroscope: %w", err)
	}
	p.session = session
	logger.Info("Profiling enabled",
		zap.String("server_address", cfg.ServerAddress),
		zap.Strings("profile_types", names),
	)
	return p, nil
}

// resolveProfileTypes also turns on the runtime sampling that mutex and
// block profiles depend on.
func resolveProfileTypes(names []string) ([]pyroscope.ProfileType, error) {
	var out []pyroscope.ProfileType
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		types, ok := profileTypes[name]
		if !ok {
			return nil, fmt.Errorf("unknown profile type %q", raw)
		}
		switch name {
		case "mutex":
			runtime.SetMutexProfileFraction(contentionSampleRate)
		case "block":
			runtime.SetBlockProfileRate(contentionSampleRate)
		}
		out = append(out, types...)
	}
	return out, nil
}

// Stop flushes pending profiles once. Later calls return the first result.
func (p *Profiler) Stop() error {
	p.once.Do(func() {
		if p.session == nil {
			return
		}
		if err := p.session.Stop(); err != nil {
			p.err = fmt.Errorf("stop pyroscope: %w", err)
			return
		}
		p.logger.Info("Profiling stopped")
	})
	return p.err
}

func (p *Profiler) IsEnabled() bool { return p.session != nil }

// Profiling label keys
const (
	ProfilingLabelCadence   = "cadence"
	ProfilingLabelTenantID  = "tenant_id"
	ProfilingLabelOperation = "operation"
)

// MaxLabelValueLength caps profiling label values
const MaxLabelValueLength = 128

// unboundedLabels would give every sample its own series
var unboundedLabels = []string{"job_id", "conflict_id", "request_id", "trace_id", "external_id"}

// WithProfilingLabels runs fn with labels attached to the profile samples
// it produces.
func WithProfilingLabels(ctx context.Context, labels map[string]string, fn func(context.Context)) {
	pairs := sanitizeLabels(labels)
	if len(pairs) == 0 {
		fn(ctx)
		return
	}
	pyroscope.TagWrapper(ctx, pyroscope.Labels(pairs...), fn)
}

func SyncJobLabels(cadence, tenantID string) map[string]string {
	return map[string]string{
		ProfilingLabelOperation: "sync_job",
		ProfilingLabelCadence:   cadence,
		ProfilingLabelTenantID:  tenantID,
	}
}

// sanitizeLabels returns key/value pairs ordered by key. Keys are reduced
// to [a-z0-9_]; empty values and unbounded keys are dropped.
func sanitizeLabels(labels map[string]string) []string {
	var pairs []string
	for _, raw := range slices.Sorted(maps.Keys(labels)) {
		key := labelKey(raw)
		value := labels[raw]
		if key == "" || value == "" || slices.Contains(unboundedLabels, key) {
			continue
		}
		pairs = append(pairs, key, value[:min(len(value), MaxLabelValueLength)])
	}
	return pairs
}

func labelKey(raw string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case r == ' ' || r == '-':
			return '_'
		}
		return -1
	}, raw)
}
