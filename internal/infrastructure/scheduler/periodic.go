package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrInvalidConfig wraps every task and trigger configuration error
var ErrInvalidConfig = errors.New("scheduler: invalid configuration")

// TaskFunc is one run of a periodic task
type TaskFunc func(ctx context.Context) error

// PeriodicConfig holds configuration for a periodic task
type PeriodicConfig struct {
	Name     string
	Interval time.Duration

	// RunOnStart runs the task once immediately instead of waiting for the
	// first tick
	RunOnStart bool

	// Timeout bounds a single run. Zero means the interval.
	Timeout time.Duration
}

// PeriodicStats is a snapshot of a periodic task's history
type PeriodicStats struct {
	Name      string        `json:"name"`
	Running   bool          `json:"running"`
	Interval  time.Duration `json:"interval"`
	Runs      int64         `json:"runs"`
	Failures  int64         `json:"failures"`
	LastRun   time.Time     `json:"last_run"`
	LastError string        `json:"last_error,omitempty"`
}

// Periodic runs a task on a fixed interval. Runs never overlap: a tick that
// arrives while the task is still running is dropped.
type Periodic struct {
	config PeriodicConfig
	task   TaskFunc
	logger *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool

	runs      int64
	failures  int64
	lastRun   time.Time
	lastError string
}

// NewPeriodic creates a periodic task
func NewPeriodic(config PeriodicConfig, task TaskFunc, logger *zap.Logger) (*Periodic, error) {
	if config.Interval <= 0 {
		return nil, fmt.Errorf("%w: %s interval must be positive", ErrInvalidConfig, config.Name)
	}
	if task == nil {
		return nil, fmt.Errorf("%w: %s has no task", ErrInvalidConfig, config.Name)
	}
	if config.Timeout <= 0 {
		config.Timeout = config.Interval
	}
	return &Periodic{
		config: config,
		task:   task,
		logger: logger.With(zap.String("task", config.Name)),
	}, nil
}

// Start starts the task loop
func (p *Periodic) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.isRunning {
		p.mu.Unlock()
		return nil
	}
	p.isRunning = true
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go p.runLoop(ctx)

	p.logger.Info("Periodic task started",
		zap.Duration("interval", p.config.Interval),
		zap.Bool("run_on_start", p.config.RunOnStart),
	)
	return nil
}

// Stop stops the loop and waits for an in-flight run, or for ctx to expire
func (p *Periodic) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return nil
	}
	p.isRunning = false
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Periodic task stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow executes the task once on the caller's goroutine
func (p *Periodic) RunNow(ctx context.Context) error {
	return p.runOnce(ctx)
}

// Stats returns the task's run history
func (p *Periodic) Stats() PeriodicStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PeriodicStats{
		Name:      p.config.Name,
		Running:   p.isRunning,
		Interval:  p.config.Interval,
		Runs:      p.runs,
		Failures:  p.failures,
		LastRun:   p.lastRun,
		LastError: p.lastError,
	}
}

func (p *Periodic) runLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	if p.config.RunOnStart {
		_ = p.runOnce(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = p.runOnce(ctx)
		}
	}
}

func (p *Periodic) runOnce(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	start := time.Now()
	err := p.task(runCtx)

	p.mu.Lock()
	p.runs++
	p.lastRun = start
	p.lastError = ""
	if err != nil {
		p.failures++
		p.lastError = err.Error()
	}
	p.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		p.logger.Error("Periodic task failed",
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return err
	}
	p.logger.Debug("Periodic task finished", zap.Duration("duration", time.Since(start)))
	return err
}
