package pricesync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const ndjsonContentType = "application/x-ndjson"

// ArchiveService moves closed conflicts past retention out of the live
// table, exporting them first when a store is configured
type ArchiveService struct {
	conflicts pricesync.ConflictRepository
	store     pricesync.ArchiveStore
	retention time.Duration
	batchSize int
	logger    *zap.Logger
	now       func() time.Time
}

// NewArchiveService creates an ArchiveService. store may be nil.
func NewArchiveService(
	conflicts pricesync.ConflictRepository,
	store pricesync.ArchiveStore,
	retention time.Duration,
	batchSize int,
	logger *zap.Logger,
) *ArchiveService {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &ArchiveService{
		conflicts: conflicts,
		store:     store,
		retention: retention,
		batchSize: batchSize,
		logger:    logger,
		now:       time.Now,
	}
}

// ArchiveTerminal archives every resolved or ignored conflict closed before
// the retention cutoff and returns how many rows moved
func (s *ArchiveService) ArchiveTerminal(ctx context.Context) (int64, error) {
	now := s.now()
	cutoff := now.Add(-s.retention)
	var total int64
	for {
		batch, err := s.conflicts.FindArchivable(ctx, cutoff, s.batchSize)
		if err != nil {
			return total, err
		}
		if len(batch) == 0 {
			break
		}
		if s.store != nil {
			if err := s.export(ctx, now, batch); err != nil {
				return total, err
			}
		}
		n, err := s.conflicts.MoveToHistory(ctx, batch)
		if err != nil {
			return total, err
		}
		total += n
		if len(batch) < s.batchSize {
			break
		}
	}
	if total > 0 {
		s.logger.Info("conflicts archived",
			zap.Int64("count", total),
			zap.Time("cutoff", cutoff))
	}
	return total, nil
}

func (s *ArchiveService) export(ctx context.Context, now time.Time, batch []*pricesync.Conflict) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, c := range batch {
		if err := enc.Encode(ToConflictResponse(c)); err != nil {
			return fmt.Errorf("encode conflict %s: %w", c.ID, err)
		}
	}
	key := fmt.Sprintf("conflicts/%s/%s.jsonl", now.UTC().Format("2006-01-02"), uuid.New())
	locator, err := s.store.Put(ctx, key, &buf, ndjsonContentType)
	if err != nil {
		return fmt.Errorf("export conflicts: %w", err)
	}
	s.logger.Debug("conflicts exported", zap.String("location", locator), zap.Int("count", len(batch)))
	return nil
}
