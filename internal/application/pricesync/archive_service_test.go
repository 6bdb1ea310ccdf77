package pricesync

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func closedConflicts(n int) []*pricesync.Conflict {
	out := make([]*pricesync.Conflict, n)
	for i := range out {
		p := newTestProduct(uuid.New(), "E-"+uuid.NewString()[:4], "100.00", 10)
		c := priceConflict(p, "130.00")
		_ = c.Ignore("stale", "ops")
		out[i] = c
	}
	return out
}

func TestArchiveService_ExportsThenMoves(t *testing.T) {
	conflicts := new(MockConflictRepository)
	store := new(MockArchiveStore)
	svc := NewArchiveService(conflicts, store, 30*24*time.Hour, 2, zap.NewNop())
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	first, second := closedConflicts(2), closedConflicts(1)
	cutoff := now.Add(-30 * 24 * time.Hour)
	conflicts.On("FindArchivable", mock.Anything, cutoff, 2).Return(first, nil).Once()
	conflicts.On("FindArchivable", mock.Anything, cutoff, 2).Return(second, nil).Once()
	conflicts.On("MoveToHistory", mock.Anything, first).Return(int64(2), nil).Once()
	conflicts.On("MoveToHistory", mock.Anything, second).Return(int64(1), nil).Once()

	var lines []ConflictResponse
	store.On("Put", mock.Anything, mock.MatchedBy(func(key string) bool {
		return strings.HasPrefix(key, "conflicts/2026-03-04/") && strings.HasSuffix(key, ".jsonl")
	}), mock.Anything, "application/x-ndjson").Run(func(args mock.Arguments) {
		body, err := io.ReadAll(args.Get(2).(io.Reader))
		require.NoError(t, err)
		sc := bufio.NewScanner(strings.NewReader(string(body)))
		for sc.Scan() {
			var r ConflictResponse
			require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
			lines = append(lines, r)
		}
	}).Return("s3://archive/key", nil).Twice()

	n, err := svc.ArchiveTerminal(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.Len(t, lines, 3)
	assert.Equal(t, first[0].ID, lines[0].ID)
	assert.Equal(t, "ignored", lines[0].Status)
	conflicts.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestArchiveService_ExportFailureKeepsRows(t *testing.T) {
	conflicts := new(MockConflictRepository)
	store := new(MockArchiveStore)
	svc := NewArchiveService(conflicts, store, time.Hour, 0, zap.NewNop())

	conflicts.On("FindArchivable", mock.Anything, mock.Anything, 500).Return(closedConflicts(1), nil)
	store.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", assert.AnError)

	n, err := svc.ArchiveTerminal(context.Background())

	assert.ErrorIs(t, err, assert.AnError)
	assert.Zero(t, n)
	conflicts.AssertNotCalled(t, "MoveToHistory", mock.Anything, mock.Anything)
}

func TestArchiveService_WithoutStoreOnlyMoves(t *testing.T) {
	conflicts := new(MockConflictRepository)
	svc := NewArchiveService(conflicts, nil, time.Hour, 10, zap.NewNop())
	batch := closedConflicts(3)
	conflicts.On("FindArchivable", mock.Anything, mock.Anything, 10).Return(batch, nil).Once()
	conflicts.On("MoveToHistory", mock.Anything, batch).Return(int64(3), nil).Once()

	n, err := svc.ArchiveTerminal(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
