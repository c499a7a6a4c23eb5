package dlq_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/gradersync/internal/dlq"
	"github.com/telhawk-systems/gradersync/internal/logging"
	"github.com/telhawk-systems/gradersync/internal/model"
)

func rejection(ts time.Time, user, reason string) model.Rejection {
	return model.Rejection{
		RunID:     "run-1",
		Timestamp: ts,
		UserID:    user,
		Reason:    reason,
		Error:     "boom",
		Record:    model.RawAttempt{"lti_user_id": user, "is_correct": "yes"},
	}
}

func TestFileQueue_WriteListPurge(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "dlq")

	q, err := dlq.NewFileQueue(dir, logging.Discard())
	require.NoError(t, err)
	defer q.Close()

	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, q.Write(ctx, rejection(base.Add(time.Second), "u2", model.ReasonInvalidCorrectness)))
	require.NoError(t, q.Write(ctx, rejection(base, "u1", model.ReasonPayloadMissing)))
	require.NoError(t, q.Write(ctx, rejection(base.Add(2*time.Second), "u3", model.ReasonMalformedPayload)))

	all, err := q.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "u1", all[0].UserID, "entries are listed oldest first")
	assert.Equal(t, "u2", all[1].UserID)
	assert.Equal(t, "u3", all[2].UserID)
	assert.Equal(t, "run-1", all[0].RunID)
	assert.Equal(t, "yes", all[1].Record["is_correct"])
	assert.True(t, base.Equal(all[0].Timestamp))

	limited, err := q.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	stats := q.Stats()
	assert.Equal(t, true, stats["enabled"])
	assert.Equal(t, uint64(3), stats["written"])
	assert.Equal(t, 3, stats["pending_files"])

	n, err := q.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	all, err = q.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestFileQueue_SkipsForeignAndCorruptFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	q, err := dlq.NewFileQueue(dir, logging.Discard())
	require.NoError(t, err)

	require.NoError(t, q.Write(ctx, rejection(time.Now(), "u1", model.ReasonPayloadMissing)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("keep"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rejected_0000000000000000001_000000_x.json"), []byte("{not json"), 0o644))

	all, err := q.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "u1", all[0].UserID)

	n, err := q.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "corrupt entries are purged too")
	assert.FileExists(t, filepath.Join(dir, "README.txt"))
}

func TestFileQueue_Nil(t *testing.T) {
	var q *dlq.FileQueue
	ctx := context.Background()

	assert.NoError(t, q.Write(ctx, model.Rejection{}))

	_, err := q.List(ctx, 0)
	assert.ErrorIs(t, err, dlq.ErrDisabled)

	_, err = q.Purge(ctx)
	assert.ErrorIs(t, err, dlq.ErrDisabled)

	assert.Equal(t, false, q.Stats()["enabled"])
}

var (
	_ dlq.Queue = (*dlq.FileQueue)(nil)
	_ dlq.Queue = (*dlq.JetStreamQueue)(nil)
)
