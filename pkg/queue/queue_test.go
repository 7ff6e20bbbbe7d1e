package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewQueue(rdb, nil), mr
}

func TestEnqueueDequeueRoomArchive(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	closedAt := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	require.NoError(t, q.EnqueueRoomArchive(ctx, RoomArchivePayload{RoomID: "room-1", ClosedAt: closedAt}))

	job, key, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, QueueArchives, key)
	assert.Equal(t, JobTypeRoomArchive, job.Type)
	assert.Zero(t, job.Attempt)

	var p RoomArchivePayload
	require.NoError(t, json.Unmarshal(job.Payload, &p))
	assert.Equal(t, "room-1", p.RoomID)
	assert.True(t, closedAt.Equal(p.ClosedAt))
}

func TestDequeueDropsUnreadableEntry(t *testing.T) {
	q, mr := newTestQueue(t)
	_, err := mr.RPush(QueueArchives, "{not json")
	require.NoError(t, err)

	job, _, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestRetryMovesToDLQAfterMaxRetries(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()
	job := &Job{ID: "j1", Type: JobTypeRoomArchive, Payload: json.RawMessage(`{}`)}

	for i := 1; i < MaxRetries; i++ {
		require.NoError(t, q.Retry(ctx, job))
		assert.Equal(t, i, job.Attempt)
	}
	archives, err := mr.List(QueueArchives)
	require.NoError(t, err)
	assert.Len(t, archives, MaxRetries-1)
	assert.False(t, mr.Exists(QueueDLQ))

	require.NoError(t, q.Retry(ctx, job))
	dlq, err := mr.List(QueueDLQ)
	require.NoError(t, err)
	require.Len(t, dlq, 1)

	var dead Job
	require.NoError(t, json.Unmarshal([]byte(dlq[0]), &dead))
	assert.Equal(t, MaxRetries, dead.Attempt)
}

func TestDequeueTimesOutEmpty(t *testing.T) {
	q, _ := newTestQueue(t)
	q.WithBlockTimeout(time.Second)

	job, key, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.Empty(t, key)
}
