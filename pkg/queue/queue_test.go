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
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewQueue(client, nil), mr
}

func TestEnqueueDequeueArchiveUpload(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	payload := ArchiveUploadPayload{
		EventID:     "evt-1",
		EventName:   "Cup Final",
		SafeName:    "Cup_Final",
		ArchivePath: "/media/sports/Cup_Final_20250101_120000/Cup_Final.mp4",
		Status:      "completed",
	}
	require.NoError(t, q.EnqueueArchiveUpload(ctx, payload))

	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, JobTypeArchiveUpload, job.Type)
	assert.Equal(t, 0, job.Attempt)
	assert.NotEmpty(t, job.ID)

	var got ArchiveUploadPayload
	require.NoError(t, json.Unmarshal(job.Payload, &got))
	assert.Equal(t, payload, got)
}

func TestDequeueEmptyReturnsNil(t *testing.T) {
	q, _ := newTestQueue(t)

	job, err := q.Dequeue(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestDequeueSkipsMalformedEntry(t *testing.T) {
	q, mr := newTestQueue(t)
	_, err := mr.Push(QueueArchives, "not json")
	require.NoError(t, err)

	job, err := q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestRetryMovesToDLQAfterMaxRetries(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()
	job := &Job{ID: "job-1", Type: JobTypeArchiveUpload, Payload: json.RawMessage(`{}`)}

	for i := 1; i < MaxRetries; i++ {
		require.NoError(t, q.Retry(ctx, job))
		assert.Equal(t, i, job.Attempt)
	}
	items, err := mr.List(QueueArchives)
	require.NoError(t, err)
	assert.Len(t, items, MaxRetries-1)
	assert.False(t, mr.Exists(QueueDLQ))

	require.NoError(t, q.Retry(ctx, job))
	dlq, err := mr.List(QueueDLQ)
	require.NoError(t, err)
	require.Len(t, dlq, 1)

	var dead Job
	require.NoError(t, json.Unmarshal([]byte(dlq[0]), &dead))
	assert.Equal(t, "job-1", dead.ID)
	assert.Equal(t, MaxRetries, dead.Attempt)
}
