package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueFailsImmediatelyWhenFull(t *testing.T) {
	t.Parallel()
	q := NewMemoryQueue(2)

	require.NoError(t, q.Enqueue(Envelope{JobID: uuid.New()}))
	require.NoError(t, q.Enqueue(Envelope{JobID: uuid.New()}))
	assert.ErrorIs(t, q.Enqueue(Envelope{JobID: uuid.New()}), ErrFull)
	assert.Equal(t, 2, q.Depth())
}

func TestDequeueReturnsInOrder(t *testing.T) {
	t.Parallel()
	q := NewMemoryQueue(4)
	first, second := uuid.New(), uuid.New()
	require.NoError(t, q.Enqueue(Envelope{JobID: first}))
	require.NoError(t, q.Enqueue(Envelope{JobID: second}))

	e, ok := q.Dequeue(context.Background())
	require.True(t, ok)
	assert.Equal(t, first, e.JobID)
	e, ok = q.Dequeue(context.Background())
	require.True(t, ok)
	assert.Equal(t, second, e.JobID)
}

func TestDequeueStopsOnCancel(t *testing.T) {
	t.Parallel()
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, ok := q.Dequeue(ctx)
	assert.False(t, ok)
}

func TestTrackerMarksExactlyOnce(t *testing.T) {
	t.Parallel()
	tr := NewTracker()
	id := uuid.New()

	assert.False(t, tr.AlreadyProcessed(id))
	assert.True(t, tr.MarkProcessed(id))
	assert.False(t, tr.MarkProcessed(id))
	assert.True(t, tr.AlreadyProcessed(id))
}
