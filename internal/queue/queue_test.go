package queue

import (
	"context"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type recordingProcessor struct {
	mu   sync.Mutex
	seen []uuid.UUID
	fail map[uuid.UUID]bool
	done chan struct{}
	want int
}

func (p *recordingProcessor) Process(_ context.Context, id uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, id)
	if len(p.seen) == p.want {
		close(p.done)
	}
	if p.fail[id] {
		return errors.New("job failed")
	}
	return nil
}

func TestLocalQueue_FIFO(t *testing.T) {
	q := NewLocalQueue(4)
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()
	require.NoError(t, q.Enqueue(ctx, a))
	require.NoError(t, q.Enqueue(ctx, b))

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, a, got)
	got, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, b, got)
}

func TestLocalQueue_DequeueHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewLocalQueue(1).Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWorker_ProcessesSequentiallyAndSurvivesFailures(t *testing.T) {
	q := NewLocalQueue(8)
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	proc := &recordingProcessor{fail: map[uuid.UUID]bool{ids[0]: true}, done: make(chan struct{}), want: len(ids)}
	for _, id := range ids {
		require.NoError(t, q.Enqueue(context.Background(), id))
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- NewWorker(q, proc, testLogger()).Run(ctx) }()

	select {
	case <-proc.done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not drain the queue")
	}
	cancel()
	require.NoError(t, <-errCh)
	assert.Equal(t, ids, proc.seen)
}

// TestRedisQueue_Integration needs a live server at REDIS_URL.
func TestRedisQueue_Integration(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := Connect(ctx, url)
	if err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	defer client.Close()

	key := "investor-import-test-" + uuid.NewString()
	defer client.Del(context.Background(), key)
	q := NewRedisQueue(client, key)

	first, second := uuid.New(), uuid.New()
	require.NoError(t, q.Enqueue(ctx, first))
	require.NoError(t, q.Enqueue(ctx, second))

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, got)
	got, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, got)
}
