package queue

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Queue hands import job ids from the HTTP layer to the worker.
type Queue interface {
	Enqueue(ctx context.Context, jobID uuid.UUID) error
	// Dequeue blocks until a job id is available or ctx is done.
	Dequeue(ctx context.Context) (uuid.UUID, error)
}

// RedisQueue is a FIFO list: LPUSH to enqueue, BRPOP to consume.
type RedisQueue struct {
	client *redis.Client
	key    string
	poll   time.Duration
}

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key, poll: 5 * time.Second}
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return client, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, jobID uuid.UUID) error {
	if err := q.client.LPush(ctx, q.key, jobID.String()).Err(); err != nil {
		return errors.Wrap(err, "enqueue import job")
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (uuid.UUID, error) {
	for {
		res, err := q.client.BRPop(ctx, q.poll, q.key).Result()
		if errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return uuid.Nil, ctx.Err()
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return uuid.Nil, ctx.Err()
			}
			return uuid.Nil, errors.Wrap(err, "dequeue import job")
		}
		// BRPOP replies with [key, value].
		id, err := uuid.Parse(res[1])
		if err != nil {
			return uuid.Nil, errors.Wrapf(err, "bad job id %q on queue", res[1])
		}
		return id, nil
	}
}

// LocalQueue is an in-process queue for single-binary deployments without Redis.
type LocalQueue struct {
	ch chan uuid.UUID
}

func NewLocalQueue(size int) *LocalQueue {
	return &LocalQueue{ch: make(chan uuid.UUID, size)}
}

func (q *LocalQueue) Enqueue(ctx context.Context, jobID uuid.UUID) error {
	select {
	case q.ch <- jobID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *LocalQueue) Dequeue(ctx context.Context) (uuid.UUID, error) {
	select {
	case id := <-q.ch:
		return id, nil
	case <-ctx.Done():
		return uuid.Nil, ctx.Err()
	}
}

// Processor handles one dequeued job.
type Processor interface {
	Process(ctx context.Context, jobID uuid.UUID) error
}

// Worker consumes the queue one job at a time until ctx is cancelled.
type Worker struct {
	queue     Queue
	processor Processor
	log       *logrus.Entry
	backoff   time.Duration
}

func NewWorker(q Queue, p Processor, log *logrus.Entry) *Worker {
	return &Worker{queue: q, processor: p, log: log, backoff: 2 * time.Second}
}

// Run blocks until ctx is done. Job failures are logged, not returned; they
// are already recorded on the job itself.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("import worker started")
	for {
		jobID, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.log.Info("import worker stopped")
				return nil
			}
			w.log.WithError(err).Warn("dequeue failed")
			select {
			case <-time.After(w.backoff):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		log := w.log.WithField("job_id", jobID)
		if err := w.processor.Process(ctx, jobID); err != nil {
			log.WithError(err).Warn("import job failed")
			continue
		}
		log.Info("import job done")
	}
}
