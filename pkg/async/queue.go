package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/platinummonkey/claimgate/pkg/observability"
)

var (
	// ErrQueueFull is returned when the task buffer has no room.
	ErrQueueFull = errors.New("queue full")
	// ErrQueueClosed is returned after Shutdown.
	ErrQueueClosed = errors.New("queue shut down")
)

// QueueConfig sizes a Queue.
type QueueConfig struct {
	Workers     int
	Capacity    int
	TaskTimeout time.Duration
	Retry       RetryConfig
}

// DefaultQueueConfig returns the defaults used for outbound email.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Workers:     4,
		Capacity:    256,
		TaskTimeout: 30 * time.Second,
		Retry:       DefaultRetryConfig(),
	}
}

type task struct {
	name string
	fn   func(context.Context) error
}

// FailureFunc is called once a task has exhausted its retries.
type FailureFunc func(task string, attempts int, err error)

// Queue is a bounded worker pool that retries failed tasks with exponential
// backoff. Submit never blocks.
type Queue struct {
	name      string
	config    QueueConfig
	retry     *RetryPolicy
	logger    *observability.Logger
	onFailure FailureFunc

	workCh chan task
	doneCh chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.RWMutex
	closed       bool
	shutdownOnce sync.Once
}

// NewQueue starts config.Workers workers. onFailure may be nil.
func NewQueue(ctx context.Context, name string, config QueueConfig, logger *observability.Logger, onFailure FailureFunc) *Queue {
	defaults := DefaultQueueConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.Capacity <= 0 {
		config.Capacity = defaults.Capacity
	}
	if config.TaskTimeout <= 0 {
		config.TaskTimeout = defaults.TaskTimeout
	}

	ctx, cancel := context.WithCancel(ctx)
	q := &Queue{
		name:      name,
		config:    config,
		retry:     NewRetryPolicy(config.Retry),
		logger:    logger.WithField("queue", name),
		onFailure: onFailure,
		workCh:    make(chan task, config.Capacity),
		doneCh:    make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < config.Workers; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				q.worker(id)
			}(i)
		}
		wg.Wait()
		close(q.doneCh)
	}()

	return q
}

// Submit enqueues a task without blocking.
func (q *Queue) Submit(name string, fn func(context.Context) error) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.workCh <- task{name: name, fn: fn}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	return len(q.workCh)
}

// Shutdown stops accepting tasks and waits up to timeout for the queue to
// drain. Tasks still running after the timeout are cancelled.
func (q *Queue) Shutdown(timeout time.Duration) error {
	var shutdownErr error
	q.shutdownOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.workCh)
		q.mu.Unlock()

		select {
		case <-q.doneCh:
			q.cancel()
		case <-time.After(timeout):
			q.cancel()
			shutdownErr = fmt.Errorf("%s queue shutdown timed out after %v", q.name, timeout)
		}
	})
	return shutdownErr
}

func (q *Queue) worker(id int) {
	for t := range q.workCh {
		q.run(id, t)
	}
}

func (q *Queue) run(id int, t task) {
	attempts, err := q.retry.Do(q.ctx, func(ctx context.Context) (err error) {
		ctx, cancel := context.WithTimeout(ctx, q.config.TaskTimeout)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				q.logger.WithFields(map[string]interface{}{
					"task":   t.name,
					"worker": id,
					"stack":  string(debug.Stack()),
				}).Errorf("panic in task: %v", r)
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return t.fn(ctx)
	})
	if err == nil {
		return
	}

	q.logger.WithError(err).WithFields(map[string]interface{}{
		"task":     t.name,
		"attempts": attempts,
	}).Error("task failed")
	if q.onFailure != nil {
		q.onFailure(t.name, attempts, err)
	}
}
