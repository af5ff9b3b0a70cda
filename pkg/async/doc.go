// Package async runs background work on a bounded worker pool.
//
// A Queue never blocks the submitter: when the buffer is full Submit
// returns ErrQueueFull and the caller decides what to do. Each task is
// retried with exponential backoff, recovered from panics and bounded by a
// per-attempt timeout. Tasks that exhaust their retries are logged and
// reported to the queue's FailureFunc.
//
//	q := async.NewQueue(ctx, "email", async.DefaultQueueConfig(), logger, nil)
//	defer q.Shutdown(10 * time.Second)
//
//	err := q.Submit("magic_link", func(ctx context.Context) error {
//		return sender.Send(ctx, msg)
//	})
package async
