// Package taskqueue serializes external store writes. Every mutation of the
// remote tabular store goes through one Queue so concurrent conversations
// never interleave writes to the same row.
package taskqueue

import (
	"errors"
	"log/slog"
	"sync"
)

var ErrClosed = errors.New("taskqueue: queue is closed")

// Task is a deferred operation. It runs exactly once, on the queue's worker
// goroutine, and its result is delivered to the submitter alone.
type Task func() (any, error)

type queued struct {
	name string
	fn   Task
	done chan outcome
}

type outcome struct {
	result any
	err    error
}

// Queue executes submitted tasks strictly in submission order, one at a time
// process-wide. The queue is unbounded: backpressure is intentionally absent
// and enqueue never blocks.
type Queue struct {
	logger *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending []*queued
	closed  bool

	wg sync.WaitGroup
}

func New(logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{logger: logger}
	q.cond = sync.NewCond(&q.mu)
	q.wg.Add(1)
	go q.run()
	return q
}

// Submit appends fn to the queue and blocks until it ran. A failing task
// returns its error here and never blocks tasks queued behind it.
func (q *Queue) Submit(name string, fn Task) (any, error) {
	if fn == nil {
		return nil, errors.New("taskqueue: nil task")
	}
	item := &queued{name: name, fn: fn, done: make(chan outcome, 1)}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrClosed
	}
	q.pending = append(q.pending, item)
	depth := len(q.pending)
	q.cond.Signal()
	q.mu.Unlock()

	q.logger.Info("queue_task_enqueued", "task", name, "depth", depth)

	out := <-item.done
	return out.result, out.err
}

// Depth reports the number of tasks waiting for their turn.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops accepting tasks, drains the ones already queued, and waits for
// the worker to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.cond.Signal()
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		item := q.pending[0]
		q.pending = q.pending[1:]
		depth := len(q.pending)
		q.mu.Unlock()

		q.logger.Info("queue_task_started", "task", item.name, "depth", depth)
		result, err := item.fn()
		if err != nil {
			q.logger.Warn("queue_task_failed", "task", item.name, "error", err.Error())
		} else {
			q.logger.Info("queue_task_done", "task", item.name)
		}
		item.done <- outcome{result: result, err: err}
	}
}
