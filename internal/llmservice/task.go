package llmservice

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned by Task.Await when the call ran past its deadline.
var ErrTimeout = errors.New("remote call timed out")

// Task is a remote call running in the background with its own deadline.
type Task[T any] struct {
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	done    chan struct{}
	val     T
	err     error
}

// Run starts fn in a goroutine. The context passed to fn is cancelled when
// the parent is, when timeout elapses (if positive), or on Task.Cancel.
func Run[T any](parent context.Context, timeout time.Duration, fn func(context.Context) (T, error)) *Task[T] {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	t := &Task[T]{ctx: ctx, cancel: cancel, timeout: timeout, done: make(chan struct{})}
	go func() {
		defer t.cancel()
		defer close(t.done)
		t.val, t.err = fn(ctx)
	}()
	return t
}

// Done is closed once fn has returned.
func (t *Task[T]) Done() <-chan struct{} {
	return t.done
}

// Cancel abandons the call. Await then returns context.Canceled unless fn
// had already finished.
func (t *Task[T]) Cancel() {
	t.cancel()
}

// Await blocks until fn returns or the task's context ends, whichever is first.
func (t *Task[T]) Await() (T, error) {
	select {
	case <-t.done:
		return t.val, t.wrap(t.err)
	case <-t.ctx.Done():
		select {
		case <-t.done:
			return t.val, t.wrap(t.err)
		default:
		}
		var zero T
		return zero, t.wrap(t.ctx.Err())
	}
}

func (t *Task[T]) wrap(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTimeout, t.timeout)
	}
	return err
}
