package capability

import (
	"context"
	"fmt"
)

// Result carries the outcome of a non-blocking call.
type Result[T any] struct {
	Value T
	Err   error
}

// Future is the deferred result of a non-blocking capability call. The zero Future resolves to
// ErrUnavailable.
type Future[T any] struct {
	ch <-chan Result[T]
}

// Await blocks until the call resolves or ctx is done.
func (f Future[T]) Await(ctx context.Context) (T, error) {
	var zero T
	if f.ch == nil {
		return zero, ErrUnavailable
	}
	select {
	case r := <-f.ch:
		return r.Value, r.Err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Go runs fn on its own goroutine and returns a Future for its result. The channel is buffered so the
// goroutine exits even if nobody awaits. A panic in fn resolves the Future with an error.
func Go[T any](fn func() (T, error)) Future[T] {
	ch := make(chan Result[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- Result[T]{Err: fmt.Errorf("capability: async call panicked: %v", r)}
			}
		}()
		v, err := fn()
		ch <- Result[T]{Value: v, Err: err}
	}()
	return Future[T]{ch: ch}
}

// Resolved returns a Future that is already complete.
func Resolved[T any](v T, err error) Future[T] {
	ch := make(chan Result[T], 1)
	ch <- Result[T]{Value: v, Err: err}
	return Future[T]{ch: ch}
}
