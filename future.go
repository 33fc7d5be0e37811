package mcplus

import (
	"context"
	"sync"
)

// Future is the single-assignment result of an asynchronous operation.
type Future[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error

	// abandon is called when a waiter gives up. Set before the future is
	// handed out and never modified afterwards.
	abandon func(error)
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func failedFuture[T any](err error) *Future[T] {
	f := newFuture[T]()
	var zero T
	f.resolve(zero, err)
	return f
}

// resolve sets the result. Only the first call has an effect.
func (f *Future[T]) resolve(val T, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.val = val
		f.err = err
		close(f.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available or ctx is done.
//
// When ctx ends first the operation is abandoned: a request that was not yet
// written is dropped, and a request already on the wire forces the connection
// to reset, since its late reply could otherwise be matched to the next
// request.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	default:
	}

	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		if f.abandon != nil {
			f.abandon(ctx.Err())
		} else {
			var zero T
			f.resolve(zero, ctx.Err())
		}
		<-f.done
		return f.val, f.err
	}
}

// Then calls fn with the result from a new goroutine once it is available.
func (f *Future[T]) Then(fn func(T, error)) {
	go func() {
		<-f.done
		fn(f.val, f.err)
	}()
}

// forward resolves dst with the result of f.
func forward[T any](f, dst *Future[T]) {
	f.Then(func(v T, err error) {
		dst.resolve(v, err)
	})
}
