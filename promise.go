package luckperms

import (
	"context"
	"sync"
)

// Promise is the deferred result of an asynchronous operation. Callers may
// block on it ([Promise.Join], [Promise.Wait]) or attach continuations
// ([Promise.Then]); both observe the same ordering guarantee: by the time a
// Promise completes, every side effect of the operation (data snapshot
// publication, cache invalidation, persistence scheduling) is already
// visible to other goroutines.
//
// A Promise completes exactly once and never changes afterwards.
type Promise[T any] struct {
	done chan struct{}

	mu        sync.Mutex
	value     T
	err       error
	completed bool
	callbacks []func(T, error)
}

func newPromise[T any]() *Promise[T] {
	return &Promise[T]{done: make(chan struct{})}
}

// resolved returns an already-completed Promise.
func resolved[T any](v T) *Promise[T] {
	p := newPromise[T]()
	p.complete(v, nil)
	return p
}

// failed returns an already-completed Promise carrying an error.
func failed[T any](err error) *Promise[T] {
	p := newPromise[T]()
	var zero T
	p.complete(zero, err)
	return p
}

// complete settles the promise. Continuations run synchronously in the
// completing goroutine, in attachment order. Completing twice is a
// programming error upstream and is ignored.
func (p *Promise[T]) complete(v T, err error) {
	p.mu.Lock()
	if p.completed {
		p.mu.Unlock()
		return
	}
	p.value, p.err = v, err
	p.completed = true
	callbacks := p.callbacks
	p.callbacks = nil
	close(p.done)
	p.mu.Unlock()

	for _, fn := range callbacks {
		fn(v, err)
	}
}

// Join blocks until the promise completes and returns its result.
func (p *Promise[T]) Join() (T, error) {
	<-p.done
	return p.value, p.err
}

// Wait blocks until the promise completes or ctx is done. An already
// completed promise always returns its result, even when ctx is already
// done; otherwise the select between the two would be a coin flip. The
// underlying operation is not cancelled; a later Join still returns its
// result.
func (p *Promise[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.value, p.err
	default:
	}
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Then attaches a continuation. If the promise is already complete the
// continuation runs inline before Then returns; otherwise it runs in the
// completing goroutine. Continuations must not block.
func (p *Promise[T]) Then(fn func(T, error)) {
	p.mu.Lock()
	if !p.completed {
		p.callbacks = append(p.callbacks, fn)
		p.mu.Unlock()
		return
	}
	v, err := p.value, p.err
	p.mu.Unlock()
	fn(v, err)
}

// Done returns a channel closed on completion, for select loops.
func (p *Promise[T]) Done() <-chan struct{} {
	return p.done
}
