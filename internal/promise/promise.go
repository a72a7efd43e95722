// Package promise implements the single-assignment future used to hand
// pipelined command results back to callers.  A promise is resolved or
// rejected exactly once; callbacks registered after settlement fire
// immediately.
package promise

import (
	"errors"
	"sync"
)

var (
	ErrAlreadySettled = errors.New("promise: already settled")
	ErrNotReady       = errors.New("promise: not ready")
)

type state int

const (
	pending state = iota
	resolved
	rejected
)

// Promise is a one-shot deferred value.  The resolver side (a command
// buffer draining responses) and the observer side (the caller) may hold
// references concurrently; after settlement the promise is immutable.
type Promise[T any] struct {
	mu        sync.Mutex
	state     state
	value     T
	err       error
	onSuccess []func(T)
	onFailure []func(error)
}

// New returns a promise in the pending state.
func New[T any]() *Promise[T] {
	return &Promise[T]{}
}

// Resolved returns a promise already resolved with v.
func Resolved[T any](v T) *Promise[T] {
	p := New[T]()
	_ = p.Resolve(v)
	return p
}

// Rejected returns a promise already rejected with err.
func Rejected[T any](err error) *Promise[T] {
	p := New[T]()
	_ = p.Reject(err)
	return p
}

// Resolve transitions the promise to its terminal success state and fires
// the registered success callbacks in registration order.  Settling twice
// returns ErrAlreadySettled.
func (p *Promise[T]) Resolve(v T) error {
	p.mu.Lock()
	if p.state != pending {
		p.mu.Unlock()
		return ErrAlreadySettled
	}
	p.state = resolved
	p.value = v
	cbs := p.onSuccess
	p.onSuccess = nil
	p.onFailure = nil
	p.mu.Unlock()

	for _, fn := range cbs {
		fn(v)
	}
	return nil
}

// Reject transitions the promise to its terminal failure state and fires
// the registered failure callbacks in registration order.
func (p *Promise[T]) Reject(err error) error {
	p.mu.Lock()
	if p.state != pending {
		p.mu.Unlock()
		return ErrAlreadySettled
	}
	p.state = rejected
	p.err = err
	cbs := p.onFailure
	p.onSuccess = nil
	p.onFailure = nil
	p.mu.Unlock()

	for _, fn := range cbs {
		fn(err)
	}
	return nil
}

// OnSuccess registers fn to run when the promise resolves.  If the
// promise already resolved, fn runs immediately on the calling goroutine.
func (p *Promise[T]) OnSuccess(fn func(T)) *Promise[T] {
	p.mu.Lock()
	switch p.state {
	case pending:
		p.onSuccess = append(p.onSuccess, fn)
		p.mu.Unlock()
	case resolved:
		v := p.value
		p.mu.Unlock()
		fn(v)
	default:
		p.mu.Unlock()
	}
	return p
}

// OnFailure registers fn to run when the promise rejects.  If the
// promise already rejected, fn runs immediately on the calling goroutine.
func (p *Promise[T]) OnFailure(fn func(error)) *Promise[T] {
	p.mu.Lock()
	switch p.state {
	case pending:
		p.onFailure = append(p.onFailure, fn)
		p.mu.Unlock()
	case rejected:
		err := p.err
		p.mu.Unlock()
		fn(err)
	default:
		p.mu.Unlock()
	}
	return p
}

// Settled reports whether the promise reached a terminal state.
func (p *Promise[T]) Settled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state != pending
}

// Value returns the resolved value.  It returns ErrNotReady while the
// promise is pending and the rejection error after a reject.
func (p *Promise[T]) Value() (T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var zero T
	switch p.state {
	case pending:
		return zero, ErrNotReady
	case rejected:
		return zero, p.err
	}
	return p.value, nil
}

// Err returns the rejection error, ErrNotReady while pending, or nil
// after a resolve.
func (p *Promise[T]) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case pending:
		return ErrNotReady
	case rejected:
		return p.err
	}
	return nil
}

// All combines a keyed collection of promises into one promise that
// resolves with the full result map once every child resolved, or rejects
// with the first child rejection.
func All[K comparable, T any](children map[K]*Promise[T]) *Promise[map[K]T] {
	combined := New[map[K]T]()
	results := make(map[K]T, len(children))
	if len(children) == 0 {
		_ = combined.Resolve(results)
		return combined
	}

	var mu sync.Mutex
	remaining := len(children)

	for key, child := range children {
		key := key
		child.OnSuccess(func(v T) {
			mu.Lock()
			results[key] = v
			remaining--
			done := remaining == 0
			mu.Unlock()
			if done {
				_ = combined.Resolve(results)
			}
		})
		child.OnFailure(func(err error) {
			_ = combined.Reject(err)
		})
	}
	return combined
}
