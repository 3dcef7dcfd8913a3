package value

import (
	"context"
	"errors"
	"sync"
)

// Provider is a value that may not be available yet. Expression
// evaluation resolves providers at every read; an unready provider makes
// the render detach.
type Provider interface {
	Value
	// Ready reports whether Resolve will return without suspending.
	Ready() bool
	// Resolve returns the resolved value. It must only be called once
	// Ready reports true.
	Resolve() (Value, error)
}

// Waiter is implemented by providers a blocking driver can wait on.
type Waiter interface {
	Wait(ctx context.Context) error
}

// ErrNotReady is returned by Resolve on a provider that is still pending.
var ErrNotReady = errors.New("value: provider not ready")

// Future is a Provider completed exactly once, from any goroutine.
type Future struct {
	mu    sync.Mutex
	done  chan struct{}
	value Value
	err   error
}

// NewFuture creates a pending future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolved creates a future that is already complete.
func Resolved(v Value) *Future {
	f := NewFuture()
	f.Complete(v)
	return f
}

func (*Future) Kind() Kind { return KindPending }

func (f *Future) String() string {
	if !f.Ready() {
		return "<pending>"
	}
	v, err := f.Resolve()
	if err != nil {
		return "<failed: " + err.Error() + ">"
	}
	return ToString(v)
}

// Complete resolves the future with v. Only the first completion counts;
// later calls report false.
func (f *Future) Complete(v Value) bool {
	if v == nil {
		v = Null
	}
	return f.settle(v, nil)
}

// Fail resolves the future with an error.
func (f *Future) Fail(err error) bool {
	return f.settle(nil, err)
}

func (f *Future) settle(v Value, err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.done:
		return false
	default:
	}
	f.value = v
	f.err = err
	close(f.done)
	return true
}

// Ready reports whether the future has completed.
func (f *Future) Ready() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Resolve returns the completed value or error.
func (f *Future) Resolve() (Value, error) {
	if !f.Ready() {
		return nil, ErrNotReady
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

// Done returns a channel closed on completion.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future completes or ctx ends.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
