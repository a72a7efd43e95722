package client

import (
	"time"
)

// session is the contract a MapManager drives: both mapping and fanout
// clients settle their outstanding work through Join or Cancel.
type session interface {
	Join(timeout time.Duration) error
	Cancel()
}

// MapManager scopes a mapping or fanout session.  Run guarantees the
// terminal step: a normal return drains everything still pending within
// the configured timeout, an error or panic cancels the session.
type MapManager[C session] struct {
	client  C
	timeout time.Duration
	entered time.Time
}

func newMapManager[C session](client C, timeout time.Duration) *MapManager[C] {
	return &MapManager[C]{client: client, timeout: timeout}
}

// Client exposes the managed session client for callers that need to
// hold it beyond the Run callback.  The caller then owns joining or
// cancelling.
func (m *MapManager[C]) Client() C { return m.client }

// Run executes fn with the session client.  When fn returns nil the
// session is joined with whatever remains of the configured timeout
// (at least one second); when fn returns an error or panics the session
// is cancelled and the failure passed through.  A join timeout cancels
// the leftovers so no connections leak.
func (m *MapManager[C]) Run(fn func(C) error) error {
	m.entered = time.Now()

	defer func() {
		if r := recover(); r != nil {
			m.client.Cancel()
			panic(r)
		}
	}()

	if err := fn(m.client); err != nil {
		m.client.Cancel()
		return err
	}

	timeout := m.timeout
	if timeout > 0 {
		remaining := timeout - time.Since(m.entered)
		if remaining < time.Second {
			remaining = time.Second
		}
		timeout = remaining
	}
	if err := m.client.Join(timeout); err != nil {
		m.client.Cancel()
		return err
	}
	return nil
}
