////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package connection owns the single persistent hub connection: it opens it
// with the current credential, keeps it open across network failures on a
// fixed reconnect schedule and publishes every lifecycle state change.
package connection

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/xx_network/primitives/netTime"

	"gitlab.com/elixxir/hubclient/credential"
	"gitlab.com/elixxir/hubclient/hub"
	"gitlab.com/elixxir/hubclient/stoppable"
)

// ErrNotConnected is returned for calls made while the connection is not in
// steady state.
var ErrNotConnected = errors.New("not connected to the hub")

// Error messages.
const (
	alreadyStartedErr = "connection manager already started"
	tokenErr          = "failed to get credential"
	hookErr           = "failed to prepare new connection"
)

// OnConnected runs on every new connection before it is handed to callers,
// while the state is Resyncing. inv reaches the new connection directly. A
// returned error fails the attempt.
type OnConnected func(ctx context.Context, inv Invoker) error

// Manager keeps one hub connection open.
type Manager struct {
	params      Params
	dialer      Dialer
	handler     hub.Handler
	onConnected OnConnected

	state State
	conn  Conn
	stop  *stoppable.Single
	mux   sync.RWMutex

	callbacks  map[uint64]func(State)
	callbackID uint64
	cbMux      sync.Mutex

	// Replaceable for testing.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewManager builds a Manager. Events pushed by the hub on any connection are
// passed to handler. onConnected may be nil.
func NewManager(params Params, dialer Dialer, handler hub.Handler,
	onConnected OnConnected) *Manager {
	return &Manager{
		params:      params,
		dialer:      dialer,
		handler:     handler,
		onConnected: onConnected,
		state:       Disconnected,
		callbacks:   make(map[uint64]func(State)),
		sleep:       sleep,
	}
}

// AddStateCallback registers f to be called with every new state. Callbacks
// run on the connection goroutine in transition order and must not block.
// Returns an ID for RemoveStateCallback.
func (m *Manager) AddStateCallback(f func(State)) uint64 {
	m.cbMux.Lock()
	defer m.cbMux.Unlock()

	id := m.callbackID
	m.callbacks[id] = f
	m.callbackID++
	return id
}

// RemoveStateCallback removes the callback with the given ID.
func (m *Manager) RemoveStateCallback(id uint64) {
	m.cbMux.Lock()
	delete(m.callbacks, id)
	m.cbMux.Unlock()
}

// State returns the current state.
func (m *Manager) State() State {
	m.mux.RLock()
	defer m.mux.RUnlock()
	return m.state
}

// Start begins connecting in the background using creds for every attempt.
// It never fails for network reasons; the only error is a second Start.
func (m *Manager) Start(ctx context.Context, creds credential.Provider) (
	stoppable.Stoppable, error) {
	m.mux.Lock()
	if m.stop != nil {
		m.mux.Unlock()
		return nil, errors.New(alreadyStartedErr)
	}
	m.stop = stoppable.NewSingle("HubConnection")
	stop := m.stop
	m.mux.Unlock()

	m.setState(Connecting)
	go m.run(ctx, creds, stop)

	return stop, nil
}

// Stop closes the connection, ends the run loop and waits for it. Disconnected
// is published even if closing the connection fails.
func (m *Manager) Stop() error {
	m.mux.RLock()
	stop := m.stop
	m.mux.RUnlock()

	if stop == nil {
		m.setState(Disconnected)
		return nil
	}
	if !stop.IsRunning() {
		return stoppable.WaitForStopped(stop, m.params.StopTimeout)
	}
	if err := stop.Close(); err != nil {
		return err
	}
	return stoppable.WaitForStopped(stop, m.params.StopTimeout)
}

// Invoke calls a hub method on the current connection. It returns
// ErrNotConnected unless the state is Connected.
func (m *Manager) Invoke(ctx context.Context, target string,
	args ...interface{}) (json.RawMessage, error) {
	conn, err := m.current()
	if err != nil {
		jww.WARN.Printf("[CONN] Rejecting %s: %s", target, err)
		return nil, err
	}
	return conn.Invoke(ctx, target, args...)
}

// Send calls a hub method on the current connection without waiting for a
// completion. It returns ErrNotConnected unless the state is Connected.
func (m *Manager) Send(target string, args ...interface{}) error {
	conn, err := m.current()
	if err != nil {
		jww.WARN.Printf("[CONN] Rejecting %s: %s", target, err)
		return err
	}
	return conn.Send(target, args...)
}

func (m *Manager) current() (Conn, error) {
	m.mux.RLock()
	defer m.mux.RUnlock()
	if m.state != Connected || m.conn == nil {
		return nil, ErrNotConnected
	}
	return m.conn, nil
}

// run is the connection goroutine. It connects, waits for the connection to
// end and reconnects until stopped.
func (m *Manager) run(parent context.Context, creds credential.Provider,
	stop *stoppable.Single) {
	ctx, cancel := stop.Context(parent)
	defer cancel()

	attempts := m.params.InitialAttempts
	if attempts < 1 {
		attempts = 1
	}

	// The first connection gets a bounded number of attempts before falling
	// into the unbounded reconnect loop.
	conn, err := m.establish(ctx, creds, Connecting, attempts-1)
	if err != nil && ctx.Err() == nil {
		jww.WARN.Printf("[CONN] Initial connection failed after %d "+
			"attempts, continuing to retry: %+v", attempts, err)
		conn, err = m.reconnect(ctx, creds)
	}

	for err == nil {
		select {
		case <-conn.Done():
			jww.WARN.Printf("[CONN] Connection lost: %+v", conn.Err())
			m.mux.Lock()
			m.conn = nil
			m.mux.Unlock()
			conn, err = m.reconnect(ctx, creds)
		case <-ctx.Done():
			err = ctx.Err()
		}
	}

	m.shutdown()
	stop.ToStopped()
}

func (m *Manager) reconnect(ctx context.Context, creds credential.Provider) (
	Conn, error) {
	return m.establish(ctx, creds, Reconnecting, -1)
}

// establish makes attempts on the reconnect schedule until one succeeds, ctx
// ends or, if maxRetries is not negative, the retries are used up. phase is
// the state published while attempting.
func (m *Manager) establish(ctx context.Context, creds credential.Provider,
	phase State, maxRetries int) (Conn, error) {
	m.setState(phase)

	s := newSchedule(m.params.ReconnectDelays)
	var b backoff.BackOff = s
	if maxRetries >= 0 {
		b = backoff.WithMaxRetries(s, uint64(maxRetries))
	}

	if err := m.sleep(ctx, s.first()); err != nil {
		return nil, err
	}

	var conn Conn
	attempt := 0
	op := func() error {
		attempt++
		c, err := m.attempt(ctx, creds, phase)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, next time.Duration) {
		jww.WARN.Printf("[CONN] Attempt %d failed, retrying in %s: %+v",
			attempt, next, err)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// attempt makes one connection attempt. A dialled connection goes through
// Resyncing and the OnConnected hook before it becomes the current one.
func (m *Manager) attempt(ctx context.Context, creds credential.Provider,
	phase State) (Conn, error) {
	token, err := creds.Token(ctx)
	if err != nil {
		return nil, errors.WithMessage(err, tokenErr)
	}
	if claims, err := credential.Inspect(token); err != nil {
		jww.DEBUG.Printf("[CONN] Could not inspect credential: %+v", err)
	} else if claims.Expired(netTime.Now()) {
		jww.WARN.Printf("[CONN] Credential expired at %s",
			claims.ExpiresAt)
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.params.DialTimeout)
	conn, err := m.dialer.Dial(dialCtx, token, m.handler)
	cancel()
	if err != nil {
		return nil, err
	}

	m.setState(Resyncing)
	if m.onConnected != nil {
		if err = m.onConnected(ctx, conn); err != nil {
			if cErr := conn.Close(); cErr != nil {
				jww.DEBUG.Printf("[CONN] Failed to close rejected "+
					"connection: %+v", cErr)
			}
			m.setState(phase)
			return nil, errors.WithMessage(err, hookErr)
		}
	}

	m.mux.Lock()
	m.conn = conn
	m.mux.Unlock()
	m.setState(Connected)
	jww.INFO.Printf("[CONN] Connected to the hub")
	return conn, nil
}

// shutdown closes the current connection and publishes Disconnected.
func (m *Manager) shutdown() {
	m.mux.Lock()
	conn := m.conn
	m.conn = nil
	m.mux.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			jww.WARN.Printf("[CONN] Failed to close connection: %+v", err)
		}
	}
	m.setState(Disconnected)
	jww.INFO.Printf("[CONN] Disconnected from the hub")
}

// setState publishes s if it differs from the current state.
func (m *Manager) setState(s State) {
	m.mux.Lock()
	if m.state == s {
		m.mux.Unlock()
		return
	}
	prev := m.state
	m.state = s
	m.mux.Unlock()

	jww.DEBUG.Printf("[CONN] State %s -> %s", prev, s)

	m.cbMux.Lock()
	funcs := make([]func(State), 0, len(m.callbacks))
	for _, f := range m.callbacks {
		funcs = append(funcs, f)
	}
	m.cbMux.Unlock()

	for _, f := range funcs {
		f(s)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
