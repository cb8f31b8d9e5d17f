////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package hub is a client for the JSON hub protocol spoken by the messaging
// backend over a websocket. It multiplexes request/response invocations and
// server pushed events over one connection and keeps the connection alive with
// pings.
package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"go.uber.org/ratelimit"
)

var (
	// ErrClosed is returned for calls on a connection closed by Close.
	ErrClosed = errors.New("hub connection closed")

	// ErrUnauthorized is returned by Dial when the hub rejects the
	// credential.
	ErrUnauthorized = errors.New("hub rejected the credential")
)

// Error messages.
const (
	dialErr        = "failed to dial hub at %s"
	handshakeErr   = "failed hub handshake with %s"
	invocationErr  = "hub invocation %s failed: %s"
	serverCloseErr = "hub closed the connection: %s"
	readErr        = "failed to read from hub"
	writeErr       = "failed to write to hub"
)

// Handler receives the events pushed by the hub. It is called from the read
// pump, one event at a time in arrival order. It may block to apply
// backpressure: while it does no further frames are read, which also holds
// back the completions of pending invocations, so it must never wait on an
// invocation over the same connection.
type Handler func(target string, args []json.RawMessage)

// completion is the outcome of an invocation.
type completion struct {
	result json.RawMessage
	err    error
}

// Conn is an open hub connection.
type Conn struct {
	ws      *websocket.Conn
	params  Params
	handler Handler
	limiter ratelimit.Limiter

	out chan []byte

	pending    map[string]chan completion
	pendingMux sync.Mutex

	done      chan struct{}
	err       error
	closeOnce sync.Once
}

// Dial opens a websocket to the hub at rawURL, authenticates with the bearer
// token and performs the protocol handshake. Events pushed by the hub are
// passed to handler.
func Dial(ctx context.Context, rawURL, token string, params Params,
	handler Handler) (*Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.WithMessagef(err, dialErr, rawURL)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	// Browsers cannot set headers on a websocket, so hubs also accept the
	// token as a query parameter.
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
		q := u.Query()
		q.Set("access_token", token)
		u.RawQuery = q.Encode()
	}

	params = params.withDefaults()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: params.HandshakeTimeout,
	}
	jww.DEBUG.Printf("[HUB] Dialing %s%s", u.Host, u.Path)
	ws, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized ||
			resp.StatusCode == http.StatusForbidden) {
			return nil, errors.WithMessagef(ErrUnauthorized, dialErr, rawURL)
		}
		return nil, errors.WithMessagef(err, dialErr, rawURL)
	}

	leftover, err := handshake(ws, params)
	if err != nil {
		_ = ws.Close()
		return nil, errors.WithMessagef(err, handshakeErr, rawURL)
	}

	if handler == nil {
		handler = func(string, []json.RawMessage) {}
	}

	c := &Conn{
		ws:      ws,
		params:  params,
		handler: handler,
		limiter: ratelimit.NewUnlimited(),
		out:     make(chan []byte, params.SendBufferSize),
		pending: make(map[string]chan completion),
		done:    make(chan struct{}),
	}
	if params.MaxFramesPerSecond > 0 {
		c.limiter = ratelimit.New(params.MaxFramesPerSecond)
	}

	for _, rec := range leftover {
		c.dispatch(rec)
	}

	go c.readPump()
	go c.writePump()

	jww.INFO.Printf("[HUB] Connected to %s", u.Host)
	return c, nil
}

// handshake selects the JSON protocol and waits for the hub to accept it.
// Records that arrived in the same frame as the response are returned.
func handshake(ws *websocket.Conn, params Params) ([][]byte, error) {
	req, err := record(handshakeRequest{Protocol: "json", Version: 1})
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(params.HandshakeTimeout)
	if err = ws.SetWriteDeadline(deadline); err != nil {
		return nil, err
	}
	if err = ws.WriteMessage(websocket.TextMessage, req); err != nil {
		return nil, err
	}

	if err = ws.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	_, frame, err := ws.ReadMessage()
	if err != nil {
		return nil, err
	}

	records := splitRecords(frame)
	if len(records) == 0 {
		return nil, errors.New("empty handshake response")
	}
	if err = parseHandshake(records[0]); err != nil {
		return nil, err
	}
	return records[1:], nil
}

// Invoke calls a hub method and waits for its completion. The returned error
// carries the hub's error message if the invocation failed on the hub.
func (c *Conn) Invoke(ctx context.Context, target string,
	args ...interface{}) (json.RawMessage, error) {
	id := uuid.NewString()
	rec, err := record(invocation{Type: invocationType, InvocationID: id,
		Target: target, Arguments: arguments(args)})
	if err != nil {
		return nil, err
	}

	ch := make(chan completion, 1)
	c.pendingMux.Lock()
	if c.isDone() {
		c.pendingMux.Unlock()
		return nil, c.Err()
	}
	c.pending[id] = ch
	c.pendingMux.Unlock()

	jww.TRACE.Printf("[HUB] Invoking %s (%s)", target, id)
	if err = c.enqueue(ctx, rec); err != nil {
		c.forget(id)
		return nil, err
	}

	select {
	case res := <-ch:
		return res.result, res.err
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

// Send calls a hub method without waiting for a completion.
func (c *Conn) Send(target string, args ...interface{}) error {
	rec, err := record(invocation{Type: invocationType, Target: target,
		Arguments: arguments(args)})
	if err != nil {
		return err
	}
	return c.enqueue(context.Background(), rec)
}

// Done is closed once the connection is no longer usable.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended. It is nil while the connection is
// open and ErrClosed after Close.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close sends a close frame and tears down the connection. Pending
// invocations fail with ErrClosed.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg,
			time.Now().Add(c.params.WriteWait))
		err = c.terminate(ErrClosed)
	})
	return err
}

// fail ends the connection because of err. It is a no-op if the connection
// already ended.
func (c *Conn) fail(err error) {
	c.closeOnce.Do(func() {
		jww.WARN.Printf("[HUB] Connection lost: %+v", err)
		_ = c.terminate(err)
	})
}

// terminate records the cause, wakes every waiter and closes the socket. It
// must only be called once.
func (c *Conn) terminate(cause error) error {
	c.pendingMux.Lock()
	c.err = cause
	close(c.done)
	for id, ch := range c.pending {
		ch <- completion{err: cause}
		delete(c.pending, id)
	}
	c.pendingMux.Unlock()
	return c.ws.Close()
}

func (c *Conn) isDone() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Conn) forget(id string) {
	c.pendingMux.Lock()
	delete(c.pending, id)
	c.pendingMux.Unlock()
}

func (c *Conn) enqueue(ctx context.Context, rec []byte) error {
	select {
	case c.out <- rec:
		return nil
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readPump reads frames until the connection fails. Every frame pushes the
// server timeout forward.
func (c *Conn) readPump() {
	for {
		err := c.ws.SetReadDeadline(time.Now().Add(c.params.ServerTimeout))
		if err != nil {
			c.fail(errors.Wrap(err, readErr))
			return
		}
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			c.fail(errors.Wrap(err, readErr))
			return
		}
		for _, rec := range splitRecords(frame) {
			c.dispatch(rec)
		}
		if c.isDone() {
			return
		}
	}
}

// dispatch handles a single inbound record.
func (c *Conn) dispatch(rec []byte) {
	var msg message
	if err := json.Unmarshal(rec, &msg); err != nil {
		jww.WARN.Printf("[HUB] Dropping malformed record: %+v", err)
		return
	}

	switch msg.Type {
	case invocationType:
		jww.TRACE.Printf("[HUB] Received %s", msg.Target)
		c.handler(msg.Target, msg.Arguments)
	case completionType:
		c.pendingMux.Lock()
		ch, ok := c.pending[msg.InvocationID]
		delete(c.pending, msg.InvocationID)
		c.pendingMux.Unlock()
		if !ok {
			jww.DEBUG.Printf("[HUB] Completion for unknown invocation %s",
				msg.InvocationID)
			return
		}
		res := completion{result: msg.Result}
		if msg.Error != "" {
			res.err = errors.Errorf(invocationErr, msg.InvocationID, msg.Error)
		}
		ch <- res
	case pingType:
	case closeType:
		c.fail(errors.Errorf(serverCloseErr, msg.Error))
	default:
		jww.DEBUG.Printf("[HUB] Ignoring record of type %d", msg.Type)
	}
}

// writePump is the only writer of data frames. It paces frames and sends a
// ping whenever the keep-alive interval elapses.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.params.KeepAliveInterval)
	defer ticker.Stop()

	for {
		var rec []byte
		select {
		case rec = <-c.out:
		case <-ticker.C:
			rec = pingRecord
		case <-c.done:
			return
		}

		c.limiter.Take()
		err := c.ws.SetWriteDeadline(time.Now().Add(c.params.WriteWait))
		if err == nil {
			err = c.ws.WriteMessage(websocket.TextMessage, rec)
		}
		if err != nil {
			c.fail(errors.Wrap(err, writeErr))
			return
		}
	}
}

// arguments never returns nil so the record always carries an array.
func arguments(args []interface{}) []interface{} {
	if args == nil {
		return []interface{}{}
	}
	return args
}
