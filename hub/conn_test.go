////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	jww.SetStdoutThreshold(jww.LevelDebug)
	os.Exit(m.Run())
}

// testHub is an in-process hub. It answers every invocation with a
// completion echoing the first argument, except for a few control targets.
type testHub struct {
	srv *httptest.Server

	// Set before start.
	handshakeErr string
	welcome      bool
	silent       bool
	status       int

	received chan message

	mux   sync.Mutex
	auth  string
	token string
}

func newTestHub(t *testing.T, configure func(h *testHub)) *testHub {
	h := &testHub{received: make(chan message, 100)}
	if configure != nil {
		configure(h)
	}
	h.srv = httptest.NewServer(http.HandlerFunc(h.serve))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *testHub) url() string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/hubs/chat"
}

func (h *testHub) serve(w http.ResponseWriter, r *http.Request) {
	h.mux.Lock()
	h.auth = r.Header.Get("Authorization")
	h.token = r.URL.Query().Get("access_token")
	h.mux.Unlock()

	if h.status != 0 {
		w.WriteHeader(h.status)
		return
	}

	upgrader := websocket.Upgrader{}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	if _, _, err = ws.ReadMessage(); err != nil {
		return
	}
	if h.handshakeErr != "" {
		_ = ws.WriteMessage(websocket.TextMessage,
			mustRecord(handshakeResponse{Error: h.handshakeErr}))
		return
	}
	resp := mustRecord(handshakeResponse{})
	if h.welcome {
		resp = append(resp, mustRecord(invocation{Type: invocationType,
			Target: "Welcome", Arguments: []interface{}{"hi"}})...)
	}
	if err = ws.WriteMessage(websocket.TextMessage, resp); err != nil {
		return
	}

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			return
		}
		for _, rec := range splitRecords(frame) {
			var msg message
			if err = json.Unmarshal(rec, &msg); err != nil {
				continue
			}
			select {
			case h.received <- msg:
			default:
			}
			if msg.Type != invocationType || h.silent {
				continue
			}
			if err = h.answer(ws, msg); err != nil {
				return
			}
		}
	}
}

func (h *testHub) answer(ws *websocket.Conn, msg message) error {
	var out []byte
	switch msg.Target {
	case "Push":
		out = mustRecord(invocation{Type: invocationType,
			Target: "ReceiveMessage", Arguments: []interface{}{msg.Arguments[0]}})
	case "Close":
		out = mustRecord(message{Type: closeType, Error: "bye"})
	case "Fail":
		out = mustRecord(message{Type: completionType,
			InvocationID: msg.InvocationID, Error: "boom"})
	default:
		if msg.InvocationID == "" {
			return nil
		}
		res := json.RawMessage("null")
		if len(msg.Arguments) > 0 {
			res = msg.Arguments[0]
		}
		out = mustRecord(message{Type: completionType,
			InvocationID: msg.InvocationID, Result: res})
	}
	return ws.WriteMessage(websocket.TextMessage, out)
}

// waitForType returns the first received record of the given type.
func (h *testHub) waitForType(t *testing.T, typ int) message {
	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg := <-h.received:
			if msg.Type == typ {
				return msg
			}
		case <-timeout:
			t.Fatalf("Timed out waiting for a record of type %d", typ)
		}
	}
}

type pushed struct {
	target string
	args   []json.RawMessage
}

func collector() (Handler, chan pushed) {
	ch := make(chan pushed, 10)
	return func(target string, args []json.RawMessage) {
		ch <- pushed{target, args}
	}, ch
}

func testParams() Params {
	p := GetDefaultParams()
	p.HandshakeTimeout = time.Second
	return p
}

func TestDial_InvokeAndPush(t *testing.T) {
	h := newTestHub(t, nil)
	handler, events := collector()

	c, err := Dial(context.Background(), h.url(), "tok", testParams(), handler)
	require.NoError(t, err)
	defer c.Close()

	h.mux.Lock()
	require.Equal(t, "Bearer tok", h.auth)
	require.Equal(t, "tok", h.token)
	h.mux.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := c.Invoke(ctx, "Echo", 42)
	require.NoError(t, err)
	require.JSONEq(t, "42", string(res))

	_, err = c.Invoke(ctx, "Fail")
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")

	require.NoError(t, c.Send("Push", map[string]int{"MessageId": 7}))
	select {
	case p := <-events:
		require.Equal(t, "ReceiveMessage", p.target)
		require.Len(t, p.args, 1)
		require.JSONEq(t, `{"MessageId":7}`, string(p.args[0]))
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the pushed event")
	}
}

// Tests that a blocking handler holds back further frames, completions
// included, and that the held events are then delivered in order.
func TestConn_HandlerBackpressure(t *testing.T) {
	h := newTestHub(t, nil)
	entered := make(chan struct{}, 10)
	gate := make(chan struct{})
	events := make(chan string, 10)
	handler := func(target string, args []json.RawMessage) {
		entered <- struct{}{}
		<-gate
		events <- string(args[0])
	}

	c, err := Dial(context.Background(), h.url(), "", testParams(), handler)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Send("Push", 1))
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the handler")
	}
	require.NoError(t, c.Send("Push", 2))

	ctx, cancel := context.WithTimeout(context.Background(),
		200*time.Millisecond)
	_, err = c.Invoke(ctx, "Echo", 3)
	cancel()
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(gate)
	for _, expected := range []string{"1", "2"} {
		select {
		case e := <-events:
			require.Equal(t, expected, e)
		case <-time.After(2 * time.Second):
			t.Fatalf("Timed out waiting for event %s", expected)
		}
	}

	ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := c.Invoke(ctx, "Echo", 4)
	require.NoError(t, err)
	require.JSONEq(t, "4", string(res))
}

// Tests that records sent together with the handshake response are handled.
func TestDial_RecordsAfterHandshake(t *testing.T) {
	h := newTestHub(t, func(h *testHub) { h.welcome = true })
	handler, events := collector()

	c, err := Dial(context.Background(), h.url(), "", testParams(), handler)
	require.NoError(t, err)
	defer c.Close()

	select {
	case p := <-events:
		require.Equal(t, "Welcome", p.target)
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the welcome event")
	}
}

func TestDial_HandshakeRejected(t *testing.T) {
	h := newTestHub(t, func(h *testHub) { h.handshakeErr = "bad protocol" })

	_, err := Dial(context.Background(), h.url(), "tok", testParams(), nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad protocol")
}

func TestDial_Unauthorized(t *testing.T) {
	h := newTestHub(t, func(h *testHub) { h.status = http.StatusUnauthorized })

	_, err := Dial(context.Background(), h.url(), "expired", testParams(), nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUnauthorized), "%+v", err)
}

// Tests that an http URL is dialled as a websocket.
func TestDial_HTTPScheme(t *testing.T) {
	h := newTestHub(t, nil)

	c, err := Dial(context.Background(), h.srv.URL, "", testParams(), nil)
	require.NoError(t, err)
	require.NoError(t, c.Close())
}

func TestConn_KeepAlive(t *testing.T) {
	h := newTestHub(t, nil)
	p := testParams()
	p.KeepAliveInterval = 20 * time.Millisecond

	c, err := Dial(context.Background(), h.url(), "", p, nil)
	require.NoError(t, err)
	defer c.Close()

	h.waitForType(t, pingType)
}

// Tests that a hub that goes quiet is detected.
func TestConn_ServerTimeout(t *testing.T) {
	h := newTestHub(t, func(h *testHub) { h.silent = true })
	p := testParams()
	p.ServerTimeout = 100 * time.Millisecond

	c, err := Dial(context.Background(), h.url(), "", p, nil)
	require.NoError(t, err)
	defer c.Close()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Connection not ended after the server timeout")
	}
	require.Error(t, c.Err())
	require.False(t, errors.Is(c.Err(), ErrClosed))
}

// Tests that a close record from the hub ends the connection.
func TestConn_ServerClose(t *testing.T) {
	h := newTestHub(t, nil)

	c, err := Dial(context.Background(), h.url(), "", testParams(), nil)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Send("Close"))
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Connection not ended by the close record")
	}
	require.Contains(t, c.Err().Error(), "bye")
}

// Tests that Close fails pending and later invocations.
func TestConn_Close(t *testing.T) {
	h := newTestHub(t, func(h *testHub) { h.silent = true })

	c, err := Dial(context.Background(), h.url(), "", testParams(), nil)
	require.NoError(t, err)
	require.NoError(t, c.Err())

	result := make(chan error, 1)
	go func() {
		_, err := c.Invoke(context.Background(), "Echo", 1)
		result <- err
	}()
	h.waitForType(t, invocationType)

	_ = c.Close()
	select {
	case err = <-result:
		require.True(t, errors.Is(err, ErrClosed), "%+v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("Pending invocation not failed by Close")
	}

	require.True(t, errors.Is(c.Err(), ErrClosed))
	_, err = c.Invoke(context.Background(), "Echo", 1)
	require.True(t, errors.Is(err, ErrClosed), "%+v", err)
	require.NoError(t, c.Close())
}

// Tests that an invocation gives up when its context ends.
func TestConn_InvokeContext(t *testing.T) {
	h := newTestHub(t, func(h *testHub) { h.silent = true })

	c, err := Dial(context.Background(), h.url(), "", testParams(), nil)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Invoke(ctx, "Echo", 1)
	require.Equal(t, context.DeadlineExceeded, err)
}

func Test_splitRecords(t *testing.T) {
	frame := []byte("{\"type\":6}\x1e{\"type\":1}\x1e\x1e")
	records := splitRecords(frame)
	require.Len(t, records, 2)
	require.Equal(t, `{"type":6}`, string(records[0]))

	require.Len(t, splitRecords([]byte(`{}`)), 1)
	require.Empty(t, splitRecords(nil))
}
