////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package subscription

import (
	"context"
	"encoding/json"
	"reflect"
	"sync"
	"testing"

	"github.com/pkg/errors"

	"gitlab.com/elixxir/hubclient/connection"
)

// call is one recorded invocation.
type call struct {
	target string
	id     int64
}

// stubConn records invocations and fails those for IDs in fail.
type stubConn struct {
	mux   sync.Mutex
	state connection.State
	calls []call
	fail  map[int64]bool
}

func newStubConn() *stubConn {
	return &stubConn{state: connection.Connected, fail: map[int64]bool{}}
}

func (c *stubConn) State() connection.State {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.state
}

func (c *stubConn) Invoke(_ context.Context, target string,
	args ...interface{}) (json.RawMessage, error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	id := args[0].(int64)
	c.calls = append(c.calls, call{target, id})
	if c.fail[id] {
		return nil, errors.New("hub error")
	}
	return nil, nil
}

func (c *stubConn) reset() []call {
	c.mux.Lock()
	defer c.mux.Unlock()
	calls := c.calls
	c.calls = nil
	return calls
}

func TestRegistry_Subscribe(t *testing.T) {
	conn := newStubConn()
	r := NewRegistry(conn)
	ctx := context.Background()

	for _, id := range []int64{42, 7, 42} {
		if err := r.Subscribe(ctx, id); err != nil {
			t.Fatalf("Subscribe %d failed: %+v", id, err)
		}
	}

	expected := []call{{TargetSubscribe, 42}, {TargetSubscribe, 7}}
	if calls := conn.reset(); !reflect.DeepEqual(expected, calls) {
		t.Errorf("Unexpected calls.\nexpected: %v\nreceived: %v",
			expected, calls)
	}
	if active := r.Active(); !reflect.DeepEqual([]int64{7, 42}, active) {
		t.Errorf("Unexpected active set.\nexpected: %v\nreceived: %v",
			[]int64{7, 42}, active)
	}
}

func TestRegistry_Unsubscribe(t *testing.T) {
	conn := newStubConn()
	r := NewRegistry(conn)
	ctx := context.Background()

	_ = r.Subscribe(ctx, 42)
	conn.reset()

	for i := 0; i < 2; i++ {
		if err := r.Unsubscribe(ctx, 42); err != nil {
			t.Fatalf("Unsubscribe failed: %+v", err)
		}
	}
	if err := r.Unsubscribe(ctx, 5); err != nil {
		t.Fatalf("Unsubscribe of an unknown ID failed: %+v", err)
	}

	expected := []call{{TargetUnsubscribe, 42}}
	if calls := conn.reset(); !reflect.DeepEqual(expected, calls) {
		t.Errorf("Unexpected calls.\nexpected: %v\nreceived: %v",
			expected, calls)
	}
	if r.IsSubscribed(42) {
		t.Errorf("Conversation still subscribed.")
	}
}

// Tests that calls are rejected without reaching the hub unless connected.
func TestRegistry_NotConnected(t *testing.T) {
	conn := newStubConn()
	r := NewRegistry(conn)
	ctx := context.Background()
	_ = r.Subscribe(ctx, 1)
	conn.reset()

	for _, s := range []connection.State{connection.Disconnected,
		connection.Connecting, connection.Reconnecting, connection.Resyncing} {
		conn.state = s
		if err := r.Subscribe(ctx, 2); !errors.Is(err, connection.ErrNotConnected) {
			t.Errorf("Subscribe in %s not rejected: %v", s, err)
		}
		if err := r.Unsubscribe(ctx, 1); !errors.Is(err, connection.ErrNotConnected) {
			t.Errorf("Unsubscribe in %s not rejected: %v", s, err)
		}
	}

	if calls := conn.reset(); len(calls) != 0 {
		t.Errorf("Rejected calls reached the hub: %v", calls)
	}
	if active := r.Active(); !reflect.DeepEqual([]int64{1}, active) {
		t.Errorf("Set changed by rejected calls: %v", active)
	}
}

// Tests that a hub error leaves the set unchanged.
func TestRegistry_Subscribe_Error(t *testing.T) {
	conn := newStubConn()
	conn.fail[9] = true
	r := NewRegistry(conn)

	if err := r.Subscribe(context.Background(), 9); err == nil {
		t.Errorf("No error for a failed subscribe.")
	}
	if r.IsSubscribed(9) {
		t.Errorf("Failed subscribe added to the set.")
	}
}

// Tests that replay re-issues exactly the active set, once each, after a
// reconnect.
func TestRegistry_Replay(t *testing.T) {
	conn := newStubConn()
	r := NewRegistry(conn)
	ctx := context.Background()

	for _, id := range []int64{30, 10, 20, 10} {
		_ = r.Subscribe(ctx, id)
	}
	_ = r.Unsubscribe(ctx, 20)
	conn.reset()

	// The fresh connection is reached directly while resyncing
	fresh := newStubConn()
	fresh.state = connection.Resyncing
	if err := r.Replay(ctx, fresh); err != nil {
		t.Fatalf("Replay failed: %+v", err)
	}

	expected := []call{{TargetSubscribe, 10}, {TargetSubscribe, 30}}
	if calls := fresh.reset(); !reflect.DeepEqual(expected, calls) {
		t.Errorf("Unexpected replay.\nexpected: %v\nreceived: %v",
			expected, calls)
	}
	if calls := conn.reset(); len(calls) != 0 {
		t.Errorf("Replay used the old connection: %v", calls)
	}
}

// Tests that subscriptions failing to replay stay in the set.
func TestRegistry_Replay_Error(t *testing.T) {
	conn := newStubConn()
	r := NewRegistry(conn)
	ctx := context.Background()
	_ = r.Subscribe(ctx, 1)
	_ = r.Subscribe(ctx, 2)

	fresh := newStubConn()
	fresh.fail[1] = true
	if err := r.Replay(ctx, fresh); err == nil {
		t.Errorf("No error for a failed replay.")
	}
	if len(fresh.reset()) != 2 {
		t.Errorf("Replay stopped at the first failure.")
	}
	if active := r.Active(); !reflect.DeepEqual([]int64{1, 2}, active) {
		t.Errorf("Unexpected active set: %v", active)
	}
}

// Tests that a conversation whose replay failed is subscribed again by the
// next Subscribe, and that a successful replay clears the pending mark.
func TestRegistry_Subscribe_AfterFailedReplay(t *testing.T) {
	conn := newStubConn()
	r := NewRegistry(conn)
	ctx := context.Background()
	_ = r.Subscribe(ctx, 2)
	_ = r.Subscribe(ctx, 3)
	conn.reset()

	failing := newStubConn()
	failing.fail[2] = true
	if err := r.Replay(ctx, failing); err == nil {
		t.Errorf("No error for a failed replay.")
	}
	if pending := r.Pending(); !reflect.DeepEqual([]int64{2}, pending) {
		t.Errorf("Unexpected pending set.\nexpected: %v\nreceived: %v",
			[]int64{2}, pending)
	}

	if err := r.Subscribe(ctx, 2); err != nil {
		t.Fatalf("Subscribe failed: %+v", err)
	}
	expected := []call{{TargetSubscribe, 2}}
	if calls := conn.reset(); !reflect.DeepEqual(expected, calls) {
		t.Errorf("Pending conversation not subscribed again."+
			"\nexpected: %v\nreceived: %v", expected, calls)
	}
	if pending := r.Pending(); len(pending) != 0 {
		t.Errorf("Pending set not cleared: %v", pending)
	}

	// Subscribed again, so a further Subscribe is a no-op
	_ = r.Subscribe(ctx, 2)
	_ = r.Subscribe(ctx, 3)
	if calls := conn.reset(); len(calls) != 0 {
		t.Errorf("Unexpected calls: %v", calls)
	}

	// A failing retry keeps it pending for the next replay
	_ = r.Replay(ctx, failing)
	conn.fail[2] = true
	if err := r.Subscribe(ctx, 2); err == nil {
		t.Errorf("No error for a failed subscribe.")
	}
	if pending := r.Pending(); !reflect.DeepEqual([]int64{2}, pending) {
		t.Errorf("Unexpected pending set: %v", pending)
	}

	if err := r.Replay(ctx, newStubConn()); err != nil {
		t.Errorf("Replay failed: %+v", err)
	}
	if pending := r.Pending(); len(pending) != 0 {
		t.Errorf("Pending set not cleared by replay: %v", pending)
	}
	if active := r.Active(); !reflect.DeepEqual([]int64{2, 3}, active) {
		t.Errorf("Unexpected active set: %v", active)
	}
}
