////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package subscription tracks the conversations this client asked the hub to
// push events for. Subscriptions do not survive a dropped connection, so the
// registry keeps the desired set and replays it after every reconnect.
package subscription

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/golang-collections/collections/set"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elixxir/hubclient/connection"
)

// Hub methods invoked by the registry.
const (
	TargetSubscribe   = "SubscribeToConversation"
	TargetUnsubscribe = "UnsubscribeFromConversation"
)

// Error messages.
const (
	subscribeErr   = "failed to subscribe to conversation %d"
	unsubscribeErr = "failed to unsubscribe from conversation %d"
	replayErr      = "failed to replay %d of %d subscriptions: %s"
)

// Invoker calls a hub method and waits for its completion.
type Invoker interface {
	Invoke(ctx context.Context, target string, args ...interface{}) (
		json.RawMessage, error)
}

// Connection is the part of the connection manager the registry needs.
type Connection interface {
	Invoker
	State() connection.State
}

// Registry is the set of subscribed conversation IDs. It is safe for
// concurrent use; calls that reach the hub are serialised.
type Registry struct {
	conn   Connection
	active *set.Set

	// Active IDs whose last replay failed, so the current connection is not
	// known to be subscribed to them.
	pending *set.Set

	mux sync.Mutex
}

// NewRegistry returns an empty registry issuing calls over conn.
func NewRegistry(conn Connection) *Registry {
	return &Registry{
		conn:    conn,
		active:  set.New(),
		pending: set.New(),
	}
}

// Subscribe asks the hub to push events for the conversation. Subscribing to
// an already subscribed conversation is a no-op, unless its last replay
// failed, in which case the subscription is issued again. Returns
// connection.ErrNotConnected when the connection is not in steady state; the
// set is unchanged on any error.
func (r *Registry) Subscribe(ctx context.Context, conversationID int64) error {
	if s := r.conn.State(); s != connection.Connected {
		jww.WARN.Printf("[SUBS] Rejecting subscribe to conversation %d "+
			"while %s", conversationID, s)
		return connection.ErrNotConnected
	}

	r.mux.Lock()
	defer r.mux.Unlock()

	if r.active.Has(conversationID) && !r.pending.Has(conversationID) {
		jww.TRACE.Printf("[SUBS] Already subscribed to conversation %d",
			conversationID)
		return nil
	}

	_, err := r.conn.Invoke(ctx, TargetSubscribe, conversationID)
	if err != nil {
		return errors.WithMessagef(err, subscribeErr, conversationID)
	}
	r.active.Insert(conversationID)
	r.pending.Remove(conversationID)
	jww.DEBUG.Printf("[SUBS] Subscribed to conversation %d", conversationID)
	return nil
}

// Unsubscribe stops events for the conversation. Unsubscribing from a
// conversation that is not subscribed is a no-op.
func (r *Registry) Unsubscribe(ctx context.Context,
	conversationID int64) error {
	if s := r.conn.State(); s != connection.Connected {
		jww.WARN.Printf("[SUBS] Rejecting unsubscribe from conversation %d "+
			"while %s", conversationID, s)
		return connection.ErrNotConnected
	}

	r.mux.Lock()
	defer r.mux.Unlock()

	if !r.active.Has(conversationID) {
		jww.TRACE.Printf("[SUBS] Not subscribed to conversation %d",
			conversationID)
		return nil
	}

	_, err := r.conn.Invoke(ctx, TargetUnsubscribe, conversationID)
	if err != nil {
		return errors.WithMessagef(err, unsubscribeErr, conversationID)
	}
	r.active.Remove(conversationID)
	r.pending.Remove(conversationID)
	jww.DEBUG.Printf("[SUBS] Unsubscribed from conversation %d",
		conversationID)
	return nil
}

// Replay subscribes again to every conversation in the set, once each and in
// ascending order, using inv. It is called on a fresh connection before it is
// handed to callers. Failed subscriptions stay in the set and are marked
// pending: the next Subscribe to them or the next replay retries them.
func (r *Registry) Replay(ctx context.Context, inv Invoker) error {
	r.mux.Lock()
	defer r.mux.Unlock()

	ids := r.sorted()
	var failed []string
	for _, id := range ids {
		if _, err := inv.Invoke(ctx, TargetSubscribe, id); err != nil {
			jww.ERROR.Printf("[SUBS] Failed to resubscribe to conversation "+
				"%d: %+v", id, err)
			failed = append(failed, err.Error())
			r.pending.Insert(id)
			continue
		}
		r.pending.Remove(id)
	}

	jww.INFO.Printf("[SUBS] Replayed %d of %d subscriptions",
		len(ids)-len(failed), len(ids))
	if len(failed) > 0 {
		return errors.Errorf(replayErr, len(failed), len(ids),
			strings.Join(failed, "; "))
	}
	return nil
}

// Active returns the subscribed conversation IDs in ascending order.
func (r *Registry) Active() []int64 {
	r.mux.Lock()
	defer r.mux.Unlock()
	return r.sorted()
}

// IsSubscribed returns true if the conversation is in the set.
func (r *Registry) IsSubscribed(conversationID int64) bool {
	r.mux.Lock()
	defer r.mux.Unlock()
	return r.active.Has(conversationID)
}

// Pending returns the subscribed conversation IDs whose last replay failed,
// in ascending order.
func (r *Registry) Pending() []int64 {
	r.mux.Lock()
	defer r.mux.Unlock()
	return sorted(r.pending)
}

func (r *Registry) sorted() []int64 {
	return sorted(r.active)
}

func sorted(s *set.Set) []int64 {
	ids := make([]int64, 0, s.Len())
	s.Do(func(e interface{}) {
		ids = append(ids, e.(int64))
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
