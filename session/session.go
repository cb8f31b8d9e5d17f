////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package session ties the hub client together: one connection manager, the
// subscription registry, the reconciler over the local store and a single
// event loop applying hub events in arrival order. A Session is an explicit
// instance; a process may run several against different hubs or accounts.
package session

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/xx_network/primitives/netTime"

	"gitlab.com/elixxir/hubclient/connection"
	"gitlab.com/elixxir/hubclient/conversation"
	"gitlab.com/elixxir/hubclient/credential"
	"gitlab.com/elixxir/hubclient/event"
	"gitlab.com/elixxir/hubclient/normalize"
	"gitlab.com/elixxir/hubclient/notifications"
	"gitlab.com/elixxir/hubclient/reconcile"
	"gitlab.com/elixxir/hubclient/resync"
	"gitlab.com/elixxir/hubclient/stoppable"
	"gitlab.com/elixxir/hubclient/subscription"
)

// Hub methods invoked by commands.
const (
	TargetSendMessage = "SendMessage"
	TargetMarkRead    = "MarkMessageRead"
	TargetSendTyping  = "SendTypingIndicator"
)

var (
	// ErrEmptyMessage is returned when sending a blank message.
	ErrEmptyMessage = errors.New("message content is empty")

	// ErrAlreadyInitialized is returned by a second Initialize.
	ErrAlreadyInitialized = errors.New("session already initialized")
)

// Error messages.
const (
	sendErr     = "failed to send message to conversation %d"
	markReadErr = "failed to mark message %d read"
	typingErr   = "failed to send typing indicator to conversation %d"
)

// Result is the outcome of a command. Commands never panic or return errors
// directly; a failed command has Success false and the cause in Err.
type Result struct {
	Success bool

	// MessageID is the ID of the new message for SendMessage.
	MessageID int64

	Err error
}

// resultOf builds the Result of a command that failed with err, or succeeded
// if err is nil.
func resultOf(err error) Result {
	return Result{Success: err == nil, Err: err}
}

// job is one unit of work for the event loop: either a hub event or a
// function to run on the loop.
type job struct {
	target string
	args   []json.RawMessage
	run    func()
}

// Session is a hub client session.
type Session struct {
	params Params
	conn   *connection.Manager
	subs   *subscription.Registry
	rec    *reconcile.Reconciler
	source resync.Source
	sink   event.Sink
	notify *notifications.Dispatcher

	queue chan job
	loop  *stoppable.Single
	stop  *stoppable.Multi
	mux   sync.Mutex
}

// New builds a Session. Events pushed by the hub on connections opened by
// dialer are applied to store, and every resulting change is reported to
// sink. source and notify may be nil to skip summary resyncs and
// notifications.
func New(params Params, dialer connection.Dialer, source resync.Source,
	store reconcile.Store, sink event.Sink,
	notify *notifications.Dispatcher) *Session {
	if sink == nil {
		sink = event.Discard
	}
	queueSize := params.EventQueueSize
	if queueSize < 1 {
		queueSize = 1
	}

	s := &Session{
		params: params,
		rec:    reconcile.New(store, sink, params.Reconcile),
		source: source,
		sink:   sink,
		notify: notify,
		queue:  make(chan job, queueSize),
		loop:   stoppable.NewSingle("EventLoop"),
	}
	s.conn = connection.NewManager(params.Connection, dialer, s.receive,
		s.onConnected)
	s.subs = subscription.NewRegistry(s.conn)
	s.conn.AddStateCallback(func(st connection.State) {
		sink.Report(event.Change{Kind: event.ConnectionStateChanged,
			Details: st.String()})
	})

	return s
}

// Initialize starts the event loop and begins connecting with creds. It
// returns once connecting has started; connection failures are retried in
// the background and only show as state changes.
func (s *Session) Initialize(ctx context.Context,
	creds credential.Provider) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.stop != nil {
		return ErrAlreadyInitialized
	}

	go s.eventLoop()

	connStop, err := s.conn.Start(ctx, creds)
	if err != nil {
		_ = s.loop.Close()
		return err
	}

	s.stop = stoppable.NewMulti("Session")
	s.stop.Add(connStop)
	s.stop.Add(s.loop)

	jww.INFO.Printf("[SESSION] Initialized")
	return nil
}

// Stop closes the connection and the event loop and waits for both.
// Disconnected is published even if closing the connection fails.
func (s *Session) Stop() error {
	s.mux.Lock()
	stop := s.stop
	s.mux.Unlock()

	if err := s.conn.Stop(); err != nil {
		jww.WARN.Printf("[SESSION] Connection did not stop cleanly: %+v", err)
	}
	if stop == nil {
		return nil
	}
	if stop.IsRunning() {
		_ = stop.Close()
	}
	return stoppable.WaitForStopped(stop, s.params.StopTimeout)
}

// State returns the connection state.
func (s *Session) State() connection.State {
	return s.conn.State()
}

// Subscribe asks the hub to push events for the conversation.
func (s *Session) Subscribe(ctx context.Context, conversationID int64) Result {
	ctx, cancel := s.commandContext(ctx)
	defer cancel()

	err := s.subs.Subscribe(ctx, conversationID)
	if err != nil {
		jww.WARN.Printf("[SESSION] Subscribe to %d failed: %+v",
			conversationID, err)
	}
	return resultOf(err)
}

// Unsubscribe stops events for the conversation.
func (s *Session) Unsubscribe(ctx context.Context,
	conversationID int64) Result {
	ctx, cancel := s.commandContext(ctx)
	defer cancel()

	err := s.subs.Unsubscribe(ctx, conversationID)
	if err != nil {
		jww.WARN.Printf("[SESSION] Unsubscribe from %d failed: %+v",
			conversationID, err)
	}
	return resultOf(err)
}

// SendMessage sends a message to the conversation. On success the message is
// stored as sent and its ID is in the Result. Messages are not queued while
// disconnected.
func (s *Session) SendMessage(ctx context.Context, conversationID int64,
	content string) Result {
	if strings.TrimSpace(content) == "" {
		return resultOf(ErrEmptyMessage)
	}

	ctx, cancel := s.commandContext(ctx)
	defer cancel()

	res, err := s.conn.Invoke(ctx, TargetSendMessage, conversationID, content)
	if err != nil {
		err = errors.WithMessagef(err, sendErr, conversationID)
		jww.WARN.Printf("[SESSION] %+v", err)
		return resultOf(err)
	}

	id, err := normalize.SentMessageID(res)
	if err != nil {
		// The hub accepted the message; its echo will carry the ID.
		jww.WARN.Printf("[SESSION] Sent message to %d but %+v",
			conversationID, err)
		return Result{Success: true}
	}

	if _, err = s.rec.AppendOutbound(id, conversationID, content); err != nil {
		jww.ERROR.Printf("[SESSION] Failed to store sent message %d: %+v",
			id, err)
	}
	return Result{Success: true, MessageID: id}
}

// MarkRead marks a message read on the hub and then locally, decrementing the
// unread count of its conversation.
func (s *Session) MarkRead(ctx context.Context, messageID int64) Result {
	ctx, cancel := s.commandContext(ctx)
	defer cancel()

	if _, err := s.conn.Invoke(ctx, TargetMarkRead, messageID); err != nil {
		err = errors.WithMessagef(err, markReadErr, messageID)
		jww.WARN.Printf("[SESSION] %+v", err)
		return resultOf(err)
	}

	if _, err := s.rec.MarkRead(messageID); err != nil {
		jww.ERROR.Printf("[SESSION] Failed to mark message %d read "+
			"locally: %+v", messageID, err)
	}
	return Result{Success: true, MessageID: messageID}
}

// SendTyping tells the conversation whether this user is typing.
func (s *Session) SendTyping(ctx context.Context, conversationID int64,
	typing bool) Result {
	ctx, cancel := s.commandContext(ctx)
	defer cancel()

	_, err := s.conn.Invoke(ctx, TargetSendTyping, conversationID, typing)
	if err != nil {
		err = errors.WithMessagef(err, typingErr, conversationID)
		jww.DEBUG.Printf("[SESSION] %+v", err)
	}
	return resultOf(err)
}

// Subscriptions returns the subscribed conversation IDs.
func (s *Session) Subscriptions() []int64 {
	return s.subs.Active()
}

// Messages returns the stored messages of a conversation.
func (s *Session) Messages(conversationID int64) (
	[]conversation.Message, error) {
	return s.rec.Messages(conversationID)
}

// Message returns one stored message.
func (s *Session) Message(messageID int64) (
	conversation.Message, bool, error) {
	return s.rec.Message(messageID)
}

// Conversations returns the stored conversations, most recent first.
func (s *Session) Conversations() ([]conversation.Conversation, error) {
	return s.rec.Conversations()
}

// Conversation returns one stored conversation.
func (s *Session) Conversation(conversationID int64) (
	conversation.Conversation, bool, error) {
	return s.rec.Conversation(conversationID)
}

// IsTyping returns whether someone is typing in the conversation and who.
func (s *Session) IsTyping(conversationID int64) (bool, string) {
	return s.rec.IsTyping(conversationID)
}

func (s *Session) commandContext(ctx context.Context) (
	context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.params.CommandTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.params.CommandTimeout)
}

// onConnected runs on every new connection while it is resyncing: the
// subscriptions are replayed on it and the conversation summaries are fetched
// again. Failures are logged and do not fail the connection.
func (s *Session) onConnected(ctx context.Context,
	inv connection.Invoker) error {
	if err := s.subs.Replay(ctx, inv); err != nil {
		jww.WARN.Printf("[SESSION] %+v", err)
	}

	if s.source == nil {
		return nil
	}
	rctx, cancel := context.WithTimeout(ctx, s.params.ResyncTimeout)
	defer cancel()
	cs, err := s.source.Conversations(rctx)
	if err != nil {
		jww.WARN.Printf("[SESSION] Failed to fetch conversation "+
			"summaries: %+v", err)
		return nil
	}

	// Apply on the event loop so it is ordered with the hub's events.
	return s.runOnLoop(ctx, func() {
		if err := s.rec.Resync(cs); err != nil {
			jww.ERROR.Printf("[SESSION] %+v", err)
		}
	})
}

// receive is the hub event handler. It queues the event for the event loop,
// blocking while the queue is full.
func (s *Session) receive(target string, args []json.RawMessage) {
	select {
	case s.queue <- job{target: target, args: args}:
	case <-s.loop.Quit():
	}
}

// runOnLoop runs f on the event loop and waits for it.
func (s *Session) runOnLoop(ctx context.Context, f func()) error {
	done := make(chan struct{})
	j := job{run: func() { f(); close(done) }}

	select {
	case s.queue <- j:
	case <-s.loop.Quit():
		return errors.New("event loop stopped")
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-s.loop.Quit():
		return errors.New("event loop stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// eventLoop applies queued events one at a time in arrival order and clears
// stale typing flags.
func (s *Session) eventLoop() {
	interval := s.params.TypingSweepInterval
	if interval <= 0 {
		interval = time.Second
	}
	sweep := time.NewTicker(interval)
	defer sweep.Stop()

	for {
		select {
		case <-s.loop.Quit():
			s.loop.ToStopped()
			return
		case j := <-s.queue:
			if j.run != nil {
				j.run()
			} else {
				s.apply(j.target, j.args)
			}
		case <-sweep.C:
			s.rec.ExpireTyping(netTime.Now())
		}
	}
}

// apply normalizes and reconciles one hub event.
func (s *Session) apply(target string, args []json.RawMessage) {
	e, err := normalize.Normalize(target, args)
	if err != nil {
		if errors.Is(err, normalize.ErrUnknownTarget) {
			jww.DEBUG.Printf("[SESSION] Ignoring hub event %s", target)
		} else {
			jww.WARN.Printf("[SESSION] Dropping hub event: %+v", err)
		}
		return
	}

	applied, err := s.rec.Apply(e)
	if err != nil {
		jww.ERROR.Printf("[SESSION] Failed to apply %s: %+v", target, err)
		return
	}

	if applied && e.Kind == normalize.NewMessageNotice &&
		e.Direction == conversation.Inbound {
		c, _, err := s.rec.Conversation(e.ConversationID)
		if err != nil {
			jww.ERROR.Printf("[SESSION] %+v", err)
			return
		}
		s.notify.NewMessage(c, conversation.Message{
			ID:             e.MessageID,
			ConversationID: e.ConversationID,
			Direction:      e.Direction,
			Content:        e.Content,
			SenderName:     e.SenderName,
		})
	}
}
