////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package reconcile applies canonical hub events to the local conversation
// and message store. Application is idempotent under at-least-once delivery:
// messages are deduplicated by ID, statuses only move forward and unread
// counters only count a message once.
package reconcile

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/xx_network/primitives/netTime"

	"gitlab.com/elixxir/hubclient/conversation"
	"gitlab.com/elixxir/hubclient/event"
	"gitlab.com/elixxir/hubclient/normalize"
)

// Error messages.
const (
	getMessageErr      = "failed to get message %d"
	storeMessageErr    = "failed to store message %d"
	getConversationErr = "failed to get conversation %d"
	storeConvoErr      = "failed to store conversation %d"
	resyncErr          = "failed to replace %d conversation summaries"
	unknownKindErr     = "cannot apply event of kind %s"
)

// typingState is the transient typing flag of one conversation.
type typingState struct {
	user  string
	until time.Time
}

// Reconciler applies canonical events to a Store and reports every change to
// a sink. All methods are safe for concurrent use; application is serialised.
type Reconciler struct {
	store  Store
	sink   event.Sink
	params Params

	typing map[int64]typingState

	// now is replaceable for testing.
	now func() time.Time

	mux sync.Mutex
}

// New builds a Reconciler over the given store.
func New(store Store, sink event.Sink, params Params) *Reconciler {
	if sink == nil {
		sink = event.Discard
	}
	return &Reconciler{
		store:  store,
		sink:   sink,
		params: params,
		typing: make(map[int64]typingState),
		now:    netTime.Now,
	}
}

// Apply applies one canonical event. It returns true if the event changed
// local state and false if it was a duplicate, stale or unaddressable. Errors
// are only returned for storage failures.
func (r *Reconciler) Apply(e normalize.Event) (bool, error) {
	r.mux.Lock()
	defer r.mux.Unlock()

	switch e.Kind {
	case normalize.MessageDelivered:
		return r.applyMessage(e)
	case normalize.NewMessageNotice:
		return r.applyNotice(e)
	case normalize.StatusChanged:
		return r.applyStatus(e.MessageID, e.Status, e.At)
	case normalize.Typing:
		return r.applyTyping(e), nil
	default:
		return false, errors.Errorf(unknownKindErr, e.Kind)
	}
}

// applyMessage appends a delivered message. A message that is already stored
// is only allowed to move its status forward.
func (r *Reconciler) applyMessage(e normalize.Event) (bool, error) {
	if e.MessageID == 0 {
		jww.WARN.Printf("[SYNC] Dropping %s for conversation %d without a "+
			"message ID", e.Target, e.ConversationID)
		return false, nil
	}

	_, exists, err := r.store.GetMessage(e.MessageID)
	if err != nil {
		return false, errors.WithMessagef(err, getMessageErr, e.MessageID)
	}
	if exists {
		jww.TRACE.Printf("[SYNC] Message %d already stored", e.MessageID)
		at := e.At
		if e.Status == conversation.Read && e.ReadAt != nil {
			at = e.ReadAt
		} else if e.Status == conversation.Delivered && e.DeliveredAt != nil {
			at = e.DeliveredAt
		}
		return r.applyStatus(e.MessageID, e.Status, at)
	}

	m := e.Message()
	if m.SentAt.IsZero() {
		m.SentAt = r.now()
	}
	if m.Status == conversation.Unknown {
		m.Status = conversation.Sent
	}
	if err = r.store.UpsertMessage(m); err != nil {
		return false, errors.WithMessagef(err, storeMessageErr, m.ID)
	}
	jww.DEBUG.Printf("[SYNC] Appended message %d to conversation %d",
		m.ID, m.ConversationID)
	r.sink.Report(event.Change{Kind: event.MessageAppended,
		ConversationID: m.ConversationID, MessageID: m.ID})

	if m.ConversationID == 0 {
		return true, nil
	}

	c, exists, err := r.store.GetConversation(m.ConversationID)
	if err != nil {
		return true, errors.WithMessagef(err, getConversationErr,
			m.ConversationID)
	}
	if !exists {
		c = conversation.Conversation{ID: m.ConversationID}
	}
	if m.ID <= c.LastMessageID && exists {
		return true, nil
	}
	c.LastMessageID = m.ID
	c.LastMessage = m.Content
	c.LastMessageAt = m.SentAt
	if err = r.store.UpsertConversation(c); err != nil {
		return true, errors.WithMessagef(err, storeConvoErr, c.ID)
	}
	r.sink.Report(event.Change{Kind: event.ConversationUpdated,
		ConversationID: c.ID, MessageID: m.ID})

	return true, nil
}

// applyNotice updates a conversation summary from a tenant-wide new message
// notification. Inbound messages are counted as unread once per message ID.
func (r *Reconciler) applyNotice(e normalize.Event) (bool, error) {
	if e.ConversationID == 0 {
		jww.WARN.Printf("[SYNC] Dropping %s without a conversation ID",
			e.Target)
		return false, nil
	}

	c, exists, err := r.store.GetConversation(e.ConversationID)
	if err != nil {
		return false, errors.WithMessagef(err, getConversationErr,
			e.ConversationID)
	}
	if !exists {
		c = conversation.Conversation{ID: e.ConversationID}
	}

	changed := !exists
	if e.Title != "" && e.Title != c.Title {
		c.Title = e.Title
		changed = true
	}

	if e.MessageID == 0 || e.MessageID > c.LastMessageID {
		c.LastMessageID = maxID(c.LastMessageID, e.MessageID)
		c.LastMessage = e.Content
		c.LastMessageAt = e.SentAt
		if c.LastMessageAt.IsZero() {
			c.LastMessageAt = r.now()
		}
		changed = true
	}

	// Notifications without an ID cannot be deduplicated and are counted
	// every time.
	duplicate := e.MessageID != 0 && e.MessageID <= c.LastNotifiedID
	if !duplicate && e.Direction == conversation.Inbound {
		c.UnreadCount++
		c.LastNotifiedID = maxID(c.LastNotifiedID, e.MessageID)
		changed = true
	}

	if !changed {
		jww.TRACE.Printf("[SYNC] Duplicate notification for message %d in "+
			"conversation %d", e.MessageID, e.ConversationID)
		return false, nil
	}

	if err = r.store.UpsertConversation(c); err != nil {
		return false, errors.WithMessagef(err, storeConvoErr, c.ID)
	}
	r.sink.Report(event.Change{Kind: event.ConversationUpdated,
		ConversationID: c.ID, MessageID: e.MessageID,
		Details: "unread " + strconv.Itoa(c.UnreadCount)})

	return !duplicate, nil
}

// applyStatus moves a stored message forward to the given status. Unknown
// messages and non advancing statuses are no-ops. at is the time of the
// change; nil stamps the current time.
func (r *Reconciler) applyStatus(messageID int64, status conversation.Status,
	at *time.Time) (bool, error) {
	m, exists, err := r.store.GetMessage(messageID)
	if err != nil {
		return false, errors.WithMessagef(err, getMessageErr, messageID)
	}
	if !exists {
		jww.DEBUG.Printf("[SYNC] Ignoring status %s for unknown message %d",
			status, messageID)
		return false, nil
	}
	if !m.Status.Advances(status) {
		jww.TRACE.Printf("[SYNC] Ignoring status %s for message %d at %s",
			status, messageID, m.Status)
		return false, nil
	}

	stamp := r.now()
	if at != nil {
		stamp = *at
	}

	m.Status = status
	switch status {
	case conversation.Delivered:
		m.DeliveredAt = &stamp
	case conversation.Read:
		m.ReadAt = &stamp
	}

	if err = r.store.UpsertMessage(m); err != nil {
		return false, errors.WithMessagef(err, storeMessageErr, m.ID)
	}
	jww.DEBUG.Printf("[SYNC] Message %d is now %s", m.ID, status)
	r.sink.Report(event.Change{Kind: event.MessageStatusChanged,
		ConversationID: m.ConversationID, MessageID: m.ID,
		Details: status.String()})

	return true, nil
}

// applyTyping sets or clears the typing flag of a conversation.
func (r *Reconciler) applyTyping(e normalize.Event) bool {
	prev, wasTyping := r.typing[e.ConversationID]

	if !e.IsTyping {
		if !wasTyping {
			return false
		}
		delete(r.typing, e.ConversationID)
		r.sink.Report(event.Change{Kind: event.TypingChanged,
			ConversationID: e.ConversationID, Details: "stopped"})
		return true
	}

	r.typing[e.ConversationID] = typingState{
		user:  e.UserName,
		until: r.now().Add(r.params.TypingTimeout),
	}
	if wasTyping && prev.user == e.UserName {
		return false
	}
	r.sink.Report(event.Change{Kind: event.TypingChanged,
		ConversationID: e.ConversationID, Details: e.UserName + " typing"})
	return true
}

// ExpireTyping clears every typing flag that has not been refreshed before
// now. Returns the number of cleared flags.
func (r *Reconciler) ExpireTyping(now time.Time) int {
	r.mux.Lock()
	defer r.mux.Unlock()

	cleared := 0
	for id, state := range r.typing {
		if now.Before(state.until) {
			continue
		}
		delete(r.typing, id)
		cleared++
		r.sink.Report(event.Change{Kind: event.TypingChanged,
			ConversationID: id, Details: "expired"})
	}
	return cleared
}

// IsTyping returns whether someone is typing in the conversation and who.
func (r *Reconciler) IsTyping(conversationID int64) (bool, string) {
	r.mux.Lock()
	defer r.mux.Unlock()

	state, ok := r.typing[conversationID]
	return ok, state.user
}

// AppendOutbound stores a message this client sent once the hub acknowledged
// it. It goes through the same path as a delivered message so that an echo of
// it from the hub is deduplicated.
func (r *Reconciler) AppendOutbound(messageID, conversationID int64,
	content string) (bool, error) {
	r.mux.Lock()
	defer r.mux.Unlock()

	return r.applyMessage(normalize.Event{
		Kind:           normalize.MessageDelivered,
		Target:         "SendMessage",
		ConversationID: conversationID,
		MessageID:      messageID,
		Content:        content,
		Direction:      conversation.Outbound,
		Status:         conversation.Sent,
		SentAt:         r.now(),
	})
}

// MarkRead applies a successful mark-read command locally: the message moves
// to read and, if it was an unread inbound message, the unread counter of its
// conversation goes down by one.
func (r *Reconciler) MarkRead(messageID int64) (bool, error) {
	r.mux.Lock()
	defer r.mux.Unlock()

	m, exists, err := r.store.GetMessage(messageID)
	if err != nil {
		return false, errors.WithMessagef(err, getMessageErr, messageID)
	}
	if !exists {
		return false, nil
	}
	wasUnread := m.Direction == conversation.Inbound &&
		m.Status != conversation.Read

	applied, err := r.applyStatus(messageID, conversation.Read, nil)
	if err != nil || !applied || !wasUnread {
		return applied, err
	}

	c, exists, err := r.store.GetConversation(m.ConversationID)
	if err != nil {
		return applied, errors.WithMessagef(err, getConversationErr,
			m.ConversationID)
	}
	if !exists || c.UnreadCount == 0 {
		return applied, nil
	}
	c.UnreadCount--
	if err = r.store.UpsertConversation(c); err != nil {
		return applied, errors.WithMessagef(err, storeConvoErr, c.ID)
	}
	r.sink.Report(event.Change{Kind: event.ConversationUpdated,
		ConversationID: c.ID, MessageID: messageID,
		Details: "unread " + strconv.Itoa(c.UnreadCount)})

	return applied, nil
}

// Resync replaces every conversation summary with the ones fetched from the
// backend. Summaries are authoritative for unread counts, so notifications
// for messages at or before the summary's last message are no longer counted.
// A stored conversation that has already seen a later message than its
// summary keeps its last message, unread count and watermark, since live
// events may be applied while the summaries are in flight.
// Typing flags are dropped since their stop events may have been missed.
func (r *Reconciler) Resync(cs []conversation.Conversation) error {
	r.mux.Lock()
	defer r.mux.Unlock()

	summaries := make([]conversation.Conversation, len(cs))
	for i, c := range cs {
		c.LastNotifiedID = maxID(c.LastNotifiedID, c.LastMessageID)
		stored, exists, err := r.store.GetConversation(c.ID)
		if err != nil {
			return errors.WithMessagef(err, getConversationErr, c.ID)
		}
		if exists && stored.LastMessageID > c.LastMessageID {
			jww.DEBUG.Printf("[SYNC] Keeping message %d over stale summary "+
				"message %d in conversation %d", stored.LastMessageID,
				c.LastMessageID, c.ID)
			c.LastMessageID = stored.LastMessageID
			c.LastMessage = stored.LastMessage
			c.LastMessageAt = stored.LastMessageAt
			c.UnreadCount = stored.UnreadCount
			c.LastNotifiedID = maxID(c.LastNotifiedID, stored.LastNotifiedID)
		}
		summaries[i] = c
	}

	if err := r.store.ReplaceConversations(summaries); err != nil {
		return errors.WithMessagef(err, resyncErr, len(cs))
	}

	for id := range r.typing {
		delete(r.typing, id)
		r.sink.Report(event.Change{Kind: event.TypingChanged,
			ConversationID: id, Details: "cleared"})
	}

	jww.INFO.Printf("[SYNC] Resynchronised %d conversation summaries", len(cs))
	r.sink.Report(event.Change{Kind: event.ResyncCompleted,
		Details: strconv.Itoa(len(cs)) + " conversations"})
	return nil
}

// Message returns the stored message with the given ID.
func (r *Reconciler) Message(id int64) (conversation.Message, bool, error) {
	r.mux.Lock()
	defer r.mux.Unlock()
	return r.store.GetMessage(id)
}

// Messages returns the stored messages of a conversation.
func (r *Reconciler) Messages(conversationID int64) (
	[]conversation.Message, error) {
	r.mux.Lock()
	defer r.mux.Unlock()
	return r.store.Messages(conversationID)
}

// Conversation returns the stored conversation with the given ID.
func (r *Reconciler) Conversation(id int64) (
	conversation.Conversation, bool, error) {
	r.mux.Lock()
	defer r.mux.Unlock()
	return r.store.GetConversation(id)
}

// Conversations returns every stored conversation, most recent first.
func (r *Reconciler) Conversations() ([]conversation.Conversation, error) {
	r.mux.Lock()
	defer r.mux.Unlock()

	cs, err := r.store.Conversations()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(cs, func(i, j int) bool {
		return cs[i].LastMessageAt.After(cs[j].LastMessageAt)
	})
	return cs, nil
}

func maxID(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
