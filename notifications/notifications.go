////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package notifications shows user notifications for new inbound messages.
// Notifications are only shown when the UI is not focused, the platform
// permits them and the conversation is not muted.
package notifications

import (
	"sync"

	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elixxir/hubclient/conversation"
)

// Notifier is the platform notification facility.
type Notifier interface {
	// Permitted returns true if the user allowed notifications.
	Permitted() bool

	// Show displays a notification.
	Show(title, body string) error
}

// Focus reports whether the UI currently has focus.
type Focus func() bool

// Unfocused is a Focus for clients without a UI.
func Unfocused() bool { return false }

// maxBodyLength bounds the message preview shown in a notification.
const maxBodyLength = 120

// Dispatcher decides whether a new message is worth a notification. It is
// safe for concurrent use.
type Dispatcher struct {
	notifier Notifier
	focus    Focus

	muted map[int64]struct{}
	mux   sync.RWMutex
}

// NewDispatcher returns a Dispatcher showing notifications through n. A nil
// focus is treated as never focused.
func NewDispatcher(n Notifier, focus Focus) *Dispatcher {
	if focus == nil {
		focus = Unfocused
	}
	return &Dispatcher{
		notifier: n,
		focus:    focus,
		muted:    make(map[int64]struct{}),
	}
}

// NewMessage shows a notification for an inbound message. It returns true if
// a notification was shown. Failures are logged and never returned.
func (d *Dispatcher) NewMessage(c conversation.Conversation,
	m conversation.Message) bool {
	if d == nil || d.notifier == nil {
		return false
	}
	if m.Direction != conversation.Inbound {
		return false
	}
	if d.Muted(c.ID) {
		jww.TRACE.Printf("[NOTIF] Conversation %d is muted", c.ID)
		return false
	}
	if d.focus() {
		jww.TRACE.Printf("[NOTIF] Focused, not notifying message %d", m.ID)
		return false
	}
	if !d.notifier.Permitted() {
		jww.DEBUG.Printf("[NOTIF] Notifications not permitted")
		return false
	}

	if err := d.notifier.Show(title(c, m), body(m.Content)); err != nil {
		jww.ERROR.Printf("[NOTIF] Failed to show notification for message "+
			"%d: %+v", m.ID, err)
		return false
	}
	return true
}

// Mute stops notifications for the conversation.
func (d *Dispatcher) Mute(conversationID int64) {
	d.mux.Lock()
	d.muted[conversationID] = struct{}{}
	d.mux.Unlock()
}

// Unmute resumes notifications for the conversation.
func (d *Dispatcher) Unmute(conversationID int64) {
	d.mux.Lock()
	delete(d.muted, conversationID)
	d.mux.Unlock()
}

// Muted returns true if the conversation is muted.
func (d *Dispatcher) Muted(conversationID int64) bool {
	d.mux.RLock()
	defer d.mux.RUnlock()
	_, ok := d.muted[conversationID]
	return ok
}

func title(c conversation.Conversation, m conversation.Message) string {
	switch {
	case m.SenderName != "":
		return m.SenderName
	case c.Title != "":
		return c.Title
	default:
		return "New message"
	}
}

func body(content string) string {
	r := []rune(content)
	if len(r) <= maxBodyLength {
		return content
	}
	return string(r[:maxBodyLength-1]) + "…"
}
