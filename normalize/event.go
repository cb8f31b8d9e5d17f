////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package normalize maps the loosely typed events pushed by the hub into
// canonical events. The wire contract is not strictly typed: field names
// differ in casing between event types and any field may be missing, so every
// event type is described by a table of fields, each with its wire aliases
// and a default. Normalization never panics and never leaves a field unset.
package normalize

import (
	"time"

	"gitlab.com/elixxir/hubclient/conversation"
)

// Wire targets of the events pushed by the hub.
const (
	TargetReceiveMessage       = "ReceiveMessage"
	TargetNewMessage           = "NewMessageNotification"
	TargetMessageStatusChanged = "MessageStatusChanged"
	TargetMessageRead          = "MessageRead"
	TargetUserTyping           = "UserTyping"
)

// Kind is the canonical action an event maps to.
type Kind uint8

const (
	// MessageDelivered appends a full message to the message collection.
	MessageDelivered Kind = iota + 1

	// NewMessageNotice updates a conversation summary (last message, unread).
	NewMessageNotice

	// StatusChanged moves a message forward in Sent, Delivered, Read.
	StatusChanged

	// Typing sets or clears the transient typing flag of a conversation.
	Typing
)

// String returns a human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case MessageDelivered:
		return "MessageDelivered"
	case NewMessageNotice:
		return "NewMessageNotice"
	case StatusChanged:
		return "StatusChanged"
	case Typing:
		return "Typing"
	default:
		return "Invalid"
	}
}

// Event is a canonical event. Only the fields relevant to Kind are meaningful;
// the rest hold their zero values.
type Event struct {
	Kind   Kind
	Target string

	ConversationID int64
	MessageID      int64

	// MessageDelivered and NewMessageNotice.
	Content    string
	SenderName string
	Title      string
	Direction  conversation.Direction
	SentAt     time.Time

	// MessageDelivered and StatusChanged. DeliveredAt and ReadAt are nil until
	// the hub reports them.
	Status      conversation.Status
	DeliveredAt *time.Time
	ReadAt      *time.Time

	// At is the time of a status change, nil when the hub did not send one.
	At *time.Time

	// Typing.
	UserName string
	IsTyping bool
}

// Message builds the message carried by a MessageDelivered event.
func (e Event) Message() conversation.Message {
	return conversation.Message{
		ID:             e.MessageID,
		ConversationID: e.ConversationID,
		Direction:      e.Direction,
		Status:         e.Status,
		Content:        e.Content,
		SenderName:     e.SenderName,
		SentAt:         e.SentAt,
		DeliveredAt:    e.DeliveredAt,
		ReadAt:         e.ReadAt,
	}
}
