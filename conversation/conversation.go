////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package conversation holds the client-side model of hub conversations and
// their messages.
package conversation

import (
	"strconv"
	"strings"
	"time"
)

// Status is the delivery status of a message. Statuses only ever move forward
// in the order Sent, Delivered, Read.
type Status uint8

const (
	Unknown Status = iota
	Sent
	Delivered
	Read
)

// String returns the wire name of the status.
func (s Status) String() string {
	switch s {
	case Sent:
		return "sent"
	case Delivered:
		return "delivered"
	case Read:
		return "read"
	case Unknown:
		return "unknown"
	default:
		return "INVALID STATUS: " + strconv.Itoa(int(s))
	}
}

// Advances returns true if moving from s to next is a forward move. Unknown
// never advances anything.
func (s Status) Advances(next Status) bool {
	if next == Unknown || next > Read {
		return false
	}
	return next > s
}

// ParseStatus parses the status names sent by the hub in any casing, as well
// as their numeric codes (0 sent, 1 delivered, 2 read). Anything else is
// Unknown.
func ParseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sent", "0":
		return Sent
	case "delivered", "1":
		return Delivered
	case "read", "seen", "2":
		return Read
	default:
		return Unknown
	}
}

// Direction tells whether a message was received or sent by this client's
// tenant.
type Direction uint8

const (
	Inbound Direction = iota
	Outbound
)

// String returns the wire name of the direction.
func (d Direction) String() string {
	if d == Outbound {
		return "outbound"
	}
	return "inbound"
}

// ParseDirection parses a wire direction. Anything that is not outbound is
// treated as inbound.
func ParseDirection(s string) Direction {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "outbound", "out", "outgoing", "1":
		return Outbound
	default:
		return Inbound
	}
}

// Message is a single message. Messages are addressed by ID independently of
// the conversation they belong to.
type Message struct {
	ID             int64
	ConversationID int64
	Direction      Direction
	Status         Status
	Content        string
	SenderName     string

	SentAt      time.Time
	DeliveredAt *time.Time
	ReadAt      *time.Time
}

// Conversation is the summary of one conversation as shown in a list.
type Conversation struct {
	ID    int64
	Title string

	// LastMessageID is the highest message ID that has updated this summary.
	LastMessageID int64
	LastMessage   string
	LastMessageAt time.Time

	// LastNotifiedID is the highest message ID counted into UnreadCount.
	LastNotifiedID int64
	UnreadCount    int
}
