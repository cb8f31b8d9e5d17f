////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package event publishes canonical state changes of the hub client to the
// wider application (UI store, CLI printer).
package event

import (
	"fmt"
)

// Kind is the type of a reported Change.
type Kind uint8

const (
	MessageAppended Kind = iota
	MessageStatusChanged
	ConversationUpdated
	TypingChanged
	ConnectionStateChanged
	ResyncCompleted
)

// String returns a human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case MessageAppended:
		return "MessageAppended"
	case MessageStatusChanged:
		return "MessageStatusChanged"
	case ConversationUpdated:
		return "ConversationUpdated"
	case TypingChanged:
		return "TypingChanged"
	case ConnectionStateChanged:
		return "ConnectionStateChanged"
	case ResyncCompleted:
		return "ResyncCompleted"
	default:
		return fmt.Sprintf("INVALID KIND: %d", k)
	}
}

// Change describes one applied state change. IDs that do not apply to the
// kind are zero.
type Change struct {
	Kind           Kind
	ConversationID int64
	MessageID      int64
	Details        string
}

// String is the stringer interface implementation.
func (c Change) String() string {
	return fmt.Sprintf("Change(%s, conversation %d, message %d, %s)",
		c.Kind, c.ConversationID, c.MessageID, c.Details)
}

// Callback receives reported changes.
type Callback func(c Change)

// Sink is the dispatch surface used by the reconciler and the session.
type Sink interface {
	Report(c Change)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(c Change)

// Report calls f(c).
func (f SinkFunc) Report(c Change) {
	f(c)
}

// Discard is a Sink that drops every change.
var Discard Sink = SinkFunc(func(Change) {})
