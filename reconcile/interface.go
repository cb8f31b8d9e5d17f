////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package reconcile

import (
	"time"

	"gitlab.com/elixxir/hubclient/conversation"
)

// Store is the local collection of conversations and messages the reconciler
// applies events to. Messages are addressed by their own ID so status updates
// do not need to know the conversation.
//
// Implementations do not need to be thread safe; the Reconciler serialises
// every call.
type Store interface {
	// GetMessage returns the message with the given ID. The bool is false if
	// no such message is stored.
	GetMessage(id int64) (conversation.Message, bool, error)

	// UpsertMessage inserts or replaces the message with the same ID.
	UpsertMessage(m conversation.Message) error

	// Messages returns the messages of a conversation ordered by SentAt.
	Messages(conversationID int64) ([]conversation.Message, error)

	// GetConversation returns the conversation with the given ID. The bool is
	// false if no such conversation is stored.
	GetConversation(id int64) (conversation.Conversation, bool, error)

	// UpsertConversation inserts or replaces the conversation with the same
	// ID.
	UpsertConversation(c conversation.Conversation) error

	// Conversations returns every conversation, most recent first.
	Conversations() ([]conversation.Conversation, error)

	// ReplaceConversations replaces every stored conversation summary with
	// the given ones. Messages are kept.
	ReplaceConversations(cs []conversation.Conversation) error
}

// Params configures the Reconciler.
type Params struct {
	// TypingTimeout is how long a typing flag stays set without a new typing
	// event.
	TypingTimeout time.Duration
}

// GetDefaultParams returns the default Params.
func GetDefaultParams() Params {
	return Params{
		TypingTimeout: 6 * time.Second,
	}
}
