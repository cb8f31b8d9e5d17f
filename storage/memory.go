////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package storage holds the local conversation and message stores: a map
// backed store for sessions that keep nothing on disk and an SQL store backed
// by sqlite.
package storage

import (
	"sort"

	"gitlab.com/elixxir/hubclient/conversation"
)

// Memory is a map backed reconcile.Store.
// NOTE: This store is NOT thread safe; the reconciler serialises access.
type Memory struct {
	messages      map[int64]conversation.Message
	conversations map[int64]conversation.Conversation
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		messages:      make(map[int64]conversation.Message),
		conversations: make(map[int64]conversation.Conversation),
	}
}

// GetMessage returns the message with the given ID.
func (m *Memory) GetMessage(id int64) (conversation.Message, bool, error) {
	msg, ok := m.messages[id]
	return msg, ok, nil
}

// UpsertMessage inserts or replaces a message.
func (m *Memory) UpsertMessage(msg conversation.Message) error {
	m.messages[msg.ID] = msg
	return nil
}

// Messages returns the messages of a conversation ordered by SentAt.
func (m *Memory) Messages(conversationID int64) ([]conversation.Message, error) {
	list := make([]conversation.Message, 0)
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			list = append(list, msg)
		}
	}
	sortMessages(list)
	return list, nil
}

// GetConversation returns the conversation with the given ID.
func (m *Memory) GetConversation(id int64) (
	conversation.Conversation, bool, error) {
	c, ok := m.conversations[id]
	return c, ok, nil
}

// UpsertConversation inserts or replaces a conversation.
func (m *Memory) UpsertConversation(c conversation.Conversation) error {
	m.conversations[c.ID] = c
	return nil
}

// Conversations returns every conversation, most recent first.
func (m *Memory) Conversations() ([]conversation.Conversation, error) {
	list := make([]conversation.Conversation, 0, len(m.conversations))
	for _, c := range m.conversations {
		list = append(list, c)
	}
	sortConversations(list)
	return list, nil
}

// ReplaceConversations drops every conversation summary and stores cs.
func (m *Memory) ReplaceConversations(cs []conversation.Conversation) error {
	m.conversations = make(map[int64]conversation.Conversation, len(cs))
	for _, c := range cs {
		m.conversations[c.ID] = c
	}
	return nil
}

func sortMessages(list []conversation.Message) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].SentAt.Equal(list[j].SentAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].SentAt.Before(list[j].SentAt)
	})
}

func sortConversations(list []conversation.Conversation) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].LastMessageAt.Equal(list[j].LastMessageAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].LastMessageAt.After(list[j].LastMessageAt)
	})
}
