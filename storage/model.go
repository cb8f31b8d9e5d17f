////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package storage

import (
	"time"
)

// Message is the SQL representation of a single hub message.
//
// A Message belongs to one Conversation, but the Conversation row may not
// exist yet when the message arrives, so there is no foreign key.
type Message struct {
	Id             int64     `gorm:"primaryKey;autoIncrement:false"`
	ConversationId int64     `gorm:"index;not null"`
	Direction      uint8     `gorm:"not null"`
	Status         uint8     `gorm:"not null"`
	Content        string    `gorm:"not null"`
	SenderName     string    `gorm:"not null"`
	SentAt         time.Time `gorm:"index;not null"`
	DeliveredAt    *time.Time
	ReadAt         *time.Time
}

// TableName overrides the table name used by Message.
func (Message) TableName() string {
	return "hub_messages"
}

// Conversation is the SQL representation of a conversation summary.
type Conversation struct {
	Id             int64     `gorm:"primaryKey;autoIncrement:false"`
	Title          string    `gorm:"not null"`
	LastMessageId  int64     `gorm:"not null"`
	LastMessage    string    `gorm:"not null"`
	LastMessageAt  time.Time `gorm:"index;not null"`
	LastNotifiedId int64     `gorm:"not null"`
	UnreadCount    int       `gorm:"not null"`
}

// TableName overrides the table name used by Conversation.
func (Conversation) TableName() string {
	return "hub_conversations"
}
