////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// sqlite requires cgo, which is not available in wasm
//go:build !js || !wasm

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"gitlab.com/elixxir/hubclient/conversation"
)

const (
	// Can be provided to SqlLite to create a temporary, in-memory DB.
	temporaryDbPath = "file:%s?mode=memory&cache=shared"

	// Determines maximum runtime (in seconds) of DB queries.
	dbTimeout = 3 * time.Second
)

// newContext builds a context for database operations.
func newContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), dbTimeout)
}

// SQL is a reconcile.Store backed by a sqlite database.
// NOTE: This store is NOT thread safe; the reconciler serialises access.
type SQL struct {
	db *gorm.DB
}

// NewSQL opens the sqlite database at dbFilePath, creating the schema if
// needed. An empty path opens a temporary in-memory database.
func NewSQL(dbFilePath string) (*SQL, error) {
	if len(dbFilePath) == 0 {
		dbFilePath = fmt.Sprintf(temporaryDbPath, "hubclient")
		jww.WARN.Printf("[STORE SQL] No database file path specified! " +
			"Using temporary in-memory database")
	}
	return newSQL(dbFilePath)
}

func newSQL(dbFilePath string) (*SQL, error) {
	db, err := gorm.Open(sqlite.Open(dbFilePath), &gorm.Config{
		Logger: logger.New(jww.TRACE, logger.Config{LogLevel: logger.Info}),
	})
	if err != nil {
		return nil, errors.Errorf(
			"Unable to initialize database backend: %+v", err)
	}

	// Enable Write Ahead Logging to enable multiple DB connections
	if err = db.Exec("PRAGMA journal_mode = WAL;").Error; err != nil {
		return nil, err
	}

	sqlDb, err := db.DB()
	if err != nil {
		return nil, errors.Errorf(
			"Unable to configure database connection pool: %+v", err)
	}
	sqlDb.SetMaxIdleConns(5)
	sqlDb.SetMaxOpenConns(10)
	sqlDb.SetConnMaxIdleTime(5 * time.Minute)
	sqlDb.SetConnMaxLifetime(10 * time.Minute)

	if err = db.AutoMigrate(&Conversation{}, &Message{}); err != nil {
		return nil, err
	}

	jww.INFO.Println("[STORE SQL] Database backend initialized successfully!")
	return &SQL{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQL) Close() error {
	sqlDb, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDb.Close()
}

// GetMessage returns the message with the given ID.
func (s *SQL) GetMessage(id int64) (conversation.Message, bool, error) {
	jww.TRACE.Printf("[STORE SQL] GetMessage(%d)", id)
	var row Message
	ctx, cancel := newContext()
	result := s.db.WithContext(ctx).Limit(1).Find(&row, "id = ?", id)
	cancel()
	if result.Error != nil {
		return conversation.Message{}, false, result.Error
	}
	if result.RowsAffected == 0 {
		return conversation.Message{}, false, nil
	}
	return row.toMessage(), true, nil
}

// UpsertMessage inserts or replaces a message.
func (s *SQL) UpsertMessage(m conversation.Message) error {
	jww.TRACE.Printf("[STORE SQL] UpsertMessage(%d)", m.ID)
	row := fromMessage(m)
	ctx, cancel := newContext()
	defer cancel()
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		UpdateAll: true}).Create(&row).Error
}

// Messages returns the messages of a conversation ordered by SentAt.
func (s *SQL) Messages(conversationID int64) ([]conversation.Message, error) {
	jww.TRACE.Printf("[STORE SQL] Messages(%d)", conversationID)
	var rows []Message
	ctx, cancel := newContext()
	err := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID).
		Order("sent_at, id").Find(&rows).Error
	cancel()
	if err != nil {
		return nil, err
	}
	list := make([]conversation.Message, len(rows))
	for i := range rows {
		list[i] = rows[i].toMessage()
	}
	return list, nil
}

// GetConversation returns the conversation with the given ID.
func (s *SQL) GetConversation(id int64) (
	conversation.Conversation, bool, error) {
	jww.TRACE.Printf("[STORE SQL] GetConversation(%d)", id)
	var row Conversation
	ctx, cancel := newContext()
	result := s.db.WithContext(ctx).Limit(1).Find(&row, "id = ?", id)
	cancel()
	if result.Error != nil {
		return conversation.Conversation{}, false, result.Error
	}
	if result.RowsAffected == 0 {
		return conversation.Conversation{}, false, nil
	}
	return row.toConversation(), true, nil
}

// UpsertConversation inserts or replaces a conversation.
func (s *SQL) UpsertConversation(c conversation.Conversation) error {
	jww.TRACE.Printf("[STORE SQL] UpsertConversation(%d)", c.ID)
	row := fromConversation(c)
	ctx, cancel := newContext()
	defer cancel()
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		UpdateAll: true}).Create(&row).Error
}

// Conversations returns every conversation, most recent first.
func (s *SQL) Conversations() ([]conversation.Conversation, error) {
	var rows []Conversation
	ctx, cancel := newContext()
	err := s.db.WithContext(ctx).Order("last_message_at DESC, id").
		Find(&rows).Error
	cancel()
	if err != nil {
		return nil, err
	}
	list := make([]conversation.Conversation, len(rows))
	for i := range rows {
		list[i] = rows[i].toConversation()
	}
	return list, nil
}

// ReplaceConversations drops every conversation summary and stores cs in a
// single transaction.
func (s *SQL) ReplaceConversations(cs []conversation.Conversation) error {
	jww.TRACE.Printf("[STORE SQL] ReplaceConversations(%d)", len(cs))
	ctx, cancel := newContext()
	defer cancel()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).
			Delete(&Conversation{}).Error
		if err != nil {
			return err
		}
		if len(cs) == 0 {
			return nil
		}
		rows := make([]Conversation, len(cs))
		for i := range cs {
			rows[i] = fromConversation(cs[i])
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).
			Create(&rows).Error
	})
}

func fromMessage(m conversation.Message) Message {
	return Message{
		Id:             m.ID,
		ConversationId: m.ConversationID,
		Direction:      uint8(m.Direction),
		Status:         uint8(m.Status),
		Content:        m.Content,
		SenderName:     m.SenderName,
		SentAt:         m.SentAt,
		DeliveredAt:    m.DeliveredAt,
		ReadAt:         m.ReadAt,
	}
}

func (m Message) toMessage() conversation.Message {
	return conversation.Message{
		ID:             m.Id,
		ConversationID: m.ConversationId,
		Direction:      conversation.Direction(m.Direction),
		Status:         conversation.Status(m.Status),
		Content:        m.Content,
		SenderName:     m.SenderName,
		SentAt:         m.SentAt,
		DeliveredAt:    m.DeliveredAt,
		ReadAt:         m.ReadAt,
	}
}

func fromConversation(c conversation.Conversation) Conversation {
	return Conversation{
		Id:             c.ID,
		Title:          c.Title,
		LastMessageId:  c.LastMessageID,
		LastMessage:    c.LastMessage,
		LastMessageAt:  c.LastMessageAt,
		LastNotifiedId: c.LastNotifiedID,
		UnreadCount:    c.UnreadCount,
	}
}

func (c Conversation) toConversation() conversation.Conversation {
	return conversation.Conversation{
		ID:             c.Id,
		Title:          c.Title,
		LastMessageID:  c.LastMessageId,
		LastMessage:    c.LastMessage,
		LastMessageAt:  c.LastMessageAt,
		LastNotifiedID: c.LastNotifiedId,
		UnreadCount:    c.UnreadCount,
	}
}
