////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package normalize

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/pkg/errors"

	"gitlab.com/elixxir/hubclient/conversation"
)

func args(payloads ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(payloads))
	for i, p := range payloads {
		out[i] = json.RawMessage(p)
	}
	return out
}

// Tests the documented example: a message delivered in the hub's native
// casing with the optional timestamps omitted.
func TestNormalize_ReceiveMessage(t *testing.T) {
	e, err := Normalize(TargetReceiveMessage, args(`{"ConversationId":42,`+
		`"MessageId":7,"MessageContent":"hola","SentAt":"2024-01-01T00:00:00Z"}`))
	if err != nil {
		t.Fatalf("Normalize returned an error: %+v", err)
	}

	expected := Event{
		Kind:           MessageDelivered,
		Target:         TargetReceiveMessage,
		ConversationID: 42,
		MessageID:      7,
		Content:        "hola",
		Direction:      conversation.Inbound,
		Status:         conversation.Sent,
		SentAt:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if !reflect.DeepEqual(expected, e) {
		t.Errorf("Unexpected event.\nexpected: %+v\nreceived: %+v", expected, e)
	}
	if e.DeliveredAt != nil || e.ReadAt != nil {
		t.Errorf("Omitted timestamps must be nil.\ndeliveredAt: %v\nreadAt: %v",
			e.DeliveredAt, e.ReadAt)
	}
}

// Tests that camelCase, snake_case and nested shapes of the same event
// produce the same canonical event.
func TestNormalize_ReceiveMessage_Casing(t *testing.T) {
	payloads := []string{
		`{"conversationId":42,"messageId":7,"messageContent":"hola"}`,
		`{"conversation_id":42,"message_id":7,"content":"hola"}`,
		`{"ConversationID":"42","MessageID":"7","Text":"hola"}`,
		`{"message":{"id":7,"conversationId":42,"content":"hola"}}`,
	}

	for i, p := range payloads {
		e, err := Normalize(TargetReceiveMessage, args(p))
		if err != nil {
			t.Errorf("Normalize returned an error (%d): %+v", i, err)
			continue
		}
		if e.ConversationID != 42 || e.MessageID != 7 || e.Content != "hola" {
			t.Errorf("Unexpected event (%d): %+v", i, e)
		}
		if e.Status != conversation.Sent {
			t.Errorf("Status did not default to sent (%d): %s", i, e.Status)
		}
	}
}

// Tests that an empty object resolves every field to its default.
func TestNormalize_Defaults(t *testing.T) {
	e, err := Normalize(TargetReceiveMessage, args(`{}`))
	if err != nil {
		t.Fatalf("Normalize returned an error: %+v", err)
	}

	if e.ConversationID != 0 || e.MessageID != 0 || e.Content != "" ||
		!e.SentAt.IsZero() || e.DeliveredAt != nil || e.ReadAt != nil ||
		e.Direction != conversation.Inbound || e.Status != conversation.Sent {
		t.Errorf("Unexpected defaults: %+v", e)
	}

	e, err = Normalize(TargetUserTyping, args(`{"ConversationId":3}`))
	if err != nil {
		t.Fatalf("Normalize returned an error: %+v", err)
	}
	if !e.IsTyping || e.UserName != "" {
		t.Errorf("Unexpected typing defaults: %+v", e)
	}
}

// Tests that values of the wrong type and nulls fall back on defaults instead
// of failing.
func TestNormalize_WrongTypes(t *testing.T) {
	e, err := Normalize(TargetReceiveMessage, args(`{"ConversationId":"abc",`+
		`"MessageId":null,"MessageContent":{"x":1},"SentAt":"yesterday",`+
		`"Status":"exploded","ReadAt":0}`))
	if err != nil {
		t.Fatalf("Normalize returned an error: %+v", err)
	}

	if e.ConversationID != 0 || e.MessageID != 0 || e.Content != "" ||
		!e.SentAt.IsZero() || e.ReadAt != nil || e.Status != conversation.Sent {
		t.Errorf("Unexpected event: %+v", e)
	}
}

// Tests status changes, including the read shortcut and numeric codes.
func TestNormalize_StatusChanged(t *testing.T) {
	testValues := []struct {
		target   string
		payload  []json.RawMessage
		id       int64
		expected conversation.Status
	}{
		{TargetMessageStatusChanged, args(`{"MessageId":7,"NewStatus":"read"}`),
			7, conversation.Read},
		{TargetMessageStatusChanged, args(`{"messageId":8,"newStatus":1}`),
			8, conversation.Delivered},
		{TargetMessageStatusChanged, args(`{"MessageId":9}`),
			9, conversation.Unknown},
		{TargetMessageStatusChanged, args(`10`, `"Delivered"`),
			10, conversation.Delivered},
		{TargetMessageRead, args(`{"MessageId":11,"ReadAt":1704067200}`),
			11, conversation.Read},
		{TargetMessageRead, args(`12`),
			12, conversation.Read},
	}

	for i, val := range testValues {
		e, err := Normalize(val.target, val.payload)
		if err != nil {
			t.Errorf("Normalize returned an error (%d): %+v", i, err)
			continue
		}
		if e.Kind != StatusChanged || e.MessageID != val.id ||
			e.Status != val.expected {
			t.Errorf("Unexpected event (%d).\nexpected: %d %s\nreceived: %+v",
				i, val.id, val.expected, e)
		}
	}

	e, _ := Normalize(TargetMessageRead, args(`{"MessageId":11,"ReadAt":1704067200000}`))
	if e.At == nil || !e.At.Equal(time.Unix(1704067200, 0)) {
		t.Errorf("Millisecond epoch not parsed: %v", e.At)
	}
}

// Tests that positional typing arguments are read in order.
func TestNormalize_UserTyping_Positional(t *testing.T) {
	e, err := Normalize("usertyping", args(`5`, `"ana"`, `false`))
	if err != nil {
		t.Fatalf("Normalize returned an error: %+v", err)
	}
	if e.Kind != Typing || e.ConversationID != 5 || e.UserName != "ana" ||
		e.IsTyping {
		t.Errorf("Unexpected event: %+v", e)
	}
}

// Tests the tenant-wide notification with the outbound flag.
func TestNormalize_NewMessage(t *testing.T) {
	e, err := Normalize(TargetNewMessage, args(`{"ConversationId":42,`+
		`"MessageId":8,"Preview":"hi","ContactName":"Ana","IsFromMe":true}`))
	if err != nil {
		t.Fatalf("Normalize returned an error: %+v", err)
	}
	if e.Kind != NewMessageNotice || e.Content != "hi" || e.Title != "Ana" ||
		e.Direction != conversation.Outbound {
		t.Errorf("Unexpected event: %+v", e)
	}
}

// Tests that IDs beyond the exact range of a float64 keep every digit, both
// in object and positional payloads.
func TestNormalize_LargeIDs(t *testing.T) {
	const id = int64(9007199254740993)

	e, err := Normalize(TargetReceiveMessage,
		args(`{"ConversationId":9007199254740993,"MessageId":9007199254740993}`))
	if err != nil {
		t.Fatalf("Normalize returned an error: %+v", err)
	}
	if e.MessageID != id || e.ConversationID != id {
		t.Errorf("Large IDs lost precision.\nexpected: %d\nreceived: %d %d",
			id, e.ConversationID, e.MessageID)
	}

	e, err = Normalize(TargetMessageRead, args(`9007199254740993`))
	if err != nil {
		t.Fatalf("Normalize returned an error: %+v", err)
	}
	if e.MessageID != id {
		t.Errorf("Large positional ID lost precision."+
			"\nexpected: %d\nreceived: %d", id, e.MessageID)
	}

	sent, err := SentMessageID(json.RawMessage(`{"MessageId":9007199254740993}`))
	if err != nil || sent != id {
		t.Errorf("Large sent ID lost precision.\nexpected: %d\nreceived: %d %v",
			id, sent, err)
	}
}

// Tests that an object payload is read by path even when the hub appends
// further arguments after it.
func TestNormalize_ObjectWithExtraArgs(t *testing.T) {
	e, err := Normalize(TargetReceiveMessage, args(`{"ConversationId":42,`+
		`"MessageId":7,"MessageContent":"hola"}`, `"trace-1"`, `3`))
	if err != nil {
		t.Fatalf("Normalize returned an error: %+v", err)
	}
	if e.ConversationID != 42 || e.MessageID != 7 || e.Content != "hola" {
		t.Errorf("Unexpected event: %+v", e)
	}
}

// Error path: unknown targets and non JSON payloads.
func TestNormalize_Errors(t *testing.T) {
	if _, err := Normalize("Bogus", args(`{}`)); !errors.Is(err, ErrUnknownTarget) {
		t.Errorf("Expected ErrUnknownTarget, received %+v", err)
	}

	if _, err := Normalize(TargetReceiveMessage, args(`{"ConversationId":`)); err == nil {
		t.Error("Expected an error for a truncated payload.")
	}
}

// Tests that a conversation summary accepts both a nested and a flat last
// message.
func TestSummary(t *testing.T) {
	c, err := Summary(json.RawMessage(`{"Id":42,"Title":"Ana","UnreadCount":3,` +
		`"LastMessage":{"Id":9,"Content":"bye","SentAt":"2024-01-02T00:00:00Z"}}`))
	if err != nil {
		t.Fatalf("Summary returned an error: %+v", err)
	}
	expected := conversation.Conversation{
		ID: 42, Title: "Ana", LastMessageID: 9, LastMessage: "bye",
		LastMessageAt: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		UnreadCount:   3,
	}
	if !reflect.DeepEqual(expected, c) {
		t.Errorf("Unexpected summary.\nexpected: %+v\nreceived: %+v", expected, c)
	}

	c, err = Summary(json.RawMessage(`{"id":5,"lastMessage":"hey"}`))
	if err != nil {
		t.Fatalf("Summary returned an error: %+v", err)
	}
	if c.ID != 5 || c.LastMessage != "hey" || c.UnreadCount != 0 {
		t.Errorf("Unexpected summary: %+v", c)
	}
}

// Tests the casing expansion of wire paths.
func TestPaths(t *testing.T) {
	expected := []string{"Message.ConversationId", "message.conversationId",
		"message.conversation_id", "Message.ConversationID"}
	if p := paths("Message.ConversationId"); !reflect.DeepEqual(expected, p) {
		t.Errorf("Unexpected paths.\nexpected: %v\nreceived: %v", expected, p)
	}
}

func TestSentMessageID(t *testing.T) {
	tests := []struct {
		payload  string
		expected int64
	}{
		{`{"messageId": 51}`, 51},
		{`{"Id": "52"}`, 52},
		{`{"message": {"id": 53}}`, 53},
		{`54`, 54},
		{`"55"`, 55},
		{`{"MessageId": 56, "Status": "sent"}`, 56},
	}
	for _, tt := range tests {
		id, err := SentMessageID(json.RawMessage(tt.payload))
		if err != nil {
			t.Errorf("SentMessageID(%s) failed: %+v", tt.payload, err)
		}
		if id != tt.expected {
			t.Errorf("Unexpected ID for %s.\nexpected: %d\nreceived: %d",
				tt.payload, tt.expected, id)
		}
	}

	for _, payload := range []string{`null`, `{}`, `{"id": "x"}`, `nope`} {
		if _, err := SentMessageID(json.RawMessage(payload)); err == nil {
			t.Errorf("No error for %s", payload)
		}
	}
}
