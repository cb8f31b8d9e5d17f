////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package normalize

import (
	"strings"
	"unicode"

	"gitlab.com/elixxir/hubclient/conversation"
)

// fieldType selects how a raw wire value is coerced.
type fieldType uint8

const (
	intField fieldType = iota
	stringField
	timeField
	boolField
	statusField
	directionField
)

// Canonical field names.
const (
	fConversationID = "conversationId"
	fMessageID      = "messageId"
	fContent        = "content"
	fSenderName     = "senderName"
	fTitle          = "title"
	fDirection      = "direction"
	fOutbound       = "outbound"
	fStatus         = "status"
	fSentAt         = "sentAt"
	fDeliveredAt    = "deliveredAt"
	fReadAt         = "readAt"
	fAt             = "at"
	fUserName       = "userName"
	fIsTyping       = "isTyping"
	fLastMessageID  = "lastMessageId"
	fLastMessage    = "lastMessage"
	fLastMessageAt  = "lastMessageAt"
	fUnreadCount    = "unreadCount"
)

// field describes one canonical field of an event.
type field struct {
	name string
	typ  fieldType

	// paths are gojsonq paths tried in order; the first value that coerces
	// wins.
	paths []string

	// arg is the position of the field when the hub sends positional
	// arguments instead of a single object. -1 if never positional.
	arg int

	// def is used when no path yields a value. nil means the zero value of
	// the field type.
	def interface{}
}

// schema describes one wire event type.
type schema struct {
	kind   Kind
	fields []field
}

// schemas is the mapping table from wire target (lower case, the hub matches
// targets case-insensitively) to its schema. New event types are additions to
// this table.
var schemas = map[string]schema{
	strings.ToLower(TargetReceiveMessage): {
		kind: MessageDelivered,
		fields: []field{
			{name: fConversationID, typ: intField, arg: 0,
				paths: paths("ConversationId", "ChatId",
					"Message.ConversationId")},
			{name: fMessageID, typ: intField, arg: -1,
				paths: paths("MessageId", "Message.Id", "Id")},
			{name: fContent, typ: stringField, arg: -1,
				paths: paths("MessageContent", "Content", "Text", "Body",
					"Message.Content", "Message.Text")},
			{name: fSenderName, typ: stringField, arg: -1,
				paths: paths("SenderName", "Sender", "From")},
			{name: fDirection, typ: directionField, arg: -1,
				paths: paths("Direction", "Message.Direction")},
			{name: fOutbound, typ: boolField, arg: -1,
				paths: paths("IsOutbound", "IsFromMe", "FromMe")},
			{name: fStatus, typ: statusField, arg: -1,
				paths: paths("Status", "Message.Status"),
				def:   conversation.Sent},
			{name: fSentAt, typ: timeField, arg: -1,
				paths: paths("SentAt", "Timestamp", "CreatedAt",
					"Message.SentAt")},
			{name: fDeliveredAt, typ: timeField, arg: -1,
				paths: paths("DeliveredAt", "Message.DeliveredAt")},
			{name: fReadAt, typ: timeField, arg: -1,
				paths: paths("ReadAt", "Message.ReadAt")},
		},
	},
	strings.ToLower(TargetNewMessage): {
		kind: NewMessageNotice,
		fields: []field{
			{name: fConversationID, typ: intField, arg: 0,
				paths: paths("ConversationId", "ChatId")},
			{name: fMessageID, typ: intField, arg: -1,
				paths: paths("MessageId", "LastMessageId", "Id")},
			{name: fContent, typ: stringField, arg: -1,
				paths: paths("MessageContent", "Content", "Preview",
					"LastMessage", "Text")},
			{name: fSenderName, typ: stringField, arg: -1,
				paths: paths("SenderName", "Sender", "From")},
			{name: fTitle, typ: stringField, arg: -1,
				paths: paths("ConversationTitle", "ContactName", "Title")},
			{name: fDirection, typ: directionField, arg: -1,
				paths: paths("Direction")},
			{name: fOutbound, typ: boolField, arg: -1,
				paths: paths("IsOutbound", "IsFromMe", "FromMe")},
			{name: fSentAt, typ: timeField, arg: -1,
				paths: paths("SentAt", "Timestamp", "CreatedAt")},
		},
	},
	strings.ToLower(TargetMessageStatusChanged): {
		kind: StatusChanged,
		fields: []field{
			{name: fMessageID, typ: intField, arg: 0,
				paths: paths("MessageId", "Id")},
			{name: fStatus, typ: statusField, arg: 1,
				paths: paths("NewStatus", "Status")},
			{name: fConversationID, typ: intField, arg: -1,
				paths: paths("ConversationId")},
			{name: fAt, typ: timeField, arg: 2,
				paths: paths("UpdatedAt", "ChangedAt", "StatusAt",
					"Timestamp")},
		},
	},
	strings.ToLower(TargetMessageRead): {
		kind: StatusChanged,
		fields: []field{
			{name: fMessageID, typ: intField, arg: 0,
				paths: paths("MessageId", "Id")},
			{name: fStatus, typ: statusField, arg: -1,
				def: conversation.Read},
			{name: fConversationID, typ: intField, arg: -1,
				paths: paths("ConversationId")},
			{name: fAt, typ: timeField, arg: 1,
				paths: paths("ReadAt", "Timestamp")},
		},
	},
	strings.ToLower(TargetUserTyping): {
		kind: Typing,
		fields: []field{
			{name: fConversationID, typ: intField, arg: 0,
				paths: paths("ConversationId", "ChatId")},
			{name: fUserName, typ: stringField, arg: 1,
				paths: paths("UserName", "User", "SenderName")},
			{name: fIsTyping, typ: boolField, arg: 2,
				paths: paths("IsTyping", "Typing"),
				def:   true},
		},
	},
}

// sentSchema maps the completion of a send-message invocation.
var sentSchema = schema{
	fields: []field{
		{name: fMessageID, typ: intField, arg: -1,
			paths: paths("MessageId", "Id", "Message.Id")},
	},
}

// summarySchema maps a conversation summary returned by the conversations
// endpoint.
var summarySchema = schema{
	fields: []field{
		{name: fConversationID, typ: intField, arg: -1,
			paths: paths("Id", "ConversationId")},
		{name: fTitle, typ: stringField, arg: -1,
			paths: paths("Title", "Name", "ContactName", "CustomerName")},
		{name: fLastMessageID, typ: intField, arg: -1,
			paths: paths("LastMessageId", "LastMessage.Id")},
		{name: fLastMessage, typ: stringField, arg: -1,
			paths: paths("LastMessage.Content", "LastMessage",
				"LastMessageContent")},
		{name: fLastMessageAt, typ: timeField, arg: -1,
			paths: paths("LastMessageAt", "LastMessage.SentAt", "UpdatedAt")},
		{name: fUnreadCount, typ: intField, arg: -1,
			paths: paths("UnreadCount", "Unread", "UnreadMessages")},
	},
}

// paths expands each PascalCase wire path into the casings the hub is known
// to use: PascalCase, camelCase, snake_case and the "ID" acronym form.
func paths(names ...string) []string {
	seen := make(map[string]struct{}, len(names)*4)
	var out []string
	add := func(p string) {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	for _, name := range names {
		add(name)
		add(mapSegments(name, lowerFirst))
		add(mapSegments(name, snake))
		if strings.HasSuffix(name, "Id") {
			add(strings.TrimSuffix(name, "Id") + "ID")
		}
	}
	return out
}

// mapSegments applies f to every dot separated segment of a path.
func mapSegments(path string, f func(string) string) string {
	segments := strings.Split(path, ".")
	for i := range segments {
		segments[i] = f(segments[i])
	}
	return strings.Join(segments, ".")
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}

func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
