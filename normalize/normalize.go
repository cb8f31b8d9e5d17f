////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package normalize

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/thedevsaddam/gojsonq"

	"gitlab.com/elixxir/hubclient/conversation"
)

// ErrUnknownTarget is returned for wire targets that have no schema.
var ErrUnknownTarget = errors.New("no schema for hub target")

// Error messages.
const (
	malformedPayloadErr = "malformed %s payload"
	unknownTargetErr    = "%q"
	noMessageIDErr      = "send result carries no message ID"
)

// Numeric timestamps above this are taken to be milliseconds since the epoch.
const millisecondThreshold = 1e12

// record holds the coerced canonical fields of one event.
type record map[string]interface{}

// Targets returns the wire targets that have a schema, in their canonical
// casing.
func Targets() []string {
	return []string{TargetReceiveMessage, TargetNewMessage,
		TargetMessageStatusChanged, TargetMessageRead, TargetUserTyping}
}

// Normalize maps the arguments of a hub invocation into a canonical Event.
//
// An object first argument is queried by path and any further arguments are
// ignored; any other shape is read positionally. Missing or uncoercible fields resolve to their defaults. An
// error is only returned for unknown targets and for a payload that is not
// JSON at all, in which case the returned Event is unusable.
func Normalize(target string, args []json.RawMessage) (Event, error) {
	s, exists := schemas[strings.ToLower(target)]
	if !exists {
		return Event{}, errors.WithMessagef(
			ErrUnknownTarget, unknownTargetErr, target)
	}

	var (
		r   record
		err error
	)
	if len(args) > 0 && isObject(args[0]) {
		r, err = s.fromObject(args[0])
	} else {
		r, err = s.fromPositional(args)
	}
	if err != nil {
		return Event{}, errors.WithMessagef(err, malformedPayloadErr, target)
	}

	e := r.event(s.kind)
	e.Target = target
	jww.TRACE.Printf("[NORM] %s -> %+v", target, e)
	return e, nil
}

// Summary maps one conversation summary object into a Conversation.
func Summary(payload json.RawMessage) (conversation.Conversation, error) {
	if !isObject(payload) {
		return conversation.Conversation{}, errors.Errorf(
			malformedPayloadErr, "conversation summary")
	}
	r, err := summarySchema.fromObject(payload)
	if err != nil {
		return conversation.Conversation{},
			errors.WithMessagef(err, malformedPayloadErr, "conversation summary")
	}

	c := conversation.Conversation{
		ID:            r.int(fConversationID),
		Title:         r.string(fTitle),
		LastMessageID: r.int(fLastMessageID),
		LastMessage:   r.string(fLastMessage),
		UnreadCount:   int(r.int(fUnreadCount)),
	}
	if at := r.time(fLastMessageAt); at != nil {
		c.LastMessageAt = *at
	}
	return c, nil
}

// SentMessageID reads the ID of a newly sent message out of the completion of
// a send-message invocation. The hub returns either the bare ID or an object
// carrying it.
func SentMessageID(result json.RawMessage) (int64, error) {
	var id int64
	if isObject(result) {
		r, err := sentSchema.fromObject(result)
		if err != nil {
			return 0, errors.WithMessagef(err, malformedPayloadErr,
				"send result")
		}
		id = r.int(fMessageID)
	} else {
		var raw interface{}
		if err := (numberDecoder{}).Decode(result, &raw); err != nil {
			return 0, errors.WithMessagef(err, malformedPayloadErr,
				"send result")
		}
		if v, ok := coerce(intField, raw); ok {
			id = v.(int64)
		}
	}

	if id == 0 {
		return 0, errors.New(noMessageIDErr)
	}
	return id, nil
}

// fromObject reads every field of the schema out of a JSON object.
func (s schema) fromObject(payload json.RawMessage) (record, error) {
	jq := gojsonq.New(gojsonq.SetDecoder(numberDecoder{})).
		FromString(string(payload))
	if err := jq.Error(); err != nil {
		return nil, err
	}

	r := make(record, len(s.fields))
	for _, f := range s.fields {
		r[f.name] = f.def
		for _, p := range f.paths {
			raw := jq.Reset().Find(p)
			if raw == nil {
				continue
			}
			if v, ok := coerce(f.typ, raw); ok {
				r[f.name] = v
				break
			}
			jww.DEBUG.Printf("[NORM] Ignoring uncoercible value %v at %q",
				raw, p)
		}
	}
	return r, nil
}

// fromPositional reads the fields of the schema that have a position out of
// the argument list.
func (s schema) fromPositional(args []json.RawMessage) (record, error) {
	r := make(record, len(s.fields))
	for _, f := range s.fields {
		r[f.name] = f.def
		if f.arg < 0 || f.arg >= len(args) {
			continue
		}

		var raw interface{}
		if err := (numberDecoder{}).Decode(args[f.arg], &raw); err != nil {
			return nil, err
		}
		if raw == nil {
			continue
		}
		if v, ok := coerce(f.typ, raw); ok {
			r[f.name] = v
		}
	}
	return r, nil
}

// event builds the canonical event of the given kind out of the record.
func (r record) event(kind Kind) Event {
	e := Event{
		Kind:           kind,
		ConversationID: r.int(fConversationID),
		MessageID:      r.int(fMessageID),
		Content:        r.string(fContent),
		SenderName:     r.string(fSenderName),
		Title:          r.string(fTitle),
		Direction:      r.direction(),
		Status:         r.status(),
		DeliveredAt:    r.time(fDeliveredAt),
		ReadAt:         r.time(fReadAt),
		At:             r.time(fAt),
		UserName:       r.string(fUserName),
		IsTyping:       r.bool(fIsTyping),
	}
	if sentAt := r.time(fSentAt); sentAt != nil {
		e.SentAt = *sentAt
	}
	return e
}

func (r record) int(name string) int64 {
	v, _ := r[name].(int64)
	return v
}

func (r record) string(name string) string {
	v, _ := r[name].(string)
	return v
}

func (r record) bool(name string) bool {
	v, _ := r[name].(bool)
	return v
}

func (r record) time(name string) *time.Time {
	v, _ := r[name].(*time.Time)
	return v
}

func (r record) status() conversation.Status {
	v, _ := r[fStatus].(conversation.Status)
	return v
}

// direction prefers an explicit direction and falls back on the outbound
// flag.
func (r record) direction() conversation.Direction {
	if d, ok := r[fDirection].(conversation.Direction); ok {
		return d
	}
	if r.bool(fOutbound) {
		return conversation.Outbound
	}
	return conversation.Inbound
}

// coerce converts a raw decoded JSON value to the Go type of the field type.
// Returns false if the value cannot be converted.
func coerce(typ fieldType, raw interface{}) (interface{}, bool) {
	switch typ {
	case intField:
		return toInt(raw)
	case stringField:
		switch raw.(type) {
		case map[string]interface{}, []interface{}:
			return nil, false
		}
		v, err := cast.ToStringE(raw)
		return v, err == nil
	case boolField:
		v, err := cast.ToBoolE(raw)
		return v, err == nil
	case timeField:
		t, ok := toTime(raw)
		if !ok {
			return nil, false
		}
		return &t, true
	case statusField:
		s := conversation.ParseStatus(cast.ToString(raw))
		return s, s != conversation.Unknown
	case directionField:
		s, err := cast.ToStringE(raw)
		if err != nil || strings.TrimSpace(s) == "" {
			return nil, false
		}
		return conversation.ParseDirection(s), true
	default:
		return nil, false
	}
}

// toTime parses RFC 3339 strings (with or without zone) and numeric epochs in
// seconds or milliseconds. The zero time is treated as absent.
func toTime(raw interface{}) (time.Time, bool) {
	if n, ok := raw.(json.Number); ok {
		f, err := n.Float64()
		if err != nil {
			return time.Time{}, false
		}
		raw = f
	}
	if f, ok := raw.(float64); ok {
		if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
			return time.Time{}, false
		}
		if f > millisecondThreshold {
			return time.UnixMilli(int64(f)).UTC(), true
		}
		return time.Unix(int64(f), 0).UTC(), true
	}

	t, err := cast.ToTimeE(raw)
	if err != nil || t.IsZero() || t.Year() <= 1 {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// toInt converts a raw value to an int64. Integral JSON numbers are parsed
// exactly; fractional ones are truncated.
func toInt(raw interface{}) (interface{}, bool) {
	if n, ok := raw.(json.Number); ok {
		if v, err := n.Int64(); err == nil {
			return v, true
		}
		f, err := n.Float64()
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, false
		}
		return int64(f), true
	}
	v, err := cast.ToInt64E(raw)
	return v, err == nil
}

// numberDecoder decodes JSON keeping numbers as json.Number so that IDs
// beyond 2^53 survive.
type numberDecoder struct{}

// Decode is the gojsonq.Decoder implementation.
func (numberDecoder) Decode(data []byte, v interface{}) error {
	d := json.NewDecoder(bytes.NewReader(data))
	d.UseNumber()
	return d.Decode(v)
}

// isObject returns true if the raw JSON is an object.
func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
