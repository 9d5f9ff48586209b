package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	apperrors "github.com/lorrc/dashboard-sync/internal/core/errors"
)

// Envelope is the JSON frame exchanged on the push channel.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type decoderFunc func(kind MessageKind, payload json.RawMessage) (Message, error)

// decoders maps every recognized inbound kind to its payload decoder.
var decoders = map[MessageKind]decoderFunc{
	KindConnection:      decodeConnection,
	KindDashboardUpdate: decodeDashboardUpdate,

	KindPerformanceUpdate: decodeDataUpdate,
	KindTaskUpdate:        decodeDataUpdate,
	KindTeamUpdate:        decodeDataUpdate,
	KindProjectUpdate:     decodeDataUpdate,
	KindSystemUpdate:      decodeDataUpdate,
	KindResourceUpdate:    decodeDataUpdate,
	KindWorktimeUpdate:    decodeDataUpdate,

	KindNotification:        decodeNotification,
	KindPendingNotification: decodeNotification,
	KindTaskAssignment:      decodeNotification,
	KindProjectCreation:     decodeNotification,
	KindEmployeeReport:      decodeNotification,
	KindGroupChatAddition:   decodeNotification,
}

// IsRecognized reports whether kind has a decoder.
func IsRecognized(kind MessageKind) bool {
	_, ok := decoders[kind]
	return ok
}

// DecodeFrame decodes one inbound frame. Unknown kinds decode to an
// UnrecognizedMessage without error; undecodable frames return a
// *MalformedMessageError.
func DecodeFrame(frame []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, &apperrors.MalformedMessageError{Err: err}
	}
	if env.Type == "" {
		return nil, &apperrors.MalformedMessageError{Err: fmt.Errorf("missing message type")}
	}

	kind := MessageKind(env.Type)
	decode, ok := decoders[kind]
	if !ok {
		return UnrecognizedMessage{Name: env.Type, Raw: env.Payload}, nil
	}

	msg, err := decode(kind, env.Payload)
	if err != nil {
		return nil, &apperrors.MalformedMessageError{Kind: env.Type, Err: err}
	}
	return msg, nil
}

// EncodeFrame wraps payload in an envelope of the given type.
func EncodeFrame(kind string, payload any) ([]byte, error) {
	env := Envelope{Type: kind}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", kind, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

func decodeConnection(_ MessageKind, payload json.RawMessage) (Message, error) {
	var ev ConnectionEvent
	if err := unmarshalObject(payload, &ev); err != nil {
		return nil, err
	}
	if ev.Status == "" {
		return nil, fmt.Errorf("missing status")
	}
	return ev, nil
}

func decodeDashboardUpdate(_ MessageKind, payload json.RawMessage) (Message, error) {
	var u DashboardUpdate
	if err := unmarshalObject(payload, &u); err != nil {
		return nil, err
	}
	if u.Type == "" {
		return nil, fmt.Errorf("missing dashboard type")
	}
	if u.Type != DashboardAll && !u.Type.IsValid() {
		return nil, fmt.Errorf("unknown dashboard type %q", u.Type)
	}
	return u, nil
}

func decodeDataUpdate(kind MessageKind, payload json.RawMessage) (Message, error) {
	data, err := decodeMap(payload)
	if err != nil {
		return nil, err
	}
	ts, err := timestampField(data, "timestamp")
	if err != nil {
		return nil, err
	}
	return DataUpdate{
		MessageKind: kind,
		AssignedTo:  stringField(data, "assignedTo"),
		TeamID:      stringField(data, "teamId"),
		Timestamp:   ts,
		Data:        data,
	}, nil
}

func decodeNotification(kind MessageKind, payload json.RawMessage) (Message, error) {
	data, err := decodeMap(payload)
	if err != nil {
		return nil, err
	}
	ts, err := timestampField(data, "timestamp")
	if err != nil {
		return nil, err
	}
	id := stringField(data, "notificationId")
	if id == "" {
		id = stringField(data, "id")
	}
	return NotificationPush{
		MessageKind: kind,
		ID:          id,
		Type:        stringField(data, "type"),
		Title:       stringField(data, "title"),
		Message:     stringField(data, "message"),
		Priority:    Priority(stringField(data, "priority")),
		ActionURL:   stringField(data, "actionUrl"),
		Timestamp:   ts,
		Data:        data,
	}, nil
}

func unmarshalObject(payload json.RawMessage, v any) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		return fmt.Errorf("empty payload")
	}
	return json.Unmarshal(payload, v)
}

// decodeMap keeps numbers as json.Number so ids survive the round trip.
func decodeMap(payload json.RawMessage) (map[string]any, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("payload is not an object")
	}
	return m, nil
}

// stringField reads an id-like field that may be a string or a number.
func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func timestampField(m map[string]any, key string) (Timestamp, error) {
	var ts Timestamp
	v, ok := m[key]
	if !ok || v == nil {
		return ts, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ts, err
	}
	if err := ts.UnmarshalJSON(raw); err != nil {
		return ts, err
	}
	return ts, nil
}
