// Package event decodes domain event messages from the stream into a single
// normalized shape. Producers have used two field-naming conventions over
// time; every variant is resolved here so no other package has to care.
package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Known event types emitted by upstream services.
const (
	TaskCreated              = "task_created"
	TaskUpdated              = "task_updated"
	TaskDeleted              = "task_deleted"
	TaskAssigned             = "task_assigned"
	TaskStatusChanged        = "task_status_changed"
	DeadlineApproaching      = "deadline_approaching"
	DeadlineOverdue          = "deadline_overdue"
	RecurringTaskReset       = "recurring_task_reset"
	ProjectCreated           = "project_created"
	ProjectCollaboratorAdded = "project_collaborator_added"
)

// TargetUserKeys lists the data keys that may carry the target user id, in
// priority order. The first key holding a usable value wins.
var TargetUserKeys = []string{"uid", "user_id", "userId"}

var (
	ErrEmptyPayload = errors.New("empty payload")
	ErrNotObject    = errors.New("event is not a JSON object")
)

// Raw is a normalized domain event.
type Raw struct {
	Type      string
	Data      map[string]any
	Timestamp time.Time // zero when the producer sent none
}

// envelope accepts both the snake_case and camelCase producer variants.
type envelope struct {
	EventType      string          `json:"event_type"`
	EventTypeCamel string          `json:"eventType"`
	Data           json.RawMessage `json:"data"`
	Timestamp      json.RawMessage `json:"timestamp"`
}

// timestamp returns the producer timestamp when it is a JSON string.
// Numbers, objects and null are ignored rather than rejected.
func (e envelope) timestamp() string {
	var s string
	if len(e.Timestamp) == 0 || json.Unmarshal(e.Timestamp, &s) != nil {
		return ""
	}
	return s
}

// Decode parses a UTF-8 JSON event body. The data object is taken from the
// nested "data" key, or from the body itself when that key is absent or not
// an object.
func Decode(payload []byte) (Raw, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return Raw{}, ErrEmptyPayload
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Raw{}, fmt.Errorf("decoding event: %w", err)
	}

	ev := Raw{Type: env.EventType}
	if ev.Type == "" {
		ev.Type = env.EventTypeCamel
	}

	if len(env.Data) > 0 {
		var data map[string]any
		if err := json.Unmarshal(env.Data, &data); err == nil && data != nil {
			ev.Data = data
		}
	}
	if ev.Data == nil {
		var body map[string]any
		if err := json.Unmarshal(payload, &body); err != nil {
			return Raw{}, fmt.Errorf("decoding event body: %w", err)
		}
		if body == nil {
			return Raw{}, ErrNotObject
		}
		ev.Data = body
	}

	if raw := env.timestamp(); raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			ev.Timestamp = ts
		}
	}

	return ev, nil
}

// TargetUserID resolves the user the event is addressed to. Empty strings and
// nulls count as absent; numeric ids are formatted without a fraction.
func (e Raw) TargetUserID() (string, bool) {
	for _, key := range TargetUserKeys {
		if _, isBool := e.Data[key].(bool); isBool {
			continue
		}
		if s := e.String(key); s != "" {
			return s, true
		}
	}
	return "", false
}

// String returns the data value under key rendered as text, or "" when the
// key is absent, null, or not a scalar.
func (e Raw) String(key string) string {
	v, ok := e.Data[key]
	if !ok {
		return ""
	}
	return scalarString(v)
}

// Bool reports whether the data value under key is the JSON boolean true.
func (e Raw) Bool(key string) bool {
	b, ok := e.Data[key].(bool)
	return ok && b
}

func scalarString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	}
	return ""
}

// Notification is the outbound message delivered to client sessions: the raw
// event re-encoded with an ISO-8601 timestamp.
type Notification struct {
	EventType string         `json:"eventType"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp"`
}

// NewNotification builds the outbound form of e. now is used when the event
// carried no timestamp of its own.
func NewNotification(e Raw, now time.Time) Notification {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = now
	}
	data := e.Data
	if data == nil {
		data = map[string]any{}
	}
	return Notification{
		EventType: e.Type,
		Data:      data,
		Timestamp: ts.UTC().Format(time.RFC3339Nano),
	}
}

// UnmarshalJSON accepts both event_type and eventType on the receiving side.
func (n *Notification) UnmarshalJSON(b []byte) error {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	n.EventType = env.EventType
	if n.EventType == "" {
		n.EventType = env.EventTypeCamel
	}
	n.Timestamp = env.timestamp()
	n.Data = nil
	if len(env.Data) > 0 {
		var data map[string]any
		if err := json.Unmarshal(env.Data, &data); err == nil {
			n.Data = data
		}
	}
	if n.Data == nil {
		n.Data = map[string]any{}
	}
	return nil
}

// Raw converts a received notification back into a normalized event.
func (n Notification) Raw() Raw {
	ev := Raw{Type: n.EventType, Data: n.Data}
	if ts, err := time.Parse(time.RFC3339Nano, n.Timestamp); err == nil {
		ev.Timestamp = ts
	}
	return ev
}
