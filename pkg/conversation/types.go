package conversation

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
)

// Role tags who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation. Messages are append-only and never
// edited once the backend has returned them.
type Message struct {
	Role    Role   `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

func (m Message) IsUser() bool { return m.Role == RoleUser }

// Conversation is the backend's snapshot of a conversation: a server-assigned
// id and the full ordered history.
type Conversation struct {
	ID       string    `json:"conversation_id" yaml:"conversation_id"`
	Messages []Message `json:"messages" yaml:"messages"`
}

// LastAssistantMessage returns the most recent assistant reply, if any.
func (c *Conversation) LastAssistantMessage() (Message, bool) {
	if c == nil {
		return Message{}, false
	}
	return LastAssistant(c.Messages)
}

// LastAssistant scans msgs from the end for an assistant reply.
func LastAssistant(msgs []Message) (Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleAssistant {
			return msgs[i], true
		}
	}
	return Message{}, false
}

// CloneMessages copies msgs so callers can't alias session state.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return []Message{}
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// HealthStatus is whatever the backend returns from its health endpoint.
// Any 2xx answer counts as healthy; the body is informational only.
type HealthStatus struct {
	Message string         `json:"message,omitempty" yaml:"message,omitempty"`
	Raw     map[string]any `json:"-" yaml:"raw,omitempty"`
	// Body holds the trimmed response text when it is not a JSON object.
	Body string `json:"-" yaml:"body,omitempty"`
}

// ParseHealthStatus never fails: a JSON object fills Raw and Message, a
// JSON string fills Message, anything else is kept verbatim in Body.
func ParseHealthStatus(data []byte) *HealthStatus {
	data = bytes.TrimSpace(data)
	h := &HealthStatus{}

	raw := map[string]any{}
	if err := json.Unmarshal(data, &raw); err == nil && raw != nil {
		h.Raw = raw
		if msg, ok := raw["message"].(string); ok {
			h.Message = msg
		}
		return h
	}

	var msg string
	if err := json.Unmarshal(data, &msg); err == nil {
		h.Message = msg
		return h
	}

	h.Body = string(data)
	return h
}

func (h *HealthStatus) UnmarshalJSON(data []byte) error {
	*h = *ParseHealthStatus(data)
	return nil
}

// QueryResults holds the outcome of a raw query. The backend answers with a
// list of row objects, or with a plain string when the database call failed
// on its side.
type QueryResults struct {
	Rows    []map[string]any `json:"rows,omitempty" yaml:"rows,omitempty"`
	Message string           `json:"message,omitempty" yaml:"message,omitempty"`
}

func (q *QueryResults) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*q = QueryResults{}
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return errors.Wrap(err, "decode query message")
		}
		*q = QueryResults{Message: s}
	case '[':
		var rows []map[string]any
		if err := json.Unmarshal(data, &rows); err != nil {
			return errors.Wrap(err, "decode query rows")
		}
		*q = QueryResults{Rows: rows}
	default:
		return errors.Errorf("unexpected query results payload starting with %q", data[0])
	}
	return nil
}

// Columns returns the sorted union of the keys of all rows.
func (q *QueryResults) Columns() []string {
	if q == nil {
		return nil
	}
	seen := map[string]struct{}{}
	for _, row := range q.Rows {
		for k := range row {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}
