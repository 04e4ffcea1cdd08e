// Package mail is the typed, threaded, persistent inter-agent message
// bus.
//
// Messages are immutable once inserted except for the read flag. The
// payload column carries JSON whose schema is selected by the message
// type; consumers parse defensively and fall back to subject/body
// extraction when a payload is missing or malformed.
package mail

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

// Type classifies a message and selects its payload schema.
type Type string

const (
	TypeStatus      Type = "status"
	TypeQuestion    Type = "question"
	TypeResult      Type = "result"
	TypeError       Type = "error"
	TypeMergeReady  Type = "merge_ready"
	TypeMerged      Type = "merged"
	TypeMergeFailed Type = "merge_failed"
	TypeWorkerDone  Type = "worker_done"
	TypeEscalation  Type = "escalation"
	TypeHealthCheck Type = "health_check"
	TypeDispatch    Type = "dispatch"
	TypeAssign      Type = "assign"
	TypeMulchLearn  Type = "mulch_learn"
)

// Priority orders message urgency.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Message is one mail envelope. To is either an agent name or a group
// address beginning with @ (expanded before insertion).
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Type      Type      `json:"type"`
	Priority  Priority  `json:"priority"`
	ThreadID  string    `json:"threadId,omitempty"`
	Payload   string    `json:"payload,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewMessage builds a normal-priority status message.
func NewMessage(from, to, subject, body string) *Message {
	return &Message{
		From:     from,
		To:       to,
		Subject:  subject,
		Body:     body,
		Type:     TypeStatus,
		Priority: PriorityNormal,
	}
}

// MergeReadyPayload accompanies merge_ready messages.
type MergeReadyPayload struct {
	Branch        string   `json:"branch"`
	TaskID        string   `json:"taskId,omitempty"`
	FilesModified []string `json:"filesModified,omitempty"`
}

// WorkerDonePayload accompanies worker_done messages.
type WorkerDonePayload struct {
	TaskID     string `json:"taskId"`
	Branch     string `json:"branch,omitempty"`
	MergeReady bool   `json:"mergeReady,omitempty"`
}

// DispatchPayload accompanies dispatch messages.
type DispatchPayload struct {
	Description string `json:"description"`
	Capability  string `json:"capability"`
	TaskID      string `json:"taskId,omitempty"`
}

// EscalationPayload accompanies escalation messages.
type EscalationPayload struct {
	Agent  string `json:"agent"`
	Reason string `json:"reason"`
	Level  int    `json:"level,omitempty"`
	Branch string `json:"branch,omitempty"`
	Tier   string `json:"tier,omitempty"`
}

// SetPayload marshals v into the message payload slot.
func (m *Message) SetPayload(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.Payload = string(data)
	return nil
}

// ParsePayload unmarshals the payload into v. Returns false when the
// payload is empty or malformed; callers fall back to subject/body.
func (m *Message) ParsePayload(v interface{}) bool {
	if m.Payload == "" {
		return false
	}
	return json.Unmarshal([]byte(m.Payload), v) == nil
}

// branchPattern matches Legio branch names embedded in free text.
var branchPattern = regexp.MustCompile(`legio/[\w.-]+/[\w.-]+`)

// ExtractBranch pulls a branch name out of a merge_ready message:
// payload first, then a subject regex, then the body.
func ExtractBranch(m *Message) string {
	var payload MergeReadyPayload
	if m.ParsePayload(&payload) && payload.Branch != "" {
		return payload.Branch
	}
	if b := branchPattern.FindString(m.Subject); b != "" {
		return b
	}
	return branchPattern.FindString(m.Body)
}

// IsGroupAddress reports whether to names a group rather than an agent.
func IsGroupAddress(to string) bool {
	return strings.HasPrefix(to, "@")
}
