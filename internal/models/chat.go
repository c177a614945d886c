package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sender identifies who authored a message
type Sender string

// Sender values accepted by the messages table
const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// ErrUnknownSender is returned when a sender value is neither "user" nor "bot"
var ErrUnknownSender = errors.New("unknown message sender")

// ParseSender validates a raw sender value
func ParseSender(raw string) (Sender, error) {
	switch s := Sender(raw); s {
	case SenderUser, SenderBot:
		return s, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSender, raw)
	}
}

// Valid reports whether s is a known sender
func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderBot
}

// MessageContent is the JSON document stored in messages.content
type MessageContent struct {
	Text string `json:"text"`
}

// Value implements driver.Valuer
func (c MessageContent) Value() (driver.Value, error) {
	return marshalJSON(c)
}

// Scan implements sql.Scanner
func (c *MessageContent) Scan(value interface{}) error {
	return scanJSON(value, c)
}

// Message is a single persisted chat message
type Message struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	SessionID uuid.NullUUID  `json:"session_id" db:"session_id"`
	Sender    Sender         `json:"sender" db:"sender"`
	Content   MessageContent `json:"content" db:"content"`
	Timestamp time.Time      `json:"timestamp" db:"timestamp"`
}

// NewMessage builds a message for a session stamped at ts
func NewMessage(sessionID uuid.UUID, sender Sender, text string, ts time.Time) Message {
	return Message{
		ID:        uuid.New(),
		SessionID: uuid.NullUUID{UUID: sessionID, Valid: true},
		Sender:    sender,
		Content:   MessageContent{Text: text},
		Timestamp: ts,
	}
}

// SummaryTagPrefix starts every block appended to a summary
const SummaryTagPrefix = "[Summary #"

// Summary is the JSON document stored in chat_sessions.summary.
// Covered counts the session's messages, in timestamp order, already folded
// into Text.
type Summary struct {
	Text    string `json:"text"`
	Count   int    `json:"count,omitempty"`
	Covered int    `json:"covered,omitempty"`
}

// PassCount returns the number of compression passes recorded in the summary.
// Documents written without a count fall back to counting tagged blocks.
func (s Summary) PassCount() int {
	if s.Count > 0 {
		return s.Count
	}
	return strings.Count(s.Text, SummaryTagPrefix)
}

// Value implements driver.Valuer
func (s Summary) Value() (driver.Value, error) {
	return marshalJSON(s)
}

// Scan implements sql.Scanner
func (s *Summary) Scan(value interface{}) error {
	return scanJSON(value, s)
}

// Session is a conversation owned by a user
type Session struct {
	ID        uuid.UUID     `json:"id" db:"id"`
	UserID    uuid.NullUUID `json:"user_id" db:"user_id"`
	Summary   *Summary      `json:"summary" db:"summary"`
	StartedAt time.Time     `json:"started_at" db:"started_at"`
	EndedAt   *time.Time    `json:"ended_at" db:"ended_at"`
}

// StoredSummary returns the session summary, or the zero document when unset
func (s *Session) StoredSummary() Summary {
	if s.Summary == nil {
		return Summary{}
	}
	return *s.Summary
}

// OwnedBy reports whether the session belongs to userID
func (s *Session) OwnedBy(userID uuid.UUID) bool {
	return s.UserID.Valid && s.UserID.UUID == userID
}

// marshalJSON returns text so that both lib/pq and pgx bind it as json
func marshalJSON(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func scanJSON(value interface{}, dest interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("cannot scan %T into %T", value, dest)
	}
}
