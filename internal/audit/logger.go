// Package audit records security-relevant events as structured log entries.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EventType represents the type of audit event
type EventType string

const (
	EventSignup         EventType = "user.signup"
	EventLogin          EventType = "user.login"
	EventLoginFailed    EventType = "user.login_failed"
	EventTokenRefresh   EventType = "user.token_refresh"
	EventSessionCreate  EventType = "session.create"
	EventSessionDelete  EventType = "session.delete"
	EventSessionEnd     EventType = "session.end"
	EventRealtimeReject EventType = "realtime.reject"
	EventUnauthorized   EventType = "request.unauthorized"
)

// Event represents an audit event
type Event struct {
	ID        uuid.UUID
	EventType EventType
	UserID    *uuid.UUID
	Resource  string
	Result    string
	Metadata  map[string]interface{}
	CreatedAt time.Time
}

// Logger writes audit events through logrus
type Logger struct {
	logger *logrus.Logger
}

// NewLogger creates an audit logger. A nil logger uses the standard logger.
func NewLogger(logger *logrus.Logger) *Logger {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Logger{logger: logger}
}

// Log records an audit event
func (l *Logger) Log(_ context.Context, event *Event) {
	if l == nil {
		return
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	fields := logrus.Fields{
		"audit":      true,
		"audit_id":   event.ID.String(),
		"event_type": string(event.EventType),
		"result":     event.Result,
	}
	if event.UserID != nil {
		fields["user_id"] = event.UserID.String()
	}
	if event.Resource != "" {
		fields["resource"] = event.Resource
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}

	entry := l.logger.WithFields(fields).WithTime(event.CreatedAt)
	if event.Result == "failure" {
		entry.Warn("audit event")
		return
	}
	entry.Info("audit event")
}

// Success logs a successful event for a user
func (l *Logger) Success(ctx context.Context, eventType EventType, userID uuid.UUID, resource string) {
	l.Log(ctx, &Event{EventType: eventType, UserID: &userID, Resource: resource, Result: "success"})
}

// Failure logs a rejected event with a reason
func (l *Logger) Failure(ctx context.Context, eventType EventType, reason string, metadata map[string]interface{}) {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadata["reason"] = reason
	l.Log(ctx, &Event{EventType: eventType, Result: "failure", Metadata: metadata})
}
