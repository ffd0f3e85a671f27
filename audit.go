package woolfarm

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// AuditEventType identifies the kind of audit event.
type AuditEventType string

const (
	// AuditSyncRejected is emitted for every rejected sync carrying a
	// high-severity violation.
	AuditSyncRejected AuditEventType = "sync.rejected"
	// AuditSyncConflict is emitted for every non-trivial conflict
	// resolution.
	AuditSyncConflict AuditEventType = "sync.conflict"
	// AuditCorruption is emitted when the authoritative snapshot fails
	// its checksum at load time.
	AuditCorruption AuditEventType = "sync.corruption"
)

// AuditEvent is one emission to the audit collaborator. Fire-and-forget:
// a sink that drops or fails must never block or fail the sync itself.
type AuditEvent struct {
	ID         string         `json:"id"`
	Type       AuditEventType `json:"type"`
	UserID     string         `json:"user_id"`
	DeviceID   string         `json:"device_id,omitempty"`
	Severity   Severity       `json:"severity"`
	Message    string         `json:"message"`
	Violations []Violation    `json:"violations,omitempty"`
	Conflicts  []SyncConflict `json:"conflicts,omitempty"`
	Time       time.Time      `json:"time"`
}

// newAuditEvent stamps an event with an id and timestamp.
func newAuditEvent(t AuditEventType, userID, deviceID string, sev Severity, msg string) AuditEvent {
	return AuditEvent{
		ID:       uuid.NewString(),
		Type:     t,
		UserID:   userID,
		DeviceID: deviceID,
		Severity: sev,
		Message:  msg,
		Time:     time.Now().UTC(),
	}
}

// AuditSink receives audit events. Implementations must not block.
type AuditSink interface {
	Emit(event AuditEvent)
}

// LogAuditSink writes audit events to a structured logger.
type LogAuditSink struct {
	logger *slog.Logger
}

// NewLogAuditSink creates a slog-backed audit sink. A nil logger uses the
// default.
func NewLogAuditSink(logger *slog.Logger) *LogAuditSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogAuditSink{logger: logger}
}

// Emit logs the event.
func (s *LogAuditSink) Emit(event AuditEvent) {
	s.logger.Warn("audit event",
		"id", event.ID,
		"type", string(event.Type),
		"user", event.UserID,
		"device", event.DeviceID,
		"severity", event.Severity.String(),
		"msg", event.Message,
		"violations", len(event.Violations),
		"conflicts", len(event.Conflicts),
	)
}

// MultiAuditSink fans events out to several sinks.
type MultiAuditSink []AuditSink

// Emit forwards the event to every sink.
func (m MultiAuditSink) Emit(event AuditEvent) {
	for _, sink := range m {
		sink.Emit(event)
	}
}
