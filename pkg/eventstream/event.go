package eventstream

import "time"

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeTurnCompleted is emitted after a relayed stream ends, whatever
	// its outcome.
	EventTypeTurnCompleted = "chatrelay.turn.completed"
)

// Outcome is how a relayed stream ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// TurnCompletedEvent is a transport-neutral event payload describing one
// relayed turn. It carries metadata only; message content never leaves the
// relay.
type TurnCompletedEvent struct {
	SchemaVersion int         `json:"schema_version"`
	EventType     string      `json:"event_type"`
	EventID       string      `json:"event_id"`
	EmittedAt     time.Time   `json:"emitted_at"`
	Source        EventSource `json:"source"`
	Request       TurnRequest `json:"request"`
	Result        TurnResult  `json:"result"`
}

// EventSource identifies which upstream served the turn.
type EventSource struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// TurnRequest captures request lifecycle metadata.
type TurnRequest struct {
	RequestID    string    `json:"request_id"`
	Path         string    `json:"path"`
	Streaming    bool      `json:"streaming"`
	MessageCount int       `json:"message_count"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
	DurationMs   int64     `json:"duration_ms"`
}

// TurnResult captures how the turn ended.
type TurnResult struct {
	Outcome        Outcome `json:"outcome"`
	DeltaCount     int     `json:"delta_count"`
	ResponseLength int     `json:"response_length"`
	UpstreamStatus int     `json:"upstream_status,omitempty"`
	ErrorMessage   string  `json:"error_message,omitempty"`
}
