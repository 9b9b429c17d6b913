package models

// EventType classifies an attention event by the handling family, not by
// signal type alone: a search-started signal is logged both as a "signal"
// event and as a "query" event.
type EventType string

const (
	EventSignal    EventType = "signal"
	EventFile      EventType = "file"
	EventQuery     EventType = "query"
	EventOperation EventType = "operation"
	EventWorkflow  EventType = "workflow"
)

// Outcome is the derived result of a completed unit of work.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
)

// AttentionEvent is the uniform audit record. Exactly one is produced for
// every signal received, plus family-specific extras (file, query, operation,
// workflow). The audit log is append-heavy and never deduplicated.
type AttentionEvent struct {
	Timestamp  int64          `json:"timestamp"` // milliseconds
	ServerName string         `json:"server_name"`
	EventType  EventType      `json:"event_type"`
	Target     string         `json:"target"`
	Context    map[string]any `json:"context,omitempty"`
}

// Operation summarizes a terminal or summarizable unit of work with an
// outcome and quality score. OperationID is the uniqueness key in the
// backing store; the mesh may redeliver a completion signal, so duplicate
// inserts are expected.
type Operation struct {
	Timestamp     int64          `json:"timestamp"` // milliseconds
	ServerName    string         `json:"server_name"`
	OperationType string         `json:"operation_type"`
	OperationID   string         `json:"operation_id"`
	InputSummary  string         `json:"input_summary"`
	Outcome       Outcome        `json:"outcome"`
	QualityScore  float64        `json:"quality_score"`
	Lessons       map[string]any `json:"lessons,omitempty"`
	DurationMS    int64          `json:"duration_ms,omitempty"`
}
