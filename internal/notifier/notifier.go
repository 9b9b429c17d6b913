// Package notifier delivers named semantic notifications to downstream
// subscribers. Delivery is fire-and-forget: Emit never returns an error and
// never blocks the router on subscriber work.
package notifier

// Notification names emitted by the router. Exhaustive.
const (
	ServerHeartbeat   = "server_heartbeat"
	ServerShutdown    = "server_shutdown"
	FileEvent         = "file_event"
	SearchEvent       = "search_event"
	BuildEvent        = "build_event"
	LessonLearned     = "lesson_learned"
	VerificationEvent = "verification_event"
	ValidationEvent   = "validation_event"
	PatternCandidate  = "pattern_candidate"
	CoordinationEvent = "coordination_event"
	AstrosentryEvent  = "astrosentry_event"
	ErrorReceived     = "error_received"
	UnknownSignal     = "unknown_signal"
)

// Notifier is the sink the router emits notifications into.
type Notifier interface {
	Emit(name string, payload map[string]any)
}
