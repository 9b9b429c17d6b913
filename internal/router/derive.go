package router

import (
	"fmt"
	"strings"
	"time"

	"github.com/astromesh/observer/internal/models"
	"github.com/astromesh/observer/internal/signal"
)

// Operation id resolution is an explicit policy per family so the tie-break
// rules stay auditable in isolation. Every policy prefers a producer-supplied
// id and falls back to a deterministic time-based synthesis; a synthesized id
// cannot deduplicate redelivery, but redelivered signals carry the producer's
// id in practice.

func searchOperationID(sig signal.Signal, now time.Time) string {
	if id := sig.Str("search_id"); id != "" {
		return id
	}
	return fallbackID("search", serverName(sig), now)
}

func buildOperationID(sig signal.Signal, now time.Time) string {
	if id := sig.Str("build_id"); id != "" {
		return id
	}
	if s := sig.Sender(); s != "" {
		return s
	}
	return fallbackID("build", "unknown", now)
}

func verifyOperationID(sig signal.Signal, now time.Time) string {
	if id := sig.Str("verification_id"); id != "" {
		return id
	}
	return fallbackID("verify", serverName(sig), now)
}

func astrosentryOperationID(sig signal.Signal, eventType string, now time.Time) string {
	return fmt.Sprintf("%s-%s-%d", serverName(sig), eventType, now.UnixMilli())
}

func fallbackID(family, server string, now time.Time) string {
	return fmt.Sprintf("%s-%s-%d", family, server, now.UnixMilli())
}

// deriveSearchOperation summarizes a completed search. Zero results is not a
// failure: the search ran, it just found nothing, so the outcome is partial.
// Quality scales linearly up to ten results.
func (r *Router) deriveSearchOperation(sig signal.Signal) models.Operation {
	results := sig.Int("results_count")

	outcome := models.OutcomePartial
	if results > 0 {
		outcome = models.OutcomeSuccess
	}

	// clamp both ends: the payload map is open, so results_count can be
	// any number, including a negative one.
	score := clamp01(float64(results) / 10)

	return models.Operation{
		Timestamp:     r.eventMillis(sig),
		ServerName:    serverName(sig),
		OperationType: "search",
		OperationID:   searchOperationID(sig, r.now()),
		InputSummary:  "search: " + searchQuery(sig),
		Outcome:       outcome,
		QualityScore:  score,
		Lessons: map[string]any{
			"results_count": results,
		},
		DurationMS: int64(sig.Float("duration_ms")),
	}
}

func (r *Router) deriveBuildOperation(sig signal.Signal, buildID string, succeeded bool) models.Operation {
	outcome := models.OutcomeFailure
	score := 0.2
	if succeeded {
		outcome = models.OutcomeSuccess
		score = 0.9
	}

	lessons := map[string]any{}
	if errMsg := sig.Str("error"); errMsg != "" {
		lessons["error"] = errMsg
	}

	return models.Operation{
		Timestamp:     r.eventMillis(sig),
		ServerName:    serverName(sig),
		OperationType: "build",
		OperationID:   buildID,
		InputSummary:  "build: " + buildID,
		Outcome:       outcome,
		QualityScore:  score,
		Lessons:       lessons,
		DurationMS:    int64(sig.Float("duration_ms")),
	}
}

// deriveVerifyOperation maps a verification verdict to an outcome:
// SUPPORTED is success, CONTRADICTED is failure, anything else (INSUFFICIENT,
// missing, unrecognized) is partial. Quality is the verifier's own confidence
// when supplied.
func (r *Router) deriveVerifyOperation(sig signal.Signal) models.Operation {
	verdict := strings.ToUpper(sig.Str("verdict"))

	var outcome models.Outcome
	switch verdict {
	case "SUPPORTED":
		outcome = models.OutcomeSuccess
	case "CONTRADICTED":
		outcome = models.OutcomeFailure
	default:
		outcome = models.OutcomePartial
	}

	score := 0.5
	if sig.Has("confidence") {
		score = clamp01(sig.Float("confidence"))
	}

	return models.Operation{
		Timestamp:     r.eventMillis(sig),
		ServerName:    serverName(sig),
		OperationType: "verify",
		OperationID:   verifyOperationID(sig, r.now()),
		InputSummary:  "verify: " + sig.Str("claim"),
		Outcome:       outcome,
		QualityScore:  score,
		Lessons: map[string]any{
			"verdict":     verdict,
			"constraints": sig.Payload["constraints"],
			"sources":     sig.Payload["sources"],
		},
		DurationMS: int64(sig.Float("duration_ms")),
	}
}

// deriveAstrosentryOperation records a bridged event's outcome. The operation
// type is the bridged event-type string itself; the id is always synthesized
// because the bridge carries no stable identifier.
func (r *Router) deriveAstrosentryOperation(sig signal.Signal, eventType, outcome string) models.Operation {
	var (
		derived models.Outcome
		score   float64
	)
	switch outcome {
	case "success":
		derived = models.OutcomeSuccess
		score = 1.0
	case "failure":
		derived = models.OutcomeFailure
		score = 0.0
	default:
		derived = models.OutcomePartial
		score = 0.5
	}

	return models.Operation{
		Timestamp:     r.eventMillis(sig),
		ServerName:    serverName(sig),
		OperationType: eventType,
		OperationID:   astrosentryOperationID(sig, eventType, r.now()),
		InputSummary:  eventType + ": " + sig.Str("operation"),
		Outcome:       derived,
		QualityScore:  score,
		Lessons: map[string]any{
			"operation":      sig.Str("operation"),
			"bridge_source":  sig.Str("source"),
			"bridge_outcome": outcome,
		},
		DurationMS: int64(sig.Float("duration_ms")),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
