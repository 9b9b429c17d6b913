// Package router is the observer's core: it classifies every inbound mesh
// signal, always records an attention event, derives operation records for
// terminal work signals, and raises semantic notifications downstream.
//
// Route never fails. Every internal error is absorbed so one bad signal or
// one store hiccup cannot take observation capacity away from the mesh.
package router

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/astromesh/observer/internal/metrics"
	"github.com/astromesh/observer/internal/models"
	"github.com/astromesh/observer/internal/notifier"
	"github.com/astromesh/observer/internal/signal"
)

// Store is the persistence boundary the router writes through. Both calls
// are synchronous and local from the router's perspective.
type Store interface {
	InsertAttentionEvent(ctx context.Context, ev models.AttentionEvent) error
	// InsertOperation returns inserted=false for a duplicate operation_id.
	// The mesh redelivers completion signals, so duplicates are expected.
	InsertOperation(ctx context.Context, op models.Operation) (bool, error)
}

// Responder sends a reply signal back to a peer. Used only for dock requests.
type Responder interface {
	SendResponse(addr *net.UDPAddr, sig signal.Signal) error
}

// Router routes one signal at a time. Each Route call is independent and
// touches no shared mutable state beyond the append-only store, so concurrent
// calls need no locking here.
type Router struct {
	selfID    string
	store     Store
	notifier  notifier.Notifier
	responder Responder
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// New builds a router. selfID is the observer's logical name in the mesh,
// used in dock replies.
func New(selfID string, st Store, n notifier.Notifier, resp Responder, m *metrics.Metrics, logger *zap.Logger) *Router {
	return &Router{
		selfID:    selfID,
		store:     st,
		notifier:  n,
		responder: resp,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Route processes one inbound signal. It returns once every derived side
// effect has been attempted; it never returns an error and never panics.
func (r *Router) Route(ctx context.Context, sig signal.Signal, from *net.UDPAddr) {
	r.metrics.SignalsReceived.WithLabelValues(sig.Type.String()).Inc()

	// Universal audit record, before any family-specific side effect.
	// Every signal is observed, whatever its type or payload shape.
	r.logAttention(ctx, models.AttentionEvent{
		Timestamp:  r.eventMillis(sig),
		ServerName: serverName(sig),
		EventType:  models.EventSignal,
		Target:     sig.Type.String(),
		Context:    payloadContext(sig),
	})

	switch sig.Type {
	case signal.Heartbeat:
		r.handleHeartbeat(sig)
	case signal.DockRequest:
		r.handleDockRequest(sig, from)
	case signal.Undock, signal.Shutdown:
		r.handleShutdown(sig)
	case signal.FileDiscovered, signal.FileIndexed, signal.FileModified, signal.FileDeleted:
		r.handleFile(ctx, sig)
	case signal.SearchStarted, signal.SearchCompleted, signal.SearchResult:
		r.handleSearch(ctx, sig)
	case signal.BuildStarted, signal.BuildCompleted, signal.BuildFailed:
		r.handleBuild(ctx, sig)
	case signal.VerificationStarted, signal.VerificationResult, signal.ClaimExtracted:
		r.handleVerification(ctx, sig)
	case signal.ValidationApproved, signal.ValidationRejected:
		r.handleValidation(sig)
	case signal.HandoffRequest, signal.HandoffApproved, signal.HandoffCompleted, signal.ModeSwitch:
		r.handleCoordination(ctx, sig)
	case signal.AstrosentryEvent:
		r.handleAstrosentry(ctx, sig)
	case signal.Error:
		r.handleError(sig)
	case signal.DockApproved:
		// Our own reply type echoed back by a peer; the universal audit
		// record is enough.
	default:
		r.handleUnknown(sig)
	}
}

func (r *Router) handleHeartbeat(sig signal.Signal) {
	payload := payloadContext(sig)
	payload["server"] = serverName(sig)
	payload["timestamp"] = sig.Timestamp
	r.emit(notifier.ServerHeartbeat, payload)
}

// handleDockRequest replies with an unconditional approval. The observer's
// purpose is to see every peer, so there is no rejection path.
func (r *Router) handleDockRequest(sig signal.Signal, from *net.UDPAddr) {
	reply := signal.DockApproval(r.selfID, r.now())

	if from == nil {
		r.logger.Warn("dock request without origin address, cannot reply",
			zap.String("server", serverName(sig)),
		)
		return
	}

	if err := r.responder.SendResponse(from, reply); err != nil {
		r.logger.Error("failed to send dock approval",
			zap.String("server", serverName(sig)),
			zap.String("addr", from.String()),
			zap.Error(err),
		)
		return
	}

	r.metrics.DockApprovals.Inc()
	r.logger.Info("approved dock request",
		zap.String("server", serverName(sig)),
		zap.String("addr", from.String()),
	)
}

func (r *Router) handleShutdown(sig signal.Signal) {
	r.emit(notifier.ServerShutdown, map[string]any{
		"server":    serverName(sig),
		"timestamp": sig.Timestamp,
	})
}

func (r *Router) handleFile(ctx context.Context, sig signal.Signal) {
	target := filePath(sig)

	r.logAttention(ctx, models.AttentionEvent{
		Timestamp:  r.eventMillis(sig),
		ServerName: serverName(sig),
		EventType:  models.EventFile,
		Target:     target,
		Context:    payloadContext(sig, "path", "file"),
	})

	r.emit(notifier.FileEvent, map[string]any{
		"server": serverName(sig),
		"signal": sig.Type.String(),
		"path":   target,
	})
}

func (r *Router) handleSearch(ctx context.Context, sig signal.Signal) {
	switch sig.Type {
	case signal.SearchStarted:
		r.logAttention(ctx, models.AttentionEvent{
			Timestamp:  r.eventMillis(sig),
			ServerName: serverName(sig),
			EventType:  models.EventQuery,
			Target:     searchQuery(sig),
			Context:    payloadContext(sig, "query", "search_term"),
		})
	case signal.SearchCompleted:
		r.recordOperation(ctx, r.deriveSearchOperation(sig))
	}

	r.emit(notifier.SearchEvent, map[string]any{
		"server": serverName(sig),
		"signal": sig.Type.String(),
		"query":  searchQuery(sig),
	})
}

func (r *Router) handleBuild(ctx context.Context, sig signal.Signal) {
	buildID := buildOperationID(sig, r.now())

	switch sig.Type {
	case signal.BuildStarted:
		r.logAttention(ctx, models.AttentionEvent{
			Timestamp:  r.eventMillis(sig),
			ServerName: serverName(sig),
			EventType:  models.EventOperation,
			Target:     buildID,
			Context:    payloadContext(sig, "build_id"),
		})
	case signal.BuildCompleted, signal.BuildFailed:
		succeeded := sig.Type == signal.BuildCompleted
		r.recordOperation(ctx, r.deriveBuildOperation(sig, buildID, succeeded))

		if !succeeded {
			r.emit(notifier.LessonLearned, map[string]any{
				"type":     "build_failure",
				"server":   serverName(sig),
				"build_id": buildID,
				"error":    sig.Str("error"),
			})
		}
	}

	r.emit(notifier.BuildEvent, map[string]any{
		"server":   serverName(sig),
		"signal":   sig.Type.String(),
		"build_id": buildID,
	})
}

func (r *Router) handleVerification(ctx context.Context, sig signal.Signal) {
	if sig.Type == signal.VerificationResult {
		r.recordOperation(ctx, r.deriveVerifyOperation(sig))
	}

	r.emit(notifier.VerificationEvent, map[string]any{
		"server":  serverName(sig),
		"signal":  sig.Type.String(),
		"claim":   sig.Str("claim"),
		"verdict": sig.Str("verdict"),
	})
}

func (r *Router) handleValidation(sig signal.Signal) {
	approved := sig.Type == signal.ValidationApproved

	outcome := models.OutcomeSuccess
	if !approved {
		outcome = models.OutcomeFailure
	}

	r.emit(notifier.ValidationEvent, map[string]any{
		"server":  serverName(sig),
		"signal":  sig.Type.String(),
		"outcome": string(outcome),
	})

	if !approved {
		r.emit(notifier.PatternCandidate, map[string]any{
			"type":   "validation_failure",
			"server": serverName(sig),
			"reason": sig.Str("reason"),
		})
	}
}

func (r *Router) handleCoordination(ctx context.Context, sig signal.Signal) {
	r.logAttention(ctx, models.AttentionEvent{
		Timestamp:  r.eventMillis(sig),
		ServerName: serverName(sig),
		EventType:  models.EventWorkflow,
		Target:     sig.Type.String(),
		Context:    payloadContext(sig),
	})

	r.emit(notifier.CoordinationEvent, map[string]any{
		"server": serverName(sig),
		"signal": sig.Type.String(),
	})
}

// handleAstrosentry processes events bridged in from a non-native (HTTP)
// source. The payload carries an explicit source tag plus event_type and
// operation strings; an outcome, when present, makes the event terminal and
// worth an operation record.
func (r *Router) handleAstrosentry(ctx context.Context, sig signal.Signal) {
	eventType := sig.Str("event_type")
	if eventType == "" {
		eventType = "astrosentry"
	}

	evCtx := payloadContext(sig, "event_type", "operation")
	evCtx["bridge_source"] = sig.Str("source")

	r.logAttention(ctx, models.AttentionEvent{
		Timestamp:  r.eventMillis(sig),
		ServerName: serverName(sig),
		EventType:  models.EventOperation,
		Target:     eventType + ":" + sig.Str("operation"),
		Context:    evCtx,
	})

	outcome := sig.Str("outcome")
	if outcome != "" {
		r.recordOperation(ctx, r.deriveAstrosentryOperation(sig, eventType, outcome))
	}

	r.emit(notifier.AstrosentryEvent, map[string]any{
		"server":     serverName(sig),
		"event_type": eventType,
		"operation":  sig.Str("operation"),
		"outcome":    outcome,
	})

	if outcome == "failure" {
		r.emit(notifier.PatternCandidate, map[string]any{
			"type":       "astrosentry_failure",
			"server":     serverName(sig),
			"event_type": eventType,
			"operation":  sig.Str("operation"),
		})
	}
}

func (r *Router) handleError(sig signal.Signal) {
	r.emit(notifier.ErrorReceived, map[string]any{
		"server":  serverName(sig),
		"message": sig.Str("message"),
	})

	r.emit(notifier.PatternCandidate, map[string]any{
		"type":    "error",
		"server":  serverName(sig),
		"message": sig.Str("message"),
	})
}

func (r *Router) handleUnknown(sig signal.Signal) {
	r.emit(notifier.UnknownSignal, map[string]any{
		"server":      serverName(sig),
		"signal_type": uint16(sig.Type),
	})
}

// logAttention writes one audit record. A store failure is logged and
// absorbed: the audit log degrading must not stop routing.
func (r *Router) logAttention(ctx context.Context, ev models.AttentionEvent) {
	if err := r.store.InsertAttentionEvent(ctx, ev); err != nil {
		r.metrics.AttentionFailures.Inc()
		r.logger.Error("failed to record attention event",
			zap.String("event_type", string(ev.EventType)),
			zap.String("target", ev.Target),
			zap.Error(err),
		)
		return
	}
	r.metrics.AttentionEvents.Inc()
}

// recordOperation inserts one derived operation. Duplicates are the expected
// redelivery case and are only counted; genuine store failures are logged.
// Neither propagates.
func (r *Router) recordOperation(ctx context.Context, op models.Operation) {
	inserted, err := r.store.InsertOperation(ctx, op)
	if err != nil {
		r.metrics.OperationsFailed.Inc()
		r.logger.Error("failed to record operation",
			zap.String("operation_type", op.OperationType),
			zap.String("operation_id", op.OperationID),
			zap.Error(err),
		)
		return
	}
	if !inserted {
		r.metrics.OperationsDuplicate.Inc()
		r.logger.Debug("duplicate operation absorbed",
			zap.String("operation_type", op.OperationType),
			zap.String("operation_id", op.OperationID),
		)
		return
	}
	r.metrics.OperationsRecorded.Inc()
}

func (r *Router) emit(name string, payload map[string]any) {
	r.notifier.Emit(name, payload)
	r.metrics.NotificationsEmitted.WithLabelValues(name).Inc()
}

// eventMillis converts the producer-supplied epoch seconds to milliseconds,
// falling back to the local clock when the signal carries no timestamp.
func (r *Router) eventMillis(sig signal.Signal) int64 {
	if sig.Timestamp > 0 {
		return sig.Timestamp * 1000
	}
	return r.now().UnixMilli()
}

func serverName(sig signal.Signal) string {
	if s := sig.Sender(); s != "" {
		return s
	}
	return "unknown"
}

func filePath(sig signal.Signal) string {
	if p := sig.Str("path"); p != "" {
		return p
	}
	if p := sig.Str("file"); p != "" {
		return p
	}
	return "unknown"
}

func searchQuery(sig signal.Signal) string {
	if q := sig.Str("query"); q != "" {
		return q
	}
	if q := sig.Str("search_term"); q != "" {
		return q
	}
	return "unknown"
}

// payloadContext copies the payload minus sender and any handler-consumed
// keys, for the context column of an attention event.
func payloadContext(sig signal.Signal, consumed ...string) map[string]any {
	ctx := make(map[string]any, len(sig.Payload))
	for k, v := range sig.Payload {
		ctx[k] = v
	}
	delete(ctx, "sender")
	for _, k := range consumed {
		delete(ctx, k)
	}
	return ctx
}
