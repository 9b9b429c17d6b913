package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Version is the mesh protocol version carried by every signal.
const Version = 0x0100

// Type is the numeric signal-type tag on the wire. The enum is open:
// unrecognized values survive decoding and are routed to the fallback
// handler rather than rejected.
type Type uint16

const (
	Heartbeat    Type = 0x0001
	DockRequest  Type = 0x0002
	DockApproved Type = 0x0003
	Undock       Type = 0x0004
	Shutdown     Type = 0x0005

	FileDiscovered Type = 0x0010
	FileIndexed    Type = 0x0011
	FileModified   Type = 0x0012
	FileDeleted    Type = 0x0013

	SearchStarted   Type = 0x0020
	SearchCompleted Type = 0x0021
	SearchResult    Type = 0x0022

	BuildStarted   Type = 0x0030
	BuildCompleted Type = 0x0031
	BuildFailed    Type = 0x0032

	VerificationStarted Type = 0x0040
	VerificationResult  Type = 0x0041
	ClaimExtracted      Type = 0x0042

	ValidationApproved Type = 0x0050
	ValidationRejected Type = 0x0051

	HandoffRequest   Type = 0x0060
	HandoffApproved  Type = 0x0061
	HandoffCompleted Type = 0x0062
	ModeSwitch       Type = 0x0063

	AstrosentryEvent Type = 0x0070

	Error Type = 0x00FF
)

var typeNames = map[Type]string{
	Heartbeat:           "heartbeat",
	DockRequest:         "dock_request",
	DockApproved:        "dock_approved",
	Undock:              "undock",
	Shutdown:            "shutdown",
	FileDiscovered:      "file_discovered",
	FileIndexed:         "file_indexed",
	FileModified:        "file_modified",
	FileDeleted:         "file_deleted",
	SearchStarted:       "search_started",
	SearchCompleted:     "search_completed",
	SearchResult:        "search_result",
	BuildStarted:        "build_started",
	BuildCompleted:      "build_completed",
	BuildFailed:         "build_failed",
	VerificationStarted: "verification_started",
	VerificationResult:  "verification_result",
	ClaimExtracted:      "claim_extracted",
	ValidationApproved:  "validation_approved",
	ValidationRejected:  "validation_rejected",
	HandoffRequest:      "handoff_request",
	HandoffApproved:     "handoff_approved",
	HandoffCompleted:    "handoff_completed",
	ModeSwitch:          "mode_switch",
	AstrosentryEvent:    "astrosentry_event",
	Error:               "error",
}

// String returns the wire name for known tags and a hex form for the rest.
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown_0x%04x", uint16(t))
}

// Known reports whether the tag is part of the recognized enum.
func (t Type) Known() bool {
	_, ok := typeNames[t]
	return ok
}

// Signal is one datagram exchanged between mesh nodes.
//
// Timestamp is producer-supplied seconds since epoch and may be zero.
// Payload is an open map; sender is the only field every family carries.
type Signal struct {
	Type      Type           `json:"type"`
	Version   uint16         `json:"version"`
	Timestamp int64          `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// Sender returns payload.sender, or "" when absent.
func (s Signal) Sender() string {
	return s.Str("sender")
}

// Str returns a string payload field, "" when absent or not a string.
func (s Signal) Str(key string) string {
	v, _ := s.Payload[key].(string)
	return v
}

// Float returns a numeric payload field as float64, 0 when absent.
// JSON decoding produces float64 for all numbers; int is accepted for
// signals constructed in-process.
func (s Signal) Float(key string) float64 {
	switch v := s.Payload[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// Int returns a numeric payload field truncated to int.
func (s Signal) Int(key string) int {
	return int(s.Float(key))
}

// Has reports whether the payload carries the field at all.
func (s Signal) Has(key string) bool {
	_, ok := s.Payload[key]
	return ok
}

// Decode parses one wire datagram. Only structural JSON errors fail;
// unknown type tags and missing payload fields do not.
func Decode(b []byte) (Signal, error) {
	var s Signal
	if err := json.Unmarshal(b, &s); err != nil {
		return Signal{}, fmt.Errorf("decode signal: %w", err)
	}
	if s.Payload == nil {
		s.Payload = map[string]any{}
	}
	return s, nil
}

// Encode serializes a signal for the wire.
func Encode(s Signal) ([]byte, error) {
	if s.Payload == nil {
		return nil, errors.New("encode signal: nil payload")
	}
	return json.Marshal(s)
}

// DockApproval builds the reply sent for every dock request. The observer
// never refuses a peer; the capability list is fixed.
func DockApproval(selfID string, now time.Time) Signal {
	return Signal{
		Type:      DockApproved,
		Version:   Version,
		Timestamp: now.Unix(),
		Payload: map[string]any{
			"sender":       selfID,
			"approved":     true,
			"message":      "Welcome to the consciousness mesh",
			"capabilities": []string{"awareness", "pattern-detection", "reflection"},
		},
	}
}
