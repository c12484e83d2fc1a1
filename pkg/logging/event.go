// Package logging provides the structured-event observability layer for
// the protocol engine. Every stack lifecycle transition is emitted as an
// Event to one or more Sinks, rather than written through an ad hoc log
// line, so that external tooling can replay or query a stack's history.
package logging

import (
	"encoding/json"
	"time"
)

// Event is the canonical structured event for a stack lifecycle
// transition. Required fields: Timestamp, StackName, Transition.
// Optional fields use omitempty tags so the JSONL and CBOR encodings
// stay compact.
type Event struct {
	Timestamp  time.Time       `json:"ts" cbor:"1,keyasint"`
	StackName  string          `json:"stack" cbor:"2,keyasint"`
	Transition string          `json:"transition" cbor:"3,keyasint"`
	Layer      string          `json:"layer,omitempty" cbor:"4,keyasint,omitempty"`
	Cause      string          `json:"cause,omitempty" cbor:"5,keyasint,omitempty"`
	Data       json.RawMessage `json:"data,omitempty" cbor:"6,keyasint,omitempty"`
}

// Transition names, one per stack lifecycle event.
const (
	TransitionInitialize   = "initialize"
	TransitionStart        = "start"
	TransitionStarted      = "started"
	TransitionClose        = "close"
	TransitionClosed       = "closed"
	TransitionStartFailure = "start-failure"
)

// LayerTransitionData is the data payload for events scoped to a single
// filter layer within a stack (handshake progress, refusal reasons).
type LayerTransitionData struct {
	Reason string `json:"reason,omitempty"`
}

// CloseData is the data payload for close/closed events.
type CloseData struct {
	Reason      string `json:"reason,omitempty"`
	Cascaded    bool   `json:"cascaded"`
	InitiatedBy string `json:"initiated_by,omitempty"`
}
