package logging

import (
	"encoding/json"
	"fmt"
	"time"
)

// EmitterConfig holds the static metadata stamped onto every event
// produced by an Emitter.
type EmitterConfig struct {
	StackName string // the stack this emitter reports events for
}

// Emitter provides convenience methods for emitting typed events. It
// holds static metadata and dispatches to one or more sinks.
//
// A nil *Emitter is safe to hold; callers guard emission with:
//
//	if emitter != nil {
//	    _ = emitter.Emit(...)
//	}
type Emitter struct {
	config EmitterConfig
	sinks  []Sink
}

// NewEmitter creates an emitter with the given configuration and sinks.
func NewEmitter(cfg EmitterConfig, sinks ...Sink) *Emitter {
	return &Emitter{
		config: cfg,
		sinks:  sinks,
	}
}

// Emit constructs an event with the emitter's static metadata and writes
// it to all registered sinks.
//
// Parameters:
//   - transition: one of the Transition* constants
//   - layer: the filter layer name the transition concerns, or "" for
//     a whole-stack transition
//   - cause: a short human-readable cause, or "" if not applicable
//   - data: the typed data payload (e.g., *CloseData); nil for no payload
//
// Returns the first error encountered. Callers typically discard the
// error with best-effort semantics, since logging must never block
// protocol progress.
func (e *Emitter) Emit(transition, layer, cause string, data interface{}) error {
	var rawData json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMarshalData, err)
		}
		rawData = b
	}

	event := &Event{
		Timestamp:  time.Now().UTC(),
		StackName:  e.config.StackName,
		Transition: transition,
		Layer:      layer,
		Cause:      cause,
		Data:       rawData,
	}

	for _, sink := range e.sinks {
		if err := sink.Write(event); err != nil {
			return err
		}
	}
	return nil
}

// Close closes all sinks. Returns the first error encountered.
func (e *Emitter) Close() error {
	var firstErr error
	for _, sink := range e.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
