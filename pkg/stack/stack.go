package stack

import (
	"context"
	"sync"

	"github.com/wireproto/engine/pkg/logging"
	"github.com/wireproto/engine/pkg/wireerr"
)

// ApplicationLayer is the terminal layer the stack delivers cleartext
// to. It composes Layer plus an accessor for whatever endpoint object
// the caller wants to surface once the stack has started.
type ApplicationLayer interface {
	Layer
	// Endpoint returns the object exposed to the caller once Start has
	// completed successfully. Its concrete type is caller-defined.
	Endpoint() interface{}
}

// Builder assembles a Stack: one network layer, zero or more filters in
// the order added (first filter added sits closest to the network),
// and one application layer.
type Builder struct {
	network Layer
	filters []Layer
	name    string
	emitter *logging.Emitter
}

// On starts a Builder rooted at the given network layer.
func On(network Layer) *Builder {
	return &Builder{network: network}
}

// Filter appends f to the chain, closest-to-network first.
func (b *Builder) Filter(f Layer) *Builder {
	b.filters = append(b.filters, f)
	return b
}

// Named attaches a name used to tag structured events and error
// messages for the resulting Stack.
func (b *Builder) Named(name string) *Builder {
	b.name = name
	return b
}

// WithEmitter attaches a logging.Emitter the Stack will use to report
// lifecycle transitions. A nil emitter is safe to pass; events are then
// simply not emitted.
func (b *Builder) WithEmitter(e *logging.Emitter) *Builder {
	b.emitter = e
	return b
}

// Build links the filter chain between the network layer and app,
// wires neighbor references, and starts every layer in order
// (network first, application last). If any Start fails, every layer
// started before it (all of them closer to the network) is torn down
// via OnRecvClosed with the failure cause, and the error is returned
// wrapped in a *wireerr.Error of the same Kind.
func (b *Builder) Build(ctx context.Context, app ApplicationLayer) (*Stack, error) {
	layers := make([]Layer, 0, 2+len(b.filters))
	layers = append(layers, b.network)
	layers = append(layers, b.filters...)
	layers = append(layers, app)

	for i, l := range layers {
		var prev, next Layer
		if i > 0 {
			prev = layers[i-1]
		}
		if i < len(layers)-1 {
			next = layers[i+1]
		}
		if na, ok := l.(NeighborAware); ok {
			na.SetNeighbors(Neighbors{Prev: prev, Next: next})
		}
	}

	s := &Stack{
		name:    b.name,
		layers:  layers,
		app:     app,
		emitter: b.emitter,
	}

	s.emit(logging.TransitionInitialize, "", "")

	s.emit(logging.TransitionStart, "", "")
	for i, l := range layers {
		if err := l.Start(ctx); err != nil {
			// Tear down every layer already started, in reverse order:
			// from the one just below the failing layer back down to
			// the network.
			for j := i - 1; j >= 0; j-- {
				_ = layers[j].OnRecvClosed(err)
			}
			s.emit(logging.TransitionStartFailure, layerName(l), err.Error())
			return nil, wireerr.Wrap(wireerr.KindOf(err), "stack start failed", err)
		}
	}
	s.emit(logging.TransitionStarted, "", "")

	return s, nil
}

// Stack is an immutable composition of a network layer, an ordered
// filter chain, and one application layer.
type Stack struct {
	mu      sync.Mutex
	name    string
	layers  []Layer
	app     ApplicationLayer
	emitter *logging.Emitter
	closed  bool
	cause   error
}

// Name returns the stack's configured name, or "" if none was set.
func (s *Stack) Name() string { return s.name }

// Endpoint returns the application layer's exposed endpoint object.
func (s *Stack) Endpoint() interface{} { return s.app.Endpoint() }

// Close closes both halves of the stack: it drives doCloseSend from
// the application downward, then onRecvClosed from the network
// upward, so both the peer (via the network sink) and the local
// application observe the closure.
func (s *Stack) Close(cause error) error {
	if cause == nil {
		cause = wireerr.New(wireerr.Closed, "stack closed")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cause = cause
	s.mu.Unlock()

	var firstErr error
	for i := len(s.layers) - 1; i >= 0; i-- {
		if err := s.layers[i].DoCloseSend(cause); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for i := 0; i < len(s.layers); i++ {
		if err := s.layers[i].OnRecvClosed(cause); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	s.emit(logging.TransitionClose, "", cause.Error())
	s.emit(logging.TransitionClosed, "", cause.Error())
	return firstErr
}

// CloseCause returns the cause the stack was closed with, or nil if it
// is still open.
func (s *Stack) CloseCause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

func (s *Stack) emit(transition, layer, cause string) {
	if s.emitter == nil {
		return
	}
	_ = s.emitter.Emit(transition, layer, cause, nil)
}

func layerName(l Layer) string {
	type named interface{ Name() string }
	if n, ok := l.(named); ok {
		return n.Name()
	}
	return ""
}
