// Package stack composes a network layer, an ordered chain of filter
// layers, and one application layer into a single protocol pipeline,
// mirroring the way a real connection layers transport, security, and
// framing concerns on top of one another.
package stack

import "context"

// Layer is the capability set every node in a Stack must implement.
// The stack keeps its layers in one slice, in order, for Start and
// Close; a layer learns its adjacent layers only through the Neighbors
// passed to SetNeighbors and holds no reference back to the stack.
type Layer interface {
	// Start is invoked once, network-layer first, moving toward the
	// application layer. A Start failure aborts the whole build.
	Start(ctx context.Context) error

	// OnRecv delivers bytes moving up the stack (from the network
	// toward the application). Implementations forward transformed
	// bytes to the next layer up via the Neighbors handed to them at
	// construction time.
	OnRecv(p []byte) error

	// DoSend delivers bytes moving down the stack (from the
	// application toward the network).
	DoSend(p []byte) error

	// DoCloseSend half-closes the send direction, propagating toward
	// the network.
	DoCloseSend(cause error) error

	// OnRecvClosed half-closes the receive direction, propagating
	// toward the application. It is the terminal receive-path event:
	// no OnRecv follows it.
	OnRecvClosed(cause error) error

	// IsSendOpen reports whether DoSend may still be called.
	IsSendOpen() bool

	// IsReadOpen reports whether further OnRecv calls are possible.
	IsReadOpen() bool
}

// Neighbors gives a layer the two adjacent layers in the chain, set
// once during Stack construction before Start is called on anyone.
// Either may be nil at the respective end of the stack.
type Neighbors struct {
	// Toward the network (receives DoSend, originates OnRecv).
	Prev Layer
	// Toward the application (receives OnRecv, originates DoSend).
	Next Layer
}

// NeighborAware is implemented by layers that need to learn their
// neighbors before Start is called. The network layer has no Prev and
// the application layer has no Next.
type NeighborAware interface {
	SetNeighbors(n Neighbors)
}
