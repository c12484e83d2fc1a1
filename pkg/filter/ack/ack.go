// Package ack implements the magic-word handshake filter: each side
// sends a fixed byte prefix on start and validates the peer's prefix
// before passing any further bytes through, so a mismatched protocol
// is rejected before any secret bits cross the wire.
package ack

import (
	"context"
	"fmt"

	"github.com/wireproto/engine/pkg/stack"
	"github.com/wireproto/engine/pkg/wireerr"
)

// DefaultMagic is the magic word used when none is configured.
var DefaultMagic = []byte("ACK")

// Filter sends Magic on start and validates the peer's leading bytes
// against it before becoming transparent.
type Filter struct {
	magic []byte

	prev, next stack.Layer

	matched  int
	sendOpen bool
	readOpen bool
}

// New creates a Filter that sends and expects magic. magic must be
// non-empty.
func New(magic []byte) *Filter {
	if len(magic) == 0 {
		panic("ack: magic must not be empty")
	}
	return &Filter{magic: magic, sendOpen: true, readOpen: true}
}

// Name identifies this layer in structured events and error messages.
func (f *Filter) Name() string { return "ack" }

func (f *Filter) SetNeighbors(n stack.Neighbors) {
	f.prev, f.next = n.Prev, n.Next
}

// Start sends the configured magic immediately. The builder wires
// neighbors before calling Start, so Prev is always available.
func (f *Filter) Start(ctx context.Context) error {
	if f.prev == nil {
		return wireerr.New(wireerr.Closed, "ack: no network layer below")
	}
	return f.prev.DoSend(f.magic)
}

// OnRecv accumulates incoming bytes against the expected magic until
// matched == len(magic); further bytes, and every later call, are
// passed straight through.
func (f *Filter) OnRecv(p []byte) error {
	if !f.readOpen {
		return wireerr.New(wireerr.Closed, "ack: recv after close")
	}
	if f.matched >= len(f.magic) {
		return f.next.OnRecv(p)
	}

	i := 0
	for ; i < len(p) && f.matched < len(f.magic); i++ {
		if p[i] != f.magic[f.matched] {
			err := wireerr.New(wireerr.BadMagic, fmt.Sprintf(
				"ack: expected %q, got byte %#x at position %d", f.magic, p[i], f.matched))
			f.readOpen = false
			f.sendOpen = false
			_ = f.prev.DoCloseSend(err)
			_ = f.next.OnRecvClosed(err)
			return err
		}
		f.matched++
	}

	if f.matched == len(f.magic) && i < len(p) {
		return f.next.OnRecv(p[i:])
	}
	return nil
}

// DoSend forwards unchanged once the magic has been sent (Start always
// sends it first), matching the ack filter's identity-on-bytes
// contract for outbound data.
func (f *Filter) DoSend(p []byte) error {
	if !f.sendOpen {
		return wireerr.New(wireerr.Closed, "ack: send after close")
	}
	return f.prev.DoSend(p)
}

func (f *Filter) DoCloseSend(cause error) error {
	if !f.sendOpen {
		return nil
	}
	f.sendOpen = false
	return f.prev.DoCloseSend(cause)
}

func (f *Filter) OnRecvClosed(cause error) error {
	if !f.readOpen {
		return nil
	}
	f.readOpen = false
	return f.next.OnRecvClosed(cause)
}

func (f *Filter) IsSendOpen() bool { return f.sendOpen }
func (f *Filter) IsReadOpen() bool { return f.readOpen }
