package header

import (
	"context"

	"github.com/wireproto/engine/pkg/stack"
	"github.com/wireproto/engine/pkg/wireerr"
)

// Listener is invoked once the peer's dictionary has been decoded. It
// returns a non-nil error to refuse the connection: a *wireerr.Error
// of Kind Refusal or PermanentRefusal becomes the local close cause
// with that Kind; any other error is treated as Refusal. Nothing about
// the refusal is sent on the wire: the peer only sees the transport
// close, so its close cause does not carry the refusal Kind.
type Listener func(peer Dict) error

// Filter exchanges one length-prefixed header block per side, then
// becomes transparent to everything after it.
type Filter struct {
	local    Dict
	listener Listener

	prev, next stack.Layer

	frame   []byte // accumulated inbound frame bytes (length prefix + payload)
	done    bool
	sendOpen bool
	readOpen bool
}

// New creates a Filter that sends local and hands the peer's decoded
// dictionary to listener.
func New(local Dict, listener Listener) *Filter {
	return &Filter{local: local, listener: listener, sendOpen: true, readOpen: true}
}

func (f *Filter) Name() string { return "header" }

func (f *Filter) SetNeighbors(n stack.Neighbors) {
	f.prev, f.next = n.Prev, n.Next
}

// Start encodes and sends the local dictionary. An oversize local
// dictionary fails the build with PARSE-ERROR before anything is
// written to the wire, matching §8 scenario 7.
func (f *Filter) Start(ctx context.Context) error {
	frame, err := Encode(f.local)
	if err != nil {
		return err
	}
	return f.prev.DoSend(frame)
}

// OnRecv accumulates the inbound frame, decodes it once complete,
// invokes the listener, and on success passes any bytes past the
// frame upward and becomes transparent for everything after.
func (f *Filter) OnRecv(p []byte) error {
	if !f.readOpen {
		return wireerr.New(wireerr.Closed, "header: recv after close")
	}
	if f.done {
		return f.next.OnRecv(p)
	}

	f.frame = append(f.frame, p...)
	if len(f.frame) < 4 {
		return nil
	}
	n := int(getU32BE(f.frame))
	if n > MaxPayloadSize {
		return f.refuse(wireerr.New(wireerr.ParseError, "header: advertised length exceeds cap"))
	}
	if len(f.frame) < 4+n {
		return nil
	}

	peer, err := DecodeFrame(f.frame[4 : 4+n])
	if err != nil {
		return f.refuse(err)
	}

	rest := f.frame[4+n:]
	f.frame = nil
	f.done = true

	if f.listener != nil {
		if err := f.listener(peer); err != nil {
			kind := wireerr.KindOf(err)
			if kind != wireerr.Refusal && kind != wireerr.PermanentRefusal {
				err = wireerr.Wrap(wireerr.Refusal, "header: listener refused connection", err)
			}
			return f.refuse(err)
		}
	}

	if len(rest) > 0 {
		return f.next.OnRecv(rest)
	}
	return nil
}

func (f *Filter) refuse(cause error) error {
	f.readOpen = false
	f.sendOpen = false
	_ = f.prev.DoCloseSend(cause)
	_ = f.next.OnRecvClosed(cause)
	return cause
}

func (f *Filter) DoSend(p []byte) error {
	if !f.sendOpen {
		return wireerr.New(wireerr.Closed, "header: send after close")
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
