package tls

import (
	"context"
	cryptotls "crypto/tls"
	"io"
	"sync"

	"github.com/wireproto/engine/pkg/stack"
	"github.com/wireproto/engine/pkg/wireerr"
)

// Submitter runs a task asynchronously; hub.Pool.Submit satisfies it.
// A nil Submitter causes the filter to spawn a plain goroutine
// instead, which is sufficient outside of a Hub-managed stack.
type Submitter func(task func()) error

// PostHandshake is invoked exactly once, at the moment the handshake
// completes and the first cleartext is ready to surface. Returning a
// *wireerr.Error of Kind Refusal closes the stack with that cause
// propagated both ways.
type PostHandshake func(state cryptotls.ConnectionState) error

// Filter drives a crypto/tls session over the inner transport view.
// The handshake and every read from the tls.Conn run on the single
// goroutine that Start launches; DoSend writes to it from the caller.
type Filter struct {
	config  *cryptotls.Config
	isClient bool
	submit  Submitter
	onHandshake PostHandshake

	prev, next stack.Layer

	pipe *pipeConn
	conn *cryptotls.Conn

	mu            sync.Mutex
	handshakeDone bool
	handshakeErr  error
	sendOpen      bool
	readOpen      bool
}

// New creates a Filter. isClient selects tls.Client vs tls.Server
// role. submit may be nil. segSize sizes the internal pipe's inbound
// queue segments.
func New(config *cryptotls.Config, isClient bool, submit Submitter, onHandshake PostHandshake, segSize int) *Filter {
	if segSize <= 0 {
		segSize = 4096
	}
	f := &Filter{
		config:      config,
		isClient:    isClient,
		submit:      submit,
		onHandshake: onHandshake,
		sendOpen:    true,
		readOpen:    true,
	}
	f.pipe = newPipeConn(segSize, func(p []byte) error {
		return f.prev.DoSend(p)
	})
	return f
}

func (f *Filter) Name() string { return "tls" }

func (f *Filter) SetNeighbors(n stack.Neighbors) {
	f.prev, f.next = n.Prev, n.Next
}

// Start wraps the pipe in a tls.Conn and launches the handshake plus
// the cleartext read pump on a worker. It returns immediately; a
// handshake failure surfaces asynchronously as a close.
func (f *Filter) Start(ctx context.Context) error {
	if f.isClient {
		f.conn = cryptotls.Client(f.pipe, f.config)
	} else {
		f.conn = cryptotls.Server(f.pipe, f.config)
	}

	run := func() {
		if err := f.conn.HandshakeContext(ctx); err != nil {
			f.fail(wireerr.Wrap(wireerr.HandshakeFailure, "tls: handshake failed", err))
			return
		}

		f.mu.Lock()
		f.handshakeDone = true
		f.mu.Unlock()

		if f.onHandshake != nil {
			if err := f.onHandshake(f.conn.ConnectionState()); err != nil {
				kind := wireerr.KindOf(err)
				if kind != wireerr.Refusal && kind != wireerr.PermanentRefusal {
					err = wireerr.Wrap(wireerr.Refusal, "tls: post-handshake callback refused", err)
				}
				f.fail(err)
				return
			}
		}

		f.readPump()
	}

	if f.submit != nil {
		return f.submit(run)
	}
	go run()
	return nil
}

func (f *Filter) readPump() {
	buf := make([]byte, 16*1024)
	for {
		n, err := f.conn.Read(buf)
		if n > 0 {
			if rerr := f.next.OnRecv(buf[:n]); rerr != nil {
				f.fail(rerr)
				return
			}
		}
		if err != nil {
			switch err {
			case io.EOF:
				// crypto/tls.Conn.Read only returns io.EOF after it has
				// decoded the peer's close_notify alert: a graceful close.
				f.fail(wireerr.New(wireerr.Closed, "tls: closed"))
			case io.ErrUnexpectedEOF:
				// The transport hit EOF mid-record, with no close_notify
				// ever decoded: the stream was truncated.
				f.fail(wireerr.New(wireerr.Transport, "tls: truncated stream"))
			default:
				f.fail(wireerr.Wrap(wireerr.Transport, "tls: read failed", err))
			}
			return
		}
	}
}

// OnRecv feeds ciphertext into the pipe; the handshake/read-pump
// goroutine consumes it via pipeConn.Read.
func (f *Filter) OnRecv(p []byte) error {
	f.mu.Lock()
	open := f.readOpen
	f.mu.Unlock()
	if !open {
		return wireerr.New(wireerr.Closed, "tls: recv after close")
	}
	f.pipe.feed(p)
	return nil
}

// DoSend wraps cleartext p and forwards the resulting ciphertext
// downward via the pipe's Write, which calls back into f.prev.DoSend.
// tls.Conn segments writes internally at the record boundary, so no
// additional chunking is needed here.
func (f *Filter) DoSend(p []byte) error {
	f.mu.Lock()
	open := f.sendOpen
	f.mu.Unlock()
	if !open {
		return wireerr.New(wireerr.Closed, "tls: send after close")
	}
	_, err := f.conn.Write(p)
	if err != nil {
		return wireerr.Wrap(wireerr.Transport, "tls: write failed", err)
	}
	return nil
}

func (f *Filter) DoCloseSend(cause error) error {
	f.mu.Lock()
	if !f.sendOpen {
		f.mu.Unlock()
		return nil
	}
	f.sendOpen = false
	f.mu.Unlock()

	_ = f.conn.CloseWrite()
	return f.prev.DoCloseSend(cause)
}

func (f *Filter) OnRecvClosed(cause error) error {
	f.mu.Lock()
	if !f.readOpen {
		f.mu.Unlock()
		return nil
	}
	f.readOpen = false
	f.mu.Unlock()

	f.pipe.closeInbound(cause)
	return f.next.OnRecvClosed(cause)
}

func (f *Filter) IsSendOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendOpen
}

func (f *Filter) IsReadOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readOpen
}

// handshakeComplete reports whether the TLS handshake has finished
// successfully. Exposed for tests; the Filter itself gates only on
// sendOpen/readOpen for send and close decisions.
func (f *Filter) handshakeComplete() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handshakeDone
}

// fail closes both directions with cause, used whenever the handshake
// or read pump hits a terminal error asynchronously.
func (f *Filter) fail(cause error) {
	f.mu.Lock()
	alreadyClosed := !f.readOpen && !f.sendOpen
	f.mu.Unlock()
	if alreadyClosed {
		return
	}
	_ = f.DoCloseSend(cause)
	_ = f.OnRecvClosed(cause)
}
