// Package tls drives a TLS session over the inner encrypted transport
// view of a stack. crypto/tls has no exposed manual wrap/unwrap engine
// comparable to Java's SSLEngine; the idiomatic Go equivalent is to
// give tls.Client/tls.Server a net.Conn and let it drive the
// handshake and record framing itself. pipeConn is that net.Conn: its
// Read pulls from an inbound byte queue fed by OnRecv, and its Write
// hands ciphertext to the filter's downward DoSend.
package tls

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/wireproto/engine/pkg/queue"
)

// pipeConn implements net.Conn without ever touching a real socket: it
// is the bridge between the filter's event-driven OnRecv/DoSend
// callbacks and crypto/tls's blocking net.Conn expectations. Its Read
// reports a plain io.EOF once the transport below has closed with no
// more buffered bytes, on purpose: crypto/tls itself distinguishes a
// graceful close (a decoded close_notify alert, which it turns into
// io.EOF from Conn.Read before ever hitting reader EOF) from a
// truncated stream (reader EOF arriving mid-record, which it turns
// into io.ErrUnexpectedEOF) by inspecting its own record buffering
// state, not by inspecting the reader's error value. Returning
// anything other than io.EOF here would defeat that classification.
type pipeConn struct {
	mu      sync.Mutex
	cond    *sync.Cond
	inbound *queue.Queue
	closed  bool

	writeOut func([]byte) error
}

func newPipeConn(segSize int, writeOut func([]byte) error) *pipeConn {
	pc := &pipeConn{inbound: queue.New(segSize), writeOut: writeOut}
	pc.cond = sync.NewCond(&pc.mu)
	return pc
}

// feed is called by the filter's OnRecv to deliver ciphertext the
// pipeConn's Read should surface to tls.Conn.
func (pc *pipeConn) feed(p []byte) {
	pc.mu.Lock()
	pc.inbound.Put(p)
	pc.cond.Broadcast()
	pc.mu.Unlock()
}

// closeInbound unblocks any pending Read once the underlying transport
// has reported EOF or failure; cause is not recorded and is not
// surfaced through Read (see the pipeConn doc comment).
func (pc *pipeConn) closeInbound(cause error) {
	pc.mu.Lock()
	pc.closed = true
	pc.cond.Broadcast()
	pc.mu.Unlock()
}

func (pc *pipeConn) Read(b []byte) (int, error) {
	pc.mu.Lock()
	for !pc.inbound.HasRemaining() && !pc.closed {
		pc.cond.Wait()
	}
	if pc.inbound.HasRemaining() {
		n := pc.inbound.Get(b)
		pc.mu.Unlock()
		return n, nil
	}
	pc.mu.Unlock()
	return 0, io.EOF
}

func (pc *pipeConn) Write(b []byte) (int, error) {
	if err := pc.writeOut(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (pc *pipeConn) Close() error {
	pc.closeInbound(net.ErrClosed)
	return nil
}

func (pc *pipeConn) LocalAddr() net.Addr                { return pipeAddr{} }
func (pc *pipeConn) RemoteAddr() net.Addr               { return pipeAddr{} }
func (pc *pipeConn) SetDeadline(time.Time) error        { return nil }
func (pc *pipeConn) SetReadDeadline(time.Time) error     { return nil }
func (pc *pipeConn) SetWriteDeadline(time.Time) error    { return nil }

type pipeAddr struct{}

func (pipeAddr) Network() string { return "wireproto-filter" }
func (pipeAddr) String() string  { return "wireproto-filter" }
