// Package applayer provides the terminal application layer every Stack
// is built with: a net.Conn-shaped endpoint over the cleartext byte
// stream the filter chain delivers. It is the Go equivalent of the
// spec's minimal application contract (start/onRead/onReadClosed/get),
// expressed so ordinary callers can Read/Write against the stack the
// same way they would a socket.
package applayer

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/wireproto/engine/pkg/queue"
	"github.com/wireproto/engine/pkg/stack"
	"github.com/wireproto/engine/pkg/wireerr"
)

// ByteSink is the application layer for a stack whose endpoint is a
// plain byte stream. Endpoint() returns a *Conn a caller Reads/Writes
// against; everything it writes travels down through the filter chain
// to the network, and everything the network delivers surfaces from
// its Read.
type ByteSink struct {
	prev stack.Layer

	conn *Conn
}

// NewByteSink builds a ByteSink. segSize sizes the inbound queue's
// segments.
func NewByteSink(segSize int) *ByteSink {
	if segSize <= 0 {
		segSize = 4096
	}
	bs := &ByteSink{}
	bs.conn = newConn(segSize, func(p []byte) error {
		return bs.prev.DoSend(p)
	})
	return bs
}

func (bs *ByteSink) Name() string { return "applayer" }

func (bs *ByteSink) SetNeighbors(n stack.Neighbors) {
	bs.prev = n.Prev
}

func (bs *ByteSink) Start(context.Context) error { return nil }

func (bs *ByteSink) OnRecv(p []byte) error {
	bs.conn.feed(p)
	return nil
}

func (bs *ByteSink) DoSend(p []byte) error {
	return wireerr.New(wireerr.Closed, "applayer: DoSend invalid on application layer")
}

func (bs *ByteSink) DoCloseSend(cause error) error {
	bs.conn.closeOutbound(cause)
	return nil
}

func (bs *ByteSink) OnRecvClosed(cause error) error {
	bs.conn.closeInbound(cause)
	return nil
}

func (bs *ByteSink) IsSendOpen() bool { return bs.conn.isSendOpen() }
func (bs *ByteSink) IsReadOpen() bool { return bs.conn.isReadOpen() }

// Endpoint returns the net.Conn-shaped object callers read and write
// against.
func (bs *ByteSink) Endpoint() interface{} { return bs.conn }

// Conn is the endpoint exposed by ByteSink. It is safe for one reader
// and one writer to use concurrently, matching the single-reader/
// single-writer contract of the queue it wraps.
type Conn struct {
	mu       sync.Mutex
	cond     *sync.Cond
	inbound  *queue.Queue
	readOpen bool
	readErr  error

	sendOpen bool
	writeOut func([]byte) error
}

func newConn(segSize int, writeOut func([]byte) error) *Conn {
	c := &Conn{
		inbound:  queue.New(segSize),
		readOpen: true,
		sendOpen: true,
		writeOut: writeOut,
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *Conn) feed(p []byte) {
	c.mu.Lock()
	c.inbound.Put(p)
	c.cond.Broadcast()
	c.mu.Unlock()
}

func (c *Conn) closeInbound(cause error) {
	c.mu.Lock()
	if c.readOpen {
		c.readOpen = false
		c.readErr = cause
	}
	c.cond.Broadcast()
	c.mu.Unlock()
}

func (c *Conn) closeOutbound(cause error) {
	c.mu.Lock()
	c.sendOpen = false
	c.mu.Unlock()
}

func (c *Conn) isSendOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendOpen
}

func (c *Conn) isReadOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readOpen
}

// Read blocks until bytes are available, the stack closes the receive
// side, or both.
func (c *Conn) Read(b []byte) (int, error) {
	c.mu.Lock()
	for !c.inbound.HasRemaining() && c.readOpen {
		c.cond.Wait()
	}
	if c.inbound.HasRemaining() {
		n := c.inbound.Get(b)
		c.mu.Unlock()
		return n, nil
	}
	err := c.readErr
	c.mu.Unlock()
	if err == nil {
		err = wireerr.New(wireerr.Closed, "applayer: read side closed")
	}
	return 0, err
}

// Write sends p down the stack. It returns CLOSED if the send side has
// already been closed.
func (c *Conn) Write(b []byte) (int, error) {
	if !c.isSendOpen() {
		return 0, wireerr.New(wireerr.Closed, "applayer: write after close")
	}
	if err := c.writeOut(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Close half-closes the read side locally; callers that also want to
// stop sending should close the owning Stack instead, which drives
// doCloseSend/onRecvClosed on every layer.
func (c *Conn) Close() error {
	c.closeInbound(wireerr.New(wireerr.Closed, "applayer: closed by caller"))
	return nil
}

func (c *Conn) LocalAddr() net.Addr                { return connAddr{} }
func (c *Conn) RemoteAddr() net.Addr               { return connAddr{} }
func (c *Conn) SetDeadline(time.Time) error        { return nil }
func (c *Conn) SetReadDeadline(time.Time) error     { return nil }
func (c *Conn) SetWriteDeadline(time.Time) error    { return nil }

type connAddr struct{}

func (connAddr) Network() string { return "wireproto-applayer" }
func (connAddr) String() string  { return "wireproto-applayer" }
