// Package netlayer adapts a transport pair (readable source, writable
// sink) to the bottom of a protocol stack. Two variants share the same
// contract to upper layers: BIO runs a dedicated blocking reader
// goroutine; NIO is readiness-driven through a hub.Hub registration.
package netlayer

import (
	"context"
	"io"
	"sync"

	"github.com/wireproto/engine/pkg/stack"
	"github.com/wireproto/engine/pkg/wireerr"
)

// BIO is the blocking-I/O network layer: a dedicated goroutine pulls
// bytes from src into the stack above, and writes to sink happen
// synchronously (blocking as needed) on the calling goroutine.
type BIO struct {
	src io.Reader
	sink io.Writer
	closer io.Closer

	next stack.Layer

	mu       sync.Mutex
	sendOpen bool
	readOpen bool

	bufSize int
}

// NewBIO creates a BIO network layer over src/sink. If the pair also
// implements io.Closer (as a net.Conn or *os.File does), Close is
// invoked when both directions have closed.
func NewBIO(src io.Reader, sink io.Writer, bufSize int) *BIO {
	if bufSize <= 0 {
		bufSize = 4096
	}
	b := &BIO{src: src, sink: sink, bufSize: bufSize, sendOpen: true, readOpen: true}
	if c, ok := src.(io.Closer); ok {
		b.closer = c
	}
	return b
}

func (b *BIO) Name() string { return "network-bio" }

func (b *BIO) SetNeighbors(n stack.Neighbors) {
	b.next = n.Next
}

// Start launches the dedicated reader goroutine. It returns
// immediately; read errors surface asynchronously as OnRecvClosed on
// the layer above.
func (b *BIO) Start(ctx context.Context) error {
	go b.readLoop()
	return nil
}

func (b *BIO) readLoop() {
	buf := make([]byte, b.bufSize)
	for {
		n, err := b.src.Read(buf)
		if n > 0 {
			if rerr := b.next.OnRecv(buf[:n]); rerr != nil {
				b.closeRead(rerr)
				return
			}
		}
		if err != nil {
			cause := err
			if err == io.EOF {
				cause = wireerr.New(wireerr.Closed, "network: peer closed")
			} else {
				cause = wireerr.Wrap(wireerr.Transport, "network: read failed", err)
			}
			b.closeRead(cause)
			return
		}
	}
}

func (b *BIO) closeRead(cause error) {
	b.mu.Lock()
	if !b.readOpen {
		b.mu.Unlock()
		return
	}
	b.readOpen = false
	b.mu.Unlock()
	_ = b.next.OnRecvClosed(cause)
	b.maybeClose()
}

// OnRecv is never called on the network layer; it has no Prev.
func (b *BIO) OnRecv(p []byte) error {
	return wireerr.New(wireerr.Closed, "network: OnRecv invalid on network layer")
}

// DoSend writes p to the sink, blocking as needed.
func (b *BIO) DoSend(p []byte) error {
	b.mu.Lock()
	open := b.sendOpen
	b.mu.Unlock()
	if !open {
		return wireerr.New(wireerr.Closed, "network: send after close")
	}
	if _, err := b.sink.Write(p); err != nil {
		cause := wireerr.Wrap(wireerr.Transport, "network: write failed", err)
		b.DoCloseSend(cause)
		return cause
	}
	return nil
}

// DoCloseSend half-closes the write side. If sink implements a
// CloseWrite-style shutdown it is invoked; otherwise the full
// transport is closed once both directions are done.
func (b *BIO) DoCloseSend(cause error) error {
	b.mu.Lock()
	if !b.sendOpen {
		b.mu.Unlock()
		return nil
	}
	b.sendOpen = false
	b.mu.Unlock()

	type halfCloser interface{ CloseWrite() error }
	if hc, ok := b.sink.(halfCloser); ok {
		_ = hc.CloseWrite()
	}
	b.maybeClose()
	return nil
}

func (b *BIO) OnRecvClosed(cause error) error {
	return wireerr.New(wireerr.Closed, "network: OnRecvClosed invalid on network layer")
}

func (b *BIO) IsSendOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sendOpen
}

func (b *BIO) IsReadOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readOpen
}

func (b *BIO) maybeClose() {
	b.mu.Lock()
	done := !b.sendOpen && !b.readOpen
	b.mu.Unlock()
	if done && b.closer != nil {
		_ = b.closer.Close()
	}
}
