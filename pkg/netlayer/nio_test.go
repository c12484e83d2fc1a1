package netlayer

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/wireproto/engine/pkg/bufpool"
	"github.com/wireproto/engine/pkg/hub"
	"github.com/wireproto/engine/pkg/stack"
)

func tcpLoopbackPair(t *testing.T) (*net.TCPConn, *net.TCPConn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	type acceptResult struct {
		conn net.Conn
		err  error
	}
	accepted := make(chan acceptResult, 1)
	go func() {
		c, err := ln.Accept()
		accepted <- acceptResult{c, err}
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	res := <-accepted
	if res.err != nil {
		t.Fatalf("Accept: %v", res.err)
	}
	return client.(*net.TCPConn), res.conn.(*net.TCPConn)
}

func TestNIO_ReadAndWriteRoundTrip(t *testing.T) {
	client, server := tcpLoopbackPair(t)
	defer client.Close()
	defer server.Close()

	pool := hub.NewPool(context.Background(), 2)
	h, err := hub.Create(context.Background(), pool)
	if err != nil {
		t.Fatalf("hub.Create: %v", err)
	}
	defer h.Close()

	bp := bufpool.New(4096, 8)
	nio := NewNIO(server, h, bp, 256)
	next := newCaptureNext()
	nio.SetNeighbors(stack.Neighbors{Next: next})
	if err := nio.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	client.Write([]byte("over the wire"))

	select {
	case got := <-next.recv:
		if string(got) != "over the wire" {
			t.Fatalf("got %q, want %q", got, "over the wire")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for NIO to forward bytes")
	}
}

func TestNIO_DoSendDrainsToSocket(t *testing.T) {
	client, server := tcpLoopbackPair(t)
	defer client.Close()
	defer server.Close()

	pool := hub.NewPool(context.Background(), 2)
	h, err := hub.Create(context.Background(), pool)
	if err != nil {
		t.Fatalf("hub.Create: %v", err)
	}
	defer h.Close()

	bp := bufpool.New(4096, 8)
	nio := NewNIO(server, h, bp, 256)
	next := newCaptureNext()
	nio.SetNeighbors(stack.Neighbors{Next: next})
	if err := nio.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := nio.DoSend([]byte("reply")); err != nil {
		t.Fatalf("DoSend: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 5)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("client.Read: %v", err)
	}
	if string(buf[:n]) != "reply" {
		t.Fatalf("got %q, want reply", buf[:n])
	}
}

func TestNIO_OnReadableIgnoresWouldBlock(t *testing.T) {
	client, server := tcpLoopbackPair(t)
	defer client.Close()
	defer server.Close()

	pool := hub.NewPool(context.Background(), 2)
	h, err := hub.Create(context.Background(), pool)
	if err != nil {
		t.Fatalf("hub.Create: %v", err)
	}
	defer h.Close()

	bp := bufpool.New(4096, 8)
	nio := NewNIO(server, h, bp, 256)
	next := newCaptureNext()
	nio.SetNeighbors(stack.Neighbors{Next: next})
	if err := nio.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Nothing has been written, so the read syscall drains nothing and
	// returns EAGAIN: this must not be treated as a closed connection.
	nio.OnReadable()

	select {
	case <-next.closed:
		t.Fatalf("EAGAIN on a drained socket must not close the read side")
	case <-time.After(100 * time.Millisecond):
	}
	if !nio.IsReadOpen() {
		t.Fatalf("expected the read side to remain open after EAGAIN")
	}

	// The connection still works for a subsequent real read.
	client.Write([]byte("still alive"))
	select {
	case got := <-next.recv:
		if string(got) != "still alive" {
			t.Fatalf("got %q, want %q", got, "still alive")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for NIO to forward bytes after EAGAIN")
	}
}

func TestNIO_HalfCloseIdleTimeoutForceClosesSendSide(t *testing.T) {
	client, server := tcpLoopbackPair(t)
	defer client.Close()
	defer server.Close()

	pool := hub.NewPool(context.Background(), 2)
	h, err := hub.Create(context.Background(), pool)
	if err != nil {
		t.Fatalf("hub.Create: %v", err)
	}
	defer h.Close()

	bp := bufpool.New(4096, 8)
	nio := NewNIOWithIdleTimeout(server, h, bp, 256, 50*time.Millisecond)
	next := newCaptureNext()
	nio.SetNeighbors(stack.Neighbors{Next: next})
	if err := nio.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Client closes its write side, driving the server's read side
	// closed while its send side stays open: the idle timer should
	// then force the send side closed too.
	client.CloseWrite()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && nio.IsSendOpen() {
		time.Sleep(10 * time.Millisecond)
	}
	if nio.IsSendOpen() {
		t.Fatalf("expected the half-close idle timeout to close the send side")
	}
}

func TestNIO_HalfCloseResolvedBeforeTimeoutCancelsTimer(t *testing.T) {
	client, server := tcpLoopbackPair(t)
	defer client.Close()
	defer server.Close()

	pool := hub.NewPool(context.Background(), 2)
	h, err := hub.Create(context.Background(), pool)
	if err != nil {
		t.Fatalf("hub.Create: %v", err)
	}
	defer h.Close()

	bp := bufpool.New(4096, 8)
	nio := NewNIOWithIdleTimeout(server, h, bp, 256, 2*time.Second)
	next := newCaptureNext()
	nio.SetNeighbors(stack.Neighbors{Next: next})
	if err := nio.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	client.CloseWrite()
	time.Sleep(50 * time.Millisecond)
	if !nio.IsSendOpen() {
		t.Fatalf("send side closed before the idle timeout elapsed")
	}

	if err := nio.DoCloseSend(nil); err != nil {
		t.Fatalf("DoCloseSend: %v", err)
	}
	if nio.IsSendOpen() {
		t.Fatalf("expected DoCloseSend to close the send side immediately")
	}
}
