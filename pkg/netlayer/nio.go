package netlayer

import (
	"context"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/wireproto/engine/pkg/bufpool"
	"github.com/wireproto/engine/pkg/hub"
	"github.com/wireproto/engine/pkg/queue"
	"github.com/wireproto/engine/pkg/stack"
	"github.com/wireproto/engine/pkg/wireerr"
)

// DefaultHalfCloseIdleTimeout bounds how long a NIO network layer
// waits, once its read side has closed but its send side has not, for
// the peer to finish its own half-close before the connection is
// force-closed outright.
const DefaultHalfCloseIdleTimeout = 30 * time.Second

// NIO is the readiness-driven network layer: it registers conn's file
// descriptor with a hub.Hub and reads or writes only when epoll
// reports the corresponding interest, rather than blocking a dedicated
// goroutine the way BIO does.
type NIO struct {
	conn syscall.Conn
	h    *hub.Hub
	pool *bufpool.Pool

	next stack.Layer

	halfCloseIdleTimeout time.Duration

	mu         sync.Mutex
	outbound   *queue.Queue
	sendOpen   bool
	readOpen   bool
	handle     hub.Handle
	rawFD      int
	cancelIdle func()
}

// NewNIO creates an NIO network layer over conn, registered with h.
// pool supplies the reusable read buffers; segSize sizes the outbound
// queue's segments. The layer force-closes a half-closed connection
// (read side closed, send side still open) after
// DefaultHalfCloseIdleTimeout; use NewNIOWithIdleTimeout to override.
func NewNIO(conn *net.TCPConn, h *hub.Hub, pool *bufpool.Pool, segSize int) *NIO {
	return NewNIOWithIdleTimeout(conn, h, pool, segSize, DefaultHalfCloseIdleTimeout)
}

// NewNIOWithIdleTimeout is like NewNIO but lets the caller configure
// the half-close idle timeout. A non-positive timeout disables the
// force-close entirely: the connection waits indefinitely for the
// peer to complete its own half-close.
func NewNIOWithIdleTimeout(conn *net.TCPConn, h *hub.Hub, pool *bufpool.Pool, segSize int, idleTimeout time.Duration) *NIO {
	return &NIO{
		conn:                 conn,
		h:                    h,
		pool:                 pool,
		outbound:             queue.New(segSize),
		sendOpen:             true,
		readOpen:             true,
		halfCloseIdleTimeout: idleTimeout,
	}
}

func (n *NIO) Name() string { return "network-nio" }

func (n *NIO) SetNeighbors(nb stack.Neighbors) {
	n.next = nb.Next
}

// Start registers the connection for read readiness.
func (n *NIO) Start(ctx context.Context) error {
	raw, err := n.conn.SyscallConn()
	if err != nil {
		return wireerr.Wrap(wireerr.Transport, "network: SyscallConn", err)
	}
	var fd int
	if err := raw.Control(func(f uintptr) { fd = int(f) }); err != nil {
		return wireerr.Wrap(wireerr.Transport, "network: fd control", err)
	}
	n.rawFD = fd

	handle, err := n.h.Register(fd, hub.InterestRead, n)
	if err != nil {
		return err
	}
	n.handle = handle
	return nil
}

// OnReadable implements hub.Listener: it reads one buffer's worth of
// ciphertext/cleartext bytes and forwards them upward.
func (n *NIO) OnReadable() {
	buf := n.pool.Acquire(n.pool_defaultSize())
	defer n.pool.Release(buf)

	count, err := syscallRead(n.rawFD, buf.Bytes())
	if count > 0 {
		if rerr := n.next.OnRecv(buf.Bytes()[:count]); rerr != nil {
			n.closeRead(rerr)
			return
		}
	}
	if err != nil {
		if isWouldBlock(err) {
			return
		}
		n.closeRead(classifyReadErr(err))
	}
}

// OnWritable implements hub.Listener: it drains as much of the
// outbound queue as the socket will currently accept, clearing write
// interest once the queue empties.
func (n *NIO) OnWritable() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for n.outbound.HasRemaining() {
		chunk := make([]byte, n.outbound.RemainingLimit(64*1024))
		n.outbound.Peek(chunk)

		wrote, err := syscallWrite(n.rawFD, chunk)
		n.outbound.Skip(wrote)
		if err != nil {
			if isWouldBlock(err) {
				return
			}
			n.closeSendLocked(wireerr.Wrap(wireerr.Transport, "network: write failed", err))
			return
		}
		if wrote < len(chunk) {
			return
		}
	}
	_ = n.h.SetInterest(n.handle, hub.InterestRead)
}

func (n *NIO) pool_defaultSize() int { return 4096 }

// DoSend enqueues p for the next write-ready dispatch and arms write
// interest.
func (n *NIO) DoSend(p []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.sendOpen {
		return wireerr.New(wireerr.Closed, "network: send after close")
	}
	n.outbound.Put(p)
	return n.h.SetInterest(n.handle, hub.InterestRead|hub.InterestWrite)
}

func (n *NIO) DoCloseSend(cause error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closeSendLocked(cause)
	return nil
}

func (n *NIO) closeSendLocked(cause error) {
	if !n.sendOpen {
		return
	}
	n.sendOpen = false
	if n.cancelIdle != nil {
		n.cancelIdle()
		n.cancelIdle = nil
	}
	if tcp, ok := n.conn.(*net.TCPConn); ok {
		_ = tcp.CloseWrite()
	}
}

func (n *NIO) closeRead(cause error) {
	n.mu.Lock()
	if !n.readOpen {
		n.mu.Unlock()
		return
	}
	n.readOpen = false
	armIdle := n.sendOpen && n.halfCloseIdleTimeout > 0
	n.mu.Unlock()
	_ = n.h.Deregister(n.handle)
	_ = n.next.OnRecvClosed(cause)

	if armIdle {
		n.mu.Lock()
		n.cancelIdle = n.h.Schedule(n.forceCloseIdle, n.halfCloseIdleTimeout)
		n.mu.Unlock()
	}
}

// forceCloseIdle fires when the read side has been closed for
// halfCloseIdleTimeout while the send side never completed its own
// close: the peer is presumed gone, and the connection is torn down
// outright rather than leaking a half-open socket.
func (n *NIO) forceCloseIdle() {
	n.mu.Lock()
	n.cancelIdle = nil
	n.mu.Unlock()
	_ = n.DoCloseSend(wireerr.New(wireerr.Timeout, "network: half-close idle timeout exceeded"))
}

func (n *NIO) OnRecv(p []byte) error {
	return wireerr.New(wireerr.Closed, "network: OnRecv invalid on network layer")
}

func (n *NIO) OnRecvClosed(cause error) error {
	return wireerr.New(wireerr.Closed, "network: OnRecvClosed invalid on network layer")
}

func (n *NIO) IsSendOpen() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sendOpen
}

func (n *NIO) IsReadOpen() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.readOpen
}
