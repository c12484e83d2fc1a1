package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/wireproto/engine/pkg/wireerr"
)

// Interest is a bitmask of readiness events a registration cares
// about, mirroring the four bits the spec names: accept, connect,
// read, write. Accept and connect are folded into the same
// readable/writable epoll bits a listening or connecting fd reports.
type Interest uint32

const (
	InterestRead Interest = 1 << iota
	InterestWrite
	InterestAccept = InterestRead
	InterestConnect = InterestWrite
)

// Listener receives readiness callbacks for a registration. A
// dispatched event fires OnReadable, OnWritable, or both when the fd
// is ready in both directions.
type Listener interface {
	OnReadable()
	OnWritable()
}

// Handle identifies a live registration. It is safe to use from any
// worker goroutine.
type Handle struct {
	id uuid.UUID
	fd int
}

// String returns the handle's opaque identifier, for logs and events.
func (h Handle) String() string { return h.id.String() }

type registration struct {
	fd       int
	listener Listener
	interest Interest

	// inFlight is set while a dispatch for this fd is queued or
	// running on the pool. Epoll is level-triggered and EpollWait is
	// polled on a tight loop, so the same readable fd would otherwise
	// be resubmitted to a second worker before the first has drained
	// it, reordering the receive path. While inFlight is set, further
	// readiness for this fd is dropped; the level-triggered fd simply
	// reports ready again on the next EpollWait once the in-flight
	// dispatch clears it.
	inFlight bool
}

// Hub owns an epoll instance and a worker Pool. Create spawns the
// selector loop as a goroutine; Close tears everything down.
type Hub struct {
	pool *Pool

	mu     sync.Mutex
	epfd   int
	regs   map[int]*registration
	closed bool

	scheduler *scheduler

	loopDone chan struct{}
}

// Create builds a Hub backed by pool and starts its selector loop. The
// caller must call Close to release the epoll file descriptor.
func Create(ctx context.Context, pool *Pool) (*Hub, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, wireerr.Wrap(wireerr.Transport, "hub: epoll_create1", err)
	}
	h := &Hub{
		pool:      pool,
		epfd:      epfd,
		regs:      make(map[int]*registration),
		scheduler: newScheduler(),
		loopDone:  make(chan struct{}),
	}
	go h.loop(ctx)
	return h, nil
}

// Register adds fd to the epoll set with the given initial interests,
// dispatching readiness callbacks to listener via the hub's worker
// pool.
func (h *Hub) Register(fd int, interest Interest, listener Listener) (Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return Handle{}, wireerr.New(wireerr.Closed, "hub: closed")
	}

	ev := unix.EpollEvent{Events: epollBits(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(h.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return Handle{}, wireerr.Wrap(wireerr.Transport, "hub: epoll_ctl add", err)
	}

	h.regs[fd] = &registration{fd: fd, listener: listener, interest: interest}
	return Handle{id: uuid.New(), fd: fd}, nil
}

// SetInterest replaces the interest set for h's registration. It may
// be called from any worker goroutine.
func (h *Hub) SetInterest(handle Handle, interest Interest) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	reg, ok := h.regs[handle.fd]
	if !ok {
		return wireerr.New(wireerr.Closed, "hub: unknown registration")
	}
	reg.interest = interest
	ev := unix.EpollEvent{Events: epollBits(interest), Fd: int32(handle.fd)}
	if err := unix.EpollCtl(h.epfd, unix.EPOLL_CTL_MOD, handle.fd, &ev); err != nil {
		return wireerr.Wrap(wireerr.Transport, "hub: epoll_ctl mod", err)
	}
	return nil
}

// Deregister removes a registration from the epoll set. Further
// readiness for its fd will not be dispatched.
func (h *Hub) Deregister(handle Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.regs[handle.fd]; !ok {
		return nil
	}
	delete(h.regs, handle.fd)
	return unix.EpollCtl(h.epfd, unix.EPOLL_CTL_DEL, handle.fd, nil)
}

// Execute runs task on the hub's worker pool.
func (h *Hub) Execute(task func()) error {
	return h.pool.Submit(task)
}

// Schedule runs task once, after delay, on the worker pool. It
// returns a cancel function.
func (h *Hub) Schedule(task func(), delay time.Duration) (cancel func()) {
	return h.scheduler.after(delay, func() { _ = h.pool.Submit(task) })
}

// SchedulePeriodic runs task repeatedly every interval until
// cancelled.
func (h *Hub) SchedulePeriodic(task func(), interval time.Duration) (cancel func()) {
	return h.scheduler.every(interval, func() { _ = h.pool.Submit(task) })
}

// Close cancels scheduled tasks, signals closure to every registered
// listener, and stops the selector loop.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	regs := make([]*registration, 0, len(h.regs))
	for _, r := range h.regs {
		regs = append(regs, r)
	}
	h.regs = make(map[int]*registration)
	h.mu.Unlock()

	h.scheduler.stop()
	_ = unix.Close(h.epfd)
	<-h.loopDone

	for _, r := range regs {
		r.listener.OnReadable()
	}
	return nil
}

func (h *Hub) loop(ctx context.Context) {
	defer close(h.loopDone)
	events := make([]unix.EpollEvent, 64)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := unix.EpollWait(h.epfd, events, 250)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		for i := 0; i < n; i++ {
			h.dispatch(events[i])
		}
	}
}

func (h *Hub) dispatch(ev unix.EpollEvent) {
	h.mu.Lock()
	reg, ok := h.regs[int(ev.Fd)]
	if ok {
		if reg.inFlight {
			h.mu.Unlock()
			return
		}
		reg.inFlight = true
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	readable := ev.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0
	writable := ev.Events&unix.EPOLLOUT != 0

	clearInFlight := func() {
		h.mu.Lock()
		if cur, ok := h.regs[reg.fd]; ok && cur == reg {
			cur.inFlight = false
		}
		h.mu.Unlock()
	}

	if err := h.pool.Submit(func() {
		defer clearInFlight()
		if readable {
			reg.listener.OnReadable()
		}
		if writable {
			reg.listener.OnWritable()
		}
	}); err != nil {
		clearInFlight()
	}
}

func epollBits(interest Interest) uint32 {
	var bits uint32
	if interest&InterestRead != 0 {
		bits |= unix.EPOLLIN
	}
	if interest&InterestWrite != 0 {
		bits |= unix.EPOLLOUT
	}
	return bits
}

func (i Interest) String() string {
	switch i {
	case InterestRead:
		return "read"
	case InterestWrite:
		return "write"
	case InterestRead | InterestWrite:
		return "read|write"
	default:
		return fmt.Sprintf("interest(%d)", i)
	}
}
