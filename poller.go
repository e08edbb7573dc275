//go:build linux
// +build linux

package asnet

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// interest is the set of readiness conditions an fd is registered for.
type interest uint32

const (
	interestNone  interest = 0
	interestRead  interest = 0x1
	interestWrite interest = 0x2
)

func (in interest) epollEvents() uint32 {
	var ev uint32
	if in&interestRead != 0 {
		ev |= unix.EPOLLIN
	}
	if in&interestWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

// pollEvent reports the readiness of one registered fd.
type pollEvent struct {
	fd       int
	readable bool
	writable bool
}

// poller wraps a level-triggered epoll instance. All methods must be called
// from the same goroutine that owns the Host.
type poller struct {
	fd     int
	events []unix.EpollEvent
	ready  []pollEvent
}

func openPoller(eventsCap int) (*poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "epoll_create1")
	}
	return &poller{
		fd:     fd,
		events: make([]unix.EpollEvent, eventsCap),
	}, nil
}

func (p *poller) register(fd int, in interest) error {
	ev := unix.EpollEvent{Events: in.epollEvents(), Fd: int32(fd)}
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return errors.Wrapf(err, "epoll_ctl add fd %d", fd)
	}
	return nil
}

func (p *poller) modify(fd int, in interest) error {
	ev := unix.EpollEvent{Events: in.epollEvents(), Fd: int32(fd)}
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return errors.Wrapf(err, "epoll_ctl mod fd %d", fd)
	}
	return nil
}

func (p *poller) deregister(fd int) error {
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return errors.Wrapf(err, "epoll_ctl del fd %d", fd)
	}
	return nil
}

func (p *poller) close() error {
	return errors.Wrap(unix.Close(p.fd), "close epoll fd")
}

// wait blocks until at least one registered fd is ready or msec elapses.
// msec < 0 waits indefinitely, msec == 0 polls without blocking. The
// returned slice is reused by the next call.
func (p *poller) wait(msec int) ([]pollEvent, error) {
	p.ready = p.ready[:0]

	var deadline time.Time
	if msec > 0 {
		deadline = time.Now().Add(time.Duration(msec) * time.Millisecond)
	}
	var n int
	for {
		var err error
		n, err = unix.EpollWait(p.fd, p.events, msec)
		if err == nil {
			break
		}
		if err != unix.EINTR {
			return nil, errors.Wrap(err, "epoll_wait")
		}
		// Interrupted by a signal; wait out whatever remains of the
		// original timeout.
		if msec > 0 {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return p.ready, nil
			}
			msec = int((remaining + time.Millisecond - 1) / time.Millisecond)
		}
	}
	for i := 0; i < n; i++ {
		ev := &p.events[i]
		// Error and hangup conditions are reported regardless of the
		// registered interest; surfacing them as readable and writable
		// lets the read path observe the EOF or error and the write
		// path observe EPIPE.
		failed := ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0
		p.ready = append(p.ready, pollEvent{
			fd:       int(ev.Fd),
			readable: failed || ev.Events&unix.EPOLLIN != 0,
			writable: failed || ev.Events&unix.EPOLLOUT != 0,
		})
	}
	return p.ready, nil
}
