//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7) poller with an eventfd(2) wakeup channel.

package reactor

import (
	"encoding/binary"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-wl/api"
	"github.com/momentics/hioload-wl/pool"
)

// epollPoller is level-triggered: a handler that leaves data unread is
// reported again on the next iteration.
type epollPoller struct {
	epfd   int
	wakefd int
	raw    []unix.EpollEvent
	closed atomic.Bool
}

func newPoller() (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, api.NewError(api.ErrCodeInternal, "reactor: epoll create").WithCause(err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, api.NewError(api.ErrCodeInternal, "reactor: eventfd create").WithCause(err)
	}
	// Generation 0 never names a live handle, so it marks the wakeup fd.
	ev := unix.EpollEvent{Events: unix.EPOLLIN}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, api.NewError(api.ErrCodeInternal, "reactor: register eventfd").WithCause(err)
	}
	return &epollPoller{epfd: epfd, wakefd: wakefd}, nil
}

func (p *epollPoller) add(fd int, interest api.EventMask, h Handle) error {
	ev := unix.EpollEvent{
		Events: toEpoll(interest),
		Fd:     int32(h.Index()),
		Pad:    int32(h.Generation()),
	}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epollPoller) del(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) wait(out []readyEvent, timeout time.Duration) (int, error) {
	if cap(p.raw) < len(out) {
		p.raw = make([]unix.EpollEvent, len(out))
	}
	raw := p.raw[:len(out)]

	n, err := unix.EpollWait(p.epfd, raw, timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return 0, nil // interrupted by signal, an empty iteration
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		gen := uint32(raw[i].Pad)
		if gen == 0 {
			out[i] = readyEvent{wake: true}
			continue
		}
		out[i] = readyEvent{
			handle: pool.MakeHandle(uint32(raw[i].Fd), gen),
			mask:   fromEpoll(raw[i].Events),
		}
	}
	return n, nil
}

func (p *epollPoller) wake() error {
	if p.closed.Load() {
		return api.ErrClosed
	}
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	_, err := unix.Write(p.wakefd, one[:])
	if err == unix.EAGAIN {
		return nil // counter saturated, a wakeup is already pending
	}
	return err
}

func (p *epollPoller) drain() error {
	var buf [8]byte
	_, err := unix.Read(p.wakefd, buf[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (p *epollPoller) close() error {
	if p.closed.Swap(true) {
		return nil
	}
	werr := unix.Close(p.wakefd)
	if err := unix.Close(p.epfd); err != nil {
		return err
	}
	return werr
}

func timeoutMillis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	ms := d / time.Millisecond
	if d%time.Millisecond != 0 {
		ms++
	}
	return int(ms)
}

func toEpoll(m api.EventMask) uint32 {
	var ev uint32
	if m&api.EventRead != 0 {
		ev |= unix.EPOLLIN
	}
	if m&api.EventWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func fromEpoll(ev uint32) api.EventMask {
	var m api.EventMask
	if ev&unix.EPOLLIN != 0 {
		m |= api.EventRead
	}
	if ev&unix.EPOLLOUT != 0 {
		m |= api.EventWrite
	}
	if ev&unix.EPOLLERR != 0 {
		m |= api.EventError
	}
	if ev&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		m |= api.EventHangup
	}
	return m
}
