//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based reactor implementation and factory.

package reactor

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// linuxReactor is an edge-triggered epoll reactor with an eventfd used to
// break a blocked Wait from another thread.
type linuxReactor struct {
	epfd   int
	wakeFd int
	raw    []unix.EpollEvent // reused by Wait; Wait is single-threaded
}

// NewReactor constructs the platform EventReactor for Linux.
func NewReactor() (EventReactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	r := &linuxReactor{epfd: epfd, wakeFd: wakeFd}
	ev := &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLET,
		Fd:     int32(wakeFd),
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, ev); err != nil {
		unix.Close(wakeFd)
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add wakeup: %w", err)
	}
	return r, nil
}

func epollBits(interest Interest) uint32 {
	// Always edge-triggered; the connection loop drains to EAGAIN.
	bits := uint32(unix.EPOLLET)
	if interest&EventRead != 0 {
		bits |= unix.EPOLLIN
	}
	if interest&EventWrite != 0 {
		bits |= unix.EPOLLOUT
	}
	if interest&EventHup != 0 {
		bits |= unix.EPOLLRDHUP
	}
	return bits
}

// Add registers fd with epoll.
func (r *linuxReactor) Add(fd int, interest Interest) error {
	ev := &unix.EpollEvent{Events: epollBits(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	return nil
}

// Modify replaces fd's interest set.
func (r *linuxReactor) Modify(fd int, interest Interest) error {
	ev := &unix.EpollEvent{Events: epollBits(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, ev); err != nil {
		return fmt.Errorf("epoll ctl mod: %w", err)
	}
	return nil
}

// Remove deregisters fd.
func (r *linuxReactor) Remove(fd int) error {
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

// Wait blocks for events up to timeoutMs. Wakeup notifications are drained
// here and not surfaced to the caller.
func (r *linuxReactor) Wait(events []Event, timeoutMs int) (int, error) {
	if len(r.raw) < len(events) {
		r.raw = make([]unix.EpollEvent, len(events))
	}
	raw := r.raw[:len(events)]
	n, err := unix.EpollWait(r.epfd, raw, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}
	out := 0
	for i := 0; i < n; i++ {
		fd := int(raw[i].Fd)
		if fd == r.wakeFd {
			r.drainWakeup()
			continue
		}
		var ready Interest
		if raw[i].Events&unix.EPOLLIN != 0 {
			ready |= EventRead
		}
		if raw[i].Events&unix.EPOLLOUT != 0 {
			ready |= EventWrite
		}
		if raw[i].Events&(unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			ready |= EventHup
		}
		events[out] = Event{Fd: fd, Ready: ready}
		out++
	}
	return out, nil
}

// Wakeup posts to the eventfd so a blocked Wait returns.
func (r *linuxReactor) Wakeup() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(r.wakeFd, buf[:])
	if err == unix.EAGAIN {
		// Counter saturated; the pending wakeup is enough.
		return nil
	}
	return err
}

func (r *linuxReactor) drainWakeup() {
	var buf [8]byte
	for {
		if _, err := unix.Read(r.wakeFd, buf[:]); err != nil {
			return
		}
	}
}

// Close releases the epoll instance and the wakeup descriptor.
func (r *linuxReactor) Close() error {
	unix.Close(r.wakeFd)
	return unix.Close(r.epfd)
}
