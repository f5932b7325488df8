// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

//go:build linux
// +build linux

package mmio

import (
	"encoding/binary"
	"errors"
	"sync"

	"golang.org/x/sys/unix"
)

const maxEvents = 8

type source struct {
	fd int
	// readSize is the size of the read that acknowledges the interrupt,
	// 4 for UIO and 8 for eventfd.
	readSize int
	// rearm reenables UIO interrupts after each one.
	rearm bool
	// handler is called after each interrupt, with any error reenabling
	// interrupts.
	handler func(error)
}

// watcher dispatches interrupts signalled through file descriptors to their
// handlers.
type watcher struct {
	epfd   int
	donefd int
	exited chan struct{}

	mu      sync.Mutex // Guards the following.
	sources map[int]*source
}

func newWatcher() (*watcher, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	donefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(donefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, donefd, &ev); err != nil {
		unix.Close(epfd)
		unix.Close(donefd)
		return nil, err
	}
	w := &watcher{
		epfd:    epfd,
		donefd:  donefd,
		exited:  make(chan struct{}),
		sources: make(map[int]*source),
	}
	go w.run()
	return w, nil
}

func (w *watcher) run() {
	defer close(w.exited)
	var events [maxEvents]unix.EpollEvent
	for {
		n, err := unix.EpollWait(w.epfd, events[:], -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		srcs := make([]*source, 0, n)
		w.mu.Lock()
		for _, ev := range events[:n] {
			if int(ev.Fd) == w.donefd {
				w.mu.Unlock()
				return
			}
			if s, ok := w.sources[int(ev.Fd)]; ok {
				srcs = append(srcs, s)
			}
		}
		w.mu.Unlock()
		for _, s := range srcs {
			s.service()
		}
	}
}

func (s *source) service() {
	buf := make([]byte, s.readSize)
	for {
		if _, err := unix.Read(s.fd, buf); err != nil {
			break
		}
	}
	var err error
	if s.rearm {
		err = enable(s.fd)
	}
	s.handler(err)
}

// enable enables interrupts on a UIO device.
func enable(fd int) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], 1)
	_, err := unix.Write(fd, buf[:])
	return err
}

// register adds the fd to the watch. An fd can only be registered once.
func (w *watcher) register(fd, readSize int, rearm bool, handler func(error)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.sources[fd]; ok {
		return errors.New("watch already exists")
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return err
	}
	ev := unix.EpollEvent{Events: (unix.EPOLLIN | unix.EPOLLET) & 0xffffffff, Fd: int32(fd)}
	if err := unix.EpollCtl(w.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return err
	}
	w.sources[fd] = &source{fd: fd, readSize: readSize, rearm: rearm, handler: handler}
	return nil
}

func (w *watcher) unregister(fd int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.sources[fd]; !ok {
		return
	}
	delete(w.sources, fd)
	unix.EpollCtl(w.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// close stops the watch. The registered fds are not closed.
func (w *watcher) close() {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	unix.Write(w.donefd, buf[:])
	<-w.exited
	w.mu.Lock()
	w.sources = nil
	w.mu.Unlock()
	unix.Close(w.epfd)
	unix.Close(w.donefd)
}
