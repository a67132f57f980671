package transport

import (
	"encoding/binary"
	"syscall"
)

const (
	readEvents  = syscall.EPOLLIN | syscall.EPOLLRDHUP
	writeEvents = syscall.EPOLLOUT
	errorEvents = syscall.EPOLLERR | syscall.EPOLLHUP
)

type Poller struct {
	fd     int
	wakeFd int
}

func MakePoller() (*Poller, error) {
	var (
		poller Poller
		err    error
	)

	// Open an epoll fd
	// https://man7.org/linux/man-pages/man2/epoll_create.2.html
	poller.fd, err = syscall.EpollCreate1(syscall.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	// https://man7.org/linux/man-pages/man2/eventfd.2.html
	// EFD_NONBLOCK and EFD_CLOEXEC share their values with O_NONBLOCK and O_CLOEXEC
	r0, _, e0 := syscall.Syscall(syscall.SYS_EVENTFD2, 0, syscall.O_NONBLOCK|syscall.O_CLOEXEC, 0)
	if e0 != 0 {
		syscall.Close(poller.fd)
		return nil, e0
	}
	poller.wakeFd = int(r0)

	// Register our interest in reads on our wakeFd. An eventfd is always
	// writable so asking for EPOLLOUT would spin the loop.
	// https://man7.org/linux/man-pages/man2/epoll_ctl.2.html
	if err := poller.Add(poller.wakeFd, syscall.EPOLLIN); err != nil {
		poller.Close()
		return nil, err
	}

	return &poller, nil
}

func (p *Poller) Add(fd int, events uint32) error {
	return syscall.EpollCtl(p.fd, syscall.EPOLL_CTL_ADD, fd, &syscall.EpollEvent{Fd: int32(fd), Events: events})
}

func (p *Poller) Modify(fd int, events uint32) error {
	return syscall.EpollCtl(p.fd, syscall.EPOLL_CTL_MOD, fd, &syscall.EpollEvent{Fd: int32(fd), Events: events})
}

func (p *Poller) Delete(fd int) error {
	return syscall.EpollCtl(p.fd, syscall.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks until at least one registered fd is ready, the poller is woken
// up or timeoutMs elapses. A negative timeout waits forever.
func (p *Poller) Wait(events []syscall.EpollEvent, timeoutMs int) (int, error) {
	n, err := syscall.EpollWait(p.fd, events, timeoutMs)
	if err == syscall.EINTR {
		return 0, nil
	}

	return n, err
}

// Wake interrupts a blocked Wait. It is safe to call from any goroutine.
func (p *Poller) Wake() error {
	var one [8]byte
	binary.LittleEndian.PutUint64(one[:], 1)

	_, err := syscall.Write(p.wakeFd, one[:])
	if err == syscall.EAGAIN {
		// The counter is saturated, the loop is already due to wake up
		return nil
	}

	return err
}

// IsWakeup reports whether fd is the poller's own eventfd.
func (p *Poller) IsWakeup(fd int) bool {
	return fd == p.wakeFd
}

func (p *Poller) drainWakeup() {
	var buf [8]byte
	for {
		if _, err := syscall.Read(p.wakeFd, buf[:]); err != nil {
			return
		}
	}
}

func (p *Poller) Close() error {
	if err := syscall.Close(p.wakeFd); err != nil {
		return err
	}

	return syscall.Close(p.fd)
}
