package selector

import (
	"golang.org/x/sys/unix"

	"github.com/jabolina/nds/pkg/nds/ndserr"
)

// selfPipe is the loopback datagram socket pair from spec.md §9: a
// single-byte wakeup on the write end unblocks a poll() on the read end,
// giving the select loop one primitive that observes both network I/O and
// control events. The control events themselves travel on an in-process
// queue (see control.go) — the datagram carries no payload, only the
// wakeup, which is the native-queue substitution spec.md §9 explicitly
// allows for implementations with first-class concurrency primitives.
type selfPipe struct {
	readFD  int
	writeFD int
}

func newSelfPipe() (*selfPipe, error) {
	readFD, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return nil, ndserr.Wrap(err, "create self-pipe read socket")
	}
	loopback := &unix.SockaddrInet4{Port: 0, Addr: [4]byte{127, 0, 0, 1}}
	if err := unix.Bind(readFD, loopback); err != nil {
		_ = unix.Close(readFD)
		return nil, ndserr.Wrap(err, "bind self-pipe read socket")
	}
	if err := unix.SetNonblock(readFD, true); err != nil {
		_ = unix.Close(readFD)
		return nil, ndserr.Wrap(err, "set self-pipe nonblocking")
	}
	sa, err := unix.Getsockname(readFD)
	if err != nil {
		_ = unix.Close(readFD)
		return nil, ndserr.Wrap(err, "getsockname self-pipe")
	}
	bound := sa.(*unix.SockaddrInet4)

	writeFD, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		_ = unix.Close(readFD)
		return nil, ndserr.Wrap(err, "create self-pipe write socket")
	}
	dest := &unix.SockaddrInet4{Port: bound.Port, Addr: [4]byte{127, 0, 0, 1}}
	if err := unix.Connect(writeFD, dest); err != nil {
		_ = unix.Close(readFD)
		_ = unix.Close(writeFD)
		return nil, ndserr.Wrap(err, "connect self-pipe write socket")
	}
	return &selfPipe{readFD: readFD, writeFD: writeFD}, nil
}

// wake writes a single byte, the pointer-sized quantity of spec.md §4.4.3
// reduced to a bare wakeup since the event payload itself travels on the
// in-process control queue.
func (p *selfPipe) wake() {
	_, _ = unix.Write(p.writeFD, []byte{1})
}

// drain reads and discards every byte currently queued, so the next poll()
// only reports readable again once a fresh wake() arrives.
func (p *selfPipe) drain() {
	buf := make([]byte, 256)
	for {
		n, err := unix.Read(p.readFD, buf)
		if n <= 0 || err != nil {
			return
		}
	}
}

func (p *selfPipe) close() {
	_ = unix.Close(p.readFD)
	_ = unix.Close(p.writeFD)
}
