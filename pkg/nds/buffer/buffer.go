// Package buffer implements the growable byte buffer used to stage every
// socket read and write in the connection and selector layers.
package buffer

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// DefaultCapacity is the initial size used for a connection's receive
// buffer, per the 8 KiB floor the framing layer expects.
const DefaultCapacity = 8 * 1024

var (
	// ErrBadArgument is returned for out-of-range position requests.
	ErrBadArgument = errors.New("bbuf: bad argument")
)

// Buffer is a growable byte region with four cursors: capacity, position,
// limit and mark. It has no internal mutex: a Buffer is owned exclusively by
// whichever goroutine currently holds it, exactly as in the connection it is
// embedded in.
//
// Invariant: 0 <= mark <= position <= limit <= capacity.
type Buffer struct {
	buf      []byte
	capacity int
	position int
	limit    int
	mark     int
}

// New allocates a Buffer with the given initial capacity, ready in write mode.
func New(initialCapacity int) *Buffer {
	if initialCapacity <= 0 {
		initialCapacity = DefaultCapacity
	}
	return &Buffer{
		buf:      make([]byte, initialCapacity),
		capacity: initialCapacity,
	}
}

// Reset clears position, limit and mark back to the origin without touching
// the backing array's capacity.
func (b *Buffer) Reset() {
	b.position = 0
	b.limit = 0
	b.mark = 0
}

// Capacity returns the total size of the backing array.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// Position returns the current cursor.
func (b *Buffer) Position() int {
	return b.position
}

// Limit returns the high-water mark for reading.
func (b *Buffer) Limit() int {
	return b.limit
}

// Mark returns the saved read-resume position.
func (b *Buffer) Mark() int {
	return b.mark
}

// Remaining is how much write-side room is left before the buffer must grow.
func (b *Buffer) Remaining() int {
	return b.capacity - b.position
}

// AvailableToRead is how many unread bytes sit between position and limit.
func (b *Buffer) AvailableToRead() int {
	return b.limit - b.position
}

// SetReadMode rewinds position back to the mark, so a subsequent Read call
// resumes exactly where byte consumption last stopped.
func (b *Buffer) SetReadMode() {
	b.position = b.mark
}

// SetWriteMode moves position to the limit, so subsequent Append calls
// resume after the last written byte.
func (b *Buffer) SetWriteMode() {
	b.position = b.limit
}

// SetMark pins the mark at the current position.
func (b *Buffer) SetMark() {
	b.mark = b.position
}

// Bytes exposes the full backing array. Callers must respect position/limit
// themselves; this is used by the socket layer to pass a write target to
// recv/read syscalls.
func (b *Buffer) Bytes() []byte {
	return b.buf
}

// CommitWrite advances position (and limit, which tracks position in write
// mode) by n bytes that an external writer already placed directly into
// Bytes()[position:capacity] — used after a socket read syscall writes
// straight into the buffer's backing array.
func (b *Buffer) CommitWrite(n int) error {
	if n < 0 || b.position+n > b.capacity {
		return ErrBadArgument
	}
	b.position += n
	b.limit = b.position
	return nil
}

// Grow resizes the backing array to hold at least amount additional bytes
// past the current position, doubling capacity (or growing to fit amount,
// whichever is larger).
func (b *Buffer) Grow(amount int) error {
	if amount < 0 {
		return ErrBadArgument
	}
	needed := b.position + amount
	if needed <= b.capacity {
		return nil
	}
	newCapacity := b.capacity * 2
	if newCapacity < needed {
		newCapacity = needed
	}
	grown := make([]byte, newCapacity)
	copy(grown, b.buf[:b.capacity])
	b.buf = grown
	b.capacity = newCapacity
	return nil
}

// EnsureCapacity grows the buffer only if it cannot currently hold amount
// additional bytes past the position.
func (b *Buffer) EnsureCapacity(amount int) error {
	if b.Remaining() >= amount {
		return nil
	}
	return b.Grow(amount)
}

// Append writes p at the current position, growing as needed, and advances
// position and limit (write-mode semantics: limit always tracks position).
func (b *Buffer) Append(p []byte) error {
	if err := b.EnsureCapacity(len(p)); err != nil {
		return err
	}
	copy(b.buf[b.position:], p)
	b.position += len(p)
	b.limit = b.position
	return nil
}

// AppendUint16 appends a big-endian uint16.
func (b *Buffer) AppendUint16(v uint16) error {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return b.Append(tmp[:])
}

// AppendUint32 appends a big-endian uint32.
func (b *Buffer) AppendUint32(v uint32) error {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return b.Append(tmp[:])
}

// AppendFrom drains every unread byte of other (from other's position to its
// limit) into b, advancing other's position to its limit.
func (b *Buffer) AppendFrom(other *Buffer) error {
	n := other.AvailableToRead()
	if n <= 0 {
		return nil
	}
	chunk, err := other.Read(n)
	if err != nil {
		return err
	}
	return b.Append(chunk)
}

// AppendWithoutResize copies as much of other's unread bytes as fit in b's
// remaining space, without growing b. It returns the number of bytes copied
// and advances other's position by that amount. Used by the TCP send path to
// coalesce packets into a fixed-size staging buffer.
func (b *Buffer) AppendWithoutResize(other *Buffer) int {
	avail := other.AvailableToRead()
	room := b.Remaining()
	n := avail
	if room < n {
		n = room
	}
	if n <= 0 {
		return 0
	}
	chunk, _ := other.Read(n)
	copy(b.buf[b.position:], chunk)
	b.position += n
	b.limit = b.position
	return n
}

// AdvanceReadPosition moves position forward by n bytes without copying,
// bounds-checked against limit.
func (b *Buffer) AdvanceReadPosition(n int) error {
	if n < 0 || b.position+n > b.limit {
		return ErrBadArgument
	}
	b.position += n
	return nil
}

// Read consumes n bytes starting at position (read-mode semantics) and
// returns them as a freshly copied slice.
func (b *Buffer) Read(n int) ([]byte, error) {
	if n < 0 || b.position+n > b.limit {
		return nil, ErrBadArgument
	}
	out := make([]byte, n)
	copy(out, b.buf[b.position:b.position+n])
	b.position += n
	return out, nil
}

// ReadInto consumes len(dst) bytes into dst.
func (b *Buffer) ReadInto(dst []byte) error {
	n := len(dst)
	if b.position+n > b.limit {
		return ErrBadArgument
	}
	copy(dst, b.buf[b.position:b.position+n])
	b.position += n
	return nil
}

// ReadUint16 reads a big-endian uint16.
func (b *Buffer) ReadUint16() (uint16, error) {
	if b.position+2 > b.limit {
		return 0, ErrBadArgument
	}
	v := binary.BigEndian.Uint16(b.buf[b.position:])
	b.position += 2
	return v, nil
}

// ReadUint32 reads a big-endian uint32.
func (b *Buffer) ReadUint32() (uint32, error) {
	if b.position+4 > b.limit {
		return 0, ErrBadArgument
	}
	v := binary.BigEndian.Uint32(b.buf[b.position:])
	b.position += 4
	return v, nil
}

// Compact shifts the unread bytes (position..limit) to the front of the
// backing array. Afterwards position is 0, limit is the number of bytes
// copied (so the shifted bytes are immediately available to read again) and
// mark is 0. Used to preserve a short, undecodable prefix (fewer than 4
// length-prefix bytes) across read iterations. Callers that want to resume
// writing past the preserved prefix call SetWriteMode afterwards.
func (b *Buffer) Compact() {
	n := b.AvailableToRead()
	if n > 0 {
		copy(b.buf, b.buf[b.position:b.limit])
	}
	b.position = 0
	b.limit = n
	b.mark = 0
}
