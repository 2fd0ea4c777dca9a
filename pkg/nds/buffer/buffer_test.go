package buffer

import (
	"bytes"
	"testing"
)

func TestAppendAndReadRoundTrip(t *testing.T) {
	b := New(4)
	if err := b.Append([]byte("hello")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if b.Capacity() < 5 {
		t.Fatalf("expected buffer to grow past initial capacity, got %d", b.Capacity())
	}

	b.SetReadMode()
	got, err := b.Read(5)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("expected hello, got %q", got)
	}
}

func TestAppendUint32RoundTrip(t *testing.T) {
	b := New(0)
	if err := b.AppendUint32(0xdeadbeef); err != nil {
		t.Fatalf("append: %v", err)
	}
	b.SetReadMode()
	v, err := b.ReadUint32()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if v != 0xdeadbeef {
		t.Fatalf("expected 0xdeadbeef, got %x", v)
	}
}

func TestCompactPreservesUnreadTail(t *testing.T) {
	b := New(16)
	_ = b.Append([]byte{1, 2, 3})
	b.SetReadMode()
	_, _ = b.Read(1) // consume byte 1, leaving [2,3] unread

	b.Compact()
	if b.AvailableToRead() != 2 {
		t.Fatalf("expected 2 unread bytes after compact, got %d", b.AvailableToRead())
	}
	got, err := b.Read(2)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, []byte{2, 3}) {
		t.Fatalf("expected [2 3], got %v", got)
	}
}

func TestAppendWithoutResizeStopsAtCapacity(t *testing.T) {
	staging := New(4)
	staging.SetWriteMode()
	src := New(0)
	_ = src.Append([]byte("abcdefgh"))
	src.SetReadMode()

	n := staging.AppendWithoutResize(src)
	if n != 4 {
		t.Fatalf("expected to copy 4 bytes (capacity bound), got %d", n)
	}
	if src.AvailableToRead() != 4 {
		t.Fatalf("expected 4 bytes left unread in source, got %d", src.AvailableToRead())
	}
}

func TestGrowDoublesOrFitsRequest(t *testing.T) {
	b := New(4)
	if err := b.Grow(100); err != nil {
		t.Fatalf("grow: %v", err)
	}
	if b.Capacity() < 100 {
		t.Fatalf("expected capacity >= 100, got %d", b.Capacity())
	}
}
