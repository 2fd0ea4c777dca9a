package wire

import (
	"bytes"
	"testing"

	"github.com/jabolina/nds/pkg/nds/buffer"
)

// feedRaw appends raw bytes to recv, a receive buffer kept across calls the
// way a connection keeps its own, and runs the decoder over it once,
// simulating one socket read landing in recv.
func feedRaw(d *Decoder, recv *buffer.Buffer, raw []byte) [][]byte {
	recv.SetWriteMode()
	_ = recv.Append(raw)
	recv.SetReadMode()
	packets, err := d.Feed(recv)
	if err != nil {
		panic(err)
	}
	return packets
}

func TestDecoder_SingleFrameInOneRead(t *testing.T) {
	framed := Encode([]byte("hello"))
	raw := framed.Bytes()[framed.Position():framed.Limit()]

	d := NewDecoder()
	recv := buffer.New(0)
	packets := feedRaw(d, recv, raw)
	if len(packets) != 1 || !bytes.Equal(packets[0], []byte("hello")) {
		t.Fatalf("expected one decoded packet %q, got %v", "hello", packets)
	}
	if d.State() != AwaitingLength {
		t.Fatalf("decoder must return to AwaitingLength after a full frame")
	}
}

// Property #8: a length field split across two reads (1 byte then 3)
// decodes identically to one arriving in a single 4-byte read.
func TestDecoder_SplitLengthPrefixAcrossReads(t *testing.T) {
	framed := Encode([]byte("hi"))
	raw := framed.Bytes()[framed.Position():framed.Limit()]

	d := NewDecoder()
	recv := buffer.New(0)
	first := feedRaw(d, recv, raw[:1])
	if len(first) != 0 {
		t.Fatalf("expected no complete packet from a 1-byte read, got %v", first)
	}
	if d.State() != AwaitingLength {
		t.Fatalf("expected still AwaitingLength after a partial length prefix")
	}

	rest := feedRaw(d, recv, raw[1:])
	if len(rest) != 1 || !bytes.Equal(rest[0], []byte("hi")) {
		t.Fatalf("expected the completed packet %q, got %v", "hi", rest)
	}
}

func TestDecoder_BodySplitAcrossReads(t *testing.T) {
	framed := Encode([]byte("0123456789"))
	raw := framed.Bytes()[framed.Position():framed.Limit()]

	d := NewDecoder()
	recv := buffer.New(0)
	first := feedRaw(d, recv, raw[:6]) // 4-byte length + 2 body bytes
	if len(first) != 0 {
		t.Fatalf("expected no complete packet yet, got %v", first)
	}
	if d.State() != AwaitingBody {
		t.Fatalf("expected AwaitingBody once the length prefix is known")
	}

	rest := feedRaw(d, recv, raw[6:])
	if len(rest) != 1 || !bytes.Equal(rest[0], []byte("0123456789")) {
		t.Fatalf("expected the completed packet, got %v", rest)
	}
}

func TestDecoder_MultipleFramesInOneRead(t *testing.T) {
	a := Encode([]byte("aa"))
	b := Encode([]byte("bbb"))
	var raw []byte
	raw = append(raw, a.Bytes()[a.Position():a.Limit()]...)
	raw = append(raw, b.Bytes()[b.Position():b.Limit()]...)

	d := NewDecoder()
	recv := buffer.New(0)
	packets := feedRaw(d, recv, raw)
	if len(packets) != 2 || !bytes.Equal(packets[0], []byte("aa")) || !bytes.Equal(packets[1], []byte("bbb")) {
		t.Fatalf("expected two decoded packets in order, got %v", packets)
	}
}
