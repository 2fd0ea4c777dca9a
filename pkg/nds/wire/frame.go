package wire

import (
	"github.com/jabolina/nds/pkg/nds/buffer"
	"github.com/jabolina/nds/pkg/nds/ndserr"
)

// LengthPrefixSize is the size, in bytes, of the big-endian length prefix
// that precedes every payload on the wire.
const LengthPrefixSize = 4

// Encode frames a payload as a single owned buffer: a 4-byte big-endian
// length prefix followed by the payload bytes, ready to be queued on a
// connection's outbound queue.
func Encode(payload []byte) *buffer.Buffer {
	framed := buffer.New(LengthPrefixSize + len(payload))
	_ = framed.AppendUint32(uint32(len(payload)))
	_ = framed.Append(payload)
	framed.SetReadMode()
	return framed
}

// DecodeState is the framing state machine's two legal states.
type DecodeState int

const (
	// AwaitingLength is waiting on the 4-byte length prefix.
	AwaitingLength DecodeState = iota
	// AwaitingBody is waiting on the remainder of a known-length payload.
	AwaitingBody
)

// Decoder runs the length-prefixed framing state machine described in
// spec.md §4.2.1 over a connection's receive buffer. It is reused across
// both TCP (one or more frames per stream) and UDP (exactly one frame per
// datagram) receive paths.
type Decoder struct {
	state              DecodeState
	expectedBodyLength uint32
	body               *buffer.Buffer
}

// NewDecoder returns a decoder starting in AwaitingLength.
func NewDecoder() *Decoder {
	return &Decoder{state: AwaitingLength}
}

// State reports the decoder's current framing state, exposed for invariant
// checks in tests.
func (d *Decoder) State() DecodeState {
	return d.state
}

// Feed drains as many complete frames as are currently available from recv
// (which must be in read mode, position..limit holding unread bytes) and
// returns their payloads in arrival order. When the decoder cannot make
// further progress (fewer than 4 bytes available while AwaitingLength, or a
// partially-filled body while AwaitingBody) it compacts recv so the
// unconsumed prefix survives into the next read, and returns.
func (d *Decoder) Feed(recv *buffer.Buffer) ([][]byte, error) {
	var packets [][]byte
	for {
		switch d.state {
		case AwaitingLength:
			if recv.AvailableToRead() < LengthPrefixSize {
				recv.Compact()
				return packets, nil
			}
			length, err := recv.ReadUint32()
			if err != nil {
				return packets, ndserr.ErrMalformed
			}
			recv.SetMark()
			d.expectedBodyLength = length
			d.body = buffer.New(int(length))
			d.state = AwaitingBody
		case AwaitingBody:
			remaining := int(d.expectedBodyLength) - d.body.Position()
			avail := recv.AvailableToRead()
			n := remaining
			if avail < n {
				n = avail
			}
			if n > 0 {
				chunk, err := recv.Read(n)
				if err != nil {
					return packets, ndserr.ErrMalformed
				}
				if err := d.body.Append(chunk); err != nil {
					return packets, err
				}
				recv.SetMark()
			}
			if d.body.Position() == int(d.expectedBodyLength) {
				d.body.SetReadMode()
				payload, err := d.body.Read(int(d.expectedBodyLength))
				if err != nil {
					return packets, ndserr.ErrMalformed
				}
				packets = append(packets, payload)
				d.body = nil
				d.state = AwaitingLength
				continue
			}
			recv.Compact()
			return packets, nil
		}
	}
}
