// Package wire defines the JSON payload records exchanged between peers and
// the length-prefixed framing codec carrying them on TCP and UDP.
package wire

import "encoding/json"

// PacketType distinguishes the two record shapes that travel on the wire.
type PacketType string

const (
	// PacketTypeAlive marks a UDP multicast heartbeat.
	PacketTypeAlive PacketType = "an"
	// PacketTypeData marks a point-to-point TCP value transfer.
	PacketTypeData PacketType = "dt"
)

// AliveRecord is the heartbeat broadcast over UDP multicast. SourceIP is
// populated by the receiver from the datagram's source address; it is never
// serialized, per spec (only Alive records carry a source IP, Data records
// rely on the already-established TCP peer address).
type AliveRecord struct {
	Type       PacketType `json:"_pt"`
	ListenPort uint16     `json:"_lp"`
	Timestamp  uint32     `json:"_ts"`
	SourceIP   string     `json:"-"`
}

// DataRecord is the point-to-point value transfer sent over TCP.
type DataRecord struct {
	Type      PacketType `json:"_pt"`
	Value     string     `json:"_dv"`
	Timestamp uint32     `json:"_ts"`
}

// NewAlive builds an outbound alive record.
func NewAlive(listenPort uint16, ts uint32) AliveRecord {
	return AliveRecord{Type: PacketTypeAlive, ListenPort: listenPort, Timestamp: ts}
}

// NewData builds an outbound data record.
func NewData(value string, ts uint32) DataRecord {
	return DataRecord{Type: PacketTypeData, Value: value, Timestamp: ts}
}

// MarshalAlive serializes an AliveRecord to JSON.
func MarshalAlive(r AliveRecord) ([]byte, error) {
	return json.Marshal(r)
}

// MarshalData serializes a DataRecord to JSON.
func MarshalData(r DataRecord) ([]byte, error) {
	return json.Marshal(r)
}

// envelope is used only to sniff the packet type before picking a concrete
// record to unmarshal into.
type envelope struct {
	Type PacketType `json:"_pt"`
}

// PeekType reports which record shape a raw JSON payload carries.
func PeekType(payload []byte) (PacketType, error) {
	var e envelope
	if err := json.Unmarshal(payload, &e); err != nil {
		return "", err
	}
	return e.Type, nil
}

// UnmarshalAlive parses a raw JSON payload known to be an alive record.
func UnmarshalAlive(payload []byte) (AliveRecord, error) {
	var r AliveRecord
	err := json.Unmarshal(payload, &r)
	return r, err
}

// UnmarshalData parses a raw JSON payload known to be a data record.
func UnmarshalData(payload []byte) (DataRecord, error) {
	var r DataRecord
	err := json.Unmarshal(payload, &r)
	return r, err
}
