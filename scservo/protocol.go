// Package scservo provides a host-side client for Feetech SCS/STS serial
// servo buses: packet framing, the register map, a serializing command
// dispatcher, and synchronized multi-servo reads and writes.
package scservo

import (
	"encoding/binary"
	"fmt"
)

// Protocol variant constants. The variant selects the byte order used for
// multi-byte register values; it is a connection-level option, not a
// per-call choice.
const (
	ProtocolSTS = iota // STS/SMS series: little-endian
	ProtocolSCS        // SCS series: big-endian
)

// Instruction codes per the Feetech protocol specification.
const (
	InstPing      byte = 0x01
	InstRead      byte = 0x02
	InstWrite     byte = 0x03
	InstRegWrite  byte = 0x04
	InstAction    byte = 0x05
	InstReset     byte = 0x06
	InstSyncRead  byte = 0x82
	InstSyncWrite byte = 0x83
)

// Special ID values. BroadcastID addresses every servo at once and is only
// valid for sync and action commands; a read needs exactly one responder.
const (
	BroadcastID = 0xFE
	MaxServoID  = 0xFD
)

// Packet header bytes.
const (
	headerByte1 = 0xFF
	headerByte2 = 0xFF
)

// maxHeaderScan bounds how far Decode searches for the header sync bytes
// before giving up. Leading noise beyond this is a framing failure.
const maxHeaderScan = 64

// StatusError is the bitmask of error flags returned by servos.
type StatusError byte

const (
	ErrVoltage     StatusError = 1 << 0
	ErrAngleLimit  StatusError = 1 << 1
	ErrOverheat    StatusError = 1 << 2
	ErrRange       StatusError = 1 << 3
	ErrChecksum    StatusError = 1 << 4
	ErrOverload    StatusError = 1 << 5
	ErrInstruction StatusError = 1 << 6
)

var statusFlagNames = []struct {
	flag StatusError
	name string
}{
	{ErrVoltage, "voltage"},
	{ErrAngleLimit, "angle limit"},
	{ErrOverheat, "overheat"},
	{ErrRange, "range"},
	{ErrChecksum, "checksum"},
	{ErrOverload, "overload"},
	{ErrInstruction, "instruction"},
}

func (e StatusError) Error() string {
	if e == 0 {
		return "no error"
	}
	return fmt.Sprintf("servo status error: %v", e.Flags())
}

// Flags decodes the bitmask into named conditions.
func (e StatusError) Flags() []string {
	var names []string
	for _, f := range statusFlagNames {
		if e&f.flag != 0 {
			names = append(names, f.name)
		}
	}
	return names
}

// HasError returns true if any error flag is set.
func (e StatusError) HasError() bool {
	return e != 0
}

// Packet represents a protocol packet.
type Packet struct {
	ID          byte
	Instruction byte
	Parameters  []byte
	Error       StatusError // Only valid for response packets
}

// Protocol handles packet encoding and decoding for one protocol variant.
type Protocol struct {
	variant   int
	byteOrder binary.ByteOrder
}

// NewProtocol creates a protocol handler for the specified variant.
func NewProtocol(variant int) *Protocol {
	p := &Protocol{variant: variant}
	if variant == ProtocolSCS {
		p.byteOrder = binary.BigEndian
	} else {
		p.byteOrder = binary.LittleEndian
	}
	return p
}

// ByteOrder returns the byte order for multi-byte values.
func (p *Protocol) ByteOrder() binary.ByteOrder {
	return p.byteOrder
}

// Variant returns the protocol variant.
func (p *Protocol) Variant() int {
	return p.variant
}

// EncodeWord converts a 16-bit value to bytes in protocol byte order.
func (p *Protocol) EncodeWord(value uint16) []byte {
	buf := make([]byte, 2)
	p.byteOrder.PutUint16(buf, value)
	return buf
}

// DecodeWord converts bytes to a 16-bit value using protocol byte order.
func (p *Protocol) DecodeWord(data []byte) uint16 {
	if len(data) < 2 {
		return 0
	}
	return p.byteOrder.Uint16(data)
}

// Encode constructs a wire-format packet from the given components:
// header(2) + id(1) + length(1) + instruction(1) + params(n) + checksum(1).
func (p *Protocol) Encode(pkt Packet) []byte {
	length := byte(len(pkt.Parameters) + 2) // instruction + params + checksum

	buf := make([]byte, 0, 6+len(pkt.Parameters))
	buf = append(buf, headerByte1, headerByte2)
	buf = append(buf, pkt.ID)
	buf = append(buf, length)
	buf = append(buf, pkt.Instruction)
	buf = append(buf, pkt.Parameters...)

	checksum := calculateChecksum(buf[2:]) // from ID onwards
	buf = append(buf, checksum)

	return buf
}

// Decode parses a wire-format response packet into its components, skipping
// leading noise bytes up to maxHeaderScan. Returns the packet and the number
// of bytes consumed, or an error: ErrFraming when no complete, well-framed
// packet is present, or ChecksumError when the trailing byte disagrees with
// the checksum computed over the contents.
func (p *Protocol) Decode(data []byte) (Packet, int, error) {
	if len(data) < 6 {
		return Packet{}, 0, fmt.Errorf("%w: packet too short (%d bytes)", ErrFraming, len(data))
	}

	// Find header within the scan limit
	headerIdx := -1
	limit := min(len(data)-6, maxHeaderScan)
	for i := 0; i <= limit; i++ {
		if data[i] == headerByte1 && data[i+1] == headerByte2 {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return Packet{}, 0, fmt.Errorf("%w: scanned %d bytes", ErrFraming, len(data))
	}

	data = data[headerIdx:]
	id := data[2]
	length := int(data[3])
	if length < 2 {
		return Packet{}, 0, fmt.Errorf("%w: invalid length field %d", ErrFraming, length)
	}

	// header(2) + id(1) + length(1) + [length bytes]
	totalLen := 4 + length
	if len(data) < totalLen {
		return Packet{}, 0, fmt.Errorf("%w: incomplete packet, need %d bytes, have %d", ErrFraming, totalLen, len(data))
	}

	expected := calculateChecksum(data[2 : totalLen-1])
	actual := data[totalLen-1]
	if expected != actual {
		return Packet{}, 0, &ChecksumError{Expected: expected, Got: actual}
	}

	// Response format: [header][id][length][error][params...][checksum]
	pkt := Packet{
		ID:    id,
		Error: StatusError(data[4]),
	}

	paramLen := length - 2 // subtract error byte and checksum
	if paramLen > 0 {
		pkt.Parameters = make([]byte, paramLen)
		copy(pkt.Parameters, data[5:5+paramLen])
	}

	return pkt, headerIdx + totalLen, nil
}

// DecodeMultiple parses up to count response packets from a buffer,
// resynchronizing on the next header after a corrupt packet. Used for
// sync-read response trains where some servos may not have answered.
func (p *Protocol) DecodeMultiple(data []byte, count int) []Packet {
	packets := make([]Packet, 0, count)
	offset := 0

	for len(packets) < count && offset < len(data) {
		pkt, consumed, err := p.Decode(data[offset:])
		if err != nil {
			// Resync on the next header
			found := false
			for j := offset + 1; j <= len(data)-6; j++ {
				if data[j] == headerByte1 && data[j+1] == headerByte2 {
					offset = j
					found = true
					break
				}
			}
			if !found {
				break
			}
			continue
		}
		packets = append(packets, pkt)
		offset += consumed
	}

	return packets
}

// ExpectedResponseLength returns the expected wire length for a response
// packet carrying dataLen parameter bytes.
func (p *Protocol) ExpectedResponseLength(dataLen int) int {
	// header(2) + id(1) + length(1) + error(1) + data(n) + checksum(1)
	return 6 + dataLen
}

// calculateChecksum computes the bitwise complement of the low byte of the
// sum over (id, length, instruction/error, parameters).
func calculateChecksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return ^sum
}

// Instruction packet builders

// PingPacket creates a ping instruction packet.
func (p *Protocol) PingPacket(id byte) []byte {
	return p.Encode(Packet{
		ID:          id,
		Instruction: InstPing,
	})
}

// ReadPacket creates a read instruction packet.
func (p *Protocol) ReadPacket(id, address, length byte) []byte {
	return p.Encode(Packet{
		ID:          id,
		Instruction: InstRead,
		Parameters:  []byte{address, length},
	})
}

// WritePacket creates a write instruction packet.
func (p *Protocol) WritePacket(id, address byte, data []byte) []byte {
	params := make([]byte, 1+len(data))
	params[0] = address
	copy(params[1:], data)

	return p.Encode(Packet{
		ID:          id,
		Instruction: InstWrite,
		Parameters:  params,
	})
}

// RegWritePacket creates a reg write (buffered write) instruction packet.
func (p *Protocol) RegWritePacket(id, address byte, data []byte) []byte {
	params := make([]byte, 1+len(data))
	params[0] = address
	copy(params[1:], data)

	return p.Encode(Packet{
		ID:          id,
		Instruction: InstRegWrite,
		Parameters:  params,
	})
}

// ActionPacket creates an action instruction packet (triggers reg writes).
func (p *Protocol) ActionPacket() []byte {
	return p.Encode(Packet{
		ID:          BroadcastID,
		Instruction: InstAction,
	})
}

// SyncWritePacket creates a sync write instruction packet addressed to the
// broadcast ID. Entries are emitted in ascending servo ID order so the wire
// image is deterministic regardless of input container.
func (p *Protocol) SyncWritePacket(address byte, dataLen byte, ids []byte, servoData map[byte][]byte) []byte {
	// Parameters: address(1) + dataLen(1) + [id(1) + data(n)]...
	params := make([]byte, 0, 2+len(ids)*(1+int(dataLen)))
	params = append(params, address, dataLen)

	for _, id := range ids {
		params = append(params, id)
		params = append(params, servoData[id]...)
	}

	return p.Encode(Packet{
		ID:          BroadcastID,
		Instruction: InstSyncWrite,
		Parameters:  params,
	})
}

// SyncReadPacket creates a sync read instruction packet.
func (p *Protocol) SyncReadPacket(address, dataLen byte, ids []byte) []byte {
	params := make([]byte, 0, 2+len(ids))
	params = append(params, address, dataLen)
	params = append(params, ids...)

	return p.Encode(Packet{
		ID:          BroadcastID,
		Instruction: InstSyncRead,
		Parameters:  params,
	})
}
