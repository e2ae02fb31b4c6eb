package scservo

import (
	"bytes"
	"errors"
	"testing"
)

func TestProtocol_Checksum(t *testing.T) {
	p := NewProtocol(ProtocolSTS)

	// Ping servo ID 1: FF FF 01 02 01 FB
	// Checksum = ~(01 + 02 + 01) = ~04 = FB
	packet := p.PingPacket(0x01)
	expected := []byte{0xFF, 0xFF, 0x01, 0x02, 0x01, 0xFB}

	if !bytes.Equal(packet, expected) {
		t.Errorf("PingPacket: got %X, want %X", packet, expected)
	}
}

func TestProtocol_ReadPacket(t *testing.T) {
	p := NewProtocol(ProtocolSTS)

	// Read 2 bytes from address 0x38 on servo ID 1:
	// FF FF 01 04 02 38 02 BE
	packet := p.ReadPacket(0x01, 0x38, 0x02)
	expected := []byte{0xFF, 0xFF, 0x01, 0x04, 0x02, 0x38, 0x02, 0xBE}

	if !bytes.Equal(packet, expected) {
		t.Errorf("ReadPacket: got %X, want %X", packet, expected)
	}
}

func TestProtocol_WritePacket(t *testing.T) {
	p := NewProtocol(ProtocolSTS)

	// Write goal position 1122 (0x0462, little-endian) to address 42 on ID 1:
	// FF FF 01 05 03 2A 04 62 66
	packet := p.WritePacket(0x01, 0x2A, p.EncodeWord(1122))
	expected := []byte{0xFF, 0xFF, 0x01, 0x05, 0x03, 0x2A, 0x62, 0x04, 0x66}

	if !bytes.Equal(packet, expected) {
		t.Errorf("WritePacket: got %X, want %X", packet, expected)
	}
}

func TestProtocol_WriteVector(t *testing.T) {
	p := NewProtocol(ProtocolSTS)

	// Fixed vector: WRITE to ID 1 with raw params 2A 04 62.
	// Checksum = ~(01 + 05 + 03 + 2A + 04 + 62) = 66.
	packet := p.Encode(Packet{
		ID:          0x01,
		Instruction: InstWrite,
		Parameters:  []byte{0x2A, 0x04, 0x62},
	})
	expected := []byte{0xFF, 0xFF, 0x01, 0x05, 0x03, 0x2A, 0x04, 0x62, 0x66}

	if !bytes.Equal(packet, expected) {
		t.Errorf("Encode: got %X, want %X", packet, expected)
	}
}

func TestProtocol_EncodeDecodeRoundTrip(t *testing.T) {
	p := NewProtocol(ProtocolSTS)

	tests := []struct {
		name   string
		id     byte
		params []byte
	}{
		{"no params", 1, nil},
		{"two bytes", 5, []byte{0x18, 0x05}},
		{"max id", MaxServoID, []byte{0x00, 0xFF, 0x7F}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Status responses carry the error flags where an instruction
			// packet carries its opcode, so encode with Instruction 0.
			wire := p.Encode(Packet{ID: tt.id, Parameters: tt.params})

			pkt, consumed, err := p.Decode(wire)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if consumed != len(wire) {
				t.Errorf("consumed: got %d, want %d", consumed, len(wire))
			}
			if pkt.ID != tt.id {
				t.Errorf("ID: got %d, want %d", pkt.ID, tt.id)
			}
			if !bytes.Equal(pkt.Parameters, tt.params) {
				t.Errorf("Parameters: got %X, want %X", pkt.Parameters, tt.params)
			}
		})
	}
}

func TestProtocol_DecodeRejectsCorruption(t *testing.T) {
	p := NewProtocol(ProtocolSTS)

	wire := p.Encode(Packet{ID: 1, Parameters: []byte{0x18, 0x05}})

	// Flipping any single non-header byte must not yield a clean decode of
	// the original contents.
	for i := 2; i < len(wire); i++ {
		corrupted := make([]byte, len(wire))
		copy(corrupted, wire)
		corrupted[i] ^= 0x01

		pkt, _, err := p.Decode(corrupted)
		if err != nil {
			continue
		}
		if pkt.ID == 1 && bytes.Equal(pkt.Parameters, []byte{0x18, 0x05}) && pkt.Error == 0 {
			t.Errorf("corruption at byte %d decoded as the original packet", i)
		}
	}
}

func TestProtocol_DecodeChecksumError(t *testing.T) {
	p := NewProtocol(ProtocolSTS)

	// Ping response with a bad checksum
	data := []byte{0xFF, 0xFF, 0x01, 0x02, 0x00, 0x00}

	_, _, err := p.Decode(data)
	var cerr *ChecksumError
	if !errors.As(err, &cerr) {
		t.Fatalf("got %v, want ChecksumError", err)
	}
	if cerr.Expected != 0xFC || cerr.Got != 0x00 {
		t.Errorf("ChecksumError: got expected=%X actual=%X", cerr.Expected, cerr.Got)
	}
}

func TestProtocol_DecodeResponse(t *testing.T) {
	p := NewProtocol(ProtocolSTS)

	// Response to ping: FF FF 01 02 00 FC
	data := []byte{0xFF, 0xFF, 0x01, 0x02, 0x00, 0xFC}

	pkt, consumed, err := p.Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if consumed != 6 {
		t.Errorf("consumed: got %d, want 6", consumed)
	}
	if pkt.ID != 0x01 {
		t.Errorf("ID: got %d, want 1", pkt.ID)
	}
	if pkt.Error != 0 {
		t.Errorf("Error: got %d, want 0", pkt.Error)
	}
}

func TestProtocol_DecodeWithGarbage(t *testing.T) {
	p := NewProtocol(ProtocolSTS)

	data := []byte{0x00, 0x12, 0xFF, 0xFF, 0x01, 0x02, 0x00, 0xFC}

	pkt, consumed, err := p.Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	// Skips garbage and finds the packet at offset 2
	if consumed != 8 {
		t.Errorf("consumed: got %d, want 8", consumed)
	}
	if pkt.ID != 0x01 {
		t.Errorf("ID: got %d, want 1", pkt.ID)
	}
}

func TestProtocol_DecodeScanLimit(t *testing.T) {
	p := NewProtocol(ProtocolSTS)

	// Valid packet buried past the header scan bound
	data := make([]byte, 0, maxHeaderScan+16)
	for i := 0; i < maxHeaderScan+4; i++ {
		data = append(data, 0x55)
	}
	data = append(data, 0xFF, 0xFF, 0x01, 0x02, 0x00, 0xFC)

	_, _, err := p.Decode(data)
	if !errors.Is(err, ErrFraming) {
		t.Errorf("got %v, want ErrFraming", err)
	}
}

func TestProtocol_DecodeTruncated(t *testing.T) {
	p := NewProtocol(ProtocolSTS)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"header only", []byte{0xFF, 0xFF, 0x01}},
		{"missing checksum", []byte{0xFF, 0xFF, 0x01, 0x04, 0x00, 0x18, 0x05}},
		{"length too small", []byte{0xFF, 0xFF, 0x01, 0x01, 0x00, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := p.Decode(tt.data)
			if !errors.Is(err, ErrFraming) {
				t.Errorf("got %v, want ErrFraming", err)
			}
		})
	}
}

func TestProtocol_DecodeMultiple(t *testing.T) {
	p := NewProtocol(ProtocolSTS)

	data := []byte{
		0xFF, 0xFF, 0x01, 0x04, 0x00, 0x00, 0x08, 0xF2, // ID 1, position 2048
		0xFF, 0xFF, 0x02, 0x04, 0x00, 0x00, 0x10, 0xE9, // ID 2, position 4096
	}

	packets := p.DecodeMultiple(data, 2)
	if len(packets) != 2 {
		t.Fatalf("got %d packets, want 2", len(packets))
	}

	if packets[0].ID != 1 {
		t.Errorf("packet 0 ID: got %d, want 1", packets[0].ID)
	}
	if packets[1].ID != 2 {
		t.Errorf("packet 1 ID: got %d, want 2", packets[1].ID)
	}
}

func TestProtocol_DecodeMultipleResync(t *testing.T) {
	p := NewProtocol(ProtocolSTS)

	// First packet has a corrupt checksum; the second must still decode.
	data := []byte{
		0xFF, 0xFF, 0x01, 0x04, 0x00, 0x00, 0x08, 0x00, // corrupt
		0xFF, 0xFF, 0x02, 0x04, 0x00, 0x00, 0x10, 0xE9,
	}

	packets := p.DecodeMultiple(data, 2)
	if len(packets) != 1 {
		t.Fatalf("got %d packets, want 1", len(packets))
	}
	if packets[0].ID != 2 {
		t.Errorf("packet ID: got %d, want 2", packets[0].ID)
	}
}

func TestProtocol_ByteOrderSTS(t *testing.T) {
	p := NewProtocol(ProtocolSTS)

	data := p.EncodeWord(0x1234)
	if data[0] != 0x34 || data[1] != 0x12 {
		t.Errorf("EncodeWord: got %X, want [34 12]", data)
	}

	decoded := p.DecodeWord([]byte{0x34, 0x12})
	if decoded != 0x1234 {
		t.Errorf("DecodeWord: got %X, want 1234", decoded)
	}
}

func TestProtocol_ByteOrderSCS(t *testing.T) {
	p := NewProtocol(ProtocolSCS)

	data := p.EncodeWord(0x1234)
	if data[0] != 0x12 || data[1] != 0x34 {
		t.Errorf("EncodeWord: got %X, want [12 34]", data)
	}

	decoded := p.DecodeWord([]byte{0x12, 0x34})
	if decoded != 0x1234 {
		t.Errorf("DecodeWord: got %X, want 1234", decoded)
	}
}

func TestProtocol_SyncWritePacket(t *testing.T) {
	p := NewProtocol(ProtocolSTS)

	servoData := map[byte][]byte{
		4: {0x00, 0x08},
		1: {0x00, 0x08},
		3: {0x00, 0x08},
		2: {0x00, 0x08},
	}

	packet := p.SyncWritePacket(0x2A, 2, []byte{1, 2, 3, 4}, servoData)

	if packet[0] != 0xFF || packet[1] != 0xFF {
		t.Error("missing header")
	}
	if packet[2] != BroadcastID {
		t.Error("not broadcast ID")
	}
	if packet[4] != InstSyncWrite {
		t.Error("wrong instruction")
	}
	if packet[5] != 0x2A {
		t.Error("wrong address")
	}
	if packet[6] != 2 {
		t.Error("wrong data length")
	}

	// Entries follow the caller's ID ordering
	for i, id := range []byte{1, 2, 3, 4} {
		offset := 7 + i*3
		if packet[offset] != id {
			t.Errorf("entry %d ID: got %d, want %d", i, packet[offset], id)
		}
	}
}

func TestProtocol_SyncReadPacket(t *testing.T) {
	p := NewProtocol(ProtocolSTS)

	packet := p.SyncReadPacket(0x38, 2, []byte{1, 2, 3})

	if packet[2] != BroadcastID {
		t.Error("not broadcast ID")
	}
	if packet[4] != InstSyncRead {
		t.Error("wrong instruction")
	}
	if packet[5] != 0x38 || packet[6] != 2 {
		t.Errorf("address/length: got %X %X", packet[5], packet[6])
	}
	if !bytes.Equal(packet[7:10], []byte{1, 2, 3}) {
		t.Errorf("IDs: got %X", packet[7:10])
	}
}

func TestStatusError(t *testing.T) {
	tests := []struct {
		status   StatusError
		hasError bool
	}{
		{0, false},
		{ErrVoltage, true},
		{ErrOverheat, true},
		{ErrOverload | ErrOverheat, true},
	}

	for _, tt := range tests {
		if tt.status.HasError() != tt.hasError {
			t.Errorf("StatusError(%X).HasError(): got %v, want %v",
				tt.status, tt.status.HasError(), tt.hasError)
		}
	}
}

func TestStatusError_Flags(t *testing.T) {
	flags := (ErrOverheat | ErrOverload).Flags()
	if len(flags) != 2 {
		t.Fatalf("got %d flags, want 2", len(flags))
	}
	if flags[0] != "overheat" || flags[1] != "overload" {
		t.Errorf("flags: got %v", flags)
	}
}
