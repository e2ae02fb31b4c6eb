package transports

import (
	"sort"
	"sync"
	"time"
)

// Instruction codes the simulated bus understands. Mirrors the servo
// protocol so tests do not need to import the protocol package here.
const (
	devInstPing      = 0x01
	devInstRead      = 0x02
	devInstWrite     = 0x03
	devInstRegWrite  = 0x04
	devInstAction    = 0x05
	devInstSyncRead  = 0x82
	devInstSyncWrite = 0x83

	devBroadcastID = 0xFE
	devRegID       = 5
	devRegModelLow = 3
	devTableSize   = 128
)

// MockDevice simulates a bus of servos behind the Transport interface:
// instruction packets written to it are parsed and answered from per-servo
// register files. It honors ID reassignment through writes to the ID
// register, keeps configured servos silent, and can corrupt or swallow
// responses to exercise retry paths.
type MockDevice struct {
	mu      sync.Mutex
	servos  map[byte]*mockServo
	silent  map[byte]bool
	faults  map[byte]byte
	drops   map[byte]int
	corrupt int
	pending map[byte][]byte // staged reg-write payloads: addr + data

	readBuf []byte
	writes  [][]byte
	overlap bool
	closed  bool
}

type mockServo struct {
	regs [devTableSize]byte
}

// NewMockDevice creates a simulated bus with one servo per given ID.
// Each servo reports model number 777 (STS3215).
func NewMockDevice(ids ...int) *MockDevice {
	d := &MockDevice{
		servos:  make(map[byte]*mockServo),
		silent:  make(map[byte]bool),
		faults:  make(map[byte]byte),
		drops:   make(map[byte]int),
		pending: make(map[byte][]byte),
	}
	for _, id := range ids {
		d.AddServo(id)
	}
	return d
}

// AddServo attaches a servo with default register contents.
func (d *MockDevice) AddServo(id int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := &mockServo{}
	s.regs[devRegModelLow] = 0x09 // model 777, low byte first
	s.regs[devRegModelLow+1] = 0x03
	s.regs[devRegID] = byte(id)
	d.servos[byte(id)] = s
}

// Silence makes a servo stop answering, simulating a dead or disconnected
// device. The servo still applies writes it can hear (sync writes).
func (d *MockDevice) Silence(id int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.silent[byte(id)] = true
}

// SetFault makes a servo report the given status error flags in every
// response.
func (d *MockDevice) SetFault(id int, flags byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults[byte(id)] = flags
}

// DropResponses swallows the next n responses from the given servo,
// simulating lost bus turnarounds.
func (d *MockDevice) DropResponses(id, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drops[byte(id)] += n
}

// CorruptNext flips the checksum of the next n responses.
func (d *MockDevice) CorruptNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.corrupt += n
}

// SetRegister sets raw register bytes on a servo.
func (d *MockDevice) SetRegister(id int, addr byte, data ...byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.servos[byte(id)]; ok {
		copy(s.regs[addr:], data)
	}
}

// RegisterBytes returns raw register bytes from a servo.
func (d *MockDevice) RegisterBytes(id int, addr byte, n int) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.servos[byte(id)]
	if !ok {
		return nil
	}
	out := make([]byte, n)
	copy(out, s.regs[addr:int(addr)+n])
	return out
}

// Writes returns every transport write the device has seen.
func (d *MockDevice) Writes() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes
}

// Interleaved reports whether any command arrived while a previous
// response was still waiting to be read, which a correctly serialized
// dispatcher never allows.
func (d *MockDevice) Interleaved() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.overlap
}

// Transport implementation

func (d *MockDevice) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf := make([]byte, len(p))
	copy(buf, p)
	d.writes = append(d.writes, buf)

	if len(d.readBuf) > 0 {
		d.overlap = true
	}

	// A single transport write may carry multiple instruction packets
	for off := 0; off+6 <= len(p); {
		if p[off] != 0xFF || p[off+1] != 0xFF {
			off++
			continue
		}
		id := p[off+2]
		length := int(p[off+3])
		total := 4 + length
		if length < 2 || off+total > len(p) {
			break
		}
		if checksum(p[off+2:off+total-1]) == p[off+total-1] {
			d.handle(id, p[off+4], p[off+5:off+total-1])
		}
		off += total
	}

	return len(p), nil
}

func (d *MockDevice) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := copy(p, d.readBuf)
	d.readBuf = d.readBuf[n:]
	return n, nil
}

func (d *MockDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *MockDevice) SetReadTimeout(time.Duration) error {
	return nil
}

func (d *MockDevice) Flush() error {
	// Pending responses stay queued; a real flush only clears stale noise
	return nil
}

// Bus behavior. All helpers run with d.mu held.

func (d *MockDevice) handle(id, inst byte, params []byte) {
	if id == devBroadcastID {
		switch inst {
		case devInstPing:
			for _, sid := range d.sortedIDs() {
				d.respond(sid, nil)
			}
		case devInstSyncWrite:
			if len(params) >= 2 {
				d.applySyncWrite(params[0], int(params[1]), params[2:])
			}
		case devInstSyncRead:
			if len(params) >= 2 {
				d.answerSyncRead(params[0], int(params[1]), params[2:])
			}
		case devInstAction:
			for sid := range d.pending {
				d.commitPending(sid)
			}
		}
		return
	}

	s, ok := d.servos[id]
	if !ok {
		return
	}

	switch inst {
	case devInstPing:
		d.respond(id, nil)
	case devInstRead:
		if len(params) == 2 {
			addr, n := params[0], int(params[1])
			if int(addr)+n <= devTableSize {
				d.respond(id, s.regs[addr:int(addr)+n])
			}
		}
	case devInstWrite:
		if len(params) >= 1 {
			d.applyWrite(id, params[0], params[1:])
			d.respond(id, nil)
		}
	case devInstRegWrite:
		if len(params) >= 1 {
			d.pending[id] = append([]byte{}, params...)
			d.respond(id, nil)
		}
	case devInstAction:
		d.commitPending(id)
	}
}

// applyWrite copies data into a servo's register file and handles
// reassignment when the write covers the ID register.
func (d *MockDevice) applyWrite(id, addr byte, data []byte) {
	s := d.servos[id]
	if int(addr)+len(data) > devTableSize {
		return
	}
	copy(s.regs[addr:], data)

	if int(addr) <= devRegID && devRegID < int(addr)+len(data) {
		newID := s.regs[devRegID]
		if newID != id {
			delete(d.servos, id)
			d.servos[newID] = s
			if d.silent[id] {
				delete(d.silent, id)
				d.silent[newID] = true
			}
		}
	}
}

func (d *MockDevice) applySyncWrite(addr byte, dataLen int, entries []byte) {
	for len(entries) >= 1+dataLen {
		id := entries[0]
		if _, ok := d.servos[id]; ok {
			d.applyWrite(id, addr, entries[1:1+dataLen])
		}
		entries = entries[1+dataLen:]
	}
}

// answerSyncRead queues one response per listed servo, in the listed order,
// skipping servos that are absent or silent.
func (d *MockDevice) answerSyncRead(addr byte, dataLen int, ids []byte) {
	if int(addr)+dataLen > devTableSize {
		return
	}
	for _, id := range ids {
		s, ok := d.servos[id]
		if !ok {
			continue
		}
		d.respond(id, s.regs[addr:int(addr)+dataLen])
	}
}

func (d *MockDevice) commitPending(id byte) {
	payload, ok := d.pending[id]
	if !ok || len(payload) < 1 {
		return
	}
	delete(d.pending, id)
	d.applyWrite(id, payload[0], payload[1:])
}

// respond queues a status packet from the given servo unless it is silent
// or its next response is configured to be dropped.
func (d *MockDevice) respond(id byte, params []byte) {
	if d.silent[id] {
		return
	}
	if d.drops[id] > 0 {
		d.drops[id]--
		return
	}

	length := byte(len(params) + 2)
	pkt := make([]byte, 0, 6+len(params))
	pkt = append(pkt, 0xFF, 0xFF, id, length, d.faults[id])
	pkt = append(pkt, params...)
	sum := checksum(pkt[2:])
	if d.corrupt > 0 {
		d.corrupt--
		sum ^= 0xFF
	}
	pkt = append(pkt, sum)

	d.readBuf = append(d.readBuf, pkt...)
}

func (d *MockDevice) sortedIDs() []byte {
	ids := make([]byte, 0, len(d.servos))
	for id := range d.servos {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return ^sum
}
