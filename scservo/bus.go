package scservo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lumidlab/control-my-robot/transports"
)

// Defaults for BusConfig zero fields.
const (
	DefaultBaudRate      = 1000000
	DefaultTimeout       = 250 * time.Millisecond
	DefaultRetries       = 2
	DefaultMinCommandGap = time.Millisecond
)

// Bus owns exclusive access to the transport and serializes every logical
// operation into one write-then-read transaction. The line is half-duplex:
// concurrent callers queue on the bus mutex and a batch holds the bus for
// its whole sequence, so no two transactions ever interleave their bytes.
type Bus struct {
	transport Transport
	protocol  *Protocol
	timeout   time.Duration
	retries   int
	trueSync  bool // multi-target SYNC_READ instruction usable

	trace *Trace

	mu          sync.Mutex
	lastCmdTime time.Time
	minCmdGap   time.Duration
	closed      bool
}

// BusConfig holds configuration for creating a new Bus.
type BusConfig struct {
	// Transport is the underlying communication transport.
	// If nil, Port must be specified to open a serial connection.
	Transport Transport

	// Port is the serial port path (e.g., "/dev/ttyUSB0").
	// Ignored if Transport is provided.
	Port string

	// BaudRate is the communication speed. Default is 1000000.
	BaudRate int

	// Protocol variant: ProtocolSTS (default) or ProtocolSCS.
	Protocol int

	// Timeout is the window a servo has to answer. Default is 250ms.
	Timeout time.Duration

	// MinCommandGap is the minimum time between commands. Default is 1ms.
	MinCommandGap time.Duration

	// Retries is how many times a transaction is reissued after a
	// timeout, framing, or checksum failure. Zero means the default of
	// 2; negative disables retries.
	Retries int

	// DisableSyncRead forces SyncRead to issue sequential single-target
	// reads even when the firmware supports the SYNC_READ instruction.
	// SCS-variant buses always use the sequential path.
	DisableSyncRead bool

	// Trace, if set, records every bus transaction.
	Trace *Trace
}

// NewBus creates a new servo bus with the given configuration.
func NewBus(cfg BusConfig) (*Bus, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MinCommandGap == 0 {
		cfg.MinCommandGap = DefaultMinCommandGap
	}
	retries := cfg.Retries
	if retries == 0 {
		retries = DefaultRetries
	} else if retries < 0 {
		retries = 0
	}

	transport := cfg.Transport
	if transport == nil {
		if cfg.Port == "" {
			return nil, errors.New("either Transport or Port must be specified")
		}
		var err error
		transport, err = transports.OpenSerial(transports.SerialConfig{
			Port:     cfg.Port,
			BaudRate: cfg.BaudRate,
			Timeout:  cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
	}

	return &Bus{
		transport:   transport,
		protocol:    NewProtocol(cfg.Protocol),
		timeout:     cfg.Timeout,
		retries:     retries,
		trueSync:    cfg.Protocol == ProtocolSTS && !cfg.DisableSyncRead,
		trace:       cfg.Trace,
		minCmdGap:   cfg.MinCommandGap,
		lastCmdTime: time.Now(),
	}, nil
}

// Close closes the bus and releases the transport.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	return b.transport.Close()
}

// Protocol returns the protocol handler for this bus.
func (b *Bus) Protocol() *Protocol {
	return b.protocol
}

// Ping sends a ping to the specified servo and returns its model number.
func (b *Bus) Ping(ctx context.Context, id int) (int, error) {
	if err := b.validateUnicastID(id); err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrBusClosed
	}

	packet := b.protocol.PingPacket(byte(id))
	resp, err := b.transactLocked(ctx, byte(id), packet, b.protocol.ExpectedResponseLength(0))
	if err != nil {
		return 0, err
	}
	if resp.Error.HasError() {
		return 0, &ServoFault{ID: id, Op: "ping", Status: resp.Error}
	}

	modelData, err := b.readRegisterLocked(ctx, byte(id), RegModelNumber.Address, byte(RegModelNumber.Size))
	if err != nil {
		return 0, fmt.Errorf("read model number: %w", err)
	}

	return int(b.protocol.DecodeWord(modelData)), nil
}

// ReadRegister reads bytes from a servo register. When the servo reports a
// fault alongside the data, the data is still returned and the error is a
// *ServoFault carrying the decoded flags.
func (b *Bus) ReadRegister(ctx context.Context, id int, address byte, length int) ([]byte, error) {
	if err := b.validateUnicastID(id); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	return b.readRegisterLocked(ctx, byte(id), address, byte(length))
}

// WriteRegister writes bytes to a servo register.
func (b *Bus) WriteRegister(ctx context.Context, id int, address byte, data []byte) error {
	if err := b.validateUnicastID(id); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	return b.writeRegisterLocked(ctx, byte(id), address, data)
}

// RegWrite writes data to a servo's staging buffer without immediate
// execution. Call Action to execute all staged writes at once.
func (b *Bus) RegWrite(ctx context.Context, id int, address byte, data []byte) error {
	if err := b.validateUnicastID(id); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	packet := b.protocol.RegWritePacket(byte(id), address, data)
	resp, err := b.transactLocked(ctx, byte(id), packet, b.protocol.ExpectedResponseLength(0))
	if err != nil {
		return err
	}
	if resp.Error.HasError() {
		return &ServoFault{ID: id, Op: "reg_write", Status: resp.Error}
	}

	return nil
}

// Action triggers execution of all staged RegWrite commands. Broadcast, so
// no response is expected.
func (b *Bus) Action(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	packet := b.protocol.ActionPacket()
	if err := b.sendPacketLocked(packet); err != nil {
		return &CommError{Op: "action", Err: err}
	}

	return nil
}

// SyncWrite writes data to multiple servos in a single broadcast packet.
// servoData maps servo ID to the data bytes to write; every entry must be
// exactly dataLen bytes. Entries go on the wire in ascending ID order.
// Devices do not acknowledge sync writes, so success means the packet was
// fully written to the transport.
func (b *Bus) SyncWrite(ctx context.Context, address byte, dataLen int, servoData map[int][]byte) error {
	if len(servoData) == 0 {
		return nil
	}

	ids := make([]byte, 0, len(servoData))
	byteData := make(map[byte][]byte, len(servoData))
	for id, data := range servoData {
		if err := b.validateUnicastID(id); err != nil {
			return err
		}
		if len(data) != dataLen {
			return fmt.Errorf("servo %d: data length mismatch: expected %d, got %d", id, dataLen, len(data))
		}
		ids = append(ids, byte(id))
		byteData[byte(id)] = data
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	packet := b.protocol.SyncWritePacket(address, byte(dataLen), ids, byteData)
	if err := b.sendPacketLocked(packet); err != nil {
		return &CommError{Op: "sync_write", Err: err}
	}

	return nil
}

// SyncRead reads the same register from multiple servos in one logical
// batch and returns a map of servo ID to data. On STS buses this is a single
// SYNC_READ transaction; on SCS buses (or with DisableSyncRead) it falls
// back to sequential single-target reads issued while the batch holds the
// bus. Either way a servo that fails to answer after retries is omitted
// from the result; a single dead servo never aborts the batch.
func (b *Bus) SyncRead(ctx context.Context, address byte, dataLen int, ids []int) (map[int][]byte, error) {
	sorted := make([]int, 0, len(ids))
	for _, id := range ids {
		if err := b.validateUnicastID(id); err != nil {
			return nil, err
		}
		sorted = append(sorted, id)
	}
	sort.Ints(sorted)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	if b.trueSync {
		return b.syncReadInstructionLocked(ctx, address, dataLen, sorted)
	}
	return b.syncReadSequentialLocked(ctx, address, dataLen, sorted)
}

// syncReadInstructionLocked issues one SYNC_READ packet and collects the
// response train. Servos answer in the order their IDs were listed; a silent
// servo just leaves a gap, and decoding resynchronizes on the next header.
func (b *Bus) syncReadInstructionLocked(ctx context.Context, address byte, dataLen int, ids []int) (map[int][]byte, error) {
	byteIDs := make([]byte, len(ids))
	for i, id := range ids {
		byteIDs[i] = byte(id)
	}

	packet := b.protocol.SyncReadPacket(address, byte(dataLen), byteIDs)
	if err := b.sendPacketLocked(packet); err != nil {
		return nil, &CommError{Op: "sync_read", Err: err}
	}

	expectedLen := len(ids) * b.protocol.ExpectedResponseLength(dataLen)
	raw, err := b.readAvailableLocked(ctx, expectedLen)
	if err != nil {
		return nil, &CommError{Op: "sync_read", Err: err}
	}

	requested := make(map[int]bool, len(ids))
	for _, id := range ids {
		requested[id] = true
	}

	result := make(map[int][]byte, len(ids))
	for _, pkt := range b.protocol.DecodeMultiple(raw, len(ids)) {
		id := int(pkt.ID)
		if !requested[id] || len(pkt.Parameters) != dataLen {
			continue
		}
		result[id] = pkt.Parameters
	}

	return result, nil
}

// syncReadSequentialLocked reads each servo individually without releasing
// the bus between reads, so another caller's command cannot interleave
// inside the batch. Per-ID failures are isolated: the ID is skipped.
func (b *Bus) syncReadSequentialLocked(ctx context.Context, address byte, dataLen int, ids []int) (map[int][]byte, error) {
	result := make(map[int][]byte, len(ids))

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		data, err := b.readRegisterLocked(ctx, byte(id), address, byte(dataLen))
		if err != nil {
			if _, faulted := AsServoFault(err); faulted && len(data) == dataLen {
				// Servo answered with a fault flag but still
				// delivered the value.
				result[id] = data
			}
			continue
		}
		result[id] = data
	}

	return result, nil
}

// Scan searches for servos by pinging each ID in the range.
func (b *Bus) Scan(ctx context.Context, startID, endID int) ([]FoundServo, error) {
	if startID < 0 || endID > MaxServoID || startID > endID {
		return nil, fmt.Errorf("invalid ID range: %d to %d", startID, endID)
	}

	var found []FoundServo

	for id := startID; id <= endID; id++ {
		select {
		case <-ctx.Done():
			return found, ctx.Err()
		default:
		}

		modelNum, err := b.Ping(ctx, id)
		if err != nil {
			continue // no response at this ID
		}

		f := FoundServo{ID: id, ModelNumber: modelNum}
		if model, ok := GetModelByNumber(modelNum); ok {
			f.Model = model
		}
		found = append(found, f)
	}

	return found, nil
}

// Discover searches for servos using broadcast ping. Faster than Scan but
// only supported by the STS variant.
func (b *Bus) Discover(ctx context.Context) ([]FoundServo, error) {
	if b.protocol.Variant() != ProtocolSTS {
		return nil, errors.New("broadcast discovery only supported in STS protocol")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	packet := b.protocol.PingPacket(BroadcastID)
	if err := b.sendPacketLocked(packet); err != nil {
		return nil, &CommError{Op: "discover", Err: err}
	}

	// Servos answer a broadcast ping with a randomized delay.
	time.Sleep(23 * time.Millisecond)

	var found []FoundServo
	deadline := time.Now().Add(b.timeout)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return found, ctx.Err()
		default:
		}

		data, err := b.readExactLocked(ctx, b.protocol.ExpectedResponseLength(0))
		if err != nil {
			break // no more responses
		}

		pkt, _, err := b.protocol.Decode(data)
		if err != nil || pkt.Error.HasError() {
			continue
		}

		id := int(pkt.ID)
		modelData, err := b.readRegisterLocked(ctx, pkt.ID, RegModelNumber.Address, byte(RegModelNumber.Size))
		if err != nil {
			continue
		}

		f := FoundServo{ID: id, ModelNumber: int(b.protocol.DecodeWord(modelData))}
		if model, ok := GetModelByNumber(f.ModelNumber); ok {
			f.Model = model
		}
		found = append(found, f)
	}

	return found, nil
}

// FoundServo represents a servo discovered during scanning.
type FoundServo struct {
	ID          int
	ModelNumber int
	Model       *Model // nil if the model number is unknown
}

// Internal methods. Everything suffixed Locked requires b.mu held.

func (b *Bus) validateUnicastID(id int) error {
	if id == BroadcastID {
		return ErrBroadcastRead
	}
	if id < 0 || id > MaxServoID {
		return fmt.Errorf("%w: %d (valid range: 0-%d)", ErrInvalidID, id, MaxServoID)
	}
	return nil
}

func (b *Bus) enforceCommandGap() {
	elapsed := time.Since(b.lastCmdTime)
	if elapsed < b.minCmdGap {
		time.Sleep(b.minCmdGap - elapsed)
	}
}

func (b *Bus) sendPacketLocked(packet []byte) error {
	b.enforceCommandGap()

	// Stale input would corrupt the next frame scan
	b.transport.Flush()

	n, err := b.transport.Write(packet)
	b.trace.record(TraceTX, packet[:n], err)
	if err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	if n != len(packet) {
		return fmt.Errorf("incomplete write: %d of %d bytes", n, len(packet))
	}

	b.lastCmdTime = time.Now()

	// Half-duplex turnaround
	time.Sleep(100 * time.Microsecond)

	return nil
}

// transactLocked performs one write-then-read transaction with bounded
// retries. Timeouts and corrupted responses are treated as bus noise and the
// same packet is reissued; an ID mismatch is a ProtocolError and fails the
// operation immediately.
func (b *Bus) transactLocked(ctx context.Context, id byte, packet []byte, respLen int) (Packet, error) {
	var lastErr error

	for attempt := 0; attempt <= b.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Packet{}, err
		}

		if err := b.sendPacketLocked(packet); err != nil {
			return Packet{}, err
		}

		raw, err := b.readExactLocked(ctx, respLen)
		if err != nil {
			if ctx.Err() != nil {
				return Packet{}, err
			}
			if isTransient(err) {
				lastErr = err
				continue
			}
			return Packet{}, err
		}

		pkt, _, err := b.protocol.Decode(raw)
		if err != nil {
			if isTransient(err) {
				lastErr = err
				continue
			}
			return Packet{}, err
		}

		if pkt.ID != id {
			return Packet{}, &ProtocolError{WantID: id, GotID: pkt.ID}
		}

		return pkt, nil
	}

	return Packet{}, lastErr
}

func (b *Bus) readRegisterLocked(ctx context.Context, id, address, length byte) ([]byte, error) {
	packet := b.protocol.ReadPacket(id, address, length)
	resp, err := b.transactLocked(ctx, id, packet, b.protocol.ExpectedResponseLength(int(length)))
	if err != nil {
		return nil, err
	}

	if resp.Error.HasError() {
		// The payload, when present, is still surfaced alongside the
		// fault; the caller decides severity.
		return resp.Parameters, &ServoFault{ID: int(id), Op: "read", Status: resp.Error}
	}

	return resp.Parameters, nil
}

func (b *Bus) writeRegisterLocked(ctx context.Context, id, address byte, data []byte) error {
	packet := b.protocol.WritePacket(id, address, data)
	resp, err := b.transactLocked(ctx, id, packet, b.protocol.ExpectedResponseLength(0))
	if err != nil {
		return err
	}

	if resp.Error.HasError() {
		return &ServoFault{ID: int(id), Op: "write", Status: resp.Error}
	}

	return nil
}

// readExactLocked reads exactly expectedLen bytes or fails. If the caller's
// context is cancelled mid-read, the expected remainder is drained and
// discarded before the error is returned, so the stream stays framed for
// the next transaction.
func (b *Bus) readExactLocked(ctx context.Context, expectedLen int) ([]byte, error) {
	buffer := make([]byte, expectedLen)
	totalRead := 0
	deadline := time.Now().Add(b.timeout)

	for totalRead < expectedLen {
		if err := ctx.Err(); err != nil {
			b.drainLocked(expectedLen - totalRead)
			b.trace.record(TraceRX, buffer[:totalRead], err)
			return nil, err
		}

		if time.Now().After(deadline) {
			if totalRead == 0 {
				b.trace.record(TraceRX, nil, ErrNoResponse)
				return nil, ErrNoResponse
			}
			err := fmt.Errorf("%w: read %d of %d expected bytes", ErrTimeout, totalRead, expectedLen)
			b.trace.record(TraceRX, buffer[:totalRead], err)
			return nil, err
		}

		remaining := max(time.Until(deadline), 10*time.Millisecond)
		b.transport.SetReadTimeout(remaining)

		n, err := b.transport.Read(buffer[totalRead:])
		if err != nil {
			err = fmt.Errorf("read error: %w", err)
			b.trace.record(TraceRX, buffer[:totalRead], err)
			return nil, err
		}
		if n == 0 {
			time.Sleep(time.Millisecond)
			continue
		}

		totalRead += n
	}

	b.trace.record(TraceRX, buffer[:totalRead], nil)
	return buffer[:totalRead], nil
}

// readAvailableLocked reads up to maxLen bytes until the timeout window
// closes, returning whatever arrived. Used for sync-read response trains
// where some servos may legitimately stay silent.
func (b *Bus) readAvailableLocked(ctx context.Context, maxLen int) ([]byte, error) {
	buffer := make([]byte, maxLen)
	totalRead := 0
	deadline := time.Now().Add(b.timeout)

	for totalRead < maxLen && time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			b.drainLocked(maxLen - totalRead)
			b.trace.record(TraceRX, buffer[:totalRead], err)
			return nil, err
		}

		b.transport.SetReadTimeout(max(time.Until(deadline), 10*time.Millisecond))

		n, err := b.transport.Read(buffer[totalRead:])
		if err != nil {
			err = fmt.Errorf("read error: %w", err)
			b.trace.record(TraceRX, buffer[:totalRead], err)
			return nil, err
		}
		if n == 0 {
			time.Sleep(time.Millisecond)
			continue
		}

		totalRead += n
	}

	b.trace.record(TraceRX, buffer[:totalRead], nil)
	return buffer[:totalRead], nil
}

// drainLocked consumes and discards up to n pending response bytes within a
// short window. An already-written packet cannot be recalled, so its
// response must leave the line before the bus is released.
func (b *Bus) drainLocked(n int) {
	if n <= 0 {
		return
	}

	buf := make([]byte, n)
	b.transport.SetReadTimeout(20 * time.Millisecond)
	for discarded := 0; discarded < n; {
		read, err := b.transport.Read(buf[discarded:])
		if read == 0 || err != nil {
			return
		}
		discarded += read
	}
}
