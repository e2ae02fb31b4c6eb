package scservo

import (
	"context"
	"sync"
	"time"
)

// State is the client connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Options configures a client connection.
type Options struct {
	// Port is the serial port path. Ignored if Transport is set.
	Port string

	// BaudRate is the communication speed. Default is 1000000.
	BaudRate int

	// Protocol variant: ProtocolSTS (default) or ProtocolSCS. Selects the
	// byte order for multi-byte register values.
	Protocol int

	// Timeout is the response window per transaction.
	Timeout time.Duration

	// MinCommandGap is the minimum time between bus commands.
	MinCommandGap time.Duration

	// Retries bounds transparent retries of transient bus failures.
	// Zero means the default; negative disables.
	Retries int

	// DisableSyncRead forces sequential single reads for batched reads.
	DisableSyncRead bool

	// Transport overrides serial port opening, mainly for tests.
	Transport Transport

	// Trace, if set, records every bus transaction.
	Trace *Trace
}

// Client is the public surface of the servo bus: an explicitly owned
// connection handle with a Disconnected/Connecting/Connected state machine.
// Connect while connected fails rather than reopening, and every other
// operation fails while disconnected.
type Client struct {
	mu    sync.Mutex
	state State
	bus   *Bus
}

// NewClient creates a disconnected client.
func NewClient() *Client {
	return &Client{}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the transport and brings the client to Connected.
// Calling Connect while already connected fails with ErrAlreadyConnected.
func (c *Client) Connect(opts Options) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Disconnected {
		return ErrAlreadyConnected
	}
	c.state = Connecting

	bus, err := NewBus(BusConfig{
		Transport:       opts.Transport,
		Port:            opts.Port,
		BaudRate:        opts.BaudRate,
		Protocol:        opts.Protocol,
		Timeout:         opts.Timeout,
		MinCommandGap:   opts.MinCommandGap,
		Retries:         opts.Retries,
		DisableSyncRead: opts.DisableSyncRead,
		Trace:           opts.Trace,
	})
	if err != nil {
		c.state = Disconnected
		return err
	}

	c.bus = bus
	c.state = Connected
	return nil
}

// Disconnect closes the transport and returns the client to Disconnected.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Connected {
		return ErrNotConnected
	}

	err := c.bus.Close()
	c.bus = nil
	c.state = Disconnected
	return err
}

// Bus returns the underlying bus for operations beyond the client surface.
func (c *Client) Bus() (*Bus, error) {
	return c.connected()
}

func (c *Client) connected() (*Bus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Connected {
		return nil, ErrNotConnected
	}
	return c.bus, nil
}

// Single-servo operations

// Ping verifies communication with a servo and returns its model number.
func (c *Client) Ping(ctx context.Context, id int) (int, error) {
	bus, err := c.connected()
	if err != nil {
		return 0, err
	}
	return bus.Ping(ctx, id)
}

// ReadPosition reads a servo's current position (0-4095).
func (c *Client) ReadPosition(ctx context.Context, id int) (int, error) {
	bus, err := c.connected()
	if err != nil {
		return 0, err
	}
	return NewServo(bus, id, nil).Position(ctx)
}

// WritePosition commands a servo to move to the given position.
func (c *Client) WritePosition(ctx context.Context, id, position int) error {
	bus, err := c.connected()
	if err != nil {
		return err
	}
	return NewServo(bus, id, nil).SetPosition(ctx, position)
}

// WriteTorqueEnable enables or disables a servo's torque.
func (c *Client) WriteTorqueEnable(ctx context.Context, id int, enabled bool) error {
	bus, err := c.connected()
	if err != nil {
		return err
	}
	return NewServo(bus, id, nil).SetTorqueEnabled(ctx, enabled)
}

// WriteAcceleration sets a servo's acceleration register.
func (c *Client) WriteAcceleration(ctx context.Context, id, value int) error {
	bus, err := c.connected()
	if err != nil {
		return err
	}
	return NewServo(bus, id, nil).SetAcceleration(ctx, value)
}

// SetWheelMode switches a servo to continuous-rotation mode.
func (c *Client) SetWheelMode(ctx context.Context, id int) error {
	bus, err := c.connected()
	if err != nil {
		return err
	}
	return NewServo(bus, id, nil).SetWheelMode(ctx)
}

// SetPositionMode switches a servo back to position mode.
func (c *Client) SetPositionMode(ctx context.Context, id int) error {
	bus, err := c.connected()
	if err != nil {
		return err
	}
	return NewServo(bus, id, nil).SetPositionMode(ctx)
}

// WriteWheelSpeed sets a servo's wheel-mode speed; negative reverses.
func (c *Client) WriteWheelSpeed(ctx context.Context, id, speed int) error {
	bus, err := c.connected()
	if err != nil {
		return err
	}
	return NewServo(bus, id, nil).SetWheelSpeed(ctx, speed)
}

// ReadMode reads a servo's operating mode.
func (c *Client) ReadMode(ctx context.Context, id int) (int, error) {
	bus, err := c.connected()
	if err != nil {
		return 0, err
	}
	return NewServo(bus, id, nil).OperatingMode(ctx)
}

// ReadBaudRate reads a servo's baud-rate register index.
func (c *Client) ReadBaudRate(ctx context.Context, id int) (int, error) {
	bus, err := c.connected()
	if err != nil {
		return 0, err
	}
	return NewServo(bus, id, nil).BaudRateIndex(ctx)
}

// SetBaudRate writes a servo's baud-rate register index. The servo stops
// answering at the old rate once the write lands; the caller must
// disconnect and reconnect at the new rate.
func (c *Client) SetBaudRate(ctx context.Context, id, index int) error {
	bus, err := c.connected()
	if err != nil {
		return err
	}
	return NewServo(bus, id, nil).SetBaudRateIndex(ctx, index)
}

// SetServoID reassigns a servo from oldID to newID. The device stops
// answering at oldID immediately; subsequent operations must address newID.
func (c *Client) SetServoID(ctx context.Context, oldID, newID int) error {
	bus, err := c.connected()
	if err != nil {
		return err
	}
	return NewServo(bus, oldID, nil).SetID(ctx, newID)
}

// Batched operations

// SyncReadPositions reads positions from several servos in one batch.
// Servos that fail to answer after retries are omitted from the result.
func (c *Client) SyncReadPositions(ctx context.Context, ids []int) (ValueMap, error) {
	bus, err := c.connected()
	if err != nil {
		return nil, err
	}
	return NewServoGroupByIDs(bus, ids...).Positions(ctx)
}

// SyncWritePositions writes positions to several servos in one unacknowledged
// broadcast transaction.
func (c *Client) SyncWritePositions(ctx context.Context, positions ValueMap) error {
	bus, err := c.connected()
	if err != nil {
		return err
	}
	return NewServoGroupByIDs(bus, mapIDs(positions)...).SetPositions(ctx, positions)
}

// SyncWriteWheelSpeeds writes wheel speeds to several servos in one
// unacknowledged broadcast transaction.
func (c *Client) SyncWriteWheelSpeeds(ctx context.Context, speeds ValueMap) error {
	bus, err := c.connected()
	if err != nil {
		return err
	}
	return NewServoGroupByIDs(bus, mapIDs(speeds)...).SetWheelSpeeds(ctx, speeds)
}

// Scan pings every ID in the range and returns the servos that answered.
func (c *Client) Scan(ctx context.Context, startID, endID int) ([]FoundServo, error) {
	bus, err := c.connected()
	if err != nil {
		return nil, err
	}
	return bus.Scan(ctx, startID, endID)
}

func mapIDs(m ValueMap) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	return ids
}
