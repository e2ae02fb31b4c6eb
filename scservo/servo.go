package scservo

import (
	"context"
	"fmt"
)

// Servo provides a high-level interface for controlling a single servo.
type Servo struct {
	bus   *Bus
	id    int
	model *Model
}

// NewServo creates a new Servo instance.
// If model is nil, defaults to STS3215.
func NewServo(bus *Bus, id int, model *Model) *Servo {
	if model == nil {
		model = &ModelSTS3215
	}
	return &Servo{
		bus:   bus,
		id:    id,
		model: model,
	}
}

// ID returns the servo's ID.
func (s *Servo) ID() int {
	return s.id
}

// Model returns the servo's model specification.
func (s *Servo) Model() *Model {
	return s.model
}

// Ping verifies communication with the servo and returns the model number.
func (s *Servo) Ping(ctx context.Context) (int, error) {
	return s.bus.Ping(ctx, s.id)
}

// DetectModel pings the servo and sets the model from the returned number.
func (s *Servo) DetectModel(ctx context.Context) error {
	modelNum, err := s.bus.Ping(ctx, s.id)
	if err != nil {
		return err
	}

	model, ok := GetModelByNumber(modelNum)
	if !ok {
		return fmt.Errorf("unknown model number: %d", modelNum)
	}
	s.model = model

	return nil
}

// Position Control

// Position reads the current position.
func (s *Servo) Position(ctx context.Context) (int, error) {
	data, err := s.bus.ReadRegister(ctx, s.id, RegPresentPosition.Address, RegPresentPosition.Size)
	if err != nil {
		return 0, err
	}
	return int(s.bus.Protocol().DecodeWord(data)), nil
}

// SetPosition commands the servo to move to the specified position.
func (s *Servo) SetPosition(ctx context.Context, position int) error {
	if err := RegGoalPosition.CheckValue(position); err != nil {
		return err
	}
	data := s.bus.Protocol().EncodeWord(uint16(position))
	return s.bus.WriteRegister(ctx, s.id, RegGoalPosition.Address, data)
}

// SetPositionWithSpeed commands the servo to move to position at the
// specified speed in steps per second.
func (s *Servo) SetPositionWithSpeed(ctx context.Context, position, speed int) error {
	if err := RegGoalPosition.CheckValue(position); err != nil {
		return err
	}

	proto := s.bus.Protocol()

	// 6-byte window starting at goal position: position(2) + time(2) + speed(2)
	data := make([]byte, 6)
	copy(data[0:2], proto.EncodeWord(uint16(position)))
	copy(data[2:4], proto.EncodeWord(0)) // time = 0, use speed instead
	copy(data[4:6], proto.EncodeWord(uint16(speed)))

	return s.bus.WriteRegister(ctx, s.id, RegGoalPosition.Address, data)
}

// Wheel (continuous rotation) Control

// Velocity reads the current velocity.
// Returns a signed value; negative indicates reverse direction.
func (s *Servo) Velocity(ctx context.Context) (int, error) {
	data, err := s.bus.ReadRegister(ctx, s.id, RegPresentVelocity.Address, RegPresentVelocity.Size)
	if err != nil {
		return 0, err
	}

	raw := int(s.bus.Protocol().DecodeWord(data))
	return decodeSignMagnitude(raw, RegPresentVelocity.SignBit), nil
}

// SetWheelSpeed sets the goal velocity for wheel mode.
// Positive values rotate clockwise, negative counter-clockwise.
func (s *Servo) SetWheelSpeed(ctx context.Context, speed int) error {
	if err := RegGoalVelocity.CheckValue(speed); err != nil {
		return err
	}
	encoded := encodeSignMagnitude(speed, RegGoalVelocity.SignBit)
	data := s.bus.Protocol().EncodeWord(uint16(encoded))
	return s.bus.WriteRegister(ctx, s.id, RegGoalVelocity.Address, data)
}

// Torque Control

// TorqueEnabled returns whether torque is enabled.
func (s *Servo) TorqueEnabled(ctx context.Context) (bool, error) {
	data, err := s.bus.ReadRegister(ctx, s.id, RegTorqueEnable.Address, 1)
	if err != nil {
		return false, err
	}
	return data[0] != 0, nil
}

// SetTorqueEnabled enables or disables torque.
func (s *Servo) SetTorqueEnabled(ctx context.Context, enabled bool) error {
	var val byte
	if enabled {
		val = 1
	}
	return s.bus.WriteRegister(ctx, s.id, RegTorqueEnable.Address, []byte{val})
}

// Enable is a convenience alias for SetTorqueEnabled(true).
func (s *Servo) Enable(ctx context.Context) error {
	return s.SetTorqueEnabled(ctx, true)
}

// Disable is a convenience alias for SetTorqueEnabled(false).
func (s *Servo) Disable(ctx context.Context) error {
	return s.SetTorqueEnabled(ctx, false)
}

// Acceleration reads the acceleration register.
func (s *Servo) Acceleration(ctx context.Context) (int, error) {
	data, err := s.bus.ReadRegister(ctx, s.id, RegAcceleration.Address, 1)
	if err != nil {
		return 0, err
	}
	return int(data[0]), nil
}

// SetAcceleration sets the acceleration register.
func (s *Servo) SetAcceleration(ctx context.Context, value int) error {
	if err := RegAcceleration.CheckValue(value); err != nil {
		return err
	}
	return s.bus.WriteRegister(ctx, s.id, RegAcceleration.Address, []byte{byte(value)})
}

// Status

// Moving returns whether the servo is currently moving.
func (s *Servo) Moving(ctx context.Context) (bool, error) {
	data, err := s.bus.ReadRegister(ctx, s.id, RegMoving.Address, 1)
	if err != nil {
		return false, err
	}
	return data[0] != 0, nil
}

// Load reads the current load.
// Returns a signed value; negative indicates load in reverse direction.
func (s *Servo) Load(ctx context.Context) (int, error) {
	data, err := s.bus.ReadRegister(ctx, s.id, RegPresentLoad.Address, RegPresentLoad.Size)
	if err != nil {
		return 0, err
	}

	raw := int(s.bus.Protocol().DecodeWord(data))
	return decodeSignMagnitude(raw, RegPresentLoad.SignBit), nil
}

// Voltage reads the current supply voltage in tenths of a volt.
func (s *Servo) Voltage(ctx context.Context) (int, error) {
	data, err := s.bus.ReadRegister(ctx, s.id, RegPresentVoltage.Address, 1)
	if err != nil {
		return 0, err
	}
	return int(data[0]), nil
}

// Temperature reads the current temperature in degrees Celsius.
func (s *Servo) Temperature(ctx context.Context) (int, error) {
	data, err := s.bus.ReadRegister(ctx, s.id, RegPresentTemp.Address, 1)
	if err != nil {
		return 0, err
	}
	return int(data[0]), nil
}

// Operating mode

// OperatingMode reads the current operating mode.
func (s *Servo) OperatingMode(ctx context.Context) (int, error) {
	data, err := s.bus.ReadRegister(ctx, s.id, RegOperatingMode.Address, 1)
	if err != nil {
		return 0, err
	}
	return int(data[0]), nil
}

// SetOperatingMode sets the operating mode. Torque is disabled first; the
// servo rejects mode changes while under load.
func (s *Servo) SetOperatingMode(ctx context.Context, mode int) error {
	if err := RegOperatingMode.CheckValue(mode); err != nil {
		return err
	}

	if err := s.SetTorqueEnabled(ctx, false); err != nil {
		return fmt.Errorf("failed to disable torque: %w", err)
	}

	return s.bus.WriteRegister(ctx, s.id, RegOperatingMode.Address, []byte{byte(mode)})
}

// SetWheelMode switches the servo to continuous-rotation mode.
func (s *Servo) SetWheelMode(ctx context.Context) error {
	return s.SetOperatingMode(ctx, ModeWheel)
}

// SetPositionMode switches the servo back to position mode.
func (s *Servo) SetPositionMode(ctx context.Context) error {
	return s.SetOperatingMode(ctx, ModePosition)
}

// EEPROM Configuration

// SetID changes the servo's ID. The device stops answering at the old
// address immediately; the Servo instance is updated to the new ID, but any
// other handles to the old address are stale.
func (s *Servo) SetID(ctx context.Context, newID int) error {
	if err := RegID.CheckValue(newID); err != nil {
		return err
	}

	// Mode and ID changes require torque off
	if err := s.SetTorqueEnabled(ctx, false); err != nil {
		return fmt.Errorf("failed to disable torque: %w", err)
	}

	if err := s.bus.WriteRegister(ctx, s.id, RegID.Address, []byte{byte(newID)}); err != nil {
		return err
	}

	s.id = newID
	return nil
}

// BaudRateIndex reads the baud-rate register.
func (s *Servo) BaudRateIndex(ctx context.Context) (int, error) {
	data, err := s.bus.ReadRegister(ctx, s.id, RegBaudRate.Address, 1)
	if err != nil {
		return 0, err
	}
	return int(data[0]), nil
}

// SetBaudRateIndex writes the baud-rate register. The servo switches rate as
// soon as the write is acknowledged and stops answering at the old rate; the
// caller is responsible for reconnecting at the new configuration.
func (s *Servo) SetBaudRateIndex(ctx context.Context, index int) error {
	if err := RegBaudRate.CheckValue(index); err != nil {
		return err
	}

	if err := s.SetTorqueEnabled(ctx, false); err != nil {
		return fmt.Errorf("failed to disable torque: %w", err)
	}

	return s.bus.WriteRegister(ctx, s.id, RegBaudRate.Address, []byte{byte(index)})
}

// SetBaudRate resolves an actual baud rate (e.g. 1000000) through the
// model's index table and writes it.
func (s *Servo) SetBaudRate(ctx context.Context, baudRate int) error {
	idx := s.model.BaudRateIndex(baudRate)
	if idx < 0 {
		return fmt.Errorf("baud rate %d not supported by model %s", baudRate, s.model.Name)
	}
	return s.SetBaudRateIndex(ctx, idx)
}

// Named register access

// ReadRegister reads a named register and returns its decoded value.
func (s *Servo) ReadRegister(ctx context.Context, name string) (int, error) {
	reg, err := LookupRegister(name)
	if err != nil {
		return 0, err
	}

	data, err := s.bus.ReadRegister(ctx, s.id, reg.Address, reg.Size)
	if len(data) != reg.Size {
		return 0, err
	}

	var raw int
	if reg.Size == 1 {
		raw = int(data[0])
	} else {
		raw = int(s.bus.Protocol().DecodeWord(data))
	}
	// err may carry a ServoFault; the value is still valid
	return decodeSignMagnitude(raw, reg.SignBit), err
}

// WriteRegister writes a value to a named register, validating access and
// range before any bus traffic.
func (s *Servo) WriteRegister(ctx context.Context, name string, value int) error {
	reg, err := LookupRegister(name)
	if err != nil {
		return err
	}
	if reg.ReadOnly {
		return fmt.Errorf("register %s is read-only", name)
	}
	if err := reg.CheckValue(value); err != nil {
		return err
	}

	encoded := encodeSignMagnitude(value, reg.SignBit)
	var data []byte
	if reg.Size == 1 {
		data = []byte{byte(encoded)}
	} else {
		data = s.bus.Protocol().EncodeWord(uint16(encoded))
	}

	return s.bus.WriteRegister(ctx, s.id, reg.Address, data)
}
