package scservo

import (
	"context"
	"fmt"
	"time"
)

// ServoGroup manages coordinated operations across multiple servos.
type ServoGroup struct {
	bus    *Bus
	servos []*Servo
	ids    []int
}

// ValueMap is a map of servo ID to a register value.
type ValueMap map[int]int

// NewServoGroup creates a new group from the given servos.
func NewServoGroup(bus *Bus, servos ...*Servo) *ServoGroup {
	ids := make([]int, len(servos))
	for i, s := range servos {
		ids[i] = s.ID()
	}
	return &ServoGroup{
		bus:    bus,
		servos: servos,
		ids:    ids,
	}
}

// NewServoGroupByIDs creates servos with the given IDs and groups them.
// All servos default to the STS3215 model.
func NewServoGroupByIDs(bus *Bus, ids ...int) *ServoGroup {
	servos := make([]*Servo, len(ids))
	for i, id := range ids {
		servos[i] = NewServo(bus, id, nil)
	}
	return NewServoGroup(bus, servos...)
}

// IDs returns the servo IDs in this group.
func (g *ServoGroup) IDs() []int {
	return g.ids
}

// ServoByID returns the servo with the given ID, or nil if not found.
func (g *ServoGroup) ServoByID(id int) *Servo {
	for _, s := range g.servos {
		if s.ID() == id {
			return s
		}
	}
	return nil
}

// Positions reads positions from all servos in one batch. IDs that fail to
// answer are omitted from the result; the batch itself never aborts on a
// single dead servo.
func (g *ServoGroup) Positions(ctx context.Context) (ValueMap, error) {
	data, err := g.bus.SyncRead(ctx, RegPresentPosition.Address, RegPresentPosition.Size, g.ids)
	if err != nil {
		return nil, err
	}

	proto := g.bus.Protocol()
	positions := make(ValueMap, len(data))
	for id, d := range data {
		positions[id] = int(proto.DecodeWord(d))
	}

	return positions, nil
}

// SetPositions writes positions to servos in one sync write.
// Only servos with IDs present in the positions map are written.
func (g *ServoGroup) SetPositions(ctx context.Context, positions ValueMap) error {
	if len(positions) == 0 {
		return nil
	}

	proto := g.bus.Protocol()
	servoData := make(map[int][]byte, len(positions))

	for id, pos := range positions {
		if g.ServoByID(id) == nil {
			return fmt.Errorf("servo ID %d not in group", id)
		}
		if err := RegGoalPosition.CheckValue(pos); err != nil {
			return fmt.Errorf("servo %d: %w", id, err)
		}
		servoData[id] = proto.EncodeWord(uint16(pos))
	}

	return g.bus.SyncWrite(ctx, RegGoalPosition.Address, RegGoalPosition.Size, servoData)
}

// SetWheelSpeeds writes goal velocities to servos in one sync write.
// Values are signed; negative rotates counter-clockwise.
func (g *ServoGroup) SetWheelSpeeds(ctx context.Context, speeds ValueMap) error {
	if len(speeds) == 0 {
		return nil
	}

	proto := g.bus.Protocol()
	servoData := make(map[int][]byte, len(speeds))

	for id, speed := range speeds {
		if g.ServoByID(id) == nil {
			return fmt.Errorf("servo ID %d not in group", id)
		}
		if err := RegGoalVelocity.CheckValue(speed); err != nil {
			return fmt.Errorf("servo %d: %w", id, err)
		}
		encoded := encodeSignMagnitude(speed, RegGoalVelocity.SignBit)
		servoData[id] = proto.EncodeWord(uint16(encoded))
	}

	return g.bus.SyncWrite(ctx, RegGoalVelocity.Address, RegGoalVelocity.Size, servoData)
}

// EnableAll enables torque on all servos.
func (g *ServoGroup) EnableAll(ctx context.Context) error {
	servoData := make(map[int][]byte, len(g.servos))
	for _, s := range g.servos {
		servoData[s.ID()] = []byte{1}
	}
	return g.bus.SyncWrite(ctx, RegTorqueEnable.Address, 1, servoData)
}

// DisableAll disables torque on all servos.
func (g *ServoGroup) DisableAll(ctx context.Context) error {
	servoData := make(map[int][]byte, len(g.servos))
	for _, s := range g.servos {
		servoData[s.ID()] = []byte{0}
	}
	return g.bus.SyncWrite(ctx, RegTorqueEnable.Address, 1, servoData)
}

// ReadRegister reads a named register from every servo in the group.
// Non-responding servos are omitted from the result.
func (g *ServoGroup) ReadRegister(ctx context.Context, name string) (ValueMap, error) {
	reg, err := LookupRegister(name)
	if err != nil {
		return nil, err
	}

	data, err := g.bus.SyncRead(ctx, reg.Address, reg.Size, g.ids)
	if err != nil {
		return nil, err
	}

	proto := g.bus.Protocol()
	result := make(ValueMap, len(data))
	for id, d := range data {
		var raw int
		if reg.Size == 1 {
			raw = int(d[0])
		} else {
			raw = int(proto.DecodeWord(d))
		}
		result[id] = decodeSignMagnitude(raw, reg.SignBit)
	}

	return result, nil
}

// WriteRegister writes a named register on the listed servos in one sync
// write, validating access and every value before any bus traffic.
func (g *ServoGroup) WriteRegister(ctx context.Context, name string, values ValueMap) error {
	if len(values) == 0 {
		return nil
	}

	reg, err := LookupRegister(name)
	if err != nil {
		return err
	}
	if reg.ReadOnly {
		return fmt.Errorf("register %s is read-only", name)
	}

	proto := g.bus.Protocol()
	servoData := make(map[int][]byte, len(values))

	for id, v := range values {
		if g.ServoByID(id) == nil {
			return fmt.Errorf("servo ID %d not in group", id)
		}
		if err := reg.CheckValue(v); err != nil {
			return fmt.Errorf("servo %d: %w", id, err)
		}
		encoded := encodeSignMagnitude(v, reg.SignBit)
		if reg.Size == 1 {
			servoData[id] = []byte{byte(encoded)}
		} else {
			servoData[id] = proto.EncodeWord(uint16(encoded))
		}
	}

	return g.bus.SyncWrite(ctx, reg.Address, reg.Size, servoData)
}

// RegWritePositions stages position writes on each servo.
// Call bus.Action to execute them simultaneously.
func (g *ServoGroup) RegWritePositions(ctx context.Context, positions ValueMap) error {
	if len(positions) == 0 {
		return nil
	}

	proto := g.bus.Protocol()
	for id, pos := range positions {
		if g.ServoByID(id) == nil {
			return fmt.Errorf("servo ID %d not in group", id)
		}
		if err := RegGoalPosition.CheckValue(pos); err != nil {
			return fmt.Errorf("servo %d: %w", id, err)
		}

		data := proto.EncodeWord(uint16(pos))
		if err := g.bus.RegWrite(ctx, id, RegGoalPosition.Address, data); err != nil {
			return fmt.Errorf("servo %d: %w", id, err)
		}
	}

	return nil
}

// MoveTo moves servos to target positions and waits for completion.
// Returns the final positions of the commanded servos.
func (g *ServoGroup) MoveTo(ctx context.Context, positions ValueMap, timeout time.Duration) (ValueMap, error) {
	if err := g.SetPositions(ctx, positions); err != nil {
		return nil, err
	}

	if _, err := g.WaitForStop(ctx, timeout); err != nil {
		return nil, err
	}

	allPositions, err := g.Positions(ctx)
	if err != nil {
		return nil, err
	}

	result := make(ValueMap, len(positions))
	for id := range positions {
		if pos, ok := allPositions[id]; ok {
			result[id] = pos
		}
	}

	return result, nil
}

// WaitForStop polls the moving flag until every servo in the group has
// stopped, then returns the final positions.
func (g *ServoGroup) WaitForStop(ctx context.Context, timeout time.Duration) (ValueMap, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	deadline := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			pos, _ := g.Positions(ctx)
			return pos, fmt.Errorf("move timeout after %v", timeout)
		case <-ticker.C:
			moving, err := g.ReadRegister(ctx, RegMoving.Name)
			if err != nil {
				continue
			}

			allStopped := true
			for _, m := range moving {
				if m != 0 {
					allStopped = false
					break
				}
			}

			if allStopped {
				return g.Positions(ctx)
			}
		}
	}
}
