package scservo

import (
	"context"
	"testing"
	"time"

	"github.com/lumidlab/control-my-robot/transports"
)

func TestServoGroup_SetPositions(t *testing.T) {
	dev := transports.NewMockDevice(1, 2, 3)
	bus := newDeviceBus(t, dev, BusConfig{})
	group := NewServoGroupByIDs(bus, 1, 2, 3)
	ctx := context.Background()

	err := group.SetPositions(ctx, ValueMap{1: 1000, 2: 2000, 3: 3000})
	if err != nil {
		t.Fatalf("SetPositions failed: %v", err)
	}

	p := bus.Protocol()
	for id, want := range map[int]uint16{1: 1000, 2: 2000, 3: 3000} {
		if got := p.DecodeWord(dev.RegisterBytes(id, RegGoalPosition.Address, 2)); got != want {
			t.Errorf("servo %d: got %d, want %d", id, got, want)
		}
	}

	if len(dev.Writes()) != 1 {
		t.Errorf("transport writes: got %d, want 1", len(dev.Writes()))
	}
}

func TestServoGroup_SetPositionsValidation(t *testing.T) {
	dev := transports.NewMockDevice(1, 2)
	bus := newDeviceBus(t, dev, BusConfig{})
	group := NewServoGroupByIDs(bus, 1, 2)
	ctx := context.Background()

	if err := group.SetPositions(ctx, ValueMap{1: 1000, 2: 9000}); err == nil {
		t.Error("out-of-range position accepted")
	}
	if err := group.SetPositions(ctx, ValueMap{7: 1000}); err == nil {
		t.Error("unknown group member accepted")
	}
	if len(dev.Writes()) != 0 {
		t.Error("packet written despite invalid input")
	}
}

func TestServoGroup_Positions(t *testing.T) {
	dev := transports.NewMockDevice(1, 2)
	bus := newDeviceBus(t, dev, BusConfig{})
	group := NewServoGroupByIDs(bus, 1, 2)
	p := bus.Protocol()

	dev.SetRegister(1, RegPresentPosition.Address, p.EncodeWord(1500)...)
	dev.SetRegister(2, RegPresentPosition.Address, p.EncodeWord(2500)...)

	positions, err := group.Positions(context.Background())
	if err != nil {
		t.Fatalf("Positions failed: %v", err)
	}
	if positions[1] != 1500 || positions[2] != 2500 {
		t.Errorf("positions: got %v", positions)
	}
}

func TestServoGroup_PositionsPartial(t *testing.T) {
	dev := transports.NewMockDevice(1, 2, 3)
	dev.Silence(2)
	bus := newDeviceBus(t, dev, BusConfig{})
	group := NewServoGroupByIDs(bus, 1, 2, 3)

	positions, err := group.Positions(context.Background())
	if err != nil {
		t.Fatalf("Positions failed: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("got %d positions, want 2", len(positions))
	}
	if _, ok := positions[2]; ok {
		t.Error("silent servo present in result")
	}
}

func TestServoGroup_EnableDisableAll(t *testing.T) {
	dev := transports.NewMockDevice(1, 2)
	bus := newDeviceBus(t, dev, BusConfig{})
	group := NewServoGroupByIDs(bus, 1, 2)
	ctx := context.Background()

	if err := group.EnableAll(ctx); err != nil {
		t.Fatalf("EnableAll failed: %v", err)
	}
	for _, id := range []int{1, 2} {
		if dev.RegisterBytes(id, RegTorqueEnable.Address, 1)[0] != 1 {
			t.Errorf("servo %d torque not enabled", id)
		}
	}

	if err := group.DisableAll(ctx); err != nil {
		t.Fatalf("DisableAll failed: %v", err)
	}
	for _, id := range []int{1, 2} {
		if dev.RegisterBytes(id, RegTorqueEnable.Address, 1)[0] != 0 {
			t.Errorf("servo %d torque still enabled", id)
		}
	}
}

func TestServoGroup_NamedRegister(t *testing.T) {
	dev := transports.NewMockDevice(1, 2)
	bus := newDeviceBus(t, dev, BusConfig{})
	group := NewServoGroupByIDs(bus, 1, 2)
	ctx := context.Background()

	err := group.WriteRegister(ctx, "acceleration", ValueMap{1: 10, 2: 20})
	if err != nil {
		t.Fatalf("WriteRegister failed: %v", err)
	}

	values, err := group.ReadRegister(ctx, "acceleration")
	if err != nil {
		t.Fatalf("ReadRegister failed: %v", err)
	}
	if values[1] != 10 || values[2] != 20 {
		t.Errorf("values: got %v", values)
	}

	if err := group.WriteRegister(ctx, "present_position", ValueMap{1: 5}); err == nil {
		t.Error("write to read-only register accepted")
	}
}

func TestServoGroup_WheelSpeeds(t *testing.T) {
	dev := transports.NewMockDevice(1, 2)
	bus := newDeviceBus(t, dev, BusConfig{})
	group := NewServoGroupByIDs(bus, 1, 2)

	err := group.SetWheelSpeeds(context.Background(), ValueMap{1: 600, 2: -600})
	if err != nil {
		t.Fatalf("SetWheelSpeeds failed: %v", err)
	}

	p := bus.Protocol()
	if got := p.DecodeWord(dev.RegisterBytes(1, RegGoalVelocity.Address, 2)); got != 600 {
		t.Errorf("servo 1 speed: got %#x", got)
	}
	if got := p.DecodeWord(dev.RegisterBytes(2, RegGoalVelocity.Address, 2)); got != 600|1<<15 {
		t.Errorf("servo 2 speed: got %#x, want sign bit set", got)
	}
}

func TestServoGroup_RegWritePositionsThenAction(t *testing.T) {
	dev := transports.NewMockDevice(1, 2)
	bus := newDeviceBus(t, dev, BusConfig{})
	group := NewServoGroupByIDs(bus, 1, 2)
	ctx := context.Background()

	if err := group.RegWritePositions(ctx, ValueMap{1: 111, 2: 222}); err != nil {
		t.Fatalf("RegWritePositions failed: %v", err)
	}

	p := bus.Protocol()
	if got := p.DecodeWord(dev.RegisterBytes(1, RegGoalPosition.Address, 2)); got != 0 {
		t.Errorf("position applied before action: %d", got)
	}

	if err := bus.Action(ctx); err != nil {
		t.Fatalf("Action failed: %v", err)
	}
	if got := p.DecodeWord(dev.RegisterBytes(1, RegGoalPosition.Address, 2)); got != 111 {
		t.Errorf("servo 1: got %d, want 111", got)
	}
	if got := p.DecodeWord(dev.RegisterBytes(2, RegGoalPosition.Address, 2)); got != 222 {
		t.Errorf("servo 2: got %d, want 222", got)
	}
}

func TestServoGroup_WaitForStop(t *testing.T) {
	dev := transports.NewMockDevice(1, 2)
	bus := newDeviceBus(t, dev, BusConfig{})
	group := NewServoGroupByIDs(bus, 1, 2)
	p := bus.Protocol()

	// Both already stopped, with known positions
	dev.SetRegister(1, RegPresentPosition.Address, p.EncodeWord(100)...)
	dev.SetRegister(2, RegPresentPosition.Address, p.EncodeWord(200)...)

	positions, err := group.WaitForStop(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("WaitForStop failed: %v", err)
	}
	if positions[1] != 100 || positions[2] != 200 {
		t.Errorf("final positions: got %v", positions)
	}
}

func TestServoGroup_WaitForStopTimeout(t *testing.T) {
	dev := transports.NewMockDevice(1)
	dev.SetRegister(1, RegMoving.Address, 1)
	bus := newDeviceBus(t, dev, BusConfig{})
	group := NewServoGroupByIDs(bus, 1)

	_, err := group.WaitForStop(context.Background(), 150*time.Millisecond)
	if err == nil {
		t.Error("expected timeout error")
	}
}
