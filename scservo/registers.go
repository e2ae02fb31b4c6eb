package scservo

import "sort"

// Register describes one cell of the servo control table: its byte offset in
// device memory, its width, and the range of values a write may carry. The
// table is immutable, process-wide state.
type Register struct {
	Name     string
	Address  byte
	Size     int // 1 or 2 bytes
	ReadOnly bool
	// SignBit indicates which bit is the sign bit for sign-magnitude
	// encoding. 0 means the value is plain unsigned.
	SignBit int
	// Min and Max bound values accepted for writes. Both zero means the
	// full unsigned width is accepted.
	Min int
	Max int
}

// CheckValue validates a value against the register's declared range before
// it reaches the bus.
func (r Register) CheckValue(v int) error {
	min, max := r.Min, r.Max
	if min == 0 && max == 0 {
		if r.Size == 1 {
			max = 0xFF
		} else {
			max = 0xFFFF
		}
	}
	if v < min || v > max {
		return &RangeError{Register: r.Name, Value: v, Min: min, Max: max}
	}
	return nil
}

// Control table registers for the STS/SCS series.
var (
	RegFirmwareVersion = Register{Name: "firmware_version", Address: 0, Size: 1, ReadOnly: true}
	RegModelNumber     = Register{Name: "model_number", Address: 3, Size: 2, ReadOnly: true}
	RegID              = Register{Name: "id", Address: 5, Size: 1, Max: MaxServoID}
	RegBaudRate        = Register{Name: "baud_rate", Address: 6, Size: 1, Max: 7}
	RegResponseDelay   = Register{Name: "response_delay", Address: 7, Size: 1, Max: 254}
	RegMinAngleLimit   = Register{Name: "min_angle_limit", Address: 9, Size: 2, Max: 4095}
	RegMaxAngleLimit   = Register{Name: "max_angle_limit", Address: 11, Size: 2, Max: 4095}
	RegMaxTemp         = Register{Name: "max_temp", Address: 13, Size: 1, Max: 100}
	RegMaxVoltage      = Register{Name: "max_voltage", Address: 14, Size: 1, Max: 254}
	RegMinVoltage      = Register{Name: "min_voltage", Address: 15, Size: 1, Max: 254}
	RegMaxTorque       = Register{Name: "max_torque", Address: 16, Size: 2, Max: 1000}
	RegOperatingMode   = Register{Name: "operating_mode", Address: 33, Size: 1, Max: 3}

	// RAM registers (volatile)
	RegTorqueEnable = Register{Name: "torque_enable", Address: 40, Size: 1, Max: 1}
	RegAcceleration = Register{Name: "acceleration", Address: 41, Size: 1, Max: 254}
	RegGoalPosition = Register{Name: "goal_position", Address: 42, Size: 2, Max: 4095}
	RegGoalTime     = Register{Name: "goal_time", Address: 44, Size: 2}
	RegGoalVelocity = Register{Name: "goal_velocity", Address: 46, Size: 2, SignBit: 15, Min: -32767, Max: 32767}
	RegTorqueLimit  = Register{Name: "torque_limit", Address: 48, Size: 2, Max: 1000}
	RegLock         = Register{Name: "lock", Address: 55, Size: 1, Max: 1}

	// Feedback registers (read-only)
	RegPresentPosition = Register{Name: "present_position", Address: 56, Size: 2, ReadOnly: true}
	RegPresentVelocity = Register{Name: "present_velocity", Address: 58, Size: 2, ReadOnly: true, SignBit: 15}
	RegPresentLoad     = Register{Name: "present_load", Address: 60, Size: 2, ReadOnly: true, SignBit: 9}
	RegPresentVoltage  = Register{Name: "present_voltage", Address: 62, Size: 1, ReadOnly: true}
	RegPresentTemp     = Register{Name: "present_temp", Address: 63, Size: 1, ReadOnly: true}
	RegServoStatus     = Register{Name: "servo_status", Address: 65, Size: 1, ReadOnly: true}
	RegMoving          = Register{Name: "moving", Address: 66, Size: 1, ReadOnly: true}
	RegPresentCurrent  = Register{Name: "present_current", Address: 69, Size: 2, ReadOnly: true}
)

var registerTable = buildRegisterTable(
	RegFirmwareVersion,
	RegModelNumber,
	RegID,
	RegBaudRate,
	RegResponseDelay,
	RegMinAngleLimit,
	RegMaxAngleLimit,
	RegMaxTemp,
	RegMaxVoltage,
	RegMinVoltage,
	RegMaxTorque,
	RegOperatingMode,
	RegTorqueEnable,
	RegAcceleration,
	RegGoalPosition,
	RegGoalTime,
	RegGoalVelocity,
	RegTorqueLimit,
	RegLock,
	RegPresentPosition,
	RegPresentVelocity,
	RegPresentLoad,
	RegPresentVoltage,
	RegPresentTemp,
	RegServoStatus,
	RegMoving,
	RegPresentCurrent,
)

func buildRegisterTable(regs ...Register) map[string]Register {
	table := make(map[string]Register, len(regs))
	for _, r := range regs {
		table[r.Name] = r
	}
	return table
}

// LookupRegister resolves a register by name.
func LookupRegister(name string) (Register, error) {
	reg, ok := registerTable[name]
	if !ok {
		return Register{}, &UnknownRegisterError{Name: name}
	}
	return reg, nil
}

// RegisterNames returns all register names in sorted order.
func RegisterNames() []string {
	names := make([]string, 0, len(registerTable))
	for name := range registerTable {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Operating modes.
const (
	ModePosition = 0
	ModeWheel    = 1 // continuous rotation
	ModePWM      = 2
	ModeStep     = 3
)

// Sign-magnitude encoding helpers for registers with a SignBit.

func decodeSignMagnitude(value, signBit int) int {
	if signBit == 0 {
		return value
	}

	signMask := 1 << signBit
	if value&signMask != 0 {
		return -(value & (signMask - 1))
	}
	return value
}

func encodeSignMagnitude(value, signBit int) int {
	if signBit == 0 {
		return value
	}

	if value < 0 {
		signMask := 1 << signBit
		return (-value) | signMask
	}
	return value
}
