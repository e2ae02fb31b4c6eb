package scservo

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrTimeout          = errors.New("communication timeout")
	ErrNoResponse       = errors.New("no response from servo")
	ErrFraming          = errors.New("no valid packet header found")
	ErrBusClosed        = errors.New("bus is closed")
	ErrInvalidID        = errors.New("invalid servo ID")
	ErrBroadcastRead    = errors.New("broadcast ID cannot be used for reads")
	ErrNotConnected     = errors.New("client is not connected")
	ErrAlreadyConnected = errors.New("client is already connected")
)

// ChecksumError reports a packet whose trailing checksum byte does not match
// the checksum computed over its contents. The packet is never partially
// trusted; callers treat this as bus noise and retry.
type ChecksumError struct {
	Expected byte
	Got      byte
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected 0x%02X, got 0x%02X", e.Expected, e.Got)
}

// ProtocolError reports a response whose ID does not match the servo that was
// addressed. This indicates a misrouted or stale response (or a second writer
// on the bus) and is never retried.
type ProtocolError struct {
	WantID byte
	GotID  byte
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("response ID mismatch: addressed servo %d, got response from %d", e.WantID, e.GotID)
}

// UnknownRegisterError reports a register name with no entry in the register
// table. Rejected before any bus traffic.
type UnknownRegisterError struct {
	Name string
}

func (e *UnknownRegisterError) Error() string {
	return fmt.Sprintf("unknown register: %q", e.Name)
}

// RangeError reports a value outside a register's declared valid range.
// Rejected before any bus traffic.
type RangeError struct {
	Register string
	Value    int
	Min      int
	Max      int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("value %d out of range for register %q (valid %d to %d)", e.Value, e.Register, e.Min, e.Max)
}

// ServoFault carries error flags reported by a servo in its status packet.
// A read that returns a fault still carries the parameter payload; the caller
// decides whether the fault blocks use of the value.
type ServoFault struct {
	ID     int
	Op     string
	Status StatusError
}

func (e *ServoFault) Error() string {
	return fmt.Sprintf("servo %d %s: %s", e.ID, e.Op, e.Status.Error())
}

func (e *ServoFault) Unwrap() error {
	return e.Status
}

// CommError represents a transport-level failure during an operation.
type CommError struct {
	Op  string
	Err error
}

func (e *CommError) Error() string {
	return fmt.Sprintf("communication error during %s: %v", e.Op, e.Err)
}

func (e *CommError) Unwrap() error {
	return e.Err
}

// IsTimeout returns true if the error is a timeout error.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsNoResponse returns true if the error indicates no response was received.
func IsNoResponse(err error) bool {
	return errors.Is(err, ErrNoResponse)
}

// AsServoFault extracts a ServoFault from an error chain, if present.
func AsServoFault(err error) (*ServoFault, bool) {
	var fault *ServoFault
	if errors.As(err, &fault) {
		return fault, true
	}
	return nil, false
}

// isTransient reports whether an error is bus noise worth retrying with the
// same packet: a missed turnaround, corrupted bytes, or a dropped response.
func isTransient(err error) bool {
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrNoResponse) || errors.Is(err, ErrFraming) {
		return true
	}
	var ce *ChecksumError
	return errors.As(err, &ce)
}
