package scservo

import (
	"io"
	"time"
)

// Transport is the interface for low-level byte transfer with the servo bus.
// The bus never assumes buffered or line-delimited reads; partial reads are
// tolerated and frames are reassembled above this interface.
type Transport interface {
	io.ReadWriteCloser

	// SetReadTimeout sets the read timeout duration.
	SetReadTimeout(timeout time.Duration) error

	// Flush discards any buffered input data.
	Flush() error
}
