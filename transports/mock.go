package transports

import (
	"io"
	"time"
)

// MockTransport is a scripted Transport for codec-level tests. Where
// MockDevice simulates servos answering commands, MockTransport plays back
// exactly the bytes a test queues in ReadData (or computes in ReadFunc) and
// records everything written, so a test can assert on raw wire images and
// inject transport failures that no simulated servo would produce.
type MockTransport struct {
	// Scripted read side: ReadErr fails every read, otherwise ReadData is
	// consumed; an exhausted script reads as io.EOF.
	ReadData []byte
	ReadErr  error

	// ReadFunc, when set, replaces the scripted read side entirely.
	ReadFunc func(p []byte) (int, error)

	// Write side and lifecycle observations.
	WriteData   []byte
	WriteErr    error
	Closed      bool
	ReadTimeout time.Duration
	Flushed     bool
}

func (m *MockTransport) Read(p []byte) (int, error) {
	if m.ReadFunc != nil {
		return m.ReadFunc(p)
	}
	if m.ReadErr != nil {
		return 0, m.ReadErr
	}

	n := copy(p, m.ReadData)
	m.ReadData = m.ReadData[n:]
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (m *MockTransport) Write(p []byte) (int, error) {
	if m.WriteErr != nil {
		return 0, m.WriteErr
	}
	m.WriteData = append(m.WriteData, p...)
	return len(p), nil
}

func (m *MockTransport) Close() error {
	m.Closed = true
	return nil
}

func (m *MockTransport) SetReadTimeout(timeout time.Duration) error {
	m.ReadTimeout = timeout
	return nil
}

// Flush marks itself but leaves ReadData queued; the scripted bytes stand in
// for a response already in flight, which a flush must not discard.
func (m *MockTransport) Flush() error {
	m.Flushed = true
	return nil
}
