package scservo

import (
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Trace directions.
const (
	TraceTX = "tx"
	TraceRX = "rx"
)

// TraceRecord is one bus event: a packet written to the line, bytes read
// back, or a failed turnaround. Records are appended to the trace writer as
// a CBOR stream so captures stay compact and replayable offline.
type TraceRecord struct {
	Time time.Time `cbor:"1,keyasint"`
	Dir  string    `cbor:"2,keyasint"`
	Data []byte    `cbor:"3,keyasint,omitempty"`
	Err  string    `cbor:"4,keyasint,omitempty"`
}

// Trace records bus traffic. A nil *Trace is a no-op, so the bus can carry
// one unconditionally.
type Trace struct {
	mu  sync.Mutex
	enc *cbor.Encoder
}

// NewTrace creates a trace that appends CBOR records to w.
func NewTrace(w io.Writer) *Trace {
	return &Trace{enc: cbor.NewEncoder(w)}
}

func (t *Trace) record(dir string, data []byte, err error) {
	if t == nil {
		return
	}

	rec := TraceRecord{
		Time: time.Now(),
		Dir:  dir,
	}
	if len(data) > 0 {
		rec.Data = make([]byte, len(data))
		copy(rec.Data, data)
	}
	if err != nil {
		rec.Err = err.Error()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.enc.Encode(rec)
}

// ReadTrace decodes all records from a CBOR trace stream.
func ReadTrace(r io.Reader) ([]TraceRecord, error) {
	dec := cbor.NewDecoder(r)

	var records []TraceRecord
	for {
		var rec TraceRecord
		if err := dec.Decode(&rec); err != nil {
			if err == io.EOF {
				return records, nil
			}
			return records, err
		}
		records = append(records, rec)
	}
}
