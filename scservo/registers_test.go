package scservo

import (
	"errors"
	"sort"
	"testing"
)

func TestLookupRegister(t *testing.T) {
	reg, err := LookupRegister("goal_position")
	if err != nil {
		t.Fatalf("LookupRegister failed: %v", err)
	}
	if reg.Address != 42 || reg.Size != 2 || reg.ReadOnly {
		t.Errorf("goal_position: got %+v", reg)
	}

	_, err = LookupRegister("no_such_register")
	var uerr *UnknownRegisterError
	if !errors.As(err, &uerr) {
		t.Fatalf("got %v, want UnknownRegisterError", err)
	}
	if uerr.Name != "no_such_register" {
		t.Errorf("error name: got %q", uerr.Name)
	}
}

func TestRegisterNames(t *testing.T) {
	names := RegisterNames()
	if len(names) == 0 {
		t.Fatal("no registers")
	}
	if !sort.StringsAreSorted(names) {
		t.Error("names not sorted")
	}

	seen := make(map[string]bool)
	for _, name := range names {
		if seen[name] {
			t.Errorf("duplicate name %q", name)
		}
		seen[name] = true
	}
	if !seen["present_position"] || !seen["torque_enable"] {
		t.Error("expected registers missing")
	}
}

func TestRegister_CheckValue(t *testing.T) {
	tests := []struct {
		name  string
		reg   Register
		value int
		ok    bool
	}{
		{"position in range", RegGoalPosition, 2048, true},
		{"position at max", RegGoalPosition, 4095, true},
		{"position over max", RegGoalPosition, 4096, false},
		{"position negative", RegGoalPosition, -1, false},
		{"velocity negative ok", RegGoalVelocity, -1000, true},
		{"velocity under min", RegGoalVelocity, -40000, false},
		{"id at max", RegID, 253, true},
		{"id over max", RegID, 254, false},
		{"unbounded word", RegGoalTime, 65535, true},
		{"unbounded word over", RegGoalTime, 65536, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.reg.CheckValue(tt.value)
			if tt.ok && err != nil {
				t.Errorf("CheckValue(%d): unexpected error %v", tt.value, err)
			}
			if !tt.ok {
				var rerr *RangeError
				if !errors.As(err, &rerr) {
					t.Errorf("CheckValue(%d): got %v, want RangeError", tt.value, err)
				}
			}
		})
	}
}

func TestSignMagnitude(t *testing.T) {
	tests := []struct {
		value   int
		signBit int
		encoded int
	}{
		{0, 15, 0},
		{100, 15, 100},
		{-100, 15, 100 | 1<<15},
		{-1, 15, 1 | 1<<15},
		{500, 9, 500},
		{-500, 9, 500 | 1<<9},
	}

	for _, tt := range tests {
		if got := encodeSignMagnitude(tt.value, tt.signBit); got != tt.encoded {
			t.Errorf("encode(%d, bit %d): got %#x, want %#x", tt.value, tt.signBit, got, tt.encoded)
		}
		if got := decodeSignMagnitude(tt.encoded, tt.signBit); got != tt.value {
			t.Errorf("decode(%#x, bit %d): got %d, want %d", tt.encoded, tt.signBit, got, tt.value)
		}
	}

	// SignBit 0 passes values through untouched
	if got := decodeSignMagnitude(0x8001, 0); got != 0x8001 {
		t.Errorf("decode with no sign bit: got %#x", got)
	}
}

func TestModelRegistry(t *testing.T) {
	m, ok := GetModelByNumber(777)
	if !ok || m.Name != "sts3215" {
		t.Fatalf("model 777: got %+v, %v", m, ok)
	}

	m, ok = GetModel("scs0009")
	if !ok || m.Number != 9 || m.Protocol != ProtocolSCS {
		t.Fatalf("scs0009: got %+v, %v", m, ok)
	}

	if _, ok := GetModelByNumber(99999); ok {
		t.Error("unknown model number resolved")
	}
}

func TestModel_BaudRates(t *testing.T) {
	if idx := ModelSTS3215.BaudRateIndex(1000000); idx != 0 {
		t.Errorf("1000000: got index %d, want 0", idx)
	}
	if idx := ModelSTS3215.BaudRateIndex(38400); idx != 7 {
		t.Errorf("38400: got index %d, want 7", idx)
	}
	if idx := ModelSTS3215.BaudRateIndex(9600); idx != -1 {
		t.Errorf("unsupported rate: got index %d, want -1", idx)
	}

	if rate := ModelSTS3215.BaudRateAt(0); rate != 1000000 {
		t.Errorf("index 0: got %d", rate)
	}
	if rate := ModelSTS3215.BaudRateAt(99); rate != 0 {
		t.Errorf("out of range index: got %d", rate)
	}
}
