package transports

import (
	"errors"
	"strings"
	"testing"
)

func TestOpenSerial_RequiresPort(t *testing.T) {
	_, err := OpenSerial(SerialConfig{})
	if err == nil {
		t.Fatal("expected error for empty port")
	}
}

func TestOpenSerial_MissingDevice(t *testing.T) {
	_, err := OpenSerial(SerialConfig{Port: "/dev/ttyDOESNOTEXIST"})
	var perr *PortError
	if !errors.As(err, &perr) {
		t.Fatalf("got %v, want PortError", err)
	}
	if perr.Port != "/dev/ttyDOESNOTEXIST" {
		t.Errorf("port: got %q", perr.Port)
	}
	if !strings.Contains(perr.Error(), "/dev/ttyDOESNOTEXIST") {
		t.Errorf("message: got %q", perr.Error())
	}
	if errors.Unwrap(perr) == nil {
		t.Error("PortError does not wrap the cause")
	}
}
