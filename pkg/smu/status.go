package smu

import (
	"errors"
	"fmt"
)

// Status is the outcome of an SMU operation. Values 0xFC..0xFF and 0x01 are
// produced by firmware, the rest are synthesized by this package. Any other
// value read from a response register is passed through unchanged.
type Status uint32

const (
	StatusOK                   Status = 0x01
	StatusFailed               Status = 0xFF
	StatusUnknownCommand       Status = 0xFE
	StatusRejectedPrerequisite Status = 0xFD
	StatusRejectedBusy         Status = 0xFC

	StatusTimeout                Status = 0xFB
	StatusInvalidArgument        Status = 0xFA
	StatusUnsupported            Status = 0xF9
	StatusInsufficientBufferSize Status = 0xF8
	StatusMappingFailed          Status = 0xF7
	StatusBusAccessFailed        Status = 0xF6
)

var statusNames = map[Status]string{
	StatusOK:                     "ok",
	StatusFailed:                 "failed",
	StatusUnknownCommand:         "unknown command",
	StatusRejectedPrerequisite:   "command rejected: prerequisite unmet",
	StatusRejectedBusy:           "command rejected: busy",
	StatusTimeout:                "command timed out",
	StatusInvalidArgument:        "invalid argument",
	StatusUnsupported:            "unsupported",
	StatusInsufficientBufferSize: "insufficient buffer size",
	StatusMappingFailed:          "physical memory mapping failed",
	StatusBusAccessFailed:        "bus access failed",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("firmware response 0x%X", uint32(s))
}

func (s Status) Error() string {
	return "smu: " + s.String()
}

// Synthetic reports whether the status is generated locally rather than
// read back from firmware.
func (s Status) Synthetic() bool {
	switch s {
	case StatusTimeout, StatusInvalidArgument, StatusUnsupported,
		StatusInsufficientBufferSize, StatusMappingFailed, StatusBusAccessFailed:
		return true
	}
	return false
}

// StatusOf maps an error returned by this package back to its Status.
// nil maps to StatusOK and errors carrying no Status map to StatusFailed.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var s Status
	if errors.As(err, &s) {
		return s
	}
	return StatusFailed
}

var (
	ErrUnknownCPU          = errors.New("unknown processor")
	ErrUnsupportedVendor   = errors.New("processor vendor is not AMD")
	ErrNotInitialized      = errors.New("smu not initialized")
	ErrUnsupportedPlatform = errors.New("smu access is only supported on linux")
	ErrNoRootComplex       = errors.New("no supported AMD root complex found")
)

// busError marks a failed register transaction while keeping the host error.
func busError(op string, address uint32, err error) error {
	return fmt.Errorf("%w: %s 0x%X: %w", StatusBusAccessFailed, op, address, err)
}
