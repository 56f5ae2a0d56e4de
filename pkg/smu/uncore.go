package smu

import "fmt"

const (
	hsmpSetDFPstate      = 0x0D
	hsmpSetDFPstateRange = 0x22
)

type (
	uncoreFreq struct {
		min uint
		max uint
	}
	// Uncore is a DF P-state setting applied through HSMP.
	Uncore interface {
		write(c commander, pkgID uint) error
	}
)

// DF P-states the hardware accepts. P0 is the fastest fabric clock.
var defaultUncore = uncoreFreq{min: 0, max: 2}

func NewUncore(minPstate uint, maxPstate uint) (Uncore, error) {
	const label = "DF P-state"

	if minPstate < defaultUncore.min {
		return nil, fmt.Errorf("requested min %s %d is lower than %d allowed by the hardware", label, minPstate, defaultUncore.min)
	}
	if maxPstate > defaultUncore.max {
		return nil, fmt.Errorf("requested max %s %d is higher than %d allowed by the hardware", label, maxPstate, defaultUncore.max)
	}
	if maxPstate < minPstate {
		return nil, fmt.Errorf("requested max %s %d cannot be lower than min %s %d", label, maxPstate, label, minPstate)
	}
	return &uncoreFreq{min: minPstate, max: maxPstate}, nil
}

// write pins the DF P-state when both bounds agree, which also disables
// APB, and otherwise sets the allowed range.
func (u *uncoreFreq) write(c commander, pkgID uint) error {
	if pkgID != 0 {
		return fmt.Errorf("%w: package %d is not reachable from this root complex", StatusInvalidArgument, pkgID)
	}
	if u.min == u.max {
		args := NewArgs(uint32(u.min))
		if err := c.sendCommand(MailboxHSMP, hsmpSetDFPstate, &args); err != nil {
			return fmt.Errorf("DF Pstate set failed: %w", err)
		}
		return nil
	}
	args := NewArgs(uint32(u.max)<<8 | uint32(u.min))
	if err := c.sendCommand(MailboxHSMP, hsmpSetDFPstateRange, &args); err != nil {
		return fmt.Errorf("DF Pstate range set failed: %w", err)
	}
	return nil
}
