package smu

import "fmt"

// HSMP message IDs. Power values are in milliwatts.
const (
	hsmpGetSocketPower         = 0x04
	hsmpSetSocketPowerLimit    = 0x05
	hsmpGetSocketPowerLimit    = 0x06
	hsmpGetSocketPowerLimitMax = 0x07
)

// SetUncore applies a DF P-state range. Processors without an HSMP mailbox
// report StatusUnsupported, as the other HSMP requests do.
func (s *smuImpl) SetUncore(uncore Uncore) error {
	if err := s.checkInit(); err != nil {
		return err
	}
	return uncore.write(s, 0)
}

func (s *smuImpl) SocketPower() (uint32, error) {
	return s.hsmpRead(hsmpGetSocketPower)
}

func (s *smuImpl) SocketPowerLimit() (uint32, error) {
	return s.hsmpRead(hsmpGetSocketPowerLimit)
}

func (s *smuImpl) SocketPowerLimitMax() (uint32, error) {
	return s.hsmpRead(hsmpGetSocketPowerLimitMax)
}

// SetSocketPowerLimit sets the socket power cap. Requests above the
// platform maximum are lowered to it.
func (s *smuImpl) SetSocketPowerLimit(milliwatts uint32) error {
	limit, err := s.SocketPowerLimitMax()
	if err != nil {
		return fmt.Errorf("failed to get max socket power limit: %w", err)
	}
	if milliwatts > limit {
		log.Info("requested socket power limit exceeds the maximum, clamping",
			"requested", milliwatts, "max", limit)
		milliwatts = limit
	}
	args := NewArgs(milliwatts)
	if err := s.sendCommand(MailboxHSMP, hsmpSetSocketPowerLimit, &args); err != nil {
		return fmt.Errorf("failed to set socket power limit: %w", err)
	}
	log.Info("socket power limit set", "milliwatts", milliwatts)
	return nil
}

func (s *smuImpl) hsmpRead(op uint32) (uint32, error) {
	if err := s.checkInit(); err != nil {
		return 0, err
	}
	args := NewArgs(0)
	if err := s.sendCommand(MailboxHSMP, op, &args); err != nil {
		return 0, err
	}
	return args[0], nil
}
