package smu

import (
	"fmt"
	"sync"

	"github.com/gofrs/flock"
)

// ConfigSpace reads and writes 32-bit words of the root complex PCI
// configuration space.
type ConfigSpace interface {
	ReadConfig32(offset uint32) (uint32, error)
	WriteConfig32(offset uint32, value uint32) error
}

// Index/data pair giving access to the SMN address space. 0x60/0x64 and
// 0xB4/0xB8 work as well on most parts.
const (
	smnAddrReg = 0xC4
	smnDataReg = 0xC8
)

// smnAccessor serializes SMN transactions. Programming the address register
// and touching the data register must never interleave with another caller,
// whatever address that caller targets.
type smnAccessor struct {
	mu  sync.Mutex
	cfg ConfigSpace
	// fileLock, when set, extends the exclusion to other processes.
	fileLock *flock.Flock
}

func newSMNAccessor(cfg ConfigSpace, lockPath string) *smnAccessor {
	s := &smnAccessor{cfg: cfg}
	if lockPath != "" {
		s.fileLock = flock.New(lockPath)
	}
	return s
}

func (s *smnAccessor) read(address uint32) (uint32, error) {
	var value uint32
	err := s.transact(address, &value, false)
	return value, err
}

func (s *smnAccessor) write(address, value uint32) error {
	return s.transact(address, &value, true)
}

func (s *smnAccessor) transact(address uint32, value *uint32, write bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fileLock != nil {
		if err := s.fileLock.Lock(); err != nil {
			return busError("locking", address, fmt.Errorf("%s: %w", s.fileLock.Path(), err))
		}
		defer func() {
			if err := s.fileLock.Unlock(); err != nil {
				log.Error(err, "failed to release smn lock file", "path", s.fileLock.Path())
			}
		}()
	}

	if err := s.cfg.WriteConfig32(smnAddrReg, address); err != nil {
		log.V(1).Info("error programming smn address", "address", fmt.Sprintf("0x%X", address), "error", err.Error())
		return busError("programming", address, err)
	}
	if write {
		if err := s.cfg.WriteConfig32(smnDataReg, *value); err != nil {
			log.V(1).Info("error writing smn address", "address", fmt.Sprintf("0x%X", address), "error", err.Error())
			return busError("writing", address, err)
		}
		return nil
	}
	v, err := s.cfg.ReadConfig32(smnDataReg)
	if err != nil {
		log.V(1).Info("error reading smn address", "address", fmt.Sprintf("0x%X", address), "error", err.Error())
		return busError("reading", address, err)
	}
	*value = v
	return nil
}
