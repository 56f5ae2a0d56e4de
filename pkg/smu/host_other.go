//go:build !linux

package smu

import (
	"io"

	"github.com/klauspost/cpuid/v2"
)

// Stubs for platforms without sysfs config space or /dev/mem.

type unsupportedHost struct{}

func openConfigSpace(_ LibConfig) (ConfigSpace, io.Closer, error) {
	return nil, nil, ErrUnsupportedPlatform
}

func newIdentitySource(_ LibConfig) IdentitySource { return unsupportedHost{} }

func newPhysicalMemory(_ LibConfig) PhysicalMemory { return unsupportedHost{} }

func (unsupportedHost) VendorID() string { return cpuid.CPU.VendorString }

func (unsupportedHost) Identify() (CPUIdentity, error) {
	return CPUIdentity{}, ErrUnsupportedPlatform
}

func (unsupportedHost) Map(_ uint64, _ int) (MappedRegion, error) {
	return nil, ErrUnsupportedPlatform
}
