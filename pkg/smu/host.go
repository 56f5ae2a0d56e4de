package smu

const vendorIDAMD = "AuthenticAMD"

// IdentitySource provides the processor identification words the codename is
// resolved from.
type IdentitySource interface {
	VendorID() string
	Identify() (CPUIdentity, error)
}

// PhysicalMemory maps physical address ranges into the process.
type PhysicalMemory interface {
	Map(base uint64, size int) (MappedRegion, error)
}

// MappedRegion is one mapped physical window. Unmap releases it and must be
// called exactly once.
type MappedRegion interface {
	Bytes() []byte
	Unmap() error
}

// Root complex device IDs of vendor 0x1022 that carry the SMN index/data
// pair.
var rootComplexDeviceIDs = map[uint16]struct{}{
	0x1450: {},
	0x15d0: {},
	0x1480: {},
	0x1630: {},
	0x153a: {},
	0x1507: {},
	0x1122: {},
	0x14b5: {},
	0x14a4: {},
	0x14d8: {},
	0x14e8: {},
	0x14bb: {},
	0x14f8: {},
}

const (
	pciVendorAMD       = 0x1022
	preferredPCIDevice = "0000:00:00.0"
)
