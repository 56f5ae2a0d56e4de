package smu

import "fmt"

// Mailbox selects one of the SMU request/response interfaces.
type Mailbox uint8

const (
	MailboxRSMU Mailbox = iota
	MailboxMP1
	MailboxHSMP

	mailboxCount
)

func (m Mailbox) String() string {
	switch m {
	case MailboxRSMU:
		return "rsmu"
	case MailboxMP1:
		return "mp1"
	case MailboxHSMP:
		return "hsmp"
	}
	return fmt.Sprintf("mailbox(%d)", uint8(m))
}

// ParseMailbox accepts the names returned by Mailbox.String.
func ParseMailbox(name string) (Mailbox, error) {
	for m := Mailbox(0); m < mailboxCount; m++ {
		if m.String() == name {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown mailbox %q", StatusInvalidArgument, name)
}

// MailboxAddresses are the SMN addresses of one mailbox. A zero address
// means the mailbox does not exist on the processor.
type MailboxAddresses struct {
	Cmd  uint32
	Rsp  uint32
	Args uint32
}

// IsZero reports whether any register of the mailbox is missing.
func (a MailboxAddresses) IsZero() bool {
	return a.Cmd == 0 || a.Rsp == 0 || a.Args == 0
}

// InterfaceVersion is the MP1 protocol generation.
type InterfaceVersion uint8

const (
	IfVersion9 InterfaceVersion = iota
	IfVersion10
	IfVersion11
	IfVersion12
	IfVersion13

	IfVersionUnknown
)

func (v InterfaceVersion) String() string {
	if v >= IfVersionUnknown {
		return "unknown"
	}
	return fmt.Sprintf("v%d", uint8(v)+9)
}

// transferOp is a table transfer request: opcode plus the value of arg0.
type transferOp struct {
	op   uint32
	arg0 uint32
}

// tableGeometry describes how the PM table size is derived.
type tableGeometry struct {
	// sizeByVersion maps a firmware table version to the table size. When
	// set, the version has to be queried before the size is known.
	sizeByVersion map[uint32]uint32
	// size is used when sizeByVersion is nil.
	size uint32
	// altSize is the size of a second region mapped from the high half of
	// the DRAM base. Zero when the table is contiguous.
	altSize uint32
}

func (g tableGeometry) known() bool {
	return g.sizeByVersion != nil || g.size != 0
}

// topology is everything the instance looks up by codename.
type topology struct {
	rsmu      MailboxAddresses
	mp1       MailboxAddresses
	hsmp      MailboxAddresses
	mp1IfVer  InterfaceVersion
	dramBase  dramBaseStrategy
	transfer  *transferOp
	transfer2 *transferOp
	versionOp uint32
	geometry  tableGeometry
}

func (t *topology) addresses(mb Mailbox) MailboxAddresses {
	switch mb {
	case MailboxRSMU:
		return t.rsmu
	case MailboxMP1:
		return t.mp1
	case MailboxHSMP:
		return t.hsmp
	}
	return MailboxAddresses{}
}

var (
	rsmuZen2   = MailboxAddresses{Cmd: 0x3B10524, Rsp: 0x3B10570, Args: 0x3B10A40}
	rsmuZen    = MailboxAddresses{Cmd: 0x3B1051C, Rsp: 0x3B10568, Args: 0x3B10590}
	rsmuAPU    = MailboxAddresses{Cmd: 0x3B10A20, Rsp: 0x3B10A80, Args: 0x3B10A88}
	hsmpZen2   = MailboxAddresses{Cmd: 0x3B10534, Rsp: 0x3B10980, Args: 0x3B109E0}
	mp1Zen     = MailboxAddresses{Cmd: 0x3B10528, Rsp: 0x3B10564, Args: 0x3B10598}
	mp1APU     = MailboxAddresses{Cmd: 0x3B10528, Rsp: 0x3B10564, Args: 0x3B10998}
	mp1Zen2    = MailboxAddresses{Cmd: 0x3B10530, Rsp: 0x3B1057C, Args: 0x3B109C4}
	mp1Zen3APU = MailboxAddresses{Cmd: 0x3B10528, Rsp: 0x3B10578, Args: 0x3B10998}
	mp1Strix   = MailboxAddresses{Cmd: 0x3B10928, Rsp: 0x3B10978, Args: 0x3B10998}
)

var (
	transferZen     = &transferOp{op: 0x0A}
	transferZen2    = &transferOp{op: 0x05}
	transferZen4    = &transferOp{op: 0x03}
	transferCezanne = &transferOp{op: 0x65}
	transferAPU     = &transferOp{op: 0x65, arg0: 3}
	transferSplit   = &transferOp{op: 0x3D, arg0: 3}
	transferSplit2  = &transferOp{op: 0x3D, arg0: 5}
)

// Sizes are the ones reported by AMD's own tooling for each table version.
var (
	sizesMatisse = map[uint32]uint32{
		0x240902: 0x514,
		0x240903: 0x518,
		0x240802: 0x7E0,
		0x240803: 0x7E4,
	}
	sizesVermeer = map[uint32]uint32{
		0x2D0903: 0x594,
		0x380904: 0x5A4,
		0x380005: 0x1BB0, // 64 cores
		0x380505: 0xF30,  // 32 cores
		0x380605: 0xC10,  // 24 cores
		0x380705: 0x8F0,  // 16 cores
		0x380905: 0x5D0,  // 8 cores
		0x2D0803: 0x894,
		0x380804: 0x8A4,
		0x380805: 0x8F0,
	}
	sizesMilan = map[uint32]uint32{
		0x2D0008: 0x1AB0,
	}
	sizesRenoir = map[uint32]uint32{
		0x370000: 0x794,
		0x370001: 0x884,
		0x370002: 0x88C,
		0x370003: 0x88C,
		0x370004: 0x8AC,
		0x370005: 0x8F0,
	}
	sizesCezanne = map[uint32]uint32{
		0x400005: 0x944,
	}
	sizesRembrandt = map[uint32]uint32{
		0x450004: 0xA44,
		0x450005: 0xA44,
	}
	sizesRaphael = map[uint32]uint32{
		0x540104: 0x6A8,
		0x000400: 0x948,
	}
	sizesPhoenix = map[uint32]uint32{
		0x4C0006: 0xAA0,
		0x4C0007: 0xAA0,
		0x4C0008: 0xAA0,
	}
	sizesHawkPoint = map[uint32]uint32{
		0x4C0008: 0xA00,
	}

	// Raven and Picasso parts expose two tables with fixed sizes.
	geometrySplit = tableGeometry{size: 0x608, altSize: 0xA4}
)

// PMTableMaxSize is the size of the largest known PM table.
const PMTableMaxSize = 0x1BB0

var topologies = map[Codename]topology{
	CodenameColfax: {
		rsmu: rsmuZen, mp1: mp1Zen, mp1IfVer: IfVersion9,
		dramBase: class2{0x0B, 0x0C},
		transfer: transferSplit, transfer2: transferSplit2,
	},
	CodenameNaples: {
		rsmu: rsmuZen, mp1: mp1Zen, mp1IfVer: IfVersion9,
		dramBase: class1{0x0A},
		transfer: transferZen,
	},
	CodenameSummitRidge: {
		rsmu: rsmuZen, mp1: mp1Zen, mp1IfVer: IfVersion9,
		dramBase: class1{0x0A},
		transfer: transferZen,
	},
	CodenameThreadRipper: {
		rsmu: rsmuZen, mp1: mp1Zen, mp1IfVer: IfVersion9,
		dramBase: class1{0x0A},
		transfer: transferZen,
	},
	CodenamePinnacleRidge: {
		rsmu: rsmuZen, mp1: mp1Zen, mp1IfVer: IfVersion9,
		dramBase: class2{0x0B, 0x0C},
		transfer: transferSplit, transfer2: transferSplit2,
	},
	CodenamePicasso: {
		rsmu: rsmuAPU, mp1: mp1APU, mp1IfVer: IfVersion10,
		dramBase: class3{0x0A, 0x3D, 0x0B},
		transfer: transferSplit, transfer2: transferSplit2,
		versionOp: 0x0C,
		geometry:  geometrySplit,
	},
	CodenameRavenRidge: {
		rsmu: rsmuAPU, mp1: mp1APU, mp1IfVer: IfVersion10,
		dramBase: class3{0x0A, 0x3D, 0x0B},
		transfer: transferSplit, transfer2: transferSplit2,
		versionOp: 0x0C,
		geometry:  geometrySplit,
	},
	CodenameRavenRidge2: {
		rsmu: rsmuAPU, mp1: mp1APU, mp1IfVer: IfVersion10,
		dramBase: class3{0x0A, 0x3D, 0x0B},
		transfer: transferSplit, transfer2: transferSplit2,
		geometry: geometrySplit,
	},
	CodenameDali: {
		rsmu: rsmuAPU, mp1: mp1APU, mp1IfVer: IfVersion10,
		dramBase: class3{0x0A, 0x3D, 0x0B},
	},
	CodenameCastlePeak: {
		rsmu: rsmuZen2, hsmp: hsmpZen2, mp1: mp1Zen2, mp1IfVer: IfVersion11,
		dramBase: class1{0x06},
		transfer: transferZen2,
		versionOp: 0x08,
		geometry:  tableGeometry{sizeByVersion: sizesMatisse},
	},
	CodenameMatisse: {
		rsmu: rsmuZen2, hsmp: hsmpZen2, mp1: mp1Zen2, mp1IfVer: IfVersion11,
		dramBase: class1{0x06},
		transfer: transferZen2,
		versionOp: 0x08,
		geometry:  tableGeometry{sizeByVersion: sizesMatisse},
	},
	CodenameVermeer: {
		rsmu: rsmuZen2, hsmp: hsmpZen2, mp1: mp1Zen2, mp1IfVer: IfVersion11,
		dramBase: class1{0x06},
		transfer: transferZen2,
		versionOp: 0x08,
		geometry:  tableGeometry{sizeByVersion: sizesVermeer},
	},
	CodenameChagall: {
		rsmu: rsmuZen2, hsmp: hsmpZen2, mp1: mp1Zen2, mp1IfVer: IfVersion11,
		dramBase: class1{0x06},
		transfer: transferZen2,
		versionOp: 0x08,
		geometry:  tableGeometry{sizeByVersion: sizesVermeer},
	},
	CodenameMilan: {
		rsmu: rsmuZen2, hsmp: hsmpZen2, mp1: mp1Zen2, mp1IfVer: IfVersion11,
		dramBase: class1{0x06},
		transfer: transferZen2,
		versionOp: 0x08,
		geometry:  tableGeometry{sizeByVersion: sizesMilan},
	},
	CodenameRaphael: {
		rsmu: rsmuZen2, hsmp: hsmpZen2, mp1: mp1Zen2, mp1IfVer: IfVersion11,
		dramBase: class1{0x04},
		transfer: transferZen4,
		versionOp: 0x05,
		geometry:  tableGeometry{sizeByVersion: sizesRaphael},
	},
	CodenameGraniteRidge: {
		rsmu: rsmuZen2, hsmp: hsmpZen2, mp1: mp1Zen2, mp1IfVer: IfVersion11,
		dramBase: class1{0x04},
		transfer: transferZen4,
		versionOp: 0x05,
		geometry:  tableGeometry{size: 0x948},
	},
	CodenameRenoir: {
		rsmu: rsmuAPU, mp1: mp1APU, mp1IfVer: IfVersion12,
		dramBase: class1{0x66},
		transfer: transferAPU,
		versionOp: 0x06,
		geometry:  tableGeometry{sizeByVersion: sizesRenoir},
	},
	CodenameLucienne: {
		rsmu: rsmuAPU, mp1: mp1APU, mp1IfVer: IfVersion12,
		dramBase: class1{0x66},
		transfer: transferAPU,
		versionOp: 0x06,
		geometry:  tableGeometry{sizeByVersion: sizesRenoir},
	},
	CodenameCezanne: {
		rsmu: rsmuAPU, mp1: mp1APU, mp1IfVer: IfVersion12,
		dramBase: class1{0x66},
		transfer: transferCezanne,
		versionOp: 0x06,
		geometry:  tableGeometry{sizeByVersion: sizesCezanne},
	},
	CodenameVanGogh: {
		mp1: mp1Zen3APU, mp1IfVer: IfVersion13,
	},
	CodenameRembrandt: {
		rsmu: rsmuAPU, mp1: mp1Zen3APU, mp1IfVer: IfVersion13,
		dramBase: class1{0x66},
		transfer: transferAPU,
		versionOp: 0x06,
		geometry:  tableGeometry{sizeByVersion: sizesRembrandt},
	},
	CodenamePhoenix: {
		rsmu: rsmuAPU, mp1: mp1Zen3APU, mp1IfVer: IfVersion13,
		dramBase: class1{0x66},
		transfer: transferAPU,
		versionOp: 0x06,
		geometry:  tableGeometry{sizeByVersion: sizesPhoenix},
	},
	CodenameHawkPoint: {
		rsmu: rsmuAPU, mp1: mp1Zen3APU, mp1IfVer: IfVersion13,
		dramBase: class1{0x66},
		transfer: transferAPU,
		versionOp: 0x06,
		geometry:  tableGeometry{sizeByVersion: sizesHawkPoint},
	},
	CodenameStrixPoint: {
		rsmu: rsmuAPU, mp1: mp1Strix, mp1IfVer: IfVersion13,
		dramBase: class1{0x66},
		transfer: transferAPU,
		versionOp: 0x06,
		geometry:  tableGeometry{size: 0xAA0},
	},
}

func lookupTopology(c Codename) (*topology, error) {
	t, ok := topologies[c]
	if !ok {
		return nil, fmt.Errorf("%w: no topology for codename %s", StatusUnsupported, c)
	}
	return &t, nil
}

// AddressesFor returns the mailbox addresses of a codename. Missing
// mailboxes yield StatusUnsupported rather than a zero address set.
func AddressesFor(c Codename, mb Mailbox) (MailboxAddresses, error) {
	if mb >= mailboxCount {
		return MailboxAddresses{}, fmt.Errorf("%w: %s", StatusUnsupported, mb)
	}
	t, err := lookupTopology(c)
	if err != nil {
		return MailboxAddresses{}, err
	}
	addrs := t.addresses(mb)
	if addrs.IsZero() {
		return MailboxAddresses{}, fmt.Errorf("%w: %s has no %s mailbox", StatusUnsupported, c, mb)
	}
	return addrs, nil
}

// InterfaceVersionFor returns the MP1 interface generation of a codename.
func InterfaceVersionFor(c Codename) InterfaceVersion {
	t, err := lookupTopology(c)
	if err != nil {
		return IfVersionUnknown
	}
	return t.mp1IfVer
}
