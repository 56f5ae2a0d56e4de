package smu

import "fmt"

// commander issues one mailbox command, overwriting args with the response.
type commander interface {
	sendCommand(mb Mailbox, op uint32, args *Args) error
}

// dramBaseStrategy is one of the request shapes firmware uses to report the
// physical address of the PM table. All of them go through RSMU.
type dramBaseStrategy interface {
	resolve(c commander) (uint64, error)
}

// class1 asks once with arg0 = arg1 = 1; the response holds the low and
// high halves of the address.
type class1 struct {
	op uint32
}

func (s class1) resolve(c commander) (uint64, error) {
	args := Args{1, 1}
	if err := c.sendCommand(MailboxRSMU, s.op, &args); err != nil {
		return 0, err
	}
	return uint64(args[0]) | uint64(args[1])<<32, nil
}

// class2 primes with opA and reads the address from opB.
type class2 struct {
	opA, opB uint32
}

func (s class2) resolve(c commander) (uint64, error) {
	args := NewArgs(0)
	if err := c.sendCommand(MailboxRSMU, s.opA, &args); err != nil {
		return 0, err
	}
	args = NewArgs(0)
	if err := c.sendCommand(MailboxRSMU, s.opB, &args); err != nil {
		return 0, err
	}
	return uint64(args[0]), nil
}

// class3 assembles the address from two passes, selector 3 for the low half
// and selector 5 for the high half. Parts using it keep their PM table in
// two separate regions.
type class3 struct {
	opA, opB, opC uint32
}

func (s class3) resolve(c commander) (uint64, error) {
	steps := []struct {
		op  uint32
		sel uint32
	}{
		{s.opA, 3},
		{s.opC, 3},
		{s.opB, 3},
		{s.opA, 5},
		{s.opC, 5},
	}

	var parts [2]uint32
	for i, step := range steps {
		args := NewArgs(step.sel)
		if err := c.sendCommand(MailboxRSMU, step.op, &args); err != nil {
			return 0, err
		}
		switch i {
		case 1:
			parts[0] = args[0]
		case 4:
			parts[1] = args[0]
		}
	}
	return uint64(parts[1])<<32 | uint64(parts[0]), nil
}

// pmGeometry is the resolved placement of the PM table.
type pmGeometry struct {
	base    uint64
	altBase uint64
	size    uint32
	altSize uint32
	version uint32
}

// total is the number of bytes a read produces.
func (g pmGeometry) total() int {
	return int(g.size) + int(g.altSize)
}

// resolveGeometry discovers where the PM table lives and how large it is.
func resolveGeometry(c commander, t *topology) (pmGeometry, error) {
	if t.dramBase == nil {
		return pmGeometry{}, fmt.Errorf("%w: no dram base request", StatusUnsupported)
	}
	base, err := t.dramBase.resolve(c)
	if err != nil {
		return pmGeometry{}, fmt.Errorf("resolving dram base: %w", err)
	}
	if base == 0 {
		return pmGeometry{}, fmt.Errorf("%w: firmware reported a zero dram base", StatusMappingFailed)
	}

	g := pmGeometry{base: base}
	if t.geometry.sizeByVersion != nil {
		g.version, err = queryTableVersion(c, t)
		if err != nil {
			return pmGeometry{}, fmt.Errorf("querying pm table version: %w", err)
		}
	}
	if err := g.applySize(t.geometry); err != nil {
		return pmGeometry{}, err
	}
	return g, nil
}

// applySize fills in the sizes. An unknown table version is rejected: a
// guessed size could read past the region firmware populates.
func (g *pmGeometry) applySize(geo tableGeometry) error {
	if !geo.known() {
		return fmt.Errorf("%w: pm table size unknown", StatusUnsupported)
	}
	if geo.sizeByVersion != nil {
		size, ok := geo.sizeByVersion[g.version]
		if !ok {
			return fmt.Errorf("%w: unknown pm table version 0x%06X", StatusUnsupported, g.version)
		}
		g.size = size
		return nil
	}

	g.size = geo.size
	if geo.altSize != 0 {
		g.altSize = geo.altSize
		g.altBase = g.base >> 32
		g.base &= 0xFFFFFFFF
	}
	return nil
}

func queryTableVersion(c commander, t *topology) (uint32, error) {
	if t.versionOp == 0 {
		return 0, fmt.Errorf("%w: no table version request", StatusUnsupported)
	}
	args := NewArgs(0)
	if err := c.sendCommand(MailboxRSMU, t.versionOp, &args); err != nil {
		return 0, err
	}
	return args[0], nil
}
