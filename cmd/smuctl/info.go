package main

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"flag"
	"fmt"
	"math"
	"os"

	"github.com/google/subcommands"

	"github.com/cluster-power-manager/amd-smu/pkg/smu"
)

// Codename implements subcommands.Command for the "codename" command.
type Codename struct {
	opts *globalOptions
}

// Name implements subcommands.Command.Name.
func (*Codename) Name() string {
	return "codename"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Codename) Synopsis() string {
	return "print the processor codename and MP1 interface version"
}

// Usage implements subcommands.Command.Usage.
func (*Codename) Usage() string {
	return "codename\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Codename) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (c *Codename) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	return c.opts.withSMU(func(s smu.SMU) error {
		id := s.CPUIdentity()
		c.opts.printf("codename:      %s\n", s.CodenameString())
		c.opts.printf("family:        0x%X\n", id.Family)
		c.opts.printf("model:         0x%X\n", id.Model)
		c.opts.printf("package type:  %d\n", id.PkgType)
		c.opts.printf("mp1 interface: %s\n", s.InterfaceVersion())
		return nil
	})
}

// Version implements subcommands.Command for the "version" command.
type Version struct {
	opts    *globalOptions
	mailbox string
}

// Name implements subcommands.Command.Name.
func (*Version) Name() string {
	return "version"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Version) Synopsis() string {
	return "print the SMU firmware version"
}

// Usage implements subcommands.Command.Usage.
func (*Version) Usage() string {
	return `version [--mailbox=mp1|rsmu|hsmp]

Without --mailbox the MP1 firmware version is printed.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (v *Version) SetFlags(f *flag.FlagSet) {
	f.StringVar(&v.mailbox, "mailbox", "", "mailbox to query")
}

// Execute implements subcommands.Command.Execute.
func (v *Version) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	var mb smu.Mailbox
	if v.mailbox != "" {
		var err error
		if mb, err = smu.ParseMailbox(v.mailbox); err != nil {
			return v.opts.failure("%v", err)
		}
	}
	return v.opts.withSMU(func(s smu.SMU) error {
		if v.mailbox == "" {
			version, err := s.FirmwareVersion()
			if err != nil {
				return err
			}
			v.opts.printf("%s\n", version)
			return nil
		}
		raw, err := s.GetVersion(mb)
		if err != nil {
			return err
		}
		v.opts.printf("%s\n", smu.FormatVersion(raw))
		return nil
	})
}

// Features implements subcommands.Command for the "features" command.
type Features struct {
	opts *globalOptions
}

// Name implements subcommands.Command.Name.
func (*Features) Name() string {
	return "features"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Features) Synopsis() string {
	return "list the facilities that work on this machine"
}

// Usage implements subcommands.Command.Usage.
func (*Features) Usage() string {
	return "features\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Features) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (c *Features) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	return c.opts.withSMU(func(s smu.SMU) error {
		c.opts.printf("driver %s\n", smu.DriverVersion)
		c.opts.printf("%s", s.GetFeaturesInfo())
		return nil
	})
}

// PMTable implements subcommands.Command for the "pmtable" command.
type PMTable struct {
	opts   *globalOptions
	out    string
	floats bool
}

// Name implements subcommands.Command.Name.
func (*PMTable) Name() string {
	return "pmtable"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*PMTable) Synopsis() string {
	return "read the power management table"
}

// Usage implements subcommands.Command.Usage.
func (*PMTable) Usage() string {
	return `pmtable [--out FILE] [--floats]

Prints a hex dump of the PM table, or the table as float32 values with
--floats. With --out the raw table is written to FILE instead.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (p *PMTable) SetFlags(f *flag.FlagSet) {
	f.StringVar(&p.out, "out", "", "write the raw table to this file")
	f.BoolVar(&p.floats, "floats", false, "print the table as float32 values")
}

// Execute implements subcommands.Command.Execute.
func (p *PMTable) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	return p.opts.withSMU(func(s smu.SMU) error {
		size, err := s.PMTableSize()
		if err != nil {
			return err
		}
		buf := make([]byte, size)
		n, err := s.ReadPMTable(buf)
		if err != nil {
			return err
		}
		buf = buf[:n]

		switch {
		case p.out != "":
			if err := os.WriteFile(p.out, buf, 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", p.out, err)
			}
		case p.floats:
			for i := 0; i+4 <= len(buf); i += 4 {
				v := math.Float32frombits(binary.LittleEndian.Uint32(buf[i:]))
				p.opts.printf("0x%04X %g\n", i, v)
			}
		default:
			p.opts.printf("%s", hex.Dump(buf))
		}
		return nil
	})
}
