package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/cluster-power-manager/amd-smu/pkg/smu"
)

// SMN implements subcommands.Command for the "smn" command.
type SMN struct {
	opts *globalOptions
}

// Name implements subcommands.Command.Name.
func (*SMN) Name() string {
	return "smn"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*SMN) Synopsis() string {
	return "read or write a raw SMN register"
}

// Usage implements subcommands.Command.Usage.
func (*SMN) Usage() string {
	return `smn read ADDR
smn write ADDR VALUE
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*SMN) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (c *SMN) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	switch {
	case f.NArg() == 2 && f.Arg(0) == "read":
	case f.NArg() == 3 && f.Arg(0) == "write":
	default:
		f.Usage()
		return subcommands.ExitUsageError
	}
	address, err := parseUint32(f.Arg(1))
	if err != nil {
		return c.opts.failure("%v", err)
	}
	var value uint32
	if f.Arg(0) == "write" {
		if value, err = parseUint32(f.Arg(2)); err != nil {
			return c.opts.failure("%v", err)
		}
	}

	return c.opts.withSMU(func(s smu.SMU) error {
		if f.Arg(0) == "write" {
			return s.WriteAddress(address, value)
		}
		v, err := s.ReadAddress(address)
		if err != nil {
			return err
		}
		c.opts.printf("0x%08X\n", v)
		return nil
	})
}

// Command implements subcommands.Command for the "command" command.
type Command struct {
	opts    *globalOptions
	mailbox string
}

// Name implements subcommands.Command.Name.
func (*Command) Name() string {
	return "command"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Command) Synopsis() string {
	return "send a raw command to an SMU mailbox"
}

// Usage implements subcommands.Command.Usage.
func (*Command) Usage() string {
	return fmt.Sprintf(`command [--mailbox=rsmu|mp1|hsmp] OP [ARG...]

Sends OP with up to %d argument words and prints the response words.
`, smu.MaxArgs)
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Command) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.mailbox, "mailbox", "rsmu", "mailbox to send the command to")
}

// Execute implements subcommands.Command.Execute.
func (c *Command) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() < 1 || f.NArg() > 1+smu.MaxArgs {
		f.Usage()
		return subcommands.ExitUsageError
	}
	mb, err := smu.ParseMailbox(c.mailbox)
	if err != nil {
		return c.opts.failure("%v", err)
	}
	op, err := parseUint32(f.Arg(0))
	if err != nil {
		return c.opts.failure("%v", err)
	}
	var args smu.Args
	for i, a := range f.Args()[1:] {
		if args[i], err = parseUint32(a); err != nil {
			return c.opts.failure("%v", err)
		}
	}

	return c.opts.withSMU(func(s smu.SMU) error {
		if err := s.SendCommand(op, &args, mb); err != nil {
			return fmt.Errorf("command 0x%X on %s failed: %w", op, mb, err)
		}
		for i := range args {
			c.opts.printf("arg%d: 0x%08X %g\n", i, args[i], args.Float32(i))
		}
		return nil
	})
}

// Uncore implements subcommands.Command for the "uncore" command.
type Uncore struct {
	opts *globalOptions
	min  uint
	max  uint
}

// Name implements subcommands.Command.Name.
func (*Uncore) Name() string {
	return "uncore"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Uncore) Synopsis() string {
	return "limit the data fabric P-state range"
}

// Usage implements subcommands.Command.Usage.
func (*Uncore) Usage() string {
	return `uncore --min N --max N

Equal bounds pin the data fabric to one P-state.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (u *Uncore) SetFlags(f *flag.FlagSet) {
	f.UintVar(&u.min, "min", 0, "lowest DF P-state index")
	f.UintVar(&u.max, "max", 2, "highest DF P-state index")
}

// Execute implements subcommands.Command.Execute.
func (u *Uncore) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	uncore, err := smu.NewUncore(u.min, u.max)
	if err != nil {
		return u.opts.failure("%v", err)
	}
	return u.opts.withSMU(func(s smu.SMU) error {
		return s.SetUncore(uncore)
	})
}

// Power implements subcommands.Command for the "power" command.
type Power struct {
	opts     *globalOptions
	setLimit uint
}

// Name implements subcommands.Command.Name.
func (*Power) Name() string {
	return "power"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Power) Synopsis() string {
	return "show socket power and limits, optionally set the limit"
}

// Usage implements subcommands.Command.Usage.
func (*Power) Usage() string {
	return "power [--set-limit mW]\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (p *Power) SetFlags(f *flag.FlagSet) {
	f.UintVar(&p.setLimit, "set-limit", 0, "socket power limit in milliwatts")
}

// Execute implements subcommands.Command.Execute.
func (p *Power) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	return p.opts.withSMU(func(s smu.SMU) error {
		if p.setLimit != 0 {
			if err := s.SetSocketPowerLimit(uint32(p.setLimit)); err != nil {
				return err
			}
		}
		power, err := s.SocketPower()
		if err != nil {
			return err
		}
		limit, err := s.SocketPowerLimit()
		if err != nil {
			return err
		}
		limitMax, err := s.SocketPowerLimitMax()
		if err != nil {
			return err
		}
		p.opts.printf("power:     %d mW\n", power)
		p.opts.printf("limit:     %d mW\n", limit)
		p.opts.printf("max limit: %d mW\n", limitMax)
		return nil
	})
}
