// Binary smuctl talks to the System Management Unit of the local AMD
// processor.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"go.uber.org/zap/zapcore"
	"k8s.io/klog/v2"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/cluster-power-manager/amd-smu/pkg/smu"
)

func main() {
	os.Exit(int(run(context.Background(), flag.CommandLine, os.Args[1:], newGlobalOptions())))
}

// run registers the commands on fs, parses args and executes the selected
// command.
func run(ctx context.Context, fs *flag.FlagSet, args []string, opts *globalOptions) subcommands.ExitStatus {
	opts.setFlags(fs)

	zapOpts := zap.Options{TimeEncoder: zapcore.ISO8601TimeEncoder}
	zapOpts.BindFlags(fs)

	cdr := subcommands.NewCommander(fs, "smuctl")
	register(cdr, opts)

	if err := fs.Parse(args); err != nil {
		return subcommands.ExitUsageError
	}
	setupLogging(&zapOpts)

	return cdr.Execute(ctx)
}

func register(cdr *subcommands.Commander, opts *globalOptions) {
	const (
		helpGroup    = "help"
		infoGroup    = "inspection"
		mailboxGroup = "mailbox"
		clusterGroup = "cluster"
	)
	cdr.Register(cdr.HelpCommand(), helpGroup)
	cdr.Register(cdr.FlagsCommand(), helpGroup)
	cdr.Register(cdr.CommandsCommand(), helpGroup)

	cdr.Register(&Codename{opts: opts}, infoGroup)
	cdr.Register(&Version{opts: opts}, infoGroup)
	cdr.Register(&Features{opts: opts}, infoGroup)
	cdr.Register(&PMTable{opts: opts}, infoGroup)

	cdr.Register(&SMN{opts: opts}, mailboxGroup)
	cdr.Register(&Command{opts: opts}, mailboxGroup)
	cdr.Register(&Uncore{opts: opts}, mailboxGroup)
	cdr.Register(&Power{opts: opts}, mailboxGroup)

	cdr.Register(&PublishNode{opts: opts}, clusterGroup)
	cdr.Register(&ServeMetrics{opts: opts}, clusterGroup)
}

// setupLogging sends the library, client-go and controller-runtime logs to
// one zap sink.
func setupLogging(opts *zap.Options) {
	logger := zap.New(zap.UseFlagOptions(opts), zap.WriteTo(os.Stderr))
	ctrllog.SetLogger(logger)
	klog.SetLogger(logger.WithName("klog"))
	smu.SetLogger(logger.WithName("smu"))
}
