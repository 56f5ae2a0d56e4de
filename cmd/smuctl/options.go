package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/google/subcommands"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/cluster-power-manager/amd-smu/pkg/smu"
)

// globalOptions holds the flags shared by every command.
type globalOptions struct {
	configPath      string
	pciDevice       string
	lockFile        string
	timeoutAttempts uint
	refreshInterval time.Duration

	open       func(conf smu.LibConfig) (smu.SMU, error)
	kubeClient func() (kubernetes.Interface, error)
	stdout     io.Writer
	stderr     io.Writer
}

func newGlobalOptions() *globalOptions {
	return &globalOptions{
		open:       openSMU,
		kubeClient: inClusterClient,
		stdout:     os.Stdout,
		stderr:     os.Stderr,
	}
}

func (o *globalOptions) setFlags(fs *flag.FlagSet) {
	fs.StringVar(&o.configPath, "config", "", "path to a YAML config file")
	fs.StringVar(&o.pciDevice, "pci-device", "", "sysfs directory of the root complex, discovered when empty")
	fs.StringVar(&o.lockFile, "lock-file", "", "file locked around every SMN transaction")
	fs.UintVar(&o.timeoutAttempts, "timeout-attempts", 0, "response register reads before a command times out")
	fs.DurationVar(&o.refreshInterval, "refresh-interval", 0, "minimum interval between PM table transfers")
}

// libConfig layers the config file, the environment and the flags on top of
// the defaults, in that order.
func (o *globalOptions) libConfig() (smu.LibConfig, error) {
	conf := smu.DefaultConfig()
	if o.configPath != "" {
		var err error
		if conf, err = smu.LoadConfigFile(o.configPath); err != nil {
			return conf, err
		}
	}
	conf.ApplyEnv()

	if o.pciDevice != "" {
		conf.PCIDevicePath = o.pciDevice
	}
	if o.lockFile != "" {
		conf.LockPath = o.lockFile
	}
	if o.timeoutAttempts != 0 {
		conf.TimeoutAttempts = uint32(min(o.timeoutAttempts, smu.MaxTimeoutAttempts))
	}
	if o.refreshInterval != 0 {
		conf.RefreshInterval = metav1.Duration{Duration: o.refreshInterval}
	}
	return conf, nil
}

// withSMU opens an instance, hands it to fn and releases it afterwards.
func (o *globalOptions) withSMU(fn func(s smu.SMU) error) subcommands.ExitStatus {
	conf, err := o.libConfig()
	if err != nil {
		return o.failure("%v", err)
	}
	s, err := o.open(conf)
	if err != nil {
		return o.failure("%v", err)
	}
	defer s.Cleanup()

	if err := fn(s); err != nil {
		return o.failure("%v", err)
	}
	return subcommands.ExitSuccess
}

func (o *globalOptions) failure(format string, args ...interface{}) subcommands.ExitStatus {
	fmt.Fprintf(o.stderr, "smuctl: "+format+"\n", args...)
	return subcommands.ExitFailure
}

func (o *globalOptions) printf(format string, args ...interface{}) {
	fmt.Fprintf(o.stdout, format, args...)
}

// openSMU creates an instance and tolerates unsupported optional features.
func openSMU(conf smu.LibConfig) (smu.SMU, error) {
	s, err := smu.CreateInstanceWithConf(conf)
	if s == nil {
		return nil, err
	}
	if err != nil {
		ctrllog.Log.WithName("smuctl").V(1).Info("some features are unavailable", "reason", err.Error())
	}
	return s, nil
}

// parseUint32 accepts decimal, 0x hex and 0 octal notation.
func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q: %w", s, err)
	}
	return uint32(v), nil
}
