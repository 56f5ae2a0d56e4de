package smu

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"
)

const (
	DefaultTimeoutAttempts = 8192
	MinTimeoutAttempts     = 500
	MaxTimeoutAttempts     = 32768

	DefaultRefreshInterval = time.Second
	MinRefreshInterval     = time.Millisecond
	MaxRefreshInterval     = 10 * time.Second

	EnvTimeoutAttempts = "SMU_TIMEOUT_ATTEMPTS"
	EnvRefreshInterval = "SMU_PM_REFRESH_INTERVAL"
)

// LibConfig holds the device paths and tunables of an instance. Zero values
// select the defaults.
type LibConfig struct {
	// PCIDevicePath is the sysfs directory of the root complex. Discovered
	// when empty.
	PCIDevicePath string `json:"pciDevicePath,omitempty"`
	CPUIDPath     string `json:"cpuidPath,omitempty"`
	MemPath       string `json:"memPath,omitempty"`
	ModulePath    string `json:"modulePath,omitempty"`
	// LockPath, when set, names a file locked around every SMN transaction
	// so that several processes can share the register pair.
	LockPath string `json:"lockPath,omitempty"`

	TimeoutAttempts uint32          `json:"timeoutAttempts,omitempty"`
	RefreshInterval metav1.Duration `json:"refreshInterval,omitempty"`
}

func DefaultConfig() LibConfig {
	return LibConfig{
		CPUIDPath:       "/dev/cpu/0/cpuid",
		MemPath:         "/dev/mem",
		ModulePath:      kernelModulesFilePath,
		TimeoutAttempts: DefaultTimeoutAttempts,
		RefreshInterval: metav1.Duration{Duration: DefaultRefreshInterval},
	}
}

// LoadConfigFile reads a YAML config on top of the defaults.
func LoadConfigFile(path string) (LibConfig, error) {
	conf := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return conf, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, &conf); err != nil {
		return conf, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return conf, nil
}

// ApplyEnv overrides the tunables from the environment. Values that do not
// parse are ignored; values that parse are clamped into range, zero
// included. The refresh interval accepts a duration or a plain number of
// milliseconds.
func (c *LibConfig) ApplyEnv() {
	if v, ok := os.LookupEnv(EnvTimeoutAttempts); ok {
		n, err := parseInt(v)
		if err != nil {
			log.Info("ignoring malformed environment value", "variable", EnvTimeoutAttempts, "value", v)
		} else {
			c.TimeoutAttempts = boundAttempts(n)
		}
	}
	if v, ok := os.LookupEnv(EnvRefreshInterval); ok {
		d, err := parseInterval(v)
		if err != nil {
			log.Info("ignoring malformed environment value", "variable", EnvRefreshInterval, "value", v)
		} else {
			c.RefreshInterval = metav1.Duration{Duration: boundInterval(d)}
		}
	}
}

// parseInt reads a signed decimal. Values beyond the int64 range saturate.
func parseInt(v string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if errors.Is(err, strconv.ErrRange) {
		return n, nil
	}
	return n, err
}

func parseInterval(v string) (time.Duration, error) {
	if ms, err := parseInt(v); err == nil {
		const maxMillis = int64(MaxRefreshInterval / time.Millisecond)
		switch {
		case ms > maxMillis:
			ms = maxMillis + 1
		case ms < 0:
			ms = -1
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(strings.TrimSpace(v))
}

// normalized fills in defaults and clamps the tunables into range.
func (c LibConfig) normalized() LibConfig {
	def := DefaultConfig()
	if c.CPUIDPath == "" {
		c.CPUIDPath = def.CPUIDPath
	}
	if c.MemPath == "" {
		c.MemPath = def.MemPath
	}
	if c.ModulePath == "" {
		c.ModulePath = def.ModulePath
	}
	c.TimeoutAttempts = clampAttempts(c.TimeoutAttempts)
	c.RefreshInterval.Duration = clampInterval(c.RefreshInterval.Duration)
	return c
}

// clampAttempts maps an unset field to the default and bounds the rest.
func clampAttempts(n uint32) uint32 {
	if n == 0 {
		return DefaultTimeoutAttempts
	}
	return boundAttempts(int64(n))
}

func boundAttempts(n int64) uint32 {
	switch {
	case n < MinTimeoutAttempts:
		return MinTimeoutAttempts
	case n > MaxTimeoutAttempts:
		return MaxTimeoutAttempts
	}
	return uint32(n)
}

func clampInterval(d time.Duration) time.Duration {
	if d == 0 {
		return DefaultRefreshInterval
	}
	return boundInterval(d)
}

func boundInterval(d time.Duration) time.Duration {
	switch {
	case d < MinRefreshInterval:
		return MinRefreshInterval
	case d > MaxRefreshInterval:
		return MaxRefreshInterval
	}
	return d
}
