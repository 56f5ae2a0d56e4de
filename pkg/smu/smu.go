package smu

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/utils/clock"
)

// DriverVersion is reported alongside the firmware versions.
const DriverVersion = "0.1.0"

const opGetVersion = 0x02

// SMU is one handle on the System Management Unit of the local processor.
type SMU interface {
	Init() error
	Cleanup()

	Codename() Codename
	CodenameString() string
	CPUIdentity() CPUIdentity
	InterfaceVersion() InterfaceVersion
	GetFeaturesInfo() FeatureSet

	GetVersion(mb Mailbox) (uint32, error)
	FirmwareVersion() (string, error)

	ReadAddress(address uint32) (uint32, error)
	WriteAddress(address, value uint32) error
	SendCommand(op uint32, args *Args, mb Mailbox) error

	// ReadPMTable copies the PM table into dst and returns its length. If
	// dst is too short it returns the required length together with
	// StatusInsufficientBufferSize.
	ReadPMTable(dst []byte) (int, error)
	PMTableSize() (int, error)
	PMTableVersion() (uint32, error)

	SetUncore(uncore Uncore) error
	SocketPower() (uint32, error)
	SocketPowerLimit() (uint32, error)
	SocketPowerLimitMax() (uint32, error)
	SetSocketPowerLimit(milliwatts uint32) error

	RegisterMetrics(reg prometheus.Registerer) error
}

// smuImpl is the backing object of the SMU interface.
type smuImpl struct {
	conf LibConfig

	// lifecycle guards Init and Cleanup and the fields they set.
	lifecycle sync.Mutex
	codename  Codename
	identity  CPUIdentity

	identitySource IdentitySource
	configSpace    ConfigSpace
	configCloser   io.Closer
	memory         PhysicalMemory

	// hw is set by Init and cleared by Cleanup. Operations load it once
	// and keep using that snapshot.
	hw      atomic.Pointer[hardware]
	pm      pmTable
	clock   clock.Clock
	metrics *metrics

	refreshInterval time.Duration
	pollInterval    time.Duration
	featureStates   FeatureSet
}

// hardware bundles the handles that exist while an instance is initialized.
type hardware struct {
	codename Codename
	topo     *topology
	smn      *smnAccessor
	engine   *mailboxEngine
}

// Option replaces one of the host facilities of an instance.
type Option func(*smuImpl)

func WithConfigSpace(cfg ConfigSpace) Option {
	return func(s *smuImpl) { s.configSpace = cfg }
}

func WithIdentitySource(src IdentitySource) Option {
	return func(s *smuImpl) { s.identitySource = src }
}

func WithPhysicalMemory(mem PhysicalMemory) Option {
	return func(s *smuImpl) { s.memory = mem }
}

func WithClock(c clock.Clock) Option {
	return func(s *smuImpl) { s.clock = c }
}

// New returns an uninitialized instance.
func New(conf LibConfig, opts ...Option) SMU {
	return newSMU(conf, opts...)
}

func newSMU(conf LibConfig, opts ...Option) *smuImpl {
	conf = conf.normalized()
	s := &smuImpl{
		conf:            conf,
		clock:           clock.RealClock{},
		metrics:         newMetrics(),
		refreshInterval: conf.RefreshInterval.Duration,
		pollInterval:    smuPollInterval,
		featureStates:   newFeatureSet(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInstance initializes an instance with the default configuration
// and probes its features.
func CreateInstance() (SMU, error) {
	conf := DefaultConfig()
	conf.ApplyEnv()
	return CreateInstanceWithConf(conf)
}

// CreateInstanceWithConf initializes an instance and probes its features.
// The instance is returned together with the errors of unsupported optional
// features; it is nil only when the MP1 mailbox does not answer.
func CreateInstanceWithConf(conf LibConfig, opts ...Option) (SMU, error) {
	s := newSMU(conf, opts...)
	if err := s.Init(); err != nil {
		return nil, err
	}
	featureErr := s.featureStates.init(s)
	if !s.featureStates.isFeatureIdSupported(MP1MailboxFeature) {
		s.Cleanup()
		return nil, fmt.Errorf("failed to init smu: %w", featureErr)
	}
	return s, featureErr
}

// Init resolves the codename and opens the host devices. Calling it on an
// initialized instance does nothing.
func (s *smuImpl) Init() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.codename != CodenameUndefined {
		return nil
	}

	if s.identitySource == nil {
		s.identitySource = newIdentitySource(s.conf)
	}
	if vendor := s.identitySource.VendorID(); vendor != vendorIDAMD {
		return fmt.Errorf("%w: %q", ErrUnsupportedVendor, vendor)
	}
	id, err := s.identitySource.Identify()
	if err != nil {
		return fmt.Errorf("failed to identify processor: %w", err)
	}
	codename, err := ResolveCodename(id)
	if err != nil {
		return err
	}
	topo, err := lookupTopology(codename)
	if err != nil {
		return err
	}

	if s.configSpace == nil {
		cfg, closer, err := openConfigSpace(s.conf)
		if err != nil {
			return fmt.Errorf("failed to open root complex: %w", err)
		}
		s.configSpace, s.configCloser = cfg, closer
	}
	if s.memory == nil {
		s.memory = newPhysicalMemory(s.conf)
	}

	smn := newSMNAccessor(s.configSpace, s.conf.LockPath)
	s.hw.Store(&hardware{
		codename: codename,
		topo:     topo,
		smn:      smn,
		engine: &mailboxEngine{
			smn:          smn,
			attempts:     s.conf.TimeoutAttempts,
			pollInterval: s.pollInterval,
			clock:        s.clock,
			metrics:      s.metrics,
		},
	})
	s.identity = id
	s.codename = codename

	if loaded := loadedConflictingKmods(s.conf.ModulePath); len(loaded) > 0 {
		log.Info("kernel drivers sharing the smu mailboxes are loaded, commands may collide", "modules", loaded)
	}

	log.Info("smu initialized",
		"codename", codename.String(),
		"cpu", id.String(),
		"mp1InterfaceVersion", topo.mp1IfVer.String(),
		"timeoutAttempts", s.conf.TimeoutAttempts,
		"refreshInterval", s.refreshInterval.String())
	return nil
}

// Cleanup unmaps the PM table, closes the devices it opened and returns the
// instance to its uninitialized state.
func (s *smuImpl) Cleanup() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	// Commands started after this point fail; a PM table read already in
	// flight finishes before release takes the table lock.
	s.hw.Store(nil)
	if err := s.pm.release(); err != nil {
		log.Error(err, "failed to unmap pm table")
	}
	if s.configCloser != nil {
		if err := s.configCloser.Close(); err != nil {
			log.Error(err, "failed to close root complex config space")
		}
		s.configSpace, s.configCloser = nil, nil
	}
	s.identity = CPUIdentity{}
	s.codename = CodenameUndefined
	s.featureStates = newFeatureSet()
}

func (s *smuImpl) checkInit() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.codename == CodenameUndefined {
		return ErrNotInitialized
	}
	return nil
}

// handles returns the hardware snapshot of an initialized instance.
func (s *smuImpl) handles() (*hardware, error) {
	h := s.hw.Load()
	if h == nil {
		return nil, ErrNotInitialized
	}
	return h, nil
}

func (s *smuImpl) Codename() Codename {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.codename
}

func (s *smuImpl) CodenameString() string {
	return s.Codename().String()
}

func (s *smuImpl) CPUIdentity() CPUIdentity {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.identity
}

func (s *smuImpl) InterfaceVersion() InterfaceVersion {
	return InterfaceVersionFor(s.Codename())
}

func (s *smuImpl) GetFeaturesInfo() FeatureSet {
	return s.featureStates
}

// GetVersion returns the firmware version word of a mailbox.
func (s *smuImpl) GetVersion(mb Mailbox) (uint32, error) {
	if err := s.checkInit(); err != nil {
		return 0, err
	}
	args := NewArgs(1)
	if err := s.sendCommand(mb, opGetVersion, &args); err != nil {
		return 0, err
	}
	return args[0], nil
}

// FirmwareVersion returns the MP1 firmware version in dotted form.
func (s *smuImpl) FirmwareVersion() (string, error) {
	v, err := s.GetVersion(MailboxMP1)
	if err != nil {
		return "", err
	}
	return FormatVersion(v), nil
}

// FormatVersion renders a firmware version word. The program byte is only
// shown when non-zero.
func FormatVersion(v uint32) string {
	if v>>24 != 0 {
		return fmt.Sprintf("%d.%d.%d.%d", v>>24, (v>>16)&0xff, (v>>8)&0xff, v&0xff)
	}
	return fmt.Sprintf("%d.%d.%d", (v>>16)&0xff, (v>>8)&0xff, v&0xff)
}

func (s *smuImpl) ReadAddress(address uint32) (uint32, error) {
	h, err := s.handles()
	if err != nil {
		return 0, err
	}
	return h.smn.read(address)
}

func (s *smuImpl) WriteAddress(address, value uint32) error {
	h, err := s.handles()
	if err != nil {
		return err
	}
	return h.smn.write(address, value)
}

// SendCommand issues op on the given mailbox. On success args holds the
// response words.
func (s *smuImpl) SendCommand(op uint32, args *Args, mb Mailbox) error {
	if err := s.checkInit(); err != nil {
		return err
	}
	if args == nil {
		return fmt.Errorf("%w: nil argument block", StatusInvalidArgument)
	}
	return s.sendCommand(mb, op, args)
}

func (s *smuImpl) sendCommand(mb Mailbox, op uint32, args *Args) error {
	h, err := s.handles()
	if err != nil {
		return err
	}
	return h.engine.execute(mb, h.topo.addresses(mb), op, args)
}

func (s *smuImpl) ReadPMTable(dst []byte) (int, error) {
	if err := s.checkInit(); err != nil {
		return 0, err
	}
	n, err := s.pm.read(s, dst)
	s.metrics.observeRead(StatusOf(err))
	return n, err
}

func (s *smuImpl) PMTableSize() (int, error) {
	if err := s.checkInit(); err != nil {
		return 0, err
	}
	return s.pm.size(s)
}

func (s *smuImpl) PMTableVersion() (uint32, error) {
	if err := s.checkInit(); err != nil {
		return 0, err
	}
	return s.pm.tableVersion(s)
}

// RegisterMetrics exposes the instance counters on reg. Collectors that are
// already registered are left alone.
func (s *smuImpl) RegisterMetrics(reg prometheus.Registerer) error {
	if reg == nil {
		return errors.New("nil registerer")
	}
	return s.metrics.register(reg)
}
