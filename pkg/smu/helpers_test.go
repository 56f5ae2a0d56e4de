package smu

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"
)

// firmwareHandler computes the response of one opcode in place.
type firmwareHandler func(args *Args) Status

// fakeFirmware emulates the SMN index/data pair and the mailboxes behind it.
// A write to a command register runs the handler registered for the opcode
// and posts its status to the response register.
type fakeFirmware struct {
	mu        sync.Mutex
	addrReg   uint32
	regs      map[uint32]uint32
	mailboxes map[uint32]*fakeMailbox

	configReads  int
	configWrites int
	// reads counts data register reads per SMN address.
	reads map[uint32]int
	// failRead makes data register reads of this SMN address fail.
	failRead uint32
}

type fakeMailbox struct {
	addrs    MailboxAddresses
	handlers map[uint32]firmwareHandler
	calls    []uint32
	// busyReads is the number of response register reads that see zero
	// after each command.
	busyReads int
	pending   int
}

var errFakeBus = errors.New("config space gone")

func newFakeFirmware() *fakeFirmware {
	return &fakeFirmware{
		regs:      map[uint32]uint32{},
		mailboxes: map[uint32]*fakeMailbox{},
		reads:     map[uint32]int{},
	}
}

// attach installs a mailbox in the idle state.
func (f *fakeFirmware) attach(addrs MailboxAddresses, handlers map[uint32]firmwareHandler) *fakeMailbox {
	f.mu.Lock()
	defer f.mu.Unlock()
	mb := &fakeMailbox{addrs: addrs, handlers: handlers}
	f.mailboxes[addrs.Cmd] = mb
	f.regs[addrs.Rsp] = uint32(StatusOK)
	return mb
}

func (f *fakeFirmware) ReadConfig32(offset uint32) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configReads++
	if offset != smnDataReg {
		return 0, nil
	}
	f.reads[f.addrReg]++
	if f.failRead != 0 && f.addrReg == f.failRead {
		return 0, errFakeBus
	}
	for _, mb := range f.mailboxes {
		if mb.addrs.Rsp == f.addrReg && mb.pending > 0 {
			mb.pending--
			return 0, nil
		}
	}
	return f.regs[f.addrReg], nil
}

func (f *fakeFirmware) WriteConfig32(offset uint32, value uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configWrites++
	switch offset {
	case smnAddrReg:
		f.addrReg = value
	case smnDataReg:
		f.regs[f.addrReg] = value
		if mb, ok := f.mailboxes[f.addrReg]; ok {
			f.service(mb, value)
		}
	}
	return nil
}

func (f *fakeFirmware) service(mb *fakeMailbox, op uint32) {
	mb.calls = append(mb.calls, op)
	mb.pending = mb.busyReads
	handler, ok := mb.handlers[op]
	if !ok {
		f.regs[mb.addrs.Rsp] = uint32(StatusUnknownCommand)
		return
	}
	var args Args
	for i := range args {
		args[i] = f.regs[mb.addrs.Args+uint32(i)*4]
	}
	status := handler(&args)
	for i, v := range args {
		f.regs[mb.addrs.Args+uint32(i)*4] = v
	}
	f.regs[mb.addrs.Rsp] = uint32(status)
}

func (f *fakeFirmware) readsOf(address uint32) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads[address]
}

func (f *fakeFirmware) registerOps() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configReads + f.configWrites
}

func (mb *fakeMailbox) count(op uint32) int {
	n := 0
	for _, c := range mb.calls {
		if c == op {
			n++
		}
	}
	return n
}

func reply(words ...uint32) firmwareHandler {
	return func(args *Args) Status {
		*args = Args{}
		copy(args[:], words)
		return StatusOK
	}
}

func ack(args *Args) Status {
	return StatusOK
}

type fakeIdentity struct {
	vendor string
	id     CPUIdentity
	err    error
}

func (f fakeIdentity) VendorID() string {
	return f.vendor
}

func (f fakeIdentity) Identify() (CPUIdentity, error) {
	return f.id, f.err
}

func amdIdentity(family, model, pkgType uint32) fakeIdentity {
	return fakeIdentity{vendor: vendorIDAMD, id: CPUIdentity{Family: family, Model: model, PkgType: pkgType}}
}

type mockPhysicalMemory struct {
	mock.Mock
}

func (m *mockPhysicalMemory) Map(base uint64, size int) (MappedRegion, error) {
	ret := m.Called(base, size)
	region, _ := ret.Get(0).(MappedRegion)
	return region, ret.Error(1)
}

type fakeRegion struct {
	data     []byte
	unmapped int
}

func (r *fakeRegion) Bytes() []byte {
	return r.data
}

func (r *fakeRegion) Unmap() error {
	r.unmapped++
	return nil
}

func filledRegion(size int, fill byte) *fakeRegion {
	data := make([]byte, size)
	for i := range data {
		data[i] = fill
	}
	return &fakeRegion{data: data}
}

// matisse is a Zen2 desktop part with a 0x7E4 byte PM table at
// 0x1_DEAD_0000.
type matisse struct {
	fw   *fakeFirmware
	rsmu *fakeMailbox
	mp1  *fakeMailbox
	hsmp *fakeMailbox
}

const (
	matisseDramLow  = 0xDEAD0000
	matisseDramHigh = 0x1
	matisseBase     = uint64(matisseDramHigh)<<32 | matisseDramLow
)

func newMatisse() *matisse {
	fw := newFakeFirmware()
	m := &matisse{fw: fw}
	m.rsmu = fw.attach(rsmuZen2, map[uint32]firmwareHandler{
		opGetVersion: reply(0x2E3C00),
		0x06:         reply(matisseDramLow, matisseDramHigh),
		0x08:         reply(0x240803),
		0x05:         ack,
	})
	m.mp1 = fw.attach(mp1Zen2, map[uint32]firmwareHandler{
		opGetVersion: reply(0x2E3C00),
	})
	m.hsmp = fw.attach(hsmpZen2, map[uint32]firmwareHandler{
		opGetVersion:               reply(0x2E3C00),
		hsmpGetSocketPower:         reply(65000),
		hsmpGetSocketPowerLimit:    reply(105000),
		hsmpGetSocketPowerLimitMax: reply(142000),
		hsmpSetSocketPowerLimit:    ack,
		hsmpSetDFPstate:            ack,
		hsmpSetDFPstateRange:       ack,
	})
	return m
}

func testConfig(t *testing.T) LibConfig {
	conf := DefaultConfig()
	conf.ModulePath = t.TempDir() + "/modules"
	conf.TimeoutAttempts = MinTimeoutAttempts
	return conf
}

// newTestSMU returns an initialized instance on top of fake hardware.
func newTestSMU(t *testing.T, fw *fakeFirmware, id fakeIdentity, mem PhysicalMemory, clk *testclock.FakeClock) *smuImpl {
	t.Helper()
	if clk == nil {
		clk = testclock.NewFakeClock(time.Unix(0, 0))
	}
	s := newSMU(testConfig(t),
		WithConfigSpace(fw),
		WithIdentitySource(id),
		WithPhysicalMemory(mem),
		WithClock(clk))
	s.pollInterval = 0
	require.NoError(t, s.Init())
	return s
}
