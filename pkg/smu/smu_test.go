package smu

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestInit(t *testing.T) {
	m := newMatisse()
	s := newTestSMU(t, m.fw, matisseIdentity(), &mockPhysicalMemory{}, nil)

	assert.Equal(t, CodenameMatisse, s.Codename())
	assert.Equal(t, "Matisse", s.CodenameString())
	assert.Equal(t, IfVersion11, s.InterfaceVersion())
	assert.Equal(t, uint32(0x71), s.CPUIdentity().Model)
	// resolution does not touch the mailboxes
	assert.Zero(t, m.fw.registerOps())

	// idempotent
	require.NoError(t, s.Init())
	assert.Equal(t, CodenameMatisse, s.Codename())
}

func TestInit_Errors(t *testing.T) {
	for _, tc := range []struct {
		name     string
		identity fakeIdentity
		wantErr  error
	}{
		{"intel", fakeIdentity{vendor: "GenuineIntel"}, ErrUnsupportedVendor},
		{"hygon", fakeIdentity{vendor: "HygonGenuine"}, ErrUnsupportedVendor},
		{"unknown model", amdIdentity(familyZen3, 0x99, 0), ErrUnknownCPU},
		{"unknown family", amdIdentity(0x15, 0x01, 0), ErrUnknownCPU},
		{"no cpuid", fakeIdentity{vendor: vendorIDAMD, err: ErrUnsupportedPlatform}, ErrUnsupportedPlatform},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fw := newFakeFirmware()
			s := newSMU(testConfig(t), WithConfigSpace(fw), WithIdentitySource(tc.identity))

			err := s.Init()
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Equal(t, CodenameUndefined, s.Codename())
			assert.Zero(t, fw.registerOps())
		})
	}
}

func TestNotInitialized(t *testing.T) {
	s := New(testConfig(t), WithConfigSpace(newFakeFirmware()))

	_, err := s.GetVersion(MailboxMP1)
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = s.ReadAddress(0x3B10528)
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, s.WriteAddress(0x3B10528, 1), ErrNotInitialized)
	args := NewArgs(0)
	assert.ErrorIs(t, s.SendCommand(0x02, &args, MailboxMP1), ErrNotInitialized)
	_, err = s.ReadPMTable(make([]byte, PMTableMaxSize))
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = s.PMTableSize()
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = s.SocketPower()
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.Equal(t, "Unknown", s.CodenameString())
	assert.Equal(t, IfVersionUnknown, s.InterfaceVersion())
}

func TestGetVersion(t *testing.T) {
	m := newMatisse()
	var request Args
	m.mp1.handlers[opGetVersion] = func(args *Args) Status {
		request = *args
		*args = Args{0x2E3C00}
		return StatusOK
	}
	m.rsmu.handlers[opGetVersion] = reply(0x002E3C01)
	m.hsmp.handlers[opGetVersion] = reply(0x032E3C00)
	s := newTestSMU(t, m.fw, matisseIdentity(), &mockPhysicalMemory{}, nil)

	v, err := s.GetVersion(MailboxMP1)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x2E3C00), v)

	fw, err := s.FirmwareVersion()
	require.NoError(t, err)
	assert.Equal(t, "46.60.0", fw)

	v, err = s.GetVersion(MailboxHSMP)
	require.NoError(t, err)
	assert.Equal(t, "3.46.60.0", FormatVersion(v))

	assert.Equal(t, NewArgs(1), request)
}

func TestSendCommand_MissingMailbox(t *testing.T) {
	fw := newFakeFirmware()
	fw.attach(mp1Zen3APU, map[uint32]firmwareHandler{opGetVersion: reply(0x40)})
	s := newTestSMU(t, fw, amdIdentity(familyZen, 0x90, 0), &mockPhysicalMemory{}, nil)
	require.Equal(t, CodenameVanGogh, s.Codename())

	for _, mb := range []Mailbox{MailboxRSMU, MailboxHSMP, Mailbox(7)} {
		args := NewArgs(1)
		err := s.SendCommand(opGetVersion, &args, mb)
		assert.ErrorIs(t, err, StatusUnsupported, mb.String())
		assert.Equal(t, StatusUnsupported, StatusOf(err))
	}
	assert.Zero(t, fw.registerOps())

	assert.ErrorIs(t, s.SendCommand(opGetVersion, nil, MailboxMP1), StatusInvalidArgument)
}

func TestReadWriteAddress(t *testing.T) {
	m := newMatisse()
	s := newTestSMU(t, m.fw, matisseIdentity(), &mockPhysicalMemory{}, nil)

	require.NoError(t, s.WriteAddress(0x5A000, 0xCAFEF00D))
	v, err := s.ReadAddress(0x5A000)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xCAFEF00D), v)

	m.fw.failRead = 0x5A004
	_, err = s.ReadAddress(0x5A004)
	assert.ErrorIs(t, err, StatusBusAccessFailed)
	assert.ErrorIs(t, err, errFakeBus)
	assert.ErrorContains(t, err, "0x5A004")
}

// operations racing with Cleanup either complete or report
// ErrNotInitialized
func TestCleanupDuringOperations(t *testing.T) {
	m := newMatisse()
	mem := &mockPhysicalMemory{}
	mem.On("Map", matisseBase, 0x7E4).Return(filledRegion(0x7E4, 7), nil).Maybe()
	s := newTestSMU(t, m.fw, matisseIdentity(), mem, nil)

	check := func(err error) error {
		if err != nil && !errors.Is(err, ErrNotInitialized) {
			return err
		}
		return nil
	}

	var g errgroup.Group
	g.Go(func() error {
		for i := 0; i < 200; i++ {
			if _, err := s.ReadAddress(0x5A000); check(err) != nil {
				return err
			}
			if err := s.WriteAddress(0x5A004, uint32(i)); check(err) != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		for i := 0; i < 200; i++ {
			args := NewArgs(1)
			if err := s.SendCommand(opGetVersion, &args, MailboxMP1); check(err) != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		buf := make([]byte, PMTableMaxSize)
		for i := 0; i < 200; i++ {
			if _, err := s.ReadPMTable(buf); check(err) != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		s.Cleanup()
		return nil
	})
	require.NoError(t, g.Wait())

	_, err := s.ReadAddress(0x5A000)
	assert.ErrorIs(t, err, ErrNotInitialized)
	args := NewArgs(1)
	assert.ErrorIs(t, s.sendCommand(MailboxMP1, opGetVersion, &args), ErrNotInitialized)
	_, err = s.PMTableVersion()
	assert.ErrorIs(t, err, ErrNotInitialized)
	// released windows are never mapped again
	assert.LessOrEqual(t, len(mem.Calls), 1)
}

func TestCreateInstanceWithConf(t *testing.T) {
	m := newMatisse()
	mem := &mockPhysicalMemory{}
	mem.On("Map", matisseBase, 0x7E4).Return(filledRegion(0x7E4, 0), nil)

	instance, err := CreateInstanceWithConf(testConfig(t),
		WithConfigSpace(m.fw), WithIdentitySource(matisseIdentity()), WithPhysicalMemory(mem))
	require.NoError(t, err)
	require.NotNil(t, instance)

	features := instance.GetFeaturesInfo()
	for _, id := range []featureID{MP1MailboxFeature, RSMUMailboxFeature, HSMPMailboxFeature, PMTableFeature} {
		assert.True(t, features.IsFeatureSupported(id), features[id].Name())
		assert.NoError(t, features.GetFeatureError(id))
	}
	assert.Contains(t, features.String(), "PM table (devmem): supported")
}

func TestCreateInstanceWithConf_OptionalFeatures(t *testing.T) {
	fw := newFakeFirmware()
	fw.attach(rsmuAPU, map[uint32]firmwareHandler{opGetVersion: reply(0x370000)})
	fw.attach(mp1APU, map[uint32]firmwareHandler{opGetVersion: reply(0x370000)})

	instance, err := CreateInstanceWithConf(testConfig(t),
		WithConfigSpace(fw), WithIdentitySource(amdIdentity(familyZen, 0x60, 0)), WithPhysicalMemory(&mockPhysicalMemory{}))
	require.NotNil(t, instance)
	assert.Error(t, err)

	features := instance.GetFeaturesInfo()
	assert.True(t, features.IsFeatureSupported(MP1MailboxFeature))
	assert.True(t, features.IsFeatureSupported(RSMUMailboxFeature))
	assert.ErrorIs(t, features.GetFeatureError(HSMPMailboxFeature), StatusUnsupported)
	// the DRAM base request is unknown to this firmware
	assert.ErrorIs(t, features.GetFeatureError(PMTableFeature), StatusUnknownCommand)
	assert.ErrorIs(t, err, StatusUnsupported)

	u, err := NewUncore(0, 1)
	require.NoError(t, err)
	assert.ErrorIs(t, instance.SetUncore(u), StatusUnsupported)
}

func TestCreateInstanceWithConf_NoMP1(t *testing.T) {
	fw := newFakeFirmware()
	mb := fw.attach(mp1Zen2, map[uint32]firmwareHandler{})
	mb.busyReads = 1 << 20

	instance, err := CreateInstanceWithConf(testConfig(t),
		WithConfigSpace(fw), WithIdentitySource(matisseIdentity()), WithPhysicalMemory(&mockPhysicalMemory{}))
	assert.Nil(t, instance)
	assert.ErrorIs(t, err, StatusTimeout)
}

func TestCreateInstanceWithConf_InitFailure(t *testing.T) {
	instance, err := CreateInstanceWithConf(testConfig(t),
		WithConfigSpace(newFakeFirmware()), WithIdentitySource(fakeIdentity{vendor: "GenuineIntel"}))
	assert.Nil(t, instance)
	assert.ErrorIs(t, err, ErrUnsupportedVendor)
}

func TestInit_ConflictingDriversLogged(t *testing.T) {
	conf := testConfig(t)
	require.NoError(t, os.WriteFile(conf.ModulePath,
		[]byte("amd_hsmp 16384 0 - Live 0xffffffffc0a5c000\nkvm_amd 200704 0 - Live 0xffffffffc0b22000\n"), 0644))

	m := newMatisse()
	s := newSMU(conf, WithConfigSpace(m.fw), WithIdentitySource(matisseIdentity()))
	require.NoError(t, s.Init())
	assert.Equal(t, []string{"amd_hsmp"}, loadedConflictingKmods(conf.ModulePath))
}

func TestRegisterMetrics(t *testing.T) {
	m := newMatisse()
	s := newTestSMU(t, m.fw, matisseIdentity(), &mockPhysicalMemory{}, nil)
	reg := prometheus.NewPedanticRegistry()

	require.NoError(t, s.RegisterMetrics(reg))
	require.NoError(t, s.RegisterMetrics(reg))
	assert.Error(t, s.RegisterMetrics(nil))

	_, err := s.GetVersion(MailboxMP1)
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(reg, "smu_mailbox_commands_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStatus(t *testing.T) {
	assert.Equal(t, "smu: command timed out", StatusTimeout.Error())
	assert.Equal(t, "firmware response 0x42", Status(0x42).String())
	assert.True(t, StatusTimeout.Synthetic())
	assert.False(t, StatusRejectedBusy.Synthetic())

	assert.Equal(t, StatusOK, StatusOf(nil))
	assert.Equal(t, StatusFailed, StatusOf(errors.New("other")))
	assert.Equal(t, StatusMappingFailed, StatusOf(joinedStatusError()))
}

func joinedStatusError() error {
	return errors.Join(errors.New("context"), StatusMappingFailed)
}

func TestFindRootComplex(t *testing.T) {
	dir := t.TempDir()
	device := func(name, vendor, id string) {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(path, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(path, "vendor"), []byte(vendor+"\n"), 0644))
		require.NoError(t, os.WriteFile(filepath.Join(path, "device"), []byte(id+"\n"), 0644))
	}

	_, err := findRootComplex(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, ErrNoRootComplex)

	device("0000:00:00.2", "0x1022", "0x1481")
	device("0000:00:01.0", "0x8086", "0x1480")
	_, err = findRootComplex(dir)
	assert.ErrorIs(t, err, ErrNoRootComplex)

	device("0000:40:00.0", "0x1022", "0x1480")
	got, err := findRootComplex(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "0000:40:00.0"), got)

	device("0000:00:00.0", "0x1022", "0x1480")
	got, err = findRootComplex(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, preferredPCIDevice), got)
}
