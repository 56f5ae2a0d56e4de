package smu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSocketPower(t *testing.T) {
	m := newMatisse()
	s := newTestSMU(t, m.fw, matisseIdentity(), &mockPhysicalMemory{}, nil)

	power, err := s.SocketPower()
	require.NoError(t, err)
	assert.Equal(t, uint32(65000), power)

	limit, err := s.SocketPowerLimit()
	require.NoError(t, err)
	assert.Equal(t, uint32(105000), limit)

	limitMax, err := s.SocketPowerLimitMax()
	require.NoError(t, err)
	assert.Equal(t, uint32(142000), limitMax)
}

func TestSetSocketPowerLimit(t *testing.T) {
	m := newMatisse()
	var requested []uint32
	m.hsmp.handlers[hsmpSetSocketPowerLimit] = func(args *Args) Status {
		requested = append(requested, args[0])
		return StatusOK
	}
	s := newTestSMU(t, m.fw, matisseIdentity(), &mockPhysicalMemory{}, nil)

	require.NoError(t, s.SetSocketPowerLimit(90000))
	// clamped to the platform maximum
	require.NoError(t, s.SetSocketPowerLimit(500000))
	assert.Equal(t, []uint32{90000, 142000}, requested)

	m.hsmp.handlers[hsmpGetSocketPowerLimitMax] = func(*Args) Status { return StatusRejectedBusy }
	err := s.SetSocketPowerLimit(1000)
	assert.ErrorIs(t, err, StatusRejectedBusy)
	assert.Len(t, requested, 2)
}

func TestSocketPower_NoHSMP(t *testing.T) {
	fw, _ := newPicasso()
	s := newTestSMU(t, fw, amdIdentity(familyZen, 0x18, 0), &mockPhysicalMemory{}, nil)

	_, err := s.SocketPower()
	assert.ErrorIs(t, err, StatusUnsupported)
	assert.ErrorIs(t, s.SetSocketPowerLimit(1000), StatusUnsupported)

	u, err := NewUncore(0, 2)
	require.NoError(t, err)
	assert.ErrorIs(t, s.SetUncore(u), StatusUnsupported)
}
