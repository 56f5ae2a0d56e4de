// this file contains integration tests of the smu package
package smu

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	testclock "k8s.io/utils/clock/testing"
)

// this test checks for interleaving between PM table readers, HSMP writers
// and raw commands sharing one instance while time moves on
func TestConcurrentPMTableAndMailboxes(t *testing.T) {
	const count = 5
	for i := 0; i < count; i++ {
		doConcurrentPMTableAndMailboxes(t)
	}
}

func doConcurrentPMTableAndMailboxes(t *testing.T) {
	const (
		readers = 4
		rounds  = 20
	)
	clk := testclock.NewFakeClock(time.Unix(1_700_000_000, 0))
	m := newMatisse()
	region := filledRegion(0x7E4, 0x3C)
	mem := &mockPhysicalMemory{}
	mem.On("Map", matisseBase, 0x7E4).Return(region, nil).Once()

	conf := testConfig(t)
	conf.RefreshInterval.Duration = 10 * time.Millisecond
	inst, err := CreateInstanceWithConf(conf,
		WithConfigSpace(m.fw),
		WithIdentitySource(matisseIdentity()),
		WithPhysicalMemory(mem),
		WithClock(clk))
	require.NoError(t, err)
	s := inst.(*smuImpl)
	defer s.Cleanup()

	var g errgroup.Group
	for r := 0; r < readers; r++ {
		g.Go(func() error {
			buf := make([]byte, PMTableMaxSize)
			for i := 0; i < rounds; i++ {
				n, err := s.ReadPMTable(buf)
				if err != nil {
					return err
				}
				if !bytes.Equal(region.data, buf[:n]) {
					return fmt.Errorf("reader %d: torn table", r)
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		for i := 0; i < rounds; i++ {
			clk.Step(10 * time.Millisecond)
		}
		return nil
	})
	g.Go(func() error {
		for i := uint(0); i < rounds; i++ {
			u, err := NewUncore(i%3, 2)
			if err != nil {
				return err
			}
			if err := s.SetUncore(u); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		for i := 0; i < rounds; i++ {
			if err := s.SetSocketPowerLimit(uint32(100000 + i)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, g.Wait())

	// the size detection read plus at least one reader transfer
	assert.GreaterOrEqual(t, m.rsmu.count(0x05), 1)
	assert.LessOrEqual(t, m.rsmu.count(0x05), readers*rounds+1)
	assert.Equal(t, rounds, m.hsmp.count(hsmpSetSocketPowerLimit))
	assert.Equal(t, rounds, m.hsmp.count(hsmpSetDFPstate)+m.hsmp.count(hsmpSetDFPstateRange))
	mem.AssertExpectations(t)
}
