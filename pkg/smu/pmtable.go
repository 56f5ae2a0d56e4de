package smu

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// pmTable caches the PM table geometry and its mapped windows for the life
// of an instance.
type pmTable struct {
	mu sync.Mutex

	geometry    *pmGeometry
	version     uint32
	haveVersion bool

	refreshed   bool
	lastRefresh time.Time

	primary   MappedRegion
	alternate MappedRegion
}

// read copies the table into dst and returns the number of bytes copied.
// When dst is too short the required size is returned along with
// StatusInsufficientBufferSize and dst is left untouched.
func (t *pmTable) read(s *smuImpl, dst []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	g, err := t.resolve(s)
	if err != nil {
		return 0, err
	}
	total := g.total()
	if len(dst) < total {
		return total, fmt.Errorf("%w: need %d bytes, have %d", StatusInsufficientBufferSize, total, len(dst))
	}

	if err := t.refresh(s); err != nil {
		return 0, err
	}
	if err := t.mapRegions(s.memory, g); err != nil {
		return 0, err
	}

	n := copy(dst, t.primary.Bytes()[:g.size])
	if t.alternate != nil {
		n += copy(dst[n:], t.alternate.Bytes()[:g.altSize])
	}
	return n, nil
}

// size returns the total table size, resolving the geometry if needed.
func (t *pmTable) size(s *smuImpl) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	g, err := t.resolve(s)
	if err != nil {
		return 0, err
	}
	return g.total(), nil
}

// tableVersion returns the firmware table version. Codenames whose size
// does not depend on it still answer when they have a version request.
func (t *pmTable) tableVersion(s *smuImpl) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.haveVersion {
		return t.version, nil
	}
	h, err := s.handles()
	if err != nil {
		return 0, err
	}
	if h.topo.geometry.sizeByVersion != nil {
		g, err := t.resolve(s)
		if err != nil {
			return 0, err
		}
		return g.version, nil
	}
	v, err := queryTableVersion(s, h.topo)
	if err != nil {
		return 0, err
	}
	t.version, t.haveVersion = v, true
	return v, nil
}

func (t *pmTable) resolve(s *smuImpl) (*pmGeometry, error) {
	if t.geometry != nil {
		return t.geometry, nil
	}
	h, err := s.handles()
	if err != nil {
		return nil, err
	}
	g, err := resolveGeometry(s, h.topo)
	if err != nil {
		log.Error(err, "failed to resolve pm table", "codename", h.codename.String())
		return nil, err
	}
	t.geometry = &g
	if h.topo.geometry.sizeByVersion != nil {
		t.version, t.haveVersion = g.version, true
	}
	log.Info("pm table resolved",
		"codename", h.codename.String(),
		"base", fmt.Sprintf("0x%X", g.base),
		"size", fmt.Sprintf("0x%X", g.size),
		"altBase", fmt.Sprintf("0x%X", g.altBase),
		"altSize", fmt.Sprintf("0x%X", g.altSize),
		"version", fmt.Sprintf("0x%06X", g.version))
	return t.geometry, nil
}

// refresh asks firmware to transfer the table to DRAM unless that happened
// less than the refresh interval ago.
func (t *pmTable) refresh(s *smuImpl) error {
	if t.refreshed && s.clock.Since(t.lastRefresh) < s.refreshInterval {
		return nil
	}
	h, err := s.handles()
	if err != nil {
		return err
	}
	if h.topo.transfer == nil {
		return fmt.Errorf("%w: no table transfer request", StatusUnsupported)
	}
	for _, tr := range []*transferOp{h.topo.transfer, h.topo.transfer2} {
		if tr == nil {
			continue
		}
		args := NewArgs(tr.arg0)
		if err := s.sendCommand(MailboxRSMU, tr.op, &args); err != nil {
			return fmt.Errorf("pm table transfer 0x%X: %w", tr.op, err)
		}
		s.metrics.observeTransfer()
	}
	t.refreshed = true
	t.lastRefresh = s.clock.Now()
	return nil
}

// mapRegions maps each window once. A window that is already mapped is
// never mapped again.
func (t *pmTable) mapRegions(mem PhysicalMemory, g *pmGeometry) error {
	if t.primary == nil {
		region, err := mapRegion(mem, g.base, int(g.size))
		if err != nil {
			return err
		}
		t.primary = region
	}
	if g.altSize != 0 && t.alternate == nil {
		region, err := mapRegion(mem, g.altBase, int(g.altSize))
		if err != nil {
			return err
		}
		t.alternate = region
	}
	return nil
}

func mapRegion(mem PhysicalMemory, base uint64, size int) (MappedRegion, error) {
	region, err := mem.Map(base, size)
	if err != nil {
		return nil, fmt.Errorf("%w: 0x%X: %w", StatusMappingFailed, base, err)
	}
	if len(region.Bytes()) < size {
		_ = region.Unmap()
		return nil, fmt.Errorf("%w: 0x%X: window shorter than %d bytes", StatusMappingFailed, base, size)
	}
	return region, nil
}

// release unmaps the windows and forgets the geometry.
func (t *pmTable) release() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	for _, region := range []*MappedRegion{&t.primary, &t.alternate} {
		if *region == nil {
			continue
		}
		if err := (*region).Unmap(); err != nil {
			errs = append(errs, err)
		}
		*region = nil
	}
	t.geometry = nil
	t.version, t.haveVersion = 0, false
	t.refreshed = false
	t.lastRefresh = time.Time{}
	return errors.Join(errs...)
}
