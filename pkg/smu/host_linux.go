package smu

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/cpuid/v2"
	"golang.org/x/sys/unix"
)

// sysfsConfigSpace accesses the root complex through its sysfs config file.
type sysfsConfigSpace struct {
	f *os.File
}

func openConfigSpace(conf LibConfig) (ConfigSpace, io.Closer, error) {
	dir := conf.PCIDevicePath
	if dir == "" {
		var err error
		if dir, err = findRootComplex(pciDevicesPath); err != nil {
			return nil, nil, err
		}
	}
	f, err := os.OpenFile(filepath.Join(dir, "config"), os.O_RDWR, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open pci config space: %w", err)
	}
	log.Info("using root complex", "device", dir)
	return &sysfsConfigSpace{f: f}, f, nil
}

func (c *sysfsConfigSpace) ReadConfig32(offset uint32) (uint32, error) {
	var buf [4]byte
	n, err := unix.Pread(int(c.f.Fd()), buf[:], int64(offset))
	if err != nil {
		return 0, err
	}
	if n != len(buf) {
		return 0, io.ErrUnexpectedEOF
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (c *sysfsConfigSpace) WriteConfig32(offset uint32, value uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	n, err := unix.Pwrite(int(c.f.Fd()), buf[:], int64(offset))
	if err != nil {
		return err
	}
	if n != len(buf) {
		return io.ErrShortWrite
	}
	return nil
}

// cpuidDevice reads raw CPUID leaves through the cpuid driver. The file
// offset selects the leaf and each read returns EAX, EBX, ECX and EDX.
type cpuidDevice struct {
	path string
}

func newIdentitySource(conf LibConfig) IdentitySource {
	return cpuidDevice{path: conf.CPUIDPath}
}

func (d cpuidDevice) VendorID() string {
	return cpuid.CPU.VendorString
}

func (d cpuidDevice) Identify() (CPUIdentity, error) {
	f, err := os.Open(d.path)
	if err != nil {
		return CPUIdentity{}, fmt.Errorf("failed to open cpuid device (is the cpuid module loaded?): %w", err)
	}
	defer f.Close()

	leaf1, err := readCPUIDLeaf(f, 0x1)
	if err != nil {
		return CPUIdentity{}, err
	}
	leaf81, err := readCPUIDLeaf(f, 0x80000001)
	if err != nil {
		return CPUIdentity{}, err
	}
	return decodeSignature(leaf1[0], leaf81[1]), nil
}

func readCPUIDLeaf(f *os.File, leaf uint32) ([4]uint32, error) {
	var regs [4]uint32
	var buf [16]byte
	n, err := unix.Pread(int(f.Fd()), buf[:], int64(leaf))
	if err != nil {
		return regs, fmt.Errorf("failed to read cpuid leaf 0x%X: %w", leaf, err)
	}
	if n != len(buf) {
		return regs, fmt.Errorf("short read of cpuid leaf 0x%X: %w", leaf, io.ErrUnexpectedEOF)
	}
	for i := range regs {
		regs[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return regs, nil
}

// devMem maps physical memory read-only through /dev/mem.
type devMem struct {
	path string
}

func newPhysicalMemory(conf LibConfig) PhysicalMemory {
	return devMem{path: conf.MemPath}
}

func (m devMem) Map(base uint64, size int) (MappedRegion, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: mapping size %d", StatusInvalidArgument, size)
	}
	f, err := os.OpenFile(m.path, os.O_RDONLY|unix.O_SYNC, 0)
	if err != nil {
		return nil, err
	}
	// The mapping outlives the descriptor.
	defer f.Close()

	page := uint64(unix.Getpagesize())
	aligned := base &^ (page - 1)
	delta := int(base - aligned)
	data, err := unix.Mmap(int(f.Fd()), int64(aligned), delta+size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap 0x%X+0x%X: %w", base, size, err)
	}
	return &mmapRegion{data: data, window: data[delta : delta+size]}, nil
}

type mmapRegion struct {
	data   []byte
	window []byte
}

func (r *mmapRegion) Bytes() []byte {
	return r.window
}

func (r *mmapRegion) Unmap() error {
	if r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data, r.window = nil, nil
	return err
}
