package smu

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var pciDevicesPath = "/sys/bus/pci/devices"

// findRootComplex returns the sysfs directory of the AMD root complex. The
// host bridge at 0000:00:00.0 wins when present, otherwise the first match
// in directory order is used.
func findRootComplex(devicesPath string) (string, error) {
	entries, err := os.ReadDir(devicesPath)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoRootComplex, err)
	}

	var candidates []string
	for _, entry := range entries {
		dir := filepath.Join(devicesPath, entry.Name())
		vendor, err := readPCIID(filepath.Join(dir, "vendor"))
		if err != nil || vendor != pciVendorAMD {
			continue
		}
		device, err := readPCIID(filepath.Join(dir, "device"))
		if err != nil {
			continue
		}
		if _, ok := rootComplexDeviceIDs[device]; !ok {
			continue
		}
		if entry.Name() == preferredPCIDevice {
			return dir, nil
		}
		candidates = append(candidates, dir)
	}
	if len(candidates) == 0 {
		return "", ErrNoRootComplex
	}
	return candidates[0], nil
}

func readPCIID(path string) (uint16, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	value := strings.TrimPrefix(strings.TrimSpace(string(data)), "0x")
	id, err := strconv.ParseUint(value, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("malformed pci id in %s: %w", path, err)
	}
	return uint16(id), nil
}
