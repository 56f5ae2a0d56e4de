package smu

import (
	"bufio"
	"os"
	"strings"
)

var kernelModulesFilePath = "/proc/modules"

// Kernel drivers that drive the same mailboxes from the kernel side.
var conflictingKmods = []string{"amd_hsmp", "hsmp_acpi", "ryzen_smu"}

func checkKernelModuleLoaded(modulesFile, module string) bool {
	f, err := os.Open(modulesFile)
	if err != nil {
		return false
	}
	defer f.Close()

	reader := bufio.NewScanner(f)
	for reader.Scan() {
		fields := strings.Fields(reader.Text())
		if len(fields) > 0 && fields[0] == module {
			return true
		}
	}
	return false
}

func loadedConflictingKmods(modulesFile string) []string {
	var loaded []string
	for _, module := range conflictingKmods {
		if checkKernelModuleLoaded(modulesFile, module) {
			loaded = append(loaded, module)
		}
	}
	return loaded
}
