package device

import (
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/google/uuid"
)

// Identity names this device to the backend. Presence merging across a
// user's devices keys on ID, so it must stay stable across restarts.
type Identity struct {
	ID     string
	Name   string
	Mobile bool
}

// Resolve builds the device identity. A configured ID wins; otherwise a
// platform machine identifier is probed, and as a last resort a random
// UUID is generated (stable only for the process lifetime).
func Resolve(configuredID, configuredName string, mobile bool) Identity {
	id := configuredID
	if id == "" {
		id = machineID()
	}
	if id == "" {
		id = uuid.New().String()
	}

	name := configuredName
	if name == "" {
		if hostname, err := os.Hostname(); err == nil {
			name = hostname
		} else {
			name = "unknown-device"
		}
	}

	return Identity{ID: id, Name: name, Mobile: mobile}
}

func machineID() string {
	switch runtime.GOOS {
	case "linux":
		return linuxMachineID()
	case "darwin":
		return darwinMachineID()
	case "windows":
		return windowsMachineID()
	default:
		return ""
	}
}

func linuxMachineID() string {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if raw, err := os.ReadFile(path); err == nil {
			if id := strings.TrimSpace(string(raw)); id != "" {
				return id
			}
		}
	}
	return hostnameFallback("linux")
}

func darwinMachineID() string {
	output, err := exec.Command("system_profiler", "SPHardwareDataType").Output()
	if err == nil {
		for _, line := range strings.Split(string(output), "\n") {
			if strings.Contains(line, "Hardware UUID") {
				if _, id, found := strings.Cut(line, ":"); found {
					return strings.TrimSpace(id)
				}
			}
		}
	}
	return hostnameFallback("darwin")
}

func windowsMachineID() string {
	output, err := exec.Command("wmic", "csproduct", "get", "uuid").Output()
	if err == nil {
		for _, line := range strings.Split(string(output), "\n") {
			line = strings.TrimSpace(line)
			if line != "" && line != "UUID" && len(line) > 10 {
				return line
			}
		}
	}
	return hostnameFallback("windows")
}

func hostnameFallback(prefix string) string {
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return prefix + "-" + hostname
	}
	return ""
}
