package platform

import (
	"os"
	"strings"
)

// Serial-number sources probed in order. Device trees expose the board
// serial; the machine id is the container/VM fallback.
var serialSources = []string{
	"/proc/device-tree/serial-number",
	"/sys/firmware/devicetree/base/serial-number",
	"/etc/machine-id",
}

// SerialNumber returns the device serial, or "" when no source is
// readable. Callers emit the empty string rather than failing.
func SerialNumber() string {
	for _, path := range serialSources {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		s := strings.TrimRight(strings.TrimSpace(string(data)), "\x00")
		if s != "" {
			return s
		}
	}
	return ""
}
