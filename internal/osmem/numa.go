//go:build linux || darwin

package osmem

import "os"

// numaNodeCountFromSysfs counts /sys/devices/system/node/node* entries,
// grounded on the sysfs-walk convention in
// other_examples/829720cf_ironcore-dev-libvirt-provider__pkg-host-numa.go.go.
// It returns 0 (meaning "unknown, assume single node") when sysfs isn't
// present, e.g. inside a container without /sys mounted.
func numaNodeCountFromSysfs() int {
	entries, err := os.ReadDir("/sys/devices/system/node")
	if err != nil {
		return 0
	}
	count := 0
	for _, e := range entries {
		name := e.Name()
		if len(name) > 4 && name[:4] == "node" && isDigits(name[4:]) {
			count++
		}
	}
	return count
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
