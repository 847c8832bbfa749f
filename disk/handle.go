// Package disk holds the platform-neutral view of storage devices: the
// handles a backend reports, the candidate filter, and exact-match target
// resolution.
package disk

import (
	"fmt"
	"strings"
)

// Bus classifies how a disk is attached.
type Bus string

// Known bus classifications. BusImage is a file-backed disk handled in-process.
// BusRemovable is removable media on a bus other than USB, such as a built-in
// card reader.
const (
	BusUSB       Bus = "usb"
	BusRemovable Bus = "removable"
	BusInternal  Bus = "internal"
	BusImage     Bus = "image"
	BusUnknown   Bus = "unknown"
)

// Partition is one child of a Handle.
type Partition struct {
	ID         string
	Aliases    []string
	FSType     string
	Label      string
	MountPoint string
	SizeBytes  int64
}

// Handle describes one disk as reported by a single enumeration. Handles are
// never cached: any provisioning step makes them stale.
type Handle struct {
	ID         string
	Aliases    []string
	Model      string
	SizeBytes  int64
	Bus        Bus
	Boot       bool
	Partitions []Partition
}

// Removable reports whether the disk may be erased without the secondary
// non-removable confirmation.
func (h Handle) Removable() bool {
	return h.Bus == BusUSB || h.Bus == BusRemovable || h.Bus == BusImage
}

// Mounted reports whether any partition of h is mounted.
func (h Handle) Mounted() bool {
	for _, p := range h.Partitions {
		if p.MountPoint != "" {
			return true
		}
	}
	return false
}

func (h Handle) String() string {
	return fmt.Sprintf("%s (%s, %s, %s)", h.ID, h.Bus, Human(h.SizeBytes), orDash(h.Model))
}

// Human renders a byte count the way the listing prints it.
func Human(b int64) string {
	switch {
	case b <= 0:
		return "-"
	case b >= 1<<40:
		return fmt.Sprintf("%.1fT", float64(b)/(1<<40))
	case b >= 1<<30:
		return fmt.Sprintf("%.1fG", float64(b)/(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%dM", b/(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%dK", b/(1<<10))
	}
	return fmt.Sprintf("%dB", b)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
