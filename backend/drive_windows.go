//go:build windows

package backend

import "golang.org/x/sys/windows"

func driveType(root string) uint32 {
	p, err := windows.UTF16PtrFromString(root)
	if err != nil {
		return windows.DRIVE_UNKNOWN
	}
	return windows.GetDriveType(p)
}

// driveReady reports whether root has a mounted filesystem.
func driveReady(root string) bool {
	switch driveType(root) {
	case windows.DRIVE_UNKNOWN, windows.DRIVE_NO_ROOT_DIR:
		return false
	}
	return true
}

func driveTypeName(root string) string {
	switch driveType(root) {
	case windows.DRIVE_REMOVABLE:
		return "removable"
	case windows.DRIVE_FIXED:
		return "fixed"
	case windows.DRIVE_REMOTE:
		return "network"
	case windows.DRIVE_CDROM:
		return "cdrom"
	case windows.DRIVE_RAMDISK:
		return "ramdisk"
	}
	return "unknown"
}
