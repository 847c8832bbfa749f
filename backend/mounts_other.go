//go:build !darwin

package backend

// systemMounts is only consulted by the darwin backend; elsewhere the
// platform tools report mount points themselves.
func systemMounts() []mountEntry { return nil }
