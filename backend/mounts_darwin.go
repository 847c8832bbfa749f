//go:build darwin

package backend

import (
	"path/filepath"

	"golang.org/x/sys/unix"
)

func systemMounts() []mountEntry {
	var out []mountEntry
	n, err := unix.Getfsstat(nil, unix.MNT_NOWAIT)
	if err != nil || n <= 0 {
		return out
	}
	buf := make([]unix.Statfs_t, n)
	if _, err := unix.Getfsstat(buf, unix.MNT_NOWAIT); err != nil {
		return out
	}
	for _, st := range buf {
		out = append(out, mountEntry{
			Device:     unix.ByteSliceToString(st.Mntfromname[:]),
			MountPoint: filepath.Clean(unix.ByteSliceToString(st.Mntonname[:])),
			FSType:     unix.ByteSliceToString(st.Fstypename[:]),
			SizeBytes:  int64(st.Blocks) * int64(st.Bsize),
		})
	}
	return out
}
