//go:build !windows

package backend

import (
	"io"
	"os"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// deviceSize returns the size of a regular file or block device in bytes.
func deviceSize(f *os.File) (int64, error) {
	if size, err := f.Seek(0, io.SeekEnd); err == nil && size > 0 {
		_, _ = f.Seek(0, io.SeekStart)
		return size, nil
	}

	// macOS/BSD: DKIOCGETBLOCKSIZE * DKIOCGETBLOCKCOUNT
	const (
		dkiocGetBlockSize  = 0x40046418
		dkiocGetBlockCount = 0x40086419
		blkGetSize64       = 0x80081272
	)
	var blockSize uint32
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), dkiocGetBlockSize, uintptr(unsafe.Pointer(&blockSize)))
	if errno != 0 {
		var sizeBytes uint64
		_, _, errno = unix.Syscall(unix.SYS_IOCTL, f.Fd(), blkGetSize64, uintptr(unsafe.Pointer(&sizeBytes)))
		if errno != 0 {
			return 0, errors.Errorf("cannot determine size of %s: %v", f.Name(), errno)
		}
		return int64(sizeBytes), nil
	}
	var blockCount uint64
	_, _, errno = unix.Syscall(unix.SYS_IOCTL, f.Fd(), dkiocGetBlockCount, uintptr(unsafe.Pointer(&blockCount)))
	if errno != 0 {
		return 0, errors.Errorf("cannot get block count of %s: %v", f.Name(), errno)
	}
	return int64(blockSize) * int64(blockCount), nil
}
