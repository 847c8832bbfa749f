//go:build windows

package backend

import (
	"io"
	"os"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

const ioctlDiskGetLengthInfo = 0x7405C

// deviceSize returns the size of a regular file, or of a \\.\PhysicalDriveN
// handle through IOCTL_DISK_GET_LENGTH_INFO.
func deviceSize(f *os.File) (int64, error) {
	if size, err := f.Seek(0, io.SeekEnd); err == nil && size > 0 {
		_, _ = f.Seek(0, io.SeekStart)
		return size, nil
	}
	var length int64
	var returned uint32
	err := windows.DeviceIoControl(windows.Handle(f.Fd()), ioctlDiskGetLengthInfo,
		nil, 0, (*byte)(unsafe.Pointer(&length)), uint32(unsafe.Sizeof(length)), &returned, nil)
	if err != nil {
		return 0, errors.Wrapf(err, "cannot determine size of %s", f.Name())
	}
	return length, nil
}
