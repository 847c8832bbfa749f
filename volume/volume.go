// Package volume abstracts a mounted filesystem the payload is written to.
// Names are slash separated and relative to the volume root.
package volume

import (
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/errors"
)

// ErrUnsupported is returned by volumes that cannot perform an operation,
// such as renaming on an in-process FAT32 writer.
var ErrUnsupported = errors.New("operation not supported by this volume")

// Volume is a writable filesystem tree.
type Volume interface {
	// Root is a human readable location, e.g. a mount point.
	Root() string
	Stat(name string) (fs.FileInfo, error)
	ReadDir(name string) ([]fs.FileInfo, error)
	Open(name string) (io.ReadCloser, error)
	MkdirAll(name string) error
	Create(name string) (io.WriteCloser, error)
	Rename(oldname, newname string) error
	// Close releases the volume. For volumes mounted by this process it
	// flushes pending writes.
	Close() error
}

// Exists reports whether name is present on v.
func Exists(v Volume, name string) (bool, error) {
	_, err := v.Stat(name)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Dir is a Volume backed by a directory on a mounted filesystem.
type Dir struct {
	Path string
	// OnClose runs when the volume is closed, typically an unmount.
	OnClose func() error
}

// NewDir returns a Volume rooted at path.
func NewDir(path string) *Dir {
	return &Dir{Path: path}
}

func (d *Dir) Root() string { return d.Path }

func (d *Dir) abs(name string) string {
	return filepath.Join(d.Path, filepath.FromSlash(path.Clean("/"+name)))
}

func (d *Dir) Stat(name string) (fs.FileInfo, error) {
	return os.Stat(d.abs(name))
}

func (d *Dir) ReadDir(name string) ([]fs.FileInfo, error) {
	entries, err := os.ReadDir(d.abs(name))
	if err != nil {
		return nil, err
	}
	out := make([]fs.FileInfo, 0, len(entries))
	for _, e := range entries {
		fi, err := e.Info()
		if err != nil {
			return nil, err
		}
		out = append(out, fi)
	}
	return out, nil
}

func (d *Dir) Open(name string) (io.ReadCloser, error) {
	return os.Open(d.abs(name))
}

func (d *Dir) MkdirAll(name string) error {
	return os.MkdirAll(d.abs(name), 0o755)
}

func (d *Dir) Create(name string) (io.WriteCloser, error) {
	return os.OpenFile(d.abs(name), os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
}

func (d *Dir) Rename(oldname, newname string) error {
	return os.Rename(d.abs(oldname), d.abs(newname))
}

func (d *Dir) Close() error {
	if d.OnClose == nil {
		return nil
	}
	return d.OnClose()
}
