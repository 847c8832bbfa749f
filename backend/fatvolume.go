package backend

import (
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
	"time"

	"github.com/diskfs/go-diskfs/filesystem"

	"mkoc/volume"
)

// fatVolume adapts a go-diskfs FAT32 filesystem to volume.Volume. FAT names
// compare case-insensitively.
type fatVolume struct {
	fs   filesystem.FileSystem
	file *os.File
	root string
}

func fatPath(name string) string { return path.Clean("/" + name) }

func (v *fatVolume) Root() string { return v.root }

func (v *fatVolume) Stat(name string) (fs.FileInfo, error) {
	p := fatPath(name)
	if p == "/" {
		return rootInfo{}, nil
	}
	dir, base := path.Split(p)
	dir = path.Clean(dir)
	entries, err := v.fs.ReadDir(dir)
	if err != nil {
		if _, perr := v.Stat(dir); perr != nil {
			return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
		}
		return nil, err
	}
	for _, e := range entries {
		if strings.EqualFold(e.Name(), base) {
			return e, nil
		}
	}
	return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
}

func (v *fatVolume) ReadDir(name string) ([]fs.FileInfo, error) {
	return v.fs.ReadDir(fatPath(name))
}

func (v *fatVolume) Open(name string) (io.ReadCloser, error) {
	f, err := v.fs.OpenFile(fatPath(name), os.O_RDONLY)
	if err != nil {
		return nil, err
	}
	return fatFile{f}, nil
}

func (v *fatVolume) MkdirAll(name string) error {
	p := fatPath(name)
	if p == "/" {
		return nil
	}
	return v.fs.Mkdir(p)
}

func (v *fatVolume) Create(name string) (io.WriteCloser, error) {
	if ok, err := volume.Exists(v, name); err != nil {
		return nil, err
	} else if ok {
		return nil, &fs.PathError{Op: "create", Path: name, Err: fs.ErrExist}
	}
	f, err := v.fs.OpenFile(fatPath(name), os.O_CREATE|os.O_RDWR)
	if err != nil {
		return nil, err
	}
	return fatFile{f}, nil
}

// Rename is not offered by the in-process FAT32 writer.
func (v *fatVolume) Rename(_, _ string) error { return volume.ErrUnsupported }

func (v *fatVolume) Close() error {
	if err := v.file.Sync(); err != nil {
		v.file.Close()
		return err
	}
	return v.file.Close()
}

type fatFile struct {
	filesystem.File
}

func (f fatFile) Close() error {
	if c, ok := f.File.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

type rootInfo struct{}

func (rootInfo) Name() string       { return "/" }
func (rootInfo) Size() int64        { return 0 }
func (rootInfo) Mode() fs.FileMode  { return fs.ModeDir | 0o755 }
func (rootInfo) ModTime() time.Time { return time.Time{} }
func (rootInfo) IsDir() bool        { return true }
func (rootInfo) Sys() interface{}   { return nil }
