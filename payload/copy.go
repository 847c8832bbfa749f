package payload

import (
	"io"
	"path"

	"github.com/pkg/errors"

	"mkoc/volume"
)

// copyTree copies srcName from src to dstName on dst. Directories are
// created as needed; existing files are never overwritten.
func copyTree(src volume.Volume, srcName string, dst volume.Volume, dstName string, onFile func(string)) error {
	fi, err := src.Stat(srcName)
	if err != nil {
		return errors.Wrapf(err, "reading %s", srcName)
	}
	if !fi.IsDir() {
		return copyFile(src, srcName, dst, dstName, onFile)
	}
	if err := dst.MkdirAll(dstName); err != nil {
		return errors.Wrapf(err, "creating %s", dstName)
	}
	entries, err := src.ReadDir(srcName)
	if err != nil {
		return errors.Wrapf(err, "listing %s", srcName)
	}
	for _, e := range entries {
		if e.Name() == "." || e.Name() == ".." {
			continue
		}
		s, d := path.Join(srcName, e.Name()), path.Join(dstName, e.Name())
		if e.IsDir() {
			if err := copyTree(src, s, dst, d, onFile); err != nil {
				return err
			}
			continue
		}
		if !e.Mode().IsRegular() {
			continue
		}
		if err := copyFile(src, s, dst, d, onFile); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src volume.Volume, srcName string, dst volume.Volume, dstName string, onFile func(string)) error {
	r, err := src.Open(srcName)
	if err != nil {
		return errors.Wrapf(err, "opening %s", srcName)
	}
	defer r.Close()
	w, err := dst.Create(dstName)
	if err != nil {
		return errors.Wrapf(err, "creating %s", dstName)
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return errors.Wrapf(err, "copying %s", srcName)
	}
	if err := w.Close(); err != nil {
		return errors.Wrapf(err, "writing %s", dstName)
	}
	if onFile != nil {
		onFile(dstName)
	}
	return nil
}
