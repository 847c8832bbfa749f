// Package payload validates the bootloader payload and installs it onto a
// volume, optionally backing up what was there before.
package payload

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Fixed layout of the payload and of the installed volume.
const (
	EFIDir  = "EFI"
	BootDir = "BOOT"
	OCDir   = "OC"
)

// Subtrees are the payload directories installed under EFI, in order.
var Subtrees = []string{BootDir, OCDir}

// MissingError names payload directories that are absent.
type MissingError struct {
	Root    string
	Missing []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("payload at %s is missing %s", e.Root, strings.Join(e.Missing, ", "))
}

// Source is a payload root directory containing EFI/BOOT and EFI/OC.
type Source struct {
	Root string
}

// Validate checks that every required subtree exists and is a directory.
func (s Source) Validate() error {
	var missing []string
	for _, sub := range Subtrees {
		rel := path.Join(EFIDir, sub)
		fi, err := os.Stat(filepath.Join(s.Root, filepath.FromSlash(rel)))
		if err != nil || !fi.IsDir() {
			missing = append(missing, rel)
		}
	}
	if len(missing) > 0 {
		return &MissingError{Root: s.Root, Missing: missing}
	}
	return nil
}
