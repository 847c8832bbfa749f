package payload

import (
	"fmt"
	"path"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"mkoc/volume"
)

// Mode selects how Install treats the destination.
type Mode int

const (
	// Fresh copies the payload's EFI tree onto an empty destination. Nothing
	// beside EFI in the source root is copied.
	Fresh Mode = iota
	// MergeWithBackup renames existing EFI/BOOT and EFI/OC aside before
	// copying the payload subtrees in their place.
	MergeWithBackup
)

func (m Mode) String() string {
	if m == MergeWithBackup {
		return "merge-with-backup"
	}
	return "fresh"
}

// TimestampLayout is the suffix format used for backup names.
const TimestampLayout = "20060102_150405"

// BackupRecord is a directory moved or copied aside during a restore. Backups
// are retained for the operator to clean up.
type BackupRecord struct {
	Original string
	Renamed  string
}

// Installer copies a Source onto a Volume.
type Installer struct {
	Logger *zap.SugaredLogger
	// Now defaults to time.Now.
	Now func() time.Time
	// OnFile is called after each file is written.
	OnFile func(name string)
}

func (i *Installer) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now()
}

func (i *Installer) log() *zap.SugaredLogger {
	if i.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return i.Logger
}

// Install copies src onto dst. Partially copied files and completed renames
// are left in place on failure.
func (i *Installer) Install(src Source, dst volume.Volume, mode Mode) ([]BackupRecord, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	from := volume.NewDir(src.Root)
	switch mode {
	case Fresh:
		i.log().Debugw("installing payload", "mode", mode, "source", src.Root, "destination", dst.Root())
		if err := copyTree(from, EFIDir, dst, EFIDir, i.OnFile); err != nil {
			return nil, err
		}
		return nil, nil
	case MergeWithBackup:
		return i.merge(from, dst)
	}
	return nil, errors.Errorf("unknown install mode %d", mode)
}

func (i *Installer) merge(from, dst volume.Volume) ([]BackupRecord, error) {
	if err := dst.MkdirAll(EFIDir); err != nil {
		return nil, errors.Wrapf(err, "creating %s", EFIDir)
	}
	stamp := i.now().Format(TimestampLayout)
	var records []BackupRecord
	for _, sub := range Subtrees {
		target := path.Join(EFIDir, sub)
		present, err := volume.Exists(dst, target)
		if err != nil {
			return records, errors.Wrapf(err, "checking %s", target)
		}
		if present {
			renamed, err := UniqueName(dst, fmt.Sprintf("%s_OLD_%s", target, stamp))
			if err != nil {
				return records, err
			}
			if err := dst.Rename(target, renamed); err != nil {
				return records, errors.Wrapf(err, "renaming %s to %s", target, renamed)
			}
			i.log().Infow("backed up existing directory", "from", target, "to", renamed)
			records = append(records, BackupRecord{Original: target, Renamed: renamed})
		}
		if err := copyTree(from, target, dst, target, i.OnFile); err != nil {
			return records, err
		}
	}
	return records, nil
}

// BackupEFI copies the whole EFI tree on dst to a sibling EFI_BACKUP_<ts>.
// It returns ok=false when there is no EFI tree to back up.
func (i *Installer) BackupEFI(dst volume.Volume) (rec BackupRecord, ok bool, err error) {
	present, err := volume.Exists(dst, EFIDir)
	if err != nil || !present {
		return BackupRecord{}, false, err
	}
	name, err := UniqueName(dst, fmt.Sprintf("%s_BACKUP_%s", EFIDir, i.now().Format(TimestampLayout)))
	if err != nil {
		return BackupRecord{}, false, err
	}
	if err := copyTree(dst, EFIDir, dst, name, nil); err != nil {
		return BackupRecord{}, false, errors.Wrapf(err, "backing up %s", EFIDir)
	}
	i.log().Infow("copied EFI tree", "to", name)
	return BackupRecord{Original: EFIDir, Renamed: name}, true, nil
}

// UniqueName returns base, or base with the smallest _N suffix that does not
// exist on v. Repeated runs within the same second get distinct names.
func UniqueName(v volume.Volume, base string) (string, error) {
	candidate := base
	for n := 1; ; n++ {
		present, err := volume.Exists(v, candidate)
		if err != nil {
			return "", errors.Wrapf(err, "checking %s", candidate)
		}
		if !present {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s_%d", base, n)
	}
}
