package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"mkoc/disk"
	"mkoc/payload"
	"mkoc/safety"
)

const (
	phaseMount   = "mount"
	phaseBackup  = "back up EFI"
	phaseInstall = "install payload"
	phaseRelease = "release volume"
)

// fatTypes are filesystem names the backends report for FAT volumes.
var fatTypes = []string{"vfat", "fat", "fat32", "msdos", "msdos_fat32"}

func isFAT(fsType string) bool {
	t := strings.ToLower(fsType)
	for _, f := range fatTypes {
		if t == f {
			return true
		}
	}
	return false
}

// pickPartition narrows a target to one FAT partition. A partition target is
// kept as is; a disk target must carry exactly one FAT partition.
func pickPartition(t disk.Target) (disk.Target, error) {
	if t.Partition != nil {
		return t, nil
	}
	var found []disk.Partition
	for _, p := range t.Disk.Partitions {
		if isFAT(p.FSType) {
			found = append(found, p)
		}
	}
	switch len(found) {
	case 0:
		return disk.Target{}, errors.Errorf("%s has no FAT partition to restore", t.Disk.ID)
	case 1:
		p := found[0]
		return disk.Target{Disk: t.Disk, Partition: &p}, nil
	}
	ids := make([]string, len(found))
	for i, p := range found {
		ids[i] = p.ID
	}
	return disk.Target{}, &disk.AmbiguousError{Identifier: t.Disk.ID, Matches: ids}
}

// Restore backs up the EFI tree on an existing volume, renames the current
// EFI/BOOT and EFI/OC aside and installs the payload in their place. Nothing
// is erased. The returned Run is never nil.
func (e *Env) Restore(ctx context.Context) (*Run, error) {
	m := newMachine(KindRestore, e.log())
	if err := e.validate(m); err != nil {
		return m.fail(err)
	}

	handles, err := e.enumerate(ctx, disk.OnlyRemovable, true)
	if err != nil {
		return m.fail(err)
	}
	m.to(StateTargetEnumerated)

	t, err := e.choose(ctx, handles, fmt.Sprintf("Volume to restore (partition or disk, %q for every disk, empty to quit): ", ShowAllAnswer), true)
	if err != nil {
		return m.fail(err)
	}
	if t, err = pickPartition(t); err != nil {
		return m.fail(err)
	}
	m.run.Target = t
	m.to(StateTargetSelected)

	if _, err := e.gate().Evaluate(t, safety.Restore); err != nil {
		return m.fail(err)
	}
	m.to(StateConfirmed)

	ctx, release := e.protect(ctx)
	defer release()

	rep := e.reporter()
	rep.Begin("Restoring OpenCore on "+t.ID(), []string{phaseMount, phaseBackup, phaseInstall, phaseRelease})
	defer rep.Close()
	rep.SetSummary("Target: "+describe(t), "Payload: "+e.Source.Root)

	vol, err := e.Backend.Mount(ctx, *t.Partition)
	if err != nil {
		return m.fail(errors.Wrapf(err, "mounting %s", t.ID()))
	}
	m.run.Root = vol.Root()
	rep.PhaseDone(phaseMount)
	m.to(StateMounted)

	in := &payload.Installer{Logger: e.Logger, Now: e.Now, OnFile: func(name string) { rep.Status("copied " + name) }}
	rec, ok, err := in.BackupEFI(vol)
	if err != nil {
		vol.Close()
		return m.fail(err)
	}
	if ok {
		m.run.Backups = append(m.run.Backups, rec)
		rep.Status("backup " + rec.Renamed)
	}
	rep.PhaseDone(phaseBackup)
	m.to(StateBackedUp)

	renamed, err := in.Install(e.Source, vol, payload.MergeWithBackup)
	m.run.Backups = append(m.run.Backups, renamed...)
	if err != nil {
		vol.Close()
		return m.fail(errors.Wrap(err, "installing payload"))
	}
	rep.PhaseDone(phaseInstall)
	m.to(StateInstalled)

	if err := vol.Close(); err != nil {
		return m.fail(errors.Wrap(err, "releasing volume"))
	}
	rep.PhaseDone(phaseRelease)
	rep.Close()

	if e.Finalizer != nil {
		if err := e.Finalizer.Finalize(ctx, m.run); err != nil {
			return m.fail(errors.Wrap(err, "finalizing"))
		}
	}
	m.to(StateFinalized)
	return m.run, nil
}
