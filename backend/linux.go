package backend

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/jaypipes/ghw"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"mkoc/disk"
	"mkoc/volume"
)

// bootMounts are mount points that mark the disk holding them as the boot disk.
var bootMounts = map[string]bool{"/": true, "/boot": true, "/boot/efi": true}

// Linux drives parted, wipefs and mkfs.vfat. Disks are read through ghw.
type Linux struct {
	Runner Runner
	Logger *zap.SugaredLogger

	// Disks defaults to ghw.Block.
	Disks func() ([]*ghw.Disk, error)
	// MountFS and UnmountFS default to the mount syscalls.
	MountFS   func(source, target, fstype string) error
	UnmountFS func(target string) error
	// MountDir is where temporary mount points are created.
	MountDir string
}

// NewLinux returns a Linux backend that runs tools through r.
func NewLinux(r Runner, log *zap.SugaredLogger) *Linux {
	return &Linux{Runner: r, Logger: nopLogger(log)}
}

func (l *Linux) Name() string { return "linux" }

func (l *Linux) Tools() []string {
	return []string{"umount", "wipefs", "parted", "partprobe", "mkfs.vfat"}
}

func (l *Linux) List(ctx context.Context) ([]disk.Handle, error) {
	disks, err := l.disks()
	if err != nil {
		return nil, errors.Wrap(err, "reading block devices")
	}
	out := make([]disk.Handle, 0, len(disks))
	for _, d := range disks {
		if !isWholeLinuxDevice(d.Name) {
			continue
		}
		out = append(out, linuxHandle(d))
	}
	return out, nil
}

func (l *Linux) disks() ([]*ghw.Disk, error) {
	if l.Disks != nil {
		return l.Disks()
	}
	info, err := ghw.Block()
	if err != nil {
		return nil, err
	}
	return info.Disks, nil
}

func linuxHandle(d *ghw.Disk) disk.Handle {
	h := disk.Handle{
		ID:        "/dev/" + d.Name,
		Aliases:   []string{d.Name},
		Model:     strings.TrimSpace(d.Vendor + " " + d.Model),
		SizeBytes: int64(d.SizeBytes),
		Bus:       linuxBus(d.BusPath, d.IsRemovable),
	}
	for _, p := range d.Partitions {
		if bootMounts[p.MountPoint] {
			h.Boot = true
		}
		// Label is the GPT entry name; the volume label lives on the filesystem.
		label := p.FilesystemLabel
		if label == "" {
			label = p.Label
		}
		h.Partitions = append(h.Partitions, disk.Partition{
			ID:         "/dev/" + p.Name,
			Aliases:    []string{p.Name},
			FSType:     p.Type,
			Label:      label,
			MountPoint: p.MountPoint,
			SizeBytes:  int64(p.SizeBytes),
		})
	}
	return h
}

// linuxBus classifies a udev bus path such as
// pci-0000:00:14.0-usb-0:2:1.0-scsi-0:0:0:0. The kernel's removable flag
// covers card readers that sit on an internal bus.
func linuxBus(busPath string, removable bool) disk.Bus {
	switch {
	case strings.Contains(busPath, "usb"):
		return disk.BusUSB
	case removable:
		return disk.BusRemovable
	case busPath == "" || busPath == "unknown":
		return disk.BusUnknown
	}
	return disk.BusInternal
}

// isWholeLinuxDevice accepts sdX, vdX, nvmeXnY and mmcblkX names.
func isWholeLinuxDevice(name string) bool {
	if len(name) == 3 && (strings.HasPrefix(name, "sd") || strings.HasPrefix(name, "vd")) && name[2] >= 'a' && name[2] <= 'z' {
		return true
	}
	if strings.HasPrefix(name, "nvme") && !strings.Contains(name, "p") {
		parts := strings.Split(name, "n")
		// "nvme0n1" splits into "", "vme0", "1"
		return len(parts) == 3 && parts[1] != "" && parts[2] != ""
	}
	if strings.HasPrefix(name, "mmcblk") && !strings.Contains(name, "p") {
		return true
	}
	return false
}

func (l *Linux) run(ctx context.Context, name string, args ...string) error {
	l.Logger.Debugw("running", "cmd", name, "args", args)
	_, err := l.Runner.Run(ctx, name, args...)
	return err
}

// Wipe unmounts every partition of d and clears all signatures.
func (l *Linux) Wipe(ctx context.Context, d disk.Handle) error {
	for _, p := range d.Partitions {
		if p.MountPoint == "" {
			continue
		}
		if err := l.run(ctx, "umount", p.ID); err != nil {
			return err
		}
	}
	return l.run(ctx, "wipefs", "-a", d.ID)
}

func (l *Linux) CreateTable(ctx context.Context, d disk.Handle) error {
	return l.run(ctx, "parted", "-s", d.ID, "mklabel", "gpt")
}

// CreatePartition creates one ESP-flagged partition from 1MiB to the end of
// the disk and asks the kernel to reread the table.
func (l *Linux) CreatePartition(ctx context.Context, d disk.Handle, label string) error {
	if err := l.run(ctx, "parted", "-s", "-a", "optimal", d.ID, "mkpart", label, "fat32", "1MiB", "100%"); err != nil {
		return err
	}
	if err := l.run(ctx, "parted", "-s", d.ID, "set", "1", "esp", "on"); err != nil {
		return err
	}
	return l.run(ctx, "partprobe", d.ID)
}

func (l *Linux) Format(ctx context.Context, p disk.Partition, label string) error {
	return l.run(ctx, "mkfs.vfat", "-F", "32", "-n", label, p.ID)
}

// Mount returns the existing mount point of p, or mounts it on a temporary
// directory that is unmounted and removed when the volume is closed.
func (l *Linux) Mount(ctx context.Context, p disk.Partition) (volume.Volume, error) {
	if p.MountPoint != "" {
		return volume.NewDir(p.MountPoint), nil
	}
	mount, unmount := l.MountFS, l.UnmountFS
	if mount == nil {
		mount = sysMount
	}
	if unmount == nil {
		unmount = sysUnmount
	}
	dir, err := os.MkdirTemp(l.MountDir, "mkoc-")
	if err != nil {
		return nil, errors.Wrap(err, "creating mount point")
	}
	if err := mount(p.ID, dir, "vfat"); err != nil {
		os.Remove(dir)
		return nil, errors.Wrapf(err, "mounting %s on %s", p.ID, dir)
	}
	l.Logger.Infow("mounted", "partition", p.ID, "dir", dir)
	return &volume.Dir{Path: filepath.Clean(dir), OnClose: func() error {
		if err := unmount(dir); err != nil {
			return errors.Wrapf(err, "unmounting %s", dir)
		}
		return os.Remove(dir)
	}}, nil
}
