package backend

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"howett.net/plist"

	"mkoc/disk"
	"mkoc/volume"
)

// Darwin drives diskutil.
type Darwin struct {
	Runner Runner
	Logger *zap.SugaredLogger
	// Mounts defaults to the kernel mount table.
	Mounts func() []mountEntry
}

// NewDarwin returns a Darwin backend that runs diskutil through r.
func NewDarwin(r Runner, log *zap.SugaredLogger) *Darwin {
	return &Darwin{Runner: r, Logger: nopLogger(log)}
}

func (b *Darwin) Name() string    { return "darwin" }
func (b *Darwin) Tools() []string { return []string{"diskutil"} }

// diskutilList is the part of "diskutil list -plist" that is read.
type diskutilList struct {
	AllDisksAndPartitions []listedDisk `plist:"AllDisksAndPartitions"`
}

type listedDisk struct {
	DeviceIdentifier string `plist:"DeviceIdentifier"`
	Content          string `plist:"Content"`
	Size             int64  `plist:"Size"`
	// APFSPhysicalStores is only set on synthesized APFS containers.
	APFSPhysicalStores []physicalStore `plist:"APFSPhysicalStores"`
	Partitions         []listedPart    `plist:"Partitions"`
}

type listedPart struct {
	DeviceIdentifier string `plist:"DeviceIdentifier"`
	Content          string `plist:"Content"`
	VolumeName       string `plist:"VolumeName"`
	MountPoint       string `plist:"MountPoint"`
	Size             int64  `plist:"Size"`
}

type physicalStore struct {
	DeviceIdentifier  string `plist:"DeviceIdentifier"`
	APFSPhysicalStore string `plist:"APFSPhysicalStore"`
}

func (s physicalStore) id() string {
	if s.APFSPhysicalStore != "" {
		return s.APFSPhysicalStore
	}
	return s.DeviceIdentifier
}

// diskutilInfo is the part of "diskutil info -plist" that is read.
type diskutilInfo struct {
	DeviceIdentifier   string          `plist:"DeviceIdentifier"`
	ParentWholeDisk    string          `plist:"ParentWholeDisk"`
	APFSPhysicalStores []physicalStore `plist:"APFSPhysicalStores"`
	BusProtocol        string          `plist:"BusProtocol"`
	Internal           bool            `plist:"Internal"`
	RemovableMedia     bool            `plist:"RemovableMedia"`
	MediaName          string          `plist:"MediaName"`
	TotalSize          int64           `plist:"TotalSize"`
	Size               int64           `plist:"Size"`
	VolumeName         string          `plist:"VolumeName"`
	FilesystemType     string          `plist:"FilesystemType"`
	MountPoint         string          `plist:"MountPoint"`
}

func (i diskutilInfo) size() int64 {
	if i.TotalSize > 0 {
		return i.TotalSize
	}
	return i.Size
}

func parseDiskutilList(out []byte) ([]listedDisk, error) {
	var l diskutilList
	if _, err := plist.Unmarshal(out, &l); err != nil {
		return nil, errors.Wrap(err, "parsing diskutil list")
	}
	return l.AllDisksAndPartitions, nil
}

func parseDiskutilInfo(out []byte) (diskutilInfo, error) {
	var i diskutilInfo
	if _, err := plist.Unmarshal(out, &i); err != nil {
		return diskutilInfo{}, errors.Wrap(err, "parsing diskutil info")
	}
	return i, nil
}

// wholeDisk strips the slice suffix: disk0s2 -> disk0, disk3s1s1 -> disk3.
func wholeDisk(id string) string {
	if !strings.HasPrefix(id, "disk") {
		return id
	}
	if i := strings.IndexByte(id[len("disk"):], 's'); i >= 0 {
		return id[:len("disk")+i]
	}
	return id
}

func darwinBus(info diskutilInfo) disk.Bus {
	switch info.BusProtocol {
	case "USB":
		return disk.BusUSB
	case "Disk Image":
		return disk.BusImage
	}
	switch {
	case info.RemovableMedia:
		return disk.BusRemovable
	case info.BusProtocol == "":
		return disk.BusUnknown
	}
	return disk.BusInternal
}

func (b *Darwin) diskutil(ctx context.Context, args ...string) ([]byte, error) {
	b.Logger.Debugw("running", "cmd", "diskutil", "args", args)
	return b.Runner.Run(ctx, "diskutil", args...)
}

func (b *Darwin) info(ctx context.Context, id string) (diskutilInfo, error) {
	out, err := b.diskutil(ctx, "info", "-plist", id)
	if err != nil {
		return diskutilInfo{}, err
	}
	return parseDiskutilInfo(out)
}

// bootDisk names the physical disk behind "/". On APFS the root volume sits
// on a synthesized container whose physical store is a partition.
func (b *Darwin) bootDisk(ctx context.Context) (string, error) {
	info, err := b.info(ctx, "/")
	if err != nil {
		return "", errors.Wrap(err, "locating boot disk")
	}
	src := info.ParentWholeDisk
	if len(info.APFSPhysicalStores) > 0 {
		src = info.APFSPhysicalStores[0].id()
	} else if src == "" {
		src = info.DeviceIdentifier
	}
	if !strings.HasPrefix(src, "disk") {
		return "", errors.Errorf("cannot tell which disk holds / (got %q)", src)
	}
	return wholeDisk(src), nil
}

func (b *Darwin) mountTable() map[string]string {
	mounts := b.Mounts
	if mounts == nil {
		mounts = systemMounts
	}
	table := make(map[string]string)
	for _, m := range mounts() {
		table[m.Device] = m.MountPoint
	}
	return table
}

func (b *Darwin) List(ctx context.Context) ([]disk.Handle, error) {
	out, err := b.diskutil(ctx, "list", "-plist", "physical")
	if err != nil {
		return nil, err
	}
	listed, err := parseDiskutilList(out)
	if err != nil {
		return nil, err
	}
	boot, err := b.bootDisk(ctx)
	if err != nil {
		return nil, err
	}
	mounted := b.mountTable()

	var handles []disk.Handle
	for _, ld := range listed {
		if len(ld.APFSPhysicalStores) > 0 {
			continue
		}
		id := ld.DeviceIdentifier
		info, err := b.info(ctx, id)
		if err != nil {
			return nil, err
		}
		h := disk.Handle{
			ID:        id,
			Aliases:   []string{"/dev/" + id},
			Model:     strings.TrimSpace(info.MediaName),
			SizeBytes: info.size(),
			Bus:       darwinBus(info),
			Boot:      id == boot,
		}
		if h.SizeBytes == 0 {
			h.SizeBytes = ld.Size
		}
		for _, lp := range ld.Partitions {
			pinfo, err := b.info(ctx, lp.DeviceIdentifier)
			if err != nil {
				return nil, err
			}
			p := disk.Partition{
				ID:         lp.DeviceIdentifier,
				Aliases:    []string{"/dev/" + lp.DeviceIdentifier},
				FSType:     pinfo.FilesystemType,
				Label:      lp.VolumeName,
				MountPoint: mounted["/dev/"+lp.DeviceIdentifier],
				SizeBytes:  lp.Size,
			}
			if p.Label == "" {
				p.Label = pinfo.VolumeName
			}
			if p.MountPoint == "" {
				p.MountPoint = lp.MountPoint
			}
			if p.MountPoint == "" {
				p.MountPoint = pinfo.MountPoint
			}
			if p.SizeBytes == 0 {
				p.SizeBytes = pinfo.size()
			}
			h.Partitions = append(h.Partitions, p)
		}
		handles = append(handles, h)
	}
	return handles, nil
}

// Wipe force-unmounts every volume on d. The partition map itself is
// replaced by CreateTable.
func (b *Darwin) Wipe(ctx context.Context, d disk.Handle) error {
	_, err := b.diskutil(ctx, "unmountDisk", "force", d.ID)
	return err
}

// CreateTable writes an empty GPT. diskutil adds its own EFI partition on
// disks large enough to hold one.
func (b *Darwin) CreateTable(ctx context.Context, d disk.Handle) error {
	_, err := b.diskutil(ctx, "partitionDisk", d.ID, "1", "GPT", "Free Space", "%noformat%", "100%")
	return err
}

// CreatePartition fills the free space after the last partition, or the
// whole disk when the table is empty.
func (b *Darwin) CreatePartition(ctx context.Context, d disk.Handle, label string) error {
	out, err := b.diskutil(ctx, "list", "-plist", d.ID)
	if err != nil {
		return err
	}
	listed, err := parseDiskutilList(out)
	if err != nil {
		return err
	}
	var last string
	for _, ld := range listed {
		if ld.DeviceIdentifier == d.ID && len(ld.Partitions) > 0 {
			last = ld.Partitions[len(ld.Partitions)-1].DeviceIdentifier
		}
	}
	if last == "" {
		_, err = b.diskutil(ctx, "partitionDisk", d.ID, "1", "GPT", "%noformat%", label, "100%")
		return err
	}
	_, err = b.diskutil(ctx, "addPartition", last, "%noformat%", label, "0")
	return err
}

func (b *Darwin) Format(ctx context.Context, p disk.Partition, label string) error {
	_, err := b.diskutil(ctx, "eraseVolume", "FAT32", label, p.ID)
	return err
}

func (b *Darwin) Mount(ctx context.Context, p disk.Partition) (volume.Volume, error) {
	if p.MountPoint != "" {
		return volume.NewDir(p.MountPoint), nil
	}
	if _, err := b.diskutil(ctx, "mount", p.ID); err != nil {
		return nil, err
	}
	mp := b.mountTable()["/dev/"+p.ID]
	if mp == "" {
		info, err := b.info(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		mp = info.MountPoint
	}
	if mp == "" {
		return nil, errors.Errorf("%s reported no mount point after mounting", p.ID)
	}
	b.Logger.Infow("mounted", "partition", p.ID, "dir", mp)
	return &volume.Dir{Path: mp, OnClose: func() error {
		_, err := b.diskutil(context.Background(), "unmount", p.ID)
		return err
	}}, nil
}
