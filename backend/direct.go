package backend

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	diskfs "github.com/diskfs/go-diskfs"
	diskpkg "github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/diskfs/go-diskfs/partition/gpt"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"mkoc/disk"
	"mkoc/volume"
)

const (
	// wipeSpan is zeroed at both ends of the disk, covering the primary and
	// backup GPT and any filesystem superblock near the start.
	wipeSpan = 1 << 20
	// gptEntryBytes is the size of the partition entry array.
	gptEntryBytes = 128 * 128
)

// Direct provisions a disk image or raw device in-process. It needs no
// external tools. An image file is never the boot disk; a raw device is
// checked against the native backend's listing.
type Direct struct {
	Path   string
	Logger *zap.SugaredLogger
	// NewGUID defaults to random UUIDs.
	NewGUID func() string
	// BootDevices returns the identifiers of the running system's disk and
	// its partitions. It defaults to the native backend's listing.
	BootDevices func(ctx context.Context) ([]string, error)
}

// NewDirect returns a backend for the image or device at path.
func NewDirect(path string, log *zap.SugaredLogger) *Direct {
	return &Direct{Path: path, Logger: nopLogger(log)}
}

func (b *Direct) Name() string    { return "direct" }
func (b *Direct) Tools() []string { return nil }

func (b *Direct) guid() string {
	if b.NewGUID != nil {
		return b.NewGUID()
	}
	return strings.ToUpper(uuid.NewString())
}

// EnsureImage creates a sparse image of size bytes at path if nothing exists
// there yet.
func EnsureImage(path string, size int64) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating image %s", path)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return errors.Wrapf(err, "sizing image %s", path)
	}
	return f.Close()
}

func (b *Direct) open(writable bool) (*diskpkg.Disk, error) {
	mode := diskfs.ReadOnly
	if writable {
		mode = diskfs.ReadWrite
	}
	d, err := diskfs.Open(b.Path, diskfs.WithOpenMode(mode))
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", b.Path)
	}
	return d, nil
}

func (b *Direct) partitionID(n int) string { return fmt.Sprintf("%sp%d", b.Path, n) }

func (b *Direct) partitionNumber(p disk.Partition) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(p.ID, b.Path+"p"))
	if err != nil || !strings.HasPrefix(p.ID, b.Path+"p") {
		return 0, errors.Errorf("%s is not a partition of %s", p.ID, b.Path)
	}
	return n, nil
}

// List reports the image as a single disk. A missing image lists nothing.
func (b *Direct) List(ctx context.Context) ([]disk.Handle, error) {
	if _, err := os.Stat(b.Path); errors.Is(err, fs.ErrNotExist) {
		return []disk.Handle{}, nil
	}
	d, err := b.open(false)
	if err != nil {
		return nil, err
	}
	defer d.File.Close()

	h := disk.Handle{
		ID:        b.Path,
		Aliases:   []string{filepath.Base(b.Path)},
		Model:     "disk image",
		SizeBytes: d.Size,
		Bus:       disk.BusImage,
	}
	if d.Type == diskpkg.Device {
		// a raw device reached through this backend has no bus information
		h.Model = "raw device"
		h.Bus = disk.BusUnknown
		h.Boot = b.isBoot(ctx)
	}
	table, err := d.GetPartitionTable()
	if err != nil {
		b.Logger.Debugw("no partition table", "path", b.Path, "error", err)
		return []disk.Handle{h}, nil
	}
	gt, ok := table.(*gpt.Table)
	if !ok {
		return []disk.Handle{h}, nil
	}
	d.Table = table
	base := filepath.Base(b.Path)
	for i, gp := range gt.Partitions {
		if gp == nil || gp.Type == gpt.Unused {
			continue
		}
		n := i + 1
		p := disk.Partition{
			ID:        b.partitionID(n),
			Aliases:   []string{fmt.Sprintf("%sp%d", base, n)},
			SizeBytes: int64(gp.Size),
		}
		if p.SizeBytes == 0 {
			p.SizeBytes = int64(gp.End-gp.Start+1) * d.LogicalBlocksize
		}
		if f, err := d.GetFilesystem(n); err == nil && f.Type() == filesystem.TypeFat32 {
			p.FSType = "vfat"
			p.Label = strings.TrimSpace(f.Label())
		}
		h.Partitions = append(h.Partitions, p)
	}
	return []disk.Handle{h}, nil
}

// IsRawDevice reports whether path is anything but a regular file.
func IsRawDevice(path string) bool {
	fi, err := os.Stat(path)
	return err != nil || !fi.Mode().IsRegular()
}

func (b *Direct) bootDevices(ctx context.Context) ([]string, error) {
	if b.BootDevices != nil {
		return b.BootDevices(ctx)
	}
	nb, err := Native(&ExecRunner{Logger: b.Logger}, b.Logger)
	if err != nil {
		return nil, err
	}
	handles, err := nb.List(ctx)
	if err != nil {
		return nil, err
	}
	return bootIdentifiers(handles), nil
}

// isBoot reports whether the device at Path is, or is a partition of, the
// boot disk. When that cannot be determined the device is treated as the
// boot disk.
func (b *Direct) isBoot(ctx context.Context) bool {
	ids, err := b.bootDevices(ctx)
	if err != nil {
		b.Logger.Warnw("cannot identify the boot disk; refusing to treat the device as safe", "path", b.Path, "error", err)
		return true
	}
	want := normalizeDevice(b.Path)
	for _, id := range ids {
		if strings.EqualFold(normalizeDevice(id), want) {
			return true
		}
	}
	return false
}

func bootIdentifiers(handles []disk.Handle) []string {
	var ids []string
	for _, h := range handles {
		if !h.Boot {
			continue
		}
		ids = append(ids, h.ID)
		ids = append(ids, h.Aliases...)
		for _, p := range h.Partitions {
			ids = append(ids, p.ID)
			ids = append(ids, p.Aliases...)
		}
	}
	return ids
}

// normalizeDevice resolves symlinks such as /dev/disk/by-id and maps the
// macOS raw node /dev/rdiskN onto /dev/diskN.
func normalizeDevice(p string) string {
	if r, err := filepath.EvalSymlinks(p); err == nil {
		p = r
	}
	if strings.HasPrefix(p, "/dev/rdisk") {
		p = "/dev/disk" + strings.TrimPrefix(p, "/dev/rdisk")
	}
	return p
}

// Wipe zeroes the first and last MiB of the disk.
func (b *Direct) Wipe(ctx context.Context, d disk.Handle) error {
	f, err := os.OpenFile(b.Path, os.O_RDWR, 0)
	if err != nil {
		return errors.Wrapf(err, "opening %s", b.Path)
	}
	defer f.Close()
	size, err := deviceSize(f)
	if err != nil {
		return err
	}
	span := int64(wipeSpan)
	if span > size {
		span = size
	}
	if err := zeroSpan(f, 0, span); err != nil {
		return err
	}
	if size > span {
		if err := zeroSpan(f, size-span, span); err != nil {
			return err
		}
	}
	b.Logger.Debugw("wiped", "path", b.Path, "bytes", 2*span)
	return f.Sync()
}

func zeroSpan(f *os.File, off, n int64) error {
	z := make([]byte, n)
	if _, err := f.WriteAt(z, off); err != nil {
		return errors.Wrapf(err, "zeroing %d bytes at %d", n, off)
	}
	return nil
}

func (b *Direct) table(d *diskpkg.Disk, parts []*gpt.Partition) *gpt.Table {
	return &gpt.Table{
		LogicalSectorSize:  int(d.LogicalBlocksize),
		PhysicalSectorSize: int(d.PhysicalBlocksize),
		ProtectiveMBR:      true,
		GUID:               b.guid(),
		Partitions:         parts,
	}
}

// CreateTable writes a GPT with no partitions.
func (b *Direct) CreateTable(ctx context.Context, h disk.Handle) error {
	d, err := b.open(true)
	if err != nil {
		return err
	}
	defer d.File.Close()
	if err := d.Partition(b.table(d, nil)); err != nil {
		return errors.Wrap(err, "writing partition table")
	}
	return nil
}

// CreatePartition writes one EFI System Partition from 1MiB to the last
// usable sector.
func (b *Direct) CreatePartition(ctx context.Context, h disk.Handle, label string) error {
	d, err := b.open(true)
	if err != nil {
		return err
	}
	defer d.File.Close()

	sector := d.LogicalBlocksize
	total := d.Size / sector
	start := (1 << 20) / sector
	end := total - 1 - gptEntryBytes/sector - 1
	if end <= start {
		return errors.Errorf("%s is too small for a partition (%d bytes)", b.Path, d.Size)
	}
	p := &gpt.Partition{
		Start: uint64(start),
		End:   uint64(end),
		Type:  gpt.EFISystemPartition,
		Name:  label,
		GUID:  b.guid(),
	}
	if err := d.Partition(b.table(d, []*gpt.Partition{p})); err != nil {
		return errors.Wrap(err, "writing partition table")
	}
	return nil
}

func (b *Direct) openTable(writable bool) (*diskpkg.Disk, error) {
	d, err := b.open(writable)
	if err != nil {
		return nil, err
	}
	table, err := d.GetPartitionTable()
	if err != nil {
		d.File.Close()
		return nil, errors.Wrapf(err, "reading partition table of %s", b.Path)
	}
	d.Table = table
	return d, nil
}

func (b *Direct) Format(ctx context.Context, p disk.Partition, label string) error {
	n, err := b.partitionNumber(p)
	if err != nil {
		return err
	}
	d, err := b.openTable(true)
	if err != nil {
		return err
	}
	defer d.File.Close()
	_, err = d.CreateFilesystem(diskpkg.FilesystemSpec{
		Partition:   n,
		FSType:      filesystem.TypeFat32,
		VolumeLabel: label,
	})
	if err != nil {
		return errors.Wrapf(err, "creating FAT32 on %s", p.ID)
	}
	return nil
}

// Mount opens the FAT32 filesystem of p for in-process access. The volume
// holds the image open until it is closed.
func (b *Direct) Mount(ctx context.Context, p disk.Partition) (volume.Volume, error) {
	n, err := b.partitionNumber(p)
	if err != nil {
		return nil, err
	}
	d, err := b.openTable(true)
	if err != nil {
		return nil, err
	}
	f, err := d.GetFilesystem(n)
	if err != nil {
		d.File.Close()
		return nil, errors.Wrapf(err, "reading filesystem on %s", p.ID)
	}
	if f.Type() != filesystem.TypeFat32 {
		d.File.Close()
		return nil, errors.Errorf("%s does not hold a FAT32 filesystem", p.ID)
	}
	return &fatVolume{fs: f, file: d.File, root: p.ID}, nil
}
