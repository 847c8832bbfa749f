package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"mkoc/disk"
	"mkoc/volume"
)

// fat32Limit is the largest volume Format-Volume will create as FAT32.
const fat32Limit = 32 << 30

// Defaults for waiting on a freshly assigned drive letter.
const (
	DefaultReadyTimeout  = 10 * time.Second
	DefaultReadyInterval = 250 * time.Millisecond
)

// Windows drives the PowerShell storage cmdlets.
type Windows struct {
	Runner Runner
	Logger *zap.SugaredLogger
	// Ready reports whether a drive root is usable. It defaults to
	// GetDriveTypeW.
	Ready func(root string) bool
	// ReadyTimeout and ReadyInterval bound the wait for Ready.
	ReadyTimeout  time.Duration
	ReadyInterval time.Duration
}

// NewWindows returns a Windows backend that runs PowerShell through r.
func NewWindows(r Runner, log *zap.SugaredLogger) *Windows {
	return &Windows{Runner: r, Logger: nopLogger(log)}
}

func (b *Windows) Name() string    { return "windows" }
func (b *Windows) Tools() []string { return []string{"powershell"} }

func (b *Windows) ps(ctx context.Context, script string) ([]byte, error) {
	b.Logger.Debugw("running", "cmd", "powershell", "script", script)
	return b.Runner.Run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command",
		"$ErrorActionPreference = 'Stop'; "+script)
}

const listScript = `$disks = @(Get-Disk | Select-Object Number, FriendlyName, Size, @{n='BusType';e={[string]$_.BusType}}, IsBoot, IsSystem)
$parts = @(Get-Partition | ForEach-Object {
  $v = $_ | Get-Volume -ErrorAction SilentlyContinue
  [pscustomobject]@{ DiskNumber = $_.DiskNumber; PartitionNumber = $_.PartitionNumber; DriveLetter = [string]$_.DriveLetter; Size = $_.Size; Type = [string]$_.Type; FileSystem = [string]$v.FileSystem; Label = [string]$v.FileSystemLabel }
})
[pscustomobject]@{ Disks = $disks; Partitions = $parts } | ConvertTo-Json -Depth 4 -Compress`

type psDisk struct {
	Number       int
	FriendlyName string
	Size         int64
	BusType      psEnum
	IsBoot       bool
	IsSystem     bool
}

type psPartition struct {
	DiskNumber      int
	PartitionNumber int
	DriveLetter     string
	Size            int64
	Type            string
	FileSystem      string
	Label           string
}

type psInventory struct {
	Disks      jsonList[psDisk]
	Partitions jsonList[psPartition]
}

// jsonList accepts an array, a lone object or null. ConvertTo-Json unwraps
// single element collections.
type jsonList[T any] []T

func (l *jsonList[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*l = nil
		return nil
	case len(b) > 0 && b[0] == '[':
		var many []T
		if err := json.Unmarshal(b, &many); err != nil {
			return err
		}
		*l = many
		return nil
	}
	var one T
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*l = []T{one}
	return nil
}

// psEnum accepts a CIM enum as either its name or its numeric value.
type psEnum string

// busTypeNames maps MSFT_Disk.BusType values.
var busTypeNames = map[int]string{
	1: "SCSI", 2: "ATAPI", 3: "ATA", 4: "1394", 5: "SSA", 6: "Fibre Channel",
	7: "USB", 8: "RAID", 9: "iSCSI", 10: "SAS", 11: "SATA", 12: "SD", 13: "MMC",
	14: "Virtual", 15: "File Backed Virtual", 16: "Storage Spaces", 17: "NVMe",
}

func (e *psEnum) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		s = strconv.Itoa(n)
	}
	if n, err := strconv.Atoi(s); err == nil {
		s = busTypeNames[n]
	}
	*e = psEnum(s)
	return nil
}

func windowsBus(t psEnum) disk.Bus {
	switch strings.ToUpper(string(t)) {
	case "USB":
		return disk.BusUSB
	case "FILE BACKED VIRTUAL":
		return disk.BusImage
	case "", "UNKNOWN":
		return disk.BusUnknown
	}
	return disk.BusInternal
}

func driveLetter(s string) string {
	s = strings.Trim(s, "\x00 ")
	if len(s) != 1 {
		return ""
	}
	return strings.ToUpper(s)
}

func parseInventory(out []byte) ([]disk.Handle, error) {
	var inv psInventory
	if err := json.Unmarshal(bytes.TrimSpace(out), &inv); err != nil {
		return nil, errors.Wrap(err, "decoding storage inventory")
	}
	handles := make([]disk.Handle, 0, len(inv.Disks))
	for _, d := range inv.Disks {
		h := disk.Handle{
			ID:        strconv.Itoa(d.Number),
			Aliases:   []string{fmt.Sprintf("PhysicalDrive%d", d.Number), fmt.Sprintf(`\\.\PhysicalDrive%d`, d.Number)},
			Model:     strings.TrimSpace(d.FriendlyName),
			SizeBytes: d.Size,
			Bus:       windowsBus(d.BusType),
			Boot:      d.IsBoot || d.IsSystem,
		}
		for _, p := range inv.Partitions {
			if p.DiskNumber != d.Number {
				continue
			}
			part := disk.Partition{
				ID:        fmt.Sprintf("%d:%d", p.DiskNumber, p.PartitionNumber),
				FSType:    p.FileSystem,
				Label:     p.Label,
				SizeBytes: p.Size,
			}
			if l := driveLetter(p.DriveLetter); l != "" {
				part.Aliases = []string{l + ":"}
				part.MountPoint = l + `:\`
			}
			h.Partitions = append(h.Partitions, part)
		}
		handles = append(handles, h)
	}
	return handles, nil
}

func (b *Windows) List(ctx context.Context) ([]disk.Handle, error) {
	out, err := b.ps(ctx, listScript)
	if err != nil {
		return nil, err
	}
	return parseInventory(out)
}

func diskNumber(d disk.Handle) (int, error) {
	n, err := strconv.Atoi(d.ID)
	if err != nil {
		return 0, errors.Errorf("%q is not a disk number", d.ID)
	}
	return n, nil
}

func partitionNumbers(p disk.Partition) (dn, pn int, err error) {
	if _, err := fmt.Sscanf(p.ID, "%d:%d", &dn, &pn); err != nil {
		return 0, 0, errors.Errorf("%q is not a disk:partition pair", p.ID)
	}
	return dn, pn, nil
}

// Wipe clears every partition. An uninitialized disk has nothing to clear.
func (b *Windows) Wipe(ctx context.Context, d disk.Handle) error {
	n, err := diskNumber(d)
	if err != nil {
		return err
	}
	_, err = b.ps(ctx, fmt.Sprintf(
		"if ((Get-Disk -Number %d).PartitionStyle -ne 'RAW') { Clear-Disk -Number %d -RemoveData -RemoveOEM -Confirm:$false }", n, n))
	return err
}

func (b *Windows) CreateTable(ctx context.Context, d disk.Handle) error {
	n, err := diskNumber(d)
	if err != nil {
		return err
	}
	_, err = b.ps(ctx, fmt.Sprintf("Initialize-Disk -Number %d -PartitionStyle GPT", n))
	return err
}

// CreatePartition creates a basic data partition with a drive letter. Disks
// larger than 32GB get a 32GB partition since Format-Volume will not make a
// bigger FAT32 volume.
func (b *Windows) CreatePartition(ctx context.Context, d disk.Handle, _ string) error {
	n, err := diskNumber(d)
	if err != nil {
		return err
	}
	size := "-UseMaximumSize"
	if d.SizeBytes > fat32Limit {
		size = fmt.Sprintf("-Size %d", int64(fat32Limit))
	}
	_, err = b.ps(ctx, fmt.Sprintf("New-Partition -DiskNumber %d %s -AssignDriveLetter | Out-Null", n, size))
	return err
}

func (b *Windows) Format(ctx context.Context, p disk.Partition, label string) error {
	dn, pn, err := partitionNumbers(p)
	if err != nil {
		return err
	}
	_, err = b.ps(ctx, fmt.Sprintf(
		"Get-Partition -DiskNumber %d -PartitionNumber %d | Format-Volume -FileSystem FAT32 -NewFileSystemLabel %s -Confirm:$false -Force | Out-Null",
		dn, pn, psQuote(label)))
	return err
}

// Mount uses the partition's drive letter, assigning one if it has none.
func (b *Windows) Mount(ctx context.Context, p disk.Partition) (volume.Volume, error) {
	root := p.MountPoint
	if root == "" {
		dn, pn, err := partitionNumbers(p)
		if err != nil {
			return nil, err
		}
		out, err := b.ps(ctx, fmt.Sprintf(
			"Add-PartitionAccessPath -DiskNumber %d -PartitionNumber %d -AssignDriveLetter; [string](Get-Partition -DiskNumber %d -PartitionNumber %d).DriveLetter",
			dn, pn, dn, pn))
		if err != nil {
			return nil, err
		}
		l := driveLetter(string(out))
		if l == "" {
			return nil, errors.Errorf("no drive letter assigned to %s", p.ID)
		}
		root = l + `:\`
	}
	if err := b.waitReady(ctx, root); err != nil {
		return nil, err
	}
	b.Logger.Infow("using drive", "partition", p.ID, "root", root, "type", driveTypeName(root))
	return volume.NewDir(root), nil
}

// waitReady polls Ready until the drive answers or the timeout passes. A new
// drive letter takes a moment to come up after Add-PartitionAccessPath.
func (b *Windows) waitReady(ctx context.Context, root string) error {
	ready := b.Ready
	if ready == nil {
		ready = driveReady
	}
	timeout, interval := b.ReadyTimeout, b.ReadyInterval
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}
	if interval <= 0 {
		interval = DefaultReadyInterval
	}
	stop := time.NewTimer(timeout)
	defer stop.Stop()
	for attempt := 1; ; attempt++ {
		if ready(root) {
			return nil
		}
		b.Logger.Debugw("drive not ready", "root", root, "attempt", attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop.C:
			return errors.Errorf("drive %s is not ready after %s", root, timeout)
		case <-time.After(interval):
		}
	}
}

func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
