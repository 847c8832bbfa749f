package backend

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jaypipes/ghw"
	"go.uber.org/zap/zaptest"

	"mkoc/disk"
)

// fakeRunner answers commands from a table and records every call.
type fakeRunner struct {
	outputs map[string]string
	fail    map[string]error
	calls   []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	call := strings.Join(append([]string{name}, args...), " ")
	f.calls = append(f.calls, call)
	if err, ok := f.fail[call]; ok {
		return []byte(f.outputs[call]), &CommandError{Name: name, Args: args, Output: f.outputs[call], Err: err}
	}
	return []byte(f.outputs[call]), nil
}

func callsEqual(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got calls\n%s\nwant\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("call %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCommandErrorKeepsOutput(t *testing.T) {
	err := &CommandError{Name: "parted", Args: []string{"-s", "/dev/sdb", "mklabel", "gpt"}, Output: "Error: Partition(s) on /dev/sdb are being used.\n", Err: errors.New("exit status 1")}
	want := "parted -s /dev/sdb mklabel gpt: exit status 1\nError: Partition(s) on /dev/sdb are being used."
	if err.Error() != want {
		t.Fatalf("got %q", err.Error())
	}
}

func TestLinuxList(t *testing.T) {
	l := NewLinux(&fakeRunner{}, zaptest.NewLogger(t).Sugar())
	l.Disks = func() ([]*ghw.Disk, error) {
		return []*ghw.Disk{
			{Name: "nvme0n1", SizeBytes: 512 << 30, BusPath: "pci-0000:01:00.0-nvme-1", Model: "Samsung SSD",
				Partitions: []*ghw.Partition{
					{Name: "nvme0n1p1", Type: "vfat", MountPoint: "/boot/efi", SizeBytes: 512 << 20},
					{Name: "nvme0n1p2", Type: "ext4", MountPoint: "/", SizeBytes: 500 << 30},
				}},
			{Name: "sdb", SizeBytes: 16 << 30, BusPath: "pci-0000:00:14.0-usb-0:2:1.0-scsi-0:0:0:0", Vendor: "Kingston", Model: "DataTraveler",
				Partitions: []*ghw.Partition{{Name: "sdb1", Type: "vfat", Label: "USB", MountPoint: "/media/usb"}}},
			{Name: "loop0", SizeBytes: 1 << 20},
			{Name: "sdc", SizeBytes: 1 << 40, BusPath: "pci-0000:00:17.0-ata-1"},
		}, nil
	}

	handles, err := l.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(handles) != 3 {
		t.Fatalf("want 3 disks, got %+v", handles)
	}
	nvme, usb, sata := handles[0], handles[1], handles[2]
	if !nvme.Boot || nvme.Bus != disk.BusInternal {
		t.Errorf("nvme0n1: boot=%v bus=%s", nvme.Boot, nvme.Bus)
	}
	if usb.Boot || usb.Bus != disk.BusUSB || usb.ID != "/dev/sdb" || usb.Model != "Kingston DataTraveler" {
		t.Errorf("sdb: %+v", usb)
	}
	if len(usb.Partitions) != 1 || usb.Partitions[0].ID != "/dev/sdb1" || usb.Partitions[0].Aliases[0] != "sdb1" {
		t.Errorf("sdb partitions: %+v", usb.Partitions)
	}
	if sata.Bus != disk.BusInternal || sata.Boot {
		t.Errorf("sdc: %+v", sata)
	}
}

func TestLinuxPartitionLabel(t *testing.T) {
	l := NewLinux(&fakeRunner{}, zaptest.NewLogger(t).Sugar())
	l.Disks = func() ([]*ghw.Disk, error) {
		return []*ghw.Disk{{Name: "sdb", BusPath: "pci-0000:00:14.0-usb-0:2:1.0-scsi-0:0:0:0", Partitions: []*ghw.Partition{
			{Name: "sdb1", Type: "vfat", Label: "EFI System Partition", FilesystemLabel: "OPENCORE"},
			{Name: "sdb2", Type: "vfat", Label: "DATA"},
		}}}, nil
	}
	handles, err := l.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	parts := handles[0].Partitions
	if parts[0].Label != "OPENCORE" || parts[1].Label != "DATA" {
		t.Fatalf("labels %q %q", parts[0].Label, parts[1].Label)
	}
}

func TestLinuxBus(t *testing.T) {
	testCases := []struct {
		busPath   string
		removable bool
		want      disk.Bus
	}{
		{"pci-0000:00:14.0-usb-0:2:1.0-scsi-0:0:0:0", false, disk.BusUSB},
		{"pci-0000:00:14.0-usb-0:2:1.0-scsi-0:0:0:0", true, disk.BusUSB},
		{"platform-fe320000.mmc", true, disk.BusRemovable},
		{"", true, disk.BusRemovable},
		{"pci-0000:01:00.0-nvme-1", false, disk.BusInternal},
		{"unknown", false, disk.BusUnknown},
		{"", false, disk.BusUnknown},
	}
	for _, tc := range testCases {
		if got := linuxBus(tc.busPath, tc.removable); got != tc.want {
			t.Errorf("linuxBus(%q, %v) = %s, want %s", tc.busPath, tc.removable, got, tc.want)
		}
	}
}

func TestIsWholeLinuxDevice(t *testing.T) {
	for name, want := range map[string]bool{
		"sda": true, "vdb": true, "nvme0n1": true, "mmcblk0": true,
		"sda1": false, "nvme0n1p2": false, "mmcblk0p1": false, "loop0": false, "sr0": false, "zram0": false,
	} {
		if got := isWholeLinuxDevice(name); got != want {
			t.Errorf("%s: got %v, want %v", name, got, want)
		}
	}
}

func TestLinuxProvisionCommands(t *testing.T) {
	r := &fakeRunner{}
	l := NewLinux(r, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()
	d := disk.Handle{ID: "/dev/sdb", Partitions: []disk.Partition{
		{ID: "/dev/sdb1", MountPoint: "/media/usb"},
		{ID: "/dev/sdb2"},
	}}

	if err := l.Wipe(ctx, d); err != nil {
		t.Fatal(err)
	}
	if err := l.CreateTable(ctx, d); err != nil {
		t.Fatal(err)
	}
	if err := l.CreatePartition(ctx, d, "OPENCORE"); err != nil {
		t.Fatal(err)
	}
	if err := l.Format(ctx, disk.Partition{ID: "/dev/sdb1"}, "OPENCORE"); err != nil {
		t.Fatal(err)
	}
	callsEqual(t, r.calls, []string{
		"umount /dev/sdb1",
		"wipefs -a /dev/sdb",
		"parted -s /dev/sdb mklabel gpt",
		"parted -s -a optimal /dev/sdb mkpart OPENCORE fat32 1MiB 100%",
		"parted -s /dev/sdb set 1 esp on",
		"partprobe /dev/sdb",
		"mkfs.vfat -F 32 -n OPENCORE /dev/sdb1",
	})
}

func TestLinuxStopsAtFailingTool(t *testing.T) {
	r := &fakeRunner{
		outputs: map[string]string{"wipefs -a /dev/sdb": "wipefs: error: /dev/sdb: probing initialization failed: Device or resource busy\n"},
		fail:    map[string]error{"wipefs -a /dev/sdb": errors.New("exit status 1")},
	}
	l := NewLinux(r, zaptest.NewLogger(t).Sugar())
	err := l.Wipe(context.Background(), disk.Handle{ID: "/dev/sdb"})
	var ce *CommandError
	if !errors.As(err, &ce) {
		t.Fatalf("want CommandError, got %v", err)
	}
	if !strings.Contains(err.Error(), "Device or resource busy") {
		t.Fatalf("tool output lost: %v", err)
	}
}

func TestLinuxMount(t *testing.T) {
	var mounted, unmounted string
	l := NewLinux(&fakeRunner{}, zaptest.NewLogger(t).Sugar())
	l.MountDir = t.TempDir()
	l.MountFS = func(source, target, fstype string) error {
		if source != "/dev/sdb1" || fstype != "vfat" {
			t.Errorf("mount %s %s", source, fstype)
		}
		mounted = target
		return nil
	}
	l.UnmountFS = func(target string) error {
		unmounted = target
		return nil
	}

	v, err := l.Mount(context.Background(), disk.Partition{ID: "/dev/sdb1"})
	if err != nil {
		t.Fatal(err)
	}
	if v.Root() != mounted {
		t.Fatalf("volume root %s, mounted on %s", v.Root(), mounted)
	}
	if err := v.Close(); err != nil {
		t.Fatal(err)
	}
	if unmounted != mounted {
		t.Fatalf("unmounted %q, want %q", unmounted, mounted)
	}
	if _, err := os.Stat(mounted); !os.IsNotExist(err) {
		t.Fatalf("mount point left behind: %v", err)
	}

	v, err = l.Mount(context.Background(), disk.Partition{ID: "/dev/sdc1", MountPoint: "/media/esp"})
	if err != nil || v.Root() != "/media/esp" {
		t.Fatalf("already mounted partition: %v %v", v, err)
	}
}

// plistDoc wraps a dict body in the XML plist envelope diskutil prints.
func plistDoc(body string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
` + body + `</dict>
</plist>
`
}

var diskutilListPlist = plistDoc(`	<key>AllDisks</key>
	<array>
		<string>disk0</string>
		<string>disk0s1</string>
		<string>disk0s2</string>
		<string>disk4</string>
		<string>disk4s1</string>
	</array>
	<key>AllDisksAndPartitions</key>
	<array>
		<dict>
			<key>Content</key>
			<string>GUID_partition_scheme</string>
			<key>DeviceIdentifier</key>
			<string>disk0</string>
			<key>OSInternal</key>
			<false/>
			<key>Partitions</key>
			<array>
				<dict>
					<key>Content</key>
					<string>EFI</string>
					<key>DeviceIdentifier</key>
					<string>disk0s1</string>
					<key>Size</key>
					<integer>209715200</integer>
					<key>VolumeName</key>
					<string>EFI</string>
				</dict>
				<dict>
					<key>Content</key>
					<string>Apple_APFS</string>
					<key>DeviceIdentifier</key>
					<string>disk0s2</string>
					<key>Size</key>
					<integer>500068036608</integer>
				</dict>
			</array>
			<key>Size</key>
			<integer>500277792768</integer>
		</dict>
		<dict>
			<key>APFSPhysicalStores</key>
			<array>
				<dict>
					<key>DeviceIdentifier</key>
					<string>disk0s2</string>
				</dict>
			</array>
			<key>Content</key>
			<string>EF57347C-0000-11AA-AA11-00306543ECAC</string>
			<key>DeviceIdentifier</key>
			<string>disk3</string>
			<key>Size</key>
			<integer>500068036608</integer>
		</dict>
		<dict>
			<key>Content</key>
			<string>FDisk_partition_scheme</string>
			<key>DeviceIdentifier</key>
			<string>disk4</string>
			<key>OSInternal</key>
			<false/>
			<key>Partitions</key>
			<array>
				<dict>
					<key>Content</key>
					<string>Windows_FAT_32</string>
					<key>DeviceIdentifier</key>
					<string>disk4s1</string>
					<key>MountPoint</key>
					<string>/Volumes/KINGSTON</string>
					<key>Size</key>
					<integer>16005464064</integer>
					<key>VolumeName</key>
					<string>KINGSTON</string>
				</dict>
			</array>
			<key>Size</key>
			<integer>16008609792</integer>
		</dict>
	</array>
`)

func darwinRunner() *fakeRunner {
	return &fakeRunner{outputs: map[string]string{
		"diskutil list -plist physical": diskutilListPlist,
		"diskutil info -plist /": plistDoc(`	<key>APFSPhysicalStores</key>
	<array>
		<dict>
			<key>APFSPhysicalStore</key>
			<string>disk0s2</string>
		</dict>
	</array>
	<key>DeviceIdentifier</key>
	<string>disk3s1s1</string>
	<key>MountPoint</key>
	<string>/</string>
	<key>ParentWholeDisk</key>
	<string>disk3</string>
`),
		"diskutil info -plist disk0": plistDoc(`	<key>BusProtocol</key>
	<string>Apple Fabric</string>
	<key>DeviceIdentifier</key>
	<string>disk0</string>
	<key>Internal</key>
	<true/>
	<key>MediaName</key>
	<string>APPLE SSD AP0512Q</string>
	<key>RemovableMedia</key>
	<false/>
	<key>TotalSize</key>
	<integer>500277792768</integer>
`),
		"diskutil info -plist disk0s1": plistDoc(`	<key>DeviceIdentifier</key>
	<string>disk0s1</string>
	<key>FilesystemType</key>
	<string>msdos</string>
	<key>VolumeName</key>
	<string>EFI</string>
`),
		"diskutil info -plist disk0s2": plistDoc(`	<key>DeviceIdentifier</key>
	<string>disk0s2</string>
	<key>ParentWholeDisk</key>
	<string>disk0</string>
`),
		"diskutil info -plist disk4": plistDoc(`	<key>BusProtocol</key>
	<string>USB</string>
	<key>DeviceIdentifier</key>
	<string>disk4</string>
	<key>Internal</key>
	<false/>
	<key>MediaName</key>
	<string>DataTraveler 3.0</string>
	<key>RemovableMedia</key>
	<true/>
	<key>TotalSize</key>
	<integer>16008609792</integer>
`),
		"diskutil info -plist disk4s1": plistDoc(`	<key>DeviceIdentifier</key>
	<string>disk4s1</string>
	<key>FilesystemType</key>
	<string>msdos</string>
	<key>MountPoint</key>
	<string>/Volumes/KINGSTON</string>
	<key>VolumeName</key>
	<string>KINGSTON</string>
`),
	}}
}

func TestDarwinList(t *testing.T) {
	b := NewDarwin(darwinRunner(), zaptest.NewLogger(t).Sugar())
	b.Mounts = func() []mountEntry {
		return []mountEntry{{Device: "/dev/disk0s1", MountPoint: "/Volumes/EFI", FSType: "msdos"}}
	}

	handles, err := b.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(handles) != 2 {
		t.Fatalf("synthesized disk not skipped: %+v", handles)
	}
	internal, usb := handles[0], handles[1]
	if internal.ID != "disk0" || !internal.Boot || internal.Bus != disk.BusInternal || internal.SizeBytes != 500277792768 || internal.Model != "APPLE SSD AP0512Q" {
		t.Errorf("disk0: %+v", internal)
	}
	if p := internal.Partitions[0]; p.MountPoint != "/Volumes/EFI" || p.FSType != "msdos" || p.Label != "EFI" || p.SizeBytes != 209715200 {
		t.Errorf("disk0s1: %+v", p)
	}
	if usb.ID != "disk4" || usb.Boot || usb.Bus != disk.BusUSB || usb.Aliases[0] != "/dev/disk4" {
		t.Errorf("disk4: %+v", usb)
	}
	if p := usb.Partitions[0]; p.MountPoint != "/Volumes/KINGSTON" || p.Label != "KINGSTON" || p.FSType != "msdos" {
		t.Errorf("disk4s1: %+v", p)
	}
}

func TestDarwinBootDisk(t *testing.T) {
	testCases := []struct {
		name string
		info string
		want string
	}{
		{"apfs physical store", `	<key>APFSPhysicalStores</key>
	<array>
		<dict>
			<key>APFSPhysicalStore</key>
			<string>disk1s2</string>
		</dict>
	</array>
	<key>ParentWholeDisk</key>
	<string>disk3</string>
`, "disk1"},
		{"hfs parent", `	<key>DeviceIdentifier</key>
	<string>disk0s2</string>
	<key>ParentWholeDisk</key>
	<string>disk0</string>
`, "disk0"},
		{"partition only", `	<key>DeviceIdentifier</key>
	<string>disk2s3</string>
`, "disk2"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := &fakeRunner{outputs: map[string]string{"diskutil info -plist /": plistDoc(tc.info)}}
			b := NewDarwin(r, zaptest.NewLogger(t).Sugar())
			got, err := b.bootDisk(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestDarwinBus(t *testing.T) {
	testCases := []struct {
		info diskutilInfo
		want disk.Bus
	}{
		{diskutilInfo{BusProtocol: "USB", RemovableMedia: true}, disk.BusUSB},
		{diskutilInfo{BusProtocol: "Disk Image"}, disk.BusImage},
		{diskutilInfo{BusProtocol: "Secure Digital", RemovableMedia: true}, disk.BusRemovable},
		{diskutilInfo{BusProtocol: "PCI-Express", Internal: true}, disk.BusInternal},
		{diskutilInfo{}, disk.BusUnknown},
	}
	for _, tc := range testCases {
		if got := darwinBus(tc.info); got != tc.want {
			t.Errorf("%+v: got %s, want %s", tc.info, got, tc.want)
		}
	}
}

func TestDarwinProvisionCommands(t *testing.T) {
	r := darwinRunner()
	r.outputs["diskutil list -plist disk4"] = plistDoc(`	<key>AllDisksAndPartitions</key>
	<array>
		<dict>
			<key>Content</key>
			<string>GUID_partition_scheme</string>
			<key>DeviceIdentifier</key>
			<string>disk4</string>
			<key>Partitions</key>
			<array>
				<dict>
					<key>Content</key>
					<string>EFI</string>
					<key>DeviceIdentifier</key>
					<string>disk4s1</string>
					<key>Size</key>
					<integer>209715200</integer>
				</dict>
			</array>
			<key>Size</key>
			<integer>16008609792</integer>
		</dict>
	</array>
`)
	b := NewDarwin(r, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()
	d := disk.Handle{ID: "disk4"}

	for _, step := range []func() error{
		func() error { return b.Wipe(ctx, d) },
		func() error { return b.CreateTable(ctx, d) },
		func() error { return b.CreatePartition(ctx, d, "OPENCORE") },
		func() error { return b.Format(ctx, disk.Partition{ID: "disk4s2"}, "OPENCORE") },
	} {
		if err := step(); err != nil {
			t.Fatal(err)
		}
	}
	callsEqual(t, r.calls, []string{
		"diskutil unmountDisk force disk4",
		"diskutil partitionDisk disk4 1 GPT Free Space %noformat% 100%",
		"diskutil list -plist disk4",
		"diskutil addPartition disk4s1 %noformat% OPENCORE 0",
		"diskutil eraseVolume FAT32 OPENCORE disk4s2",
	})
}

func TestDarwinCreatePartitionOnEmptyTable(t *testing.T) {
	r := &fakeRunner{outputs: map[string]string{"diskutil list -plist disk5": plistDoc(`	<key>AllDisksAndPartitions</key>
	<array>
		<dict>
			<key>Content</key>
			<string>GUID_partition_scheme</string>
			<key>DeviceIdentifier</key>
			<string>disk5</string>
			<key>Size</key>
			<integer>1000000000</integer>
		</dict>
	</array>
`)}}
	b := NewDarwin(r, zaptest.NewLogger(t).Sugar())
	if err := b.CreatePartition(context.Background(), disk.Handle{ID: "disk5"}, "OPENCORE"); err != nil {
		t.Fatal(err)
	}
	callsEqual(t, r.calls, []string{
		"diskutil list -plist disk5",
		"diskutil partitionDisk disk5 1 GPT %noformat% OPENCORE 100%",
	})
}

func TestParseInventory(t *testing.T) {
	testCases := []struct {
		name string
		json string
		want []disk.Handle
	}{
		{
			name: "arrays with enum names",
			json: `{"Disks":[{"Number":0,"FriendlyName":"NVMe SSD","Size":512110190592,"BusType":"NVMe","IsBoot":true,"IsSystem":true},` +
				`{"Number":1,"FriendlyName":"SanDisk Ultra ","Size":30752000000,"BusType":"USB","IsBoot":false,"IsSystem":false}],` +
				`"Partitions":[{"DiskNumber":0,"PartitionNumber":1,"DriveLetter":"\u0000","Size":104857600,"Type":"System","FileSystem":"FAT32","Label":""},` +
				`{"DiskNumber":1,"PartitionNumber":1,"DriveLetter":"e","Size":30750000000,"Type":"Basic","FileSystem":"FAT32","Label":"USB"}]}`,
			want: []disk.Handle{
				{ID: "0", Model: "NVMe SSD", SizeBytes: 512110190592, Bus: disk.BusInternal, Boot: true,
					Partitions: []disk.Partition{{ID: "0:1", FSType: "FAT32", SizeBytes: 104857600}}},
				{ID: "1", Model: "SanDisk Ultra", SizeBytes: 30752000000, Bus: disk.BusUSB,
					Partitions: []disk.Partition{{ID: "1:1", Aliases: []string{"E:"}, FSType: "FAT32", Label: "USB", MountPoint: `E:\`, SizeBytes: 30750000000}}},
			},
		},
		{
			name: "single objects with numeric enum",
			json: `{"Disks":{"Number":2,"FriendlyName":"Flash","Size":8000000000,"BusType":7,"IsBoot":false,"IsSystem":false},"Partitions":null}`,
			want: []disk.Handle{{ID: "2", Model: "Flash", SizeBytes: 8000000000, Bus: disk.BusUSB}},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseInventory([]byte(tc.json))
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got %d disks, want %d", len(got), len(tc.want))
			}
			for i := range got {
				g, w := got[i], tc.want[i]
				if g.ID != w.ID || g.Model != w.Model || g.SizeBytes != w.SizeBytes || g.Bus != w.Bus || g.Boot != w.Boot {
					t.Errorf("disk %d: got %+v, want %+v", i, g, w)
				}
				if g.Aliases[0] != "PhysicalDrive"+w.ID {
					t.Errorf("disk %d aliases %v", i, g.Aliases)
				}
				if len(g.Partitions) != len(w.Partitions) {
					t.Fatalf("disk %d partitions: got %+v, want %+v", i, g.Partitions, w.Partitions)
				}
				for j := range g.Partitions {
					gp, wp := g.Partitions[j], w.Partitions[j]
					if gp.ID != wp.ID || gp.MountPoint != wp.MountPoint || gp.Label != wp.Label || len(gp.Aliases) != len(wp.Aliases) {
						t.Errorf("partition %s: got %+v, want %+v", wp.ID, gp, wp)
					}
				}
			}
		})
	}
}

func TestWindowsCommands(t *testing.T) {
	r := &fakeRunner{}
	b := NewWindows(r, zaptest.NewLogger(t).Sugar())
	b.Ready = func(root string) bool { return root == `E:\` }
	b.ReadyTimeout, b.ReadyInterval = 20*time.Millisecond, time.Millisecond
	ctx := context.Background()
	small := disk.Handle{ID: "1", SizeBytes: 16 << 30}
	large := disk.Handle{ID: "2", SizeBytes: 128 << 30}

	if err := b.Wipe(ctx, small); err != nil {
		t.Fatal(err)
	}
	if err := b.CreateTable(ctx, small); err != nil {
		t.Fatal(err)
	}
	if err := b.CreatePartition(ctx, small, "OPENCORE"); err != nil {
		t.Fatal(err)
	}
	if err := b.CreatePartition(ctx, large, "OPENCORE"); err != nil {
		t.Fatal(err)
	}
	if err := b.Format(ctx, disk.Partition{ID: "1:2"}, "OPENCORE"); err != nil {
		t.Fatal(err)
	}
	for i, want := range []string{
		"Clear-Disk -Number 1 -RemoveData -RemoveOEM",
		"Initialize-Disk -Number 1 -PartitionStyle GPT",
		"New-Partition -DiskNumber 1 -UseMaximumSize -AssignDriveLetter",
		"New-Partition -DiskNumber 2 -Size 34359738368 -AssignDriveLetter",
		"Get-Partition -DiskNumber 1 -PartitionNumber 2 | Format-Volume -FileSystem FAT32 -NewFileSystemLabel 'OPENCORE'",
	} {
		if !strings.HasPrefix(r.calls[i], "powershell -NoProfile -NonInteractive -Command ") || !strings.Contains(r.calls[i], want) {
			t.Errorf("call %d = %q, want it to contain %q", i, r.calls[i], want)
		}
	}

	v, err := b.Mount(ctx, disk.Partition{ID: "1:2", MountPoint: `E:\`})
	if err != nil || v.Root() != `E:\` {
		t.Fatalf("mount: %v %v", v, err)
	}
	if _, err := b.Mount(ctx, disk.Partition{ID: "1:3", MountPoint: `F:\`}); err == nil {
		t.Fatal("unready drive mounted")
	}
}

func TestWholeDisk(t *testing.T) {
	for id, want := range map[string]string{
		"disk0": "disk0", "disk0s2": "disk0", "disk3s1s1": "disk3", "disk12s4": "disk12",
	} {
		if got := wholeDisk(id); got != want {
			t.Errorf("%s: got %s, want %s", id, got, want)
		}
	}
}

func TestWindowsMountWaitsForDrive(t *testing.T) {
	polls := 0
	b := NewWindows(&fakeRunner{outputs: map[string]string{}}, zaptest.NewLogger(t).Sugar())
	b.Ready = func(string) bool {
		polls++
		return polls >= 3
	}
	b.ReadyTimeout, b.ReadyInterval = 5*time.Second, time.Millisecond

	v, err := b.Mount(context.Background(), disk.Partition{ID: "1:2", MountPoint: `G:\`})
	if err != nil {
		t.Fatal(err)
	}
	if v.Root() != `G:\` || polls != 3 {
		t.Fatalf("root %s after %d polls", v.Root(), polls)
	}
}

func TestWindowsMountStopsOnCancel(t *testing.T) {
	b := NewWindows(&fakeRunner{}, zaptest.NewLogger(t).Sugar())
	b.Ready = func(string) bool { return false }
	b.ReadyTimeout, b.ReadyInterval = time.Minute, time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Mount(ctx, disk.Partition{ID: "1:2", MountPoint: `G:\`}); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}
