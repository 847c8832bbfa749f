package provision

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"mkoc/backend"
	"mkoc/disk"
	"mkoc/safety"
	"mkoc/volume"
)

// fakeBackend records steps and reveals the new partition after a number of
// listings.
type fakeBackend struct {
	disk       disk.Handle
	hiddenFor  int
	partition  disk.Partition
	failAt     string
	steps      []string
	listings   int
	afterSteps bool
}

func (f *fakeBackend) Name() string    { return "fake" }
func (f *fakeBackend) Tools() []string { return nil }

func (f *fakeBackend) List(context.Context) ([]disk.Handle, error) {
	f.listings++
	h := f.disk
	h.Partitions = nil
	if f.afterSteps && f.listings > f.hiddenFor {
		h.Partitions = []disk.Partition{f.partition}
	}
	return []disk.Handle{h}, nil
}

func (f *fakeBackend) step(name string) error {
	f.steps = append(f.steps, name)
	if name == f.failAt {
		return &backend.CommandError{Name: name, Output: "device busy", Err: errors.New("exit status 1")}
	}
	return nil
}

func (f *fakeBackend) Wipe(context.Context, disk.Handle) error        { return f.step("wipe") }
func (f *fakeBackend) CreateTable(context.Context, disk.Handle) error { return f.step("table") }
func (f *fakeBackend) CreatePartition(_ context.Context, _ disk.Handle, label string) error {
	f.afterSteps = true
	f.listings = 0
	return f.step("partition " + label)
}
func (f *fakeBackend) Format(_ context.Context, p disk.Partition, label string) error {
	return f.step("format " + p.ID + " " + label)
}
func (f *fakeBackend) Mount(_ context.Context, p disk.Partition) (volume.Volume, error) {
	if err := f.step("mount " + p.ID); err != nil {
		return nil, err
	}
	return volume.NewDir("/mnt/" + filepath.Base(p.ID)), nil
}

var usb = disk.Handle{ID: "/dev/sdb", Bus: disk.BusUSB, SizeBytes: 16 << 30,
	Partitions: []disk.Partition{{ID: "/dev/sdb1", MountPoint: "/media/old"}}}

// cleared runs the real gate to mint a clearance.
func cleared(t *testing.T, target disk.Target, p safety.Policy, answers ...string) safety.Clearance {
	t.Helper()
	g := &safety.Gate{Prompter: &answer{answers: answers}}
	c, err := g.Evaluate(target, p)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

type answer struct{ answers []string }

func (a *answer) Ask(string) (string, error) {
	s := a.answers[0]
	a.answers = a.answers[1:]
	return s, nil
}

func newProvisioner(t *testing.T, b backend.Backend) *Provisioner {
	return &Provisioner{
		Backend:        b,
		Logger:         zaptest.NewLogger(t).Sugar(),
		SettleTimeout:  time.Second,
		SettleInterval: time.Millisecond,
	}
}

func TestProvision(t *testing.T) {
	b := &fakeBackend{disk: usb, hiddenFor: 3, partition: disk.Partition{ID: "/dev/sdb1"}}
	p := newProvisioner(t, b)
	var seen []Step
	p.OnStep = func(s Step) { seen = append(seen, s) }

	res, err := p.Provision(context.Background(), cleared(t, disk.Target{Disk: usb}, safety.Erase, "ERASE"), NewRequest(usb))
	if err != nil {
		t.Fatal(err)
	}
	if res.Partition.ID != "/dev/sdb1" || res.Volume.Root() != "/mnt/sdb1" {
		t.Fatalf("unexpected result %+v", res)
	}
	want := []string{"wipe", "table", "partition OPENCORE", "format /dev/sdb1 OPENCORE", "mount /dev/sdb1"}
	if len(b.steps) != len(want) {
		t.Fatalf("steps %v, want %v", b.steps, want)
	}
	for i := range want {
		if b.steps[i] != want[i] {
			t.Fatalf("steps %v, want %v", b.steps, want)
		}
	}
	if len(seen) != len(Steps) {
		t.Fatalf("reported steps %v", seen)
	}
}

func TestProvisionStopsAtFailedStep(t *testing.T) {
	b := &fakeBackend{disk: usb, partition: disk.Partition{ID: "/dev/sdb1"}, failAt: "table"}
	p := newProvisioner(t, b)

	_, err := p.Provision(context.Background(), cleared(t, disk.Target{Disk: usb}, safety.Erase, "ERASE"), NewRequest(usb))
	var se *StepError
	if !errors.As(err, &se) || se.Step != StepTable {
		t.Fatalf("want StepError at table, got %v", err)
	}
	var ce *backend.CommandError
	if !errors.As(err, &ce) || ce.Output != "device busy" {
		t.Fatalf("tool output not carried: %v", err)
	}
	if len(b.steps) != 2 {
		t.Fatalf("steps after failure ran: %v", b.steps)
	}
}

func TestProvisionSettleTimeout(t *testing.T) {
	b := &fakeBackend{disk: usb, hiddenFor: 1 << 30, partition: disk.Partition{ID: "/dev/sdb1"}}
	p := newProvisioner(t, b)
	p.SettleTimeout = 20 * time.Millisecond

	_, err := p.Provision(context.Background(), cleared(t, disk.Target{Disk: usb}, safety.Erase, "ERASE"), NewRequest(usb))
	var se *StepError
	if !errors.As(err, &se) || se.Step != StepSettle || !errors.Is(err, ErrSettleTimeout) {
		t.Fatalf("want settle timeout, got %v", err)
	}
	if b.listings < 2 {
		t.Fatalf("polled %d times", b.listings)
	}
}

func TestProvisionRequiresMatchingClearance(t *testing.T) {
	other := disk.Handle{ID: "/dev/sdc", Bus: disk.BusUSB}
	esp := disk.Handle{ID: "disk0", Bus: disk.BusInternal, Partitions: []disk.Partition{{ID: "disk0s1"}}}

	testCases := []struct {
		name string
		clr  safety.Clearance
	}{
		{"zero clearance", safety.Clearance{}},
		{"other disk", cleared(t, disk.Target{Disk: other}, safety.Erase, "ERASE")},
		{"non-destructive", cleared(t, disk.Target{Disk: usb}, safety.Restore, "RESTORE")},
		{"partition only", cleared(t, disk.Target{Disk: esp, Partition: &esp.Partitions[0]}, safety.Erase, "INTERNAL", "ERASE")},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b := &fakeBackend{disk: usb}
			d := usb
			if tc.name == "partition only" {
				d = esp
			}
			_, err := newProvisioner(t, b).Provision(context.Background(), tc.clr, NewRequest(d))
			if !errors.Is(err, ErrNotCleared) {
				t.Fatalf("want ErrNotCleared, got %v", err)
			}
			if len(b.steps) != 0 {
				t.Fatalf("ran %v without clearance", b.steps)
			}
		})
	}
}

func TestRequestIsConsumedOnce(t *testing.T) {
	b := &fakeBackend{disk: usb, partition: disk.Partition{ID: "/dev/sdb1"}}
	p := newProvisioner(t, b)
	clr := cleared(t, disk.Target{Disk: usb}, safety.Erase, "ERASE")
	req := NewRequest(usb)
	if req.Label() != "OPENCORE" || req.Scheme() != "gpt-fat32" {
		t.Fatalf("request %s %s", req.Label(), req.Scheme())
	}

	if _, err := p.Provision(context.Background(), clr, req); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Provision(context.Background(), clr, req); !errors.Is(err, ErrConsumed) {
		t.Fatalf("want ErrConsumed, got %v", err)
	}
}

func TestProvisionImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usb.img")
	if err := backend.EnsureImage(path, 128<<20); err != nil {
		t.Fatal(err)
	}
	b := backend.NewDirect(path, zaptest.NewLogger(t).Sugar())
	handles, err := b.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	d := handles[0]

	res, err := newProvisioner(t, b).Provision(context.Background(), cleared(t, disk.Target{Disk: d}, safety.Erase, "ERASE"), NewRequest(d))
	if err != nil {
		t.Fatal(err)
	}
	defer res.Volume.Close()
	if err := res.Volume.MkdirAll("EFI/OC"); err != nil {
		t.Fatal(err)
	}
	if ok, err := volume.Exists(res.Volume, "EFI/OC"); err != nil || !ok {
		t.Fatalf("EFI/OC: %v %v", ok, err)
	}
}
