// Package provision turns a cleared disk into a single FAT32 volume on a GPT.
package provision

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"mkoc/backend"
	"mkoc/disk"
	"mkoc/safety"
	"mkoc/volume"
)

const (
	// Label is the volume label of every provisioned disk.
	Label = "OPENCORE"
	// Scheme is the only layout produced.
	Scheme = "gpt-fat32"

	DefaultSettleTimeout  = 30 * time.Second
	DefaultSettleInterval = 500 * time.Millisecond
)

// Step names one provisioning stage.
type Step string

const (
	StepWipe      Step = "wipe"
	StepTable     Step = "partition table"
	StepPartition Step = "create partition"
	StepSettle    Step = "wait for partition"
	StepFormat    Step = "format"
	StepMount     Step = "mount"
)

// Steps lists the stages in execution order.
var Steps = []Step{StepWipe, StepTable, StepPartition, StepSettle, StepFormat, StepMount}

// StepError is a failed destructive step. The disk is left as the step left
// it; nothing is rolled back.
type StepError struct {
	Step Step
	Disk string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("provisioning %s failed at %s: %v", e.Disk, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

var (
	// ErrNotCleared is returned when the clearance does not cover the request.
	ErrNotCleared = errors.New("target was not cleared for erasing")
	// ErrConsumed is returned when a request is provisioned twice.
	ErrConsumed = errors.New("provisioning request already used")
	// ErrSettleTimeout is returned when the new partition never shows up.
	ErrSettleTimeout = errors.New("new partition did not appear in time")
)

// Request asks for one disk to be provisioned. It can be used once.
type Request struct {
	disk   disk.Handle
	label  string
	scheme string
	used   bool
}

// NewRequest builds the request for d.
func NewRequest(d disk.Handle) *Request {
	return &Request{disk: d, label: Label, scheme: Scheme}
}

func (r *Request) Disk() disk.Handle { return r.disk }
func (r *Request) Label() string     { return r.label }
func (r *Request) Scheme() string    { return r.scheme }

// Provisioner runs the provisioning steps against a backend.
type Provisioner struct {
	Backend        backend.Backend
	Logger         *zap.SugaredLogger
	SettleTimeout  time.Duration
	SettleInterval time.Duration
	// OnStep is called as each step starts.
	OnStep func(Step)
}

func (p *Provisioner) log() *zap.SugaredLogger {
	if p.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return p.Logger
}

// Result is a provisioned and mounted volume.
type Result struct {
	Partition disk.Partition
	Volume    volume.Volume
}

// Provision erases the requested disk and returns its new volume, mounted.
// The clearance must be destructive and name the requested disk.
func (p *Provisioner) Provision(ctx context.Context, clr safety.Clearance, req *Request) (Result, error) {
	d := req.disk
	if !clr.Valid() || !clr.Destructive() || clr.Target() != d.ID || clr.Disk() != d.ID {
		return Result{}, errors.Wrapf(ErrNotCleared, "request for %s, clearance for %q", d.ID, clr.Target())
	}
	if req.used {
		return Result{}, ErrConsumed
	}
	req.used = true

	log := p.log().With("disk", d.ID)
	fail := func(s Step, err error) (Result, error) {
		log.Errorw("provisioning step failed", "step", s, "error", err)
		return Result{}, &StepError{Step: s, Disk: d.ID, Err: err}
	}

	for _, s := range []struct {
		step Step
		run  func() error
	}{
		{StepWipe, func() error { return p.Backend.Wipe(ctx, d) }},
		{StepTable, func() error { return p.Backend.CreateTable(ctx, d) }},
		{StepPartition, func() error { return p.Backend.CreatePartition(ctx, d, req.label) }},
	} {
		p.begin(s.step)
		log.Infow("provisioning", "step", s.step)
		if err := s.run(); err != nil {
			return fail(s.step, err)
		}
	}

	p.begin(StepSettle)
	part, err := p.waitFor(ctx, d.ID, lastPartition)
	if err != nil {
		return fail(StepSettle, err)
	}
	log.Infow("partition appeared", "partition", part.ID)

	p.begin(StepFormat)
	if err := p.Backend.Format(ctx, part, req.label); err != nil {
		return fail(StepFormat, err)
	}

	p.begin(StepMount)
	// formatting may auto-mount or reassign a drive letter; reread it
	part, err = p.waitFor(ctx, d.ID, partitionByID(part.ID))
	if err != nil {
		return fail(StepMount, err)
	}
	vol, err := p.Backend.Mount(ctx, part)
	if err != nil {
		return fail(StepMount, err)
	}
	log.Infow("provisioned", "partition", part.ID, "root", vol.Root())
	return Result{Partition: part, Volume: vol}, nil
}

func (p *Provisioner) begin(s Step) {
	if p.OnStep != nil {
		p.OnStep(s)
	}
}

func lastPartition(h disk.Handle) (disk.Partition, bool) {
	if len(h.Partitions) == 0 {
		return disk.Partition{}, false
	}
	return h.Partitions[len(h.Partitions)-1], true
}

func partitionByID(id string) func(disk.Handle) (disk.Partition, bool) {
	return func(h disk.Handle) (disk.Partition, bool) {
		for _, part := range h.Partitions {
			if part.ID == id {
				return part, true
			}
		}
		return disk.Partition{}, false
	}
}

// waitFor re-enumerates until pick finds a partition on disk id, or the
// settle timeout passes.
func (p *Provisioner) waitFor(ctx context.Context, id string, pick func(disk.Handle) (disk.Partition, bool)) (disk.Partition, error) {
	timeout, interval := p.SettleTimeout, p.SettleInterval
	if timeout <= 0 {
		timeout = DefaultSettleTimeout
	}
	if interval <= 0 {
		interval = DefaultSettleInterval
	}
	stop := time.NewTimer(timeout)
	defer stop.Stop()
	for attempt := 1; ; attempt++ {
		handles, err := p.Backend.List(ctx)
		if err == nil {
			h, rerr := disk.ResolveDisk(handles, id)
			if rerr == nil {
				if part, ok := pick(h); ok {
					return part, nil
				}
			}
		} else {
			p.log().Debugw("listing while settling", "attempt", attempt, "error", err)
		}
		select {
		case <-ctx.Done():
			return disk.Partition{}, ctx.Err()
		case <-stop.C:
			return disk.Partition{}, errors.Wrapf(ErrSettleTimeout, "after %s", timeout)
		case <-time.After(interval):
		}
	}
}
