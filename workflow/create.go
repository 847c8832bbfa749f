package workflow

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"mkoc/disk"
	"mkoc/payload"
	"mkoc/provision"
	"mkoc/safety"
)

// Create erases a chosen removable disk, lays down one FAT32 volume and
// copies the payload onto it. The returned Run is never nil.
func (e *Env) Create(ctx context.Context) (*Run, error) {
	m := newMachine(KindCreate, e.log())
	if err := e.validate(m); err != nil {
		return m.fail(err)
	}

	handles, err := e.enumerate(ctx, disk.OnlyRemovable, false)
	if err != nil {
		return m.fail(err)
	}
	m.to(StateTargetEnumerated)

	t, err := e.choose(ctx, handles, fmt.Sprintf("Disk to erase (identifier, %q for every disk, empty to quit): ", ShowAllAnswer), false)
	if err != nil {
		return m.fail(err)
	}
	if t.Partition != nil {
		return m.fail(errors.Errorf("%s is a partition of %s; give the whole disk", t.Partition.ID, t.Disk.ID))
	}
	m.run.Target = t
	m.to(StateTargetSelected)

	clr, err := e.gate().Evaluate(t, safety.Erase)
	if err != nil {
		return m.fail(err)
	}
	m.to(StateConfirmed)

	ctx, release := e.protect(ctx)
	defer release()

	rep := e.reporter()
	phases := make([]string, 0, len(provision.Steps)+1)
	for _, s := range provision.Steps {
		phases = append(phases, string(s))
	}
	phases = append(phases, phaseCopy)
	rep.Begin("Creating OpenCore disk on "+t.Disk.ID, phases)
	defer rep.Close()
	rep.SetSummary("Target: "+describe(t), "New volume: "+provision.Label+" (FAT32, GPT)")

	var current provision.Step
	p := &provision.Provisioner{
		Backend:        e.Backend,
		Logger:         e.Logger,
		SettleTimeout:  e.SettleTimeout,
		SettleInterval: e.SettleInterval,
		OnStep: func(s provision.Step) {
			if current != "" {
				rep.PhaseDone(string(current))
			}
			current = s
		},
	}
	res, err := p.Provision(ctx, clr, provision.NewRequest(t.Disk))
	if err != nil {
		return m.fail(err)
	}
	rep.PhaseDone(string(current))
	m.run.Root = res.Volume.Root()
	m.to(StateProvisioned)

	in := &payload.Installer{Logger: e.Logger, Now: e.Now, OnFile: func(name string) { rep.Status("copied " + name) }}
	if _, err := in.Install(e.Source, res.Volume, payload.Fresh); err != nil {
		res.Volume.Close()
		return m.fail(errors.Wrap(err, "copying payload"))
	}
	if err := res.Volume.Close(); err != nil {
		return m.fail(errors.Wrap(err, "releasing volume"))
	}
	rep.PhaseDone(phaseCopy)
	m.to(StateInstalled)

	rep.Status(fmt.Sprintf("%s is ready: volume %s on %s", t.Disk.ID, provision.Label, res.Partition.ID))
	m.to(StateFinalized)
	return m.run, nil
}

const phaseCopy = "copy payload"
