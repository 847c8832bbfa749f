package workflow

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"mkoc/backend"
	"mkoc/disk"
	"mkoc/payload"
	"mkoc/precheck"
	"mkoc/safety"
	"mkoc/screen"
)

// ShowAllAnswer at the selection prompt asks for the unfiltered listing.
const ShowAllAnswer = "all"

// Env carries everything a workflow run touches.
type Env struct {
	Backend  backend.Backend
	Source   payload.Source
	Prompter safety.Prompter
	// Out receives the listing and the confirmation text.
	Out      io.Writer
	Reporter screen.Reporter
	// Finalizer runs after a successful restore. Nil skips it.
	Finalizer Finalizer
	Checker   *precheck.Checker
	Logger    *zap.SugaredLogger
	// Guard keeps interrupts away from the destructive section. Nil
	// disables it.
	Guard *Guard

	SettleTimeout  time.Duration
	SettleInterval time.Duration
	Now            func() time.Time
}

func (e *Env) log() *zap.SugaredLogger {
	if e.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return e.Logger
}

func (e *Env) out() io.Writer {
	if e.Out == nil {
		return io.Discard
	}
	return e.Out
}

func (e *Env) reporter() screen.Reporter {
	if e.Reporter == nil {
		return &screen.Plain{Out: e.out()}
	}
	return e.Reporter
}

func (e *Env) checker() *precheck.Checker {
	if e.Checker == nil {
		return &precheck.Checker{}
	}
	return e.Checker
}

// protect enters the section that cannot be cancelled. The returned context
// ignores cancellation of ctx.
func (e *Env) protect(ctx context.Context) (context.Context, func()) {
	fmt.Fprintln(e.out(), "\nWriting now. This cannot be interrupted; do not remove the disk.")
	if e.Guard == nil {
		return context.WithoutCancel(ctx), func() {}
	}
	return context.WithoutCancel(ctx), e.Guard.Protect()
}

func (e *Env) gate() *safety.Gate {
	return &safety.Gate{Prompter: e.Prompter, Out: e.Out, Logger: e.Logger}
}

// validate runs the payload check and then the environment checks, moving
// m through the matching states.
func (e *Env) validate(m *machine) error {
	if err := precheck.CheckPayload(e.Source); err != nil {
		return err
	}
	m.to(StateSourceValidated)
	if err := e.checker().Environment(e.Backend.Tools()); err != nil {
		return err
	}
	m.to(StatePreconditionsChecked)
	return nil
}

// enumerate lists candidates with filter and prints them.
func (e *Env) enumerate(ctx context.Context, filter disk.Filter, partitions bool) ([]disk.Handle, error) {
	handles, err := disk.ListCandidates(ctx, e.Backend, filter)
	if err != nil {
		return nil, err
	}
	e.log().Debugw("enumerated", "filter", filter.String(), "count", len(handles))
	fmt.Fprintf(e.out(), "\nDisks (%s):\n", filter)
	PrintDisks(e.out(), handles, partitions)
	return handles, nil
}

// choose asks for an identifier among handles. Answering "all" re-lists
// every disk after the show-all confirmation. An empty answer aborts.
func (e *Env) choose(ctx context.Context, handles []disk.Handle, question string, partitions bool) (disk.Target, error) {
	for {
		answer, err := e.Prompter.Ask(question)
		if err == io.EOF {
			return disk.Target{}, errors.Wrap(safety.ErrAborted, "no target selected")
		}
		if err != nil {
			return disk.Target{}, errors.Wrap(err, "reading selection")
		}
		switch id := strings.TrimSpace(answer); id {
		case "":
			return disk.Target{}, errors.Wrap(safety.ErrAborted, "no target selected")
		case ShowAllAnswer:
			if err := e.gate().ConfirmShowAll(); err != nil {
				return disk.Target{}, err
			}
			if handles, err = e.enumerate(ctx, disk.All, partitions); err != nil {
				return disk.Target{}, err
			}
		default:
			return disk.Resolve(handles, id)
		}
	}
}

// describe is the one-line summary of t shown while a run writes to it.
func describe(t disk.Target) string {
	s := fmt.Sprintf("%s (%s, %s", t.Disk.ID, t.Disk.Bus, disk.Human(t.Disk.SizeBytes))
	if t.Disk.Model != "" {
		s += ", " + t.Disk.Model
	}
	s += ")"
	if t.Partition != nil {
		s = t.Partition.ID + " on " + s
	}
	return s
}

// PrintDisks writes the candidate table. With partitions set each disk is
// followed by its partitions.
func PrintDisks(w io.Writer, handles []disk.Handle, partitions bool) {
	if len(handles) == 0 {
		fmt.Fprintln(w, "  <none detected>")
		return
	}
	fmt.Fprintf(w, "  %-18s  %-9s  %-8s  %-24s  %s\n", "Identifier", "Bus", "Size", "Model", "Notes")
	for _, h := range handles {
		var notes []string
		if h.Boot {
			notes = append(notes, "BOOT DISK")
		}
		if h.Mounted() {
			notes = append(notes, "mounted")
		}
		if len(h.Aliases) > 0 {
			notes = append(notes, "aka "+strings.Join(h.Aliases, ", "))
		}
		model := h.Model
		if model == "" {
			model = "-"
		}
		fmt.Fprintf(w, "  %-18s  %-9s  %-8s  %-24s  %s\n", h.ID, h.Bus, disk.Human(h.SizeBytes), model, strings.Join(notes, "; "))
		if !partitions {
			continue
		}
		for _, p := range h.Partitions {
			fs := p.FSType
			if fs == "" {
				fs = "-"
			}
			fmt.Fprintf(w, "    %-16s  %-9s  %-8s  %-24s  %s\n", p.ID, fs, disk.Human(p.SizeBytes), p.Label, p.MountPoint)
		}
	}
}
