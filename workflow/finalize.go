package workflow

import (
	"context"
	"fmt"
	"io"
)

// Finalizer performs the external step after a successful restore: clearing
// persisted firmware boot entries and asking for a full power cycle.
type Finalizer interface {
	Finalize(ctx context.Context, run *Run) error
}

// ConsoleFinalizer prints the instructions for the operator to carry out.
type ConsoleFinalizer struct {
	Out io.Writer
}

func (f *ConsoleFinalizer) Finalize(_ context.Context, run *Run) error {
	fmt.Fprintf(f.Out, "\nBootloader restored on %s.\n", run.Target.ID())
	for _, b := range run.Backups {
		fmt.Fprintf(f.Out, "  previous %s kept as %s\n", b.Original, b.Renamed)
	}
	fmt.Fprintln(f.Out, "\nNext:")
	fmt.Fprintln(f.Out, "  1. Reset NVRAM at the OpenCore picker (Reset NVRAM entry) to drop stale boot entries.")
	fmt.Fprintln(f.Out, "  2. Shut the machine down fully and power it on again. A warm reboot is not enough.")
	return nil
}
