// Package safety implements the confirmation gate that must pass before any
// destructive action on a resolved target.
package safety

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"mkoc/disk"
)

// Confirmation tokens. They are compared case-sensitively after trimming
// surrounding whitespace.
const (
	EraseToken    = "ERASE"
	RestoreToken  = "RESTORE"
	InternalToken = "INTERNAL"
	ShowAllToken  = "ALL"
)

// Check identifies one step of the gate.
type Check int

const (
	CheckBootDisk Check = iota + 1
	CheckNonRemovable
	CheckFinal
	CheckShowAll
)

func (c Check) String() string {
	switch c {
	case CheckBootDisk:
		return "boot disk"
	case CheckNonRemovable:
		return "non-removable disk confirmation"
	case CheckFinal:
		return "final confirmation"
	case CheckShowAll:
		return "unfiltered listing confirmation"
	}
	return fmt.Sprintf("check %d", int(c))
}

// ErrAborted matches every operator abort. It is not a failure: the process
// exits 0 and nothing has been touched.
var ErrAborted = errors.New("aborted by operator")

// AbortError records which check the operator declined.
type AbortError struct {
	Check Check
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("%s declined: %s", e.Check, ErrAborted)
}

func (e *AbortError) Is(target error) bool { return target == ErrAborted }

// CheckError is a non-overridable refusal.
type CheckError struct {
	Check  Check
	Target string
	Reason string
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("refusing %s: %s (%s)", e.Target, e.Reason, e.Check)
}

// Policy describes the action the gate is protecting.
type Policy struct {
	// Destructive actions erase the disk. The boot disk is always refused
	// for them.
	Destructive bool
	// Action is shown to the operator, e.g. "erase".
	Action string
	// Token is the final confirmation phrase.
	Token string
}

// Erase is the policy for wiping and reformatting a disk.
var Erase = Policy{Destructive: true, Action: "erase", Token: EraseToken}

// Restore is the policy for installing into an existing EFI partition.
var Restore = Policy{Destructive: false, Action: "restore the bootloader on", Token: RestoreToken}

// Clearance proves the gate passed for one target. It is only minted by
// Gate.Evaluate.
type Clearance struct {
	target      string
	disk        string
	destructive bool
}

// Target is the disk or partition identifier that was cleared.
func (c Clearance) Target() string { return c.target }

// Disk is the identifier of the disk holding the cleared target.
func (c Clearance) Disk() string { return c.disk }

// Destructive reports whether the clearance covers erasing the disk.
func (c Clearance) Destructive() bool { return c.destructive }

// Valid reports whether c came from a passed gate.
func (c Clearance) Valid() bool { return c.target != "" }

// Gate runs the ordered confirmation checks.
type Gate struct {
	Prompter Prompter
	Out      io.Writer
	Logger   *zap.SugaredLogger
}

func (g *Gate) log() *zap.SugaredLogger {
	if g.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return g.Logger
}

// Evaluate runs the checks in order and stops at the first that fails:
//
//  1. a destructive action on the boot disk is refused outright;
//  2. a non-removable disk (or, for a restore, the boot disk) needs the
//     INTERNAL token;
//  3. the policy's final token must be typed exactly.
//
// A declined prompt returns an *AbortError matching ErrAborted.
func (g *Gate) Evaluate(t disk.Target, p Policy) (Clearance, error) {
	d := t.Disk
	if d.Boot && p.Destructive {
		g.log().Warnw("refused boot disk", "disk", d.ID)
		return Clearance{}, &CheckError{Check: CheckBootDisk, Target: d.ID, Reason: "it is the system boot disk"}
	}

	if !d.Removable() || d.Boot {
		g.printf("\n%s is not a removable USB disk (bus: %s).\n", d.ID, d.Bus)
		if d.Boot {
			g.printf("It holds the running system.\n")
		}
		if err := g.confirm(CheckNonRemovable, fmt.Sprintf("Type %s to continue with this disk: ", InternalToken), InternalToken); err != nil {
			return Clearance{}, err
		}
	}

	g.printf("\nAbout to %s %s\n", p.Action, describe(t))
	if err := g.confirm(CheckFinal, fmt.Sprintf("Type %s to proceed: ", p.Token), p.Token); err != nil {
		return Clearance{}, err
	}
	g.log().Infow("gate passed", "target", t.ID(), "destructive", p.Destructive)
	return Clearance{target: t.ID(), disk: d.ID, destructive: p.Destructive}, nil
}

// ConfirmShowAll asks before an unfiltered listing is offered for selection.
func (g *Gate) ConfirmShowAll() error {
	g.printf("\nThe full listing includes internal disks.\n")
	return g.confirm(CheckShowAll, fmt.Sprintf("Type %s to list every disk: ", ShowAllToken), ShowAllToken)
}

func (g *Gate) confirm(c Check, prompt, token string) error {
	answer, err := g.Prompter.Ask(prompt)
	if err == io.EOF {
		return &AbortError{Check: c}
	}
	if err != nil {
		return errors.Wrap(err, "reading confirmation")
	}
	if strings.TrimSpace(answer) != token {
		g.log().Debugw("confirmation mismatch", "check", c.String())
		return &AbortError{Check: c}
	}
	return nil
}

func (g *Gate) printf(format string, a ...interface{}) {
	if g.Out != nil {
		fmt.Fprintf(g.Out, format, a...)
	}
}

func describe(t disk.Target) string {
	if t.Partition != nil {
		p := t.Partition
		s := fmt.Sprintf("partition %s on %s", p.ID, t.Disk)
		if p.MountPoint != "" {
			s += fmt.Sprintf(", mounted at %s", p.MountPoint)
		}
		return s
	}
	return t.Disk.String()
}
