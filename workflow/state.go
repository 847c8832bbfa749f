// Package workflow drives the two operator flows, creating a fresh OpenCore
// disk and restoring the bootloader on an existing volume, as a linear state
// machine over the disk, safety, provision and payload packages.
package workflow

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mkoc/disk"
	"mkoc/payload"
)

// State is a point reached by a workflow run.
type State int

const (
	StateInit State = iota
	StateSourceValidated
	StatePreconditionsChecked
	StateTargetEnumerated
	StateTargetSelected
	StateConfirmed
	StateProvisioned
	StateMounted
	StateBackedUp
	StateInstalled
	StateFinalized
	StateFailed
)

var stateNames = map[State]string{
	StateInit:                 "init",
	StateSourceValidated:      "source-validated",
	StatePreconditionsChecked: "preconditions-checked",
	StateTargetEnumerated:     "target-enumerated",
	StateTargetSelected:       "target-selected",
	StateConfirmed:            "confirmed",
	StateProvisioned:          "provisioned",
	StateMounted:              "mounted",
	StateBackedUp:             "backed-up",
	StateInstalled:            "installed",
	StateFinalized:            "finalized",
	StateFailed:               "failed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Kind names a workflow.
type Kind string

const (
	KindCreate  Kind = "create"
	KindRestore Kind = "restore"
)

// FailedError is the terminal error of a run. LastGood is the last state the
// run reached before Err.
type FailedError struct {
	Kind     Kind
	LastGood State
	Err      error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("%s stopped after %s: %v", e.Kind, e.LastGood, e.Err)
}

func (e *FailedError) Unwrap() error { return e.Err }

// Run is the record of one workflow execution.
type Run struct {
	ID      string
	Kind    Kind
	State   State
	History []State
	Target  disk.Target
	Root    string
	Backups []payload.BackupRecord
}

// Path renders the visited states, oldest first.
func (r *Run) Path() string {
	names := make([]string, len(r.History))
	for i, s := range r.History {
		names[i] = s.String()
	}
	return strings.Join(names, " -> ")
}

type machine struct {
	run *Run
	log *zap.SugaredLogger
}

func newMachine(kind Kind, log *zap.SugaredLogger) *machine {
	id := uuid.NewString()
	return &machine{
		run: &Run{ID: id, Kind: kind, State: StateInit, History: []State{StateInit}},
		log: log.With("run", id, "workflow", string(kind)),
	}
}

func (m *machine) to(s State) {
	m.run.State = s
	m.run.History = append(m.run.History, s)
	m.log.Infow("state", "state", s.String())
}

// fail moves the run to StateFailed. Nothing is rolled back.
func (m *machine) fail(err error) (*Run, error) {
	last := m.run.State
	m.run.State = StateFailed
	m.run.History = append(m.run.History, StateFailed)
	m.log.Warnw("run failed", "last", last.String(), "error", err)
	return m.run, &FailedError{Kind: m.run.Kind, LastGood: last, Err: err}
}
