// Package precheck verifies everything that must hold before any disk is
// enumerated: the payload, elevated privileges and the platform tools.
package precheck

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/pkg/errors"

	"mkoc/payload"
)

// PreconditionError reports an unmet requirement. Nothing has been touched.
type PreconditionError struct {
	Check   string
	Missing []string
	Err     error
}

func (e *PreconditionError) Error() string {
	msg := "precondition failed: " + e.Check
	if len(e.Missing) > 0 {
		msg += fmt.Sprintf(" (missing: %s)", strings.Join(e.Missing, ", "))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// Checker verifies the host: privileges first, then tools. The payload is
// checked separately by CheckPayload, before the host.
type Checker struct {
	// LookPath defaults to exec.LookPath.
	LookPath func(string) (string, error)
	// Elevated defaults to the process token or effective uid.
	Elevated func() (bool, error)
	// SkipPrivileges is set when the target is a file the operator owns.
	SkipPrivileges bool
}

// Environment checks privileges, then that every tool is on PATH.
func (c *Checker) Environment(tools []string) error {
	if !c.SkipPrivileges {
		if err := c.checkPrivileges(); err != nil {
			return err
		}
	}
	return c.checkTools(tools)
}

// CheckPayload validates the payload tree.
func CheckPayload(src payload.Source) error {
	err := src.Validate()
	if err == nil {
		return nil
	}
	pe := &PreconditionError{Check: "payload at " + src.Root, Err: err}
	var missing *payload.MissingError
	if errors.As(err, &missing) {
		pe.Missing = missing.Missing
		pe.Err = nil
	}
	return pe
}

func (c *Checker) checkPrivileges() error {
	elevated := c.Elevated
	if elevated == nil {
		elevated = isElevated
	}
	ok, err := elevated()
	if err != nil {
		return &PreconditionError{Check: "privileges", Err: err}
	}
	if !ok {
		return &PreconditionError{Check: "privileges", Err: errors.New(elevationHint)}
	}
	return nil
}

func (c *Checker) checkTools(tools []string) error {
	lookPath := c.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	var missing []string
	for _, t := range tools {
		if _, err := lookPath(t); err != nil {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return &PreconditionError{Check: "required tools", Missing: missing}
	}
	return nil
}
