package disk

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// NotFoundError is returned when no disk or partition carries the identifier.
type NotFoundError struct {
	Identifier string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no disk or partition matches %q", e.Identifier)
}

// AmbiguousError is returned when more than one disk or partition carries the
// identifier. The resolver never picks one.
type AmbiguousError struct {
	Identifier string
	Matches    []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("%q matches more than one device: %s", e.Identifier, strings.Join(e.Matches, ", "))
}

// Target is the result of resolution: a disk, and optionally one of its
// partitions when the identifier named a partition.
type Target struct {
	Disk      Handle
	Partition *Partition
}

// ID is the identifier of the resolved object.
func (t Target) ID() string {
	if t.Partition != nil {
		return t.Partition.ID
	}
	return t.Disk.ID
}

// Resolve finds the single disk or partition whose ID or alias equals
// identifier exactly. Surrounding whitespace is ignored; nothing else is.
func Resolve(handles []Handle, identifier string) (Target, error) {
	id := strings.TrimSpace(identifier)
	if id == "" {
		return Target{}, &NotFoundError{Identifier: identifier}
	}
	var (
		found   []Target
		matches []string
	)
	for _, h := range handles {
		if matchID(id, h.ID, h.Aliases) {
			found = append(found, Target{Disk: h})
			matches = append(matches, h.ID)
		}
		for i := range h.Partitions {
			p := h.Partitions[i]
			if matchID(id, p.ID, p.Aliases) {
				found = append(found, Target{Disk: h, Partition: &p})
				matches = append(matches, p.ID)
			}
		}
	}
	switch len(found) {
	case 0:
		return Target{}, &NotFoundError{Identifier: id}
	case 1:
		return found[0], nil
	}
	return Target{}, &AmbiguousError{Identifier: id, Matches: matches}
}

// ResolveDisk is Resolve restricted to whole disks.
func ResolveDisk(handles []Handle, identifier string) (Handle, error) {
	t, err := Resolve(handles, identifier)
	if err != nil {
		return Handle{}, err
	}
	if t.Partition != nil {
		return Handle{}, errors.Errorf("%s is a partition of %s; give the whole disk", t.Partition.ID, t.Disk.ID)
	}
	return t.Disk, nil
}

func matchID(want, id string, aliases []string) bool {
	if id == want {
		return true
	}
	for _, a := range aliases {
		if a == want {
			return true
		}
	}
	return false
}
