package disk

import (
	"context"

	"github.com/pkg/errors"
)

// Lister is the enumeration half of a platform backend.
type Lister interface {
	List(ctx context.Context) ([]Handle, error)
}

// Filter narrows an enumeration.
type Filter int

const (
	// OnlyRemovable keeps USB and image-backed disks. It is the default.
	OnlyRemovable Filter = iota
	// All keeps every disk. Callers must obtain a separate operator
	// confirmation before acting on an unfiltered listing.
	All
)

func (f Filter) String() string {
	if f == All {
		return "all"
	}
	return "removable"
}

// ListCandidates enumerates disks and applies filter. No matching disks is a
// normal outcome and yields an empty, non-nil slice.
func ListCandidates(ctx context.Context, l Lister, filter Filter) ([]Handle, error) {
	all, err := l.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "enumerating disks")
	}
	out := make([]Handle, 0, len(all))
	for _, h := range all {
		if filter == OnlyRemovable && !h.Removable() {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}
