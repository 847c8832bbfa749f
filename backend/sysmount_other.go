//go:build !linux

package backend

import "github.com/pkg/errors"

var errNoMount = errors.New("mounting by syscall is only supported on linux")

func sysMount(_, _, _ string) error { return errNoMount }

func sysUnmount(_ string) error { return errNoMount }
