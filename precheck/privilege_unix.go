//go:build !windows

package precheck

import "golang.org/x/sys/unix"

const elevationHint = "run as root (sudo)"

func isElevated() (bool, error) {
	return unix.Geteuid() == 0, nil
}
