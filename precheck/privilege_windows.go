//go:build windows

package precheck

import "golang.org/x/sys/windows"

const elevationHint = "run from an elevated (Administrator) prompt"

func isElevated() (bool, error) {
	return windows.GetCurrentProcessToken().IsElevated(), nil
}
