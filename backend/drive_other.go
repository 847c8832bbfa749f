//go:build !windows

package backend

import "os"

func driveReady(root string) bool {
	_, err := os.Stat(root)
	return err == nil
}

func driveTypeName(string) string { return "unknown" }
