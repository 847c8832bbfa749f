//go:build linux

package backend

import "golang.org/x/sys/unix"

func sysMount(source, target, fstype string) error {
	return unix.Mount(source, target, fstype, 0, "")
}

func sysUnmount(target string) error {
	return unix.Unmount(target, 0)
}
