package backend

// mountEntry is one row of the kernel mount table.
type mountEntry struct {
	Device     string
	MountPoint string
	FSType     string
	SizeBytes  int64
}
