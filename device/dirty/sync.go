package dirty

// fder is implemented by *os.File and afero's OS-backed files.
type fder interface {
	Fd() uintptr
}

// SyncFile makes the data written to f durable.
//
// Handles exposing a file descriptor are synced with the platform data-sync
// call selected by mode; other handles fall back to their own Sync method.
func SyncFile(f Syncer, mode FlushMode) error {
	if mode == FlushNone {
		return nil
	}
	if fd, ok := f.(fder); ok {
		return fdatasync(fd.Fd(), mode == FlushFull)
	}
	return f.Sync()
}
