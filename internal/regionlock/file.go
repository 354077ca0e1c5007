package regionlock

import "os"

// File locks byte ranges of an open file using the platform's advisory
// lock facility. All locks held through a File vanish when the underlying
// descriptor is closed, matching the lifetime contract of the election
// protocol (a crashed process drops its locks automatically).
//
// Platform note: advisory byte-range locks are held per process, so two
// File values over the same path in one process do not conflict with each
// other. Tests that need conflicting owners use Memory instead.
type File struct {
	f *os.File
}

// NewFile wraps an already opened file. The caller keeps ownership of the
// handle and must keep it open for as long as any region is held.
func NewFile(f *os.File) *File {
	return &File{f: f}
}

// Acquire blocks until the region is exclusively held.
func (l *File) Acquire(r Region) error {
	if l.f == nil {
		return ErrClosed
	}
	return lockRegion(l.f, r, true)
}

// TryAcquire attempts the region without blocking.
func (l *File) TryAcquire(r Region) (bool, error) {
	if l.f == nil {
		return false, ErrClosed
	}
	err := lockRegion(l.f, r, false)
	if err == nil {
		return true, nil
	}
	if isLockHeld(err) {
		return false, nil
	}
	return false, err
}

// Release drops the region.
func (l *File) Release(r Region) error {
	if l.f == nil {
		return ErrClosed
	}
	return unlockRegion(l.f, r)
}
