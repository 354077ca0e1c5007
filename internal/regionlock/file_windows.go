//go:build windows

package regionlock

import (
	"errors"
	"os"

	"golang.org/x/sys/windows"
)

// lockRegion places an exclusive lock on the byte range via LockFileEx.
// LOCKFILE_FAIL_IMMEDIATELY mirrors the non-blocking F_SETLK behaviour on
// unix.
func lockRegion(f *os.File, r Region, block bool) error {
	flags := uint32(windows.LOCKFILE_EXCLUSIVE_LOCK)
	if !block {
		flags |= windows.LOCKFILE_FAIL_IMMEDIATELY
	}
	ol := overlappedFor(r)
	return windows.LockFileEx(
		windows.Handle(f.Fd()),
		flags,
		0,
		uint32(r.Len),
		uint32(r.Len>>32),
		ol,
	)
}

// unlockRegion releases the byte range via UnlockFileEx.
func unlockRegion(f *os.File, r Region) error {
	ol := overlappedFor(r)
	err := windows.UnlockFileEx(
		windows.Handle(f.Fd()),
		0,
		uint32(r.Len),
		uint32(r.Len>>32),
		ol,
	)
	if errors.Is(err, windows.ERROR_NOT_LOCKED) {
		return nil
	}
	return err
}

func overlappedFor(r Region) *windows.Overlapped {
	return &windows.Overlapped{
		Offset:     uint32(r.Off),
		OffsetHigh: uint32(r.Off >> 32),
	}
}

// isLockHeld reports whether err means a conflicting lock is held.
func isLockHeld(err error) bool {
	return errors.Is(err, windows.ERROR_LOCK_VIOLATION)
}
