//go:build unix

package regionlock

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// lockRegion places an exclusive advisory lock on the byte range. With
// block set it uses F_SETLKW and waits; otherwise F_SETLK fails fast when
// another process holds a conflicting lock.
func lockRegion(f *os.File, r Region, block bool) error {
	flock := unix.Flock_t{
		Type:   unix.F_WRLCK,
		Whence: int16(0),
		Start:  r.Off,
		Len:    r.Len,
	}
	cmd := unix.F_SETLK
	if block {
		cmd = unix.F_SETLKW
	}
	return unix.FcntlFlock(f.Fd(), cmd, &flock)
}

// unlockRegion releases any advisory lock held on the byte range.
func unlockRegion(f *os.File, r Region) error {
	flock := unix.Flock_t{
		Type:   unix.F_UNLCK,
		Whence: int16(0),
		Start:  r.Off,
		Len:    r.Len,
	}
	return unix.FcntlFlock(f.Fd(), unix.F_SETLK, &flock)
}

// isLockHeld reports whether err means a conflicting lock is held.
// POSIX allows either EAGAIN or EACCES for a failed F_SETLK.
func isLockHeld(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EACCES) || errors.Is(err, unix.EWOULDBLOCK)
}
