// Package regionlock provides exclusive byte-range locks over an open
// file. Two independent, non-overlapping regions on the same file can be
// held and released separately, which is the primitive the election
// protocol is built on. The File implementation maps onto the platform's
// advisory byte-range locks; Memory implements the same contract inside a
// single process for deterministic tests.
package regionlock

import "errors"

// Region identifies a byte range [Off, Off+Len) of the underlying file.
type Region struct {
	Off int64
	Len int64
}

// Locker grants exclusive ownership of byte ranges.
//
// Acquire blocks until the region can be held. TryAcquire returns false
// without blocking when another owner holds an overlapping region.
// Release gives the region back; releasing a region that is not held is
// not an error (platform advisory locks behave the same way).
type Locker interface {
	Acquire(r Region) error
	TryAcquire(r Region) (bool, error)
	Release(r Region) error
}

// ErrClosed reports an operation on a locker whose backing handle has
// been closed.
var ErrClosed = errors.New("regionlock: closed")
