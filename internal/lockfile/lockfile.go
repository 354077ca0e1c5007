// Package lockfile owns the on-disk rendezvous file shared by every
// invocation of the same application id. The file is five bytes: a
// big-endian int32 port at offset 0 and one sentinel byte at offset 4.
// The sentinel is never read for content; it exists so the instance lock
// has a byte range of its own that does not overlap the port bytes.
package lockfile

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"pkt.systems/solo/internal/regionlock"
)

// DataRegion guards the port value while it is written or read.
var DataRegion = regionlock.Region{Off: 0, Len: 4}

// InstanceRegion is held for the leader's whole lifetime; winning its
// non-blocking acquisition is the leader-election signal.
var InstanceRegion = regionlock.Region{Off: 4, Len: 1}

// illegalNameBytes are stripped from application ids before they become
// file names. The set covers unix and windows.
const illegalNameBytes = "/\\:*?\"<>|"

// Sanitize strips characters that are illegal in file names from appID.
func Sanitize(appID string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || strings.ContainsRune(illegalNameBytes, r) {
			return -1
		}
		return r
	}, appID)
}

// Path derives the lock file location for appID inside dir, or inside the
// user's home directory when dir is empty: <dir>/.<sanitized-app-id>.
func Path(dir, appID string) (string, error) {
	name := Sanitize(appID)
	if name == "" {
		return "", fmt.Errorf("lockfile: app id %q sanitizes to an empty name", appID)
	}
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("lockfile: resolve home directory: %w", err)
		}
		dir = home
	}
	return filepath.Join(dir, "."+name), nil
}

// File is an open handle on the rendezvous file.
type File struct {
	path string
	f    *os.File
}

// Open opens the rendezvous file, creating it when absent. No locks are
// taken; callers drive locking through Locker.
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("lockfile: open %s: %w", path, err)
	}
	return &File{path: path, f: f}, nil
}

// Path returns the location of the rendezvous file.
func (lf *File) Path() string {
	return lf.path
}

// Locker returns a byte-range locker over the open handle. Locks held
// through it last until Close.
func (lf *File) Locker() regionlock.Locker {
	return regionlock.NewFile(lf.f)
}

// PublishPort writes port at offset 0 and the sentinel byte, then forces
// a flush so another process that wins the data lock next reads a fully
// written value. The caller must hold DataRegion.
func (lf *File) PublishPort(port int) error {
	var buf [5]byte
	binary.BigEndian.PutUint32(buf[:4], uint32(port))
	if _, err := lf.f.WriteAt(buf[:], 0); err != nil {
		return fmt.Errorf("lockfile: write port: %w", err)
	}
	if err := lf.f.Sync(); err != nil {
		return fmt.Errorf("lockfile: sync: %w", err)
	}
	return nil
}

// ReadPort reads the published port. The caller must hold (or have just
// held) DataRegion so a half-written value can never be observed.
func (lf *File) ReadPort() (int, error) {
	var buf [4]byte
	if _, err := lf.f.ReadAt(buf[:], 0); err != nil {
		return 0, fmt.Errorf("lockfile: read port: %w", err)
	}
	return int(int32(binary.BigEndian.Uint32(buf[:]))), nil
}

// Remove deletes the rendezvous file from disk. The open handle stays
// valid; locks held through it are unaffected until Close.
func (lf *File) Remove() error {
	if err := os.Remove(lf.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("lockfile: remove %s: %w", lf.path, err)
	}
	return nil
}

// Close releases the handle, and with it every lock held on the file.
func (lf *File) Close() error {
	return lf.f.Close()
}
