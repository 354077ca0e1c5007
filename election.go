package solo

import (
	"fmt"

	"pkt.systems/pslog"
	"pkt.systems/solo/internal/lockfile"
	"pkt.systems/solo/internal/regionlock"
)

// Role is the outcome of an election.
type Role int

const (
	// RoleLeader marks the process that won the instance lock and will
	// serve forwarded commands.
	RoleLeader Role = iota + 1
	// RoleFollower marks a process that found a leader already running
	// and should forward its command instead of executing it.
	RoleFollower
)

// String implements fmt.Stringer.
func (r Role) String() string {
	switch r {
	case RoleLeader:
		return "leader"
	case RoleFollower:
		return "follower"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Election is the result of racing for the instance lock. A leader
// election retains the open rendezvous file with the data lock held (it
// is released once the port is published) and the instance lock held for
// the process lifetime. A follower election carries only the port the
// leader published; no file handle or lock survives it.
type Election struct {
	Role Role
	Port int

	file  *lockfile.File
	locks regionlock.Locker
}

// Elect races for leadership of cfg.AppID.
//
// The data lock is acquired blocking, which serializes against a leader
// that is mid-publish; the instance lock is then tried without blocking.
// Winning it makes this process the leader. Losing it means a leader is
// alive, and the port read under the data lock is guaranteed to be the
// fully published value.
func Elect(cfg Config) (*Election, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	path, err := lockfile.Path(cfg.LockDir, cfg.AppID)
	if err != nil {
		return nil, err
	}
	lf, err := lockfile.Open(path)
	if err != nil {
		return nil, err
	}
	return electWith(cfg, lf, lf.Locker())
}

// electWith runs the election protocol over an already opened rendezvous
// file. Tests inject an in-process locker here; advisory file locks never
// conflict inside a single process.
func electWith(cfg Config, lf *lockfile.File, locks regionlock.Locker) (*Election, error) {
	logger := withSubsystem(cfg.Logger, "solo.election")

	if err := locks.Acquire(lockfile.DataRegion); err != nil {
		_ = lf.Close()
		return nil, fmt.Errorf("solo: acquire data lock: %w", err)
	}
	won, err := locks.TryAcquire(lockfile.InstanceRegion)
	if err != nil {
		_ = locks.Release(lockfile.DataRegion)
		_ = lf.Close()
		return nil, fmt.Errorf("solo: try instance lock: %w", err)
	}
	if won {
		logger.Debug("solo.election.leader", "path", lf.Path())
		return &Election{Role: RoleLeader, file: lf, locks: locks}, nil
	}

	port, readErr := lf.ReadPort()
	if err := locks.Release(lockfile.DataRegion); err != nil {
		logger.Warn("solo.election.release_data_lock", "error", err)
	}
	_ = lf.Close()
	if readErr != nil {
		return nil, fmt.Errorf("solo: read leader port: %w", readErr)
	}
	logger.Debug("solo.election.follower", "port", port)
	return &Election{Role: RoleFollower, Port: port}, nil
}

// discard releases everything a leader election still holds. Used when
// leader setup fails before a Leader takes ownership.
func (e *Election) discard(logger pslog.Logger) {
	if e == nil || e.file == nil {
		return
	}
	if err := e.locks.Release(lockfile.DataRegion); err != nil {
		logger.Warn("solo.election.discard", "error", err)
	}
	if err := e.locks.Release(lockfile.InstanceRegion); err != nil {
		logger.Warn("solo.election.discard", "error", err)
	}
	_ = e.file.Close()
	e.file = nil
}
