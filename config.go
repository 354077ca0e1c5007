package solo

import (
	"fmt"
	"io"
	"os"
	"time"

	"pkt.systems/pslog"
)

const (
	// DefaultDrainTimeout bounds how long a follower waits for its stdin
	// pump to wind down after the result has arrived.
	DefaultDrainTimeout = 5 * time.Second
	// DefaultBacklog documents the intended listen backlog for the leader
	// socket. Go's net.Listen delegates backlog sizing to the OS, so the
	// value is informational rather than enforced.
	DefaultBacklog = 10
)

// Exit codes produced by the subsystem itself. Codes returned by the
// command handler pass through unchanged. 100/101 avoid the ranges shells
// reserve for signals and built-ins.
const (
	// ExitOK is the success exit code.
	ExitOK = 0
	// ExitGenericError reports lock, I/O, or connection failures.
	ExitGenericError = 100
	// ExitCommandError reports a command handler failure.
	ExitCommandError = 101
)

// Config describes one launch of a coordinated application.
type Config struct {
	// AppID names the application across processes. Launches that share
	// an AppID (for the same user) elect a single leader among
	// themselves. Required.
	AppID string

	// Handler executes commands on the leader. Required. It is invoked
	// concurrently, once per forwarded request plus once for the leader's
	// own launch; implementations must be safe for concurrent use.
	Handler Handler

	// Ready, when non-nil, gates the leader's work: the local command is
	// not executed and no follower is served until the channel closes.
	// It lets the embedding application finish its own startup first.
	Ready <-chan struct{}

	// Argv is the command line forwarded to (or executed by) the leader.
	// Defaults to os.Args[1:]. An empty non-nil slice is respected.
	Argv []string

	// Stdin is streamed to the handler alongside Argv. Defaults to
	// os.Stdin.
	Stdin io.Reader

	// Stdout and Stderr receive a follower's returned output: Stdout when
	// the exit code is zero, Stderr otherwise. Default to the process
	// streams.
	Stdout io.Writer
	Stderr io.Writer

	// LockDir overrides the directory holding the rendezvous file.
	// Defaults to the user's home directory.
	LockDir string

	// DrainTimeout bounds the follower-side stdin drain after the result
	// has been received. Defaults to DefaultDrainTimeout.
	DrainTimeout time.Duration

	// Logger receives structured events. Defaults to a no-op logger.
	Logger pslog.Logger
}

// Validate fills defaults and reports configuration errors.
func (cfg *Config) Validate() error {
	if cfg.AppID == "" {
		return fmt.Errorf("solo: config: AppID is required")
	}
	if cfg.Handler == nil {
		return fmt.Errorf("solo: config: Handler is required")
	}
	if cfg.Argv == nil {
		cfg.Argv = []string{}
		if len(os.Args) > 1 {
			cfg.Argv = os.Args[1:]
		}
	}
	if cfg.Stdin == nil {
		cfg.Stdin = os.Stdin
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = pslog.NoopLogger()
	}
	return nil
}
