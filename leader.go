package solo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
	"pkt.systems/pslog"
	"pkt.systems/solo/internal/lockfile"
	"pkt.systems/solo/internal/wire"
	"pkt.systems/solo/internal/workers"
)

// stoppingOutput is returned to followers whose request arrives after
// shutdown was requested but before the listener actually closed.
const stoppingOutput = "program is stopping"

// Leader lifecycle. Only the transition into stateStopping is externally
// triggerable (RequestStop); it is idempotent.
const (
	statePublishing int32 = iota + 1
	stateAccepting
	stateStopping
	stateStopped
)

// Leader serves forwarded commands for every later invocation of the same
// application id. It owns the loopback listener whose port is published in
// the rendezvous file, and it holds the instance lock until Close.
type Leader struct {
	cfg      Config
	election *Election
	ln       net.Listener
	port     int
	logger   pslog.Logger

	// ctx is the handler context; it is cancelled in Close after the
	// connection drain so in-flight commands are not cut short by
	// RequestStop alone.
	ctx    context.Context
	cancel context.CancelFunc

	state     atomic.Int32
	started   atomic.Bool
	stopOnce  sync.Once
	closeOnce sync.Once

	conns        workers.Group
	acceptorDone chan struct{}
}

// NewLeader binds the loopback listener on an ephemeral port, publishes
// the port into the rendezvous file, and releases the data lock so
// followers can read it. The election must be a leader election; on error
// everything the election held is released.
func NewLeader(cfg Config, election *Election) (*Leader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := withSubsystem(cfg.Logger, "solo.leader")
	if election == nil || election.Role != RoleLeader || election.file == nil {
		return nil, fmt.Errorf("solo: NewLeader requires a leader election")
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		election.discard(logger)
		return nil, fmt.Errorf("solo: bind loopback listener: %w", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	if err := election.file.PublishPort(port); err != nil {
		_ = ln.Close()
		election.discard(logger)
		return nil, err
	}
	if err := election.locks.Release(lockfile.DataRegion); err != nil {
		_ = ln.Close()
		election.discard(logger)
		return nil, fmt.Errorf("solo: release data lock: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Leader{
		cfg:          cfg,
		election:     election,
		ln:           ln,
		port:         port,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		acceptorDone: make(chan struct{}),
	}
	l.state.Store(statePublishing)
	logger.Debug("solo.leader.published", "port", port, "path", election.file.Path())
	return l, nil
}

// Port returns the published loopback port.
func (l *Leader) Port() int {
	return l.port
}

// Start waits for cfg.Ready (when set), executes the leader's own command
// through the handler, and only then begins accepting followers, so the
// local request is always processed first. It returns the local command's
// result; the acceptor keeps running in the background until RequestStop
// or Close.
func (l *Leader) Start(ctx context.Context) (Result, error) {
	if l.cfg.Ready != nil {
		select {
		case <-l.cfg.Ready:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-l.ctx.Done():
			return Result{}, errors.New("solo: leader closed before ready")
		}
	}

	if l.Stopping() {
		return Result{Code: ExitGenericError, Output: stoppingOutput}, nil
	}
	local := l.invoke(ctx, l.cfg.Argv, l.cfg.Stdin)
	l.logger.Debug("solo.leader.local_command", "code", local.Code)

	if l.state.CompareAndSwap(statePublishing, stateAccepting) {
		l.started.Store(true)
		go l.acceptLoop()
		l.logger.Info("solo.leader.accepting", "port", l.port)
	}
	return local, nil
}

// RequestStop asks the leader to stop accepting connections. It is
// idempotent and safe to call from any goroutine, including a handler.
// Closing the listener is what unblocks the acceptor's Accept call.
func (l *Leader) RequestStop() {
	l.stopOnce.Do(func() {
		l.state.Store(stateStopping)
		l.logger.Info("solo.leader.stop_requested")
		_ = l.ln.Close()
	})
}

// Stopping reports whether shutdown has been requested.
func (l *Leader) Stopping() bool {
	s := l.state.Load()
	return s == stateStopping || s == stateStopped
}

// Done is closed once the acceptor loop has exited. It never closes if
// Start was not reached.
func (l *Leader) Done() <-chan struct{} {
	return l.acceptorDone
}

// Close stops the leader, drains in-flight connections for up to
// cfg.DrainTimeout, and then cleans up: the rendezvous file is deleted
// first, the instance lock released second, and the handle closed last,
// so no other process can observe a valid port in a file whose leader is
// gone. Cleanup failures are logged and swallowed; they never prevent
// process exit.
func (l *Leader) Close() error {
	l.closeOnce.Do(func() {
		l.RequestStop()
		if l.started.Load() {
			<-l.acceptorDone
		}
		if !l.conns.Drain(l.cfg.DrainTimeout) {
			l.logger.Warn("solo.leader.drain_timeout")
		}
		l.cancel()

		if err := l.election.file.Remove(); err != nil {
			l.logger.Warn("solo.leader.cleanup", "stage", "remove", "error", err)
		}
		if err := l.election.locks.Release(lockfile.InstanceRegion); err != nil {
			l.logger.Warn("solo.leader.cleanup", "stage", "unlock", "error", err)
		}
		if err := l.election.file.Close(); err != nil {
			l.logger.Warn("solo.leader.cleanup", "stage", "close", "error", err)
		}
		l.state.Store(stateStopped)
		l.logger.Info("solo.leader.stopped")
	})
	return nil
}

func (l *Leader) acceptLoop() {
	defer close(l.acceptorDone)
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if l.Stopping() || errors.Is(err, net.ErrClosed) {
				l.logger.Debug("solo.leader.acceptor_exit")
			} else {
				l.logger.Warn("solo.leader.accept", "error", err)
			}
			return
		}
		l.conns.Go(func() { l.handleConn(conn) })
	}
}

// handleConn serves exactly one request/response exchange. Failures here
// are scoped to this connection; the acceptor and other connections are
// unaffected.
func (l *Leader) handleConn(conn net.Conn) {
	logger := l.logger.With("conn", xid.New().String())
	defer func() {
		_ = conn.Close()
	}()

	argv, err := wire.ReadRequest(conn)
	if err != nil {
		logger.Warn("solo.conn.bad_request", "error", err)
		// Best effort: the peer may still be around to read a result.
		_ = wire.WriteResult(conn, ExitGenericError, "")
		return
	}
	logger.Debug("solo.conn.request", "argc", len(argv))

	var res Result
	if l.Stopping() {
		res = Result{Code: ExitGenericError, Output: stoppingOutput}
	} else {
		// The connection itself is the forwarded stdin: the handler may
		// keep reading it until the follower half-closes its write side.
		res = l.invoke(l.ctx, argv, conn)
	}

	if err := wire.WriteResult(conn, int32(res.Code), res.Output); err != nil {
		// The follower may already have exited; not an error for us.
		logger.Warn("solo.conn.write_result", "error", err)
		return
	}
	logger.Debug("solo.conn.served", "code", res.Code)
}

// invoke runs the handler, converting errors and panics into command
// results so a misbehaving handler can never take down the listener.
func (l *Leader) invoke(ctx context.Context, argv []string, stdin io.Reader) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("solo.handler.panic", "panic", r)
			res = Result{Code: ExitCommandError, Output: fmt.Sprint(r)}
		}
	}()
	out, err := l.cfg.Handler.Execute(ctx, argv, stdin)
	if err != nil {
		l.logger.Warn("solo.handler.error", "error", err)
		output := out.Output
		if output == "" {
			output = err.Error()
		}
		return Result{Code: ExitCommandError, Output: output}
	}
	return out
}
