package solo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/solo/internal/wire"
)

// closeWriter is the half-close capability of a TCP connection.
type closeWriter interface {
	CloseWrite() error
}

// Forward connects to the leader published by a follower election, sends
// cfg.Argv, streams cfg.Stdin until EOF, and blocks until the leader's
// result arrives. After the result, the stdin pump is cancelled and given
// cfg.DrainTimeout to wind down; a pump blocked in a stdin read that never
// returns (an interactive terminal, for instance) is abandoned after that
// bound rather than holding up the caller.
//
// The caller decides what to do with the result; Run prints the output
// and exits with the code, making the follower process indistinguishable
// from having executed the command itself.
func Forward(ctx context.Context, cfg Config, election *Election) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	if election == nil || election.Role != RoleFollower {
		return Result{}, fmt.Errorf("solo: Forward requires a follower election")
	}
	logger := withSubsystem(cfg.Logger, "solo.follower")

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(election.Port)))
	if err != nil {
		return Result{}, fmt.Errorf("solo: connect to leader: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	if err := wire.WriteRequest(conn, cfg.Argv); err != nil {
		return Result{}, fmt.Errorf("solo: send request: %w", err)
	}
	logger.Debug("solo.follower.request_sent", "port", election.Port, "argc", len(cfg.Argv))

	pump := newStdinPump(conn, cfg.Stdin, logger)
	go pump.run()

	code, output, err := wire.ReadResult(conn)
	pump.cancel()
	if !pump.wait(cfg.DrainTimeout) {
		logger.Warn("solo.follower.drain_timeout")
	}
	if err != nil {
		return Result{}, fmt.Errorf("solo: read result: %w", err)
	}
	logger.Debug("solo.follower.result", "code", code)
	return Result{Code: int(code), Output: output}, nil
}

// stdinPump copies the local standard input to the leader connection on
// its own goroutine. Cancellation is a flag checked between iterations,
// never an interrupt: a read already in flight cannot be pre-empted, only
// the next planned write/read is skipped. Reads are opportunistic, up to
// a buffer at a time, so pipe-fed input moves in large chunks.
type stdinPump struct {
	dst    net.Conn
	src    io.Reader
	logger pslog.Logger
	stop   atomic.Bool
	done   chan struct{}
}

func newStdinPump(dst net.Conn, src io.Reader, logger pslog.Logger) *stdinPump {
	return &stdinPump{
		dst:    dst,
		src:    src,
		logger: logger,
		done:   make(chan struct{}),
	}
}

func (p *stdinPump) run() {
	defer close(p.done)
	buf := make([]byte, 32<<10)
	for !p.stop.Load() {
		n, err := p.src.Read(buf)
		if n > 0 {
			if p.stop.Load() {
				break
			}
			if _, werr := p.dst.Write(buf[:n]); werr != nil {
				p.logger.Debug("solo.follower.stdin_write", "error", werr)
				break
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.logger.Debug("solo.follower.stdin_read", "error", err)
			}
			break
		}
	}
	if c, ok := p.src.(io.Closer); ok {
		_ = c.Close()
	}
	// Half-close only: the result travels the other direction on this
	// same socket and must stay readable.
	if cw, ok := p.dst.(closeWriter); ok {
		if err := cw.CloseWrite(); err != nil {
			p.logger.Debug("solo.follower.half_close", "error", err)
		}
	}
}

// cancel stops the pump at its next iteration boundary.
func (p *stdinPump) cancel() {
	p.stop.Store(true)
}

// wait blocks until the pump goroutine finishes or timeout elapses and
// reports whether it finished.
func (p *stdinPump) wait(timeout time.Duration) bool {
	select {
	case <-p.done:
		return true
	case <-time.After(timeout):
		return false
	}
}
