package solo

import (
	"context"
	"io"
)

// Run performs a complete coordinated launch: it races for leadership of
// cfg.AppID and then either serves as the leader or forwards as a
// follower.
//
// On the leader path, the local command runs first (gated on cfg.Ready),
// its output is printed, and Run then blocks serving followers until ctx
// is cancelled or the leader is stopped; cleanup deletes the rendezvous
// file so a later launch can elect a fresh leader. On the follower path,
// Run forwards cfg.Argv and cfg.Stdin to the leader, prints the returned
// output, and returns the returned code.
//
// The returned int is the process exit code: the command's own code, or
// ExitGenericError when coordination itself failed.
func Run(ctx context.Context, cfg Config) (int, error) {
	if err := cfg.Validate(); err != nil {
		return ExitGenericError, err
	}

	election, err := Elect(cfg)
	if err != nil {
		return ExitGenericError, err
	}

	if election.Role == RoleFollower {
		res, err := Forward(ctx, cfg, election)
		if err != nil {
			return ExitGenericError, err
		}
		emit(cfg, res)
		return res.Code, nil
	}

	leader, err := NewLeader(cfg, election)
	if err != nil {
		return ExitGenericError, err
	}
	defer func() {
		_ = leader.Close()
	}()

	local, err := leader.Start(ctx)
	if err != nil {
		return ExitGenericError, err
	}
	emit(cfg, local)

	select {
	case <-ctx.Done():
	case <-leader.Done():
	}
	_ = leader.Close()
	return local.Code, nil
}

// emit prints a result's output the way the command itself would have:
// stdout on success, stderr otherwise, byte for byte. No newline is
// appended; the output is whatever the handler produced.
func emit(cfg Config, res Result) {
	if res.Output == "" {
		return
	}
	w := cfg.Stdout
	if res.Code != 0 {
		w = cfg.Stderr
	}
	_, _ = io.WriteString(w, res.Output)
}
