package solo

import (
	"context"
	"io"
)

// Result is the outcome of one command execution: a process exit code and
// optional textual output. Empty output means "no output".
type Result struct {
	Code   int
	Output string
}

// Handler executes a command on behalf of the leader. The stdin reader
// carries the invoking process's standard input; for forwarded requests
// it yields EOF when the follower half-closes its connection. Execute may
// read stdin for as long as it needs or ignore it entirely.
//
// Execute runs on a goroutine owned by the subsystem, one per request, so
// a slow command never blocks other requests from being served. Returning
// an error converts into a Result with ExitCommandError; panics are
// recovered and treated the same way.
type Handler interface {
	Execute(ctx context.Context, argv []string, stdin io.Reader) (Result, error)
}

// HandlerFunc adapts a plain function to the Handler contract.
type HandlerFunc func(ctx context.Context, argv []string, stdin io.Reader) (Result, error)

// Execute implements Handler.
func (fn HandlerFunc) Execute(ctx context.Context, argv []string, stdin io.Reader) (Result, error) {
	return fn(ctx, argv, stdin)
}
