// Package solo guarantees that one process per application id handles
// work at a time, while every later invocation of the same application
// transparently forwards its command line and standard input to the
// running instance and exits with that instance's result.
//
// # How it works
//
// Each launch opens a small rendezvous file derived from the application
// id (`~/.<sanitized-app-id>`) and takes two byte-range locks on it. The
// data lock (bytes 0-3) is acquired blocking and guards the port value;
// the instance lock (byte 4) is tried without blocking and is the
// election: whoever wins it is the leader. The leader binds a loopback
// TCP listener on an ephemeral port, writes the port into the file, and
// serves one argv+stdin request per accepted connection. Followers read
// the port, connect, forward, and exit with the result the leader sends
// back.
//
// # Embedding
//
// Most applications only need Run:
//
//	cfg := solo.Config{
//	    AppID: "com.example.myapp",
//	    Handler: solo.HandlerFunc(func(ctx context.Context, argv []string, stdin io.Reader) (solo.Result, error) {
//	        // Execute the command; stdin yields EOF when the invoking
//	        // process's input is exhausted.
//	        return solo.Result{Code: 0, Output: "done"}, nil
//	    }),
//	}
//	code, err := solo.Run(ctx, cfg)
//	if err != nil {
//	    log.Println(err)
//	}
//	os.Exit(code)
//
// Applications that need finer control elect and drive the roles
// themselves:
//
//	election, err := solo.Elect(cfg)
//	if err != nil { ... }
//	switch election.Role {
//	case solo.RoleLeader:
//	    leader, err := solo.NewLeader(cfg, election)
//	    if err != nil { ... }
//	    defer leader.Close()
//	    local, err := leader.Start(ctx)
//	    ...
//	case solo.RoleFollower:
//	    res, err := solo.Forward(ctx, cfg, election)
//	    ...
//	}
//
// Config.Ready lets the embedding application finish its own startup
// before the leader runs the local command or serves anyone; the handler
// is invoked concurrently, once per request, and must tolerate that.
//
// # Guarantees and limits
//
// The leader's own command always completes before any follower is
// served. Followers are served each on its own goroutine with no mutual
// ordering. Exactly one request/response is exchanged per connection.
// Coordination is loopback-only; nothing crosses machines. A leader that
// crashes without cleanup leaves a stale file but no locks, so the next
// launch elects itself leader and overwrites it.
//
// Exit codes: the handler's code passes through unchanged; the subsystem
// itself uses ExitGenericError (100) for lock/IO/connection failures and
// ExitCommandError (101) when the handler fails.
package solo
