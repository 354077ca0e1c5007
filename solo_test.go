package solo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/solo/internal/lockfile"
	"pkt.systems/solo/internal/regionlock"
	"pkt.systems/solo/internal/wire"
)

// startLeader elects and starts a leader over an in-process lock table,
// returning it with cleanup registered. The local command has already
// completed when this returns.
func startLeader(t *testing.T, cfg Config) *Leader {
	t.Helper()
	table := regionlock.NewMemory()
	el, err := electWith(cfg, openLockFile(t, cfg.LockDir), table.Owner("leader"))
	if err != nil {
		t.Fatalf("elect: %v", err)
	}
	if el.Role != RoleLeader {
		t.Fatalf("expected leader, got %v", el.Role)
	}
	leader, err := NewLeader(cfg, el)
	if err != nil {
		t.Fatalf("new leader: %v", err)
	}
	t.Cleanup(func() { _ = leader.Close() })
	if _, err := leader.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	return leader
}

func followerElection(port int) *Election {
	return &Election{Role: RoleFollower, Port: port}
}

func TestForwardingDeliversArgvAndStdin(t *testing.T) {
	type seen struct {
		argv  []string
		stdin string
	}
	got := make(chan seen, 2)

	cfg := testConfig(t)
	cfg.Handler = HandlerFunc(func(ctx context.Context, argv []string, stdin io.Reader) (Result, error) {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return Result{}, err
		}
		got <- seen{argv: argv, stdin: string(data)}
		return Result{Code: 0, Output: "ok"}, nil
	})
	leader := startLeader(t, cfg)
	<-got // local command

	fcfg := cfg
	fcfg.Argv = []string{"--flag", "value"}
	fcfg.Stdin = strings.NewReader("hello\n")
	res, err := Forward(context.Background(), fcfg, followerElection(leader.Port()))
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if res.Code != 0 || res.Output != "ok" {
		t.Fatalf("unexpected result: %+v", res)
	}

	select {
	case s := <-got:
		if len(s.argv) != 2 || s.argv[0] != "--flag" || s.argv[1] != "value" {
			t.Fatalf("handler saw argv %v", s.argv)
		}
		if s.stdin != "hello\n" {
			t.Fatalf("handler saw stdin %q", s.stdin)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("handler was never invoked for the forwarded request")
	}
}

func TestResultRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	cfg.Handler = okHandler(3, "done")
	leader := startLeader(t, cfg)

	res, err := Forward(context.Background(), cfg, followerElection(leader.Port()))
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if res.Code != 3 || res.Output != "done" {
		t.Fatalf("expected (3,done), got %+v", res)
	}
}

func TestZeroArgvAndZeroStdin(t *testing.T) {
	checked := make(chan error, 2)
	cfg := testConfig(t)
	cfg.Handler = HandlerFunc(func(ctx context.Context, argv []string, stdin io.Reader) (Result, error) {
		var err error
		if argv == nil || len(argv) != 0 {
			err = fmt.Errorf("expected empty argv, got %#v", argv)
		} else if data, rerr := io.ReadAll(stdin); rerr != nil || len(data) != 0 {
			err = fmt.Errorf("expected immediate EOF, got %q err=%v", data, rerr)
		}
		checked <- err
		return Result{}, nil
	})
	leader := startLeader(t, cfg)
	if err := <-checked; err != nil {
		t.Fatalf("local command: %v", err)
	}

	res, err := Forward(context.Background(), cfg, followerElection(leader.Port()))
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if res.Code != 0 {
		t.Fatalf("unexpected code %d", res.Code)
	}
	if err := <-checked; err != nil {
		t.Fatalf("forwarded command: %v", err)
	}
}

func TestLocalCommandRunsBeforeFollowers(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	record := func(tag string) {
		mu.Lock()
		order = append(order, tag)
		mu.Unlock()
	}

	cfg := testConfig(t)
	cfg.Argv = []string{"local"}
	cfg.Handler = HandlerFunc(func(ctx context.Context, argv []string, stdin io.Reader) (Result, error) {
		tag := "follower"
		if len(argv) > 0 && argv[0] == "local" {
			tag = "local"
		}
		record(tag)
		return Result{}, nil
	})

	table := regionlock.NewMemory()
	el, err := electWith(cfg, openLockFile(t, cfg.LockDir), table.Owner("leader"))
	if err != nil {
		t.Fatalf("elect: %v", err)
	}
	leader, err := NewLeader(cfg, el)
	if err != nil {
		t.Fatalf("new leader: %v", err)
	}
	t.Cleanup(func() { _ = leader.Close() })

	// Connect before Start: the port is already published, so a follower
	// can race ahead of the local command. It must still be served after.
	forwarded := make(chan error, 1)
	go func() {
		fcfg := cfg
		fcfg.Argv = []string{"forwarded"}
		_, err := Forward(context.Background(), fcfg, followerElection(leader.Port()))
		forwarded <- err
	}()
	time.Sleep(100 * time.Millisecond)

	if _, err := leader.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := <-forwarded; err != nil {
		t.Fatalf("forward: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "local" || order[1] != "follower" {
		t.Fatalf("expected local command first, got %v", order)
	}
}

func TestStoppingRequestGetsStoppingResult(t *testing.T) {
	cfg := testConfig(t)
	leader := startLeader(t, cfg)

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(leader.Port())))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	// Let the acceptor hand the connection to its handler, which then
	// blocks reading our request.
	time.Sleep(100 * time.Millisecond)

	leader.RequestStop()

	if err := wire.WriteRequest(conn, []string{"late"}); err != nil {
		t.Fatalf("write request: %v", err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}
	code, output, err := wire.ReadResult(conn)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if code != ExitGenericError {
		t.Fatalf("expected code %d, got %d", ExitGenericError, code)
	}
	if output != stoppingOutput {
		t.Fatalf("expected stopping output, got %q", output)
	}
}

func TestIdempotentShutdown(t *testing.T) {
	cfg := testConfig(t)
	leader := startLeader(t, cfg)

	leader.RequestStop()
	leader.RequestStop()
	if err := leader.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := leader.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	if _, err := Forward(context.Background(), cfg, followerElection(leader.Port())); err == nil {
		t.Fatalf("expected forwarding to a stopped leader to fail")
	}
}

func TestMalformedConnectionDoesNotPoisonLeader(t *testing.T) {
	cfg := testConfig(t)
	cfg.Handler = okHandler(0, "served")
	leader := startLeader(t, cfg)

	// A client that announces two args but disconnects after one.
	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(leader.Port())))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := wire.WriteInt32(conn, 2); err != nil {
		t.Fatalf("write argc: %v", err)
	}
	if err := wire.WriteString(conn, "only-one"); err != nil {
		t.Fatalf("write arg: %v", err)
	}
	_ = conn.Close()

	// A well-formed follower afterwards is still served.
	res, err := Forward(context.Background(), cfg, followerElection(leader.Port()))
	if err != nil {
		t.Fatalf("forward after malformed peer: %v", err)
	}
	if res.Output != "served" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestHandlerErrorBecomesCommandErrorResult(t *testing.T) {
	cfg := testConfig(t)
	cfg.Handler = HandlerFunc(func(ctx context.Context, argv []string, stdin io.Reader) (Result, error) {
		return Result{}, errors.New("command exploded")
	})
	leader := startLeader(t, cfg)

	res, err := Forward(context.Background(), cfg, followerElection(leader.Port()))
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if res.Code != ExitCommandError {
		t.Fatalf("expected code %d, got %d", ExitCommandError, res.Code)
	}
	if res.Output != "command exploded" {
		t.Fatalf("expected error message output, got %q", res.Output)
	}
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	var calls int32
	var mu sync.Mutex
	cfg := testConfig(t)
	cfg.Handler = HandlerFunc(func(ctx context.Context, argv []string, stdin io.Reader) (Result, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 2 {
			panic("boom")
		}
		return Result{Code: 0, Output: "fine"}, nil
	})
	leader := startLeader(t, cfg)

	res, err := Forward(context.Background(), cfg, followerElection(leader.Port()))
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if res.Code != ExitCommandError || res.Output != "boom" {
		t.Fatalf("expected recovered panic result, got %+v", res)
	}

	// The listener survives a panicking handler.
	res, err = Forward(context.Background(), cfg, followerElection(leader.Port()))
	if err != nil {
		t.Fatalf("forward after panic: %v", err)
	}
	if res.Output != "fine" {
		t.Fatalf("expected leader to keep serving, got %+v", res)
	}
}

func TestConcurrentFollowersAllServed(t *testing.T) {
	cfg := testConfig(t)
	cfg.Handler = HandlerFunc(func(ctx context.Context, argv []string, stdin io.Reader) (Result, error) {
		if len(argv) == 0 {
			return Result{}, nil
		}
		return Result{Code: 0, Output: argv[0]}, nil
	})
	leader := startLeader(t, cfg)

	const n = 6
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fcfg := cfg
			want := fmt.Sprintf("req-%d", i)
			fcfg.Argv = []string{want}
			res, err := Forward(context.Background(), fcfg, followerElection(leader.Port()))
			if err != nil {
				errs <- err
				return
			}
			if res.Output != want {
				errs <- fmt.Errorf("expected %q, got %q", want, res.Output)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent follower: %v", err)
	}
}

func TestRunLeaderServesAndCleansUp(t *testing.T) {
	cfg := testConfig(t)
	cfg.Handler = okHandler(0, "started\n")
	var stdout bytes.Buffer
	cfg.Stdout = &stdout

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var code int
	var runErr error
	go func() {
		defer close(done)
		code, runErr = Run(ctx, cfg)
	}()

	// Give the leader time to elect and publish, then stop it.
	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancellation")
	}
	if runErr != nil {
		t.Fatalf("run: %v", runErr)
	}
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if got := stdout.String(); got != "started\n" {
		t.Fatalf("expected local output on stdout, got %q", got)
	}

	// Clean shutdown removes the rendezvous file.
	path, err := lockfile.Path(cfg.LockDir, cfg.AppID)
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("lock file should be deleted after shutdown, stat err=%v", err)
	}
}

func TestEmitRoutesOutputByCode(t *testing.T) {
	var stdout, stderr bytes.Buffer
	cfg := Config{Stdout: &stdout, Stderr: &stderr}

	emit(cfg, Result{Code: 0, Output: "fine\n"})
	if stdout.String() != "fine\n" || stderr.Len() != 0 {
		t.Fatalf("zero code should print to stdout: stdout=%q stderr=%q", stdout.String(), stderr.String())
	}

	stdout.Reset()
	emit(cfg, Result{Code: 2, Output: "broken\n"})
	if stderr.String() != "broken\n" || stdout.Len() != 0 {
		t.Fatalf("non-zero code should print to stderr: stdout=%q stderr=%q", stdout.String(), stderr.String())
	}

	stderr.Reset()
	emit(cfg, Result{Code: 0, Output: ""})
	if stdout.Len() != 0 || stderr.Len() != 0 {
		t.Fatalf("empty output should print nothing")
	}
}

func TestEmitWritesOutputVerbatim(t *testing.T) {
	var stdout bytes.Buffer
	cfg := Config{Stdout: &stdout, Stderr: io.Discard}

	// The proxied invocation must print exactly what the command printed,
	// trailing newline or not.
	emit(cfg, Result{Code: 0, Output: "no trailing newline"})
	if stdout.String() != "no trailing newline" {
		t.Fatalf("output must not be altered: got %q", stdout.String())
	}
}
