package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"pkt.systems/pslog"
	"pkt.systems/solo"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(
		pslog.WithEnvPrefix("SOLO_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "solo")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	code, err := newRootCommand(baseLogger).run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "solo: %v\n", err)
	}
	return code
}

type rootCommand struct {
	cmd  *cobra.Command
	code int
}

func newRootCommand(baseLogger pslog.Logger) *rootCommand {
	rc := &rootCommand{}
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "solo --app-id ID [ARG...] -- PROGRAM [ARG...]",
		Short: "run a program as a single coordinated instance",
		Long: `solo elects one leader per app id. The leader keeps running and
executes PROGRAM once per invocation, with the invocation's arguments
appended and its standard input attached. Later invocations of the same
app id forward their arguments to the leader and exit with the program's
code and output. Every invocation supplies the same "-- PROGRAM" suffix;
whichever one wins the election uses it.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			appID := v.GetString("app-id")
			if appID == "" {
				return fmt.Errorf("--app-id is required (or SOLO_APP_ID)")
			}
			dash := cmd.ArgsLenAtDash()
			if dash < 0 {
				return fmt.Errorf("missing \"--\": usage: solo --app-id ID [ARG...] -- PROGRAM [ARG...]")
			}
			forwarded := args[:dash]
			program := args[dash:]
			if len(program) == 0 {
				return fmt.Errorf("no PROGRAM after \"--\"")
			}
			cfg := solo.Config{
				AppID:        appID,
				LockDir:      v.GetString("lock-dir"),
				DrainTimeout: v.GetDuration("drain-timeout"),
				Logger:       baseLogger,
				Handler:      execHandler(baseLogger, program),
				Argv:         forwarded,
			}
			code, err := solo.Run(cmd.Context(), cfg)
			rc.code = code
			return err
		},
	}

	flags := cmd.Flags()
	flags.String("app-id", "", "application id shared by coordinated invocations")
	flags.String("lock-dir", "", "directory for the rendezvous file (default: home)")
	flags.Duration("drain-timeout", solo.DefaultDrainTimeout, "bound on the follower stdin drain")
	bindFlags(v, flags, "app-id", "lock-dir", "drain-timeout")
	v.SetEnvPrefix("SOLO")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rc.cmd = cmd
	return rc
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet, names ...string) {
	for _, name := range names {
		if err := v.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

func (rc *rootCommand) run(ctx context.Context) (int, error) {
	if err := rc.cmd.ExecuteContext(ctx); err != nil {
		if rc.code != 0 {
			return rc.code, err
		}
		return solo.ExitGenericError, err
	}
	return rc.code, nil
}

// execHandler executes the wrapped program once per request, appending
// the request's argv and attaching the forwarded stdin. The program's
// combined output and exit code become the result.
func execHandler(logger pslog.Logger, program []string) solo.Handler {
	return solo.HandlerFunc(func(ctx context.Context, argv []string, stdin io.Reader) (solo.Result, error) {
		args := make([]string, 0, len(program)-1+len(argv))
		args = append(args, program[1:]...)
		args = append(args, argv...)

		started := time.Now()
		cmd := exec.CommandContext(ctx, program[0], args...)
		cmd.Stdin = stdin
		out, err := cmd.CombinedOutput()
		logger.Debug("solo.cli.exec",
			"program", program[0],
			"args", len(args),
			"duration", time.Since(started))

		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return solo.Result{Code: exitErr.ExitCode(), Output: string(out)}, nil
			}
			return solo.Result{}, err
		}
		return solo.Result{Code: 0, Output: string(out)}, nil
	})
}
