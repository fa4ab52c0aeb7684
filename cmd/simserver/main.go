// simserver hosts one simulation session: it opens an agent slot per player,
// waits for remote agents to connect and steps the game until it is
// interrupted, reaches its step limit or fails.
//
// Exit codes: 0 on a clean stop, 1 on a run-fatal error, 3 when a protocol
// desync makes the process state untrustworthy.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/simarena/agentchannel"
	"github.com/cyberinferno/simarena/config"
	"github.com/cyberinferno/simarena/games"
	"github.com/cyberinferno/simarena/logger"
	"github.com/cyberinferno/simarena/renderer"
	"github.com/cyberinferno/simarena/runner"
	"github.com/cyberinferno/simarena/simerr"
	"github.com/cyberinferno/simarena/simulation"
)

// exitError carries a process exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }
func (e *exitError) ExitCode() int { return e.code }

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)

		var coder interface{ ExitCode() int }
		if errors.As(err, &coder) {
			os.Exit(coder.ExitCode())
		}
		os.Exit(1)
	}
}

func run() error {
	flagSet := pflag.NewFlagSet("simserver", pflag.ContinueOnError)
	configPath := flagSet.StringP("config", "c", "", "path to YAML config file")
	game := flagSet.StringP("game", "g", "", fmt.Sprintf("game to host %v", games.Names()))
	port := flagSet.IntP("port", "p", 0, "preferred port of the first agent slot (0 lets the OS choose)")
	agents := flagSet.StringSlice("agents", nil, "agent slot names, comma separated")
	allowExternal := flagSet.Bool("allow-external", false, "accept agents on all interfaces instead of loopback only")
	seed := flagSet.Int64("seed", 0, "random seed (0 seeds from the clock)")
	theme := flagSet.String("theme", "", "render theme (default, dark)")
	maxSteps := flagSet.Uint64("max-steps", 0, "stop after this many steps (0 runs until interrupted)")
	readTimeout := flagSet.Duration("read-timeout", 0, "per-frame read deadline (0 blocks forever)")
	writeTimeout := flagSet.Duration("write-timeout", 0, "per-frame write deadline (0 blocks forever)")
	logLevel := flagSet.String("log-level", "", "log level (debug, info, warn, error)")
	logDir := flagSet.String("log-dir", "", "also write logs to a dated file in this directory")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	s := &cfg.Server
	if flagSet.Changed("game") {
		s.Game = *game
	}
	if flagSet.Changed("port") {
		s.StartPort = *port
	}
	if flagSet.Changed("agents") {
		s.Agents = *agents
	}
	if flagSet.Changed("allow-external") {
		s.AllowExternal = *allowExternal
	}
	if flagSet.Changed("seed") {
		s.Seed = *seed
	}
	if flagSet.Changed("theme") {
		s.Theme = *theme
	}
	if flagSet.Changed("max-steps") {
		s.MaxSteps = *maxSteps
	}
	if flagSet.Changed("read-timeout") {
		s.ReadTimeout = *readTimeout
	}
	if flagSet.Changed("write-timeout") {
		s.WriteTimeout = *writeTimeout
	}
	if flagSet.Changed("log-level") {
		cfg.Logger.Level = *logLevel
	}
	if flagSet.Changed("log-dir") {
		cfg.Logger.Dir = *logDir
	}

	if err := config.Validate(cfg); err != nil {
		return err
	}

	log, err := logger.New(logger.Config{
		Service: "simserver",
		Level:   cfg.Logger.Level,
		Console: cfg.Logger.Console,
		Dir:     cfg.Logger.Dir,
	})
	if err != nil {
		return err
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg.Server, log)
}

// serve sets the session up, runs it and maps its outcome to an exit error.
func serve(ctx context.Context, s config.ServerConfig, log logger.Logger) error {
	g, err := games.Lookup(s.Game)
	if err != nil {
		return err
	}

	theme, err := simulation.ThemeByName(s.Theme)
	if err != nil {
		return err
	}

	opts := []runner.SetupOption{
		runner.WithAllowExternal(s.AllowExternal),
		runner.WithTheme(theme),
		runner.WithSetupLogger(log),
		runner.WithChannelOptions(
			agentchannel.WithBindAttempts(s.BindAttempts),
			agentchannel.WithReadTimeout(s.ReadTimeout),
			agentchannel.WithWriteTimeout(s.WriteTimeout),
		),
		runner.WithRunnerOptions(runner.WithMaxSteps(s.MaxSteps)),
	}
	if len(s.Agents) > 0 {
		opts = append(opts, runner.WithAgentNames(s.Agents...))
	}
	if s.Seed != 0 {
		opts = append(opts, runner.WithSeed(s.Seed))
	}

	r, err := runner.SetupSimulation(g.Builder(log), g.Agents, s.StartPort, renderer.NewLogging(log), opts...)
	if err != nil {
		return &exitError{code: 1, err: err}
	}

	log.Info("session ready, waiting for agents", logger.F("game", g.Name), logger.F("agents", g.Agents))
	if err := r.Start(); err != nil {
		return err
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return r.Wait()
	})
	group.Go(func() error {
		select {
		case <-gctx.Done():
			log.Info("shutdown requested")
			r.Stop()
		case <-r.Done():
		}
		return nil
	})

	err = group.Wait()
	log.Info("session ended", logger.F("steps", r.Steps()))

	switch {
	case err == nil:
		return nil
	case simerr.IsProcessFatal(err):
		return &exitError{code: 3, err: err}
	default:
		return &exitError{code: 1, err: err}
	}
}
