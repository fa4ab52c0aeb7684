// randomagent connects to one agent slot of a running simserver and plays
// the selected game with uniformly random legal moves.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/cyberinferno/simarena/agentclient"
	"github.com/cyberinferno/simarena/config"
	"github.com/cyberinferno/simarena/games"
	"github.com/cyberinferno/simarena/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flagSet := pflag.NewFlagSet("randomagent", pflag.ContinueOnError)
	configPath := flagSet.StringP("config", "c", "", "path to YAML config file")
	address := flagSet.StringP("address", "a", "", "agent slot address (host:port)")
	game := flagSet.StringP("game", "g", "", fmt.Sprintf("game being played %v", games.Names()))
	seed := flagSet.Int64("seed", 0, "random seed (0 seeds from the clock)")
	attempts := flagSet.Int("max-connect-attempts", 0, "give up after this many dial attempts (0 retries forever)")
	logLevel := flagSet.String("log-level", "", "log level (debug, info, warn, error)")

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

	a := &cfg.Agent
	if flagSet.Changed("address") {
		a.Address = *address
	}
	if flagSet.Changed("game") {
		a.Game = *game
	}
	if flagSet.Changed("seed") {
		a.Seed = *seed
	}
	if flagSet.Changed("max-connect-attempts") {
		a.MaxConnectAttempts = *attempts
	}
	if flagSet.Changed("log-level") {
		cfg.Logger.Level = *logLevel
	}

	if err := config.Validate(cfg); err != nil {
		return err
	}

	g, err := games.Lookup(a.Game)
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Config{
		Service: "randomagent",
		Level:   cfg.Logger.Level,
		Console: cfg.Logger.Console,
		Dir:     cfg.Logger.Dir,
	})
	if err != nil {
		return err
	}
	defer log.Close()

	if a.Seed == 0 {
		a.Seed = time.Now().UnixNano()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := agentclient.New(agentclient.Config{
		Address:            a.Address,
		ConnectionTimeout:  a.ConnectionTimeout,
		RetryInterval:      a.RetryInterval,
		MaxConnectAttempts: a.MaxConnectAttempts,
	}, log)
	defer client.Close()

	client.OnConnectionState(func(e agentclient.ConnectionStateEvent) {
		log.Debug("connection state changed", logger.F("state", e.State.String()), logger.Err(e.Error))
	})

	if err := client.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	log.Info("playing", logger.F("game", g.Name), logger.F("seed", a.Seed))
	return client.Serve(ctx, g.Policy(rand.New(rand.NewSource(a.Seed))))
}
