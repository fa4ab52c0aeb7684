package runner

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/cyberinferno/simarena/agent"
	"github.com/cyberinferno/simarena/agentchannel"
	"github.com/cyberinferno/simarena/logger"
	"github.com/cyberinferno/simarena/simerr"
	"github.com/cyberinferno/simarena/simulation"
)

// SetupOption configures SetupSimulation.
type SetupOption func(*setupConfig)

type setupConfig struct {
	names         []string
	allowExternal bool
	seed          int64
	theme         simulation.Theme
	log           logger.Logger
	channelOpts   []agentchannel.Option
	runnerOpts    []Option
}

// WithAgentNames names the agent slots in order. The count must match.
func WithAgentNames(names ...string) SetupOption {
	return func(c *setupConfig) {
		c.names = names
	}
}

// WithAllowExternal binds every slot on all interfaces instead of loopback.
func WithAllowExternal(allow bool) SetupOption {
	return func(c *setupConfig) {
		c.allowExternal = allow
	}
}

// WithSeed seeds the random source handed to the builder.
func WithSeed(seed int64) SetupOption {
	return func(c *setupConfig) {
		c.seed = seed
	}
}

// WithTheme sets the theme handed to the builder.
func WithTheme(theme simulation.Theme) SetupOption {
	return func(c *setupConfig) {
		c.theme = theme
	}
}

// WithSetupLogger sets the logger used for setup and passed on to channels,
// agents and the runner.
func WithSetupLogger(l logger.Logger) SetupOption {
	return func(c *setupConfig) {
		c.log = l
	}
}

// WithChannelOptions adds options applied to every agent channel.
func WithChannelOptions(opts ...agentchannel.Option) SetupOption {
	return func(c *setupConfig) {
		c.channelOpts = append(c.channelOpts, opts...)
	}
}

// WithRunnerOptions adds options applied to the returned runner.
func WithRunnerOptions(opts ...Option) SetupOption {
	return func(c *setupConfig) {
		c.runnerOpts = append(c.runnerOpts, opts...)
	}
}

// SetupSimulation binds one agent channel per slot, starting at startPort for
// slot 0 and startPort+i for slot i (each slot probes upward on its own when
// its port is busy; a startPort of 0 lets the OS choose), builds the
// simulation over the agent handles and returns an unstarted runner. It never
// waits for peers to connect.
//
// Parameters:
//   - builder: Constructs the simulation from the agents
//   - agentCount: Number of agent slots
//   - startPort: Preferred port of the first slot
//   - renderer: Output renderer; attached to the simulation if it implements simulation.Attacher
//   - opts: Optional settings
//
// Returns:
//   - The runner, or a simerr.Setup error; on error nothing stays bound
func SetupSimulation(builder simulation.Builder, agentCount int, startPort int, renderer simulation.OutputRenderer, opts ...SetupOption) (*Runner, error) {
	cfg := setupConfig{
		seed:  time.Now().UnixNano(),
		theme: simulation.DefaultTheme,
		log:   logger.NewNop(),
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	names, err := slotNames(agentCount, cfg.names)
	if err != nil {
		return nil, err
	}

	channelOpts := append([]agentchannel.Option{agentchannel.WithLogger(cfg.log)}, cfg.channelOpts...)

	agents := make([]agent.Agent, 0, agentCount)
	cleanup := func() {
		for _, a := range agents {
			_ = a.Close()
		}
	}

	for i, name := range names {
		// Port 0 lets the OS pick a free port for every slot.
		port := startPort
		if startPort != 0 {
			port += i
		}

		ch, err := agentchannel.NewAgentChannel(name, port, cfg.allowExternal, channelOpts...)
		if err != nil {
			cleanup()
			return nil, err
		}

		agents = append(agents, agent.New(ch, cfg.log))
		cfg.log.Info("agent slot ready", logger.F("agent", name), logger.F("port", ch.Port()))
	}

	rng := rand.New(rand.NewSource(cfg.seed))
	sim, err := builder.Build(agents, cfg.theme, rng)
	if err != nil {
		cleanup()
		return nil, simerr.New(simerr.Setup, "build simulation", err)
	}

	if attacher, ok := renderer.(simulation.Attacher); ok {
		attacher.Attach(sim)
	}

	runnerOpts := append([]Option{WithLogger(cfg.log)}, cfg.runnerOpts...)
	return New(sim, agents, renderer, runnerOpts...), nil
}

func slotNames(count int, names []string) ([]string, error) {
	if count < 1 {
		return nil, simerr.Newf(simerr.Setup, "setup", "agent count must be positive, got %d", count)
	}

	if len(names) == 0 {
		names = make([]string, count)
		for i := range names {
			names[i] = fmt.Sprintf("agent-%d", i+1)
		}

		return names, nil
	}

	if len(names) != count {
		return nil, simerr.Newf(simerr.Setup, "setup", "%d agent names given for %d slots", len(names), count)
	}

	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n == "" {
			return nil, simerr.Newf(simerr.Setup, "setup", "agent name must not be empty")
		}

		if _, dup := seen[n]; dup {
			return nil, simerr.Newf(simerr.Setup, "setup", "duplicate agent name %q", n)
		}

		seen[n] = struct{}{}
	}

	return names, nil
}
