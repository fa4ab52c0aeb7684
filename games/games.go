// Package games registers the simulations bundled with the server so the
// binaries can select one by name.
package games

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/cyberinferno/simarena/agentclient"
	"github.com/cyberinferno/simarena/games/bandit"
	"github.com/cyberinferno/simarena/games/coingame"
	"github.com/cyberinferno/simarena/logger"
	"github.com/cyberinferno/simarena/simulation"
)

// Game describes one registered simulation.
type Game struct {
	Name string
	// Agents is the number of agent slots the game needs.
	Agents int
	// Builder constructs the server-side simulation.
	Builder func(log logger.Logger) simulation.Builder
	// Policy builds the agent-side random player.
	Policy func(rng *rand.Rand) agentclient.Handler
}

var registry = map[string]Game{
	bandit.Name: {
		Name:   bandit.Name,
		Agents: 1,
		Builder: func(log logger.Logger) simulation.Builder {
			cfg := bandit.DefaultConfig()
			cfg.Log = log
			return bandit.Builder(cfg)
		},
		Policy: bandit.RandomPolicy,
	},
	coingame.Name: {
		Name:   coingame.Name,
		Agents: 2,
		Builder: func(log logger.Logger) simulation.Builder {
			cfg := coingame.DefaultConfig()
			cfg.Log = log
			return coingame.Builder(cfg)
		},
		Policy: coingame.RandomPolicy,
	},
}

// Lookup returns the game registered under name.
func Lookup(name string) (Game, error) {
	g, ok := registry[name]
	if !ok {
		return Game{}, fmt.Errorf("unknown game %q (available: %v)", name, Names())
	}

	return g, nil
}

// Names lists the registered games in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}

	sort.Strings(names)
	return names
}
