// Package simulation defines the contract every game hosted by the server
// implements, the renderer boundary it draws through, and the session and
// episode bookkeeping every game shares.
package simulation

import (
	"image/draw"
	"math/rand"

	"github.com/cyberinferno/simarena/agent"
)

// OutputRenderer presents the simulation. Display is called by the
// simulation itself, zero or more times per step.
type OutputRenderer interface {
	Setup() error
	Display()
	Close() error
}

// Visualiser draws the current state onto a canvas without changing it.
type Visualiser interface {
	Visualise(canvas draw.Image)
}

// Simulation is one game instance driven by the runner.
type Simulation interface {
	Visualiser

	// Step performs exactly one logical turn, including all agent exchanges
	// for that turn. Invalid actions are handled inside Step; only fatal
	// conditions are returned.
	Step(renderer OutputRenderer) error

	// Close releases resources held by the simulation. Idempotent.
	Close() error
}

// Attacher is implemented by renderers that draw the simulation themselves
// and therefore need a reference to it once it is built.
type Attacher interface {
	Attach(v Visualiser)
}

// Builder constructs a Simulation over a set of connected agent handles.
type Builder interface {
	Build(agents []agent.Agent, theme Theme, rng *rand.Rand) (Simulation, error)
}

// BuilderFunc adapts a function to Builder.
type BuilderFunc func(agents []agent.Agent, theme Theme, rng *rand.Rand) (Simulation, error)

// Build implements Builder.
func (f BuilderFunc) Build(agents []agent.Agent, theme Theme, rng *rand.Rand) (Simulation, error) {
	return f(agents, theme, rng)
}
