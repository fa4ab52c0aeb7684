// Package runner drives a simulation's step loop on its own goroutine and
// wires agent channels, agent handles and a simulation together at setup.
package runner

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/cyberinferno/simarena/agent"
	"github.com/cyberinferno/simarena/logger"
	"github.com/cyberinferno/simarena/perfmonitor"
	"github.com/cyberinferno/simarena/simerr"
	"github.com/cyberinferno/simarena/simulation"
)

// ErrAlreadyStarted is returned by Start when the runner was started before.
var ErrAlreadyStarted = errors.New("runner already started")

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner's logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Runner) {
		r.log = l
	}
}

// WithMaxSteps stops the loop after n steps. Zero means run until stopped.
func WithMaxSteps(n uint64) Option {
	return func(r *Runner) {
		r.maxSteps = n
	}
}

// Runner owns the step loop of one simulation. Steps run strictly one after
// another on the loop goroutine; the caller of Start is never blocked.
type Runner struct {
	sim      simulation.Simulation
	agents   []agent.Agent
	renderer simulation.OutputRenderer
	log      logger.Logger
	maxSteps uint64

	started  atomic.Bool
	stopping atomic.Bool
	steps    atomic.Uint64

	done     chan struct{}
	doneOnce sync.Once
	stopOnce sync.Once
	closed   sync.Once
	err      error
}

// New builds an unstarted runner.
//
// Parameters:
//   - sim: The simulation to drive
//   - agents: Every agent the simulation talks to; closed on shutdown
//   - renderer: The output renderer handed to each Step
//   - opts: Optional settings
//
// Returns:
//   - The runner
func New(sim simulation.Simulation, agents []agent.Agent, renderer simulation.OutputRenderer, opts ...Option) *Runner {
	r := &Runner{
		sim:      sim,
		agents:   agents,
		renderer: renderer,
		log:      logger.NewNop(),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Start launches the loop goroutine. It returns immediately.
func (r *Runner) Start() error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	r.log.Info("simulation runner starting", logger.F("agents", len(r.agents)))
	go r.loop()

	return nil
}

func (r *Runner) loop() {
	defer r.finish()

	if err := r.renderer.Setup(); err != nil {
		r.err = simerr.New(simerr.Setup, "renderer setup", err)
		r.log.Error("renderer setup failed", logger.Err(err))
		return
	}

	perf := perfmonitor.NewPerformanceMonitor()
	for !r.stopping.Load() {
		perf.Start()
		err := r.sim.Step(r.renderer)
		perf.Stop()
		step := r.steps.Add(1)

		if err != nil {
			if r.stopping.Load() {
				r.log.Debug("step interrupted by stop", logger.F("step", step), logger.Err(err))
				return
			}

			if simerr.IsFatal(err) {
				r.err = err
				r.log.Error("step failed, stopping run",
					logger.F("step", step), logger.F("fatal_to_process", simerr.IsProcessFatal(err)), logger.Err(err))
				return
			}

			r.log.Warn("step reported error", logger.F("step", step), logger.Err(err))
		} else {
			r.log.Debug("step complete", logger.F("step", step), logger.F("elapsed_ms", perf.ElapsedMilliseconds()))
		}

		if r.maxSteps > 0 && step >= r.maxSteps {
			r.log.Info("step limit reached", logger.F("steps", step))
			return
		}
	}
}

// Stop requests the loop to end. Agents are interrupted so a Step blocked in
// Receive returns instead of waiting for a peer that may never answer. Safe
// to call from any goroutine, any number of times, before or after Start.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		r.stopping.Store(true)
		r.log.Info("simulation runner stopping")

		for _, a := range r.agents {
			if in, ok := a.(agent.Interrupter); ok {
				in.Interrupt()
			}
		}

		// Never started: nothing will run the shutdown sequence for us.
		if r.started.CompareAndSwap(false, true) {
			r.finish()
		}
	})
}

// finish closes the simulation, then every agent, then the renderer. Close
// failures are logged and never escalated.
func (r *Runner) finish() {
	r.closed.Do(func() {
		if err := r.sim.Close(); err != nil {
			r.log.Warn("simulation close failed", logger.Err(err))
		}

		for _, a := range r.agents {
			if err := a.Close(); err != nil {
				r.log.Warn("agent close failed", logger.F("agent", a.Name()), logger.Err(err))
			}
		}

		if err := r.renderer.Close(); err != nil {
			r.log.Warn("renderer close failed", logger.Err(err))
		}

		r.log.Info("simulation runner stopped", logger.F("steps", r.steps.Load()))
	})

	r.doneOnce.Do(func() { close(r.done) })
}

// Wait blocks until the loop has ended and everything is closed. It returns
// the fatal error that ended the run, or nil for a requested stop.
func (r *Runner) Wait() error {
	<-r.done
	return r.err
}

// Done is closed once the loop has ended and everything is closed.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Err returns the fatal error that ended the run. Only meaningful after Done.
func (r *Runner) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Steps returns the number of steps executed so far.
func (r *Runner) Steps() uint64 {
	return r.steps.Load()
}

// Agents returns the agents owned by the runner.
func (r *Runner) Agents() []agent.Agent {
	return r.agents
}

// Simulation returns the simulation driven by the runner.
func (r *Runner) Simulation() simulation.Simulation {
	return r.sim
}
