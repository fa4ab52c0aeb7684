// Package bandit is a single-agent K-armed Bernoulli bandit. Each step the
// agent receives the last reward and picks an arm; after a fixed number of
// pulls the episode ends with RESET and new arm probabilities are drawn.
package bandit

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"math/rand"

	"github.com/cyberinferno/simarena/agent"
	"github.com/cyberinferno/simarena/agentclient"
	"github.com/cyberinferno/simarena/logger"
	"github.com/cyberinferno/simarena/message"
	"github.com/cyberinferno/simarena/simerr"
	"github.com/cyberinferno/simarena/simulation"
)

// Name is the registry name of the game.
const Name = "bandit"

// Config tunes the bandit.
type Config struct {
	Arms            int
	PullsPerEpisode int
	Log             logger.Logger
}

// DefaultConfig returns 5 arms and 100 pulls per episode.
func DefaultConfig() Config {
	return Config{Arms: 5, PullsPerEpisode: 100}
}

// State is sent before every pull and once more, with RESET, at episode end.
type State struct {
	message.Outcome
	Arms        int     `cbor:"arms"`
	Pull        int     `cbor:"pull"`
	LastArm     int     `cbor:"last_arm"`
	LastReward  float64 `cbor:"last_reward"`
	TotalReward float64 `cbor:"total_reward"`
}

// MessageKind implements message.Message.
func (State) MessageKind() message.Kind { return message.KindState }

// Action selects an arm.
type Action struct {
	Arm int `cbor:"arm"`
}

// MessageKind implements message.Message.
func (Action) MessageKind() message.Kind { return message.KindAction }

// Simulation is the bandit game.
type Simulation struct {
	player  agent.Agent
	cfg     Config
	theme   simulation.Theme
	rng     *rand.Rand
	tracker *simulation.Tracker
	log     logger.Logger

	probs      []float64
	counts     []int
	pull       int
	lastArm    int
	lastReward float64
	total      float64
}

var _ simulation.Simulation = (*Simulation)(nil)

// New creates a bandit for one agent.
func New(player agent.Agent, cfg Config, theme simulation.Theme, rng *rand.Rand) (*Simulation, error) {
	if cfg.Arms < 1 || cfg.PullsPerEpisode < 1 {
		return nil, fmt.Errorf("bandit needs at least one arm and one pull, got %d arms and %d pulls", cfg.Arms, cfg.PullsPerEpisode)
	}

	if cfg.Log == nil {
		cfg.Log = logger.NewNop()
	}

	s := &Simulation{
		player:  player,
		cfg:     cfg,
		theme:   theme,
		rng:     rng,
		tracker: simulation.NewTracker(rng),
	}
	s.log = cfg.Log.With(logger.F("game", Name), logger.F("session", s.tracker.Session()))
	s.newEpisode()

	return s, nil
}

// Builder returns a simulation.Builder producing bandits with cfg.
func Builder(cfg Config) simulation.Builder {
	return simulation.BuilderFunc(func(agents []agent.Agent, theme simulation.Theme, rng *rand.Rand) (simulation.Simulation, error) {
		if len(agents) != 1 {
			return nil, fmt.Errorf("bandit needs exactly 1 agent, got %d", len(agents))
		}

		return New(agents[0], cfg, theme, rng)
	})
}

func (s *Simulation) newEpisode() {
	s.probs = make([]float64, s.cfg.Arms)
	for i := range s.probs {
		s.probs[i] = s.rng.Float64()
	}

	s.counts = make([]int, s.cfg.Arms)
	s.pull = 0
	s.lastArm = -1
	s.lastReward = 0
	s.total = 0
}

func (s *Simulation) state(out message.Outcome) State {
	return State{
		Outcome:     out,
		Arms:        s.cfg.Arms,
		Pull:        s.pull,
		LastArm:     s.lastArm,
		LastReward:  s.lastReward,
		TotalReward: s.total,
	}
}

// Step implements simulation.Simulation.
func (s *Simulation) Step(r simulation.OutputRenderer) error {
	if s.tracker.Begin() {
		s.newEpisode()
		s.log.Debug("episode started", logger.F("episode", s.tracker.Episode()))
	}

	r.Display()

	sig := message.Continue
	if s.pull == 0 {
		sig = message.Play
	}

	if err := s.player.Send(s.state(s.tracker.Outcome(sig))); err != nil {
		return err
	}

	action, err := agent.ReceiveAs[Action](s.player)
	if err != nil {
		return err
	}

	if action.Arm < 0 || action.Arm >= s.cfg.Arms {
		return &simerr.Error{
			Kind:  simerr.IllegalAction,
			Op:    "pull arm",
			Agent: s.player.Name(),
			Err:   fmt.Errorf("arm %d outside [0,%d)", action.Arm, s.cfg.Arms),
		}
	}

	s.lastReward = 0
	if s.rng.Float64() < s.probs[action.Arm] {
		s.lastReward = 1
	}

	s.lastArm = action.Arm
	s.counts[action.Arm]++
	s.total += s.lastReward
	s.pull++
	r.Display()

	if s.pull < s.cfg.PullsPerEpisode {
		s.tracker.Finish(message.Continue)
		return nil
	}

	out := s.tracker.Finish(message.Reset)
	s.log.Info("episode finished", logger.F("episode", out.EpisodeID), logger.F("total_reward", s.total))
	return s.player.Send(s.state(out))
}

// Visualise draws one bar per arm, height proportional to its pull count;
// the last arm pulled is highlighted.
func (s *Simulation) Visualise(canvas draw.Image) {
	b := canvas.Bounds()
	draw.Draw(canvas, b, image.NewUniform(s.theme.Background), image.Point{}, draw.Src)

	maxCount := 1
	for _, c := range s.counts {
		maxCount = max(maxCount, c)
	}

	width := b.Dx() / len(s.counts)
	if width == 0 {
		return
	}

	for i, c := range s.counts {
		h := b.Dy() * c / maxCount
		bar := image.Rect(b.Min.X+i*width, b.Max.Y-h, b.Min.X+(i+1)*width-1, b.Max.Y)
		colour := s.theme.Foreground
		if i == s.lastArm {
			colour = s.theme.Accent
		}

		draw.Draw(canvas, bar, image.NewUniform(colour), image.Point{}, draw.Src)
	}
}

// Close implements simulation.Simulation.
func (s *Simulation) Close() error {
	return nil
}

// Tracker exposes the session and episode identity.
func (s *Simulation) Tracker() *simulation.Tracker {
	return s.tracker
}

// RandomPolicy returns an agent-side handler pulling uniformly random arms.
func RandomPolicy(rng *rand.Rand) agentclient.Handler {
	return func(_ context.Context, env message.Envelope) (message.Message, error) {
		state, err := message.As[State](env)
		if err != nil {
			return nil, err
		}

		if state.Signal.IsTerminal() {
			return nil, nil
		}

		return Action{Arm: rng.Intn(state.Arms)}, nil
	}
}
