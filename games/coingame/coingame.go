// Package coingame is a two-player pile removal game. Players alternate
// taking between 1 and MaxTake coins from a single pile; whoever takes the
// last coin wins the episode.
package coingame

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
const Name = "coingame"

// Config tunes the board.
type Config struct {
	Piles    int
	MaxCoins int
	MaxTake  int
	Log      logger.Logger
}

// DefaultConfig returns 3 piles of 1..7 coins and up to 3 coins per move.
func DefaultConfig() Config {
	return Config{Piles: 3, MaxCoins: 7, MaxTake: 3}
}

// State is sent to the player to move (PLAY/CONTINUE, reply expected) and
// to both players when an episode ends (WIN/LOSE, no reply).
type State struct {
	message.Outcome
	Piles   []int `cbor:"piles"`
	MaxTake int   `cbor:"max_take"`
	Player  int   `cbor:"player"`
}

// MessageKind implements message.Message.
func (State) MessageKind() message.Kind { return message.KindState }

// Action removes Take coins from pile Pile.
type Action struct {
	Pile int `cbor:"pile"`
	Take int `cbor:"take"`
}

// MessageKind implements message.Message.
func (Action) MessageKind() message.Kind { return message.KindAction }

// Simulation is the coin game.
type Simulation struct {
	players [2]agent.Agent
	cfg     Config
	theme   simulation.Theme
	rng     *rand.Rand
	tracker *simulation.Tracker
	log     logger.Logger

	piles []int
	turn  int
	moves int
}

var _ simulation.Simulation = (*Simulation)(nil)

// New creates a game between first and second.
func New(first, second agent.Agent, cfg Config, theme simulation.Theme, rng *rand.Rand) (*Simulation, error) {
	if cfg.Piles < 1 || cfg.MaxCoins < 1 || cfg.MaxTake < 1 {
		return nil, fmt.Errorf("coingame needs positive piles, coins and take limit, got %d/%d/%d", cfg.Piles, cfg.MaxCoins, cfg.MaxTake)
	}

	if cfg.Log == nil {
		cfg.Log = logger.NewNop()
	}

	s := &Simulation{
		players: [2]agent.Agent{first, second},
		cfg:     cfg,
		theme:   theme,
		rng:     rng,
		tracker: simulation.NewTracker(rng),
	}
	s.log = cfg.Log.With(logger.F("game", Name), logger.F("session", s.tracker.Session()))
	s.newBoard()

	return s, nil
}

// Builder returns a simulation.Builder producing games with cfg.
func Builder(cfg Config) simulation.Builder {
	return simulation.BuilderFunc(func(agents []agent.Agent, theme simulation.Theme, rng *rand.Rand) (simulation.Simulation, error) {
		if len(agents) != 2 {
			return nil, fmt.Errorf("coingame needs exactly 2 agents, got %d", len(agents))
		}

		return New(agents[0], agents[1], cfg, theme, rng)
	})
}

// newBoard deals fresh piles. The starting player alternates between episodes.
func (s *Simulation) newBoard() {
	s.piles = make([]int, s.cfg.Piles)
	for i := range s.piles {
		s.piles[i] = 1 + s.rng.Intn(s.cfg.MaxCoins)
	}

	s.turn = (s.tracker.Episodes() - 1) % 2
	s.moves = 0
}

func (s *Simulation) state(player int, out message.Outcome) State {
	return State{
		Outcome: out,
		Piles:   append([]int(nil), s.piles...),
		MaxTake: s.cfg.MaxTake,
		Player:  player,
	}
}

// Step implements simulation.Simulation.
func (s *Simulation) Step(r simulation.OutputRenderer) error {
	if s.tracker.Begin() {
		s.newBoard()
		s.log.Debug("episode started", logger.F("episode", s.tracker.Episode()), logger.F("piles", s.piles))
	}

	actor := s.turn
	player := s.players[actor]
	r.Display()

	sig := message.Continue
	if s.moves == 0 {
		sig = message.Play
	}

	if err := player.Send(s.state(actor, s.tracker.Outcome(sig))); err != nil {
		return err
	}

	action, err := agent.ReceiveAs[Action](player)
	if err != nil {
		return err
	}

	if action.Pile < 0 || action.Pile >= len(s.piles) || action.Take < 1 || action.Take > s.cfg.MaxTake {
		return &simerr.Error{
			Kind:  simerr.IllegalAction,
			Op:    "take coins",
			Agent: player.Name(),
			Err:   fmt.Errorf("take %d from pile %d is outside the rules (%d piles, max take %d)", action.Take, action.Pile, len(s.piles), s.cfg.MaxTake),
		}
	}

	if action.Take > s.piles[action.Pile] {
		invalid := &simerr.Error{
			Kind:  simerr.InvalidAction,
			Op:    "take coins",
			Agent: player.Name(),
			Err:   fmt.Errorf("pile %d holds %d coins, cannot take %d", action.Pile, s.piles[action.Pile], action.Take),
		}
		s.log.Warn("invalid action, player forfeits the episode", logger.Err(invalid))
		return s.endEpisode(r, 1-actor)
	}

	s.piles[action.Pile] -= action.Take
	s.moves++
	r.Display()

	if s.empty() {
		return s.endEpisode(r, actor)
	}

	s.tracker.Finish(message.Continue)
	s.turn = 1 - actor
	return nil
}

// endEpisode tells both players the result and closes the episode.
func (s *Simulation) endEpisode(r simulation.OutputRenderer, winner int) error {
	loser := 1 - winner
	lose := s.tracker.Finish(message.Lose)
	win := s.tracker.Outcome(message.Win)

	s.log.Info("episode finished",
		logger.F("episode", win.EpisodeID), logger.F("winner", s.players[winner].Name()), logger.F("moves", s.moves))
	r.Display()

	if err := s.players[winner].Send(s.state(winner, win)); err != nil {
		return err
	}

	return s.players[loser].Send(s.state(loser, lose))
}

func (s *Simulation) empty() bool {
	for _, p := range s.piles {
		if p > 0 {
			return false
		}
	}

	return true
}

// Visualise draws each pile as a column of coins in the colour of the
// player to move.
func (s *Simulation) Visualise(canvas draw.Image) {
	b := canvas.Bounds()
	draw.Draw(canvas, b, image.NewUniform(s.theme.Background), image.Point{}, draw.Src)

	width := b.Dx() / len(s.piles)
	coin := b.Dy() / s.cfg.MaxCoins
	if width == 0 || coin == 0 {
		return
	}

	fill := image.NewUniform(s.theme.PlayerColor(s.turn))
	for i, n := range s.piles {
		for c := 0; c < n && c < s.cfg.MaxCoins; c++ {
			r := image.Rect(b.Min.X+i*width+1, b.Max.Y-(c+1)*coin+1, b.Min.X+(i+1)*width-1, b.Max.Y-c*coin)
			draw.Draw(canvas, r, fill, image.Point{}, draw.Src)
		}
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

// Piles returns a copy of the current piles.
func (s *Simulation) Piles() []int {
	return append([]int(nil), s.piles...)
}

// RandomPolicy returns an agent-side handler that takes a random legal
// amount from a random non-empty pile.
func RandomPolicy(rng *rand.Rand) agentclient.Handler {
	return func(_ context.Context, env message.Envelope) (message.Message, error) {
		state, err := message.As[State](env)
		if err != nil {
			return nil, err
		}

		if state.Signal.IsTerminal() {
			return nil, nil
		}

		var open []int
		for i, p := range state.Piles {
			if p > 0 {
				open = append(open, i)
			}
		}

		if len(open) == 0 {
			return nil, fmt.Errorf("no coins left in a non-terminal state")
		}

		pile := open[rng.Intn(len(open))]
		take := 1 + rng.Intn(min(state.MaxTake, state.Piles[pile]))
		return Action{Pile: pile, Take: take}, nil
	}
}
