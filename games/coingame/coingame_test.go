package coingame

import (
	"context"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/simarena/agent"
	"github.com/cyberinferno/simarena/message"
	"github.com/cyberinferno/simarena/renderer"
	"github.com/cyberinferno/simarena/simerr"
	"github.com/cyberinferno/simarena/simulation"
)

// policyAgent answers the latest state it was sent with respond.
type policyAgent struct {
	name    string
	seq     uint32
	sent    []State
	respond func(State) message.Message
}

func (a *policyAgent) Name() string { return a.name }

func (a *policyAgent) Send(msg message.Message) error {
	a.seq++
	data, err := message.Encode(a.seq, msg)
	if err != nil {
		return err
	}

	env, err := message.Decode(data)
	if err != nil {
		return err
	}

	state, err := message.As[State](env)
	if err != nil {
		return err
	}

	a.sent = append(a.sent, state)
	return nil
}

func (a *policyAgent) Receive(message.Kind) (message.Envelope, error) {
	if a.respond == nil || len(a.sent) == 0 {
		return message.Envelope{}, simerr.New(simerr.Transport, "receive", io.EOF)
	}

	data, err := message.Encode(a.seq, a.respond(a.sent[len(a.sent)-1]))
	if err != nil {
		return message.Envelope{}, err
	}

	return message.Decode(data)
}

func (a *policyAgent) Close() error { return nil }

func (a *policyAgent) last() State {
	return a.sent[len(a.sent)-1]
}

// greedy empties the first non-empty pile as fast as the rules allow.
func greedy(s State) message.Message {
	for i, p := range s.Piles {
		if p > 0 {
			return Action{Pile: i, Take: min(p, s.MaxTake)}
		}
	}

	return Action{}
}

func fixed(a Action) func(State) message.Message {
	return func(State) message.Message { return a }
}

func newGame(t *testing.T, first, second func(State) message.Message) (*Simulation, *policyAgent, *policyAgent) {
	t.Helper()
	a := &policyAgent{name: "alice", respond: first}
	b := &policyAgent{name: "bob", respond: second}
	sim, err := New(a, b, DefaultConfig(), simulation.DefaultTheme, rand.New(rand.NewSource(11)))
	require.NoError(t, err)
	return sim, a, b
}

func TestSimulation_Step(t *testing.T) {
	t.Run("players alternate until the last coin is taken", func(t *testing.T) {
		sim, a, b := newGame(t, greedy, greedy)
		players := []*policyAgent{a, b}

		var movers []int
		for steps := 0; !sim.Tracker().Ended(); steps++ {
			require.Less(t, steps, 100, "episode never ended")
			movers = append(movers, sim.turn)
			require.NoError(t, sim.Step(renderer.Nop{}))
		}

		for i := 1; i < len(movers); i++ {
			assert.NotEqual(t, movers[i-1], movers[i])
		}

		winner := players[movers[len(movers)-1]]
		loser := players[1-movers[len(movers)-1]]
		assert.Equal(t, message.Win, winner.last().Signal)
		assert.Equal(t, message.Lose, loser.last().Signal)
		assert.Equal(t, winner.last().EpisodeID, loser.last().EpisodeID)
		assert.Equal(t, message.Play, a.sent[0].Signal)
		assert.Equal(t, []int{0, 0, 0}, sim.Piles())
	})

	t.Run("taking more than the pile holds forfeits the episode", func(t *testing.T) {
		sim, a, b := newGame(t, fixed(Action{Pile: 0, Take: 3}), greedy)
		sim.piles = []int{2, 5, 5}
		episode := sim.Tracker().Episode()

		require.NoError(t, sim.Step(renderer.Nop{}))
		assert.True(t, sim.Tracker().Ended())
		assert.Equal(t, message.Lose, a.last().Signal)
		assert.Equal(t, message.Win, b.last().Signal)
		assert.Equal(t, episode, b.last().EpisodeID)
		assert.Equal(t, []int{2, 5, 5}, b.last().Piles)

		require.NoError(t, sim.Step(renderer.Nop{}))
		require.Len(t, b.sent, 2)
		assert.Equal(t, message.Play, b.last().Signal)
		assert.Equal(t, 1, b.last().Player)
		assert.NotEqual(t, episode, b.last().EpisodeID)
		assert.Equal(t, a.last().SessionID, b.last().SessionID)
	})

	t.Run("rule violations are illegal actions", func(t *testing.T) {
		for _, action := range []Action{{Pile: 0, Take: 0}, {Pile: 0, Take: 4}, {Pile: 3, Take: 1}, {Pile: -1, Take: 1}} {
			sim, _, _ := newGame(t, fixed(action), greedy)

			err := sim.Step(renderer.Nop{})
			require.Error(t, err)
			assert.True(t, simerr.Is(err, simerr.IllegalAction), "action %+v", action)

			var se *simerr.Error
			require.ErrorAs(t, err, &se)
			assert.Equal(t, "alice", se.Agent)
		}
	})

	t.Run("missing reply surfaces as a transport error", func(t *testing.T) {
		sim, _, _ := newGame(t, nil, nil)
		assert.True(t, simerr.Is(sim.Step(renderer.Nop{}), simerr.Transport))
	})
}

func TestBuilder(t *testing.T) {
	b := Builder(DefaultConfig())
	rng := rand.New(rand.NewSource(1))

	_, err := b.Build([]agent.Agent{&policyAgent{name: "solo"}}, simulation.DefaultTheme, rng)
	assert.Error(t, err)

	sim, err := b.Build([]agent.Agent{&policyAgent{name: "a"}, &policyAgent{name: "b"}}, simulation.DefaultTheme, rng)
	require.NoError(t, err)
	assert.Len(t, sim.(*Simulation).Piles(), 3)

	_, err = New(&policyAgent{}, &policyAgent{}, Config{Piles: 1, MaxCoins: 1}, simulation.DefaultTheme, rng)
	assert.Error(t, err)
}

func TestRandomPolicy(t *testing.T) {
	policy := RandomPolicy(rand.New(rand.NewSource(5)))

	for i := 0; i < 50; i++ {
		data, err := message.Encode(uint32(i+1), State{
			Outcome: message.Outcome{Signal: message.Continue},
			Piles:   []int{0, 2, 0},
			MaxTake: 3,
		})
		require.NoError(t, err)
		env, err := message.Decode(data)
		require.NoError(t, err)

		reply, err := policy(context.Background(), env)
		require.NoError(t, err)
		action := reply.(Action)
		assert.Equal(t, 1, action.Pile)
		assert.GreaterOrEqual(t, action.Take, 1)
		assert.LessOrEqual(t, action.Take, 2)
	}
}
