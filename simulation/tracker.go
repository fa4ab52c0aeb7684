package simulation

import (
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/cyberinferno/simarena/message"
)

// Tracker holds a simulation's session and episode identity and enforces the
// ONGOING/TERMINAL state machine: a terminal signal recorded by Finish causes
// the next Begin to start a fresh episode. The session id never changes.
type Tracker struct {
	mu       sync.Mutex
	entropy  *ulid.MonotonicEntropy
	session  ulid.ULID
	episode  ulid.ULID
	last     message.Signal
	episodes int
}

// NewTracker creates a tracker with a new session id and a first episode id.
//
// Parameters:
//   - rng: Entropy source for the ids, typically the simulation's *rand.Rand
//
// Returns:
//   - A tracker positioned at the start of the first episode
func NewTracker(rng io.Reader) *Tracker {
	t := &Tracker{entropy: ulid.Monotonic(rng, 0)}
	t.session = t.newID()
	t.episode = t.newID()
	t.episodes = 1
	return t
}

func (t *Tracker) newID() ulid.ULID {
	return ulid.MustNew(ulid.Timestamp(time.Now()), t.entropy)
}

// Begin is called at the top of every step. If the previous step ended the
// episode it regenerates the episode id and reports true.
func (t *Tracker) Begin() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.last.IsTerminal() {
		return false
	}

	t.episode = t.newID()
	t.episodes++
	t.last = 0
	return true
}

// Finish records the signal the step ended with and returns it stamped with
// the current ids.
func (t *Tracker) Finish(sig message.Signal) message.Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.last = sig
	return t.outcome(sig)
}

// Outcome stamps sig with the current ids without recording it. Use it for
// the other players' view of a step another player finished.
func (t *Tracker) Outcome(sig message.Signal) message.Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outcome(sig)
}

func (t *Tracker) outcome(sig message.Signal) message.Outcome {
	return message.Outcome{
		SessionID: t.session.String(),
		EpisodeID: t.episode.String(),
		Signal:    sig,
	}
}

// Session returns the session id.
func (t *Tracker) Session() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session.String()
}

// Episode returns the current episode id.
func (t *Tracker) Episode() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.episode.String()
}

// Episodes returns how many episodes have begun, including the current one.
func (t *Tracker) Episodes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.episodes
}

// Ended reports whether the last recorded signal closed the episode.
func (t *Tracker) Ended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last.IsTerminal()
}
