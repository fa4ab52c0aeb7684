package message

import "fmt"

// Signal is the outcome attached to a state sent to an agent at the end of a
// step. Play and Continue mean the episode is ongoing; every other value
// marks an episode boundary.
type Signal uint8

const (
	Play Signal = iota + 1
	Continue
	Win
	Lose
	Draw
	Reset
)

var signalNames = map[Signal]string{
	Play:     "PLAY",
	Continue: "CONTINUE",
	Win:      "WIN",
	Lose:     "LOSE",
	Draw:     "DRAW",
	Reset:    "RESET",
}

// String returns the wire name of the signal.
func (s Signal) String() string {
	if name, ok := signalNames[s]; ok {
		return name
	}

	return fmt.Sprintf("Signal(%d)", uint8(s))
}

// Valid reports whether s is one of the defined signals.
func (s Signal) Valid() bool {
	_, ok := signalNames[s]
	return ok
}

// IsTerminal reports whether s ends the current episode.
func (s Signal) IsTerminal() bool {
	switch s {
	case Win, Lose, Draw, Reset:
		return true
	default:
		return false
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Signal) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid signal %d", uint8(s))
	}

	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Signal) UnmarshalText(text []byte) error {
	parsed, err := ParseSignal(string(text))
	if err != nil {
		return err
	}

	*s = parsed
	return nil
}

// ParseSignal converts a wire name such as "WIN" to a Signal.
func ParseSignal(name string) (Signal, error) {
	for sig, n := range signalNames {
		if n == name {
			return sig, nil
		}
	}

	return 0, fmt.Errorf("unknown signal %q", name)
}

// Outcome identifies where a state sits in the session/episode state machine.
// Game state messages embed it.
type Outcome struct {
	SessionID string `cbor:"session_id"`
	EpisodeID string `cbor:"episode_id"`
	Signal    Signal `cbor:"signal"`
}
