// Package renderer contains the OutputRenderer implementations bundled with
// the server. Encoding frames to video or windows is left to external
// renderers; these cover headless runs, logging and in-memory snapshots.
package renderer

import (
	"image"
	"image/draw"
	"sync"
	"sync/atomic"

	"github.com/cyberinferno/simarena/logger"
	"github.com/cyberinferno/simarena/simulation"
)

var (
	_ simulation.OutputRenderer = Nop{}
	_ simulation.OutputRenderer = (*Logging)(nil)
	_ simulation.OutputRenderer = (*Snapshot)(nil)
	_ simulation.Attacher       = (*Snapshot)(nil)
)

// Nop discards every display call.
type Nop struct{}

func (Nop) Setup() error { return nil }
func (Nop) Display()     {}
func (Nop) Close() error { return nil }

// Logging counts display calls and logs each one at debug level.
type Logging struct {
	log     logger.Logger
	renders atomic.Uint64
}

// NewLogging returns a renderer that logs through l.
func NewLogging(l logger.Logger) *Logging {
	return &Logging{log: l.With(logger.F("component", "renderer"))}
}

// Setup implements simulation.OutputRenderer.
func (r *Logging) Setup() error {
	r.log.Info("renderer ready")
	return nil
}

// Display implements simulation.OutputRenderer.
func (r *Logging) Display() {
	n := r.renders.Add(1)
	r.log.Debug("display", logger.F("frame", n))
}

// Close implements simulation.OutputRenderer.
func (r *Logging) Close() error {
	r.log.Info("renderer closed", logger.F("frames", r.renders.Load()))
	return nil
}

// Frames returns the number of display calls so far.
func (r *Logging) Frames() uint64 {
	return r.renders.Load()
}

// Snapshot draws the attached simulation into an in-memory image on every
// Display. The latest frame can be read from any goroutine.
type Snapshot struct {
	width, height int

	mu     sync.Mutex
	target simulation.Visualiser
	canvas *image.RGBA
	frames uint64
	closed bool
}

// NewSnapshot returns a renderer with a width×height canvas.
func NewSnapshot(width, height int) *Snapshot {
	return &Snapshot{width: width, height: height}
}

// Attach implements simulation.Attacher.
func (s *Snapshot) Attach(v simulation.Visualiser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = v
}

// Setup implements simulation.OutputRenderer.
func (s *Snapshot) Setup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canvas = image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	return nil
}

// Display implements simulation.OutputRenderer.
func (s *Snapshot) Display() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.target == nil {
		return
	}

	if s.canvas == nil {
		s.canvas = image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	}

	s.target.Visualise(s.canvas)
	s.frames++
}

// Close implements simulation.OutputRenderer.
func (s *Snapshot) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Frames returns the number of frames drawn.
func (s *Snapshot) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Latest returns a copy of the most recent frame, or nil if none was drawn.
func (s *Snapshot) Latest() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.canvas == nil || s.frames == 0 {
		return nil
	}

	out := image.NewRGBA(s.canvas.Bounds())
	draw.Draw(out, out.Bounds(), s.canvas, image.Point{}, draw.Src)
	return out
}
