package renderer

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/simarena/logger"
)

type counterVis struct {
	calls int
}

func (c *counterVis) Visualise(canvas draw.Image) {
	c.calls++
	shade := uint8(c.calls * 10)
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.RGBA{R: shade, A: 0xff}), image.Point{}, draw.Src)
}

func TestNop(t *testing.T) {
	var r Nop
	assert.NoError(t, r.Setup())
	r.Display()
	assert.NoError(t, r.Close())
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	r := NewLogging(logger.NewZerologLogger(zerolog.New(&buf), "test", zerolog.DebugLevel))

	require.NoError(t, r.Setup())
	r.Display()
	r.Display()
	require.NoError(t, r.Close())

	assert.Equal(t, uint64(2), r.Frames())
	assert.Contains(t, buf.String(), `"frames":2`)
	assert.Contains(t, buf.String(), `"component":"renderer"`)
}

func TestSnapshot(t *testing.T) {
	t.Run("draws the attached visualiser on each display", func(t *testing.T) {
		vis := &counterVis{}
		s := NewSnapshot(4, 3)
		s.Attach(vis)
		require.NoError(t, s.Setup())

		assert.Nil(t, s.Latest())

		s.Display()
		s.Display()

		assert.Equal(t, uint64(2), s.Frames())
		assert.Equal(t, 2, vis.calls)

		img := s.Latest()
		require.NotNil(t, img)
		assert.Equal(t, image.Rect(0, 0, 4, 3), img.Bounds())
		assert.Equal(t, uint8(20), img.RGBAAt(3, 2).R)
	})

	t.Run("latest is a copy", func(t *testing.T) {
		s := NewSnapshot(2, 2)
		s.Attach(&counterVis{})
		s.Display()

		img := s.Latest()
		img.SetRGBA(0, 0, color.RGBA{G: 0xff, A: 0xff})
		assert.Equal(t, uint8(0), s.Latest().RGBAAt(0, 0).G)
	})

	t.Run("no target or closed renderer draws nothing", func(t *testing.T) {
		s := NewSnapshot(2, 2)
		s.Display()
		assert.Zero(t, s.Frames())

		vis := &counterVis{}
		s.Attach(vis)
		require.NoError(t, s.Close())
		s.Display()
		assert.Zero(t, vis.calls)
	})
}
