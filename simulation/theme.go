package simulation

import (
	"fmt"
	"image/color"
	"strings"
)

// Theme is the palette a simulation draws with.
type Theme struct {
	Name       string
	Background color.RGBA
	Foreground color.RGBA
	Accent     color.RGBA
	Players    []color.RGBA
}

// PlayerColor returns the colour for player i, cycling through the palette.
func (t Theme) PlayerColor(i int) color.RGBA {
	if len(t.Players) == 0 {
		return t.Foreground
	}

	return t.Players[i%len(t.Players)]
}

var (
	DefaultTheme = Theme{
		Name:       "default",
		Background: color.RGBA{R: 0xf5, G: 0xf5, B: 0xf0, A: 0xff},
		Foreground: color.RGBA{R: 0x20, G: 0x20, B: 0x20, A: 0xff},
		Accent:     color.RGBA{R: 0xe0, G: 0x8e, B: 0x0b, A: 0xff},
		Players: []color.RGBA{
			{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
			{R: 0xd6, G: 0x27, B: 0x28, A: 0xff},
		},
	}

	DarkTheme = Theme{
		Name:       "dark",
		Background: color.RGBA{R: 0x12, G: 0x12, B: 0x16, A: 0xff},
		Foreground: color.RGBA{R: 0xe8, G: 0xe8, B: 0xe8, A: 0xff},
		Accent:     color.RGBA{R: 0xff, G: 0xc1, B: 0x07, A: 0xff},
		Players: []color.RGBA{
			{R: 0x4f, G: 0xc3, B: 0xf7, A: 0xff},
			{R: 0xff, G: 0x70, B: 0x43, A: 0xff},
		},
	}
)

// ThemeByName looks up a built-in theme. The empty name selects DefaultTheme.
func ThemeByName(name string) (Theme, error) {
	switch strings.ToLower(name) {
	case "", DefaultTheme.Name:
		return DefaultTheme, nil
	case DarkTheme.Name:
		return DarkTheme, nil
	default:
		return Theme{}, fmt.Errorf("unknown theme %q", name)
	}
}
