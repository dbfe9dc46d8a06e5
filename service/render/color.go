package render

import (
	"fmt"
	"strconv"
)

// Base16 tomorrow theme colors used across all units.
const (
	DarkGrey = "#373B41"
	Grey     = "#969896"
	Red      = "#CC6666"
	Orange   = "#DE935F"
	Yellow   = "#F0C674"
	Green    = "#B5BD68"
	Cyan     = "#8ABEB7"
	Blue     = "#81A2BE"
	Violet   = "#B294BB"
	Brown    = "#A3685A"
)

// RGB is an 8-bit sRGB color.
type RGB struct {
	R, G, B uint8
}

// ParseRGB parses a "#RRGGBB" hex color. Invalid input yields black.
func ParseRGB(s string) RGB {
	if len(s) > 0 && s[0] == '#' {
		s = s[1:]
	}
	if len(s) != 6 {
		return RGB{}
	}
	r, err1 := strconv.ParseUint(s[0:2], 16, 8)
	g, err2 := strconv.ParseUint(s[2:4], 16, 8)
	b, err3 := strconv.ParseUint(s[4:6], 16, 8)
	if err1 != nil || err2 != nil || err3 != nil {
		return RGB{}
	}
	return RGB{R: uint8(r), G: uint8(g), B: uint8(b)}
}

// Hex returns the "#RRGGBB" representation.
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

// Stop is one anchor of a gradient, with t in [0, 1].
type Stop struct {
	T     float64
	Color RGB
}

// Gradient linearly interpolates between ordered color stops.
type Gradient struct {
	stops []Stop
}

// NewGradient returns a gradient over the given stops.
// Stops must be sorted by T in ascending order.
func NewGradient(stops ...Stop) Gradient {
	return Gradient{stops: stops}
}

// At returns the interpolated color for t clamped to [0, 1].
func (g Gradient) At(t float64) RGB {
	if len(g.stops) == 0 {
		return RGB{}
	}
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}

	prev := g.stops[0]
	if t <= prev.T {
		return prev.Color
	}
	for _, s := range g.stops[1:] {
		if t <= s.T {
			span := s.T - prev.T
			if span <= 0 {
				return s.Color
			}
			return lerpRGB(prev.Color, s.Color, (t-prev.T)/span)
		}
		prev = s
	}
	return prev.Color
}

// MapClamped maps x from [min, max] onto the gradient.
func (g Gradient) MapClamped(x, min, max float64) RGB {
	span := max - min
	if span <= 0 {
		span = 1
	}
	return g.At((x - min) / span)
}

func lerpRGB(a, b RGB, t float64) RGB {
	return RGB{
		R: uint8(float64(a.R) + (float64(b.R)-float64(a.R))*t),
		G: uint8(float64(a.G) + (float64(b.G)-float64(a.G))*t),
		B: uint8(float64(a.B) + (float64(b.B)-float64(a.B))*t),
	}
}

// TempGradient is the shared cold-to-hot scale used by units that
// colorize a magnitude (temperature, usage, load).
var TempGradient = NewGradient(
	Stop{T: 0.0, Color: RGB{R: 89, G: 140, B: 255}},
	Stop{T: 0.45, Color: RGB{R: 51, G: 255, B: 128}},
	Stop{T: 0.7, Color: RGB{R: 255, G: 204, B: 51}},
	Stop{T: 1.0, Color: RGB{R: 255, G: 51, B: 51}},
)
