// Package kinds implements the built-in unit kinds.
package kinds

import (
	"fmt"
	"math"
	"time"

	"github.com/qdbp/empty-status/service/render"
)

// scalePalette is the shared cold-to-hot five-step scale used by units
// that colorize a value against breakpoints.
var scalePalette = [5]render.RGB{
	render.ParseRGB(render.Blue),
	render.ParseRGB(render.Green),
	render.ParseRGB(render.Yellow),
	render.ParseRGB(render.Orange),
	render.ParseRGB(render.Red),
}

// scaleColor maps v onto the palette: below the first breakpoint is
// calm blue, above the last is red.
func scaleColor(v float64, breakpoints [4]float64) render.RGB {
	for i, b := range breakpoints {
		if v < b {
			return scalePalette[i]
		}
	}
	return scalePalette[4]
}

// scaleColorRev is scaleColor with inverted polarity, for values where
// high is good (battery charge, link quality).
func scaleColorRev(v float64, breakpoints [4]float64) render.RGB {
	for i, b := range breakpoints {
		if v < b {
			return scalePalette[4-i]
		}
	}
	return scalePalette[0]
}

// pctColorRev colorizes a 0-100 percentage where high is good.
func pctColorRev(pct float64) render.RGB {
	return scaleColorRev(pct, [4]float64{20, 40, 60, 80})
}

func bracketed(m render.Markup) render.Markup {
	return render.Text("[").Append(m, render.Text("]"))
}

// formatDuration renders seconds as "3d 4h 12m" with empty leading
// parts dropped.
func formatDuration(sec float64) string {
	total := int64(sec)
	days := total / 86400
	hours := (total % 86400) / 3600
	mins := (total % 3600) / 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, mins)
	default:
		return fmt.Sprintf("%dm", mins)
	}
}

// EMA is a time-decayed exponential moving average with value
// semantics, so it can live inside unit state snapshots.
type EMA struct {
	window float64

	value  float64
	last   time.Time
	primed bool
}

// NewEMA returns an average with the given decay window.
func NewEMA(window time.Duration) EMA {
	return EMA{window: window.Seconds()}
}

// Feed folds a sample taken at now into the average and returns the
// updated average alongside its current value.
func (e EMA) Feed(x float64, now time.Time) (EMA, float64) {
	if !e.primed {
		e.value = x
		e.last = now
		e.primed = true
		return e, x
	}

	dt := now.Sub(e.last).Seconds()
	if dt < 0 {
		dt = 0
	}
	alpha := 1 - math.Exp(-dt/e.window)
	e.value += alpha * (x - e.value)
	e.last = now
	return e, e.value
}

// Value returns the current average, or fallback if nothing has been
// fed yet.
func (e EMA) Value(fallback float64) float64 {
	if !e.primed {
		return fallback
	}
	return e.value
}
