// Package unit defines the unit machine contract and runs one actor
// per configured unit instance.
package unit

import (
	"context"
	"errors"
	"fmt"

	"github.com/qdbp/empty-status/service/effect"
	"github.com/qdbp/empty-status/service/render"
)

// Health is the coarse per-unit health signal. Units only ever pick
// this classification; presentation (border, color) is decided
// centrally by the output layer.
type Health uint8

// Health values.
const (
	HealthOk Health = iota
	HealthDegraded
	HealthError
)

func (h Health) String() string {
	switch h {
	case HealthOk:
		return "ok"
	case HealthDegraded:
		return "degraded"
	case HealthError:
		return "error"
	default:
		return "invalid"
	}
}

// View is the only artifact crossing from a unit actor to the output
// aggregator. It is immutable once published.
type View struct {
	Body   render.Markup
	Health Health
}

// LoadingView is the neutral initial representation every unit shows
// before its first poll result.
func LoadingView(name string) View {
	return View{
		Body: render.Text(name + " ").
			Append(render.Text("loading").FG(render.ParseRGB(render.Violet))),
		Health: HealthDegraded,
	}
}

// OkView wraps a body markup with ok health.
func OkView(body render.Markup) View {
	return View{Body: body, Health: HealthOk}
}

// Decision is a unit's scheduling request. The actor, not the unit,
// decides the actual timing.
type Decision uint8

// Decisions.
const (
	// Idle leaves the next poll deadline as previously computed.
	Idle Decision = iota
	// PollNow requests an immediate poll, subject to the global
	// minimum polling interval. It may be deferred, never dropped.
	PollNow
)

// ClickEvent is a decoded status-bar click, delivered to the unit
// instance named by Name.
type ClickEvent struct {
	Name      string   `json:"name"`
	Button    int      `json:"button"`
	X         int      `json:"x"`
	Y         int      `json:"y"`
	Modifiers []string `json:"modifiers"`
}

// PollErrorKind classifies a failed poll.
type PollErrorKind uint8

// Poll error kinds.
const (
	// PollTimeout means the poll exceeded its deadline.
	PollTimeout PollErrorKind = iota + 1
	// PollCanceled means the poll was superseded before completion.
	PollCanceled
	// PollTransport means the effect kernel failed at the IO layer.
	PollTransport
	// PollUnit is a unit domain failure, opaque to the runtime.
	PollUnit
)

func (k PollErrorKind) String() string {
	switch k {
	case PollTimeout:
		return "timeout"
	case PollCanceled:
		return "canceled"
	case PollTransport:
		return "transport"
	case PollUnit:
		return "unit"
	default:
		return "invalid"
	}
}

// PollError is a classified poll failure.
type PollError struct {
	Kind PollErrorKind
	Err  error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("poll %s: %s", e.Kind, e.Err)
}

func (e *PollError) Unwrap() error {
	return e.Err
}

// ClassifyPollError maps a raw poll failure onto the PollError
// taxonomy. Context deadline and cancellation take precedence over
// anything the poll function returned.
func ClassifyPollError(ctx context.Context, err error) *PollError {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded),
		errors.Is(err, context.DeadlineExceeded):
		return &PollError{Kind: PollTimeout, Err: err}
	case errors.Is(ctx.Err(), context.Canceled),
		errors.Is(err, context.Canceled):
		return &PollError{Kind: PollCanceled, Err: err}
	case effect.IsTransport(err):
		return &PollError{Kind: PollTransport, Err: err}
	default:
		return &PollError{Kind: PollUnit, Err: err}
	}
}
