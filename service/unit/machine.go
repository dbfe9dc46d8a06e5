package unit

import (
	"context"

	"github.com/qdbp/empty-status/service/effect"
	"github.com/qdbp/empty-status/service/render"
)

// State is a unit kind's private state. It is owned by exactly one
// actor and only ever touched on the actor goroutine; transition
// functions take it and hand back the value to use from then on.
type State any

// PollOut is a unit kind's typed poll result.
type PollOut any

// Machine describes one unit kind as a set of state transitions. All
// transitions are pure except Poll, which is the kind's only IO entry
// point and must route every read through the effect kernel.
//
// Poll runs on its own goroutine with a snapshot of the state; it must
// treat that snapshot as read-only. State changes driven by a poll
// result belong in Render, which runs on the actor goroutine.
type Machine interface {
	// Name returns the kind name, e.g. "weather".
	Name() string

	// Init returns the initial state, a renderable loading view and
	// the initial scheduling decision.
	Init() (State, View, Decision)

	// Tick is the periodic render hook, independent of polling. It
	// performs no IO.
	Tick(s State) (State, *View, Decision)

	// Click reacts to a click on this unit. It performs no IO.
	Click(s State, ev ClickEvent) (State, *View, Decision)

	// Poll fetches the kind's external data through the kernel.
	Poll(ctx context.Context, kernel *effect.Kernel, s State) (PollOut, error)

	// Render folds a successful poll result into the state and
	// produces the next view.
	Render(s State, out PollOut) (State, View, Decision)

	// RenderError renders the unit-specific error text for a failed
	// poll. The framing (color, border, prefix) is applied centrally.
	RenderError(err error) render.Markup
}
