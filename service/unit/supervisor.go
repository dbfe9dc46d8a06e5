package unit

import (
	"github.com/qdbp/empty-status/service/mgr"
)

// Units supervises all configured unit actors. Each actor runs as a
// restarting worker on the module manager; clicks arrive as events and
// are routed by instance name.
type Units struct {
	mgr      *mgr.Manager
	instance instance

	actors     []*Actor
	byName     map[string]*Actor
	EventClick *mgr.EventMgr[ClickEvent]
}

// New returns a new unit supervisor for the given actors.
func New(instance instance, actors []*Actor) (*Units, error) {
	u := &Units{
		instance: instance,
		actors:   actors,
		byName:   make(map[string]*Actor, len(actors)),
	}
	for _, a := range actors {
		u.byName[a.Name()] = a
	}
	return u, nil
}

// Start starts all unit actors.
func (u *Units) Start(m *mgr.Manager) error {
	u.mgr = m
	u.EventClick = mgr.NewEventMgr[ClickEvent]("click", m)
	u.EventClick.AddCallback("route to actor", u.routeClick)

	for _, a := range u.actors {
		actor := a
		m.Go("actor "+actor.Name(), actor.Run)
	}
	return nil
}

// Stop stops the module. Actors stop with the manager context.
func (u *Units) Stop(m *mgr.Manager) error {
	return nil
}

func (u *Units) routeClick(w *mgr.WorkerCtx, ev ClickEvent) (bool, error) {
	actor, ok := u.byName[ev.Name]
	if !ok {
		w.Debug("click for unknown unit", "name", ev.Name)
		return false, nil
	}
	actor.DeliverClick(ev)
	return false, nil
}

// Actors returns the supervised actors in configuration order.
func (u *Units) Actors() []*Actor {
	return u.actors
}

type instance interface{}
