package mgr

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// Module is one start/stoppable component of the instance, such as the
// effect kernel or the output aggregator.
type Module interface {
	Start(mgr *Manager) error
	Stop(mgr *Manager) error
}

// Group starts and stops a set of modules as one unit, in order.
type Group struct {
	modules []*groupModule

	ctx       context.Context
	cancelCtx context.CancelFunc
	ctxLock   sync.Mutex
}

type groupModule struct {
	module Module
	mgr    *Manager
}

// NewGroup returns a group over the given modules, each with its own
// named manager. Nil entries are skipped, so optional modules can be
// passed unconditionally.
func NewGroup(modules ...Module) *Group {
	g := &Group{
		modules: make([]*groupModule, 0, len(modules)),
	}
	g.initGroupContext()

	for _, m := range modules {
		switch {
		case m == nil:
			continue
		case reflect.ValueOf(m).IsNil():
			// Typed nils arrive as non-nil interface values; skip them too.
			continue
		}

		g.modules = append(g.modules, &groupModule{
			module: m,
			mgr:    newManager(g.ctx, makeModuleName(m), "module"),
		})
	}

	return g
}

// Start starts all modules in the defined order. If one fails to
// start, it and everything started before it are stopped again in
// reverse order.
func (g *Group) Start() error {
	g.initGroupContext()

	for i, m := range g.modules {
		if err := m.module.Start(m.mgr); err != nil {
			g.stopFrom(i)
			return fmt.Errorf("failed to start %s: %w", makeModuleName(m.module), err)
		}
		m.mgr.Info("started")
	}
	return nil
}

// Stop stops all modules in reverse start order and waits for their
// workers, reporting whether everything went down cleanly.
func (g *Group) Stop() (ok bool) {
	return g.stopFrom(len(g.modules) - 1)
}

func (g *Group) stopFrom(index int) (ok bool) {
	ok = true
	for i := index; i >= 0; i-- {
		m := g.modules[i]
		if err := m.module.Stop(m.mgr); err != nil {
			m.mgr.Error("failed to stop", "err", err)
			ok = false
		}
		m.mgr.Cancel()
		if m.mgr.WaitForWorkers(0) {
			m.mgr.Info("stopped")
		} else {
			ok = false
			m.mgr.Error(
				"failed to stop",
				"err", "timed out",
				"workerCnt", m.mgr.workerCnt.Load(),
			)
		}
	}

	g.stopGroupContext()
	return
}

func (g *Group) initGroupContext() {
	g.ctxLock.Lock()
	defer g.ctxLock.Unlock()

	g.ctx, g.cancelCtx = context.WithCancel(context.Background())
}

func (g *Group) stopGroupContext() {
	g.ctxLock.Lock()
	defer g.ctxLock.Unlock()

	g.cancelCtx()
}

// Done returns the group context Done channel.
func (g *Group) Done() <-chan struct{} {
	g.ctxLock.Lock()
	defer g.ctxLock.Unlock()

	return g.ctx.Done()
}

// IsDone checks whether the group context is done.
func (g *Group) IsDone() bool {
	g.ctxLock.Lock()
	defer g.ctxLock.Unlock()

	return g.ctx.Err() != nil
}

func makeModuleName(m Module) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", m), "*")
}
