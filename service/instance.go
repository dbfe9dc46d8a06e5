// Package service ties the status line modules together.
package service

import (
	"fmt"

	"github.com/qdbp/empty-status/service/config"
	"github.com/qdbp/empty-status/service/effect"
	"github.com/qdbp/empty-status/service/mgr"
	"github.com/qdbp/empty-status/service/output"
	"github.com/qdbp/empty-status/service/unit"
	"github.com/qdbp/empty-status/service/unit/kinds"
)

// Instance is one running status line engine.
type Instance struct {
	*mgr.Group

	cfg config.Config

	kernel     *effect.Kernel
	units      *unit.Units
	aggregator *output.Aggregator
	clicks     *output.ClickReader
}

// New builds an instance from a validated config. Module start order
// is effect kernel, unit supervisor, output aggregator, click reader.
func New(cfg config.Config) (*Instance, error) {
	instance := &Instance{cfg: cfg}

	var err error
	instance.kernel, err = effect.NewKernel(instance)
	if err != nil {
		return nil, fmt.Errorf("create effect kernel: %w", err)
	}

	actors := make([]*unit.Actor, 0, len(cfg.Units))
	for i := range cfg.Units {
		entry := &cfg.Units[i]
		machine, err := kinds.Build(entry.Kind, entry.Node())
		if err != nil {
			return nil, fmt.Errorf("units[%d]: %w", i, err)
		}
		name := fmt.Sprintf("%s::%d", entry.Kind, i)
		actors = append(actors, unit.NewActor(name, machine, instance.kernel, cfg.Scheduling(entry)))
	}

	instance.units, err = unit.New(instance, actors)
	if err != nil {
		return nil, fmt.Errorf("create unit supervisor: %w", err)
	}

	instance.aggregator, err = output.NewAggregator(instance, cfg.MinInterval(), cfg.Padding)
	if err != nil {
		return nil, fmt.Errorf("create output aggregator: %w", err)
	}

	instance.clicks, err = output.NewClickReader(instance)
	if err != nil {
		return nil, fmt.Errorf("create click reader: %w", err)
	}

	instance.Group = mgr.NewGroup(
		instance.kernel,
		instance.units,
		instance.aggregator,
		instance.clicks,
	)

	return instance, nil
}

// Config returns the instance config.
func (i *Instance) Config() config.Config {
	return i.cfg
}

// Kernel returns the effect kernel module.
func (i *Instance) Kernel() *effect.Kernel {
	return i.kernel
}

// Units returns the unit supervisor module.
func (i *Instance) Units() *unit.Units {
	return i.units
}
