package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/qdbp/empty-status/service/mgr"
	"github.com/qdbp/empty-status/service/unit"
)

// i3barHeader opens the protocol stream: a header object followed by
// the start of an infinite JSON array of frames.
const i3barHeader = "{\"version\":1,\"click_events\":true}\n[\n"

// Aggregator periodically samples every actor's latest view and emits
// one complete frame per tick. It is purely periodic: nothing in the
// system can force a frame between ticks.
type Aggregator struct {
	mgr      *mgr.Manager
	instance instance

	cadence time.Duration
	padding int
	out     io.Writer
}

// NewAggregator returns the output module. Frames are emitted every
// cadence, which should be the global minimum polling interval.
func NewAggregator(instance instance, cadence time.Duration, padding int) (*Aggregator, error) {
	if cadence <= 0 {
		return nil, fmt.Errorf("output cadence must be positive, got %s", cadence)
	}
	return &Aggregator{
		instance: instance,
		cadence:  cadence,
		padding:  padding,
		out:      os.Stdout,
	}, nil
}

// Start starts the module.
func (a *Aggregator) Start(m *mgr.Manager) error {
	a.mgr = m

	// Header plus an immediate first frame, so the bar shows the
	// loading views without waiting out a tick.
	if _, err := io.WriteString(a.out, i3barHeader); err != nil {
		return fmt.Errorf("failed to write stream header: %w", err)
	}
	if err := a.emitFrame(nil); err != nil {
		return err
	}

	m.Repeat("emit frame", a.cadence, a.emitFrame)
	return nil
}

// Stop stops the module.
func (a *Aggregator) Stop(m *mgr.Manager) error {
	return nil
}

// emitFrame writes one frame: every unit's latest view, in reverse
// config order as the bar lays blocks out right to left.
func (a *Aggregator) emitFrame(_ *mgr.WorkerCtx) error {
	actors := a.instance.Units().Actors()

	var buf bytes.Buffer
	buf.WriteByte('[')
	for i := len(actors) - 1; i >= 0; i-- {
		actor := actors[i]
		block := makeBlock(actor.Name(), a.padding, actor.LatestView())
		enc, err := json.Marshal(block)
		if err != nil {
			return fmt.Errorf("failed to encode block %s: %w", actor.Name(), err)
		}
		buf.Write(enc)
		if i > 0 {
			buf.WriteByte(',')
		}
	}
	buf.WriteString("],\n")

	if _, err := a.out.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	metrics.GetOrCreateCounter(`empty_status_output_frames_total`).Inc()
	return nil
}

type instance interface {
	Units() *unit.Units
}
