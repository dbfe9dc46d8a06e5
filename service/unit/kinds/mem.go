package kinds

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/qdbp/empty-status/service/effect"
	"github.com/qdbp/empty-status/service/render"
	"github.com/qdbp/empty-status/service/unit"
)

// Mem shows used memory, counting cache and buffers as free.
type Mem struct{}

// NewMem returns a mem unit.
func NewMem() *Mem { return &Mem{} }

type memPollOut struct {
	usedGiB float64
	usedPct float64
}

// Name implements unit.Machine.
func (m *Mem) Name() string { return "mem" }

// Init implements unit.Machine.
func (m *Mem) Init() (unit.State, unit.View, unit.Decision) {
	return nil, unit.LoadingView("mem"), unit.PollNow
}

// Tick implements unit.Machine.
func (m *Mem) Tick(s unit.State) (unit.State, *unit.View, unit.Decision) {
	return s, nil, unit.Idle
}

// Click implements unit.Machine.
func (m *Mem) Click(s unit.State, ev unit.ClickEvent) (unit.State, *unit.View, unit.Decision) {
	return s, nil, unit.PollNow
}

// Poll implements unit.Machine.
func (m *Mem) Poll(ctx context.Context, kernel *effect.Kernel, s unit.State) (unit.PollOut, error) {
	out, err := kernel.Run(ctx, effect.FSRead{Path: "/proc/meminfo", FreshFor: 150 * time.Millisecond})
	if err != nil {
		return nil, err
	}
	return parseMeminfo(out.FileBytes())
}

// Render implements unit.Machine.
func (m *Mem) Render(s unit.State, out unit.PollOut) (unit.State, unit.View, unit.Decision) {
	po := out.(memPollOut)
	col := scaleColor(po.usedPct, [4]float64{20, 40, 60, 80})

	body := render.Text("mem ").Append(bracketed(
		render.Text("used ").
			Append(render.Textf("%.1f", po.usedGiB).FG(col)).
			Append(render.Text(" GiB (")).
			Append(render.Textf("%.0f", po.usedPct).FG(col)).
			Append(render.Text("%)")),
	))
	return s, unit.OkView(body), unit.Idle
}

// RenderError implements unit.Machine.
func (m *Mem) RenderError(err error) render.Markup {
	return unit.DefaultRenderError(err)
}

func parseMeminfo(b []byte) (memPollOut, error) {
	var totalKiB, availKiB uint64
	for _, line := range strings.Split(string(b), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			totalKiB, _ = strconv.ParseUint(fields[1], 10, 64)
		case "MemAvailable:":
			availKiB, _ = strconv.ParseUint(fields[1], 10, 64)
		}
	}
	if totalKiB == 0 {
		return memPollOut{}, fmt.Errorf("meminfo: missing MemTotal")
	}

	usedKiB := totalKiB - min(totalKiB, availKiB)
	return memPollOut{
		usedGiB: float64(usedKiB) / 1048576.0,
		usedPct: 100 * float64(usedKiB) / float64(totalKiB),
	}, nil
}
