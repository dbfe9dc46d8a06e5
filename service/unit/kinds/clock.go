package kinds

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/qdbp/empty-status/service/effect"
	"github.com/qdbp/empty-status/service/render"
	"github.com/qdbp/empty-status/service/unit"
)

// ClockConfig configures the clock unit.
type ClockConfig struct {
	// Format is a Go time layout.
	Format string `yaml:"format"`
}

// Clock shows the local time; a click switches to uptime and load
// averages instead.
type Clock struct {
	cfg ClockConfig

	// Load average breakpoints scale with the core count.
	loadScale [4]float64
}

type clockState struct {
	uptimeMode bool
	uptime     float64
	load       [3]float64
	haveData   bool
}

type clockPollOut struct {
	uptime float64
	load   [3]float64
}

// NewClock returns a clock unit.
func NewClock(cfg ClockConfig) *Clock {
	if cfg.Format == "" {
		cfg.Format = "Mon Jan 02 15:04:05"
	}
	cpus := float64(runtime.NumCPU())
	return &Clock{
		cfg:       cfg,
		loadScale: [4]float64{cpus * 0.1, cpus * 0.25, cpus * 0.5, cpus * 0.75},
	}
}

// Name implements unit.Machine.
func (c *Clock) Name() string { return "clock" }

// Init implements unit.Machine.
func (c *Clock) Init() (unit.State, unit.View, unit.Decision) {
	s := clockState{}
	return s, c.view(s), unit.PollNow
}

// Tick implements unit.Machine. The clock face advances on every tick
// regardless of polling.
func (c *Clock) Tick(s unit.State) (unit.State, *unit.View, unit.Decision) {
	st := s.(clockState)
	v := c.view(st)
	return st, &v, unit.Idle
}

// Click implements unit.Machine.
func (c *Clock) Click(s unit.State, ev unit.ClickEvent) (unit.State, *unit.View, unit.Decision) {
	st := s.(clockState)
	st.uptimeMode = !st.uptimeMode
	v := c.view(st)
	return st, &v, unit.PollNow
}

// Poll implements unit.Machine.
func (c *Clock) Poll(ctx context.Context, kernel *effect.Kernel, s unit.State) (unit.PollOut, error) {
	uptimeOut, err := kernel.Run(ctx, effect.FSRead{Path: "/proc/uptime", FreshFor: time.Second})
	if err != nil {
		return nil, err
	}
	loadOut, err := kernel.Run(ctx, effect.FSRead{Path: "/proc/loadavg", FreshFor: time.Second})
	if err != nil {
		return nil, err
	}

	var out clockPollOut
	if out.uptime, err = parseUptime(uptimeOut.FileBytes()); err != nil {
		return nil, err
	}
	if out.load, err = parseLoadavg(loadOut.FileBytes()); err != nil {
		return nil, err
	}
	return out, nil
}

// Render implements unit.Machine.
func (c *Clock) Render(s unit.State, out unit.PollOut) (unit.State, unit.View, unit.Decision) {
	st := s.(clockState)
	po := out.(clockPollOut)
	st.uptime = po.uptime
	st.load = po.load
	st.haveData = true
	return st, c.view(st), unit.Idle
}

// RenderError implements unit.Machine.
func (c *Clock) RenderError(err error) render.Markup {
	return unit.DefaultRenderError(err)
}

func (c *Clock) view(s clockState) unit.View {
	if !s.uptimeMode {
		return unit.OkView(render.Text(time.Now().Format(c.cfg.Format)))
	}
	if !s.haveData {
		return unit.LoadingView("uptime")
	}

	body := render.Text("uptime ").
		Append(bracketed(render.Text(formatDuration(s.uptime)))).
		Append(render.Text(" load "))
	parts := make([]render.Markup, 0, 5)
	parts = append(parts, render.Text("["))
	for i, l := range s.load {
		if i > 0 {
			parts = append(parts, render.Text("/"))
		}
		parts = append(parts, render.Textf("%.2f", l).FG(scaleColor(l, c.loadScale)))
	}
	parts = append(parts, render.Text("]"))
	return unit.OkView(body.Append(parts...))
}

func parseUptime(b []byte) (float64, error) {
	fields := strings.Fields(string(b))
	if len(fields) < 1 {
		return 0, fmt.Errorf("invalid uptime format")
	}
	return strconv.ParseFloat(fields[0], 64)
}

func parseLoadavg(b []byte) ([3]float64, error) {
	var load [3]float64
	fields := strings.Fields(string(b))
	if len(fields) < 3 {
		return load, fmt.Errorf("invalid loadavg format")
	}
	for i := range 3 {
		l, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return load, fmt.Errorf("invalid loadavg field %q: %w", fields[i], err)
		}
		load[i] = l
	}
	return load, nil
}
