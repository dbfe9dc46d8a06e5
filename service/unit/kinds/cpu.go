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

// CPUConfig configures the cpu unit.
type CPUConfig struct {
	// TempSmoothing is the decay window for the temperature average.
	TempSmoothing float64 `yaml:"temp_smoothing_sec"`
}

// CPU shows total busy percentage and the average package temperature;
// a click switches to a user/kernel breakdown.
type CPU struct {
	cfg CPUConfig
}

type cpuState struct {
	breakdown bool

	prevTotal  uint64
	prevUser   uint64
	prevKernel uint64
	primed     bool

	tempEMA EMA

	pUser   float64
	pKernel float64
	tempC   float64
	hasTemp bool
}

type cpuPollOut struct {
	total  uint64
	user   uint64
	kernel uint64

	tempC   float64
	hasTemp bool
}

// NewCPU returns a cpu unit.
func NewCPU(cfg CPUConfig) *CPU {
	if cfg.TempSmoothing <= 0 {
		cfg.TempSmoothing = 2.0
	}
	return &CPU{cfg: cfg}
}

// Name implements unit.Machine.
func (c *CPU) Name() string { return "cpu" }

// Init implements unit.Machine.
func (c *CPU) Init() (unit.State, unit.View, unit.Decision) {
	return cpuState{
		tempEMA: NewEMA(time.Duration(c.cfg.TempSmoothing * float64(time.Second))),
	}, unit.LoadingView("cpu"), unit.PollNow
}

// Tick implements unit.Machine.
func (c *CPU) Tick(s unit.State) (unit.State, *unit.View, unit.Decision) {
	return s, nil, unit.Idle
}

// Click implements unit.Machine.
func (c *CPU) Click(s unit.State, ev unit.ClickEvent) (unit.State, *unit.View, unit.Decision) {
	st := s.(cpuState)
	st.breakdown = !st.breakdown
	if !st.primed {
		return st, nil, unit.PollNow
	}
	v := c.view(st)
	return st, &v, unit.Idle
}

// Poll implements unit.Machine.
func (c *CPU) Poll(ctx context.Context, kernel *effect.Kernel, s unit.State) (unit.PollOut, error) {
	statOut, err := kernel.Run(ctx, effect.FSRead{Path: "/proc/stat", FreshFor: 150 * time.Millisecond})
	if err != nil {
		return nil, err
	}

	var out cpuPollOut
	out.total, out.user, out.kernel, err = parseCPUTimes(statOut.FileBytes())
	if err != nil {
		return nil, err
	}

	// Temperature is best effort; a box without thermal zones still
	// gets a load readout.
	if temp, ok := readThermalZones(ctx, kernel); ok {
		out.tempC = temp
		out.hasTemp = true
	}
	return out, nil
}

// Render implements unit.Machine.
func (c *CPU) Render(s unit.State, out unit.PollOut) (unit.State, unit.View, unit.Decision) {
	st := s.(cpuState)
	po := out.(cpuPollOut)

	if !st.primed {
		st.primed = true
		st.prevTotal, st.prevUser, st.prevKernel = po.total, po.user, po.kernel
		return st, unit.LoadingView("cpu"), unit.PollNow
	}

	dTotal := float64(po.total - min(po.total, st.prevTotal))
	dUser := float64(po.user - min(po.user, st.prevUser))
	dKernel := float64(po.kernel - min(po.kernel, st.prevKernel))
	st.prevTotal, st.prevUser, st.prevKernel = po.total, po.user, po.kernel

	if dTotal > 0 {
		st.pUser = dUser / dTotal
		st.pKernel = dKernel / dTotal
	}

	if po.hasTemp {
		st.tempEMA, st.tempC = st.tempEMA.Feed(po.tempC, time.Now())
		st.hasTemp = true
	}

	return st, c.view(st), unit.Idle
}

// RenderError implements unit.Machine.
func (c *CPU) RenderError(err error) render.Markup {
	return unit.DefaultRenderError(err)
}

var (
	cpuLoadScale = [4]float64{20, 40, 60, 80}
	cpuTempScale = [4]float64{40, 50, 70, 90}
)

func (c *CPU) view(s cpuState) unit.View {
	pUser := s.pUser * 100
	pKernel := s.pKernel * 100

	var load render.Markup
	if s.breakdown {
		load = render.Text("u ").
			Append(render.Textf("%3.0f%%", pUser).FG(scaleColor(pUser, cpuLoadScale))).
			Append(render.Text(" k ")).
			Append(render.Textf("%3.0f%%", pKernel).FG(scaleColor(pKernel, cpuLoadScale)))
	} else {
		total := pUser + pKernel
		load = render.Text("load ").
			Append(render.Textf("%3.0f%%", total).FG(scaleColor(total, cpuLoadScale)))
	}

	temp := render.Text("unk").FG(render.ParseRGB(render.Orange))
	if s.hasTemp {
		temp = render.Textf("%3.0f", s.tempC).FG(scaleColor(s.tempC, cpuTempScale)).
			Append(render.Text(" C"))
	}

	body := render.Text("cpu ").
		Append(bracketed(load)).
		Append(render.Text(" ")).
		Append(bracketed(render.Text("temp ").Append(temp)))
	return unit.OkView(body)
}

// parseCPUTimes extracts the aggregate jiffy counters from the first
// line of /proc/stat: total, user+nice and system.
func parseCPUTimes(b []byte) (total, user, kernel uint64, err error) {
	line, _, _ := strings.Cut(string(b), "\n")
	fields := strings.Fields(line)
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, 0, 0, fmt.Errorf("invalid cpu stat format")
	}

	vals := make([]uint64, 0, len(fields)-1)
	for _, f := range fields[1:] {
		v, perr := strconv.ParseUint(f, 10, 64)
		if perr != nil {
			return 0, 0, 0, fmt.Errorf("invalid cpu stat field %q: %w", f, perr)
		}
		vals = append(vals, v)
		total += v
	}

	user = vals[0] + vals[1]
	kernel = vals[2]
	return total, user, kernel, nil
}

// readThermalZones averages all readable thermal zone temperatures.
func readThermalZones(ctx context.Context, kernel *effect.Kernel) (float64, bool) {
	dirOut, err := kernel.Run(ctx, effect.FSListDir{Path: "/sys/class/thermal", FreshFor: time.Minute})
	if err != nil {
		return 0, false
	}

	var sum float64
	var count int
	for _, entry := range dirOut.DirEntries() {
		if !strings.HasPrefix(entry, "thermal_zone") {
			continue
		}
		tempOut, err := kernel.Run(ctx, effect.FSRead{
			Path:     "/sys/class/thermal/" + entry + "/temp",
			FreshFor: 150 * time.Millisecond,
		})
		if err != nil {
			continue
		}
		milli, err := strconv.ParseFloat(strings.TrimSpace(string(tempOut.FileBytes())), 64)
		if err != nil {
			continue
		}
		sum += milli / 1000.0
		count++
	}

	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}
