package kinds

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/qdbp/empty-status/service/effect"
	"github.com/qdbp/empty-status/service/render"
	"github.com/qdbp/empty-status/service/unit"
)

// NetConfig configures the net unit.
type NetConfig struct {
	Interface string `yaml:"interface"`

	// Enough to give snappy updates without being totally thrashy.
	Smoothing float64 `yaml:"smoothing_window_sec"`

	PingServer string `yaml:"ping_server"`
	PingWindow int    `yaml:"ping_window"`
}

// Net shows smoothed up/down bandwidth for one interface; a click
// switches to a live ping readout against the configured server.
type Net struct {
	cfg NetConfig
}

type netState struct {
	pingMode bool

	rx     uint64
	tx     uint64
	lastAt time.Time
	primed bool
	rxEMA  EMA
	txEMA  EMA

	pingTimes    []float64
	pingReceived int
	pingLastSeq  int
}

type netPollOut struct {
	// Bandwidth sample.
	rx      uint64
	tx      uint64
	at      time.Time
	carrier bool

	// Ping sample.
	ping      bool
	pingLines []string
}

// NewNet returns a net unit.
func NewNet(cfg NetConfig) *Net {
	if cfg.Smoothing <= 0 {
		cfg.Smoothing = 0.333
	}
	if cfg.PingServer == "" {
		cfg.PingServer = "8.8.8.8"
	}
	if cfg.PingWindow <= 0 {
		cfg.PingWindow = 25
	}
	return &Net{cfg: cfg}
}

// Name implements unit.Machine.
func (n *Net) Name() string { return "net" }

// Init implements unit.Machine.
func (n *Net) Init() (unit.State, unit.View, unit.Decision) {
	smoothing := time.Duration(n.cfg.Smoothing * float64(time.Second))
	return netState{
		rxEMA: NewEMA(smoothing),
		txEMA: NewEMA(smoothing),
	}, unit.LoadingView("net " + n.cfg.Interface), unit.PollNow
}

// Tick implements unit.Machine.
func (n *Net) Tick(s unit.State) (unit.State, *unit.View, unit.Decision) {
	return s, nil, unit.Idle
}

// Click implements unit.Machine.
func (n *Net) Click(s unit.State, ev unit.ClickEvent) (unit.State, *unit.View, unit.Decision) {
	st := s.(netState)
	st.pingMode = !st.pingMode
	if !st.pingMode {
		// Leaving ping mode resets the window so re-entry starts clean.
		st.pingTimes = nil
		st.pingReceived = 0
		st.pingLastSeq = 0
	}
	v := unit.LoadingView(n.prefix(st))
	return st, &v, unit.PollNow
}

// Poll implements unit.Machine.
func (n *Net) Poll(ctx context.Context, kernel *effect.Kernel, s unit.State) (unit.PollOut, error) {
	st := s.(netState)
	if st.pingMode {
		return n.pollPing(ctx, kernel)
	}
	return n.pollBandwidth(ctx, kernel)
}

func (n *Net) pollBandwidth(ctx context.Context, kernel *effect.Kernel) (unit.PollOut, error) {
	devOut, err := kernel.Run(ctx, effect.FSRead{Path: "/proc/net/dev", FreshFor: 150 * time.Millisecond})
	if err != nil {
		return nil, err
	}
	rx, tx, err := parseNetDev(devOut.FileBytes(), n.cfg.Interface)
	if err != nil {
		return nil, err
	}

	out := netPollOut{rx: rx, tx: tx, at: time.Now(), carrier: true}

	carrierOut, err := kernel.Run(ctx, effect.FSRead{
		Path:     "/sys/class/net/" + n.cfg.Interface + "/carrier",
		FreshFor: time.Second,
	})
	if err == nil && strings.TrimSpace(string(carrierOut.FileBytes())) == "0" {
		out.carrier = false
	}
	return out, nil
}

func (n *Net) pollPing(ctx context.Context, kernel *effect.Kernel) (unit.PollOut, error) {
	out, err := kernel.Run(ctx, effect.ProcBatch{
		Key:      "ping " + n.cfg.PingServer,
		Command:  []string{"ping", n.cfg.PingServer},
		MaxLines: n.cfg.PingWindow,
	})
	if err != nil {
		return nil, err
	}
	return netPollOut{ping: true, pingLines: out.ProcLines()}, nil
}

// Render implements unit.Machine.
func (n *Net) Render(s unit.State, out unit.PollOut) (unit.State, unit.View, unit.Decision) {
	st := s.(netState)
	po := out.(netPollOut)

	// A sample from the previous mode may still complete right after a
	// toggle; it carries no useful view.
	if po.ping != st.pingMode {
		return st, unit.LoadingView(n.prefix(st)), unit.PollNow
	}

	if po.ping {
		return n.renderPing(st, po)
	}
	return n.renderBandwidth(st, po)
}

func (n *Net) renderBandwidth(st netState, po netPollOut) (unit.State, unit.View, unit.Decision) {
	prefix := render.Text(n.prefix(st) + " ")

	if !po.carrier {
		return st, unit.View{
			Body:   prefix.Append(render.Text("down").FG(render.ParseRGB(render.Red))),
			Health: unit.HealthDegraded,
		}, unit.Idle
	}

	if !st.primed {
		st.primed = true
		st.rx, st.tx, st.lastAt = po.rx, po.tx, po.at
		return st, unit.LoadingView(n.prefix(st)), unit.PollNow
	}

	dt := po.at.Sub(st.lastAt).Seconds()
	drx := po.rx - min(po.rx, st.rx)
	dtx := po.tx - min(po.tx, st.tx)
	st.rx, st.tx, st.lastAt = po.rx, po.tx, po.at

	var bpsDown, bpsUp float64
	if dt > 0 {
		bpsDown = float64(drx) / dt
		bpsUp = float64(dtx) / dt
	}
	st.rxEMA, bpsDown = st.rxEMA.Feed(bpsDown, po.at)
	st.txEMA, bpsUp = st.txEMA.Feed(bpsUp, po.at)

	body := prefix.
		Append(bracketed(render.Text("u ").Append(formatRate(bpsUp)))).
		Append(render.Text(" ")).
		Append(bracketed(render.Text("d ").Append(formatRate(bpsDown))))
	return st, unit.OkView(body), unit.Idle
}

func (n *Net) renderPing(st netState, po netPollOut) (unit.State, unit.View, unit.Decision) {
	for _, line := range po.pingLines {
		seq, ms, ok := parsePingLine(line)
		if !ok {
			continue
		}
		if len(st.pingTimes) >= n.cfg.PingWindow {
			st.pingTimes = st.pingTimes[1:]
		}
		st.pingTimes = append(st.pingTimes, ms)
		st.pingLastSeq = seq
		st.pingReceived++
	}

	prefix := render.Text(n.prefix(st) + " ")
	if len(st.pingTimes) < 2 {
		return st, unit.View{
			Body:   prefix.Append(render.Text("loading").FG(render.ParseRGB(render.Violet))),
			Health: unit.HealthDegraded,
		}, unit.Idle
	}

	med, mad := medianAndMAD(st.pingTimes)
	body := prefix.Append(bracketed(
		render.Text("med ").
			Append(render.Textf("%3.1f", med).FG(scaleColor(med, [4]float64{10, 20, 30, 90}))).
			Append(render.Text(" mad ")).
			Append(render.Textf("%2.1f", mad).FG(scaleColor(mad, [4]float64{2, 5, 10, 30}))).
			Append(render.Text(" ms")),
	))

	lossPct := 100 - 100*float64(st.pingReceived)/float64(max(st.pingLastSeq, 1))
	loss := render.Text("no loss").FG(render.ParseRGB(render.Green))
	if lossPct > 0 {
		loss = render.Textf("%3.1f%% loss", lossPct).FG(render.ParseRGB(render.Orange))
	}
	body = body.Append(render.Text(" ")).Append(bracketed(loss))
	return st, unit.OkView(body), unit.Idle
}

// RenderError implements unit.Machine.
func (n *Net) RenderError(err error) render.Markup {
	return unit.DefaultRenderError(err)
}

func (n *Net) prefix(st netState) string {
	if st.pingMode {
		return fmt.Sprintf("net %s [ping %s]", n.cfg.Interface, n.cfg.PingServer)
	}
	return "net " + n.cfg.Interface
}

// formatRate renders bytes/s with a magnitude suffix colorized by how
// hot the link is running.
func formatRate(bps float64) render.Markup {
	type scale struct {
		shift uint
		sf    string
		color string
	}
	for _, s := range []scale{
		{30, "G/s", render.Red},
		{20, "M/s", render.Orange},
		{10, "K/s", render.Green},
	} {
		den := float64(uint64(1) << s.shift)
		if bps > den {
			return render.Textf("%4.0f ", bps/den).
				Append(render.Text(s.sf).FG(render.ParseRGB(s.color)))
		}
	}
	return render.Textf("%4.0f ", bps).
		Append(render.Text("B/s").FG(render.ParseRGB(render.Grey)))
}

// parseNetDev extracts cumulative rx/tx byte counters for one
// interface from /proc/net/dev.
func parseNetDev(b []byte, iface string) (rx, tx uint64, err error) {
	for _, line := range strings.Split(string(b), "\n") {
		name, rest, found := strings.Cut(strings.TrimSpace(line), ":")
		if !found || name != iface {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) < 9 {
			return 0, 0, fmt.Errorf("invalid net dev line for %q", iface)
		}
		if rx, err = strconv.ParseUint(fields[0], 10, 64); err != nil {
			return 0, 0, fmt.Errorf("invalid rx bytes: %w", err)
		}
		if tx, err = strconv.ParseUint(fields[8], 10, 64); err != nil {
			return 0, 0, fmt.Errorf("invalid tx bytes: %w", err)
		}
		return rx, tx, nil
	}
	return 0, 0, fmt.Errorf("interface %q not found", iface)
}

// parsePingLine extracts icmp_seq and time from a standard ping reply
// line: "64 bytes from 8.8.8.8: icmp_seq=1 ttl=117 time=25.6 ms".
func parsePingLine(line string) (seq int, ms float64, ok bool) {
	var seqOK, timeOK bool
	for _, field := range strings.Fields(line) {
		if v, found := strings.CutPrefix(field, "icmp_seq="); found {
			if s, err := strconv.Atoi(v); err == nil {
				seq = s
				seqOK = true
			}
		}
		if v, found := strings.CutPrefix(field, "time="); found {
			if t, err := strconv.ParseFloat(v, 64); err == nil {
				ms = t
				timeOK = true
			}
		}
	}
	return seq, ms, seqOK && timeOK
}

func medianAndMAD(samples []float64) (median, mad float64) {
	v := make([]float64, len(samples))
	copy(v, samples)
	sort.Float64s(v)
	median = v[len(v)/2]

	devs := make([]float64, len(v))
	for i, x := range v {
		d := x - median
		if d < 0 {
			d = -d
		}
		devs[i] = d
	}
	sort.Float64s(devs)
	return median, devs[len(devs)/2]
}
