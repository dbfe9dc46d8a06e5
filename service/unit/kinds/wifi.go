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

// WifiConfig configures the wifi unit.
type WifiConfig struct {
	Interface string `yaml:"interface"`
}

// Wifi shows the link quality of one wireless interface.
type Wifi struct {
	cfg WifiConfig
}

type wifiPollOut struct {
	present bool
	// pct is link quality normalized to 0-100.
	pct float64
}

// NewWifi returns a wifi unit.
func NewWifi(cfg WifiConfig) *Wifi {
	return &Wifi{cfg: cfg}
}

// Name implements unit.Machine.
func (w *Wifi) Name() string { return "wifi" }

// Init implements unit.Machine.
func (w *Wifi) Init() (unit.State, unit.View, unit.Decision) {
	return nil, unit.LoadingView("wifi " + w.cfg.Interface), unit.PollNow
}

// Tick implements unit.Machine.
func (w *Wifi) Tick(s unit.State) (unit.State, *unit.View, unit.Decision) {
	return s, nil, unit.Idle
}

// Click implements unit.Machine.
func (w *Wifi) Click(s unit.State, ev unit.ClickEvent) (unit.State, *unit.View, unit.Decision) {
	return s, nil, unit.PollNow
}

// Poll implements unit.Machine.
func (w *Wifi) Poll(ctx context.Context, kernel *effect.Kernel, s unit.State) (unit.PollOut, error) {
	out, err := kernel.Run(ctx, effect.FSRead{Path: "/proc/net/wireless", FreshFor: time.Second})
	if err != nil {
		return nil, err
	}
	return parseWireless(out.FileBytes(), w.cfg.Interface)
}

// Render implements unit.Machine.
func (w *Wifi) Render(s unit.State, out unit.PollOut) (unit.State, unit.View, unit.Decision) {
	po := out.(wifiPollOut)
	prefix := render.Text("wifi " + w.cfg.Interface + " ")

	if !po.present {
		return s, unit.View{
			Body:   prefix.Append(render.Text("down").FG(render.ParseRGB(render.Red))),
			Health: unit.HealthDegraded,
		}, unit.Idle
	}

	body := prefix.Append(render.Textf("%2.0f%%", po.pct).FG(pctColorRev(po.pct)))
	return s, unit.OkView(body), unit.Idle
}

// RenderError implements unit.Machine.
func (w *Wifi) RenderError(err error) render.Markup {
	return unit.DefaultRenderError(err)
}

// parseWireless extracts link quality for one interface from
// /proc/net/wireless. Quality is reported out of 70 and normalized
// to a percentage. An absent interface means no association.
func parseWireless(b []byte, iface string) (wifiPollOut, error) {
	lines := strings.Split(string(b), "\n")
	if len(lines) < 2 {
		return wifiPollOut{}, fmt.Errorf("invalid wireless stats format")
	}

	for _, line := range lines[2:] {
		name, rest, found := strings.Cut(strings.TrimSpace(line), ":")
		if !found || name != iface {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) < 2 {
			return wifiPollOut{}, fmt.Errorf("invalid wireless line for %q", iface)
		}
		quality, err := strconv.ParseFloat(strings.TrimSuffix(fields[1], "."), 64)
		if err != nil {
			return wifiPollOut{}, fmt.Errorf("invalid link quality %q: %w", fields[1], err)
		}

		pct := 100 * quality / 70
		if pct > 100 {
			pct = 100
		}
		if pct < 0 {
			pct = 0
		}
		return wifiPollOut{present: true, pct: pct}, nil
	}

	return wifiPollOut{present: false}, nil
}
