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

// uhToSI converts µAh·V style sysfs units to joule-scale SI.
const uhToSI = 0.0036

// BatteryConfig configures the battery unit.
type BatteryConfig struct {
	BatID          int     `yaml:"bat_id"`
	PowerSmoothing float64 `yaml:"power_smoothing_sec"`

	// LowWatermark is the percentage below which an unplugged battery
	// is reported as degraded.
	LowWatermark float64 `yaml:"low_watermark"`
}

// Battery shows charge percentage, charging state, smoothed power
// draw and a time-remaining estimate. A click switches the percentage
// between current and design capacity.
type Battery struct {
	cfg        BatteryConfig
	ueventPath string
}

type batStatus uint8

const (
	batUnknown batStatus = iota
	batCharging
	batDischarging
	batFull
	batBalanced
	batOther
)

func (s batStatus) markup() render.Markup {
	switch s {
	case batDischarging:
		return render.Text("DIS").FG(render.ParseRGB(render.Orange))
	case batCharging:
		return render.Text("CHR").FG(render.ParseRGB(render.Green))
	case batFull:
		return render.Text("FUL").FG(render.ParseRGB(render.Cyan))
	case batBalanced:
		return render.Text("BAL").FG(render.ParseRGB(render.Blue))
	default:
		return render.Text("UNK").FG(render.ParseRGB(render.Violet))
	}
}

type batteryState struct {
	designMode bool
	curStatus  batStatus
	powerEMA   EMA
}

// batteryInfo is the normalized energy readout, derived from either
// charge_* or energy_* uevent fields.
type batteryInfo struct {
	chargedFrac       float64
	chargedFracDesign float64
	power             float64
	energy            float64
	energyMax         float64
}

type batteryPollOut struct {
	present bool
	status  batStatus
	info    *batteryInfo
	at      time.Time
}

// NewBattery returns a battery unit.
func NewBattery(cfg BatteryConfig) *Battery {
	if cfg.PowerSmoothing <= 0 {
		cfg.PowerSmoothing = 2.5
	}
	if cfg.LowWatermark <= 0 {
		cfg.LowWatermark = 15
	}
	return &Battery{
		cfg:        cfg,
		ueventPath: fmt.Sprintf("/sys/class/power_supply/BAT%d/uevent", cfg.BatID),
	}
}

// Name implements unit.Machine.
func (b *Battery) Name() string { return "bat" }

// Init implements unit.Machine.
func (b *Battery) Init() (unit.State, unit.View, unit.Decision) {
	return batteryState{
		curStatus: batUnknown,
		powerEMA:  NewEMA(time.Duration(b.cfg.PowerSmoothing * float64(time.Second))),
	}, unit.LoadingView("bat"), unit.PollNow
}

// Tick implements unit.Machine.
func (b *Battery) Tick(s unit.State) (unit.State, *unit.View, unit.Decision) {
	return s, nil, unit.Idle
}

// Click implements unit.Machine.
func (b *Battery) Click(s unit.State, ev unit.ClickEvent) (unit.State, *unit.View, unit.Decision) {
	st := s.(batteryState)
	st.designMode = !st.designMode
	return st, nil, unit.PollNow
}

// Poll implements unit.Machine.
func (b *Battery) Poll(ctx context.Context, kernel *effect.Kernel, s unit.State) (unit.PollOut, error) {
	out, err := kernel.Run(ctx, effect.FSRead{Path: b.ueventPath, FreshFor: 200 * time.Millisecond})
	if err != nil {
		return nil, err
	}

	uevent := parseUevent(out.FileBytes())
	if uevent["present"] == "0" {
		return batteryPollOut{present: false}, nil
	}

	info := batteryInfoFromCharge(uevent)
	if info == nil {
		info = batteryInfoFromEnergy(uevent)
	}
	if info == nil {
		return nil, fmt.Errorf("battery uevent carries no usable charge or energy fields")
	}

	return batteryPollOut{
		present: true,
		status:  statusFromUevent(uevent),
		info:    info,
		at:      time.Now(),
	}, nil
}

// Render implements unit.Machine.
func (b *Battery) Render(s unit.State, out unit.PollOut) (unit.State, unit.View, unit.Decision) {
	st := s.(batteryState)
	po := out.(batteryPollOut)

	if !po.present {
		return st, unit.View{
			Body:   render.Text("no battery").FG(render.ParseRGB(render.Red)),
			Health: unit.HealthDegraded,
		}, unit.Idle
	}

	var pSmooth float64
	st.powerEMA, pSmooth = st.powerEMA.Feed(po.info.power, po.at)

	status := po.status
	if status == batOther && pSmooth == 0 {
		status = batBalanced
	}
	if status != st.curStatus {
		// A plug/unplug invalidates the power history.
		st.curStatus = status
		st.powerEMA = NewEMA(time.Duration(b.cfg.PowerSmoothing * float64(time.Second)))
		st.powerEMA, pSmooth = st.powerEMA.Feed(po.info.power, po.at)
	}

	pct := 100 * po.info.chargedFrac
	lbr, rbr := "[", "]"
	if st.designMode {
		pct = 100 * po.info.chargedFracDesign
		lbr, rbr = "<", ">"
	}

	var secRem float64
	switch status {
	case batCharging:
		if pSmooth > 0 {
			secRem = (po.info.energyMax - po.info.energy) / pSmooth
		}
	case batDischarging:
		if pSmooth > 0 {
			secRem = po.info.energy / pSmooth
		}
	}
	remStr := "--:--"
	if secRem > 0 {
		mins := int64(secRem/60 + 0.5)
		remStr = fmt.Sprintf("%02d:%02d", mins/60, mins%60)
	}

	body := render.Text("bat ").
		Append(render.Text(lbr)).
		Append(render.Textf("%3.0f", pct).FG(pctColorRev(pct))).
		Append(render.Text("%" + rbr + " ")).
		Append(status.markup()).
		Append(render.Textf(" %2.2f W ", pSmooth)).
		Append(bracketed(render.Text(remStr + " rem")))

	health := unit.HealthOk
	if status == batDischarging && pct < b.cfg.LowWatermark {
		health = unit.HealthDegraded
	}
	return st, unit.View{Body: body, Health: health}, unit.Idle
}

// RenderError implements unit.Machine.
func (b *Battery) RenderError(err error) render.Markup {
	return unit.DefaultRenderError(err)
}

// parseUevent maps uevent lines to lowercase keys with the
// POWER_SUPPLY_ prefix stripped.
func parseUevent(b []byte) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		k, v, found := strings.Cut(strings.TrimSpace(line), "=")
		if !found {
			continue
		}
		k = strings.ToLower(strings.TrimPrefix(k, "POWER_SUPPLY_"))
		out[k] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}

func statusFromUevent(u map[string]string) batStatus {
	switch u["status"] {
	case "charging":
		return batCharging
	case "discharging":
		return batDischarging
	case "full":
		return batFull
	case "unknown":
		return batUnknown
	default:
		return batOther
	}
}

func ueventInt(u map[string]string, key string) (float64, bool) {
	v, err := strconv.ParseInt(u[key], 10, 64)
	if err != nil {
		return 0, false
	}
	return float64(v), true
}

// batteryInfoFromCharge derives the energy readout from charge_* and
// voltage_* fields, integrating voltage over the charge curve.
func batteryInfoFromCharge(u map[string]string) *batteryInfo {
	chargeNow, ok1 := ueventInt(u, "charge_now")
	chargeFull, ok2 := ueventInt(u, "charge_full")
	chargeFullDesign, ok3 := ueventInt(u, "charge_full_design")
	voltageNow, ok4 := ueventInt(u, "voltage_now")
	voltageMinDesign, ok5 := ueventInt(u, "voltage_min_design")
	currentNow, ok6 := ueventInt(u, "current_now")
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) {
		return nil
	}
	// A drained or freshly reset gauge can report zero charge; the
	// voltage integration below divides by it. Fall back to energy_*.
	if chargeNow <= 0 || chargeFull <= 0 || chargeFullDesign <= 0 {
		return nil
	}

	q := uhToSI * chargeNow
	qmx := uhToSI * chargeFull
	qmxd := uhToSI * chargeFullDesign

	voltage := voltageNow / 1e6
	vmn := voltageMinDesign / 1e6
	current := currentNow / 1e6

	vmx := voltage * (qmx / q)
	energyMax := qmx * (vmn + vmx) / 2

	vmxd := voltage * (qmxd / q)
	energyMaxDesign := qmxd * (vmn + vmxd) / 2

	energy := q * (vmn + q*(vmxd-vmn)/(2*qmxd))

	return &batteryInfo{
		chargedFrac:       energy / energyMax,
		chargedFracDesign: energy / energyMaxDesign,
		power:             current * voltage,
		energy:            energy,
		energyMax:         energyMax,
	}
}

func batteryInfoFromEnergy(u map[string]string) *batteryInfo {
	energyNow, ok1 := ueventInt(u, "energy_now")
	energyFull, ok2 := ueventInt(u, "energy_full")
	energyFullDesign, ok3 := ueventInt(u, "energy_full_design")
	powerNow, ok4 := ueventInt(u, "power_now")
	if !(ok1 && ok2 && ok3 && ok4) {
		return nil
	}

	energy := uhToSI * energyNow
	energyMax := uhToSI * energyFull
	energyMaxDesign := uhToSI * energyFullDesign

	return &batteryInfo{
		chargedFrac:       energy / energyMax,
		chargedFracDesign: energy / energyMaxDesign,
		power:             powerNow / 1e6,
		energy:            energy,
		energyMax:         energyMax,
	}
}
