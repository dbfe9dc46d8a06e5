package kinds

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/qdbp/empty-status/service/effect"
	"github.com/qdbp/empty-status/service/render"
	"github.com/qdbp/empty-status/service/unit"
)

// Open-Meteo returns times as RFC3339 without seconds or zone.
const openMeteoTimeLayout = "2006-01-02T15:04"

// minWeatherRefresh is the lowest refresh interval the unit accepts;
// the API is a free shared service.
const minWeatherRefresh = 15 * time.Second

// weatherHostMinInterval spaces requests to the API host regardless of
// how many weather units are configured.
const weatherHostMinInterval = 10 * time.Second

// WeatherConfig configures the weather unit.
type WeatherConfig struct {
	Lat float64 `yaml:"lat"`
	Lon float64 `yaml:"lon"`

	RefreshInterval float64 `yaml:"refresh_interval_sec"`

	// Units is "celsius" or "fahrenheit".
	Units string `yaml:"units"`
}

// Validate checks coordinate ranges and floors the refresh interval.
func (c *WeatherConfig) Validate() error {
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("lat must be between -90 and 90, got %v", c.Lat)
	}
	if c.Lon < -180 || c.Lon > 180 {
		return fmt.Errorf("lon must be between -180 and 180, got %v", c.Lon)
	}
	switch c.Units {
	case "", "celsius", "fahrenheit":
	default:
		return fmt.Errorf("units must be celsius or fahrenheit, got %q", c.Units)
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 60
	}
	if c.RefreshInterval < minWeatherRefresh.Seconds() {
		c.RefreshInterval = minWeatherRefresh.Seconds()
	}
	return nil
}

// Weather shows current conditions from the Open-Meteo API; a click
// switches to an hourly forecast over the next day.
type Weather struct {
	cfg WeatherConfig
}

type weatherSample struct {
	time  time.Time
	tempC float64
	wmo   int64
}

type weatherState struct {
	forecastMode bool

	// Last rendered markup per mode, so a toggle is instant while the
	// fresh data loads.
	lastNow      *render.Markup
	lastForecast *render.Markup
}

type weatherPollOut struct {
	forecast bool
	samples  []weatherSample
}

// NewWeather returns a weather unit.
func NewWeather(cfg WeatherConfig) (*Weather, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Weather{cfg: cfg}, nil
}

// Name implements unit.Machine.
func (w *Weather) Name() string { return "weather" }

// Init implements unit.Machine.
func (w *Weather) Init() (unit.State, unit.View, unit.Decision) {
	return weatherState{}, unit.LoadingView("weather"), unit.PollNow
}

// Tick implements unit.Machine.
func (w *Weather) Tick(s unit.State) (unit.State, *unit.View, unit.Decision) {
	return s, nil, unit.Idle
}

// Click implements unit.Machine.
func (w *Weather) Click(s unit.State, ev unit.ClickEvent) (unit.State, *unit.View, unit.Decision) {
	st := s.(weatherState)
	st.forecastMode = !st.forecastMode

	// Show the stale view for the new mode right away; the poll will
	// replace it.
	cached := st.lastNow
	if st.forecastMode {
		cached = st.lastForecast
	}
	if cached != nil {
		v := unit.OkView(*cached)
		return st, &v, unit.PollNow
	}
	v := unit.LoadingView("weather")
	return st, &v, unit.PollNow
}

// Poll implements unit.Machine.
func (w *Weather) Poll(ctx context.Context, kernel *effect.Kernel, s unit.State) (unit.PollOut, error) {
	st := s.(weatherState)

	url := fmt.Sprintf(
		"https://api.open-meteo.com/v1/forecast?latitude=%.4f&longitude=%.4f",
		w.cfg.Lat, w.cfg.Lon,
	)
	if st.forecastMode {
		url += "&hourly=temperature_2m,weathercode&forecast_days=2"
	} else {
		url += "&current=temperature_2m,weathercode"
	}

	out, err := kernel.Run(ctx, effect.HTTPGet{
		URL:      url,
		FreshFor: time.Duration(w.cfg.RefreshInterval * float64(time.Second)),
		Policy: effect.HTTPPolicy{
			MinInterval: weatherHostMinInterval,
			OnLimit:     effect.LimitWait,
		},
	})
	if err != nil {
		return nil, err
	}

	if st.forecastMode {
		return parseForecast(out.HTTP().Body)
	}
	return parseCurrent(out.HTTP().Body)
}

// Render implements unit.Machine.
func (w *Weather) Render(s unit.State, out unit.PollOut) (unit.State, unit.View, unit.Decision) {
	st := s.(weatherState)
	po := out.(weatherPollOut)

	if po.forecast != st.forecastMode {
		// Result from before a mode toggle; poll again for the right one.
		return st, unit.LoadingView("weather"), unit.PollNow
	}

	var body render.Markup
	if po.forecast {
		body = w.renderForecast(po.samples)
		st.lastForecast = &body
	} else {
		body = w.renderNow(po.samples)
		st.lastNow = &body
	}
	return st, unit.OkView(body), unit.Idle
}

// RenderError implements unit.Machine.
func (w *Weather) RenderError(err error) render.Markup {
	return unit.DefaultRenderError(err)
}

func (w *Weather) renderNow(samples []weatherSample) render.Markup {
	if len(samples) == 0 {
		return render.Text("weather ").
			Append(render.Text("no current data").FG(render.ParseRGB(render.Brown)))
	}
	return render.Text("weather ").Append(bracketed(w.renderSample(samples[0])))
}

// renderForecast picks the next slots on a 4-hour local grid (12:00,
// 16:00, 20:00, ...) out of the hourly data.
func (w *Weather) renderForecast(samples []weatherSample) render.Markup {
	wanted := forecastSlots(time.Now(), 6)

	out := render.Text("weather ")
	n := 0
	for _, sample := range samples {
		if !containsTime(wanted, sample.time) {
			continue
		}
		if n > 0 {
			out = out.Append(render.Text("-"))
		}
		out = out.
			Append(render.Textf("%02d[", sample.time.Local().Hour())).
			Append(w.renderSample(sample)).
			Append(render.Text("]"))
		n++
	}
	if n == 0 {
		return render.Text("weather ").
			Append(render.Text("no forecast data").FG(render.ParseRGB(render.Brown)))
	}
	return out
}

func (w *Weather) renderSample(s weatherSample) render.Markup {
	temp, suffix := s.tempC, "C"
	if w.cfg.Units == "fahrenheit" {
		temp, suffix = s.tempC*9/5+32, "F"
	}

	col := render.TempGradient.MapClamped(s.tempC, -15, 40)
	return render.Text(wmoEmoji(s.wmo, isDaylight(s.time))).
		Append(render.Textf("%2.0f", temp).FG(col)).
		Append(render.Textf("°%s", suffix))
}

func parseCurrent(body []byte) (weatherPollOut, error) {
	cur := gjson.GetBytes(body, "current")
	if !cur.Exists() {
		return weatherPollOut{}, fmt.Errorf("weather response lacks current block")
	}

	ts, err := time.Parse(openMeteoTimeLayout, cur.Get("time").String())
	if err != nil {
		return weatherPollOut{}, fmt.Errorf("invalid current time: %w", err)
	}
	return weatherPollOut{samples: []weatherSample{{
		time:  ts.UTC(),
		tempC: cur.Get("temperature_2m").Float(),
		wmo:   cur.Get("weathercode").Int(),
	}}}, nil
}

func parseForecast(body []byte) (weatherPollOut, error) {
	hourly := gjson.GetBytes(body, "hourly")
	if !hourly.Exists() {
		return weatherPollOut{}, fmt.Errorf("weather response lacks hourly block")
	}

	times := hourly.Get("time").Array()
	temps := hourly.Get("temperature_2m").Array()
	codes := hourly.Get("weathercode").Array()
	if len(times) != len(temps) || len(times) != len(codes) {
		return weatherPollOut{}, fmt.Errorf("weather forecast arrays disagree on length")
	}

	samples := make([]weatherSample, 0, len(times))
	for i, t := range times {
		ts, err := time.Parse(openMeteoTimeLayout, t.String())
		if err != nil {
			return weatherPollOut{}, fmt.Errorf("invalid forecast time %q: %w", t.String(), err)
		}
		samples = append(samples, weatherSample{
			time:  ts.UTC(),
			tempC: temps[i].Float(),
			wmo:   codes[i].Int(),
		})
	}
	return weatherPollOut{forecast: true, samples: samples}, nil
}

// forecastSlots returns the next n grid points of the 4-hour local
// forecast grid strictly after now, in UTC.
func forecastSlots(now time.Time, n int) []time.Time {
	const stride = 4

	local := now.Local()
	startHour := (local.Hour()/stride)*stride + stride

	out := make([]time.Time, 0, n)
	for step := range n {
		hourTotal := startHour + step*stride
		day := local.AddDate(0, 0, hourTotal/24)
		slot := time.Date(day.Year(), day.Month(), day.Day(), hourTotal%24, 0, 0, 0, time.Local)
		out = append(out, slot.UTC())
	}
	return out
}

func containsTime(ts []time.Time, t time.Time) bool {
	for _, x := range ts {
		if x.Equal(t) {
			return true
		}
	}
	return false
}

// isDaylight is a coarse day/night call used only to pick an emoji.
func isDaylight(t time.Time) bool {
	h := t.Local().Hour()
	return h >= 6 && h < 18
}

// wmoEmoji maps a WMO weather code to a glyph, day/night aware for
// clear-ish skies.
func wmoEmoji(code int64, day bool) string {
	night := func(d, n string) string {
		if day {
			return d
		}
		return n
	}

	switch code {
	case 0:
		return night("☀️", "🌙")
	case 1:
		return night("🌤️", "🌙☁️")
	case 2:
		return night("⛅", "🌙☁️")
	case 3:
		return "☁️"
	case 45, 48:
		return "🌫️"
	case 51, 61, 80:
		return night("🌦️", "🌙🌧️")
	case 53, 63, 81:
		return "🌧️"
	case 55, 65, 82:
		return "🌧️🌧️"
	case 56, 57, 66, 67:
		return "🌧️🧊"
	case 71, 77, 85:
		return "🌨️"
	case 73:
		return "🌨️🌨️"
	case 75, 86:
		return "🌨️🌨️🌨️"
	case 95, 96, 99:
		return "⛈️"
	default:
		return "?"
	}
}
