package output

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qdbp/empty-status/service/effect"
	"github.com/qdbp/empty-status/service/mgr"
	"github.com/qdbp/empty-status/service/render"
	"github.com/qdbp/empty-status/service/unit"
)

// stubMachine renders a fixed body and health; it never polls in
// these tests.
type stubMachine struct {
	name   string
	view   unit.View
	clicks chan unit.ClickEvent
}

func (m *stubMachine) Name() string { return m.name }

func (m *stubMachine) Init() (unit.State, unit.View, unit.Decision) {
	return nil, m.view, unit.Idle
}

func (m *stubMachine) Tick(s unit.State) (unit.State, *unit.View, unit.Decision) {
	return s, nil, unit.Idle
}

func (m *stubMachine) Click(s unit.State, ev unit.ClickEvent) (unit.State, *unit.View, unit.Decision) {
	if m.clicks != nil {
		m.clicks <- ev
	}
	return s, nil, unit.Idle
}

func (m *stubMachine) Poll(ctx context.Context, kernel *effect.Kernel, s unit.State) (unit.PollOut, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (m *stubMachine) Render(s unit.State, out unit.PollOut) (unit.State, unit.View, unit.Decision) {
	return s, m.view, unit.Idle
}

func (m *stubMachine) RenderError(err error) render.Markup {
	return unit.DefaultRenderError(err)
}

type stubInstance struct {
	units *unit.Units
}

func (i *stubInstance) Units() *unit.Units { return i.units }

func testSched() unit.Scheduling {
	return unit.Scheduling{
		PollInterval: time.Hour,
		MinInterval:  time.Hour,
		Timeout:      time.Hour,
		Backoff:      unit.DefaultBackoff,
	}
}

func TestMakeBlock(t *testing.T) {
	t.Parallel()

	view := unit.View{Body: render.Text("cpu 42%"), Health: unit.HealthOk}
	block := makeBlock("cpu::0", 1, view)
	assert.Equal(t, " cpu 42% ", block.FullText)
	assert.Equal(t, "cpu::0", block.Name)
	assert.Equal(t, "pango", block.Markup)
	assert.Equal(t, render.DarkGrey, block.Border)
	assert.Equal(t, "false", block.Separator)

	view.Health = unit.HealthDegraded
	assert.Equal(t, render.Yellow, makeBlock("cpu::0", 0, view).Border)
	view.Health = unit.HealthError
	assert.Equal(t, render.Red, makeBlock("cpu::0", 0, view).Border)
}

func TestAggregatorFrameOrder(t *testing.T) {
	t.Parallel()

	first := unit.NewActor("clock::0", &stubMachine{
		name: "clock", view: unit.OkView(render.Text("tick")),
	}, nil, testSched())
	second := unit.NewActor("mem::1", &stubMachine{
		name: "mem", view: unit.OkView(render.Text("mem ok")),
	}, nil, testSched())

	units, err := unit.New(nil, []*unit.Actor{first, second})
	require.NoError(t, err)

	agg, err := NewAggregator(&stubInstance{units: units}, time.Second, 1)
	require.NoError(t, err)

	var buf bytes.Buffer
	agg.out = &buf

	require.NoError(t, agg.emitFrame(nil))
	frame := buf.String()

	assert.True(t, strings.HasPrefix(frame, "["))
	assert.True(t, strings.HasSuffix(frame, "],\n"))

	// Blocks come out in reverse config order.
	assert.Less(t,
		strings.Index(frame, "mem::1"),
		strings.Index(frame, "clock::0"),
	)
	assert.Contains(t, frame, `" tick "`)
}

func TestAggregatorRejectsZeroCadence(t *testing.T) {
	t.Parallel()

	_, err := NewAggregator(&stubInstance{}, 0, 1)
	assert.Error(t, err)
}

func TestParseClick(t *testing.T) {
	t.Parallel()

	ev, ok := parseClick(`{"name":"net::2","button":1,"x":100,"y":12,"modifiers":["Shift"]}`)
	require.True(t, ok)
	assert.Equal(t, "net::2", ev.Name)
	assert.Equal(t, 1, ev.Button)
	assert.Equal(t, []string{"Shift"}, ev.Modifiers)

	_, ok = parseClick(`{"button":1}`)
	assert.False(t, ok, "clicks without a name cannot be routed")

	_, ok = parseClick(`not json`)
	assert.False(t, ok)
}

func TestClickReaderRoutesToBus(t *testing.T) {
	t.Parallel()

	clicks := make(chan unit.ClickEvent, 1)
	actor := unit.NewActor("clock::0", &stubMachine{
		name: "clock", view: unit.OkView(render.Text("tick")), clicks: clicks,
	}, nil, unit.Scheduling{
		PollInterval: time.Hour,
		MinInterval:  5 * time.Millisecond,
		Timeout:      time.Hour,
		Backoff:      unit.DefaultBackoff,
	})

	units, err := unit.New(nil, []*unit.Actor{actor})
	require.NoError(t, err)

	reader, err := NewClickReader(&stubInstance{units: units})
	require.NoError(t, err)
	reader.in = strings.NewReader("[\n" +
		`{"name":"clock::0","button":1,"x":1,"y":1}` + "\n" +
		`,{"name":"unknown::9","button":1,"x":1,"y":1}` + "\n")

	g := mgr.NewGroup(units, reader)
	require.NoError(t, g.Start())
	defer g.Stop()

	select {
	case ev := <-clicks:
		assert.Equal(t, "clock::0", ev.Name)
	case <-time.After(time.Second):
		t.Fatal("click never reached the unit")
	}
}
