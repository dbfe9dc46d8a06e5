package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkupPango(t *testing.T) {
	t.Parallel()

	m := Text("cpu ").Append(Text("42%").FG(ParseRGB(Red)))
	assert.Equal(t, "cpu <span color='#CC6666'>42%</span>", m.Pango())
	assert.Equal(t, "cpu 42%", m.Plain())
}

func TestMarkupEscaping(t *testing.T) {
	t.Parallel()

	m := Text("a <b> & c")
	assert.Equal(t, "a &lt;b&gt; &amp; c", m.Pango())
}

func TestMarkupStyleDoesNotOverride(t *testing.T) {
	t.Parallel()

	inner := Text("hot").FG(RGB{R: 255})
	outer := Text("x ").Append(inner).FG(RGB{B: 255})
	assert.Equal(t,
		"<span color='#0000FF'>x </span><span color='#FF0000'>hot</span>",
		outer.Pango())
}

func TestParseRGB(t *testing.T) {
	t.Parallel()

	assert.Equal(t, RGB{R: 0xCC, G: 0x66, B: 0x66}, ParseRGB("#CC6666"))
	assert.Equal(t, RGB{}, ParseRGB("nope"))
	assert.Equal(t, "#0A0B0C", RGB{R: 10, G: 11, B: 12}.Hex())
}

func TestGradient(t *testing.T) {
	t.Parallel()

	g := NewGradient(
		Stop{T: 0, Color: RGB{R: 0}},
		Stop{T: 1, Color: RGB{R: 200}},
	)
	assert.Equal(t, RGB{R: 0}, g.At(-1))
	assert.Equal(t, RGB{R: 200}, g.At(2))
	assert.Equal(t, RGB{R: 100}, g.At(0.5))
	assert.Equal(t, RGB{R: 100}, g.MapClamped(50, 0, 100))
}
