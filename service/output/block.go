// Package output turns the units' latest views into the i3bar JSON
// stream and feeds clicks back from the bar.
package output

import (
	"strings"

	"github.com/qdbp/empty-status/service/render"
	"github.com/qdbp/empty-status/service/unit"
)

// Block is one i3bar status block on the wire.
type Block struct {
	FullText            string `json:"full_text"`
	Name                string `json:"name"`
	Markup              string `json:"markup"`
	Border              string `json:"border"`
	Separator           string `json:"separator"`
	SeparatorBlockWidth int    `json:"separator_block_width"`

	Background string `json:"background,omitempty"`
	Color      string `json:"color,omitempty"`
}

// borderFor is the single place health is mapped to presentation.
func borderFor(h unit.Health) string {
	switch h {
	case unit.HealthDegraded:
		return render.Yellow
	case unit.HealthError:
		return render.Red
	default:
		return render.DarkGrey
	}
}

// makeBlock renders a view into its wire block. The name ties clicks
// on the block back to the unit instance.
func makeBlock(name string, padding int, view unit.View) Block {
	pad := strings.Repeat(" ", max(padding, 0))
	return Block{
		FullText:            pad + view.Body.Pango() + pad,
		Name:                name,
		Markup:              "pango",
		Border:              borderFor(view.Health),
		Separator:           "false",
		SeparatorBlockWidth: 0,
	}
}
