package render

import (
	"strings"
)

var pangoEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
)

// Pango serializes the markup tree to pango markup, escaping span text.
func (m Markup) Pango() string {
	var b strings.Builder
	for _, s := range m.spans {
		renderSpan(&b, s)
	}
	return b.String()
}

func renderSpan(b *strings.Builder, s span) {
	text := pangoEscaper.Replace(s.text)
	if s.style.FG == nil && s.style.BG == nil {
		b.WriteString(text)
		return
	}

	b.WriteString("<span")
	if s.style.FG != nil {
		b.WriteString(" color='")
		b.WriteString(s.style.FG.Hex())
		b.WriteString("'")
	}
	if s.style.BG != nil {
		b.WriteString(" background='")
		b.WriteString(s.style.BG.Hex())
		b.WriteString("'")
	}
	b.WriteString(">")
	b.WriteString(text)
	b.WriteString("</span>")
}
