package render

import (
	"fmt"
	"strings"
)

// Markup is a typed render tree: a flat sequence of optionally styled
// text spans. Units build Markup; only the output layer ever turns it
// into protocol text.
type Markup struct {
	spans []span
}

type span struct {
	text  string
	style Style
}

// Style carries optional foreground and background colors.
type Style struct {
	FG *RGB
	BG *RGB
}

// Text returns markup of a single unstyled span.
func Text(text string) Markup {
	return Markup{spans: []span{{text: text}}}
}

// Textf returns markup of a single unstyled formatted span.
func Textf(format string, args ...any) Markup {
	return Text(fmt.Sprintf(format, args...))
}

// FG returns a copy with the foreground color applied to all spans
// that do not have one yet.
func (m Markup) FG(c RGB) Markup {
	out := Markup{spans: make([]span, len(m.spans))}
	copy(out.spans, m.spans)
	for i := range out.spans {
		if out.spans[i].style.FG == nil {
			cc := c
			out.spans[i].style.FG = &cc
		}
	}
	return out
}

// BG returns a copy with the background color applied to all spans
// that do not have one yet.
func (m Markup) BG(c RGB) Markup {
	out := Markup{spans: make([]span, len(m.spans))}
	copy(out.spans, m.spans)
	for i := range out.spans {
		if out.spans[i].style.BG == nil {
			cc := c
			out.spans[i].style.BG = &cc
		}
	}
	return out
}

// Append returns the concatenation of m and others, in order.
func (m Markup) Append(others ...Markup) Markup {
	out := Markup{spans: make([]span, 0, len(m.spans))}
	out.spans = append(out.spans, m.spans...)
	for _, o := range others {
		out.spans = append(out.spans, o.spans...)
	}
	return out
}

// IsEmpty reports whether the markup contains no spans.
func (m Markup) IsEmpty() bool {
	return len(m.spans) == 0
}

// Plain returns the markup text without any styling.
func (m Markup) Plain() string {
	var b strings.Builder
	for _, s := range m.spans {
		b.WriteString(s.text)
	}
	return b.String()
}
