package output

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/qdbp/empty-status/service/mgr"
	"github.com/qdbp/empty-status/service/unit"
)

// ClickReader decodes the bar's click event stream from stdin and
// submits the events onto the unit supervisor's click bus.
type ClickReader struct {
	mgr      *mgr.Manager
	instance instance

	in io.Reader
}

// NewClickReader returns the click reader module.
func NewClickReader(instance instance) (*ClickReader, error) {
	return &ClickReader{
		instance: instance,
		in:       os.Stdin,
	}, nil
}

// Start starts the module.
func (c *ClickReader) Start(m *mgr.Manager) error {
	c.mgr = m
	m.Go("read clicks", c.readClicks)
	return nil
}

// Stop stops the module.
func (c *ClickReader) Stop(m *mgr.Manager) error {
	return nil
}

// readClicks consumes the infinite JSON array the bar writes to our
// stdin: an opening "[" line, then one event object per line with a
// leading comma from the second event on.
func (c *ClickReader) readClicks(w *mgr.WorkerCtx) error {
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		if w.IsDone() {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		line = strings.TrimPrefix(line, ",")
		if line == "" || line == "[" || line == "]" {
			continue
		}

		ev, ok := parseClick(line)
		if !ok {
			w.Warn("failed to parse click event", "line", line)
			continue
		}
		c.instance.Units().EventClick.Submit(ev)
	}

	// EOF on stdin means the bar went away; nothing left to read.
	return scanner.Err()
}

// parseClick extracts the fields we route on from a click event line.
func parseClick(line string) (unit.ClickEvent, bool) {
	if !gjson.Valid(line) {
		return unit.ClickEvent{}, false
	}

	parsed := gjson.Parse(line)
	name := parsed.Get("name")
	if !name.Exists() {
		return unit.ClickEvent{}, false
	}

	ev := unit.ClickEvent{
		Name:   name.String(),
		Button: int(parsed.Get("button").Int()),
		X:      int(parsed.Get("x").Int()),
		Y:      int(parsed.Get("y").Int()),
	}
	for _, mod := range parsed.Get("modifiers").Array() {
		ev.Modifiers = append(ev.Modifiers, mod.String())
	}
	return ev, true
}
