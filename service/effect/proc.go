package effect

import (
	"bufio"
	"os/exec"

	"github.com/VictoriaMetrics/metrics"
)

// procLineBuffer bounds how many undrained lines a source may hold;
// beyond that the pump drops new lines rather than stalling the child.
const procLineBuffer = 1024

type procSource struct {
	cmd   *exec.Cmd
	lines chan string
}

// procBatch drains whatever lines are currently buffered for the
// source, up to MaxLines, spawning the persistent subprocess on first
// use. It never blocks on the child.
func (k *Kernel) procBatch(r ProcBatch) (Output, error) {
	src, err := k.procFor(r)
	if err != nil {
		return Output{}, err
	}

	out := make([]string, 0, r.MaxLines)
drain:
	for len(out) < r.MaxLines {
		select {
		case line, ok := <-src.lines:
			if !ok {
				// The child exited. Drop the source so the next poll
				// respawns it, and report the gap.
				k.dropProc(r.Key, src)
				return Output{}, transportf("proc source %q exited", r.Key)
			}
			out = append(out, line)
		default:
			break drain
		}
	}

	return Output{kind: KindProc, lines: out}, nil
}

func (k *Kernel) procFor(r ProcBatch) (*procSource, error) {
	k.procsLock.Lock()
	defer k.procsLock.Unlock()

	if src, ok := k.procs[r.Key]; ok {
		return src, nil
	}

	if len(r.Command) == 0 {
		return nil, transportf("proc source %q: empty command", r.Key)
	}

	metrics.GetOrCreateCounter(`empty_status_effect_io_total{kind="proc"}`).Inc()

	cmd := exec.Command(r.Command[0], r.Command[1:]...) //nolint:gosec // Command comes from the user's own config.
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, transportf("proc source %q: %w", r.Key, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, transportf("proc source %q: %w", r.Key, err)
	}

	src := &procSource{
		cmd:   cmd,
		lines: make(chan string, procLineBuffer),
	}
	k.procs[r.Key] = src

	// Pump stdout into the line buffer until the child exits.
	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			select {
			case src.lines <- scanner.Text():
			default:
				// Buffer full: the consumer is not draining fast
				// enough, drop the line instead of stalling the child.
			}
		}
		close(src.lines)
		_ = cmd.Wait()
	}()

	return src, nil
}

func (k *Kernel) dropProc(key string, src *procSource) {
	k.procsLock.Lock()
	defer k.procsLock.Unlock()

	if k.procs[key] == src {
		delete(k.procs, key)
	}
}

func (s *procSource) kill() {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
}
