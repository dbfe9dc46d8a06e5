package kinds

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/qdbp/empty-status/service/effect"
	"github.com/qdbp/empty-status/service/render"
	"github.com/qdbp/empty-status/service/unit"
)

// diskBars are the per-channel throughput glyphs, quiet to saturated.
var diskBars = [9]string{" ", "▁", "▂", "▃", "▄", "▅", "▆", "▇", "█"}

// DiskConfig configures the disk unit.
type DiskConfig struct {
	// Disk is the device to watch, e.g. "nvme0n1p2" or "sda".
	Disk string `yaml:"disk"`

	Smoothing float64 `yaml:"smoothing_sec"`

	// Peak throughput references anchoring the bar scale, bytes/s.
	ReadPeakRef  float64 `yaml:"read_peak_ref"`
	WritePeakRef float64 `yaml:"write_peak_ref"`
}

// Disk shows read/write throughput bars for one block device.
type Disk struct {
	cfg DiskConfig

	readThreshs  [9]float64
	writeThreshs [9]float64
}

type diskState struct {
	// root is the parent block device of the configured partition,
	// resolved once from /sys/block.
	root       string
	sectorSize uint64

	readBytes  uint64
	writeBytes uint64
	lastAt     time.Time
	primed     bool

	readEMA  EMA
	writeEMA EMA
}

type diskPollOut struct {
	root       string
	sectorSize uint64
	readBytes  uint64
	writeBytes uint64
	at         time.Time
}

// NewDisk returns a disk unit.
func NewDisk(cfg DiskConfig) *Disk {
	if cfg.Smoothing <= 0 {
		cfg.Smoothing = 0.5
	}
	if cfg.ReadPeakRef <= 0 {
		cfg.ReadPeakRef = 1.5e9
	}
	if cfg.WritePeakRef <= 0 {
		cfg.WritePeakRef = 3e8
	}

	d := &Disk{cfg: cfg}
	// Log-spaced thresholds from near-idle up to the peak reference.
	for i := range 9 {
		exp := float64(i+1) / 9.0
		d.readThreshs[i] = math.Pow(cfg.ReadPeakRef, exp)
		d.writeThreshs[i] = math.Pow(cfg.WritePeakRef, exp)
	}
	return d
}

// Name implements unit.Machine.
func (d *Disk) Name() string { return "disk" }

// Init implements unit.Machine.
func (d *Disk) Init() (unit.State, unit.View, unit.Decision) {
	smoothing := time.Duration(d.cfg.Smoothing * float64(time.Second))
	return diskState{
		readEMA:  NewEMA(smoothing),
		writeEMA: NewEMA(smoothing),
	}, unit.LoadingView("disk " + d.cfg.Disk), unit.PollNow
}

// Tick implements unit.Machine.
func (d *Disk) Tick(s unit.State) (unit.State, *unit.View, unit.Decision) {
	return s, nil, unit.Idle
}

// Click implements unit.Machine.
func (d *Disk) Click(s unit.State, ev unit.ClickEvent) (unit.State, *unit.View, unit.Decision) {
	return s, nil, unit.PollNow
}

// Poll implements unit.Machine.
func (d *Disk) Poll(ctx context.Context, kernel *effect.Kernel, s unit.State) (unit.PollOut, error) {
	st := s.(diskState)
	out := diskPollOut{root: st.root, sectorSize: st.sectorSize}

	if out.root == "" {
		dirOut, err := kernel.Run(ctx, effect.FSListDir{Path: "/sys/block", FreshFor: time.Minute})
		if err != nil {
			return nil, err
		}
		out.root = selectDiskRoot(d.cfg.Disk, dirOut.DirEntries())
		if out.root == "" {
			return nil, fmt.Errorf("no block device matches %q", d.cfg.Disk)
		}
	}

	if out.sectorSize == 0 {
		sizeOut, err := kernel.Run(ctx, effect.FSRead{
			Path:     "/sys/block/" + out.root + "/queue/hw_sector_size",
			FreshFor: time.Hour,
		})
		if err == nil {
			out.sectorSize, _ = strconv.ParseUint(strings.TrimSpace(string(sizeOut.FileBytes())), 10, 64)
		}
		if out.sectorSize == 0 {
			out.sectorSize = 512
		}
	}

	statOut, err := kernel.Run(ctx, effect.FSRead{
		Path:     "/sys/class/block/" + d.cfg.Disk + "/stat",
		FreshFor: 150 * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}

	r, w, err := parseBlockStat(statOut.FileBytes())
	if err != nil {
		return nil, err
	}
	out.readBytes = r * out.sectorSize
	out.writeBytes = w * out.sectorSize
	out.at = time.Now()
	return out, nil
}

// Render implements unit.Machine.
func (d *Disk) Render(s unit.State, out unit.PollOut) (unit.State, unit.View, unit.Decision) {
	st := s.(diskState)
	po := out.(diskPollOut)
	st.root = po.root
	st.sectorSize = po.sectorSize

	if !st.primed {
		st.primed = true
		st.readBytes, st.writeBytes, st.lastAt = po.readBytes, po.writeBytes, po.at
		return st, unit.LoadingView("disk " + d.cfg.Disk), unit.PollNow
	}

	dt := po.at.Sub(st.lastAt).Seconds()
	dr := po.readBytes - min(po.readBytes, st.readBytes)
	dw := po.writeBytes - min(po.writeBytes, st.writeBytes)
	st.readBytes, st.writeBytes, st.lastAt = po.readBytes, po.writeBytes, po.at

	var bpsRead, bpsWrite float64
	if dt > 0 {
		bpsRead = float64(dr) / dt
		bpsWrite = float64(dw) / dt
	}
	st.readEMA, bpsRead = st.readEMA.Feed(bpsRead, po.at)
	st.writeEMA, bpsWrite = st.writeEMA.Feed(bpsWrite, po.at)

	body := render.Text("disk "+d.cfg.Disk+" ").Append(bracketed(
		render.Text(barFor(bpsRead, d.readThreshs)).FG(render.ParseRGB(render.Blue)).
			Append(render.Text(barFor(bpsWrite, d.writeThreshs)).FG(render.ParseRGB(render.Orange))),
	))
	return st, unit.OkView(body), unit.Idle
}

// RenderError implements unit.Machine.
func (d *Disk) RenderError(err error) render.Markup {
	return unit.DefaultRenderError(err)
}

func barFor(bps float64, threshs [9]float64) string {
	for i, t := range threshs {
		if bps < t {
			return diskBars[i]
		}
	}
	return diskBars[8]
}

// selectDiskRoot picks the longest /sys/block entry that prefixes the
// configured device, i.e. the parent disk of a partition.
func selectDiskRoot(disk string, entries []string) string {
	var best string
	for _, e := range entries {
		if strings.HasPrefix(disk, e) && len(e) > len(best) {
			best = e
		}
	}
	return best
}

// parseBlockStat extracts sectors read and written from a block
// device stat file.
func parseBlockStat(b []byte) (read, written uint64, err error) {
	fields := strings.Fields(string(b))
	if len(fields) < 7 {
		return 0, 0, fmt.Errorf("invalid block stat format")
	}
	if read, err = strconv.ParseUint(fields[2], 10, 64); err != nil {
		return 0, 0, fmt.Errorf("invalid sectors-read field: %w", err)
	}
	if written, err = strconv.ParseUint(fields[6], 10, 64); err != nil {
		return 0, 0, fmt.Errorf("invalid sectors-written field: %w", err)
	}
	return read, written, nil
}
