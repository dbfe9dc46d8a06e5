package kinds

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/qdbp/empty-status/service/unit"
)

// builder constructs a machine from its raw yaml config node, which
// may be nil when the unit entry carries no extra settings.
type builder func(node *yaml.Node) (unit.Machine, error)

var builders = map[string]builder{
	"clock": func(node *yaml.Node) (unit.Machine, error) {
		cfg, err := decodeCfg[ClockConfig](node)
		if err != nil {
			return nil, err
		}
		return NewClock(cfg), nil
	},
	"cpu": func(node *yaml.Node) (unit.Machine, error) {
		cfg, err := decodeCfg[CPUConfig](node)
		if err != nil {
			return nil, err
		}
		return NewCPU(cfg), nil
	},
	"mem": func(node *yaml.Node) (unit.Machine, error) {
		if _, err := decodeCfg[struct{}](node); err != nil {
			return nil, err
		}
		return NewMem(), nil
	},
	"disk": func(node *yaml.Node) (unit.Machine, error) {
		cfg, err := decodeCfg[DiskConfig](node)
		if err != nil {
			return nil, err
		}
		if cfg.Disk == "" {
			return nil, fmt.Errorf("disk unit requires a disk name")
		}
		return NewDisk(cfg), nil
	},
	"net": func(node *yaml.Node) (unit.Machine, error) {
		cfg, err := decodeCfg[NetConfig](node)
		if err != nil {
			return nil, err
		}
		if cfg.Interface == "" {
			return nil, fmt.Errorf("net unit requires an interface name")
		}
		return NewNet(cfg), nil
	},
	"wifi": func(node *yaml.Node) (unit.Machine, error) {
		cfg, err := decodeCfg[WifiConfig](node)
		if err != nil {
			return nil, err
		}
		if cfg.Interface == "" {
			return nil, fmt.Errorf("wifi unit requires an interface name")
		}
		return NewWifi(cfg), nil
	},
	"bat": func(node *yaml.Node) (unit.Machine, error) {
		cfg, err := decodeCfg[BatteryConfig](node)
		if err != nil {
			return nil, err
		}
		return NewBattery(cfg), nil
	},
	"weather": func(node *yaml.Node) (unit.Machine, error) {
		cfg, err := decodeCfg[WeatherConfig](node)
		if err != nil {
			return nil, err
		}
		return NewWeather(cfg)
	},
}

// Build constructs the machine for a configured unit entry.
func Build(kind string, node *yaml.Node) (unit.Machine, error) {
	b, ok := builders[kind]
	if !ok {
		return nil, fmt.Errorf("unknown unit kind %q (available: %v)", kind, Available())
	}
	machine, err := b(node)
	if err != nil {
		return nil, fmt.Errorf("unit kind %q: %w", kind, err)
	}
	return machine, nil
}

// Available returns the known kind names, sorted.
func Available() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func decodeCfg[T any](node *yaml.Node) (T, error) {
	var cfg T
	if node == nil {
		return cfg, nil
	}
	if err := node.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("invalid unit config: %w", err)
	}
	return cfg, nil
}
