package tuning

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	WorldID string `yaml:"world_id"`

	TickRateHz         int `yaml:"tick_rate_hz"`
	MaxHops            int `yaml:"max_hops"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`

	// SnapshotKeep bounds how many periodic snapshots stay on disk.
	// Zero keeps all of them.
	SnapshotKeep int `yaml:"snapshot_keep"`

	Observer Observer `yaml:"observer"`
}

type Observer struct {
	// MaxTiles caps how many tiles a single observer frame carries.
	MaxTiles int `yaml:"max_tiles"`
	// EveryTicks sends a frame every N ticks; reports in between are
	// merged into the next frame.
	EveryTicks int `yaml:"every_ticks"`
}

func Defaults() Tuning {
	return Tuning{
		WorldID:            "world_1",
		TickRateHz:         10,
		MaxHops:            64,
		SnapshotEveryTicks: 3000,
		SnapshotKeep:       10,
		Observer: Observer{
			MaxTiles:   4096,
			EveryTicks: 1,
		},
	}
}

// Load reads path over Defaults, so a file only needs the keys it changes.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	var errs []error
	if t.WorldID == "" {
		errs = append(errs, errors.New("world_id must not be empty"))
	}
	if t.TickRateHz <= 0 || t.TickRateHz > 1000 {
		errs = append(errs, fmt.Errorf("tick_rate_hz=%d out of range (1..1000)", t.TickRateHz))
	}
	if t.MaxHops <= 0 {
		errs = append(errs, fmt.Errorf("max_hops=%d must be positive", t.MaxHops))
	}
	if t.SnapshotEveryTicks < 0 {
		errs = append(errs, fmt.Errorf("snapshot_every_ticks=%d must not be negative", t.SnapshotEveryTicks))
	}
	if t.SnapshotKeep < 0 {
		errs = append(errs, fmt.Errorf("snapshot_keep=%d must not be negative", t.SnapshotKeep))
	}
	if t.Observer.MaxTiles <= 0 {
		errs = append(errs, fmt.Errorf("observer.max_tiles=%d must be positive", t.Observer.MaxTiles))
	}
	if t.Observer.EveryTicks <= 0 {
		errs = append(errs, fmt.Errorf("observer.every_ticks=%d must be positive", t.Observer.EveryTicks))
	}
	return errors.Join(errs...)
}
