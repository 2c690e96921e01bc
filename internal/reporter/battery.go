package reporter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Battery reports the current charge as a 0.0–1.0 fraction. The reporter
// rounds it to an integer percentage before transmission.
type Battery interface {
	Level(ctx context.Context) (float64, error)
}

var errNoBattery = errors.New("no battery found")

// SysfsBattery reads the charge percentage from the kernel power-supply
// class. The first supply exposing a capacity file wins.
type SysfsBattery struct {
	// Dir overrides /sys/class/power_supply, for tests.
	Dir string
}

func (b *SysfsBattery) Level(ctx context.Context) (float64, error) {
	dir := b.Dir
	if dir == "" {
		dir = "/sys/class/power_supply"
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		raw, err := os.ReadFile(filepath.Join(dir, e.Name(), "capacity"))
		if err != nil {
			continue
		}
		pct, err := strconv.Atoi(strings.TrimSpace(string(raw)))
		if err != nil {
			continue
		}
		return float64(pct) / 100, nil
	}
	return 0, errNoBattery
}

// StaticBattery reports a fixed level, for hosts without a readable battery.
type StaticBattery struct {
	Fraction float64
}

func (b *StaticBattery) Level(ctx context.Context) (float64, error) {
	return b.Fraction, nil
}
