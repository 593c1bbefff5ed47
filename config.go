package focuswatch

import (
	"fmt"
	"time"
)

const (
	// DefaultPollInterval is used when no interval is configured.
	DefaultPollInterval = 100 * time.Millisecond

	maxPollInterval = 10 * time.Second
	maxIconSize     = 512
)

// IconConfig controls icon handling.
type IconConfig struct {
	// TargetSize is the square edge length icons are resized to, in pixels.
	// Zero keeps the platform-native size and skips resizing.
	TargetSize int
}

// Config is a value; the With* builders return modified copies. Setters
// validate eagerly and panic on out-of-range values: a misconfigured
// tracker is a programming error, not a runtime condition.
type Config struct {
	// PollInterval is the sleep between polls in cooperative mode and
	// therefore the upper bound on cancellation latency.
	PollInterval time.Duration

	// Icon configures the icon pipeline.
	Icon IconConfig
}

// DefaultConfig returns the default configuration: 100ms polling, icons at
// their native size.
func DefaultConfig() Config {
	return Config{PollInterval: DefaultPollInterval}
}

// WithPollInterval sets the polling interval. Panics unless the interval is
// in (0, 10s].
func (c Config) WithPollInterval(interval time.Duration) Config {
	if interval <= 0 {
		panic("focuswatch: poll interval must be positive")
	}
	if interval > maxPollInterval {
		panic(fmt.Sprintf("focuswatch: poll interval must not exceed %v", maxPollInterval))
	}
	c.PollInterval = interval
	return c
}

// WithPollIntervalMillis sets the polling interval in milliseconds.
func (c Config) WithPollIntervalMillis(ms int64) Config {
	return c.WithPollInterval(time.Duration(ms) * time.Millisecond)
}

// WithIconTargetSize requests icons resized to a square of the given edge
// length. Panics unless the size is in (0, 512].
func (c Config) WithIconTargetSize(px int) Config {
	if px <= 0 || px > maxIconSize {
		panic(fmt.Sprintf("focuswatch: icon target size must be in (0, %d]", maxIconSize))
	}
	c.Icon.TargetSize = px
	return c
}
