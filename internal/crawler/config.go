package crawler

import (
	"fmt"
	"time"
)

// Config captures the knobs that shape one harvest run. It is decoupled from
// Viper so the engine can be configured and tested on its own.
type Config struct {
	// CallInterval is the minimum spacing between platform calls.
	CallInterval time.Duration
	// MaxThrottleRetries bounds retries of a throttled call.
	MaxThrottleRetries int
}

// DefaultConfig mirrors the platform's one-call-per-second guidance.
func DefaultConfig() Config {
	return Config{CallInterval: time.Second, MaxThrottleRetries: 3}
}

// Validate checks for obviously bad values.
func (c Config) Validate() error {
	if c.CallInterval < 0 {
		return fmt.Errorf("call interval must be >= 0")
	}
	if c.MaxThrottleRetries < 0 {
		return fmt.Errorf("max throttle retries must be >= 0")
	}
	return nil
}
