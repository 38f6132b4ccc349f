package chaos

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sandboxhq/sandboxd/pkg/rules"
)

// Config drives global fault injection. Latency is a delay spec in the
// scenario grammar ("150ms", "100±40ms", "p95=2s"); ErrorRate is the
// fraction of requests answered with an injected error before any
// matching happens.
type Config struct {
	Latency     string  `yaml:"latency,omitempty" json:"latency,omitempty"`
	ErrorRate   float64 `yaml:"errorRate,omitempty" json:"errorRate,omitempty"`
	ErrorStatus int     `yaml:"errorStatus,omitempty" json:"errorStatus,omitempty"`
}

// Enabled reports whether the config injects anything at all.
func (c Config) Enabled() bool {
	return c.Latency != "" || c.ErrorRate > 0
}

// Validate rejects out-of-range rates and unparseable latency specs.
func (c Config) Validate() error {
	if c.ErrorRate < 0 || c.ErrorRate > 1 {
		return fmt.Errorf("chaos: errorRate must be within [0, 1], got %v", c.ErrorRate)
	}
	if c.Latency != "" {
		if _, err := rules.ParseDelay(c.Latency, nil); err != nil {
			return fmt.Errorf("chaos: %w", err)
		}
	}
	if c.ErrorStatus != 0 && (c.ErrorStatus < 400 || c.ErrorStatus > 599) {
		return fmt.Errorf("chaos: errorStatus must be a 4xx or 5xx code, got %d", c.ErrorStatus)
	}
	return nil
}

// Injector samples per-request faults from a Config. Safe for
// concurrent use.
type Injector struct {
	cfg Config

	mu  sync.Mutex
	rng *rand.Rand
}

// NewInjector builds an injector. The config must already be validated.
func NewInjector(cfg Config) *Injector {
	return &Injector{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Enabled reports whether any fault can fire.
func (i *Injector) Enabled() bool {
	return i != nil && i.cfg.Enabled()
}

// ShouldError rolls the error-rate die for one request.
func (i *Injector) ShouldError() bool {
	if i.cfg.ErrorRate <= 0 {
		return false
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.rng.Float64() < i.cfg.ErrorRate
}

// ErrorStatus is the status code for injected errors.
func (i *Injector) ErrorStatus() int {
	if i.cfg.ErrorStatus != 0 {
		return i.cfg.ErrorStatus
	}
	return 500
}

// Sleep applies the configured latency, honoring ctx cancellation.
func (i *Injector) Sleep(ctx context.Context) error {
	if i.cfg.Latency == "" {
		return nil
	}
	d, err := rules.ParseDelay(i.cfg.Latency, i.unif)
	if err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (i *Injector) unif() float64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.rng.Float64()
}
