package lease

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// RetryPolicy decides how long a retrying job waits before it can be claimed
// again. attempt is the number of claims made so far (>= 1).
type RetryPolicy interface {
	Delay(attempt int) time.Duration
}

type FixedDelay struct {
	Wait time.Duration
}

func (f FixedDelay) Delay(int) time.Duration {
	if f.Wait < 0 {
		return 0
	}
	return f.Wait
}

// ExponentialBackoff doubles Base per attempt, capped at Max. A zero Max
// caps at the largest representable duration.
type ExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration
}

func (e ExponentialBackoff) Delay(attempt int) time.Duration {
	if e.Base <= 0 {
		return 0
	}
	limit := e.Max
	if limit <= 0 {
		limit = time.Duration(math.MaxInt64)
	}
	d := e.Base
	for i := 1; i < attempt && d < limit; i++ {
		if d > limit/2 {
			return limit
		}
		d *= 2
	}
	return min(d, limit)
}

type RetryConfig struct {
	Kind string        `yaml:"kind"` // fixed | exponential
	Base time.Duration `yaml:"base"`
	Max  time.Duration `yaml:"max"`
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Kind: "exponential", Base: 15 * time.Second, Max: 600 * time.Second}
}

func NewRetryPolicy(cfg RetryConfig) (RetryPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "fixed":
		return FixedDelay{Wait: cfg.Base}, nil
	case "", "exponential":
		if cfg.Max > 0 && cfg.Max < cfg.Base {
			return nil, fmt.Errorf("retry max (%s) is below base (%s)", cfg.Max, cfg.Base)
		}
		return ExponentialBackoff{Base: cfg.Base, Max: cfg.Max}, nil
	default:
		return nil, fmt.Errorf("unknown retry policy %q (expected fixed or exponential)", cfg.Kind)
	}
}
