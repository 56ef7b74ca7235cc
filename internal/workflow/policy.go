package workflow

import "time"

// RetryPolicy controls per-step attempt limits, backoff, and timeout.
// A step's policy merges over the workflow default: zero fields inherit.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay" mapstructure:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay" mapstructure:"max_delay"`
	Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`
}

// DefaultRetryPolicy returns the workflow-level fallback policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Timeout:     2 * time.Minute,
	}
}

// Merge returns p with any zero field replaced by the corresponding
// field of base.
func (p RetryPolicy) Merge(base RetryPolicy) RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = base.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = base.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = base.MaxDelay
	}
	if p.Timeout <= 0 {
		p.Timeout = base.Timeout
	}
	return p
}

// BackoffDelay returns the sleep before the retry that follows the given
// attempt (1-based): BaseDelay * 2^(attempt-1), capped at MaxDelay.
func (p RetryPolicy) BackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}
