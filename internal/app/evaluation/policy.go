package evaluation

import "time"

// RetryPolicy 同时用于 Temporal 的 activity RetryPolicy 和 streams worker 的退避。
type RetryPolicy struct {
	MaxAttempts        int
	AttemptTimeout     time.Duration
	InitialBackoff     time.Duration
	BackoffCoefficient float64
	MaxBackoff         time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:        5,
		AttemptTimeout:     10 * time.Second,
		InitialBackoff:     2 * time.Second,
		BackoffCoefficient: 2.0,
		MaxBackoff:         time.Minute,
	}
}

// Normalize 把非法值替换成默认值；MaxAttempts 至少为 1，保证重试有界。
func (p RetryPolicy) Normalize() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = d.AttemptTimeout
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = d.InitialBackoff
	}
	if p.BackoffCoefficient < 1 {
		p.BackoffCoefficient = d.BackoffCoefficient
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = d.MaxBackoff
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	return p
}
