package oracle

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// RetryPolicy configures WithRetry. MaxAttempts <= 1 disables retrying.
type RetryPolicy struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1, InitialInterval: time.Second, MaxInterval: 4 * time.Second}
}

type retrying struct {
	next   Oracle
	policy RetryPolicy
	log    *zap.Logger
}

// WithRetry retries transient provider failures (timeouts, 429, 5xx). Safety
// blocks, admission denials, client errors and cancellation are returned as is.
func WithRetry(o Oracle, policy RetryPolicy, opts ...Option) Oracle {
	if policy.MaxAttempts <= 1 {
		return o
	}
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = time.Second
	}
	if policy.MaxInterval < policy.InitialInterval {
		policy.MaxInterval = policy.InitialInterval
	}
	return &retrying{next: o, policy: policy, log: buildOptions(opts).log}
}

func (r *retrying) Generate(ctx context.Context, prompt string) (Reply, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.policy.InitialInterval
	b.MaxInterval = r.policy.MaxInterval

	attempt := 0
	return backoff.Retry(ctx, func() (Reply, error) {
		attempt++
		reply, err := r.next.Generate(ctx, prompt)
		if err == nil {
			return reply, nil
		}
		class := ClassifyError(err)
		if !class.Transient() || ctx.Err() != nil {
			return reply, backoff.Permanent(err)
		}
		r.log.Info("llm_attempt_retry",
			zap.Int("attempt", attempt),
			zap.String("class", class.String()),
			zap.Error(err))
		return reply, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(r.policy.MaxAttempts)),
	)
}
