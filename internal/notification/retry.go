package notification

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"
)

// RetryPolicy defines exponential backoff parameters.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// NextDelay returns delay for a given attempt (1-based) with clamping.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = time.Second
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = 2
	}

	delay := float64(r.InitialDelay) * math.Pow(r.BackoffFactor, float64(attempt-1))
	d := time.Duration(delay)
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}

// RetryingGateway retries failed sends with backoff until the policy or the
// context runs out.
type RetryingGateway struct {
	next   Gateway
	policy RetryPolicy
	log    *zerolog.Logger
	wait   func(ctx context.Context, d time.Duration) error
}

func WithRetry(next Gateway, policy RetryPolicy, log *zerolog.Logger) *RetryingGateway {
	return &RetryingGateway{next: next, policy: policy, log: log, wait: sleepCtx}
}

func (g *RetryingGateway) Send(ctx context.Context, msg Message) error {
	err := g.next.Send(ctx, msg)
	for attempt := 1; err != nil && attempt <= g.policy.MaxRetries; attempt++ {
		if msg.validate() != nil {
			return err
		}
		delay := g.policy.NextDelay(attempt)
		g.log.Debug().Err(err).Str("kind", msg.Kind).Int("attempt", attempt).Dur("delay", delay).Msg("retrying mail delivery")
		if werr := g.wait(ctx, delay); werr != nil {
			return err
		}
		err = g.next.Send(ctx, msg)
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
