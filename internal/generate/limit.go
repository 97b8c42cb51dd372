package generate

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"contentmill/internal/pipeline"
)

// Limited gates a generator behind a token bucket shared by every caller.
type Limited struct {
	Generator pipeline.Generator
	Limiter   *rate.Limiter
}

// NewLimiter allows perMinute calls per minute with the given burst.
// perMinute <= 0 means unlimited.
func NewLimiter(perMinute, burst int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)
}

// Limit wraps every generator the factory returns behind one limiter.
func (f Factory) Limit(l *rate.Limiter) Factory {
	return func(step pipeline.StepDescriptor) pipeline.Generator {
		return Limited{Generator: f(step), Limiter: l}
	}
}

func (l Limited) Generate(ctx context.Context, prompt string) (string, error) {
	if err := l.Limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}
	return l.Generator.Generate(ctx, prompt)
}
