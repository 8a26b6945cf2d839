package llm

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limited shares one request budget between every caller of a Generator.
// Agents in the same organisation usually hit the same provider account,
// so the budget is per provider, not per agent.
//
// When the provider reports a rate limit the budget is halved; each
// later success restores a tenth of the configured rate.
type Limited struct {
	gen     Generator
	limiter *rate.Limiter
	target  rate.Limit
	floor   rate.Limit

	mu      sync.Mutex
	reduced int
}

// NewLimited wraps g with a budget of perMinute requests and the given
// burst. perMinute <= 0 returns g unchanged.
func NewLimited(g Generator, perMinute, burst int) Generator {
	if perMinute <= 0 {
		return g
	}
	if burst <= 0 {
		burst = 1
	}
	target := rate.Limit(float64(perMinute) / 60)
	return &Limited{
		gen:     g,
		limiter: rate.NewLimiter(target, burst),
		target:  target,
		floor:   target / 16,
	}
}

// Generate waits for budget, then calls the wrapped generator.
func (l *Limited) Generate(ctx context.Context, systemPrompt, userMessage string, promptContext map[string]interface{}) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", err
	}
	text, err := l.gen.Generate(ctx, systemPrompt, userMessage, promptContext)
	l.adjust(err)
	return text, err
}

// Limit returns the current budget in requests per second.
func (l *Limited) Limit() rate.Limit {
	return l.limiter.Limit()
}

// Reductions returns how many times the budget has been cut.
func (l *Limited) Reductions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reduced
}

func (l *Limited) adjust(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur := l.limiter.Limit()
	switch {
	case isRateLimitError(err):
		next := cur / 2
		if next < l.floor {
			next = l.floor
		}
		l.limiter.SetLimit(next)
		l.reduced++
	case err == nil && cur < l.target:
		next := cur + l.target/10
		if next > l.target {
			next = l.target
		}
		l.limiter.SetLimit(next)
	}
}
