// Package links turns raw product URLs into affiliate links on a
// best-effort basis. Resolution never blocks message delivery: every
// failure yields an empty mapping and callers fall back to the raw URL.
package links

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"hapshi-bot/internal/metrics"

	"github.com/sony/gobreaker"
)

// Generator is the affiliate link-generation call.
type Generator interface {
	ResolveLinks(ctx context.Context, urls []string) (map[string]string, error)
}

// Config tunes the breaker guarding the generator.
type Config struct {
	// ConsecutiveFailures opens the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// Resolver wraps a Generator with failure containment.
type Resolver struct {
	gen     Generator
	cb      *gobreaker.CircuitBreaker
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a resolver.
func New(gen Generator, cfg Config, logger *slog.Logger, metrics *metrics.Metrics) *Resolver {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = time.Minute
	}
	logger = logger.With("component", "links")
	threshold := cfg.ConsecutiveFailures

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "affiliate_links",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("link breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Resolver{
		gen:     gen,
		cb:      cb,
		logger:  logger,
		metrics: metrics,
	}
}

// Resolve maps each source URL to its affiliate URL. It never fails; URLs
// missing from the result must be used as-is.
func (r *Resolver) Resolve(ctx context.Context, urls []string) (out map[string]string) {
	out = map[string]string{}
	if len(urls) == 0 || r.gen == nil {
		return out
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.fail(fmt.Errorf("panic: %v", rec))
			out = map[string]string{}
		}
	}()

	res, err := r.cb.Execute(func() (interface{}, error) {
		return r.gen.ResolveLinks(ctx, urls)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			r.logger.Info("link generation skipped, breaker open")
			return out
		}
		r.fail(err)
		return out
	}
	resolved, ok := res.(map[string]string)
	if !ok {
		return out
	}
	for src, link := range resolved {
		if src != "" && link != "" {
			out[src] = link
		}
	}
	return out
}

func (r *Resolver) fail(err error) {
	r.logger.Error("affiliate link generation failed, falling back to raw urls", "error", err)
	if r.metrics != nil {
		r.metrics.Errors.WithLabelValues("links").Inc()
	}
}
