package fallback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/soundline/catalog-bridge/internal/audit"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce   sync.Once
	servedCounter metric.Int64Counter
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/soundline/catalog-bridge/internal/fallback")

		var err error
		servedCounter, err = meter.Int64Counter(
			"catalog.fallback.served",
			metric.WithDescription("Browse responses by the strategy that produced them"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

// Strategy is one way of producing a result.
type Strategy[T any] struct {
	Name  string
	Fetch func(ctx context.Context) (T, error)
}

// Chain is an ordered list of strategies. The first to succeed wins.
type Chain[T any] []Strategy[T]

// Run tries each strategy in order, returning the first successful result.
// When every strategy fails the returned error joins all of their errors.
func (c Chain[T]) Run(ctx context.Context, operation string) (T, error) {
	var errs []error

	for _, s := range c {
		result, err := s.Fetch(ctx)
		if err != nil {
			log.Warn().Err(err).
				Str("operation", operation).
				Str("strategy", s.Name).
				Msg("fallback: strategy failed")
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
			continue
		}

		if len(errs) > 0 {
			log.Info().
				Str("operation", operation).
				Str("strategy", s.Name).
				Msg("fallback: substitute result served")
		}

		audit.Log(ctx).Strategy = s.Name

		if servedCounter != nil {
			servedCounter.Add(ctx, 1,
				metric.WithAttributes(
					attribute.String("fallback.operation", operation),
					attribute.String("fallback.strategy", s.Name),
				),
			)
		}

		return result, nil
	}

	var zero T
	return zero, fmt.Errorf("%s: no strategy succeeded: %w", operation, errors.Join(errs...))
}
