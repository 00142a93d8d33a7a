package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/FiveIT/eseuri/internal/queries"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// Breaker returns an interceptor that stops calling Hasura after repeated
// transport-level failures. Backend-reported GraphQL errors do not count as
// failures: the backend answered. Neither do calls abandoned by the caller
// through its own context.
func Breaker(name string, logger *logrus.Logger) Interceptor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			return !(IsCode(err, CodeNetwork) || IsCode(err, CodeUnexpectedHTTP))
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("gateway circuit breaker changed state")
		},
	})

	return func(next Handler) Handler {
		return func(ctx context.Context, op queries.Operation, vars any, out any) error {
			var callErr error
			_, err := cb.Execute(func() (interface{}, error) {
				callErr = next(ctx, op, vars, out)
				if callErr != nil && ctx.Err() != nil {
					return nil, nil
				}
				return nil, callErr
			})
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return gatewayError(op.Name, CodeCircuitOpen, "backend temporarily unavailable", err)
			}
			if err != nil {
				return err
			}
			return callErr
		}
	}
}
