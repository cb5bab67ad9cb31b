package advisor

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ingest-cli/internal/resilience"
)

// ServiceError marks an advisory failure caused by the service being
// unreachable or failing, as opposed to a bad request.
type ServiceError struct {
	Err error
}

func (e *ServiceError) Error() string { return "advisory service unavailable: " + e.Err.Error() }
func (e *ServiceError) Unwrap() error { return e.Err }

// ErrorCode implements the recovery classifier's coded-error contract.
func (e *ServiceError) ErrorCode() string { return "ADVISORY_SERVICE_DOWN" }

// Guarded puts a circuit breaker in front of an advisor. Outages trip the
// breaker and surface as ServiceError; while open, calls fail fast with
// resilience.ErrBreakerOpen.
type Guarded struct {
	next    Advisor
	breaker *resilience.Breaker
}

// NewGuarded wraps next with a breaker built from cfg.
func NewGuarded(next Advisor, cfg resilience.BreakerConfig) *Guarded {
	cfg.ShouldTrip = isOutage
	return &Guarded{next: next, breaker: resilience.NewBreaker(cfg)}
}

// Breaker exposes the breaker for status reporting.
func (g *Guarded) Breaker() *resilience.Breaker { return g.breaker }

// Recommend implements Advisor.
func (g *Guarded) Recommend(ctx context.Context, req Request) (*Advice, error) {
	adv, err := resilience.Call(ctx, g.breaker, func(ctx context.Context) (*Advice, error) {
		return g.next.Recommend(ctx, req)
	})
	if err == nil {
		return adv, nil
	}
	if errors.Is(err, resilience.ErrBreakerOpen) {
		return nil, err
	}
	if isOutage(err) {
		return nil, &ServiceError{Err: err}
	}
	return nil, eris.Wrap(err, "advisor: recommend")
}

// isOutage reports failures that say the service is down rather than that
// the request was wrong. Cancellation is neither.
func isOutage(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var sc interface{ HTTPStatus() int }
	if errors.As(err, &sc) {
		status := sc.HTTPStatus()
		return status >= 500 || status == 429
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return resilience.IsTransient(err)
}
