package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fjod/cartsubs/internal/domain"
	"github.com/sony/gobreaker/v2"
)

// BreakerRepository fails fast while the wrapped store keeps failing. A
// missing session is an answer, not a failure.
type BreakerRepository struct {
	inner SessionRepository
	cb    *gobreaker.CircuitBreaker[*domain.Session]
}

func NewBreakerRepository(inner SessionRepository, logger *slog.Logger) *BreakerRepository {
	if logger == nil {
		logger = slog.Default()
	}
	settings := gobreaker.Settings{
		Name:        "session-repository",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrSessionNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &BreakerRepository{
		inner: inner,
		cb:    gobreaker.NewCircuitBreaker[*domain.Session](settings),
	}
}

func (b *BreakerRepository) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerRepository) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	return b.cb.Execute(func() (*domain.Session, error) {
		return b.inner.GetSession(ctx, sessionID)
	})
}

func (b *BreakerRepository) UpsertSession(ctx context.Context, sess *domain.Session) error {
	_, err := b.cb.Execute(func() (*domain.Session, error) {
		return nil, b.inner.UpsertSession(ctx, sess)
	})
	return err
}

func (b *BreakerRepository) ClearItems(ctx context.Context, sessionID string) error {
	_, err := b.cb.Execute(func() (*domain.Session, error) {
		return nil, b.inner.ClearItems(ctx, sessionID)
	})
	return err
}
