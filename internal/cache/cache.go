package cache

import (
	"context"
	"errors"

	"github.com/fjod/cartsubs/internal/domain"
)

type SessionCache interface {
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	Set(ctx context.Context, sessionID string, sess *domain.Session) error
	Delete(ctx context.Context, sessionID string) error
}

var ErrCacheMiss = errors.New("cache miss")
