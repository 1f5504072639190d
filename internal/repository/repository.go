package repository

import (
	"context"
	"errors"

	"github.com/fjod/cartsubs/internal/domain"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionRepository is the durable store behind the session cache.
type SessionRepository interface {
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	UpsertSession(ctx context.Context, sess *domain.Session) error
	// ClearItems empties the cart but keeps session-level values.
	ClearItems(ctx context.Context, sessionID string) error
}
