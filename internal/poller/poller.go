package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	Topic   = "checkout-outbox"
	GroupID = "cartsubs"
)

// retryDelay is the pause after a failed read before the next attempt.
const retryDelay = 500 * time.Millisecond

var ErrMissingSessionID = errors.New("missing or invalid session_id")

// CartDropper empties the stored cart of a session. Session values survive.
type CartDropper interface {
	DropItems(ctx context.Context, sessionID string) error
}

type checkoutCompleted struct {
	CheckoutID string `json:"checkout_id"`
	SessionID  string `json:"session_id"`
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Poller empties carts once their checkout has completed.
type Poller struct {
	carts      CartDropper
	reader     messageReader
	retryDelay time.Duration
	logger     *slog.Logger
}

func NewPoller(carts CartDropper, logger *slog.Logger, brokers ...string) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    Topic,
		GroupID:  GroupID,
		MaxBytes: 10e6, // 10MB
	})
	return newPoller(carts, reader, logger)
}

func newPoller(carts CartDropper, reader messageReader, logger *slog.Logger) *Poller {
	return &Poller{
		carts:      carts,
		reader:     reader,
		retryDelay: retryDelay,
		logger:     logger.With("component", "poller"),
	}
}

// Run consumes checkout messages until ctx is cancelled or the reader is
// closed. Failed reads are retried after a pause.
func (p *Poller) Run(ctx context.Context) {
	for {
		m, err := p.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			p.logger.Error("error reading message", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.retryDelay):
			}
			continue
		}
		if err := p.handle(ctx, m); err != nil {
			p.logger.Warn("checkout message skipped", "offset", m.Offset, "err", err)
		}
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.logger.Error("error closing reader", "err", err)
	}
}

func (p *Poller) handle(ctx context.Context, m kafka.Message) error {
	var payload checkoutCompleted
	if err := json.Unmarshal(m.Value, &payload); err != nil {
		return fmt.Errorf("parse message: %w", err)
	}
	if payload.SessionID == "" {
		return ErrMissingSessionID
	}

	if err := p.carts.DropItems(ctx, payload.SessionID); err != nil {
		return fmt.Errorf("drop cart %s: %w", payload.SessionID, err)
	}
	p.logger.Info("cart emptied after checkout", "session", payload.SessionID, "checkout", payload.CheckoutID)
	return nil
}
