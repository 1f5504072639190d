// Package catalog stores products and the cart-level subscription schemes in
// SQLite.
package catalog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/fjod/cartsubs/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

var ErrProductNotFound = errors.New("product not found")

//go:embed migrations/*.sql
var migrations embed.FS

type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) RunMigrations() error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("could not open embedded migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(r.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) ListProducts(ctx context.Context) ([]*domain.Product, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []*domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return products, nil
}

func (r *Repository) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	p, err := scanProduct(r.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

const productColumns = "id, name, type, price_cents, subscription_period, subscription_period_interval, subscription_length"

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(row scanner) (*domain.Product, error) {
	var (
		p        domain.Product
		period   sql.NullString
		interval sql.NullInt64
		length   sql.NullInt64
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Type, &p.PriceCents, &period, &interval, &length); err != nil {
		return nil, err
	}
	if period.Valid {
		p.Billing = &domain.Billing{
			Period:   domain.BillingPeriod(period.String),
			Interval: int(interval.Int64),
			Length:   int(length.Int64),
		}
	}
	return &p, nil
}

// IsNativeSubscription reports whether the product is a subscription type on
// its own, independent of any cart conversion.
func (r *Repository) IsNativeSubscription(ctx context.Context, productID int64) (bool, error) {
	p, err := r.GetProduct(ctx, productID)
	if err != nil {
		return false, err
	}
	return p.Type == domain.SubscriptionProductType, nil
}

// CartSchemes lists the cart-level schemes in display order. The default is
// the first scheme flagged as such, or none.
func (r *Repository) CartSchemes(ctx context.Context) (domain.CartSchemes, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, period, period_interval, length, is_default
		FROM subscription_schemes
		ORDER BY position, id
	`)
	if err != nil {
		return domain.CartSchemes{}, fmt.Errorf("failed to query schemes: %w", err)
	}
	defer rows.Close()

	set := domain.CartSchemes{Default: domain.NoScheme}
	for rows.Next() {
		var (
			s         domain.Scheme
			id        string
			period    string
			isDefault bool
		)
		if err := rows.Scan(&id, &period, &s.Interval, &s.Length, &isDefault); err != nil {
			return domain.CartSchemes{}, fmt.Errorf("failed to scan scheme: %w", err)
		}
		s.ID = domain.SchemeID(id)
		s.Period = domain.BillingPeriod(period)
		if isDefault && !set.Default.IsSet() {
			set.Default = s.ID
		}
		set.Schemes = append(set.Schemes, s)
	}

	if err := rows.Err(); err != nil {
		return domain.CartSchemes{}, fmt.Errorf("row iteration error: %w", err)
	}

	return set, nil
}

// UpsertScheme creates or replaces a cart-level scheme. Marking it default
// clears the flag on every other scheme.
func (r *Repository) UpsertScheme(ctx context.Context, s domain.Scheme, isDefault bool, position int) error {
	if !s.ID.IsSet() || s.ID == domain.OneTimeScheme {
		return fmt.Errorf("invalid scheme id %q", s.ID)
	}
	if !s.Period.Valid() {
		return fmt.Errorf("invalid billing period %q", s.Period)
	}
	if s.Interval < 1 || s.Length < 0 {
		return fmt.Errorf("invalid interval %d or length %d", s.Interval, s.Length)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if isDefault {
		if _, err := tx.ExecContext(ctx, `UPDATE subscription_schemes SET is_default = 0 WHERE id <> ?`, string(s.ID)); err != nil {
			return fmt.Errorf("failed to clear default scheme: %w", err)
		}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO subscription_schemes (id, period, period_interval, length, is_default, position)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			period = excluded.period,
			period_interval = excluded.period_interval,
			length = excluded.length,
			is_default = excluded.is_default,
			position = excluded.position
	`, string(s.ID), string(s.Period), s.Interval, s.Length, isDefault, position)
	if err != nil {
		return fmt.Errorf("failed to upsert scheme: %w", err)
	}
	return tx.Commit()
}
