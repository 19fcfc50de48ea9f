package budget

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) LogSpend(ctx context.Context, entry *SpendEntry) error {
	query := `
		INSERT INTO spend_entries (provider, period, amount)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		entry.Provider, entry.Period, entry.Amount,
	).Scan(&entry.ID, &entry.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to log spend: %w", err)
	}

	return nil
}

func (s *PostgresStore) TotalSpend(ctx context.Context, providerID, period string) (float64, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM spend_entries
		WHERE provider = $1 AND period = $2
	`
	var total float64
	err := s.db.QueryRow(ctx, query, providerID, period).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to get total spend: %w", err)
	}

	return total, nil
}
