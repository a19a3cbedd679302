package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/vuongtran/cardetl/internal/core/domain"
)

// insertChunk bounds a multi-row insert: 10 columns per row keeps us
// well under the 65535 bind-parameter limit.
const insertChunk = 1000

// PriceSink publishes flattened price rows keyed by date.
type PriceSink struct {
	db *DB
}

// NewPriceSink creates a sink over an open connection.
func NewPriceSink(db *DB) *PriceSink {
	return &PriceSink{db: db}
}

// ExistingCount returns how many rows the warehouse already holds for
// a unit's date.
func (s *PriceSink) ExistingCount(ctx context.Context, unit domain.Unit) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count,
		"SELECT count(*) FROM card_prices WHERE price_date = $1", string(unit))
	if err != nil {
		return 0, classifySinkError(fmt.Errorf("counting existing rows for %s: %w", unit, err))
	}
	return count, nil
}

// ReplaceUnit atomically swaps the unit's rows: delete the date, bulk
// insert, one transaction. Re-running it converges to the same state.
func (s *PriceSink) ReplaceUnit(ctx context.Context, unit domain.Unit, rows []domain.PriceRow) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classifySinkError(fmt.Errorf("starting replace tx for %s: %w", unit, err))
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM card_prices WHERE price_date = $1", string(unit)); err != nil {
		return classifySinkError(fmt.Errorf("deleting rows for %s: %w", unit, err))
	}

	for start := 0; start < len(rows); start += insertChunk {
		end := min(start+insertChunk, len(rows))
		if _, err := tx.NamedExecContext(ctx, insertStmt, rows[start:end]); err != nil {
			return classifySinkError(fmt.Errorf("inserting rows for %s: %w", unit, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return classifySinkError(fmt.Errorf("committing rows for %s: %w", unit, err))
	}
	return nil
}

var insertStmt = `INSERT INTO card_prices
	(price_date, product_id, sub_type_name, market_price, low_price, mid_price, high_price, direct_low_price, category_id, group_id)
	VALUES (:price_date, :product_id, :sub_type_name, :market_price, :low_price, :mid_price, :high_price, :direct_low_price, :category_id, :group_id)`

// classifySinkError maps driver errors onto the run's taxonomy:
// credential problems halt the run, everything else is left to the
// retry policy's default classification.
func classifySinkError(err error) error {
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "password authentication failed") ||
		strings.Contains(s, "credential") {
		return &domain.AuthError{Err: err}
	}
	return err
}
