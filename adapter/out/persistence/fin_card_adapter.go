package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"finanzas/core/domain"
	"finanzas/core/port/out"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// CardRepository implements out.CardRepository.
type CardRepository struct {
	db *sqlx.DB
}

func NewCardRepository(db *sqlx.DB) out.CardRepository {
	return &CardRepository{db: db}
}

type cardRow struct {
	ID          int64           `db:"id"`
	ProfileID   string          `db:"profile_id"`
	Bank        string          `db:"bank"`
	LastFour    string          `db:"last_four"`
	Label       string          `db:"label"`
	Balance     decimal.Decimal `db:"balance"`
	CreditLimit decimal.Decimal `db:"credit_limit"`
	Active      bool            `db:"active"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

func (r cardRow) toDomain() *domain.Card {
	return &domain.Card{
		ID:          r.ID,
		ProfileID:   r.ProfileID,
		Bank:        domain.Bank(r.Bank),
		LastFour:    r.LastFour,
		Label:       r.Label,
		Balance:     r.Balance,
		CreditLimit: r.CreditLimit,
		Active:      r.Active,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

const cardColumns = `
	id, profile_id, bank, last_four, label, balance, credit_limit, active, created_at, updated_at`

func (r *CardRepository) GetByLastFour(ctx context.Context, profileID, lastFour string) (*domain.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM cards WHERE profile_id = $1 AND last_four = $2 AND active`

	var row cardRow
	if err := sqlx.GetContext(ctx, queryer(ctx, r.db), &row, query, profileID, lastFour); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get card: %w", err)
	}
	return row.toDomain(), nil
}

func (r *CardRepository) ListByProfile(ctx context.Context, profileID string) ([]*domain.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM cards WHERE profile_id = $1 ORDER BY id`

	var rows []cardRow
	if err := sqlx.SelectContext(ctx, queryer(ctx, r.db), &rows, query, profileID); err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}

	cards := make([]*domain.Card, len(rows))
	for i, row := range rows {
		cards[i] = row.toDomain()
	}
	return cards, nil
}

func (r *CardRepository) AdjustBalance(ctx context.Context, id int64, delta decimal.Decimal) error {
	query := `UPDATE cards SET balance = balance + $2, updated_at = NOW() WHERE id = $1`

	result, err := queryer(ctx, r.db).ExecContext(ctx, query, id, delta)
	if err != nil {
		return fmt.Errorf("adjust card balance: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
