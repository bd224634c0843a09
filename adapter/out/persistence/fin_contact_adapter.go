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

// ContactRepository implements out.ContactRepository.
type ContactRepository struct {
	db *sqlx.DB
}

func NewContactRepository(db *sqlx.DB) out.ContactRepository {
	return &ContactRepository{db: db}
}

type contactRow struct {
	ID                 int64           `db:"id"`
	ProfileID          string          `db:"profile_id"`
	Phone              *string         `db:"phone"`
	NamePrefix         string          `db:"name_prefix"`
	DisplayName        string          `db:"display_name"`
	DefaultSubcategory *int64          `db:"default_subcategory_id"`
	TotalTransactions  int             `db:"total_transactions"`
	TotalAmount        decimal.Decimal `db:"total_amount"`
	LastTransactionAt  *time.Time      `db:"last_transaction_at"`
	CreatedAt          time.Time       `db:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at"`
}

func (r contactRow) toDomain() *domain.Contact {
	return &domain.Contact{
		ID:                 r.ID,
		ProfileID:          r.ProfileID,
		Phone:              r.Phone,
		NamePrefix:         r.NamePrefix,
		DisplayName:        r.DisplayName,
		DefaultSubcategory: r.DefaultSubcategory,
		TotalTransactions:  r.TotalTransactions,
		TotalAmount:        r.TotalAmount,
		LastTransactionAt:  r.LastTransactionAt,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

const contactColumns = `
	id, profile_id, phone, name_prefix, display_name, default_subcategory_id,
	total_transactions, total_amount, last_transaction_at, created_at, updated_at`

func (r *ContactRepository) FindByPhone(ctx context.Context, profileID, phone string) (*domain.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM sinpe_contacts WHERE profile_id = $1 AND phone = $2`

	var row contactRow
	if err := sqlx.GetContext(ctx, queryer(ctx, r.db), &row, query, profileID, phone); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find contact by phone: %w", err)
	}
	return row.toDomain(), nil
}

func (r *ContactRepository) FindByNamePrefix(ctx context.Context, profileID, prefix string) (*domain.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM sinpe_contacts WHERE profile_id = $1 AND name_prefix = $2`

	var row contactRow
	if err := sqlx.GetContext(ctx, queryer(ctx, r.db), &row, query, profileID, prefix); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find contact by name: %w", err)
	}
	return row.toDomain(), nil
}

func (r *ContactRepository) Upsert(ctx context.Context, c *domain.Contact) error {
	if c.ID != 0 {
		query := `
			UPDATE sinpe_contacts SET
				phone = $2, name_prefix = $3, display_name = $4,
				default_subcategory_id = $5, total_transactions = $6,
				total_amount = $7, last_transaction_at = $8, updated_at = NOW()
			WHERE id = $1`
		if _, err := queryer(ctx, r.db).ExecContext(ctx, query,
			c.ID, c.Phone, c.NamePrefix, c.DisplayName,
			c.DefaultSubcategory, c.TotalTransactions, c.TotalAmount, c.LastTransactionAt,
		); err != nil {
			return fmt.Errorf("update contact: %w", err)
		}
		return nil
	}

	query := `
		INSERT INTO sinpe_contacts (
			profile_id, phone, name_prefix, display_name, default_subcategory_id,
			total_transactions, total_amount, last_transaction_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING id`

	err := queryer(ctx, r.db).QueryRowxContext(ctx, query,
		c.ProfileID, c.Phone, c.NamePrefix, c.DisplayName, c.DefaultSubcategory,
		c.TotalTransactions, c.TotalAmount, c.LastTransactionAt,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("create contact: %w", err)
	}
	return nil
}
