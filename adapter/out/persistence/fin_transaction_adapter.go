package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"finanzas/core/domain"
	"finanzas/core/port/out"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// TransactionRepository implements out.TransactionRepository.
type TransactionRepository struct {
	db *sqlx.DB
}

func NewTransactionRepository(db *sqlx.DB) out.TransactionRepository {
	return &TransactionRepository{db: db}
}

const transactionColumns = `
	id, email_id, profile_id, bank, card_id, kind, merchant_raw, merchant_id,
	amount_original, currency_original, fx_rate, amount_local, txn_time,
	beneficiary, transfer_memo, subtype, bank_reference, bank_account_iban,
	subcategory_id, category_confidence, category_source, ai_suggestion,
	category_needs_review, category_confirmed_by_user, status,
	is_internal_transfer, exclude_from_budget, is_ambiguous_merchant,
	is_international, is_anomaly, anomaly_score, special_type,
	notes, context, adjustment_reason, reconciled_at, statement_row_id,
	created_at, updated_at`

type transactionRow struct {
	ID               int64               `db:"id"`
	EmailID          string              `db:"email_id"`
	ProfileID        string              `db:"profile_id"`
	Bank             string              `db:"bank"`
	CardID           *int64              `db:"card_id"`
	Kind             string              `db:"kind"`
	MerchantRaw      string              `db:"merchant_raw"`
	MerchantID       *int64              `db:"merchant_id"`
	AmountOriginal   decimal.Decimal     `db:"amount_original"`
	CurrencyOriginal string              `db:"currency_original"`
	FxRate           decimal.NullDecimal `db:"fx_rate"`
	AmountLocal      decimal.Decimal     `db:"amount_local"`
	TxnTime          time.Time           `db:"txn_time"`
	Beneficiary      *string             `db:"beneficiary"`
	TransferMemo     *string             `db:"transfer_memo"`
	Subtype          *string             `db:"subtype"`
	BankReference    *string             `db:"bank_reference"`
	BankAccountIBAN  *string             `db:"bank_account_iban"`
	SubcategoryID    *int64              `db:"subcategory_id"`
	CategoryConfidence int               `db:"category_confidence"`
	CategorySource   *string             `db:"category_source"`
	AISuggestion     *int64              `db:"ai_suggestion"`
	CategoryNeedsReview bool             `db:"category_needs_review"`
	CategoryConfirmedByUser bool         `db:"category_confirmed_by_user"`
	Status           string              `db:"status"`
	IsInternalTransfer bool              `db:"is_internal_transfer"`
	ExcludeFromBudget bool               `db:"exclude_from_budget"`
	IsAmbiguousMerchant bool             `db:"is_ambiguous_merchant"`
	IsInternational  bool                `db:"is_international"`
	IsAnomaly        bool                `db:"is_anomaly"`
	AnomalyScore     *float64            `db:"anomaly_score"`
	SpecialType      *string             `db:"special_type"`
	Notes            *string             `db:"notes"`
	Context          *string             `db:"context"`
	AdjustmentReason *string             `db:"adjustment_reason"`
	ReconciledAt     *time.Time          `db:"reconciled_at"`
	StatementRowID   *int64              `db:"statement_row_id"`
	CreatedAt        time.Time           `db:"created_at"`
	UpdatedAt        time.Time           `db:"updated_at"`
}

func (r transactionRow) toDomain() *domain.Transaction {
	t := &domain.Transaction{
		ID:                      r.ID,
		EmailID:                 r.EmailID,
		ProfileID:               r.ProfileID,
		Bank:                    domain.Bank(r.Bank),
		CardID:                  r.CardID,
		Kind:                    domain.TxnKind(r.Kind),
		MerchantRaw:             r.MerchantRaw,
		MerchantID:              r.MerchantID,
		AmountOriginal:          r.AmountOriginal,
		CurrencyOriginal:        r.CurrencyOriginal,
		AmountLocal:             r.AmountLocal,
		TxnTime:                 r.TxnTime,
		Beneficiary:             r.Beneficiary,
		TransferMemo:            r.TransferMemo,
		Subtype:                 r.Subtype,
		BankReference:           r.BankReference,
		BankAccountIBAN:         r.BankAccountIBAN,
		SubcategoryID:           r.SubcategoryID,
		CategoryConfidence:      r.CategoryConfidence,
		CategorySource:          r.CategorySource,
		AISuggestion:            r.AISuggestion,
		CategoryNeedsReview:     r.CategoryNeedsReview,
		CategoryConfirmedByUser: r.CategoryConfirmedByUser,
		Status:                  domain.TxnStatus(r.Status),
		IsInternalTransfer:      r.IsInternalTransfer,
		ExcludeFromBudget:       r.ExcludeFromBudget,
		IsAmbiguousMerchant:     r.IsAmbiguousMerchant,
		IsInternational:         r.IsInternational,
		IsAnomaly:               r.IsAnomaly,
		AnomalyScore:            r.AnomalyScore,
		SpecialType:             r.SpecialType,
		Notes:                   r.Notes,
		Context:                 r.Context,
		AdjustmentReason:        r.AdjustmentReason,
		ReconciledAt:            r.ReconciledAt,
		StatementRowID:          r.StatementRowID,
		CreatedAt:               r.CreatedAt,
		UpdatedAt:               r.UpdatedAt,
	}
	if r.FxRate.Valid {
		t.FxRate = &r.FxRate.Decimal
	}
	return t
}

func (r *TransactionRepository) Create(ctx context.Context, t *domain.Transaction) error {
	query := `
		INSERT INTO transactions (
			email_id, profile_id, bank, card_id, kind, merchant_raw, merchant_id,
			amount_original, currency_original, fx_rate, amount_local, txn_time,
			beneficiary, transfer_memo, subtype, bank_reference, bank_account_iban,
			subcategory_id, category_confidence, category_source, ai_suggestion,
			category_needs_review, category_confirmed_by_user, status,
			is_internal_transfer, exclude_from_budget, is_ambiguous_merchant,
			is_international, is_anomaly, anomaly_score, special_type,
			notes, context, adjustment_reason, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28,
			$29, $30, $31, $32, $33, $34, NOW(), NOW()
		)
		RETURNING id, created_at, updated_at`

	var fxRate any
	if t.FxRate != nil {
		fxRate = *t.FxRate
	}

	err := queryer(ctx, r.db).QueryRowxContext(ctx, query,
		t.EmailID, t.ProfileID, t.Bank, t.CardID, t.Kind, t.MerchantRaw, t.MerchantID,
		t.AmountOriginal, t.CurrencyOriginal, fxRate, t.AmountLocal, t.TxnTime,
		t.Beneficiary, t.TransferMemo, t.Subtype, t.BankReference, t.BankAccountIBAN,
		t.SubcategoryID, t.CategoryConfidence, t.CategorySource, t.AISuggestion,
		t.CategoryNeedsReview, t.CategoryConfirmedByUser, t.Status,
		t.IsInternalTransfer, t.ExcludeFromBudget, t.IsAmbiguousMerchant,
		t.IsInternational, t.IsAnomaly, t.AnomalyScore, t.SpecialType,
		t.Notes, t.Context, t.AdjustmentReason,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "") {
			return &out.DuplicateError{EmailID: t.EmailID}
		}
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

func (r *TransactionRepository) Update(ctx context.Context, t *domain.Transaction) error {
	query := `
		UPDATE transactions SET
			card_id = $2, merchant_id = $3,
			subcategory_id = $4, category_confidence = $5, category_source = $6,
			ai_suggestion = $7, category_needs_review = $8, category_confirmed_by_user = $9,
			status = $10, is_internal_transfer = $11, exclude_from_budget = $12,
			is_ambiguous_merchant = $13, is_anomaly = $14, anomaly_score = $15,
			special_type = $16, notes = $17, context = $18, adjustment_reason = $19,
			updated_at = NOW()
		WHERE id = $1`

	result, err := queryer(ctx, r.db).ExecContext(ctx, query,
		t.ID, t.CardID, t.MerchantID,
		t.SubcategoryID, t.CategoryConfidence, t.CategorySource,
		t.AISuggestion, t.CategoryNeedsReview, t.CategoryConfirmedByUser,
		t.Status, t.IsInternalTransfer, t.ExcludeFromBudget,
		t.IsAmbiguousMerchant, t.IsAnomaly, t.AnomalyScore,
		t.SpecialType, t.Notes, t.Context, t.AdjustmentReason,
	)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id int64) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	var row transactionRow
	if err := sqlx.GetContext(ctx, queryer(ctx, r.db), &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return row.toDomain(), nil
}

func (r *TransactionRepository) GetByEmailID(ctx context.Context, profileID, emailID string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE profile_id = $1 AND email_id = $2`

	var row transactionRow
	if err := sqlx.GetContext(ctx, queryer(ctx, r.db), &row, query, profileID, emailID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get transaction by email id: %w", err)
	}
	return row.toDomain(), nil
}

func (r *TransactionRepository) List(ctx context.Context, f *domain.TransactionFilter) ([]*domain.Transaction, error) {
	conditions := []string{"profile_id = $1"}
	args := []any{f.ProfileID}
	argIdx := 2

	add := func(cond string, val any) {
		conditions = append(conditions, fmt.Sprintf(cond, argIdx))
		args = append(args, val)
		argIdx++
	}

	if f.MerchantID != nil {
		add("merchant_id = $%d", *f.MerchantID)
	}
	if f.SubcategoryID != nil {
		add("subcategory_id = $%d", *f.SubcategoryID)
	}
	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	if f.Kind != nil {
		add("kind = $%d", *f.Kind)
	}
	if f.NeedsReview != nil {
		add("category_needs_review = $%d", *f.NeedsReview)
	}
	if f.DateFrom != nil {
		add("txn_time >= $%d", *f.DateFrom)
	}
	if f.DateTo != nil {
		add("txn_time <= $%d", *f.DateTo)
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` +
		strings.Join(conditions, " AND ") + ` ORDER BY txn_time DESC, id DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", f.Limit, f.Offset)
	}

	var rows []transactionRow
	if err := sqlx.SelectContext(ctx, queryer(ctx, r.db), &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	txns := make([]*domain.Transaction, len(rows))
	for i, row := range rows {
		txns[i] = row.toDomain()
	}
	return txns, nil
}

func (r *TransactionRepository) LatestConfirmedByMerchant(ctx context.Context, profileID string, merchantID int64) (*domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE profile_id = $1 AND merchant_id = $2
		  AND category_confirmed_by_user AND subcategory_id IS NOT NULL
		ORDER BY txn_time DESC
		LIMIT 1`

	var row transactionRow
	if err := sqlx.GetContext(ctx, queryer(ctx, r.db), &row, query, profileID, merchantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest confirmed by merchant: %w", err)
	}
	return row.toDomain(), nil
}

func (r *TransactionRepository) MarkReconciled(ctx context.Context, id, rowID int64, at time.Time) error {
	query := `
		UPDATE transactions
		SET status = $2, statement_row_id = $3, reconciled_at = $4, updated_at = NOW()
		WHERE id = $1`

	if _, err := queryer(ctx, r.db).ExecContext(ctx, query, id, domain.StatusReconciled, rowID, at); err != nil {
		return fmt.Errorf("mark reconciled: %w", err)
	}
	return nil
}

func (r *TransactionRepository) CategoryStats(ctx context.Context, profileID string, subcategoryID int64, since time.Time) (mean, stddev decimal.Decimal, n int, err error) {
	query := `
		SELECT COALESCE(AVG(amount_local), 0) AS mean,
		       COALESCE(STDDEV_POP(amount_local), 0) AS stddev,
		       COUNT(*) AS n
		FROM transactions
		WHERE profile_id = $1 AND subcategory_id = $2 AND txn_time >= $3
		  AND NOT is_internal_transfer`

	var row struct {
		Mean   decimal.Decimal `db:"mean"`
		Stddev decimal.Decimal `db:"stddev"`
		N      int             `db:"n"`
	}
	if err := sqlx.GetContext(ctx, queryer(ctx, r.db), &row, query, profileID, subcategoryID, since); err != nil {
		return decimal.Zero, decimal.Zero, 0, fmt.Errorf("category stats: %w", err)
	}
	return row.Mean, row.Stddev, row.N, nil
}
