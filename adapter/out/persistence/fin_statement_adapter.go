package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"finanzas/core/domain"
	"finanzas/core/port/out"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// StatementRepository implements out.StatementRepository. Statements and
// their rows persist relationally; reconcile reports keep their match
// detail as one JSON document per run.
type StatementRepository struct {
	db *sqlx.DB
}

func NewStatementRepository(db *sqlx.DB) out.StatementRepository {
	return &StatementRepository{db: db}
}

type statementRow struct {
	ID             int64               `db:"id"`
	ProfileID      string              `db:"profile_id"`
	Bank           string              `db:"bank"`
	Kind           string              `db:"kind"`
	Filename       string              `db:"filename"`
	PeriodStart    time.Time           `db:"period_start"`
	CutDate        time.Time           `db:"cut_date"`
	DueDate        *time.Time          `db:"due_date"`
	CreditLimit    decimal.NullDecimal `db:"credit_limit"`
	MinimumPayment decimal.NullDecimal `db:"minimum_payment"`
	TotalLocal     decimal.Decimal     `db:"total_local"`
	TotalUSD       decimal.Decimal     `db:"total_usd"`
	ReconciledAt   *time.Time          `db:"reconciled_at"`
	CreatedAt      time.Time           `db:"created_at"`
}

func (r statementRow) toDomain() *domain.BankStatement {
	s := &domain.BankStatement{
		ID:           r.ID,
		ProfileID:    r.ProfileID,
		Bank:         domain.Bank(r.Bank),
		Kind:         domain.StatementKind(r.Kind),
		Filename:     r.Filename,
		PeriodStart:  r.PeriodStart,
		CutDate:      r.CutDate,
		DueDate:      r.DueDate,
		TotalLocal:   r.TotalLocal,
		TotalUSD:     r.TotalUSD,
		ReconciledAt: r.ReconciledAt,
		CreatedAt:    r.CreatedAt,
	}
	if r.CreditLimit.Valid {
		s.CreditLimit = &r.CreditLimit.Decimal
	}
	if r.MinimumPayment.Valid {
		s.MinimumPayment = &r.MinimumPayment.Decimal
	}
	return s
}

type stmtRowRow struct {
	ID          int64           `db:"id"`
	StatementID int64           `db:"statement_id"`
	Ordinal     int             `db:"ordinal"`
	Reference   string          `db:"reference"`
	Date        time.Time       `db:"date"`
	Description string          `db:"description"`
	Location    *string         `db:"location"`
	Currency    string          `db:"currency"`
	Amount      decimal.Decimal `db:"amount"`
	Section     string          `db:"section"`
	MatchStatus *string         `db:"match_status"`
}

func (r stmtRowRow) toDomain() domain.StatementRow {
	row := domain.StatementRow{
		ID:          r.ID,
		StatementID: r.StatementID,
		Ordinal:     r.Ordinal,
		Reference:   r.Reference,
		Date:        r.Date,
		Description: r.Description,
		Location:    r.Location,
		Currency:    r.Currency,
		Amount:      r.Amount,
		Section:     domain.StatementSection(r.Section),
	}
	if r.MatchStatus != nil {
		bucket := domain.MatchBucket(*r.MatchStatus)
		row.MatchStatus = &bucket
	}
	return row
}

const statementColumns = `
	id, profile_id, bank, kind, filename, period_start, cut_date, due_date,
	credit_limit, minimum_payment, total_local, total_usd, reconciled_at, created_at`

func (r *StatementRepository) Create(ctx context.Context, s *domain.BankStatement) error {
	query := `
		INSERT INTO bank_statements (
			profile_id, bank, kind, filename, period_start, cut_date, due_date,
			credit_limit, minimum_payment, total_local, total_usd, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		RETURNING id, created_at`

	var creditLimit, minPayment any
	if s.CreditLimit != nil {
		creditLimit = *s.CreditLimit
	}
	if s.MinimumPayment != nil {
		minPayment = *s.MinimumPayment
	}

	q := queryer(ctx, r.db)
	err := q.QueryRowxContext(ctx, query,
		s.ProfileID, s.Bank, s.Kind, s.Filename, s.PeriodStart, s.CutDate, s.DueDate,
		creditLimit, minPayment, s.TotalLocal, s.TotalUSD,
	).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "") {
			return ErrConflict
		}
		return fmt.Errorf("create statement: %w", err)
	}

	rowQuery := `
		INSERT INTO statement_rows (
			statement_id, ordinal, reference, date, description, location,
			currency, amount, section
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	for i := range s.Rows {
		row := &s.Rows[i]
		row.StatementID = s.ID
		if err := q.QueryRowxContext(ctx, rowQuery,
			s.ID, row.Ordinal, row.Reference, row.Date, row.Description, row.Location,
			row.Currency, row.Amount, row.Section,
		).Scan(&row.ID); err != nil {
			return fmt.Errorf("create statement row %d: %w", row.Ordinal, err)
		}
	}
	return nil
}

func (r *StatementRepository) GetByID(ctx context.Context, id int64) (*domain.BankStatement, error) {
	query := `SELECT ` + statementColumns + ` FROM bank_statements WHERE id = $1`

	var row statementRow
	if err := sqlx.GetContext(ctx, queryer(ctx, r.db), &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get statement: %w", err)
	}

	st := row.toDomain()
	if err := r.loadRows(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

func (r *StatementRepository) GetByFilename(ctx context.Context, profileID, filename string) (*domain.BankStatement, error) {
	query := `SELECT ` + statementColumns + ` FROM bank_statements WHERE profile_id = $1 AND filename = $2`

	var row statementRow
	if err := sqlx.GetContext(ctx, queryer(ctx, r.db), &row, query, profileID, filename); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get statement by filename: %w", err)
	}

	st := row.toDomain()
	if err := r.loadRows(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

func (r *StatementRepository) ListByProfile(ctx context.Context, profileID string, limit int) ([]*domain.BankStatement, error) {
	query := `
		SELECT ` + statementColumns + `
		FROM bank_statements
		WHERE profile_id = $1
		ORDER BY cut_date DESC
		LIMIT $2`

	var rows []statementRow
	if err := sqlx.SelectContext(ctx, queryer(ctx, r.db), &rows, query, profileID, limit); err != nil {
		return nil, fmt.Errorf("list statements: %w", err)
	}

	statements := make([]*domain.BankStatement, len(rows))
	for i, row := range rows {
		statements[i] = row.toDomain()
	}
	return statements, nil
}

func (r *StatementRepository) loadRows(ctx context.Context, st *domain.BankStatement) error {
	query := `
		SELECT id, statement_id, ordinal, reference, date, description, location,
		       currency, amount, section, match_status
		FROM statement_rows
		WHERE statement_id = $1
		ORDER BY ordinal`

	var rows []stmtRowRow
	if err := sqlx.SelectContext(ctx, queryer(ctx, r.db), &rows, query, st.ID); err != nil {
		return fmt.Errorf("load statement rows: %w", err)
	}
	st.Rows = make([]domain.StatementRow, len(rows))
	for i, row := range rows {
		st.Rows[i] = row.toDomain()
	}
	return nil
}

// SaveReport persists one reconciliation run: the report document, the
// per-row match status and the statement's reconciled_at stamp.
func (r *StatementRepository) SaveReport(ctx context.Context, report *domain.ReconcileReport) error {
	detail, err := json.Marshal(report.Matches)
	if err != nil {
		return fmt.Errorf("marshal report detail: %w", err)
	}

	q := queryer(ctx, r.db)
	query := `
		INSERT INTO reconcile_reports (
			statement_id, profile_id, total_pdf, total_system, matched_count,
			match_percentage, amount_mismatch_count, only_in_pdf_count,
			only_in_system_count, status, detail, orphan_txn_ids, generated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	orphans, err := json.Marshal(report.OrphanTxnIDs)
	if err != nil {
		return fmt.Errorf("marshal orphan ids: %w", err)
	}

	if _, err := q.ExecContext(ctx, query,
		report.StatementID, report.ProfileID, report.TotalPDF, report.TotalSystem,
		report.MatchedCount, report.MatchPercentage, report.AmountMismatch,
		report.OnlyInPDF, report.OnlyInSystem, report.Status, detail, orphans,
		report.GeneratedAt,
	); err != nil {
		return fmt.Errorf("save report: %w", err)
	}

	rowQuery := `UPDATE statement_rows SET match_status = $2 WHERE id = $1`
	for _, m := range report.Matches {
		if m.Row.ID == 0 {
			continue
		}
		if _, err := q.ExecContext(ctx, rowQuery, m.Row.ID, m.Bucket); err != nil {
			return fmt.Errorf("update row match status: %w", err)
		}
	}

	stamp := `UPDATE bank_statements SET reconciled_at = $2 WHERE id = $1`
	if _, err := q.ExecContext(ctx, stamp, report.StatementID, report.GeneratedAt); err != nil {
		return fmt.Errorf("stamp statement: %w", err)
	}
	return nil
}

func (r *StatementRepository) LatestReport(ctx context.Context, statementID int64) (*domain.ReconcileReport, error) {
	query := `
		SELECT statement_id, profile_id, total_pdf, total_system, matched_count,
		       match_percentage, amount_mismatch_count, only_in_pdf_count,
		       only_in_system_count, status, detail, orphan_txn_ids, generated_at
		FROM reconcile_reports
		WHERE statement_id = $1
		ORDER BY generated_at DESC
		LIMIT 1`

	var row struct {
		StatementID     int64     `db:"statement_id"`
		ProfileID       string    `db:"profile_id"`
		TotalPDF        int       `db:"total_pdf"`
		TotalSystem     int       `db:"total_system"`
		MatchedCount    int       `db:"matched_count"`
		MatchPercentage float64   `db:"match_percentage"`
		AmountMismatch  int       `db:"amount_mismatch_count"`
		OnlyInPDF       int       `db:"only_in_pdf_count"`
		OnlyInSystem    int       `db:"only_in_system_count"`
		Status          string    `db:"status"`
		Detail          []byte    `db:"detail"`
		OrphanTxnIDs    []byte    `db:"orphan_txn_ids"`
		GeneratedAt     time.Time `db:"generated_at"`
	}
	if err := sqlx.GetContext(ctx, queryer(ctx, r.db), &row, query, statementID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest report: %w", err)
	}

	report := &domain.ReconcileReport{
		StatementID:     row.StatementID,
		ProfileID:       row.ProfileID,
		TotalPDF:        row.TotalPDF,
		TotalSystem:     row.TotalSystem,
		MatchedCount:    row.MatchedCount,
		MatchPercentage: row.MatchPercentage,
		AmountMismatch:  row.AmountMismatch,
		OnlyInPDF:       row.OnlyInPDF,
		OnlyInSystem:    row.OnlyInSystem,
		Status:          domain.ReconcileStatus(row.Status),
		GeneratedAt:     row.GeneratedAt,
	}
	if err := json.Unmarshal(row.Detail, &report.Matches); err != nil {
		return nil, fmt.Errorf("unmarshal report detail: %w", err)
	}
	if len(row.OrphanTxnIDs) > 0 {
		if err := json.Unmarshal(row.OrphanTxnIDs, &report.OrphanTxnIDs); err != nil {
			return nil, fmt.Errorf("unmarshal orphan ids: %w", err)
		}
	}
	return report, nil
}
