package out

import (
	"context"
	"time"

	"finanzas/core/domain"

	"github.com/shopspring/decimal"
)

// ErrDuplicate is returned by TransactionRepository.Create when the
// (profile_id, email_id) pair already exists. Callers treat it as a silent
// no-op and bump the duplicates counter.
type DuplicateError struct{ EmailID string }

func (e *DuplicateError) Error() string { return "duplicate email_id: " + e.EmailID }

// TransactionRepository persists canonical transactions.
type TransactionRepository interface {
	Create(ctx context.Context, t *domain.Transaction) error
	Update(ctx context.Context, t *domain.Transaction) error
	GetByID(ctx context.Context, id int64) (*domain.Transaction, error)
	GetByEmailID(ctx context.Context, profileID, emailID string) (*domain.Transaction, error)
	List(ctx context.Context, f *domain.TransactionFilter) ([]*domain.Transaction, error)

	// LatestConfirmedByMerchant finds the most recent user-confirmed
	// transaction with the same normalized merchant, for history lookup.
	LatestConfirmedByMerchant(ctx context.Context, profileID string, merchantID int64) (*domain.Transaction, error)

	// MarkReconciled links a transaction to a statement row without touching
	// any other column.
	MarkReconciled(ctx context.Context, id int64, rowID int64, at time.Time) error

	// CategoryStats returns (mean, stddev, n) of local amounts for the
	// profile+subcategory over the trailing window, for anomaly scoring.
	CategoryStats(ctx context.Context, profileID string, subcategoryID int64, since time.Time) (mean, stddev decimal.Decimal, n int, err error)
}

// ProfileRepository persists profiles and their sync metadata.
type ProfileRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Profile, error)
	ListActive(ctx context.Context) ([]*domain.Profile, error)
	Create(ctx context.Context, p *domain.Profile) error

	// CommitSyncMetadata writes last_sync_date, last_statement_date and
	// statement_cycle_days in one statement. Nil fields keep their value.
	CommitSyncMetadata(ctx context.Context, id string, lastSync *time.Time, lastStatement *time.Time, cycleDays *int) error
}

// MerchantRepository persists canonical merchants.
type MerchantRepository interface {
	GetByNormalizedName(ctx context.Context, name string) (*domain.Merchant, error)
	ListAll(ctx context.Context) ([]*domain.Merchant, error)
	Create(ctx context.Context, m *domain.Merchant) error
	AddAlias(ctx context.Context, id int64, alias string) error
}

// CardRepository persists credit cards.
type CardRepository interface {
	GetByLastFour(ctx context.Context, profileID, lastFour string) (*domain.Card, error)
	ListByProfile(ctx context.Context, profileID string) ([]*domain.Card, error)
	AdjustBalance(ctx context.Context, id int64, delta decimal.Decimal) error
}

// PatternRepository persists per-profile learned patterns. Upsert locks the
// (profile_id, pattern_key) row so the feedback triple-write stays atomic.
type PatternRepository interface {
	ListByProfile(ctx context.Context, profileID string) ([]*domain.LearnedPattern, error)
	FindMatching(ctx context.Context, profileID, merchantKey string) (*domain.LearnedPattern, error)
	Upsert(ctx context.Context, p *domain.LearnedPattern) error
}

// SuggestionRepository persists the crowd-sourced overlay.
type SuggestionRepository interface {
	GetByPatternKey(ctx context.Context, key string) (*domain.GlobalSuggestion, error)
	FindUsable(ctx context.Context, merchantKey string) (*domain.GlobalSuggestion, error)
	Upsert(ctx context.Context, s *domain.GlobalSuggestion) error
}

// ContactRepository persists SINPE contacts.
type ContactRepository interface {
	FindByPhone(ctx context.Context, profileID, phone string) (*domain.Contact, error)
	FindByNamePrefix(ctx context.Context, profileID, prefix string) (*domain.Contact, error)
	Upsert(ctx context.Context, c *domain.Contact) error
}

// SubcategoryRepository reads the category tree and its keyword index. The
// index is read-only once loaded.
type SubcategoryRepository interface {
	ListAll(ctx context.Context) ([]*domain.Subcategory, error)
	GetByID(ctx context.Context, id int64) (*domain.Subcategory, error)
}

// StatementRepository persists statements, rows and reconcile reports.
type StatementRepository interface {
	Create(ctx context.Context, s *domain.BankStatement) error
	GetByID(ctx context.Context, id int64) (*domain.BankStatement, error)
	GetByFilename(ctx context.Context, profileID, filename string) (*domain.BankStatement, error)
	ListByProfile(ctx context.Context, profileID string, limit int) ([]*domain.BankStatement, error)
	SaveReport(ctx context.Context, r *domain.ReconcileReport) error
	LatestReport(ctx context.Context, statementID int64) (*domain.ReconcileReport, error)
}

// SubscriptionRepository persists detected recurring charges.
type SubscriptionRepository interface {
	ListActive(ctx context.Context, profileID string) ([]*domain.Subscription, error)
	Upsert(ctx context.Context, s *domain.Subscription) error
	Deactivate(ctx context.Context, id int64) error
}

// RateRepository is the durable tier of the fx cache.
type RateRepository interface {
	Get(ctx context.Context, date time.Time) (*domain.ExchangeRate, error)
	Put(ctx context.Context, r *domain.ExchangeRate) error
}

// SyncRunRepository records run history for the dashboard.
type SyncRunRepository interface {
	Start(ctx context.Context, run *domain.SyncRun) error
	Finish(ctx context.Context, run *domain.SyncRun) error
	ListRecent(ctx context.Context, profileID string, limit int) ([]*domain.SyncRun, error)
}

// DuplicateRepository stores reported fuzzy-duplicate pairs.
type DuplicateRepository interface {
	Save(ctx context.Context, pairs []*domain.DuplicatePair) error
	ListOpen(ctx context.Context, profileID string) ([]*domain.DuplicatePair, error)
}

// UnitOfWork runs fn inside one database transaction. Repositories obtained
// through the callback share that transaction; any error rolls everything
// back.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
