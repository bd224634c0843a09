package domain

import "time"

// Profile is the data-isolation boundary: one user slice ("Personal",
// "Business"). Profiles are created during onboarding and soft-disabled,
// never deleted.
type Profile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MailAddress string `json:"mail_address"`
	Active      bool   `json:"active"`

	// Sync metadata. Monotonically advanced after each successful phase;
	// the three fields commit as a single row update.
	LastStatementDate  *time.Time `json:"last_statement_date,omitempty"`
	LastSyncDate       *time.Time `json:"last_sync_date,omitempty"`
	StatementCycleDays *int       `json:"statement_cycle_days,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NeedsOnboarding reports whether the profile has never completed a sync.
func (p *Profile) NeedsOnboarding() bool {
	return p.LastSyncDate == nil
}

// StatementDue reports whether a new statement should exist by now, given
// the inferred cycle. Profiles without an inferred cycle are never "due";
// they stay on daily email sync until a statement teaches us the cadence.
func (p *Profile) StatementDue(today time.Time) bool {
	if p.LastStatementDate == nil || p.StatementCycleDays == nil {
		return false
	}
	due := p.LastStatementDate.AddDate(0, 0, *p.StatementCycleDays)
	return !today.Before(due)
}

// SyncMode selects the per-run strategy.
type SyncMode string

const (
	SyncOnboarding SyncMode = "onboarding"
	SyncDaily      SyncMode = "daily"
	SyncMonthly    SyncMode = "monthly"
)

// Mode picks the sync mode for a run starting at today.
func (p *Profile) Mode(today time.Time) SyncMode {
	switch {
	case p.NeedsOnboarding():
		return SyncOnboarding
	case p.StatementDue(today):
		return SyncMonthly
	default:
		return SyncDaily
	}
}

// SyncRunStatus is the terminal state of one sync run.
type SyncRunStatus string

const (
	RunRunning  SyncRunStatus = "running"
	RunOK       SyncRunStatus = "ok"
	RunFailed   SyncRunStatus = "failed"
	RunCanceled SyncRunStatus = "canceled"
)

// SyncRun records one invocation of the sync strategy for one profile.
type SyncRun struct {
	ID         int64         `json:"id"`
	ProfileID  string        `json:"profile_id"`
	Mode       SyncMode      `json:"mode"`
	Status     SyncRunStatus `json:"status"`
	Result     BatchResult   `json:"result"`
	Error      *string       `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}
