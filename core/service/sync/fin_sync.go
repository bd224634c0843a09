package sync

import (
	"context"
	"errors"
	"sort"
	stdsync "sync"
	"time"

	"finanzas/core/domain"
	"finanzas/core/port/out"
	"finanzas/core/service/reconcile"
	"finanzas/pkg/apperr"
	"finanzas/pkg/logger"
)

// StatementParser extracts statements from PDF bytes. Satisfied by
// statement.Parser.
type StatementParser interface {
	ParseCreditCard(data []byte, filename string) (*domain.BankStatement, error)
	ParseDeposit(ctx context.Context, llm out.LLM, data []byte, filename string) (*domain.BankStatement, error)
}

// ErrSyncInProgress is returned when a profile already has a running sync.
// The caller drops the request; the running sync will cover the same window.
var ErrSyncInProgress = errors.New("sync already in progress for profile")

// Config tunes the sync strategy.
type Config struct {
	// SenderAllowlist is the set of bank sender addresses to fetch from.
	SenderAllowlist []string
	// TraslapeDays is the overlap window around statement periods; duplicate
	// ingestion inside it is absorbed by content-addressed identity.
	TraslapeDays int
	// OnboardingDays is how far back the first sync looks for statements.
	OnboardingDays int
}

// DefaultConfig matches the BAC statement cadence.
func DefaultConfig(allowlist []string) Config {
	return Config{SenderAllowlist: allowlist, TraslapeDays: 5, OnboardingDays: 90}
}

// Service runs one sync per profile at a time. Mode selection, the pipeline
// and the final metadata commit live here; fetching and parsing are
// delegated.
type Service struct {
	cfg        Config
	profiles   out.ProfileRepository
	mail       out.MailProvider
	pipeline   *Pipeline
	statements out.StatementRepository
	stmtParser StatementParser
	reconciler *reconcile.Service
	runs       out.SyncRunRepository
	llm        out.LLM
	archive    out.RawArchive
	log        *logger.Logger

	now func() time.Time

	mu      stdsync.Mutex
	running map[string]bool
}

func NewService(
	cfg Config,
	profiles out.ProfileRepository,
	mail out.MailProvider,
	pipeline *Pipeline,
	statements out.StatementRepository,
	stmtParser StatementParser,
	reconciler *reconcile.Service,
	runs out.SyncRunRepository,
	llm out.LLM,
	archive out.RawArchive,
	log *logger.Logger,
) *Service {
	if log == nil {
		log = logger.Default()
	}
	return &Service{
		cfg:        cfg,
		profiles:   profiles,
		mail:       mail,
		pipeline:   pipeline,
		statements: statements,
		stmtParser: stmtParser,
		reconciler: reconciler,
		runs:       runs,
		llm:        llm,
		archive:    archive,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
		running:    make(map[string]bool),
	}
}

// SyncProfile runs one full sync for the profile. Exactly one sync runs per
// profile at a time; concurrent calls get ErrSyncInProgress.
func (s *Service) SyncProfile(ctx context.Context, profileID string) (*domain.SyncRun, error) {
	if !s.acquire(profileID) {
		return nil, ErrSyncInProgress
	}
	defer s.release(profileID)

	profile, err := s.profiles.GetByID(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if profile == nil || !profile.Active {
		return nil, apperr.Validation("profile_id", "unknown or inactive profile")
	}

	today := s.now()
	mode := profile.Mode(today)
	run := &domain.SyncRun{
		ProfileID: profileID,
		Mode:      mode,
		Status:    domain.RunRunning,
		StartedAt: today,
	}
	if err := s.runs.Start(ctx, run); err != nil {
		return nil, err
	}

	result, lastStatement, cycleDays, err := s.runMode(ctx, profile, mode, today)
	run.Result = result
	finished := s.now()
	run.FinishedAt = &finished

	if err != nil {
		run.Status = domain.RunFailed
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			run.Status = domain.RunCanceled
		}
		msg := err.Error()
		run.Error = &msg
		if ferr := s.runs.Finish(ctx, run); ferr != nil {
			s.log.WithError(ferr).WithProfile(profileID).Warn("sync: run record not finalized")
		}
		return run, err
	}

	// One row update; last_sync_date only ever moves forward.
	if err := s.profiles.CommitSyncMetadata(ctx, profileID, &today, lastStatement, cycleDays); err != nil {
		run.Status = domain.RunFailed
		msg := err.Error()
		run.Error = &msg
		_ = s.runs.Finish(ctx, run)
		return run, err
	}

	run.Status = domain.RunOK
	if err := s.runs.Finish(ctx, run); err != nil {
		s.log.WithError(err).WithProfile(profileID).Warn("sync: run record not finalized")
	}

	s.log.WithProfile(profileID).Info("sync: %s done, processed=%d duplicates=%d errors=%d review=%d",
		mode, result.Processed, result.Duplicates, result.Errors, result.NeedsReview)
	return run, nil
}

func (s *Service) runMode(ctx context.Context, profile *domain.Profile, mode domain.SyncMode, today time.Time) (domain.BatchResult, *time.Time, *int, error) {
	switch mode {
	case domain.SyncOnboarding:
		return s.runOnboarding(ctx, profile, today)
	case domain.SyncMonthly:
		return s.runMonthly(ctx, profile)
	default:
		return s.runDaily(ctx, profile)
	}
}

// runDaily ingests everything received since the last sync.
func (s *Service) runDaily(ctx context.Context, profile *domain.Profile) (domain.BatchResult, *time.Time, *int, error) {
	msgs, err := s.mail.Fetch(ctx, *profile.LastSyncDate, s.cfg.SenderAllowlist)
	if err != nil {
		return domain.BatchResult{}, nil, nil, err
	}
	result, err := s.pipeline.IngestMessages(ctx, profile.ID, emailOnly(msgs))
	return result, nil, nil, err
}

// emailOnly drops statement-carrier messages; a mail with a PDF attachment
// is never itself a transaction notification.
func emailOnly(msgs []*domain.RawMessage) []*domain.RawMessage {
	var kept []*domain.RawMessage
	for _, m := range msgs {
		carrier := false
		for _, att := range m.Attachments {
			if att.IsPDF() {
				carrier = true
				break
			}
		}
		if !carrier {
			kept = append(kept, m)
		}
	}
	return kept
}

// runOnboarding bootstraps a fresh profile: statements from the lookback
// window seed history, the newest statement's rows become transactions, the
// statement cadence is inferred, and emails from the last cut onward
// gap-fill to today.
func (s *Service) runOnboarding(ctx context.Context, profile *domain.Profile, today time.Time) (domain.BatchResult, *time.Time, *int, error) {
	var result domain.BatchResult

	since := today.AddDate(0, 0, -s.cfg.OnboardingDays)
	msgs, err := s.mail.Fetch(ctx, since, s.cfg.SenderAllowlist)
	if err != nil {
		return result, nil, nil, err
	}

	statements, err := s.collectStatements(ctx, profile, msgs, &result)
	if err != nil {
		return result, nil, nil, err
	}

	if len(statements) == 0 {
		// No statements in the window; ingest the whole email history.
		r, err := s.pipeline.IngestMessages(ctx, profile.ID, emailOnly(msgs))
		result.Merge(r)
		return result, nil, nil, err
	}

	sort.Slice(statements, func(i, j int) bool {
		return statements[i].CutDate.Before(statements[j].CutDate)
	})
	latest := statements[len(statements)-1]

	r, err := s.pipeline.IngestStatementRows(ctx, profile.ID, latest, latest.Rows)
	result.Merge(r)
	if err != nil {
		return result, nil, nil, err
	}

	// Emails from the cut (minus overlap) to today close the gap. Anything
	// double-covered by the statement dedups on identity.
	gapStart := latest.CutDate.AddDate(0, 0, -s.cfg.TraslapeDays)
	var recent []*domain.RawMessage
	for _, m := range emailOnly(msgs) {
		if !m.ReceivedAt.Before(gapStart) {
			recent = append(recent, m)
		}
	}
	r, err = s.pipeline.IngestMessages(ctx, profile.ID, recent)
	result.Merge(r)
	if err != nil {
		return result, nil, nil, err
	}

	cut := latest.CutDate
	return result, &cut, inferCycle(statements), nil
}

// runMonthly is a daily run that also expects a new statement. When the
// statement has not arrived yet the run degrades to daily and the next
// scheduled sync tries again.
func (s *Service) runMonthly(ctx context.Context, profile *domain.Profile) (domain.BatchResult, *time.Time, *int, error) {
	var result domain.BatchResult

	msgs, err := s.mail.Fetch(ctx, *profile.LastSyncDate, s.cfg.SenderAllowlist)
	if err != nil {
		return result, nil, nil, err
	}

	statements, err := s.collectStatements(ctx, profile, msgs, &result)
	if err != nil {
		return result, nil, nil, err
	}

	r, err := s.pipeline.IngestMessages(ctx, profile.ID, emailOnly(msgs))
	result.Merge(r)
	if err != nil {
		return result, nil, nil, err
	}

	if len(statements) == 0 {
		s.log.WithProfile(profile.ID).Info("sync: statement due but not yet received, staying on daily")
		return result, nil, nil, nil
	}

	sort.Slice(statements, func(i, j int) bool {
		return statements[i].CutDate.Before(statements[j].CutDate)
	})
	latest := statements[len(statements)-1]

	for _, st := range statements {
		report, err := s.reconciler.Reconcile(ctx, st, s.cfg.TraslapeDays)
		if err != nil {
			return result, nil, nil, err
		}
		var onlyInPDF []domain.StatementRow
		for _, m := range report.Matches {
			if m.Bucket == domain.BucketOnlyInPDF {
				onlyInPDF = append(onlyInPDF, m.Row)
			}
		}
		r, err := s.pipeline.IngestStatementRows(ctx, profile.ID, st, onlyInPDF)
		result.Merge(r)
		if err != nil {
			return result, nil, nil, err
		}
	}

	cut := latest.CutDate
	var cycle *int
	if profile.LastStatementDate != nil {
		days := int(cut.Sub(*profile.LastStatementDate).Hours() / 24)
		if days > 0 {
			cycle = &days
		}
	}
	return result, &cut, cycle, nil
}

// collectStatements finds statement PDFs in the batch, parses and persists
// the new ones. Unparseable PDFs count as errors; already-known filenames
// are silently skipped.
func (s *Service) collectStatements(ctx context.Context, profile *domain.Profile, msgs []*domain.RawMessage, result *domain.BatchResult) ([]*domain.BankStatement, error) {
	var found []*domain.BankStatement
	for _, msg := range msgs {
		for _, att := range msg.Attachments {
			if !att.IsPDF() {
				continue
			}
			st, err := s.processStatement(ctx, profile, msg.ID, att)
			if err != nil {
				if apperr.Skippable(err) {
					result.Errors++
					s.log.WithError(err).WithProfile(profile.ID).Warn("sync: statement %s skipped", att.Filename)
					continue
				}
				return nil, err
			}
			if st != nil {
				found = append(found, st)
			}
		}
	}
	return found, nil
}

func (s *Service) processStatement(ctx context.Context, profile *domain.Profile, messageID string, att domain.RawAttachment) (*domain.BankStatement, error) {
	existing, err := s.statements.GetByFilename(ctx, profile.ID, att.Filename)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, nil
	}

	data, err := s.mail.FetchAttachment(ctx, messageID, att.ID)
	if err != nil {
		return nil, err
	}
	if s.archive != nil {
		if err := s.archive.SavePDF(ctx, profile.ID, att.Filename, data); err != nil {
			s.log.WithError(err).WithProfile(profile.ID).Warn("sync: pdf archive write failed for %s", att.Filename)
		}
	}

	st, err := s.stmtParser.ParseCreditCard(data, att.Filename)
	if err != nil {
		if !apperr.IsCode(err, apperr.CodeParseSkip) || s.llm == nil {
			return nil, err
		}
		// Not the credit-card grid; try the deposit layout.
		st, err = s.stmtParser.ParseDeposit(ctx, s.llm, data, att.Filename)
		if err != nil {
			return nil, err
		}
	}

	st.ProfileID = profile.ID
	if err := s.statements.Create(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// inferCycle derives the statement cadence from the gap between the two
// most recent cut dates. One statement is not enough to infer anything.
func inferCycle(statements []*domain.BankStatement) *int {
	if len(statements) < 2 {
		return nil
	}
	a := statements[len(statements)-2].CutDate
	b := statements[len(statements)-1].CutDate
	days := int(b.Sub(a).Hours() / 24)
	if days <= 0 {
		return nil
	}
	return &days
}

func (s *Service) acquire(profileID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[profileID] {
		return false
	}
	s.running[profileID] = true
	return true
}

func (s *Service) release(profileID string) {
	s.mu.Lock()
	delete(s.running, profileID)
	s.mu.Unlock()
}
