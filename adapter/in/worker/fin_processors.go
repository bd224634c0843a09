package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"finanzas/core/domain"
	"finanzas/core/port/out"
	"finanzas/core/service/anomaly"
	"finanzas/core/service/dedup"
	"finanzas/core/service/recurring"
	"finanzas/core/service/sync"
	"finanzas/pkg/cache"

	"github.com/rs/zerolog"
)

const defaultScanLookbackDays = 90

// SyncProcessor runs profile sync jobs.
type SyncProcessor struct {
	syncs      *sync.Service
	aggregates *cache.RedisCache
	log        zerolog.Logger
}

func NewSyncProcessor(syncs *sync.Service, aggregates *cache.RedisCache, log zerolog.Logger) *SyncProcessor {
	return &SyncProcessor{
		syncs:      syncs,
		aggregates: aggregates,
		log:        log.With().Str("processor", "sync").Logger(),
	}
}

func (p *SyncProcessor) ProcessSync(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[ProfileSyncPayload](msg)
	if err != nil {
		return fmt.Errorf("parse sync payload: %w", err)
	}

	run, err := p.syncs.SyncProfile(ctx, payload.ProfileID)
	if err != nil {
		// Another worker already holds this profile; the job is done, not
		// failed.
		if errors.Is(err, sync.ErrSyncInProgress) {
			p.log.Debug().Str("profile_id", payload.ProfileID).Msg("sync already running, skipping")
			return nil
		}
		return err
	}

	// Rollup caches are stale the moment new rows land.
	if p.aggregates != nil && run.Result.Processed > 0 {
		if err := p.aggregates.InvalidateProfile(ctx, payload.ProfileID); err != nil {
			p.log.Warn().Err(err).Str("profile_id", payload.ProfileID).Msg("aggregate cache invalidation failed")
		}
	}

	p.log.Info().
		Str("profile_id", payload.ProfileID).
		Str("mode", string(run.Mode)).
		Int("processed", run.Result.Processed).
		Int("duplicates", run.Result.Duplicates).
		Int("needs_review", run.Result.NeedsReview).
		Msg("profile sync finished")
	return nil
}

// ScanProcessor runs the offline analysis jobs over already-ingested
// transactions.
type ScanProcessor struct {
	recurring    *recurring.Service
	anomalies    *anomaly.Service
	transactions out.TransactionRepository
	duplicates   out.DuplicateRepository
	log          zerolog.Logger

	now func() time.Time
}

func NewScanProcessor(
	recurringSvc *recurring.Service,
	anomalies *anomaly.Service,
	transactions out.TransactionRepository,
	duplicates out.DuplicateRepository,
	log zerolog.Logger,
) *ScanProcessor {
	return &ScanProcessor{
		recurring:    recurringSvc,
		anomalies:    anomalies,
		transactions: transactions,
		duplicates:   duplicates,
		log:          log.With().Str("processor", "scan").Logger(),
		now:          time.Now,
	}
}

func (p *ScanProcessor) ProcessRecurring(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[ScanPayload](msg)
	if err != nil {
		return fmt.Errorf("parse scan payload: %w", err)
	}

	subs, err := p.recurring.Scan(ctx, payload.ProfileID, p.now())
	if err != nil {
		return err
	}

	p.log.Info().
		Str("profile_id", payload.ProfileID).
		Int("subscriptions", len(subs)).
		Msg("recurring scan finished")
	return nil
}

func (p *ScanProcessor) ProcessAnomaly(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[ScanPayload](msg)
	if err != nil {
		return fmt.Errorf("parse scan payload: %w", err)
	}

	changed, err := p.anomalies.Scan(ctx, payload.ProfileID, p.since(payload))
	if err != nil {
		return err
	}

	p.log.Info().
		Str("profile_id", payload.ProfileID).
		Int("changed", changed).
		Msg("anomaly scan finished")
	return nil
}

func (p *ScanProcessor) ProcessDedup(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[ScanPayload](msg)
	if err != nil {
		return fmt.Errorf("parse scan payload: %w", err)
	}

	since := p.since(payload)
	txns, err := p.transactions.List(ctx, &domain.TransactionFilter{
		ProfileID: payload.ProfileID,
		DateFrom:  &since,
	})
	if err != nil {
		return fmt.Errorf("list transactions: %w", err)
	}

	pairs := dedup.FindDuplicates(txns)
	if len(pairs) > 0 {
		if err := p.duplicates.Save(ctx, pairs); err != nil {
			return fmt.Errorf("save duplicate pairs: %w", err)
		}
	}

	p.log.Info().
		Str("profile_id", payload.ProfileID).
		Int("scanned", len(txns)).
		Int("pairs", len(pairs)).
		Msg("dedup scan finished")
	return nil
}

func (p *ScanProcessor) since(payload *ScanPayload) time.Time {
	days := payload.LookbackDays
	if days <= 0 {
		days = defaultScanLookbackDays
	}
	return p.now().AddDate(0, 0, -days)
}
