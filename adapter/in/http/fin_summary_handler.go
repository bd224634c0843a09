package http

import (
	"fmt"
	"time"

	"finanzas/core/domain"
	"finanzas/core/port/out"
	"finanzas/pkg/cache"
	"finanzas/pkg/logger"

	"github.com/gofiber/fiber/v2"
)

// summaryTTL caps staleness between the periodic invalidation after each
// sync run and an explicit cache flush.
const summaryTTL = 15 * time.Minute

// SummaryHandler serves per-profile spend rollups, cache-aside over redis.
type SummaryHandler struct {
	analytics out.AnalyticsRepository
	cache     *cache.RedisCache
	log       *logger.Logger

	now func() time.Time
}

func NewSummaryHandler(analytics out.AnalyticsRepository, redisCache *cache.RedisCache, log *logger.Logger) *SummaryHandler {
	if log == nil {
		log = logger.Default()
	}
	return &SummaryHandler{
		analytics: analytics,
		cache:     redisCache,
		log:       log,
		now:       time.Now,
	}
}

func (h *SummaryHandler) Register(router fiber.Router) {
	router.Get("/profiles/:profile_id/summary", h.Summary)
}

// Summary aggregates [from, to); defaults to the current calendar month.
func (h *SummaryHandler) Summary(c *fiber.Ctx) error {
	profileID := c.Params("profile_id")

	from, to := h.defaultPeriod()
	if v := QueryDate(c, "from"); v != nil {
		from = *v
	}
	if v := QueryDate(c, "to"); v != nil {
		to = *v
	}

	key := fmt.Sprintf("agg:%s:summary:%s:%s", profileID, from.Format("2006-01-02"), to.Format("2006-01-02"))
	if h.cache != nil {
		var cached domain.SpendSummary
		hit, err := h.cache.GetJSON(c.Context(), key, &cached)
		if err != nil {
			h.log.WithError(err).WithProfile(profileID).Warn("summary cache read failed")
		}
		if hit {
			return SuccessResponse(c, &cached)
		}
	}

	summary, err := h.analytics.SpendSummary(c.Context(), profileID, from, to)
	if err != nil {
		return err
	}

	if h.cache != nil {
		if err := h.cache.SetJSON(c.Context(), key, summary, summaryTTL); err != nil {
			h.log.WithError(err).WithProfile(profileID).Warn("summary cache write failed")
		}
	}
	return SuccessResponse(c, summary)
}

func (h *SummaryHandler) defaultPeriod() (time.Time, time.Time) {
	now := h.now().UTC()
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 1, 0)
}
