package http

import (
	"time"

	"finanzas/core/port/out"
	"finanzas/core/service/recurring"

	"github.com/gofiber/fiber/v2"
)

// SubscriptionHandler serves detected recurring charges and their
// projected-charge alerts.
type SubscriptionHandler struct {
	subscriptions out.SubscriptionRepository
	detector      *recurring.Service

	now func() time.Time
}

func NewSubscriptionHandler(subscriptions out.SubscriptionRepository, detector *recurring.Service) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscriptions: subscriptions,
		detector:      detector,
		now:           time.Now,
	}
}

func (h *SubscriptionHandler) Register(router fiber.Router) {
	router.Get("/profiles/:profile_id/subscriptions", h.List)
	router.Get("/profiles/:profile_id/subscriptions/alerts", h.Alerts)
}

func (h *SubscriptionHandler) List(c *fiber.Ctx) error {
	subs, err := h.subscriptions.ListActive(c.Context(), c.Params("profile_id"))
	if err != nil {
		return err
	}
	return SuccessResponse(c, fiber.Map{"subscriptions": subs})
}

func (h *SubscriptionHandler) Alerts(c *fiber.Ctx) error {
	alerts, err := h.detector.PendingAlerts(c.Context(), c.Params("profile_id"), h.now())
	if err != nil {
		return err
	}
	return SuccessResponse(c, fiber.Map{"alerts": alerts})
}
