package http

import (
	"finanzas/core/port/out"
	"finanzas/internal/stream"
	"finanzas/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// ProfileHandler serves profile metadata, sync history and the manual sync
// trigger.
type ProfileHandler struct {
	profiles out.ProfileRepository
	runs     out.SyncRunRepository
	producer *stream.Producer
}

func NewProfileHandler(profiles out.ProfileRepository, runs out.SyncRunRepository, producer *stream.Producer) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, runs: runs, producer: producer}
}

func (h *ProfileHandler) Register(router fiber.Router) {
	profiles := router.Group("/profiles")

	profiles.Get("/", h.List)
	profiles.Get("/:profile_id", h.Get)
	profiles.Post("/:profile_id/sync", h.TriggerSync)
	profiles.Get("/:profile_id/runs", h.Runs)
}

func (h *ProfileHandler) List(c *fiber.Ctx) error {
	profiles, err := h.profiles.ListActive(c.Context())
	if err != nil {
		return err
	}
	return SuccessResponse(c, fiber.Map{"profiles": profiles})
}

func (h *ProfileHandler) Get(c *fiber.Ctx) error {
	profile, err := h.profiles.GetByID(c.Context(), c.Params("profile_id"))
	if err != nil {
		return err
	}
	if profile == nil {
		return apperr.NotFound("profile")
	}
	return SuccessResponse(c, profile)
}

// TriggerSync queues a manual sync. The job is durable: it runs even if the
// worker restarts before picking it up.
func (h *ProfileHandler) TriggerSync(c *fiber.Ctx) error {
	profileID := c.Params("profile_id")

	profile, err := h.profiles.GetByID(c.Context(), profileID)
	if err != nil {
		return err
	}
	if profile == nil || !profile.Active {
		return apperr.NotFound("profile")
	}

	jobID, err := h.producer.PublishProfileSync(c.Context(), profileID, true)
	if err != nil {
		return apperr.Transient("queue sync job", err)
	}

	return c.Status(fiber.StatusAccepted).JSON(APIResponse{
		Success: true,
		Data:    fiber.Map{"job_id": jobID, "profile_id": profileID},
	})
}

func (h *ProfileHandler) Runs(c *fiber.Ctx) error {
	runs, err := h.runs.ListRecent(c.Context(), c.Params("profile_id"), clampLimit(c.QueryInt("limit", 20), 20))
	if err != nil {
		return err
	}
	return SuccessResponse(c, fiber.Map{"runs": runs})
}
