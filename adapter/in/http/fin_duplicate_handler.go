package http

import (
	"finanzas/core/port/out"

	"github.com/gofiber/fiber/v2"
)

// DuplicateHandler serves the open fuzzy-duplicate pairs for review.
type DuplicateHandler struct {
	duplicates out.DuplicateRepository
}

func NewDuplicateHandler(duplicates out.DuplicateRepository) *DuplicateHandler {
	return &DuplicateHandler{duplicates: duplicates}
}

func (h *DuplicateHandler) Register(router fiber.Router) {
	router.Get("/profiles/:profile_id/duplicates", h.ListOpen)
}

func (h *DuplicateHandler) ListOpen(c *fiber.Ctx) error {
	pairs, err := h.duplicates.ListOpen(c.Context(), c.Params("profile_id"))
	if err != nil {
		return err
	}
	return SuccessResponse(c, fiber.Map{"duplicates": pairs, "count": len(pairs)})
}
