package http

import (
	"strconv"

	"finanzas/core/domain"
	"finanzas/core/port/out"
	"finanzas/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// StatementHandler serves bank statements and their reconcile reports.
type StatementHandler struct {
	statements out.StatementRepository
}

func NewStatementHandler(statements out.StatementRepository) *StatementHandler {
	return &StatementHandler{statements: statements}
}

func (h *StatementHandler) Register(router fiber.Router) {
	router.Get("/profiles/:profile_id/statements", h.List)
	router.Get("/profiles/:profile_id/statements/:id", h.Get)
	router.Get("/profiles/:profile_id/statements/:id/report", h.Report)
}

func (h *StatementHandler) List(c *fiber.Ctx) error {
	statements, err := h.statements.ListByProfile(c.Context(), c.Params("profile_id"), clampLimit(c.QueryInt("limit", 24), 24))
	if err != nil {
		return err
	}
	return SuccessResponse(c, fiber.Map{"statements": statements})
}

func (h *StatementHandler) Get(c *fiber.Ctx) error {
	st, err := h.statement(c)
	if err != nil {
		return err
	}
	return SuccessResponse(c, st)
}

// Report returns the latest reconciliation result for the statement.
func (h *StatementHandler) Report(c *fiber.Ctx) error {
	st, err := h.statement(c)
	if err != nil {
		return err
	}

	report, err := h.statements.LatestReport(c.Context(), st.ID)
	if err != nil {
		return err
	}
	if report == nil {
		return apperr.NotFound("reconcile report")
	}
	return SuccessResponse(c, report)
}

func (h *StatementHandler) statement(c *fiber.Ctx) (*domain.BankStatement, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return nil, apperr.Validation("id", "must be an integer")
	}

	st, err := h.statements.GetByID(c.Context(), id)
	if err != nil {
		return nil, err
	}
	if st == nil || st.ProfileID != c.Params("profile_id") {
		return nil, apperr.NotFound("statement")
	}
	return st, nil
}
