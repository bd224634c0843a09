package http

import (
	"strconv"

	"finanzas/core/domain"
	"finanzas/core/port/out"
	"finanzas/core/service/learn"
	"finanzas/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// TransactionHandler serves the transaction list, the review queue, and
// user feedback.
type TransactionHandler struct {
	transactions out.TransactionRepository
	feedback     *learn.Service
}

func NewTransactionHandler(transactions out.TransactionRepository, feedback *learn.Service) *TransactionHandler {
	return &TransactionHandler{transactions: transactions, feedback: feedback}
}

func (h *TransactionHandler) Register(router fiber.Router) {
	txns := router.Group("/profiles/:profile_id/transactions")

	txns.Get("/", h.List)
	txns.Get("/review", h.ReviewQueue)
	txns.Get("/:id", h.Get)
	txns.Post("/:id/feedback", h.Feedback)
}

func (h *TransactionHandler) List(c *fiber.Ctx) error {
	filter := &domain.TransactionFilter{
		ProfileID:     c.Params("profile_id"),
		MerchantID:    QueryInt64(c, "merchant_id"),
		SubcategoryID: QueryInt64(c, "subcategory_id"),
		NeedsReview:   QueryBool(c, "needs_review"),
		DateFrom:      QueryDate(c, "from"),
		DateTo:        QueryDate(c, "to"),
		Limit:         clampLimit(c.QueryInt("limit", 50), 50),
		Offset:        c.QueryInt("offset", 0),
	}
	if status := c.Query("status"); status != "" {
		s := domain.TxnStatus(status)
		filter.Status = &s
	}
	if kind := c.Query("kind"); kind != "" {
		k := domain.TxnKind(kind)
		filter.Kind = &k
	}

	txns, err := h.transactions.List(c.Context(), filter)
	if err != nil {
		return err
	}
	return SuccessResponse(c, fiber.Map{
		"transactions": txns,
		"count":        len(txns),
	})
}

// ReviewQueue lists the transactions waiting for a category decision,
// oldest exposure first comes from the repository ordering.
func (h *TransactionHandler) ReviewQueue(c *fiber.Ctx) error {
	needsReview := true
	txns, err := h.transactions.List(c.Context(), &domain.TransactionFilter{
		ProfileID:   c.Params("profile_id"),
		NeedsReview: &needsReview,
		Limit:       clampLimit(c.QueryInt("limit", 50), 50),
		Offset:      c.QueryInt("offset", 0),
	})
	if err != nil {
		return err
	}
	return SuccessResponse(c, fiber.Map{
		"transactions": txns,
		"count":        len(txns),
	})
}

func (h *TransactionHandler) Get(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return apperr.Validation("id", "must be an integer")
	}

	txn, err := h.transactions.GetByID(c.Context(), id)
	if err != nil {
		return err
	}
	if txn == nil || txn.ProfileID != c.Params("profile_id") {
		return apperr.NotFound("transaction")
	}
	return SuccessResponse(c, txn)
}

type feedbackRequest struct {
	SubcategoryID int64   `json:"subcategory_id"`
	UserLabel     *string `json:"user_label,omitempty"`
}

// Feedback applies a user category decision and feeds the learning loop.
func (h *TransactionHandler) Feedback(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return apperr.Validation("id", "must be an integer")
	}

	var req feedbackRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("body", "malformed JSON")
	}
	if req.SubcategoryID <= 0 {
		return apperr.Validation("subcategory_id", "required")
	}

	txn, err := h.feedback.Apply(c.Context(), c.Params("profile_id"), learn.Feedback{
		TransactionID: id,
		SubcategoryID: req.SubcategoryID,
		UserLabel:     req.UserLabel,
	})
	if err != nil {
		return err
	}
	return SuccessResponse(c, txn)
}
