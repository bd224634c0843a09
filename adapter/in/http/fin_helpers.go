// Package http exposes the REST API: review queues, feedback, sync
// triggers, statements and their reconcile reports, subscriptions and
// duplicate candidates.
package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// APIResponse is the standard success envelope. Errors go through the
// error-handler middleware instead.
type APIResponse struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

// SuccessResponse sends a standardized JSON success response.
func SuccessResponse(c *fiber.Ctx, data any) error {
	requestID, _ := c.Locals("request_id").(string)
	return c.JSON(APIResponse{
		Success:   true,
		Data:      data,
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// QueryBool parses a boolean query parameter, nil when absent.
func QueryBool(c *fiber.Ctx, key string) *bool {
	val := c.Query(key)
	if val == "" {
		return nil
	}
	b := val == "true" || val == "1"
	return &b
}

// QueryInt64 returns a pointer to an int64 query param, nil when absent.
func QueryInt64(c *fiber.Ctx, key string) *int64 {
	val := c.QueryInt(key, 0)
	if val == 0 {
		return nil
	}
	v := int64(val)
	return &v
}

// QueryDate parses a YYYY-MM-DD query parameter, nil when absent or
// malformed.
func QueryDate(c *fiber.Ctx, key string) *time.Time {
	val := c.Query(key)
	if val == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", val)
	if err != nil {
		return nil
	}
	return &t
}

func clampLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 100 {
		return 100
	}
	return limit
}
