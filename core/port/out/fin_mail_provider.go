// Package out defines the outbound ports the core services depend on.
package out

import (
	"context"
	"time"

	"finanzas/core/domain"
)

// MailProvider pulls raw messages from the external mail API. Implementations
// retry transient failures and surface auth errors unretried; they never
// parse message bodies.
type MailProvider interface {
	// Fetch returns all messages received since the given instant whose
	// sender is in the allowlist, oldest first.
	Fetch(ctx context.Context, since time.Time, senderAllowlist []string) ([]*domain.RawMessage, error)

	// FetchAttachment downloads one attachment's bytes.
	FetchAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error)
}
