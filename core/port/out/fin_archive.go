package out

import (
	"context"

	"finanzas/core/domain"
)

// RawArchive stores raw sources (message bodies, statement PDFs) so parse
// errors can be sampled and batches reprocessed without refetching.
type RawArchive interface {
	SaveMessage(ctx context.Context, profileID string, msg *domain.RawMessage) error
	GetMessage(ctx context.Context, profileID, messageID string) (*domain.RawMessage, error)
	SavePDF(ctx context.Context, profileID, filename string, data []byte) error
	GetPDF(ctx context.Context, profileID, filename string) ([]byte, error)
}
