package worker

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Handler routes jobs to their processors.
type Handler struct {
	syncProcessor *SyncProcessor
	scanProcessor *ScanProcessor
	log           zerolog.Logger
}

func NewHandler(syncProcessor *SyncProcessor, scanProcessor *ScanProcessor, log zerolog.Logger) *Handler {
	return &Handler{
		syncProcessor: syncProcessor,
		scanProcessor: scanProcessor,
		log:           log.With().Str("component", "dispatcher").Logger(),
	}
}

func (h *Handler) Process(ctx context.Context, msg *Message) error {
	h.log.Debug().Str("job_id", msg.ID).Str("job_type", msg.Type).Msg("processing job")

	switch msg.Type {
	case JobProfileSync:
		return h.syncProcessor.ProcessSync(ctx, msg)
	case JobRecurringScan:
		return h.scanProcessor.ProcessRecurring(ctx, msg)
	case JobAnomalyScan:
		return h.scanProcessor.ProcessAnomaly(ctx, msg)
	case JobDedupScan:
		return h.scanProcessor.ProcessDedup(ctx, msg)
	default:
		h.log.Warn().Str("job_type", msg.Type).Msg("unknown job type")
		return nil
	}
}

func ParsePayload[T any](msg *Message) (*T, error) {
	var payload T
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
