package stream

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Producer publishes jobs for the worker process.
type Producer struct {
	stream *RedisStream
}

func NewProducer(stream *RedisStream) *Producer {
	return &Producer{stream: stream}
}

type Job struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

func newJob(jobType string, payload map[string]any) *Job {
	return &Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// PublishProfileSync queues one sync pass for the profile. Manual marks
// user-triggered syncs, which the worker runs at high priority.
func (p *Producer) PublishProfileSync(ctx context.Context, profileID string, manual bool) (string, error) {
	job := newJob("profile.sync", map[string]any{
		"profile_id": profileID,
		"manual":     manual,
	})
	return p.stream.Publish(ctx, StreamSync, job)
}

// PublishScan queues one of the analysis scans: recurring.scan,
// anomaly.scan or dedup.scan.
func (p *Producer) PublishScan(ctx context.Context, jobType, profileID string, lookbackDays int) (string, error) {
	payload := map[string]any{"profile_id": profileID}
	if lookbackDays > 0 {
		payload["lookback_days"] = lookbackDays
	}
	return p.stream.Publish(ctx, StreamScan, newJob(jobType, payload))
}
