package worker

import (
	"time"

	"github.com/google/uuid"
)

// Priority levels for job scheduling.
type Priority int

const (
	PriorityLow      Priority = 0
	PriorityNormal   Priority = 1
	PriorityHigh     Priority = 2
	PriorityCritical Priority = 3
)

// JobType represents the type of a job.
type JobType = string

const (
	// Sync jobs
	JobProfileSync JobType = "profile.sync"

	// Analysis jobs
	JobRecurringScan JobType = "recurring.scan"
	JobAnomalyScan   JobType = "anomaly.scan"
	JobDedupScan     JobType = "dedup.scan"
)

type Message struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Priority  Priority       `json:"priority"`
	CreatedAt time.Time      `json:"created_at"`
	Retries   int            `json:"retries"`
}

func NewMessage(jobType string, payload map[string]any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   payload,
		Priority:  PriorityNormal,
		CreatedAt: time.Now(),
	}
}

// NewPriorityMessage creates a message with specific priority.
func NewPriorityMessage(jobType string, payload map[string]any, priority Priority) *Message {
	m := NewMessage(jobType, payload)
	m.Priority = priority
	return m
}

// IsPriority checks if the message should go to the priority queue.
func (m *Message) IsPriority() bool {
	return m.Priority >= PriorityHigh
}

// ProfileSyncPayload triggers one full sync pass for a profile. Manual
// triggers from the API arrive with Manual set and run at high priority.
type ProfileSyncPayload struct {
	ProfileID string `json:"profile_id"`
	Manual    bool   `json:"manual"`
}

// ScanPayload covers the analysis jobs: recurring detection, internal
// transfer and outlier scoring, and fuzzy-duplicate detection. LookbackDays
// zero means each scanner's own default window.
type ScanPayload struct {
	ProfileID    string `json:"profile_id"`
	LookbackDays int    `json:"lookback_days,omitempty"`
}
