package worker

import (
	"testing"
)

func TestMessagePriorityRouting(t *testing.T) {
	tests := []struct {
		name     string
		priority Priority
		want     bool
	}{
		{"low stays on main queue", PriorityLow, false},
		{"normal stays on main queue", PriorityNormal, false},
		{"high goes to priority queue", PriorityHigh, true},
		{"critical goes to priority queue", PriorityCritical, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := NewPriorityMessage(JobProfileSync, nil, tt.priority)
			if got := msg.IsPriority(); got != tt.want {
				t.Errorf("IsPriority() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewMessageDefaults(t *testing.T) {
	msg := NewMessage(JobRecurringScan, map[string]any{"profile_id": "personal"})

	if msg.ID == "" {
		t.Error("expected a generated id")
	}
	if msg.Priority != PriorityNormal {
		t.Errorf("Priority = %v, want %v", msg.Priority, PriorityNormal)
	}
	if msg.Retries != 0 {
		t.Errorf("Retries = %d, want 0", msg.Retries)
	}
	if msg.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestParsePayload(t *testing.T) {
	msg := NewMessage(JobProfileSync, map[string]any{
		"profile_id": "personal",
		"manual":     true,
	})

	payload, err := ParsePayload[ProfileSyncPayload](msg)
	if err != nil {
		t.Fatalf("ParsePayload() error = %v", err)
	}
	if payload.ProfileID != "personal" {
		t.Errorf("ProfileID = %q, want %q", payload.ProfileID, "personal")
	}
	if !payload.Manual {
		t.Error("expected Manual to be true")
	}
}

func TestParsePayloadIgnoresUnknownFields(t *testing.T) {
	msg := NewMessage(JobDedupScan, map[string]any{
		"profile_id":    "business",
		"lookback_days": 30,
		"extra":         "ignored",
	})

	payload, err := ParsePayload[ScanPayload](msg)
	if err != nil {
		t.Fatalf("ParsePayload() error = %v", err)
	}
	if payload.ProfileID != "business" {
		t.Errorf("ProfileID = %q, want %q", payload.ProfileID, "business")
	}
	if payload.LookbackDays != 30 {
		t.Errorf("LookbackDays = %d, want 30", payload.LookbackDays)
	}
}
