package http

import "testing"

func TestClampLimit(t *testing.T) {
	tests := []struct {
		name     string
		limit    int
		fallback int
		want     int
	}{
		{"zero uses fallback", 0, 50, 50},
		{"negative uses fallback", -5, 20, 20},
		{"in range passes through", 25, 50, 25},
		{"over cap is clamped", 500, 50, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clampLimit(tt.limit, tt.fallback); got != tt.want {
				t.Errorf("clampLimit(%d, %d) = %d, want %d", tt.limit, tt.fallback, got, tt.want)
			}
		})
	}
}
