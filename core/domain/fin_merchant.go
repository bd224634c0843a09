package domain

import "time"

// Merchant is the canonical identity of a vendor across descriptor variants.
// Created on first sighting, merged when the normalizer finds an equivalent,
// never deleted.
type Merchant struct {
	ID             int64    `json:"id"`
	NormalizedName string   `json:"normalized_name"`
	DisplayName    string   `json:"display_name"`
	City           *string  `json:"city,omitempty"`
	Country        *string  `json:"country,omitempty"`
	Aliases        []string `json:"aliases,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasAlias reports whether raw already maps to this merchant.
func (m *Merchant) HasAlias(raw string) bool {
	if raw == m.NormalizedName {
		return true
	}
	for _, a := range m.Aliases {
		if a == raw {
			return true
		}
	}
	return false
}
