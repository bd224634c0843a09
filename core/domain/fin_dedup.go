package domain

// DuplicatePair is one fuzzy-duplicate candidate found by the offline
// detector. Pairs are reported for the user to resolve, never auto-merged.
type DuplicatePair struct {
	ProfileID       string   `json:"profile_id"`
	TransactionID   int64    `json:"transaction_id"`
	CandidateID     int64    `json:"candidate_id"`
	SimilarityScore int      `json:"similarity_score"` // 0-100
	Reasons         []string `json:"reasons"`
}
