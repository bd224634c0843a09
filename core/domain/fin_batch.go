package domain

// BatchResult counts the outcome of one ingestion batch. Everything that can
// be skipped is skipped per record; a single bad message never fails a sync.
type BatchResult struct {
	Processed       int `json:"processed"`
	Duplicates      int `json:"duplicates"`
	Errors          int `json:"errors"`
	USDConverted    int `json:"usd_converted"`
	AutoCategorized int `json:"auto_categorized"`
	NeedsReview     int `json:"needs_review"`
}

// Merge folds another batch result into this one.
func (b *BatchResult) Merge(other BatchResult) {
	b.Processed += other.Processed
	b.Duplicates += other.Duplicates
	b.Errors += other.Errors
	b.USDConverted += other.USDConverted
	b.AutoCategorized += other.AutoCategorized
	b.NeedsReview += other.NeedsReview
}
