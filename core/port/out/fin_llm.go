package out

import "context"

// LLM is the minimal vendor-model surface the core uses: categorization
// fallback and deposit-statement extraction. Both callers expect strict JSON
// back and treat anything else as a miss.
type LLM interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
