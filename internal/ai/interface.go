package ai

import (
	"context"
)

// TriageProvider drafts a resolution suggestion for a disputed order.
// The suggestion is advisory: operators decide, the model never resolves.
type TriageProvider interface {
	SuggestResolution(ctx context.Context, input TriageInput) (*TriageResult, error)
}
