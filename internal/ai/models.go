package ai

// TriageInput is the dispute context handed to the model. Only facts the
// operator console already shows; no personal data beyond the IDs.
type TriageInput struct {
	OrderID       string
	AmountMinor   int64
	Currency      string
	PaymentMethod string
	DisputeReason string
	DeliveredAgo  string
}

// TriageResult captures the structured output from the AI model.
type TriageResult struct {
	// Outcome is the suggested resolution: "refund", "release", or
	// "escalate" when the model cannot pick a side.
	Outcome string `json:"outcome"`

	// Rationale is a short operator-facing justification.
	Rationale string `json:"rationale"`

	// Confidence in [0,1]; low values are rendered as "needs human review".
	Confidence float64 `json:"confidence"`
}
