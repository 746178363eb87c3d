package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiProvider implements TriageProvider using Google's Gemini models.
type GeminiProvider struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGeminiProvider initializes a new Gemini client.
// apiKey should be provided from environment variables.
func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	// Flash keeps latency and cost down; triage is not a hard problem.
	model := client.GenerativeModel("gemini-2.0-flash")
	model.ResponseMIMEType = "application/json"
	model.SetTemperature(0.2)

	return &GeminiProvider{client: client, model: model}, nil
}

// Close cleans up the Gemini client resources.
func (p *GeminiProvider) Close() {
	p.client.Close()
}

func (p *GeminiProvider) SuggestResolution(ctx context.Context, input TriageInput) (*TriageResult, error) {
	resp, err := p.model.GenerateContent(ctx, genai.Text(buildTriagePrompt(input)))
	if err != nil {
		return nil, fmt.Errorf("gemini generation error: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("no response candidates from Gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			responseText.WriteString(string(txt))
		}
	}

	cleanJSON := cleanJSONString(responseText.String())
	var result TriageResult
	if err := json.Unmarshal([]byte(cleanJSON), &result); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w. Raw: %s", err, cleanJSON)
	}
	switch result.Outcome {
	case "refund", "release", "escalate":
	default:
		result.Outcome = "escalate"
	}
	return &result, nil
}

func buildTriagePrompt(input TriageInput) string {
	return fmt.Sprintf(`Role: You assist marketplace support operators with escrow dispute triage.
A buyer disputed an order before the escrow auto-release deadline.

Facts:
- Order: %s
- Amount: %d (minor units, %s), paid by %s
- Delivered: %s ago
- Buyer's dispute reason: %q

Suggest ONE outcome:
- "refund"   — return the escrow to the buyer, listing goes back on offer
- "release"  — pay the seller, sale stands
- "escalate" — evidence is insufficient, needs a human conversation

You only ever see the buyer's side; when the reason alone cannot justify a
refund, prefer "escalate" over guessing. Keep the rationale to two sentences.

Output JSON Schema:
{
  "outcome": "refund" | "release" | "escalate",
  "rationale": "string (operator facing, max 2 sentences)",
  "confidence": number (0..1)
}
`, input.OrderID, input.AmountMinor, input.Currency, input.PaymentMethod, input.DeliveredAgo, input.DisputeReason)
}

// cleanJSONString removes markdown code blocks if present (e.g. ```json ... ```)
func cleanJSONString(input string) string {
	input = strings.TrimSpace(input)
	input = strings.TrimPrefix(input, "```json")
	input = strings.TrimPrefix(input, "```")
	input = strings.TrimSuffix(input, "```")
	return strings.TrimSpace(input)
}
