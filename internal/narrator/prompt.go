package narrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// rawPayloadLimit caps the JSON excerpt appended to the fallback narrative.
const rawPayloadLimit = 400

// FallbackNarrative renders the payload without any external service.
func FallbackNarrative(payload domain.ReportPayload) string {
	lines := []string{"AI Risk Narrative:"}
	for _, c := range payload.Components {
		lines = append(lines, fmt.Sprintf("- %s: score %.1f (%s)", c.Name, c.Score, c.Description))
	}
	lines = append(lines, fmt.Sprintf("Survival probability over next 12 months estimated at %.1f%%.", payload.SurvivalProbability))

	var triggered []string
	for _, r := range payload.Rules {
		if r.Triggered {
			triggered = append(triggered, string(r.Name))
		}
	}
	if len(triggered) > 0 {
		lines = append(lines, "Rules triggered: "+strings.Join(triggered, ", "))
	} else {
		lines = append(lines, "No deterministic rule breaches detected.")
	}

	// Map keys marshal sorted.
	raw, err := json.Marshal(payload.ToMap())
	if err != nil {
		raw = []byte("{}")
	}
	excerpt := string(raw)
	if len(excerpt) > rawPayloadLimit {
		excerpt = excerpt[:rawPayloadLimit]
	}
	lines = append(lines, "Raw payload: "+excerpt)

	return strings.Join(lines, "\n")
}

// BuildPrompt writes the analyst briefing prompt for payload.
func BuildPrompt(payload domain.ReportPayload) (string, error) {
	metadata := "{}"
	if len(payload.Metadata) > 0 {
		b, err := json.Marshal(payload.Metadata)
		if err != nil {
			return "", fmt.Errorf("marshal metadata: %w", err)
		}
		metadata = string(b)
	}

	structured, err := json.MarshalIndent(payload.ToMap(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	var components strings.Builder
	for _, c := range payload.Components {
		fmt.Fprintf(&components, "- %s: score=%g context=%s\n", c.Name, c.Score, c.Description)
	}
	if components.Len() == 0 {
		components.WriteString("- None provided\n")
	}

	var rules strings.Builder
	for _, r := range payload.Rules {
		fmt.Fprintf(&rules, "- %s => triggered=%t rationale=%s\n", r.Name, r.Triggered, r.Description)
	}
	if rules.Len() == 0 {
		rules.WriteString("- No rules evaluated\n")
	}

	var b strings.Builder
	b.WriteString("You are a senior financial risk analyst. Using the structured risk metrics, rules, and metadata\n")
	b.WriteString("supplied below, write a concise executive briefing that covers:\n")
	fmt.Fprintf(&b, "1. Overall financial resilience and survival probability (%.1f%%).\n", payload.SurvivalProbability)
	b.WriteString("2. The top drivers of risk taken from the component list.\n")
	b.WriteString("3. Any policy or rules violations plus recommended follow-up questions.\n\n")
	fmt.Fprintf(&b, "Company metadata: %s\n", metadata)
	b.WriteString("Risk components:\n")
	b.WriteString(components.String())
	b.WriteString("Rule evaluations:\n")
	b.WriteString(rules.String())
	b.WriteString("\nRespond with 2-3 paragraphs plus a final bullet list of actionable next steps (max 3 bullets).\n")
	b.WriteString("Reference the numeric inputs directly where relevant and avoid inventing data not present in the JSON.\n\n")
	b.WriteString("Full JSON payload for reference:\n")
	b.Write(structured)

	return b.String(), nil
}
