package ollama

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kirillkom/construction-pipeline/internal/core/ports"
)

const maxContextBytes = 24000

func buildReasoningPrompt(req ports.ReasoningRequest) (string, error) {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(req.Prompt))
	b.WriteString("\nReturn one strict JSON object. No markdown, no commentary.\n")

	if req.Context != nil {
		payload, err := json.Marshal(req.Context)
		if err != nil {
			return "", fmt.Errorf("encode reasoning context: %w", err)
		}
		if len(payload) > maxContextBytes {
			return "", fmt.Errorf("reasoning context is %d bytes, limit %d", len(payload), maxContextBytes)
		}
		b.WriteString("\nContext:\n")
		b.Write(payload)
		b.WriteString("\n")
	}
	return b.String(), nil
}
