package stages

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kirillkom/construction-pipeline/internal/core/domain"
	"github.com/kirillkom/construction-pipeline/internal/core/ports"
)

var errNoReasoner = errors.New("reasoning provider is not configured")

// reason calls the provider and decodes its JSON answer into out. A shape the decoder rejects is
// an invalid response.
func reason(ctx context.Context, p ports.ReasoningProvider, req ports.ReasoningRequest, out any) error {
	if p == nil {
		return domain.NewProviderError(domain.ProviderUnavailable, req.Operation, errNoReasoner)
	}
	raw, err := p.Reason(ctx, req)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(out); err != nil {
		return domain.NewProviderError(domain.ProviderInvalidResponse, req.Operation, fmt.Errorf("decode answer: %w", err))
	}
	return nil
}

func invalidAnswer(op, format string, args ...any) error {
	return domain.NewProviderError(domain.ProviderInvalidResponse, op, fmt.Errorf(format, args...))
}

func clampConfidence(c *float64, fallback float64) float64 {
	if c == nil || *c <= 0 || *c > 1 {
		return fallback
	}
	return *c
}
