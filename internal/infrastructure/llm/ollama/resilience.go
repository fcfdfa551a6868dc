package ollama

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/kirillkom/construction-pipeline/internal/core/domain"
)

type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "ollama status error"
	}
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("ollama %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("ollama %s status: %s: %s", e.Operation, e.Status, strings.TrimSpace(e.Body))
}

// toProviderError maps transport failures onto provider error kinds.
func toProviderError(operation string, err error) error {
	if err == nil {
		return nil
	}
	var providerErr *domain.ProviderError
	if errors.As(err, &providerErr) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewProviderError(domain.ProviderTimeout, operation, err)
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return domain.NewProviderError(statusKind(statusErr.StatusCode), operation, err)
	}

	var decodeErr *decodeError
	if errors.As(err, &decodeErr) {
		return domain.NewProviderError(domain.ProviderInvalidResponse, operation, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.NewProviderError(domain.ProviderTimeout, operation, err)
	}
	return domain.NewProviderError(domain.ProviderUnavailable, operation, err)
}

func statusKind(statusCode int) domain.ProviderErrorKind {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return domain.ProviderRateLimited
	case statusCode == http.StatusRequestTimeout, statusCode == http.StatusGatewayTimeout:
		return domain.ProviderTimeout
	case statusCode >= 500:
		return domain.ProviderUnavailable
	default:
		return domain.ProviderInvalidResponse
	}
}
