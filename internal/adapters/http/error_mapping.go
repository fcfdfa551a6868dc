package httpadapter

import (
	"net/http"

	"github.com/kirillkom/construction-pipeline/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	if kind, ok := domain.ProviderKind(err); ok {
		switch kind {
		case domain.ProviderRateLimited:
			return http.StatusTooManyRequests
		case domain.ProviderTimeout:
			return http.StatusGatewayTimeout
		case domain.ProviderUnavailable:
			return http.StatusServiceUnavailable
		default:
			return http.StatusBadGateway
		}
	}
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrProjectNotFound), domain.IsKind(err, domain.ErrMissingProvenance):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrProjectBusy):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
