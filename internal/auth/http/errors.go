package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/tradekit/authcore/internal/auth/domain"
	"github.com/tradekit/authcore/pkg/httpx"
	"github.com/tradekit/authcore/pkg/slogx"
)

// statusForKind maps the domain error taxonomy onto HTTP status codes. This
// is the only place that translation happens.
func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation, domain.KindConflict:
		return http.StatusBadRequest
	case domain.KindAuthentication:
		return http.StatusUnauthorized
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError renders err as the uniform {error: string} body. Upstream
// failures keep their full cause in server logs and show clients only the
// generic message; unclassified errors are treated as upstream.
func writeDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	var derr *domain.Error
	if !errors.As(err, &derr) {
		slogx.FromContext(ctx).Error("unclassified error reached handler", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if derr.Kind == domain.KindUpstream {
		slogx.FromContext(ctx).Error("identity backend failure", "err", derr)
	}

	httpx.WriteError(w, statusForKind(derr.Kind), derr.Message)
}
