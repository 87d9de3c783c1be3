package http

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/openvitals/vitalgate/internal/authd/service"
	"github.com/openvitals/vitalgate/pkg/api"
	"github.com/openvitals/vitalgate/pkg/httpx"
	"github.com/openvitals/vitalgate/pkg/slogx"
)

// RefreshHandler serves POST /auth/refresh. The refresh token travels as a
// bearer credential in the Authorization header, the JSON body carries only
// the rememberMe flag. A replayed token outside its grace window is reported
// distinctly so callers can treat it as a security event.
type RefreshHandler struct {
	AuthService *service.AuthService
}

func (h *RefreshHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	token := bearerToken(r)
	if token == "" {
		api.ErrUnauthenticated.WriteError(w)
		return
	}

	// The body is optional; an absent or empty body means rememberMe=false.
	var req api.RefreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		api.ErrInvalidRequest.WriteError(w)
		return
	}

	res, err := h.AuthService.RefreshTokens(ctx, token, req.RememberMe)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTokenReuse):
			api.ErrTokenReuse.WriteError(w)
		case errors.Is(err, service.ErrInvalidRefresh):
			api.ErrInvalidToken.WriteError(w)
		default:
			log.Error("refresh failed", "err", err)
			api.ErrServerError.WriteError(w)
		}
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, api.RefreshResponse{
		AccessToken:  res.Pair.AccessToken,
		RefreshToken: res.Pair.RefreshToken,
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
