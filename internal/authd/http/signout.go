package http

import (
	"net/http"

	"github.com/openvitals/vitalgate/internal/authd/service"
	"github.com/openvitals/vitalgate/pkg/httpx"
	"github.com/openvitals/vitalgate/pkg/slogx"
)

// SignOutHandler serves POST /auth/signout. It always returns 200 OK, even
// for unknown or already revoked tokens, so the endpoint cannot be used to
// probe which tokens are live.
type SignOutHandler struct {
	AuthService *service.AuthService
}

func (h *SignOutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	if token := bearerToken(r); token != "" {
		if err := h.AuthService.SignOut(ctx, token); err != nil {
			log.Warn("sign-out failed", "err", err)
		}
	}

	httpx.NoCache(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("{}"))
}
