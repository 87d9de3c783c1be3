package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/openvitals/vitalgate/internal/authd/service"
	"github.com/openvitals/vitalgate/pkg/api"
	"github.com/openvitals/vitalgate/pkg/httpx"
	"github.com/openvitals/vitalgate/pkg/slogx"
)

// SignInHandler serves POST /auth/signin. On success the response carries
// the full token pair; the gateway in front of us converts it into an
// encrypted session cookie and strips the tokens before they reach the
// browser.
type SignInHandler struct {
	AuthService *service.AuthService
}

func (h *SignInHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req api.SignInRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		api.ErrInvalidRequest.WriteError(w)
		return
	}
	if req.Email == "" || req.Password == "" {
		api.ErrInvalidRequest.WriteError(w)
		return
	}

	u, pair, err := h.AuthService.SignIn(
		ctx,
		req.Email,
		req.Password,
		req.RememberMe,
		r.UserAgent(),
		httpx.IPKeyExtractor(r),
	)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			api.ErrUnauthenticated.WriteError(w)
			return
		}
		log.Error("sign-in failed", "err", err)
		api.ErrServerError.WriteError(w)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, api.SignInResponse{
		ID:           u.ID,
		Email:        u.Email,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		CreatedAt:    u.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    u.UpdatedAt.Format(time.RFC3339),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}
