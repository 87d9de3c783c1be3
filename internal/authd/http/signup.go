package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/openvitals/vitalgate/internal/authd/service"
	"github.com/openvitals/vitalgate/pkg/api"
	"github.com/openvitals/vitalgate/pkg/httpx"
	"github.com/openvitals/vitalgate/pkg/slogx"
)

const minPasswordLength = 8

// SignUpHandler serves POST /auth/signup.
type SignUpHandler struct {
	AuthService *service.AuthService
}

func (h *SignUpHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req api.SignUpRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		api.ErrInvalidRequest.WriteError(w)
		return
	}

	if strings.TrimSpace(req.Email) == "" ||
		!strings.Contains(req.Email, "@") ||
		len(req.Password) < minPasswordLength {
		api.ErrInvalidRequest.WriteError(w)
		return
	}

	u, err := h.AuthService.SignUp(ctx, req.Email, req.Password, req.FirstName, req.LastName)
	if err != nil {
		if errors.Is(err, service.ErrEmailTaken) {
			api.ErrEmailTaken.WriteError(w)
			return
		}
		log.Error("sign-up failed", "err", err)
		api.ErrServerError.WriteError(w)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusCreated, api.SignUpResponse{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
		UpdatedAt: u.UpdatedAt.Format(time.RFC3339),
	})
}
