package api

// Wire types for the auth backend's HTTP surface. The gateway depends on
// these shapes when intercepting sign-in/sign-out and when calling the
// refresh endpoint, so they live in a shared package.

// SignUpRequest creates a new account.
type SignUpRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// SignUpResponse is the sign-up success body. No tokens are issued; the
// client signs in afterwards.
type SignUpResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// SignInRequest authenticates with email and password. RememberMe extends
// both the server-side session and the gateway cookie lifetime.
type SignInRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

// SignInResponse is the sign-in success body. The gateway validates the
// presence of AccessToken, RefreshToken, ID and Email before trusting it.
type SignInResponse struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	CreatedAt    string `json:"createdAt,omitempty"`
	UpdatedAt    string `json:"updatedAt,omitempty"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// RefreshRequest accompanies the bearer refresh token on POST /auth/refresh.
type RefreshRequest struct {
	RememberMe bool `json:"rememberMe"`
}

// RefreshResponse is the refresh success body.
type RefreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// ErrorResponse is the parsed form of the shared error envelope.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// HealthResponse is returned by the /livez and /readyz probes.
type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime,omitempty"`
	Version string        `json:"version,omitempty"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks reports per-dependency readiness (only for /readyz).
type HealthChecks struct {
	Database string `json:"database"`
}
