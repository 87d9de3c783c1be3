package api

import (
	"fmt"
	"net/http"

	"github.com/openvitals/vitalgate/pkg/httpx"
)

// Error codes shared between the gateway and the auth backend. Every
// client-facing failure maps to exactly one of these; raw upstream errors
// are never forwarded.
const (
	ErrorCodeInvalidRequest      = "invalid_request"
	ErrorCodeUnauthenticated     = "unauthenticated"
	ErrorCodeInvalidToken        = "invalid_token"
	ErrorCodeTokenReuse          = "token_reuse_detected"
	ErrorCodeTokenRefreshFailed  = "token_refresh_failed"
	ErrorCodeUploadAuthExpired   = "upload_auth_expired"
	ErrorCodeBadGateway          = "bad_gateway"
	ErrorCodeGatewayTimeout      = "gateway_timeout"
	ErrorCodeInvalidAuthResponse = "invalid_auth_response"
	ErrorCodeEmailTaken          = "email_taken"
	ErrorCodeServerError         = "server_error"
)

// Error is the structured client-facing error envelope. It implements the
// error interface and is used both by handlers (to write responses) and by
// the gateway's backend client (to represent upstream failures).
type Error struct {
	// StatusCode is the HTTP status code for this error
	StatusCode int `json:"-"`

	// Code is the stable machine-readable error code
	Code string `json:"error"`

	// Description is a human-readable description of the error
	Description string `json:"error_description"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// WriteError writes this error to an HTTP response writer.
func (e *Error) WriteError(w http.ResponseWriter) {
	httpx.NoCache(w)
	httpx.WriteJSON(w, e.StatusCode, map[string]string{
		"error":             e.Code,
		"error_description": e.Description,
	})
}

var (
	// ErrInvalidRequest is returned when the request is malformed or missing
	// required parameters.
	ErrInvalidRequest = &Error{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidRequest,
		Description: "the request is malformed or missing required parameters",
	}

	// ErrUnauthenticated is returned when no usable credential accompanies
	// the request.
	ErrUnauthenticated = &Error{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeUnauthenticated,
		Description: "authentication required",
	}

	// ErrInvalidToken is returned when a presented token fails verification
	// or the matching session is expired or unknown.
	ErrInvalidToken = &Error{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeInvalidToken,
		Description: "the token is missing, invalid or expired",
	}

	// ErrTokenReuse is returned when a refresh token outside its grace
	// window is replayed. Possible theft; the session must re-authenticate.
	ErrTokenReuse = &Error{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeTokenReuse,
		Description: "refresh token has already been rotated",
	}

	// ErrTokenRefreshFailed is returned by the gateway when a refresh
	// attempt was rejected or errored; the session cookie has been cleared.
	ErrTokenRefreshFailed = &Error{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeTokenRefreshFailed,
		Description: "session could not be refreshed, please sign in again",
	}

	// ErrUploadAuthExpired is returned when authentication expired while an
	// upload stream was already being consumed. The stream is single-read,
	// so the client must retry the whole upload.
	ErrUploadAuthExpired = &Error{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeUploadAuthExpired,
		Description: "authentication expired during upload, retry the whole upload",
	}

	// ErrBadGateway is returned when the backend is unreachable or keeps
	// failing after the retry budget is spent.
	ErrBadGateway = &Error{
		StatusCode:  http.StatusBadGateway,
		Code:        ErrorCodeBadGateway,
		Description: "backend request failed",
	}

	// ErrGatewayTimeout is returned when every forwarding attempt timed out.
	ErrGatewayTimeout = &Error{
		StatusCode:  http.StatusGatewayTimeout,
		Code:        ErrorCodeGatewayTimeout,
		Description: "backend request timed out",
	}

	// ErrInvalidAuthResponse is returned when the backend's sign-in response
	// is unparseable or missing required fields. This is a backend contract
	// violation, not a client error.
	ErrInvalidAuthResponse = &Error{
		StatusCode:  http.StatusBadGateway,
		Code:        ErrorCodeInvalidAuthResponse,
		Description: "backend returned an invalid authentication response",
	}

	// ErrEmailTaken is returned on sign-up with an already registered email.
	ErrEmailTaken = &Error{
		StatusCode:  http.StatusConflict,
		Code:        ErrorCodeEmailTaken,
		Description: "an account with this email already exists",
	}

	// ErrServerError is returned for unexpected internal failures.
	ErrServerError = &Error{
		StatusCode:  http.StatusInternalServerError,
		Code:        ErrorCodeServerError,
		Description: "internal server error",
	}
)
