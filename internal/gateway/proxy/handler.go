package proxy

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/openvitals/vitalgate/internal/gateway/session"
	"github.com/openvitals/vitalgate/pkg/api"
	"github.com/openvitals/vitalgate/pkg/httpx"
	"github.com/openvitals/vitalgate/pkg/slogx"
)

const (
	defaultSignInPath  = "auth/signin"
	defaultSignOutPath = "auth/signout"
)

// Handler is the catch-all reverse proxy. Every request runs the same
// pipeline: extract the session cookie, forward with the access token,
// classify the response, and on a 401 with a live session refresh once and
// retry the original request.
//
// Sign-in and sign-out are the only special-cased paths: sign-in converts
// the backend's token pair into a session cookie and strips the tokens from
// the body, sign-out clears the cookie no matter what the backend says.
type Handler struct {
	Codec     *session.Codec
	Cookies   *session.CookieWriter
	Forwarder *Forwarder
	Refresher *Refresher

	// SignInPath and SignOutPath are matched against the trimmed request
	// path. Empty values fall back to the defaults.
	SignInPath  string
	SignOutPath string
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	path := strings.Trim(r.URL.Path, "/")
	if path == "" {
		// Forwarding an empty path would silently hit the backend root.
		api.ErrInvalidRequest.WriteError(w)
		return
	}

	env, authed := h.extractSession(w, r)
	clientIP := httpx.IPKeyExtractor(r)

	header := r.Header.Clone()
	appendForwardedFor(header, clientIP)

	accessToken := ""
	if authed {
		accessToken = env.AccessToken
	}

	if IsStreamingRequest(r.Header.Get("Content-Type")) {
		h.serveStreaming(w, r, path, header, accessToken, authed)
		return
	}

	// Buffered mode: capture the body once so a refresh can replay it.
	body, err := io.ReadAll(r.Body)
	if err != nil {
		api.ErrInvalidRequest.WriteError(w)
		return
	}

	signIn := path == h.signInPath() && r.Method == http.MethodPost
	signOut := path == h.signOutPath() && r.Method == http.MethodPost

	resp, err := h.Forwarder.DoBuffered(ctx, r.Method, path, r.URL.RawQuery, header, body, accessToken)
	if err != nil {
		if signOut {
			h.Cookies.Clear(w)
		}
		writeProxyError(w, err)
		return
	}

	// One refresh, one retry. Auth endpoints are exempt: a 401 from
	// sign-in means bad credentials, not an expired access token.
	if resp.StatusCode == http.StatusUnauthorized && authed && env.RefreshToken != "" && !signIn && !signOut {
		drainClose(resp)

		pair, err := h.Refresher.Refresh(ctx, env.RefreshToken, env.RememberMe, r.UserAgent(), clientIP)
		if err != nil {
			log.Info("session refresh failed, clearing cookie", "user_id", env.ID)
			h.Cookies.Clear(w)
			writeProxyError(w, err)
			return
		}

		env.AccessToken = pair.AccessToken
		env.RefreshToken = pair.RefreshToken
		if err := h.installCookie(w, env); err != nil {
			log.Error("failed to encode session envelope", "err", err)
			api.ErrServerError.WriteError(w)
			return
		}

		resp, err = h.Forwarder.DoBuffered(ctx, r.Method, path, r.URL.RawQuery, header, body, pair.AccessToken)
		if err != nil {
			writeProxyError(w, err)
			return
		}
	}

	switch {
	case signIn && resp.StatusCode == http.StatusOK:
		h.interceptSignIn(w, r, resp, body)
	case signOut:
		h.Cookies.Clear(w)
		h.writeResponse(w, resp)
	default:
		h.writeResponse(w, resp)
	}
}

// serveStreaming pipes the request body through in a single attempt. A 401
// on an authenticated stream cannot be retried: the body is gone, so the
// client must redo the whole upload after the cookie refreshes elsewhere.
func (h *Handler) serveStreaming(
	w http.ResponseWriter,
	r *http.Request,
	path string,
	header http.Header,
	accessToken string,
	authed bool,
) {
	log := slogx.FromContext(r.Context())

	resp, err := h.Forwarder.DoStream(r.Context(), r.Method, path, r.URL.RawQuery, header, r.Body, accessToken)
	if err != nil {
		writeProxyError(w, err)
		return
	}

	if resp.StatusCode == http.StatusUnauthorized && authed {
		drainClose(resp)
		log.Info("authentication expired mid-upload", "path", path)
		api.ErrUploadAuthExpired.WriteError(w)
		return
	}

	h.writeResponse(w, resp)
}

// extractSession decodes the session cookie if present. A missing cookie is
// simply an unauthenticated request; an expired or tampered one is cleared
// and treated the same, with tampering logged.
func (h *Handler) extractSession(w http.ResponseWriter, r *http.Request) (session.Envelope, bool) {
	raw := h.Cookies.Read(r)
	if raw == "" {
		return session.Envelope{}, false
	}

	env, status := h.Codec.Decode(raw)
	switch status {
	case session.DecodeOK:
		return env, true
	case session.DecodeExpired:
		h.Cookies.Clear(w)
		return session.Envelope{}, false
	default:
		slogx.FromContext(r.Context()).Warn("rejecting tampered session cookie",
			"ip", httpx.IPKeyExtractor(r),
			"user_agent", r.UserAgent(),
		)
		h.Cookies.Clear(w)
		return session.Envelope{}, false
	}
}

// interceptSignIn converts a successful backend sign-in into a session
// cookie. The token pair never reaches the browser; the response body is
// rewritten to the profile fields only.
func (h *Handler) interceptSignIn(w http.ResponseWriter, r *http.Request, resp *http.Response, reqBody []byte) {
	log := slogx.FromContext(r.Context())

	respBody, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		api.ErrInvalidAuthResponse.WriteError(w)
		return
	}

	var signedIn api.SignInResponse
	if err := json.Unmarshal(respBody, &signedIn); err != nil {
		log.Error("sign-in response is not valid JSON", "err", err)
		api.ErrInvalidAuthResponse.WriteError(w)
		return
	}
	if signedIn.AccessToken == "" || signedIn.RefreshToken == "" ||
		signedIn.ID == "" || signedIn.Email == "" {
		log.Error("sign-in response missing required fields")
		api.ErrInvalidAuthResponse.WriteError(w)
		return
	}

	// The remember-me choice rides in the client's request body.
	var signInReq api.SignInRequest
	_ = json.Unmarshal(reqBody, &signInReq)

	env := session.Envelope{
		ID:           signedIn.ID,
		Email:        signedIn.Email,
		FirstName:    signedIn.FirstName,
		LastName:     signedIn.LastName,
		CreatedAt:    signedIn.CreatedAt,
		UpdatedAt:    signedIn.UpdatedAt,
		AccessToken:  signedIn.AccessToken,
		RefreshToken: signedIn.RefreshToken,
		RememberMe:   signInReq.RememberMe,
	}
	if err := h.installCookie(w, env); err != nil {
		log.Error("failed to encode session envelope", "err", err)
		api.ErrServerError.WriteError(w)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, api.SignUpResponse{
		ID:        signedIn.ID,
		Email:     signedIn.Email,
		FirstName: signedIn.FirstName,
		LastName:  signedIn.LastName,
		CreatedAt: signedIn.CreatedAt,
		UpdatedAt: signedIn.UpdatedAt,
	})
}

func (h *Handler) installCookie(w http.ResponseWriter, env session.Envelope) error {
	encoded, err := h.Codec.Encode(env)
	if err != nil {
		return err
	}
	h.Cookies.Set(w, encoded, env.RememberMe)
	return nil
}

// writeResponse relays the backend response. Binary responses are piped
// through with flushing so downloads start immediately; everything else is
// copied as-is.
func (h *Handler) writeResponse(w http.ResponseWriter, resp *http.Response) {
	defer resp.Body.Close()

	CopyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	if IsBinaryResponse(resp.Header) {
		flushCopy(w, resp.Body)
		return
	}
	_, _ = io.Copy(w, resp.Body)
}

func flushCopy(w http.ResponseWriter, src io.Reader) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

func writeProxyError(w http.ResponseWriter, err error) {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		apiErr.WriteError(w)
		return
	}
	api.ErrBadGateway.WriteError(w)
}

func drainClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

func appendForwardedFor(header http.Header, clientIP string) {
	if clientIP == "" {
		return
	}
	if prior := header.Get("X-Forwarded-For"); prior != "" {
		for _, hop := range strings.Split(prior, ",") {
			if strings.TrimSpace(hop) == clientIP {
				return
			}
		}
		header.Set("X-Forwarded-For", prior+", "+clientIP)
		return
	}
	header.Set("X-Forwarded-For", clientIP)
}

func (h *Handler) signInPath() string {
	if h.SignInPath == "" {
		return defaultSignInPath
	}
	return strings.Trim(h.SignInPath, "/")
}

func (h *Handler) signOutPath() string {
	if h.SignOutPath == "" {
		return defaultSignOutPath
	}
	return strings.Trim(h.SignOutPath, "/")
}
