package proxy_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openvitals/vitalgate/internal/gateway/proxy"
	"github.com/openvitals/vitalgate/internal/gateway/session"
	"github.com/openvitals/vitalgate/pkg/api"
)

const testSessionSecret = "gateway-session-secret-0123456789-01"

func newTestHandler(t *testing.T, backend *httptest.Server) (*proxy.Handler, *session.Codec) {
	t.Helper()

	backendURL, err := url.Parse(backend.URL)
	require.NoError(t, err)

	codec := session.NewCodec(testSessionSecret, time.Hour, 7*24*time.Hour)
	h := &proxy.Handler{
		Codec:     codec,
		Cookies:   &session.CookieWriter{RememberMeMaxAge: 7 * 24 * time.Hour},
		Forwarder: proxy.NewForwarder(backendURL),
		Refresher: proxy.NewRefresher(backendURL),
	}
	return h, codec
}

func sessionCookie(t *testing.T, codec *session.Codec, env session.Envelope) *http.Cookie {
	t.Helper()
	encoded, err := codec.Encode(env)
	require.NoError(t, err)
	return &http.Cookie{Name: session.DefaultCookieName, Value: encoded}
}

func testEnvelope() session.Envelope {
	return session.Envelope{
		ID:           "u1",
		Email:        "a@b.com",
		AccessToken:  "AT1",
		RefreshToken: "RT1",
	}
}

func decodeError(t *testing.T, body []byte) api.ErrorResponse {
	t.Helper()
	var e api.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &e))
	return e
}

// responseCookie finds the session cookie set on a recorded response.
func responseCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.DefaultCookieName {
			return c
		}
	}
	return nil
}

func TestEmptyPathRejected(t *testing.T) {
	t.Parallel()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend must not be called for the root path")
	}))
	defer backend.Close()
	h, _ := newTestHandler(t, backend)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, api.ErrorCodeInvalidRequest, decodeError(t, rec.Body.Bytes()).Error)
}

func TestForwardAttachesAccessToken(t *testing.T) {
	t.Parallel()

	var gotAuth, gotCookie string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCookie = r.Header.Get("Cookie")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer backend.Close()
	h, codec := newTestHandler(t, backend)

	req := httptest.NewRequest(http.MethodGet, "/api/records", nil)
	req.AddCookie(sessionCookie(t, codec, testEnvelope()))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Bearer AT1", gotAuth)
	require.Empty(t, gotCookie, "session cookie must never reach the backend")
	require.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestBufferedRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("finally"))
	}))
	defer backend.Close()
	h, _ := newTestHandler(t, backend)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/flaky", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "finally", rec.Body.String())
	require.Equal(t, int32(3), calls.Load())
}

func TestBufferedExhaustsRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer backend.Close()
	h, _ := newTestHandler(t, backend)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/broken", nil))

	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, api.ErrorCodeBadGateway, decodeError(t, rec.Body.Bytes()).Error)
	require.Equal(t, int32(3), calls.Load(), "initial attempt plus two retries")
}

func TestBufferedTimeoutMapsToGatewayTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer backend.Close()
	defer close(release)

	h, _ := newTestHandler(t, backend)
	h.Forwarder.Client.Timeout = 50 * time.Millisecond
	h.Forwarder.MaxRetries = -1

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/slow", nil))

	require.Equal(t, http.StatusGatewayTimeout, rec.Code)
	require.Equal(t, api.ErrorCodeGatewayTimeout, decodeError(t, rec.Body.Bytes()).Error)
}

func TestRefreshRetryRewritesCookie(t *testing.T) {
	t.Parallel()

	var refreshCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		require.Equal(t, "Bearer RT1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"AT2","refresh_token":"RT2"}`))
	})
	mux.HandleFunc("GET /api/records", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer AT2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"records":[]}`))
	})
	backend := httptest.NewServer(mux)
	defer backend.Close()
	h, codec := newTestHandler(t, backend)

	req := httptest.NewRequest(http.MethodGet, "/api/records", nil)
	req.AddCookie(sessionCookie(t, codec, testEnvelope()))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"records":[]}`, rec.Body.String())
	require.Equal(t, int32(1), refreshCalls.Load())

	// The rewritten cookie embeds the rotated pair.
	cookie := responseCookie(t, rec)
	require.NotNil(t, cookie)
	env, status := codec.Decode(cookie.Value)
	require.Equal(t, session.DecodeOK, status)
	require.Equal(t, "AT2", env.AccessToken)
	require.Equal(t, "RT2", env.RefreshToken)
}

func TestConcurrentRefreshesAreDeduplicated(t *testing.T) {
	t.Parallel()

	var refreshCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		time.Sleep(50 * time.Millisecond) // hold the flight open
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"AT2","refresh_token":"RT2"}`))
	})
	mux.HandleFunc("GET /api/records", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer AT2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	})
	backend := httptest.NewServer(mux)
	defer backend.Close()
	h, codec := newTestHandler(t, backend)

	const concurrency = 4
	var wg sync.WaitGroup
	codes := make([]int, concurrency)
	for i := 0; i < concurrency; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodGet, "/api/records", nil)
			req.AddCookie(sessionCookie(t, codec, testEnvelope()))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			codes[i] = rec.Code
		}()
	}
	wg.Wait()

	for _, code := range codes {
		require.Equal(t, http.StatusOK, code)
	}
	require.Equal(t, int32(1), refreshCalls.Load(),
		"concurrent refreshes for the same token must collapse to one backend call")
}

func TestRefreshFailureClearsCookie(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("GET /api/records", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	backend := httptest.NewServer(mux)
	defer backend.Close()
	h, codec := newTestHandler(t, backend)

	req := httptest.NewRequest(http.MethodGet, "/api/records", nil)
	req.AddCookie(sessionCookie(t, codec, testEnvelope()))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, api.ErrorCodeTokenRefreshFailed, decodeError(t, rec.Body.Bytes()).Error)

	cookie := responseCookie(t, rec)
	require.NotNil(t, cookie)
	require.Empty(t, cookie.Value)
	require.Negative(t, cookie.MaxAge)
}

func TestUnauthenticated401PassesThrough(t *testing.T) {
	t.Parallel()

	var refreshCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
	})
	mux.HandleFunc("GET /api/records", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	backend := httptest.NewServer(mux)
	defer backend.Close()
	h, _ := newTestHandler(t, backend)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/records", nil))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, int32(0), refreshCalls.Load(), "no session means no refresh attempt")
}

func TestStreamingUpload401NoRetry(t *testing.T) {
	t.Parallel()

	var forwardCalls atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		forwardCalls.Add(1)
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer backend.Close()
	h, codec := newTestHandler(t, backend)

	req := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("chunk1chunk2"))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=xyz")
	req.AddCookie(sessionCookie(t, codec, testEnvelope()))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, api.ErrorCodeUploadAuthExpired, decodeError(t, rec.Body.Bytes()).Error)
	require.Equal(t, int32(1), forwardCalls.Load(), "a consumed stream must never be replayed")
}

func TestSignInInstallsCookie(t *testing.T) {
	t.Parallel()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/signin", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id":"u1","email":"a@b.com","firstName":"A","lastName":"B",
			"accessToken":"AT1","refreshToken":"RT1"
		}`))
	}))
	defer backend.Close()
	h, codec := newTestHandler(t, backend)

	body, _ := json.Marshal(api.SignInRequest{Email: "a@b.com", Password: "validpass", RememberMe: true})
	req := httptest.NewRequest(http.MethodPost, "/auth/signin", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	// The cookie decodes to the backend's pair with the request's
	// remember-me choice, and is long-lived accordingly.
	cookie := responseCookie(t, rec)
	require.NotNil(t, cookie)
	require.True(t, cookie.HttpOnly)
	require.Equal(t, int((7 * 24 * time.Hour).Seconds()), cookie.MaxAge)

	env, status := codec.Decode(cookie.Value)
	require.Equal(t, session.DecodeOK, status)
	require.Equal(t, "AT1", env.AccessToken)
	require.Equal(t, "RT1", env.RefreshToken)
	require.True(t, env.RememberMe)
	require.Equal(t, "u1", env.ID)

	// Tokens never reach the browser.
	require.NotContains(t, rec.Body.String(), "AT1")
	require.NotContains(t, rec.Body.String(), "RT1")
	require.Contains(t, rec.Body.String(), "a@b.com")
}

func TestSignInInvalidBackendResponse(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
	}{
		{"not json", "<html>oops</html>"},
		{"missing tokens", `{"id":"u1","email":"a@b.com"}`},
		{"missing identity", `{"accessToken":"AT1","refreshToken":"RT1"}`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tc.body))
			}))
			defer backend.Close()
			h, _ := newTestHandler(t, backend)

			req := httptest.NewRequest(http.MethodPost, "/auth/signin",
				strings.NewReader(`{"email":"a@b.com","password":"validpass"}`))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			require.Equal(t, http.StatusBadGateway, rec.Code)
			require.Equal(t, api.ErrorCodeInvalidAuthResponse, decodeError(t, rec.Body.Bytes()).Error)
			require.Nil(t, responseCookie(t, rec))
		})
	}
}

func TestSignInFailurePassesThrough(t *testing.T) {
	t.Parallel()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthenticated","error_description":"bad credentials"}`))
	}))
	defer backend.Close()
	h, _ := newTestHandler(t, backend)

	req := httptest.NewRequest(http.MethodPost, "/auth/signin",
		strings.NewReader(`{"email":"a@b.com","password":"wrong"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, api.ErrorCodeUnauthenticated, decodeError(t, rec.Body.Bytes()).Error)
	require.Nil(t, responseCookie(t, rec), "failed sign-in must not set a cookie")
}

func TestSignOutAlwaysClearsCookie(t *testing.T) {
	t.Parallel()

	t.Run("backend ok", func(t *testing.T) {
		t.Parallel()

		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("{}"))
		}))
		defer backend.Close()
		h, codec := newTestHandler(t, backend)

		req := httptest.NewRequest(http.MethodPost, "/auth/signout", nil)
		req.AddCookie(sessionCookie(t, codec, testEnvelope()))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		cookie := responseCookie(t, rec)
		require.NotNil(t, cookie)
		require.Empty(t, cookie.Value)
	})

	t.Run("backend down", func(t *testing.T) {
		t.Parallel()

		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer backend.Close()
		h, codec := newTestHandler(t, backend)

		req := httptest.NewRequest(http.MethodPost, "/auth/signout", nil)
		req.AddCookie(sessionCookie(t, codec, testEnvelope()))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		// The forward failed, but the cookie is cleared regardless.
		cookie := responseCookie(t, rec)
		require.NotNil(t, cookie)
		require.Empty(t, cookie.Value)
		require.Negative(t, cookie.MaxAge)
	})
}

func TestBinaryResponseStreamsThrough(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte{0x42}, 64*1024)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", `attachment; filename="export.bin"`)
		_, _ = w.Write(payload)
	}))
	defer backend.Close()
	h, _ := newTestHandler(t, backend)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/export", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, payload, rec.Body.Bytes())
	require.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	// Transport-owned headers are recomputed, not forwarded.
	require.Empty(t, rec.Header().Get("Content-Length"))
}

func TestTamperedCookieTreatedAsAnonymous(t *testing.T) {
	t.Parallel()

	var gotAuth string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte("{}"))
	}))
	defer backend.Close()
	h, _ := newTestHandler(t, backend)

	req := httptest.NewRequest(http.MethodGet, "/api/records", nil)
	req.AddCookie(&http.Cookie{Name: session.DefaultCookieName, Value: "garbage.token.value"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, gotAuth, "a tampered cookie must not yield credentials")

	cookie := responseCookie(t, rec)
	require.NotNil(t, cookie)
	require.Empty(t, cookie.Value, "tampered cookie gets cleared")
}
