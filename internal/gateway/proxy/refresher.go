package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"github.com/openvitals/vitalgate/pkg/api"
	"github.com/openvitals/vitalgate/pkg/cryptox"
)

var refreshesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "vitalgate_gateway_refreshes_total",
		Help: "Refresh calls made to the auth backend, by outcome.",
	},
	[]string{"outcome"},
)

// Refresher exchanges a refresh token for a new pair at the auth backend.
//
// Concurrent refreshes for the same refresh token are collapsed into one
// backend call via singleflight, keyed by the token's fingerprint rather
// than a single global slot so independent sessions in the same process
// never serialize on each other. The server-side grace window remains the
// safety net across gateway instances.
type Refresher struct {
	AuthURL *url.URL // backend base URL, refresh endpoint appended
	Client  *http.Client

	group singleflight.Group
}

// NewRefresher builds a Refresher against the auth backend.
func NewRefresher(authURL *url.URL) *Refresher {
	return &Refresher{
		AuthURL: authURL,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Refresh obtains a new token pair for refreshToken. userAgent and
// clientIP are forwarded so the backend can audit the session. Every
// failure collapses to api.ErrTokenRefreshFailed: the caller's only move
// is to clear the session and surface 401.
func (rf *Refresher) Refresh(
	ctx context.Context,
	refreshToken string,
	rememberMe bool,
	userAgent, clientIP string,
) (api.RefreshResponse, error) {
	key := cryptox.FingerprintToken(refreshToken)

	// The flight outcome is shared by every waiter on this key, so it must
	// not die with whichever request happened to start it. Detach from the
	// initiator's cancellation; the Client's own timeout still bounds the
	// backend call.
	flightCtx := context.WithoutCancel(ctx)

	v, err, _ := rf.group.Do(key, func() (any, error) {
		return rf.callBackend(flightCtx, refreshToken, rememberMe, userAgent, clientIP)
	})
	if err != nil {
		refreshesTotal.WithLabelValues("failure").Inc()
		return api.RefreshResponse{}, err
	}

	refreshesTotal.WithLabelValues("success").Inc()
	return v.(api.RefreshResponse), nil
}

func (rf *Refresher) callBackend(
	ctx context.Context,
	refreshToken string,
	rememberMe bool,
	userAgent, clientIP string,
) (api.RefreshResponse, error) {
	target := *rf.AuthURL
	target.Path = strings.TrimRight(rf.AuthURL.Path, "/") + "/auth/refresh"

	payload, err := json.Marshal(api.RefreshRequest{RememberMe: rememberMe})
	if err != nil {
		return api.RefreshResponse{}, api.ErrTokenRefreshFailed
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(payload))
	if err != nil {
		return api.RefreshResponse{}, api.ErrTokenRefreshFailed
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+refreshToken)
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	if clientIP != "" {
		req.Header.Set("X-Forwarded-For", clientIP)
	}

	resp, err := rf.Client.Do(req)
	if err != nil {
		return api.RefreshResponse{}, api.ErrTokenRefreshFailed
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return api.RefreshResponse{}, api.ErrTokenRefreshFailed
	}

	var pair api.RefreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		return api.RefreshResponse{}, api.ErrTokenRefreshFailed
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		return api.RefreshResponse{}, api.ErrTokenRefreshFailed
	}

	return pair, nil
}
