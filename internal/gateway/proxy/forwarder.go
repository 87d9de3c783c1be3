package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/openvitals/vitalgate/pkg/api"
)

const (
	defaultAttemptTimeout = 30 * time.Second
	defaultMaxRetries     = 2
)

// strippedRequestHeaders never travel to the backend. Host is recomputed
// from the backend URL and the session cookie is the gateway's business,
// not the backend's.
var strippedRequestHeaders = map[string]struct{}{
	"Host":   {},
	"Cookie": {},
}

// Forwarder builds and dispatches outbound requests to the backend.
//
// Buffered forwards retry on 5xx and timeouts with exponential backoff;
// streaming forwards get exactly one attempt because the body is
// single-read.
type Forwarder struct {
	Backend *url.URL

	// Client serves buffered forwards. Its Timeout bounds each attempt
	// including the response body read.
	Client *http.Client

	// StreamClient serves streaming forwards and has no timeout: an upload
	// or download legitimately runs for as long as it runs.
	StreamClient *http.Client

	// MaxRetries is the number of additional attempts after the first
	// buffered forward fails retryably.
	MaxRetries int
}

// NewForwarder builds a Forwarder against backend with the default timeout
// and retry policy.
func NewForwarder(backend *url.URL) *Forwarder {
	return &Forwarder{
		Backend:      backend,
		Client:       &http.Client{Timeout: defaultAttemptTimeout},
		StreamClient: &http.Client{},
		MaxRetries:   defaultMaxRetries,
	}
}

// DoBuffered forwards a request whose body was captured up front, so it can
// be replayed verbatim on every retry. It returns the first non-5xx
// response; an exhausted retry budget or transport failure comes back as
// *api.Error (bad_gateway or gateway_timeout), never as a raw transport
// error.
func (f *Forwarder) DoBuffered(
	ctx context.Context,
	method, path, rawQuery string,
	header http.Header,
	body []byte,
	accessToken string,
) (*http.Response, error) {
	operation := func() (*http.Response, error) {
		req, err := f.newRequest(ctx, method, path, rawQuery, header, bytes.NewReader(body), accessToken)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.ContentLength = int64(len(body))

		resp, err := f.Client.Do(req)
		if err != nil {
			return nil, err // transport failure, retryable
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			// Drain so the connection can be reused, then retry.
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			return nil, errUpstream5xx
		}
		return resp, nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(f.maxRetries())),
		ctx,
	)
	resp, err := backoff.RetryWithData(operation, policy)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	return resp, nil
}

// DoStream forwards a request by piping body straight through. One attempt,
// no timeout, no retry.
func (f *Forwarder) DoStream(
	ctx context.Context,
	method, path, rawQuery string,
	header http.Header,
	body io.Reader,
	accessToken string,
) (*http.Response, error) {
	req, err := f.newRequest(ctx, method, path, rawQuery, header, body, accessToken)
	if err != nil {
		return nil, err
	}

	resp, err := f.StreamClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	return resp, nil
}

func (f *Forwarder) newRequest(
	ctx context.Context,
	method, path, rawQuery string,
	header http.Header,
	body io.Reader,
	accessToken string,
) (*http.Request, error) {
	target := *f.Backend
	target.Path = strings.TrimRight(f.Backend.Path, "/") + "/" + strings.TrimLeft(path, "/")
	target.RawQuery = rawQuery

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}

	for k, vals := range header {
		if _, strip := strippedRequestHeaders[http.CanonicalHeaderKey(k)]; strip {
			continue
		}
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	return req, nil
}

func (f *Forwarder) maxRetries() int {
	if f.MaxRetries < 0 {
		return 0
	}
	if f.MaxRetries == 0 {
		return defaultMaxRetries
	}
	return f.MaxRetries
}

var errUpstream5xx = errors.New("proxy: upstream returned 5xx")

// classifyTransportError collapses every forwarding failure into the
// client-facing taxonomy: timeouts become gateway_timeout, everything else
// bad_gateway.
func classifyTransportError(err error) *api.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return api.ErrGatewayTimeout
	}
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return api.ErrGatewayTimeout
	}
	return api.ErrBadGateway
}
