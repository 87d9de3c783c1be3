package proxy

import (
	"net/http"
	"strings"
)

// streamingRequestTypes are request content types whose bodies are piped
// through without buffering. A piped body is single-read, so these requests
// can never be retried.
var streamingRequestTypes = []string{
	"multipart/form-data",
	"application/octet-stream",
}

// IsStreamingRequest reports whether the incoming request body must be
// forwarded in streaming mode.
func IsStreamingRequest(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	for _, t := range streamingRequestTypes {
		if strings.HasPrefix(ct, t) {
			return true
		}
	}
	return false
}

// binaryResponseTypes mark a backend response as a byte stream to pipe
// through rather than buffer.
var binaryResponseTypes = []string{
	"application/octet-stream",
	"image/",
	"video/",
	"audio/",
	"application/pdf",
	"application/zip",
}

// IsBinaryResponse reports whether the backend response should be streamed
// to the client untouched.
func IsBinaryResponse(header http.Header) bool {
	if strings.Contains(strings.ToLower(header.Get("Content-Disposition")), "attachment") {
		return true
	}
	ct := strings.ToLower(header.Get("Content-Type"))
	for _, t := range binaryResponseTypes {
		if strings.HasPrefix(ct, t) {
			return true
		}
	}
	return false
}

// strippedResponseHeaders must not be copied from the backend response: the
// proxy's own transport re-chunks and re-encodes the body, so these would
// be stale or wrong.
var strippedResponseHeaders = map[string]struct{}{
	"Content-Length":    {},
	"Content-Encoding":  {},
	"Transfer-Encoding": {},
}

// CopyResponseHeaders copies backend response headers onto dst, minus the
// ones the transport recomputes.
func CopyResponseHeaders(dst http.Header, src http.Header) {
	for k, vals := range src {
		if _, strip := strippedResponseHeaders[http.CanonicalHeaderKey(k)]; strip {
			continue
		}
		for _, v := range vals {
			dst.Add(k, v)
		}
	}
}
