package session

import (
	"net/http"
	"time"
)

// DefaultCookieName is the session cookie name unless configured otherwise.
const DefaultCookieName = "vitalgate_session"

// CookieWriter manages the single session cookie: HTTP-only always,
// Secure outside dev, SameSite strict so the envelope never rides along on
// cross-site requests.
type CookieWriter struct {
	Name   string
	Domain string
	Secure bool

	// RememberMeMaxAge is the cookie Max-Age when remember-me is set.
	// Without remember-me the cookie is a browser-session cookie and dies
	// with the browser, while the signed envelope inside enforces its own
	// shorter expiry.
	RememberMeMaxAge time.Duration
}

// Read returns the raw session cookie value, or "" if absent.
func (c *CookieWriter) Read(r *http.Request) string {
	cookie, err := r.Cookie(c.name())
	if err != nil {
		return ""
	}
	return cookie.Value
}

// Set installs the session cookie carrying an encoded envelope.
func (c *CookieWriter) Set(w http.ResponseWriter, value string, rememberMe bool) {
	cookie := &http.Cookie{
		Name:     c.name(),
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	}
	if rememberMe {
		cookie.MaxAge = int(c.RememberMeMaxAge.Seconds())
	}
	http.SetCookie(w, cookie)
}

// Clear removes the session cookie.
func (c *CookieWriter) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name(),
		Value:    "",
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (c *CookieWriter) name() string {
	if c.Name == "" {
		return DefaultCookieName
	}
	return c.Name
}
