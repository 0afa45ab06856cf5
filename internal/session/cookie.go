package session

import (
	"net/http"
	"strings"
	"time"
)

// DefaultCookieName is the name of the session cookie.
const DefaultCookieName = "session"

// CookieConfig describes the session cookie attributes.
type CookieConfig struct {
	Name   string
	MaxAge time.Duration
	Secure bool
}

// NewCookieConfig applies defaults to an empty name or max age.
func NewCookieConfig(name string, maxAge time.Duration, secure bool) CookieConfig {
	if name == "" {
		name = DefaultCookieName
	}
	if maxAge <= 0 {
		maxAge = DefaultLifetime
	}
	return CookieConfig{Name: name, MaxAge: maxAge, Secure: secure}
}

// Set writes the encoded credential to the response.
func (c CookieConfig) Set(w http.ResponseWriter, value string) {
	http.SetCookie(w, c.cookie(value, int(c.MaxAge.Seconds())))
}

// Clear instructs the client to drop the session cookie.
func (c CookieConfig) Clear(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie("", -1))
}

// Read returns the raw cookie value, or "" when absent. Values net/http
// refuses to parse (quotes, backslashes) are returned verbatim so that they
// resolve as malformed rather than absent.
func (c CookieConfig) Read(r *http.Request) string {
	if ck, err := r.Cookie(c.Name); err == nil {
		return ck.Value
	}
	prefix := c.Name + "="
	for _, line := range r.Header.Values("Cookie") {
		for _, part := range strings.Split(line, ";") {
			if v, ok := strings.CutPrefix(strings.TrimSpace(part), prefix); ok && v != "" {
				return v
			}
		}
	}
	return ""
}

func (c CookieConfig) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}
