package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	s, err := New("42", now, DefaultLifetime)
	require.NoError(t, err)

	assert.Len(t, s.ID, 64)
	assert.Len(t, s.Token, 64)
	assert.NotEqual(t, s.ID, s.Token)
	assert.Equal(t, "42", s.UserID)
	assert.Equal(t, DefaultLifetime, s.ExpiresAt.Sub(s.CreatedAt))
	assert.Equal(t, s.CreatedAt, s.TokenIssuedAt)
	assert.Zero(t, s.CreatedAt.Nanosecond()%int(time.Millisecond))
}

func TestSession_IsExpired(t *testing.T) {
	now := time.Now()
	s := Session{ExpiresAt: now}

	assert.False(t, s.IsExpired(now))
	assert.True(t, s.IsExpired(now.Add(time.Nanosecond)))
	assert.False(t, s.IsExpired(now.Add(-time.Minute)))
}

func TestNewToken_Unique(t *testing.T) {
	a, err := NewToken()
	require.NoError(t, err)
	b, err := NewToken()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.True(t, isSecret(a))
}

func TestCredential_RoundTrip(t *testing.T) {
	s, err := New("42", time.Now(), DefaultLifetime)
	require.NoError(t, err)

	raw := s.Credential().Encode()
	assert.NotContains(t, raw, `"`)

	got, err := ParseCredential(raw)
	require.NoError(t, err)
	assert.Equal(t, s.Credential(), got)
}

func TestParseCredential_Malformed(t *testing.T) {
	valid, err := NewID()
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "hello"},
		{"bad escape", "%zz"},
		{"empty object", "%7B%7D"},
		{"missing token", Credential{ID: valid}.Encode()},
		{"short id", Credential{ID: "abc", Token: valid}.Encode()},
		{"uppercase hex", Credential{ID: valid, Token: "ABCDEF" + valid[6:]}.Encode()},
		{"json array", "%5B%5D"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCredential(tt.raw)
			assert.ErrorIs(t, err, ErrMalformedCredential)
		})
	}
}

func TestCookieConfig_SetAndClear(t *testing.T) {
	cfg := NewCookieConfig("", 0, true)
	assert.Equal(t, DefaultCookieName, cfg.Name)

	rec := httptest.NewRecorder()
	cfg.Set(rec, "value%7B")
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, "session", c.Name)
	assert.Equal(t, "value%7B", c.Value)
	assert.Equal(t, "/", c.Path)
	assert.Equal(t, 7*24*60*60, c.MaxAge)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)

	rec = httptest.NewRecorder()
	cfg.Clear(rec)
	cookies = rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "", cookies[0].Value)
	assert.Less(t, cookies[0].MaxAge, 0)
}

func TestCookieConfig_Read(t *testing.T) {
	cfg := NewCookieConfig("session", time.Hour, false)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "", cfg.Read(req))

	req.AddCookie(&http.Cookie{Name: "session", Value: "abc"})
	assert.Equal(t, "abc", cfg.Read(req))
}

func TestCookieConfig_ReadUnparseableValue(t *testing.T) {
	cfg := NewCookieConfig("session", time.Hour, false)

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{name: "raw json", header: `theme=dark; session={"id":"x","token":"y"}`, want: `{"id":"x","token":"y"}`},
		{name: "backslash", header: `session=a\b`, want: `a\b`},
		{name: "other cookie only", header: `sessionx={"id":"x"}`, want: ""},
		{name: "empty value", header: `session=`, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Cookie", tt.header)
			assert.Equal(t, tt.want, cfg.Read(req))
		})
	}
}
