package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestNewAuthenticatorRequiresSecret(t *testing.T) {
	_, err := NewAuthenticator(AuthConfig{HMACSecret: "  "}, nil)
	require.Error(t, err)
}

func TestAuthenticatorRejectsBadTokens(t *testing.T) {
	auth, err := NewAuthenticator(AuthConfig{HMACSecret: testSecret, Issuer: testIssuer, Audience: "bankd", ClockSkew: time.Second}, nil)
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)
	auth.now = func() time.Time { return now }

	sign := func(method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
		signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return signed
	}
	valid := jwt.MapClaims{"iss": testIssuer, "aud": "bankd", "scope": "bank.admin", "exp": now.Add(time.Minute).Unix()}

	cases := map[string]struct {
		token string
		want  int
	}{
		"valid":          {sign(jwt.SigningMethodHS256, []byte(testSecret), valid), http.StatusOK},
		"wrong secret":   {sign(jwt.SigningMethodHS256, []byte("another-secret-another-secret-00"), valid), http.StatusUnauthorized},
		"expired":        {sign(jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"iss": testIssuer, "aud": "bankd", "scope": "bank.admin", "exp": now.Add(-time.Minute).Unix()}), http.StatusUnauthorized},
		"no expiry":      {sign(jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"iss": testIssuer, "aud": "bankd", "scope": "bank.admin"}), http.StatusUnauthorized},
		"wrong issuer":   {sign(jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"iss": "other", "aud": "bankd", "scope": "bank.admin", "exp": now.Add(time.Minute).Unix()}), http.StatusUnauthorized},
		"wrong audience": {sign(jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"iss": testIssuer, "aud": "other", "scope": "bank.admin", "exp": now.Add(time.Minute).Unix()}), http.StatusUnauthorized},
		"unsigned":       {sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, valid), http.StatusUnauthorized},
		"missing scope":  {sign(jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"iss": testIssuer, "aud": "bankd", "scope": []interface{}{"bank.read"}, "exp": now.Add(time.Minute).Unix()}), http.StatusForbidden},
	}
	handler := auth.Middleware("bank.admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, _ := r.Context().Value(ContextKeySubject).(string)
		require.Equal(t, "", subject)
		w.WriteHeader(http.StatusOK)
	}))
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/events", nil)
			req.Header.Set("Authorization", "Bearer "+tc.token)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			require.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestExtractBearer(t *testing.T) {
	require.Equal(t, "abc", extractBearer("Bearer abc"))
	require.Equal(t, "abc", extractBearer("bearer   abc "))
	require.Equal(t, "", extractBearer("Basic abc"))
	require.Equal(t, "", extractBearer("Bearer"))
}

func TestRateLimiterSweepsIdleVisitors(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{"k": {RequestsPerMinute: 60, Burst: 1}}, nil)
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }
	limiter.obtainLimiter("k|a", RateLimit{RequestsPerMinute: 60, Burst: 1})
	require.Len(t, limiter.visitors, 1)

	now = now.Add(10 * time.Minute)
	limiter.obtainLimiter("k|b", RateLimit{RequestsPerMinute: 60, Burst: 1})
	require.Len(t, limiter.visitors, 1)
	_, ok := limiter.visitors["k|b"]
	require.True(t, ok)
}

func TestRateLimiterIgnoresForwardedHeadersFromUntrustedPeers(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{"k": {RequestsPerMinute: 1, Burst: 1}}, nil)
	handler := limiter.Middleware("k")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	send := func(remote, realIP string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		req.Header.Set("X-Real-IP", realIP)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusOK, send("203.0.113.9:4000", "198.51.100.1"))
	require.Equal(t, http.StatusTooManyRequests, send("203.0.113.9:4000", "198.51.100.2"))

	require.NoError(t, limiter.TrustProxies([]string{"10.0.0.0/8"}))
	require.Equal(t, http.StatusOK, send("10.1.2.3:4000", "198.51.100.1"))
	require.Equal(t, http.StatusOK, send("10.1.2.3:4000", "198.51.100.2"))
	require.Equal(t, http.StatusTooManyRequests, send("10.9.9.9:4000", "198.51.100.2"))

	require.Error(t, limiter.TrustProxies([]string{"not-an-ip"}))
}
