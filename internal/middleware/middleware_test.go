package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mroshb/szludo_wallet/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test_secret_key_minimum_32_characters_long"

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers = append(handlers, func(c *gin.Context) {
		id, _ := UserID(c)
		c.JSON(http.StatusOK, gin.H{"user_id": id, "role": Role(c)})
	})
	r.GET("/", handlers...)
	return r
}

func do(r http.Handler, header, value string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	req.RemoteAddr = "203.0.113.7:4000"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth(t *testing.T) {
	userToken, err := security.GenerateJWT(7, security.RoleUser, testSecret, time.Hour)
	require.NoError(t, err)
	expired, err := security.GenerateJWT(7, security.RoleUser, testSecret, -time.Minute)
	require.NoError(t, err)
	foreign, err := security.GenerateJWT(7, security.RoleUser, "another_secret_key_minimum_32_characters", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid token", "Bearer " + userToken, http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Basic " + userToken, http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"wrong secret", "Bearer " + foreign, http.StatusUnauthorized},
		{"garbage", "Bearer not.a.jwt", http.StatusUnauthorized},
	}

	r := newRouter(Auth(testSecret))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, "Authorization", tt.header)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.JSONEq(t, `{"user_id":7,"role":"user"}`, w.Body.String())
			} else {
				assert.Contains(t, w.Body.String(), `"code":"UNAUTHORIZED"`)
			}
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	userToken, err := security.GenerateJWT(7, security.RoleUser, testSecret, time.Hour)
	require.NoError(t, err)
	adminToken, err := security.GenerateJWT(1, security.RoleAdmin, testSecret, time.Hour)
	require.NoError(t, err)

	r := newRouter(Auth(testSecret), RequireAdmin())

	w := do(r, "Authorization", "Bearer "+userToken)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(r, "Authorization", "Bearer "+adminToken)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServiceToken(t *testing.T) {
	r := newRouter(ServiceToken("internal-token-123"))

	assert.Equal(t, http.StatusOK, do(r, ServiceTokenHeader, "internal-token-123").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, ServiceTokenHeader, "internal-token-124").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "", "").Code)
}

func TestServiceToken_EmptyConfiguredToken(t *testing.T) {
	r := newRouter(ServiceToken(""))
	assert.Equal(t, http.StatusUnauthorized, do(r, ServiceTokenHeader, "").Code)
}

func TestRateLimiter_UserLimit(t *testing.T) {
	rl := NewRateLimiter(3, 10, time.Minute)
	defer rl.Close()

	for i := 0; i < 3; i++ {
		assert.True(t, rl.CheckUserLimit(1), "request %d should be allowed", i+1)
	}
	assert.False(t, rl.CheckUserLimit(1))
	assert.Equal(t, 0, rl.GetUserRemaining(1))

	// other users have their own budget
	assert.True(t, rl.CheckUserLimit(2))
	assert.Equal(t, 2, rl.GetUserRemaining(2))
}

func TestRateLimiter_IPLimit(t *testing.T) {
	rl := NewRateLimiter(10, 2, time.Minute)
	defer rl.Close()

	assert.True(t, rl.CheckIPLimit("192.168.1.1"))
	assert.True(t, rl.CheckIPLimit("192.168.1.1"))
	assert.False(t, rl.CheckIPLimit("192.168.1.1"))
	assert.Equal(t, 2, rl.GetIPRemaining("192.168.1.2"))
}

func TestRateLimiter_WindowReset(t *testing.T) {
	rl := NewRateLimiter(1, 1, 20*time.Millisecond)
	defer rl.Close()

	assert.True(t, rl.CheckUserLimit(1))
	assert.False(t, rl.CheckUserLimit(1))

	time.Sleep(30 * time.Millisecond)
	assert.True(t, rl.CheckUserLimit(1))
}

func TestRateLimiter_Reset(t *testing.T) {
	rl := NewRateLimiter(1, 1, time.Minute)
	defer rl.Close()

	rl.CheckUserLimit(1)
	rl.CheckIPLimit("10.0.0.1")
	rl.Reset()

	assert.True(t, rl.CheckUserLimit(1))
	assert.True(t, rl.CheckIPLimit("10.0.0.1"))
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(0, 0, time.Minute)
	defer rl.Close()

	for i := 0; i < 100; i++ {
		require.True(t, rl.CheckUserLimit(1))
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(1, 2, time.Minute)
	defer rl.Close()

	token, err := security.GenerateJWT(9, security.RoleUser, testSecret, time.Hour)
	require.NoError(t, err)

	r := newRouter(rl.LimitByIP(), Auth(testSecret), rl.LimitByUser())

	w := do(r, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = do(r, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	// the IP budget of two is now spent too
	w = do(r, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "RATE_LIMIT_EXCEEDED")
}

func TestRequestLogger_SetsRequestID(t *testing.T) {
	r := newRouter(Recovery(), RequestLogger())

	w := do(r, "", "")
	assert.Len(t, w.Header().Get(RequestIDHeader), 36)

	w = do(r, RequestIDHeader, "upstream-id")
	assert.Equal(t, "upstream-id", w.Header().Get(RequestIDHeader))
}

func TestRecovery(t *testing.T) {
	r := newRouter(Recovery(), func(c *gin.Context) { panic("boom") })

	w := do(r, "", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}

func TestRateLimiter_RemainingHeader(t *testing.T) {
	rl := NewRateLimiter(0, 3, time.Minute)
	defer rl.Close()
	r := newRouter(rl.LimitByIP())

	for _, want := range []string{"2", "1", "0"} {
		w := do(r, "", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, want, w.Header().Get("X-RateLimit-Remaining"))
	}

	// a disabled budget sends no headers
	open := NewRateLimiter(0, 0, time.Minute)
	defer open.Close()
	w := do(newRouter(open.LimitByIP()), "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Remaining"))
}
