package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clearci/pkg/api/middleware"
	"clearci/pkg/auth"
)

// stubKeyStore recognizes a single plaintext key.
type stubKeyStore struct {
	key  string
	info auth.APIKeyInfo
}

func (s *stubKeyStore) ValidateKey(_ context.Context, key string) (*auth.APIKeyInfo, error) {
	if key != s.key {
		return nil, auth.ErrInvalidToken
	}
	info := s.info
	return &info, nil
}

func (s *stubKeyStore) CreateKey(context.Context, auth.APIKeyInfo) (string, error) {
	return "", nil
}
func (s *stubKeyStore) RevokeKey(context.Context, string) error { return nil }
func (s *stubKeyStore) ListKeys(context.Context, string) ([]auth.APIKeyInfo, error) {
	return nil, nil
}

func newAuthRouter(t *testing.T, required auth.Role) (*gin.Engine, *auth.JWTService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := auth.DefaultJWTConfig()
	cfg.SecretKey = "middleware-test-secret"
	svc, err := auth.NewJWTService(cfg)
	require.NoError(t, err)

	keys := &stubKeyStore{
		key:  "cck_deadbeef",
		info: auth.APIKeyInfo{OwnerID: "u-key", Name: "ci-bot", Role: auth.RoleViewer},
	}

	router := gin.New()
	router.Use(middleware.Auth(middleware.AuthConfig{
		JWTService:  svc,
		APIKeyStore: keys,
		SkipPaths:   []string{"/health"},
	}))

	handler := func(c *gin.Context) {
		claims, _ := middleware.GetUserFromContext(c)
		if claims != nil {
			c.JSON(http.StatusOK, gin.H{"user": claims.UserID})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": "anonymous"})
	}

	router.GET("/health", handler)
	router.GET("/protected", handler)
	router.DELETE("/admin-only", middleware.RequireRole(required), handler)

	return router, svc
}

func TestAuthRejectsMissingCredentials(t *testing.T) {
	router, _ := newAuthRouter(t, auth.RoleAdmin)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/protected", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthSkipPathPassesThrough(t *testing.T) {
	router, _ := newAuthRouter(t, auth.RoleAdmin)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "anonymous")
}

func TestAuthAcceptsBearerToken(t *testing.T) {
	router, svc := newAuthRouter(t, auth.RoleAdmin)

	token, err := svc.GenerateToken("u-1", "alice", auth.RoleOperator)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "u-1")
}

func TestAuthAcceptsAPIKey(t *testing.T) {
	router, _ := newAuthRouter(t, auth.RoleAdmin)

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("X-API-Key", "cck_deadbeef")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "u-key")
}

func TestAuthRejectsUnknownAPIKey(t *testing.T) {
	router, _ := newAuthRouter(t, auth.RoleAdmin)

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("X-API-Key", "cck_wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireRoleBlocksLowerRole(t *testing.T) {
	router, svc := newAuthRouter(t, auth.RoleAdmin)

	token, err := svc.GenerateToken("u-2", "bob", auth.RoleOperator)
	require.NoError(t, err)

	req := httptest.NewRequest("DELETE", "/admin-only", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequireRoleAllowsSufficientRole(t *testing.T) {
	router, svc := newAuthRouter(t, auth.RoleOperator)

	token, err := svc.GenerateToken("u-3", "carol", auth.RoleAdmin)
	require.NoError(t, err)

	req := httptest.NewRequest("DELETE", "/admin-only", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
