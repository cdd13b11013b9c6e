package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/telarin/latentvault/api/middleware"
	"github.com/telarin/latentvault/database/models"
	"github.com/telarin/latentvault/database/repo/accounts"
	internalauth "github.com/telarin/latentvault/internal/auth"
	cryptopackage "github.com/telarin/latentvault/utils/crypto"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

func setupAuthRouter(t *testing.T) (*gin.Engine, *internalauth.JWTService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Session{}))
	for _, m := range []interface{}{&models.Session{}, &models.User{}} {
		require.NoError(t, db.Unscoped().Where("1 = 1").Delete(m).Error)
	}

	hashed, err := cryptopackage.GenerateFromPassword("correct horse battery")
	require.NoError(t, err)
	require.NoError(t, db.Create(&models.User{Username: "alice", Password: hashed, Role: models.RoleUser}).Error)

	jwtService, err := internalauth.NewJWTService(testSecret, time.Hour, 24*time.Hour)
	require.NoError(t, err)

	accountsRepo := accounts.NewRepository(db)
	sessionsRepo := accounts.NewSessionRepository(db)
	loginService := internalauth.NewLoginService(accountsRepo, sessionsRepo, jwtService)

	h := NewHandler(loginService)

	router := gin.New()
	authGroup := router.Group("/api/auth")
	{
		authGroup.POST("/login", h.Login)
		authGroup.POST("/refresh", h.Refresh)
		authGroup.POST("/logout", h.Logout)
	}
	v1 := router.Group("/api/v1")
	v1.Use(middleware.RequireAuth(jwtService))
	{
		v1.PUT("/auth/password", h.ChangePassword)
	}

	return router, jwtService
}

func postJSON(t *testing.T, router *gin.Engine, path string, payload interface{}, cookies []*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func loginAs(t *testing.T, router *gin.Engine, username, password string) (string, []*http.Cookie) {
	t.Helper()
	w := postJSON(t, router, "/api/auth/login", gin.H{"username": username, "password": password}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Data loginResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, strings.HasPrefix(resp.Data.AccessToken, "Bearer "))

	return strings.TrimPrefix(resp.Data.AccessToken, "Bearer "), w.Result().Cookies()
}

func TestLoginSetsCookiesAndToken(t *testing.T) {
	router, jwtService := setupAuthRouter(t)

	token, cookies := loginAs(t, router, "alice", "correct horse battery")

	claims, err := jwtService.ExtractClaims(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "access", claims.Type)

	var hasRefresh, hasSession bool
	for _, c := range cookies {
		switch c.Name {
		case "refresh_token":
			hasRefresh = true
			assert.NotEmpty(t, c.Value)
			assert.Equal(t, "/api/auth/", c.Path)
			assert.True(t, c.HttpOnly)
		case "session_id":
			hasSession = true
			assert.NotEmpty(t, c.Value)
		}
	}
	assert.True(t, hasRefresh)
	assert.True(t, hasSession)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	router, _ := setupAuthRouter(t)

	w := postJSON(t, router, "/api/auth/login", gin.H{"username": "alice", "password": "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 不存在的用户得到同样的响应
	w = postJSON(t, router, "/api/auth/login", gin.H{"username": "nobody", "password": "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRefreshRotatesToken(t *testing.T) {
	router, _ := setupAuthRouter(t)

	_, cookies := loginAs(t, router, "alice", "correct horse battery")

	w := postJSON(t, router, "/api/auth/refresh", nil, cookies)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	newCookies := w.Result().Cookies()
	oldToken := cookieValue(cookies, "refresh_token")
	newToken := cookieValue(newCookies, "refresh_token")
	require.NotEmpty(t, newToken)
	assert.NotEqual(t, oldToken, newToken)

	// 旧刷新令牌已被轮换掉
	w = postJSON(t, router, "/api/auth/refresh", nil, cookies)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 新的可以继续用
	merged := mergeCookies(cookies, newCookies)
	w = postJSON(t, router, "/api/auth/refresh", nil, merged)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRefreshWithoutCookies(t *testing.T) {
	router, _ := setupAuthRouter(t)

	w := postJSON(t, router, "/api/auth/refresh", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogoutRevokesSession(t *testing.T) {
	router, _ := setupAuthRouter(t)

	_, cookies := loginAs(t, router, "alice", "correct horse battery")

	w := postJSON(t, router, "/api/auth/logout", nil, cookies)
	require.Equal(t, http.StatusOK, w.Code)

	// 登出后刷新失败
	w = postJSON(t, router, "/api/auth/refresh", nil, cookies)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 没有会话的登出也平静返回
	w = postJSON(t, router, "/api/auth/logout", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestChangePasswordFlow(t *testing.T) {
	router, _ := setupAuthRouter(t)

	token, cookies := loginAs(t, router, "alice", "correct horse battery")

	body, _ := json.Marshal(gin.H{"old_password": "wrong", "new_password": "longenoughpassword"})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/auth/password", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	body, _ = json.Marshal(gin.H{"old_password": "correct horse battery", "new_password": "longenoughpassword"})
	req = httptest.NewRequest(http.MethodPut, "/api/v1/auth/password", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// 改密吊销全部会话：旧刷新令牌失效
	w2 := postJSON(t, router, "/api/auth/refresh", nil, cookies)
	assert.Equal(t, http.StatusUnauthorized, w2.Code)

	// 新密码可以登录
	loginAs(t, router, "alice", "longenoughpassword")
}

func TestProtectedRouteRejectsWithoutToken(t *testing.T) {
	router, _ := setupAuthRouter(t)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/auth/password", bytes.NewReader([]byte("{}")))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func cookieValue(cookies []*http.Cookie, name string) string {
	for _, c := range cookies {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// mergeCookies 用新下发的同名 cookie 覆盖旧的
func mergeCookies(oldCookies, newCookies []*http.Cookie) []*http.Cookie {
	merged := map[string]*http.Cookie{}
	for _, c := range oldCookies {
		merged[c.Name] = c
	}
	for _, c := range newCookies {
		merged[c.Name] = c
	}
	out := make([]*http.Cookie, 0, len(merged))
	for _, c := range merged {
		out = append(out, c)
	}
	return out
}
