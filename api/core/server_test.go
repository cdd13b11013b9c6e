package core

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/telarin/latentvault/docs"

	"github.com/telarin/latentvault/cache"
	"github.com/telarin/latentvault/config"
	"github.com/telarin/latentvault/database"
	"github.com/telarin/latentvault/database/models"
	"github.com/telarin/latentvault/database/repo/accounts"
	"github.com/telarin/latentvault/database/repo/favorites"
	"github.com/telarin/latentvault/database/repo/images"
	"github.com/telarin/latentvault/database/repo/shares"
	"github.com/telarin/latentvault/database/repo/tags"
	"github.com/telarin/latentvault/internal/analytics"
	"github.com/telarin/latentvault/internal/auth"
	"github.com/telarin/latentvault/internal/importer"
	"github.com/telarin/latentvault/internal/tagging"
	"github.com/telarin/latentvault/internal/worker"
	"github.com/telarin/latentvault/storage"
	cryptopackage "github.com/telarin/latentvault/utils/crypto"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		ServerHost:          "127.0.0.1",
		ServerPort:          8080,
		ServerReadTimeout:   15 * time.Second,
		ServerWriteTimeout:  30 * time.Second,
		ServerIdleTimeout:   120 * time.Second,
		DBType:              "sqlite",
		DBFilePath:          filepath.Join(dir, "test.db"),
		JWTSecret:           "integration-test-secret-0123456789abcdef",
		JWTExpiresIn:        time.Hour,
		JWTRefreshExpiresIn: 24 * time.Hour,
		StorageType:         "local",
		StorageLocalPath:    filepath.Join(dir, "library"),
		CacheType:           "memory",
		AnalyticsCacheTTL:   60,
		RateLimitApiRPS:     100,
		RateLimitApiBurst:   200,
		RateLimitImageRPS:   100,
		RateLimitImageBurst: 200,
		RateLimitAuthRPS:    50,
		RateLimitAuthBurst:  100,
		RateLimitExpireTime: time.Minute,
		UploadMaxSizeMB:     10,
		ImportPageSize:      20,
		ThumbnailMaxPx:      400,
	}
}

// newTestServer 用真实依赖组装完整路由：临时 sqlite 文件库、
// 内存缓存、临时目录本地存储。
func newTestServer(t *testing.T) (*gin.Engine, *RouterDependencies) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := testConfig(t)

	dbFactory, err := database.NewFactory(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbFactory.Close() })
	require.NoError(t, dbFactory.AutoMigrate())

	storageFactory, err := storage.NewFactory(cfg)
	require.NoError(t, err)

	cacheProvider, err := cache.New(cache.Config{Type: cfg.CacheType})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cacheProvider.Close() })

	db := dbFactory.GetProvider().DB()
	accountsRepo := accounts.NewRepository(db)
	sessionsRepo := accounts.NewSessionRepository(db)
	imagesRepo := images.NewRepository(db)
	tagsRepo := tags.NewRepository(db)
	favoritesRepo := favorites.NewRepository(db)
	sharesRepo := shares.NewRepository(db)

	jwtService, err := auth.NewJWTService(cfg.JWTSecret, cfg.JWTExpiresIn, cfg.JWTRefreshExpiresIn)
	require.NoError(t, err)
	loginService := auth.NewLoginService(accountsRepo, sessionsRepo, jwtService)

	localProvider, err := storageFactory.Get("local")
	require.NoError(t, err)
	localStorage := localProvider.(*storage.LocalStorage)

	thumbs := worker.NewThumbnailService(imagesRepo, storageFactory.GetDefault(), localStorage, cfg.ThumbnailMaxPx)
	importSvc := importer.NewService(imagesRepo, storageFactory.GetDefault(), thumbs, 0)
	taggingSvc := tagging.NewService(nil, imagesRepo, tagsRepo, storageFactory.GetDefault())
	analyticsSvc := analytics.NewService(imagesRepo, cacheProvider, time.Duration(cfg.AnalyticsCacheTTL)*time.Second)

	deps := &RouterDependencies{
		Config:           cfg,
		DatabaseFactory:  dbFactory,
		StorageFactory:   storageFactory,
		CacheProvider:    cacheProvider,
		LocalStorage:     localStorage,
		AccountsRepo:     accountsRepo,
		SessionsRepo:     sessionsRepo,
		ImagesRepo:       imagesRepo,
		TagsRepo:         tagsRepo,
		FavoritesRepo:    favoritesRepo,
		SharesRepo:       sharesRepo,
		JWTService:       jwtService,
		LoginService:     loginService,
		ImportService:    importSvc,
		TaggingService:   taggingSvc,
		AnalyticsService: analyticsSvc,
		ThumbnailService: thumbs,
	}

	router, cleanup := setupRouter(deps)
	t.Cleanup(cleanup)
	return router, deps
}

func seedAccount(t *testing.T, deps *RouterDependencies, username, password, role string) *models.User {
	t.Helper()
	hashed, err := cryptopackage.GenerateFromPassword(password)
	require.NoError(t, err)
	user := &models.User{Username: username, Password: hashed, Role: role}
	require.NoError(t, deps.AccountsRepo.CreateUser(user))
	return user
}

func loginToken(t *testing.T, router *gin.Engine, username, password string) string {
	t.Helper()
	body, err := json.Marshal(gin.H{"username": username, "password": password})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var envelope struct {
		Data struct {
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.True(t, strings.HasPrefix(envelope.Data.AccessToken, "Bearer "))
	return envelope.Data.AccessToken
}

func doAuthed(router *gin.Engine, method, path, token string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var health struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "ok", health.Checks["database"])
	assert.Equal(t, "ok", health.Checks["cache"])
	assert.Equal(t, "ok", health.Checks["storage"])
}

func TestVersionAndMetricsEndpoints(t *testing.T) {
	router, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), config.Version)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats struct {
		Total uint64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.GreaterOrEqual(t, stats.Total, uint64(1))
}

func TestSwaggerServedOutsideProduction(t *testing.T) {
	router, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIRequiresAuth(t *testing.T) {
	router, _ := newTestServer(t)

	body := []byte(`{"page":1,"limit":20}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/images", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/images", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer not-a-real-token")
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// 文件路由同样要求登录
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/images/some-identifier", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginAndAuthenticatedFlow(t *testing.T) {
	router, deps := newTestServer(t)
	seedAccount(t, deps, "alice", "correct horse battery", models.RoleUser)

	token := loginToken(t, router, "alice", "correct horse battery")

	rec := doAuthed(router, http.MethodPost, "/api/v1/images", token, []byte(`{"page":1,"limit":20}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"total":0`)

	rec = doAuthed(router, http.MethodGet, "/api/v1/tags", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doAuthed(router, http.MethodGet, "/api/v1/analytics/insights", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doAuthed(router, http.MethodGet, "/api/v1/shared-with-me", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminRoutesGuardedByRole(t *testing.T) {
	router, deps := newTestServer(t)
	seedAccount(t, deps, "alice", "correct horse battery", models.RoleUser)
	seedAccount(t, deps, "root", "correct horse battery", models.RoleAdmin)

	userToken := loginToken(t, router, "alice", "correct horse battery")
	rec := doAuthed(router, http.MethodGet, "/api/v1/admin/users", userToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	adminToken := loginToken(t, router, "root", "correct horse battery")
	rec = doAuthed(router, http.MethodGet, "/api/v1/admin/users", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "alice")

	rec = doAuthed(router, http.MethodGet, "/api/v1/admin/stats", adminToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTaggingReportsUnconfigured(t *testing.T) {
	router, deps := newTestServer(t)
	seedAccount(t, deps, "alice", "correct horse battery", models.RoleUser)
	token := loginToken(t, router, "alice", "correct horse battery")

	rec := doAuthed(router, http.MethodPost, "/api/v1/tagging/batch", token, []byte(`{"ids":[1]}`))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
