package admin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/telarin/latentvault/api/middleware"
	"github.com/telarin/latentvault/database/models"
	"github.com/telarin/latentvault/database/repo/accounts"
	"github.com/telarin/latentvault/database/repo/images"
)

type adminEnv struct {
	router       *gin.Engine
	db           *gorm.DB
	accountsRepo *accounts.Repository
}

func setupAdminEnv(t *testing.T) *adminEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Session{}, &models.Image{}))
	for _, model := range []interface{}{&models.Session{}, &models.Image{}, &models.User{}} {
		require.NoError(t, db.Session(&gorm.Session{AllowGlobalUpdate: true}).Unscoped().Delete(model).Error)
	}

	accountsRepo := accounts.NewRepository(db)
	sessionsRepo := accounts.NewSessionRepository(db)
	imagesRepo := images.NewRepository(db)

	handler := NewUsersHandler(accountsRepo, sessionsRepo, imagesRepo)
	statsHandler := NewStatsHandler(nil)

	router := gin.New()
	// 测试里用请求头注入身份，替代 JWT 中间件
	router.Use(func(c *gin.Context) {
		if v := c.GetHeader("X-Test-User"); v != "" {
			id, _ := strconv.ParseUint(v, 10, 32)
			c.Set(middleware.ContextUserIDKey, uint(id))
		}
		if role := c.GetHeader("X-Test-Role"); role != "" {
			c.Set(middleware.ContextRoleKey, role)
		}
		c.Next()
	})

	group := router.Group("/api/v1/admin")
	group.Use(middleware.RequireRole(models.RoleAdmin))
	{
		group.GET("/users", handler.ListUsers)
		group.POST("/users", handler.CreateUser)
		group.DELETE("/users/:id", handler.DeleteUser)
		group.GET("/stats", statsHandler.GetStats)
	}

	return &adminEnv{router: router, db: db, accountsRepo: accountsRepo}
}

func (e *adminEnv) seedUser(t *testing.T, username, role string) *models.User {
	t.Helper()
	user := &models.User{Username: username, Password: "x", Role: role}
	require.NoError(t, e.accountsRepo.CreateUser(user))
	return user
}

func (e *adminEnv) do(t *testing.T, method, path string, body interface{}, callerID uint, callerRole string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", fmt.Sprintf("%d", callerID))
	req.Header.Set("X-Test-Role", callerRole)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var envelope struct {
		Status string                 `json:"status"`
		Msg    string                 `json:"msg"`
		Data   map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Data
}

func TestCreateAndListUsers(t *testing.T) {
	env := setupAdminEnv(t)
	root := env.seedUser(t, "root", models.RoleAdmin)

	rec := env.do(t, http.MethodPost, "/api/v1/admin/users", gin.H{
		"username": "bob",
		"password": "longenoughpw",
	}, root.ID, models.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// 重名注册被拒
	rec = env.do(t, http.MethodPost, "/api/v1/admin/users", gin.H{
		"username": "bob",
		"password": "longenoughpw",
	}, root.ID, models.RoleAdmin)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// 短密码被拒
	rec = env.do(t, http.MethodPost, "/api/v1/admin/users", gin.H{
		"username": "carol",
		"password": "short",
	}, root.ID, models.RoleAdmin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// 非法角色被拒
	rec = env.do(t, http.MethodPost, "/api/v1/admin/users", gin.H{
		"username": "carol",
		"password": "longenoughpw",
		"role":     "superuser",
	}, root.ID, models.RoleAdmin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/admin/users", nil, root.ID, models.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.EqualValues(t, 2, data["total"])

	user, err := env.accountsRepo.GetUserByUsername("bob")
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, user.Role)
	// 存的是 argon2 哈希，不是明文
	assert.NotEqual(t, "longenoughpw", user.Password)
	assert.Contains(t, user.Password, "$argon2id$")
}

func TestDeleteUserGuards(t *testing.T) {
	env := setupAdminEnv(t)
	root := env.seedUser(t, "root", models.RoleAdmin)
	other := env.seedUser(t, "otheradmin", models.RoleAdmin)
	bob := env.seedUser(t, "bob", models.RoleUser)

	// 不能删除自己
	rec := env.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/admin/users/%d", root.ID), nil, root.ID, models.RoleAdmin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// 不能删除管理员
	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/admin/users/%d", other.ID), nil, root.ID, models.RoleAdmin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// 不存在的用户
	rec = env.do(t, http.MethodDelete, "/api/v1/admin/users/99999", nil, root.ID, models.RoleAdmin)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// 名下还有图片时拒删
	require.NoError(t, env.db.Create(&models.Image{
		Identifier: "img-1",
		UserID:     bob.ID,
		FileName:   "a.png",
		FilePath:   "a.png",
		FileSize:   1,
		MimeType:   "image/png",
	}).Error)
	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/admin/users/%d", bob.ID), nil, root.ID, models.RoleAdmin)
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.NoError(t, env.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Unscoped().Delete(&models.Image{}).Error)
	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/admin/users/%d", bob.ID), nil, root.ID, models.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	_, err := env.accountsRepo.GetUserByUsername("bob")
	assert.ErrorIs(t, err, accounts.ErrUserNotFound)
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	env := setupAdminEnv(t)
	bob := env.seedUser(t, "bob", models.RoleUser)

	rec := env.do(t, http.MethodGet, "/api/v1/admin/users", nil, bob.ID, models.RoleUser)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/admin/stats", nil, bob.ID, models.RoleUser)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStatsSnapshotShape(t *testing.T) {
	env := setupAdminEnv(t)
	root := env.seedUser(t, "root", models.RoleAdmin)

	rec := env.do(t, http.MethodGet, "/api/v1/admin/stats", nil, root.ID, models.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	require.Contains(t, data, "requests")
	require.Contains(t, data, "runtime")

	runtimeStats, ok := data["runtime"].(map[string]interface{})
	require.True(t, ok)
	assert.Greater(t, runtimeStats["goroutines"], float64(0))
}
