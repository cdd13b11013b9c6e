package images

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/telarin/latentvault/api/middleware"
	"github.com/telarin/latentvault/cache"
	"github.com/telarin/latentvault/database/models"
	"github.com/telarin/latentvault/database/repo/accounts"
	"github.com/telarin/latentvault/database/repo/favorites"
	"github.com/telarin/latentvault/database/repo/images"
	"github.com/telarin/latentvault/database/repo/shares"
	"github.com/telarin/latentvault/database/repo/tags"
	"github.com/telarin/latentvault/internal/importer"
	"github.com/telarin/latentvault/storage"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func pngChunk(typ string, payload []byte) []byte {
	buf := make([]byte, 0, len(payload)+12)
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(payload)))
	buf = append(buf, length[:]...)
	buf = append(buf, typ...)
	buf = append(buf, payload...)
	buf = append(buf, 0xde, 0xad, 0xbe, 0xef)
	return buf
}

func testPNG(promptText string) []byte {
	prompt := fmt.Sprintf(`{
		"1": {"class_type": "CheckpointLoaderSimple", "inputs": {"ckpt_name": "dreamshaper_8.safetensors"}},
		"2": {"class_type": "CLIPTextEncode", "inputs": {"text": %q}},
		"3": {"class_type": "KSampler", "inputs": {"steps": 20, "cfg": 7.5, "sampler_name": "euler"}}
	}`, promptText)
	payload := append(append([]byte("prompt"), 0), []byte(prompt)...)

	data := append([]byte{}, pngSignature...)
	data = append(data, pngChunk("tEXt", payload)...)
	return append(data, pngChunk("IEND", nil)...)
}

type testEnv struct {
	router  *gin.Engine
	handler *Handler
	db      *gorm.DB
}

// setupEnv 建一套内存数据库 + 临时目录存储的完整处理器环境。
// 认证中间件用假的替换：userID 从 X-Test-User 头里取。
func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{}, &models.Image{}, &models.Tag{}, &models.Favorite{}, &models.SharedImage{},
	))
	for _, m := range []interface{}{
		&models.SharedImage{}, &models.Favorite{}, &models.Tag{}, &models.Image{}, &models.User{},
	} {
		require.NoError(t, db.Unscoped().Where("1 = 1").Delete(m).Error)
	}

	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	cacheProvider, err := cache.NewMemoryCache(cache.MemoryConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cacheProvider.Close() })

	imagesRepo := images.NewRepository(db)
	importSvc := importer.NewService(imagesRepo, local, nil, 0)

	h := NewHandler(
		cacheProvider,
		imagesRepo,
		tags.NewRepository(db),
		favorites.NewRepository(db),
		shares.NewRepository(db),
		accounts.NewRepository(db),
		local,
		local,
		nil,
		importSvc,
		10*1024*1024,
	)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		if user := c.GetHeader("X-Test-User"); user != "" {
			var id uint
			_, _ = fmt.Sscanf(user, "%d", &id)
			c.Set(middleware.ContextUserIDKey, id)
		}
		c.Next()
	})

	router.GET("/images/:identifier", h.GetImage)
	router.GET("/thumbnails/:identifier", h.GetThumbnail)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/images", h.ListImages)
		v1.POST("/images/upload", h.UploadImages)
		v1.GET("/images/:identifier", h.GetImageDetail)
		v1.DELETE("/images/:identifier", h.DeleteImage)
		v1.POST("/images/:identifier/favorite", h.Favorite)
		v1.DELETE("/images/:identifier/favorite", h.Unfavorite)
		v1.POST("/images/:identifier/tags", h.AddTag)
		v1.DELETE("/images/:identifier/tags/:name", h.RemoveTag)
		v1.GET("/tags", h.ListUserTags)
		v1.POST("/images/:identifier/share", h.ShareImage)
		v1.DELETE("/images/:identifier/share/:username", h.UnshareImage)
		v1.GET("/shared-with-me", h.SharedWithMe)
	}

	return &testEnv{router: router, handler: h, db: db}
}

func (e *testEnv) createUser(t *testing.T, username string) uint {
	t.Helper()
	user := &models.User{Username: username, Password: "x", Role: models.RoleUser}
	require.NoError(t, e.db.Create(user).Error)
	return user.ID
}

func (e *testEnv) do(t *testing.T, userID uint, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if userID != 0 {
		req.Header.Set("X-Test-User", fmt.Sprintf("%d", userID))
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) doJSON(t *testing.T, userID uint, method, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return e.do(t, userID, method, path, body, "application/json")
}

// upload 以指定用户身份上传一个合成 PNG，返回 identifier
func (e *testEnv) upload(t *testing.T, userID uint, fileName, promptText string) string {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = fw.Write(testPNG(promptText))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	w := e.do(t, userID, http.MethodPost, "/api/v1/images/upload", buf.Bytes(), mw.FormDataContentType())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Data struct {
			Imported int `json:"imported"`
			Results  []struct {
				Identifier string `json:"identifier"`
				Error      string `json:"error"`
			} `json:"results"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Data.Imported)
	require.NotEmpty(t, resp.Data.Results[0].Identifier)
	return resp.Data.Results[0].Identifier
}

func TestUploadListDetailFlow(t *testing.T) {
	env := setupEnv(t)
	alice := env.createUser(t, "alice")

	id := env.upload(t, alice, "castle.png", "castle on a hill")

	// 列表
	w := env.doJSON(t, alice, http.MethodPost, "/api/v1/images", gin.H{"page": 1, "limit": 10})
	require.Equal(t, http.StatusOK, w.Code)
	var listResp struct {
		Data ImageListResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	require.Len(t, listResp.Data.Images, 1)
	assert.Equal(t, id, listResp.Data.Images[0].Identifier)
	assert.Equal(t, "castle.png", listResp.Data.Images[0].FileName)
	assert.Equal(t, int64(1), listResp.Data.Total)

	// 详情：解出的提示词和参数都在
	w = env.do(t, alice, http.MethodGet, "/api/v1/images/"+id, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var detailResp struct {
		Data ImageDetailResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detailResp))
	assert.True(t, detailResp.Data.HasMetadata)
	require.NotNil(t, detailResp.Data.PromptText)
	assert.Equal(t, "castle on a hill", *detailResp.Data.PromptText)
	assert.Contains(t, string(detailResp.Data.Params), "dreamshaper_8.safetensors")
}

func TestSearchAndModelFilter(t *testing.T) {
	env := setupEnv(t)
	alice := env.createUser(t, "alice")

	env.upload(t, alice, "castle.png", "castle on a hill")
	env.upload(t, alice, "forest.png", "deep forest")

	w := env.doJSON(t, alice, http.MethodPost, "/api/v1/images", gin.H{"page": 1, "limit": 10, "search": "castle"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data ImageListResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Images, 1)
	assert.Equal(t, "castle.png", resp.Data.Images[0].FileName)

	// 两张图都是 dreamshaper 出的
	w = env.doJSON(t, alice, http.MethodPost, "/api/v1/images", gin.H{"page": 1, "limit": 10, "model": "dreamshaper"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data.Images, 2)

	w = env.doJSON(t, alice, http.MethodPost, "/api/v1/images", gin.H{"page": 1, "limit": 10, "model": "sdxl"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data.Images, 0)
}

func TestVisibilityIsolation(t *testing.T) {
	env := setupEnv(t)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	id := env.upload(t, alice, "secret.png", "private artwork")

	// bob 看不到，也区分不出图片是否存在
	w := env.do(t, bob, http.MethodGet, "/api/v1/images/"+id, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, bob, http.MethodGet, "/api/v1/images/does-not-exist", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	// 共享后 bob 可见
	w = env.doJSON(t, alice, http.MethodPost, "/api/v1/images/"+id+"/share", gin.H{"username": "bob"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, bob, http.MethodGet, "/api/v1/images/"+id, nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, bob, http.MethodGet, "/api/v1/shared-with-me", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var sharedResp struct {
		Data struct {
			Total int64 `json:"total"`
			Images []struct {
				Identifier string `json:"identifier"`
				SharedBy   string `json:"shared_by"`
			} `json:"images"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sharedResp))
	require.Equal(t, int64(1), sharedResp.Data.Total)
	assert.Equal(t, id, sharedResp.Data.Images[0].Identifier)
	assert.Equal(t, "alice", sharedResp.Data.Images[0].SharedBy)

	// 共享是只读的：bob 不能删除
	w = env.do(t, bob, http.MethodDelete, "/api/v1/images/"+id, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	// 撤销共享后 bob 又看不到了
	w = env.do(t, alice, http.MethodDelete, "/api/v1/images/"+id+"/share/bob", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, bob, http.MethodGet, "/api/v1/images/"+id, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestShareValidation(t *testing.T) {
	env := setupEnv(t)
	alice := env.createUser(t, "alice")
	id := env.upload(t, alice, "a.png", "x")

	// 不能共享给自己
	w := env.doJSON(t, alice, http.MethodPost, "/api/v1/images/"+id+"/share", gin.H{"username": "alice"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 接收方必须存在
	w = env.doJSON(t, alice, http.MethodPost, "/api/v1/images/"+id+"/share", gin.H{"username": "nobody"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// 撤销不存在的共享
	env.createUser(t, "bob")
	w = env.do(t, alice, http.MethodDelete, "/api/v1/images/"+id+"/share/bob", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFavoriteFilter(t *testing.T) {
	env := setupEnv(t)
	alice := env.createUser(t, "alice")

	fav := env.upload(t, alice, "fav.png", "keeper")
	env.upload(t, alice, "other.png", "meh")

	// 收藏两次幂等
	w := env.do(t, alice, http.MethodPost, "/api/v1/images/"+fav+"/favorite", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, alice, http.MethodPost, "/api/v1/images/"+fav+"/favorite", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = env.doJSON(t, alice, http.MethodPost, "/api/v1/images", gin.H{"page": 1, "limit": 10, "favorite": true})
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data ImageListResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Images, 1)
	assert.Equal(t, fav, resp.Data.Images[0].Identifier)
	assert.True(t, resp.Data.Images[0].Favorite)

	// 取消收藏
	w = env.do(t, alice, http.MethodDelete, "/api/v1/images/"+fav+"/favorite", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	w = env.doJSON(t, alice, http.MethodPost, "/api/v1/images", gin.H{"page": 1, "limit": 10, "favorite": true})
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data.Images, 0)
}

func TestTagLifecycle(t *testing.T) {
	env := setupEnv(t)
	alice := env.createUser(t, "alice")
	id := env.upload(t, alice, "a.png", "x")

	w := env.doJSON(t, alice, http.MethodPost, "/api/v1/images/"+id+"/tags", gin.H{"name": "Landscape", "category": "setting"})
	require.Equal(t, http.StatusOK, w.Code)

	// 名字统一小写
	w = env.do(t, alice, http.MethodGet, "/api/v1/images/"+id, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var detailResp struct {
		Data ImageDetailResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detailResp))
	require.Len(t, detailResp.Data.Tags, 1)
	assert.Equal(t, "landscape", detailResp.Data.Tags[0].Name)
	assert.Equal(t, "manual", detailResp.Data.Tags[0].Source)

	// 按标签过滤
	var listResp struct {
		Data ImageListResponse `json:"data"`
	}
	w = env.doJSON(t, alice, http.MethodPost, "/api/v1/images", gin.H{"page": 1, "limit": 10, "tag": "landscape"})
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	assert.Len(t, listResp.Data.Images, 1)

	// 标签云
	w = env.do(t, alice, http.MethodGet, "/api/v1/tags", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "landscape")

	// 删除标签
	w = env.do(t, alice, http.MethodDelete, "/api/v1/images/"+id+"/tags/landscape", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	w = env.doJSON(t, alice, http.MethodPost, "/api/v1/images", gin.H{"page": 1, "limit": 10, "tag": "landscape"})
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	assert.Len(t, listResp.Data.Images, 0)
}

func TestServeRawImage(t *testing.T) {
	env := setupEnv(t)
	alice := env.createUser(t, "alice")
	id := env.upload(t, alice, "raw.png", "served bytes")

	w := env.do(t, alice, http.MethodGet, "/images/"+id, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), pngSignature))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "raw.png")

	// 缩略图未生成时退回原图
	w = env.do(t, alice, http.MethodGet, "/thumbnails/"+id, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
}

func TestDeleteRemovesRecordAndFile(t *testing.T) {
	env := setupEnv(t)
	alice := env.createUser(t, "alice")
	id := env.upload(t, alice, "gone.png", "to be deleted")

	var img models.Image
	require.NoError(t, env.db.Where("identifier = ?", id).First(&img).Error)

	w := env.do(t, alice, http.MethodDelete, "/api/v1/images/"+id, nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	// 记录没了
	w = env.do(t, alice, http.MethodGet, "/api/v1/images/"+id, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	// 文件也没了
	exists, err := env.handler.local.Exists(context.Background(), img.FilePath)
	require.NoError(t, err)
	assert.False(t, exists)
}
