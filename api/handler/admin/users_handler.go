package admin

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/telarin/latentvault/api/common"
	"github.com/telarin/latentvault/api/middleware"
	"github.com/telarin/latentvault/database/models"
	"github.com/telarin/latentvault/database/repo/accounts"
	"github.com/telarin/latentvault/database/repo/images"
	"github.com/telarin/latentvault/utils"
	cryptopackage "github.com/telarin/latentvault/utils/crypto"
)

// UsersHandler 用户管理处理器
type UsersHandler struct {
	accountsRepo *accounts.Repository
	sessionsRepo *accounts.SessionRepository
	imagesRepo   *images.Repository
}

// NewUsersHandler 创建用户管理处理器
func NewUsersHandler(accountsRepo *accounts.Repository, sessionsRepo *accounts.SessionRepository, imagesRepo *images.Repository) *UsersHandler {
	return &UsersHandler{
		accountsRepo: accountsRepo,
		sessionsRepo: sessionsRepo,
		imagesRepo:   imagesRepo,
	}
}

type createUserRequestBody struct {
	Username string `json:"username" binding:"required,min=3,max=32"`
	Password string `json:"password" binding:"required,min=8"`
	Role     string `json:"role"`
}

type userDTO struct {
	ID         uint   `json:"id"`
	Username   string `json:"username"`
	Role       string `json:"role"`
	CreatedAt  int64  `json:"created_at"`
	ImageCount int64  `json:"image_count"`
}

// CreateUser 创建用户
// @Summary      创建用户
// @Description  管理员创建新账户，角色可选 user 或 admin，默认 user
// @Tags         admin
// @Accept       json
// @Produce      json
// @Param        request  body  createUserRequestBody  true  "用户信息"
// @Success      200  {object}  common.Response
// @Failure      400  {object}  common.Response
// @Failure      409  {object}  common.Response
// @Security     BearerAuth
// @Router       /api/v1/admin/users [post]
func (h *UsersHandler) CreateUser(c *gin.Context) {
	var body createUserRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		common.RespondError(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	username := strings.TrimSpace(body.Username)
	if username == "" {
		common.RespondError(c, http.StatusBadRequest, "Username cannot be blank")
		return
	}

	role := body.Role
	if role == "" {
		role = models.RoleUser
	}
	if role != models.RoleUser && role != models.RoleAdmin {
		common.RespondError(c, http.StatusBadRequest, "Role must be user or admin")
		return
	}

	exists, err := h.accountsRepo.WithContext(c.Request.Context()).UserExists(username)
	if err != nil {
		log.Printf("Failed to check user existence: %v", err)
		common.RespondError(c, http.StatusInternalServerError, "Failed to create user")
		return
	}
	if exists {
		common.RespondError(c, http.StatusConflict, "Username already taken")
		return
	}

	hashed, err := cryptopackage.GenerateFromPassword(body.Password)
	if err != nil {
		log.Printf("Failed to hash password: %v", err)
		common.RespondError(c, http.StatusInternalServerError, "Failed to create user")
		return
	}

	user := &models.User{
		Username: username,
		Password: hashed,
		Role:     role,
	}
	if err := h.accountsRepo.WithContext(c.Request.Context()).CreateUser(user); err != nil {
		log.Printf("Failed to create user %s: %v", utils.SanitizeLogUsername(username), err)
		common.RespondError(c, http.StatusInternalServerError, "Failed to create user")
		return
	}

	log.Printf("User %s created with role %s", utils.SanitizeLogUsername(username), role)
	common.RespondSuccess(c, userDTO{
		ID:        user.ID,
		Username:  user.Username,
		Role:      user.Role,
		CreatedAt: user.CreatedAt.Unix(),
	})
}

// ListUsers 列出所有用户
// @Summary      用户列表
// @Description  返回全部账户及各自的图片数量
// @Tags         admin
// @Produce      json
// @Success      200  {object}  common.Response
// @Security     BearerAuth
// @Router       /api/v1/admin/users [get]
func (h *UsersHandler) ListUsers(c *gin.Context) {
	users, err := h.accountsRepo.WithContext(c.Request.Context()).ListUsers()
	if err != nil {
		log.Printf("Failed to list users: %v", err)
		common.RespondError(c, http.StatusInternalServerError, "Failed to list users")
		return
	}

	out := make([]userDTO, 0, len(users))
	for _, user := range users {
		count, err := h.imagesRepo.WithContext(c.Request.Context()).CountByUser(user.ID)
		if err != nil {
			log.Printf("Failed to count images for user %d: %v", user.ID, err)
			common.RespondError(c, http.StatusInternalServerError, "Failed to list users")
			return
		}
		out = append(out, userDTO{
			ID:         user.ID,
			Username:   user.Username,
			Role:       user.Role,
			CreatedAt:  user.CreatedAt.Unix(),
			ImageCount: count,
		})
	}

	common.RespondSuccess(c, gin.H{"total": len(out), "users": out})
}

// DeleteUser 删除用户
// @Summary      删除用户
// @Description  不能删除自己和管理员账户；名下还有图片的账户需先清空图库
// @Tags         admin
// @Produce      json
// @Param        id  path  int  true  "用户 ID"
// @Success      200  {object}  common.Response
// @Failure      400  {object}  common.Response
// @Failure      404  {object}  common.Response
// @Failure      409  {object}  common.Response
// @Security     BearerAuth
// @Router       /api/v1/admin/users/{id} [delete]
func (h *UsersHandler) DeleteUser(c *gin.Context) {
	callerID := c.GetUint(middleware.ContextUserIDKey)

	targetID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		common.RespondError(c, http.StatusBadRequest, "Invalid user id")
		return
	}
	if uint(targetID) == callerID {
		common.RespondError(c, http.StatusBadRequest, "Cannot delete your own account")
		return
	}

	target, err := h.accountsRepo.WithContext(c.Request.Context()).GetUserByID(uint(targetID))
	if err != nil {
		if errors.Is(err, accounts.ErrUserNotFound) {
			common.RespondError(c, http.StatusNotFound, "User not found")
			return
		}
		log.Printf("Failed to load user %d: %v", targetID, err)
		common.RespondError(c, http.StatusInternalServerError, "Failed to delete user")
		return
	}
	if target.IsAdmin() {
		common.RespondError(c, http.StatusBadRequest, "Cannot delete an admin account")
		return
	}

	// 图片记录和存储文件不跟随账户级联，先清空图库再删账户
	count, err := h.imagesRepo.WithContext(c.Request.Context()).CountByUser(target.ID)
	if err != nil {
		log.Printf("Failed to count images for user %d: %v", target.ID, err)
		common.RespondError(c, http.StatusInternalServerError, "Failed to delete user")
		return
	}
	if count > 0 {
		common.RespondError(c, http.StatusConflict, "User still owns images, delete them first")
		return
	}

	if err := h.sessionsRepo.WithContext(c.Request.Context()).DeleteByUser(target.ID); err != nil {
		log.Printf("Failed to revoke sessions for user %d: %v", target.ID, err)
		common.RespondError(c, http.StatusInternalServerError, "Failed to delete user")
		return
	}
	if err := h.accountsRepo.WithContext(c.Request.Context()).DeleteUser(target.ID); err != nil {
		log.Printf("Failed to delete user %d: %v", target.ID, err)
		common.RespondError(c, http.StatusInternalServerError, "Failed to delete user")
		return
	}

	log.Printf("User %s (id %d) deleted", utils.SanitizeLogUsername(target.Username), target.ID)
	common.RespondSuccessMessage(c, "User deleted", nil)
}
