package auth

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/telarin/latentvault/api/common"
	"github.com/telarin/latentvault/api/middleware"
	"github.com/telarin/latentvault/config"
	"github.com/telarin/latentvault/internal/auth"
	"github.com/telarin/latentvault/utils"
)

// Handler 登录会话处理器
type Handler struct {
	loginService *auth.LoginService
}

// NewHandler 创建登录会话处理器
func NewHandler(loginService *auth.LoginService) *Handler {
	return &Handler{loginService: loginService}
}

type userAuthRequestBody struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type changePasswordRequestBody struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=8"`
}

type loginResponse struct {
	AccessToken       string `json:"access_token"`
	AccessTokenExpiry int64  `json:"access_token_expiry"`
}

// Login 用户登录
// @Summary      登录
// @Description  校验用户名密码，返回访问令牌；刷新令牌和会话号写入 HttpOnly Cookie
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      userAuthRequestBody  true  "用户名与密码"
// @Success      200   {object}  common.Response
// @Failure      401   {object}  common.Response
// @Router       /api/auth/login [post]
func (h *Handler) Login(c *gin.Context) {
	var req userAuthRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.loginService.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			common.RespondError(c, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		log.Printf("Login failed for user '%s': %v", utils.SanitizeLogUsername(req.Username), err)
		common.RespondError(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	refreshTokenMaxAge := int(time.Until(result.RefreshTokenExpiry).Seconds())
	setAuthCookies(c, result.RefreshToken, result.SessionID, refreshTokenMaxAge)

	common.RespondSuccessMessage(c, "Login successful", loginResponse{
		AccessToken:       "Bearer " + result.AccessToken,
		AccessTokenExpiry: result.AccessTokenExpiry.Unix(),
	})
}

// Refresh 刷新访问令牌，刷新令牌随之轮换
// @Summary      刷新令牌
// @Tags         auth
// @Produce      json
// @Success      200  {object}  common.Response
// @Failure      401  {object}  common.Response
// @Router       /api/auth/refresh [post]
func (h *Handler) Refresh(c *gin.Context) {
	refreshToken, err := c.Cookie("refresh_token")
	if err != nil {
		common.RespondError(c, http.StatusUnauthorized, "Refresh token not found")
		return
	}

	sessionID, err := c.Cookie("session_id")
	if err != nil {
		common.RespondError(c, http.StatusUnauthorized, "Session ID not found")
		return
	}

	result, err := h.loginService.RefreshToken(refreshToken, sessionID)
	if err != nil {
		common.RespondError(c, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	newRefreshTokenMaxAge := int(time.Until(result.RefreshTokenExpiry).Seconds())
	setAuthCookies(c, result.RefreshToken, sessionID, newRefreshTokenMaxAge)

	common.RespondSuccessMessage(c, "Refresh token successful", loginResponse{
		AccessToken:       "Bearer " + result.AccessToken,
		AccessTokenExpiry: result.AccessTokenExpiry.Unix(),
	})
}

// Logout 用户登出，吊销当前会话
// @Summary      登出
// @Tags         auth
// @Produce      json
// @Success      200  {object}  common.Response
// @Router       /api/auth/logout [post]
func (h *Handler) Logout(c *gin.Context) {
	sessionID, err := c.Cookie("session_id")
	if err != nil {
		common.RespondSuccessMessage(c, "Already logged out or session invalid", nil)
		return
	}

	if h.loginService != nil {
		_ = h.loginService.Logout(sessionID)
	}

	clearAuthCookies(c)

	common.RespondSuccessMessage(c, "Logout successful", nil)
}

// ChangePassword 修改当前用户密码，成功后吊销该用户的全部会话
// @Summary      修改密码
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      changePasswordRequestBody  true  "旧密码与新密码"
// @Success      200   {object}  common.Response
// @Failure      401   {object}  common.Response
// @Security     BearerAuth
// @Router       /api/v1/auth/password [put]
func (h *Handler) ChangePassword(c *gin.Context) {
	var req changePasswordRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}

	userID := c.GetUint(middleware.ContextUserIDKey)
	if userID == 0 {
		common.RespondError(c, http.StatusUnauthorized, "Invalid user session")
		return
	}

	if err := h.loginService.ChangePassword(userID, req.OldPassword, req.NewPassword); err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			common.RespondError(c, http.StatusUnauthorized, "Old password is incorrect")
			return
		}
		log.Printf("Change password failed for user %d: %v", userID, err)
		common.RespondError(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	clearAuthCookies(c)

	common.RespondSuccessMessage(c, "Password changed, please log in again", nil)
}

// setAuthCookies 设置 refresh_token 和 session_id 的 cookie
func setAuthCookies(c *gin.Context, refreshToken, sessionID string, maxAge int) {
	path := "/api/auth/"
	secure := config.IsProduction()

	refreshTokenCookie := http.Cookie{
		Name:     "refresh_token",
		Value:    refreshToken,
		MaxAge:   maxAge,
		Path:     path,
		Domain:   "",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	sessionIDCookie := http.Cookie{
		Name:     "session_id",
		Value:    sessionID,
		MaxAge:   maxAge,
		Path:     path,
		Domain:   "",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(c.Writer, &refreshTokenCookie)
	http.SetCookie(c.Writer, &sessionIDCookie)
}

// clearAuthCookies 清除认证相关的 cookie
func clearAuthCookies(c *gin.Context) {
	cfg := config.Get()

	path := "/api/auth/"
	domain := utils.ExtractCookieDomain(cfg.ServerDomain)

	// MaxAge 为 -1 让浏览器删除 Cookie
	c.SetCookie("refresh_token", "", -1, path, domain, false, true)
	c.SetCookie("session_id", "", -1, path, domain, false, true)
}
