package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/telarin/latentvault/database/models"
	"github.com/telarin/latentvault/database/repo/accounts"
	cryptopackage "github.com/telarin/latentvault/utils/crypto"
)

// ErrInvalidCredentials 用户名或密码错误
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrInvalidSession 刷新令牌或会话无效
var ErrInvalidSession = errors.New("invalid refresh token or session")

// LoginResult 登录结果
type LoginResult struct {
	User               *models.User
	AccessToken        string
	AccessTokenExpiry  time.Time
	RefreshToken       string
	RefreshTokenExpiry time.Time
	SessionID          string
}

// RefreshResult 令牌刷新结果
type RefreshResult struct {
	AccessToken        string
	AccessTokenExpiry  time.Time
	RefreshToken       string
	RefreshTokenExpiry time.Time
	SessionID          string
}

// LoginService 登录会话服务
type LoginService struct {
	accountsRepo *accounts.Repository
	sessionsRepo *accounts.SessionRepository
	jwtService   *JWTService
}

// NewLoginService 创建新的登录服务
func NewLoginService(
	accountsRepo *accounts.Repository,
	sessionsRepo *accounts.SessionRepository,
	jwtService *JWTService,
) *LoginService {
	return &LoginService{
		accountsRepo: accountsRepo,
		sessionsRepo: sessionsRepo,
		jwtService:   jwtService,
	}
}

// validateCredentials 验证用户凭据。用户不存在和密码错误都返回 (nil, false)，
// 对外不可区分。
func (s *LoginService) validateCredentials(username, password string) (*models.User, bool, error) {
	user, err := s.accountsRepo.GetUserByUsername(username)
	if err != nil {
		if errors.Is(err, accounts.ErrUserNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get user: %w", err)
	}

	ok, err := cryptopackage.ComparePasswordAndHash(password, user.Password)
	if err != nil {
		return nil, false, fmt.Errorf("password comparison failed: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return user, true, nil
}

// Login 执行登录，建立新会话
func (s *LoginService) Login(username, password string) (*LoginResult, error) {
	user, valid, err := s.validateCredentials(username, password)
	if err != nil {
		return nil, fmt.Errorf("failed to validate credentials: %w", err)
	}
	if !valid {
		return nil, ErrInvalidCredentials
	}

	tokenPair, err := s.jwtService.GenerateTokens(user.Username, user.ID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to generate tokens: %w", err)
	}

	sessionID := uuid.New().String()
	if err := s.sessionsRepo.CreateSession(user.ID, sessionID, tokenPair.RefreshToken, tokenPair.RefreshTokenExpiry); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	return &LoginResult{
		User:               user,
		AccessToken:        tokenPair.AccessToken,
		AccessTokenExpiry:  tokenPair.AccessTokenExpiry,
		RefreshToken:       tokenPair.RefreshToken,
		RefreshTokenExpiry: tokenPair.RefreshTokenExpiry,
		SessionID:          sessionID,
	}, nil
}

// RefreshToken 校验会话并轮换刷新令牌
func (s *LoginService) RefreshToken(refreshToken, sessionID string) (*RefreshResult, error) {
	session, err := s.sessionsRepo.GetByRefreshTokenAndSessionID(refreshToken, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, ErrInvalidSession
	}

	user, err := s.accountsRepo.GetUserByID(session.UserID)
	if err != nil {
		if errors.Is(err, accounts.ErrUserNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	newRefreshToken, newRefreshTokenExpiry, err := s.jwtService.GenerateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate new refresh token: %w", err)
	}

	if err := s.sessionsRepo.RotateRefreshToken(user.ID, session.SessionID, newRefreshToken, newRefreshTokenExpiry); err != nil {
		return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}

	accessToken, accessTokenExpiry, err := s.jwtService.GenerateAccessToken(user.Username, user.ID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to generate new access token: %w", err)
	}

	return &RefreshResult{
		AccessToken:        accessToken,
		AccessTokenExpiry:  accessTokenExpiry,
		RefreshToken:       newRefreshToken,
		RefreshTokenExpiry: newRefreshTokenExpiry,
		SessionID:          sessionID,
	}, nil
}

// Logout 注销会话
func (s *LoginService) Logout(sessionID string) error {
	return s.sessionsRepo.DeleteBySessionID(sessionID)
}

// ChangePassword 修改密码。旧密码验证通过后更新哈希，
// 并吊销该用户全部会话，所有端重新登录。
func (s *LoginService) ChangePassword(userID uint, oldPassword, newPassword string) error {
	user, err := s.accountsRepo.GetUserByID(userID)
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}

	ok, err := cryptopackage.ComparePasswordAndHash(oldPassword, user.Password)
	if err != nil {
		return fmt.Errorf("password comparison failed: %w", err)
	}
	if !ok {
		return ErrInvalidCredentials
	}

	hashed, err := cryptopackage.GenerateFromPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash new password: %w", err)
	}
	if err := s.accountsRepo.UpdatePassword(userID, hashed); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	if err := s.sessionsRepo.DeleteByUser(userID); err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}
	return nil
}
