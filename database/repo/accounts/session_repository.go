package accounts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/telarin/latentvault/database/models"
	"gorm.io/gorm"
)

// SessionRepository 登录会话仓库
type SessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository 创建新的会话仓库
func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// hashToken 刷新令牌入库前取 sha256 摘要，明文不落库
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// CreateSession 创建会话记录
func (r *SessionRepository) CreateSession(userID uint, sessionID, refreshToken string, expiry time.Time) error {
	session := &models.Session{
		UserID:       userID,
		SessionID:    sessionID,
		RefreshToken: hashToken(refreshToken),
		Expiry:       expiry,
	}
	return r.db.Create(session).Error
}

// GetByRefreshTokenAndSessionID 按刷新令牌和会话 ID 查找未过期的会话。
// 找不到返回 (nil, nil)，对调用方来说令牌无效和不存在是一回事。
func (r *SessionRepository) GetByRefreshTokenAndSessionID(refreshToken, sessionID string) (*models.Session, error) {
	var session models.Session
	err := r.db.Where("refresh_token = ? AND session_id = ? AND expiry > ?",
		hashToken(refreshToken), sessionID, time.Now()).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

// RotateRefreshToken 轮换刷新令牌：旧会话行删除，同一会话 ID 换新令牌重建
func (r *SessionRepository) RotateRefreshToken(userID uint, sessionID, newRefreshToken string, newExpiry time.Time) error {
	hashed := hashToken(newRefreshToken)

	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("session_id = ?", sessionID).Delete(&models.Session{}).Error; err != nil {
			return err
		}
		return tx.Create(&models.Session{
			UserID:       userID,
			SessionID:    sessionID,
			RefreshToken: hashed,
			Expiry:       newExpiry,
		}).Error
	})
}

// DeleteBySessionID 删除一个会话（登出）
func (r *SessionRepository) DeleteBySessionID(sessionID string) error {
	return r.db.Unscoped().Where("session_id = ?", sessionID).Delete(&models.Session{}).Error
}

// DeleteByUser 删除用户的全部会话（改密后强制重新登录）
func (r *SessionRepository) DeleteByUser(userID uint) error {
	return r.db.Unscoped().Where("user_id = ?", userID).Delete(&models.Session{}).Error
}

// PurgeExpired 清理过期会话，返回删除行数
func (r *SessionRepository) PurgeExpired() (int64, error) {
	res := r.db.Unscoped().Where("expiry <= ?", time.Now()).Delete(&models.Session{})
	return res.RowsAffected, res.Error
}

// CountByUser 用户的在线会话数
func (r *SessionRepository) CountByUser(userID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Session{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}

// WithContext 返回带上下文的仓库
func (r *SessionRepository) WithContext(ctx context.Context) *SessionRepository {
	return &SessionRepository{db: r.db.WithContext(ctx)}
}
