package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/telarin/latentvault/database/models"
	"github.com/telarin/latentvault/utils"
	cryptopackage "github.com/telarin/latentvault/utils/crypto"
	"gorm.io/gorm"
)

// ErrUserNotFound 用户不存在
var ErrUserNotFound = errors.New("user not found")

// Repository 用户账户仓储
type Repository struct {
	db *gorm.DB
}

// NewRepository 创建账户仓储
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithContext 返回绑定请求上下文的仓储
func (r *Repository) WithContext(ctx context.Context) *Repository {
	return &Repository{db: r.db.WithContext(ctx)}
}

// CreateDefaultAdminUser 首次启动时创建 admin 账户。
// 返回生成的明文密码；账户已存在时返回空串。
func (r *Repository) CreateDefaultAdminUser() (string, error) {
	var count int64
	if err := r.db.Model(&models.User{}).Where("username = ?", "admin").Count(&count).Error; err != nil {
		return "", fmt.Errorf("failed to check admin user existence: %w", err)
	}
	if count > 0 {
		return "", nil
	}

	password, err := utils.GenerateRandomToken(16)
	if err != nil {
		return "", fmt.Errorf("failed to generate random password: %w", err)
	}

	hashed, err := cryptopackage.GenerateFromPassword(password)
	if err != nil {
		return "", fmt.Errorf("failed to hash default password: %w", err)
	}

	user := &models.User{
		Username: "admin",
		Password: hashed,
		Role:     models.RoleAdmin,
	}
	if err := r.db.Create(user).Error; err != nil {
		return "", fmt.Errorf("failed to create default admin user: %w", err)
	}
	return password, nil
}

// first 单行查询，把 gorm.ErrRecordNotFound 映射成 ErrUserNotFound
func (r *Repository) first(query string, arg interface{}) (*models.User, error) {
	var user models.User
	err := r.db.Where(query, arg).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByUsername 按用户名查用户
func (r *Repository) GetUserByUsername(username string) (*models.User, error) {
	return r.first("username = ?", username)
}

// GetUserByID 按 ID 查用户
func (r *Repository) GetUserByID(id uint) (*models.User, error) {
	return r.first("id = ?", id)
}

// UserExists 检查用户名是否被占用
func (r *Repository) UserExists(username string) (bool, error) {
	var count int64
	err := r.db.Model(&models.User{}).Where("username = ?", username).Count(&count).Error
	return count > 0, err
}

// CreateUser 创建用户
func (r *Repository) CreateUser(user *models.User) error {
	return r.db.Create(user).Error
}

// DeleteUser 删除用户
func (r *Repository) DeleteUser(userID uint) error {
	return r.db.Delete(&models.User{}, userID).Error
}

// ListUsers 按创建顺序列出所有用户
func (r *Repository) ListUsers() ([]models.User, error) {
	var users []models.User
	err := r.db.Order("id").Find(&users).Error
	return users, err
}

// UpdatePassword 更新用户密码哈希
func (r *Repository) UpdatePassword(userID uint, hashedPassword string) error {
	return r.db.Model(&models.User{}).
		Where("id = ?", userID).
		Update("password", hashedPassword).Error
}
