package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/devil3515/resume-parser/internal/auth"
	"github.com/devil3515/resume-parser/internal/storage/models"
)

// UserRepository auth.UserRepository 的 MySQL 实现
type UserRepository struct {
	db *gorm.DB
}

var _ auth.UserRepository = (*UserRepository)(nil)

// NewUserRepository 创建用户仓储
func NewUserRepository(m *MySQL) *UserRepository {
	return &UserRepository{db: m.DB()}
}

func userToModel(u *auth.User) *models.User {
	return &models.User{
		UserID:         u.ID,
		Email:          u.Email,
		PasswordHash:   u.PasswordHash,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		ProfilePicture: u.ProfilePicture,
		IsActive:       u.IsActive,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}
}

func userFromModel(m *models.User) *auth.User {
	return &auth.User{
		ID:             m.UserID,
		Email:          m.Email,
		PasswordHash:   m.PasswordHash,
		FirstName:      m.FirstName,
		LastName:       m.LastName,
		ProfilePicture: m.ProfilePicture,
		IsActive:       m.IsActive,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// Create 新建用户，邮箱冲突返回 auth.ErrEmailTaken
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	err := r.db.WithContext(ctx).Create(userToModel(user)).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return auth.ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("创建用户失败: %w", err)
	}
	return nil
}

func (r *UserRepository) first(ctx context.Context, query string, arg any) (*auth.User, error) {
	var m models.User
	err := r.db.WithContext(ctx).Where(query, arg).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, auth.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}
	return userFromModel(&m), nil
}

// GetByEmail 按邮箱查询
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	return r.first(ctx, "email = ?", email)
}

// GetByID 按ID查询
func (r *UserRepository) GetByID(ctx context.Context, id string) (*auth.User, error) {
	return r.first(ctx, "user_id = ?", id)
}

// Update 更新资料与密码
func (r *UserRepository) Update(ctx context.Context, user *auth.User) error {
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("user_id = ?", user.ID).Updates(map[string]any{
		"password_hash":   user.PasswordHash,
		"first_name":      user.FirstName,
		"last_name":       user.LastName,
		"profile_picture": user.ProfilePicture,
		"is_active":       user.IsActive,
		"updated_at":      user.UpdatedAt,
	})
	if res.Error != nil {
		return fmt.Errorf("更新用户失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}
