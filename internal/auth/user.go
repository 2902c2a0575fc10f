// Package auth 实现用户注册、登录、JWT签发与校验以及 hertz 认证中间件
package auth

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUserNotFound 用户不存在
	ErrUserNotFound = errors.New("user not found")
	// ErrEmailTaken 邮箱已被注册
	ErrEmailTaken = errors.New("user with this email already exists")
)

// User 用户账户
type User struct {
	ID             string
	Email          string
	PasswordHash   string
	FirstName      string
	LastName       string
	ProfilePicture string
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PublicUser 对外返回的用户信息，不含密码
type PublicUser struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	ProfilePicture string `json:"profile_picture"`
}

// Public 转换为对外视图
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:             u.ID,
		Email:          u.Email,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		ProfilePicture: u.ProfilePicture,
	}
}

// UserRepository 用户持久化接口。
// 实现方在邮箱冲突时返回 ErrEmailTaken，找不到用户时返回 ErrUserNotFound。
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	Update(ctx context.Context, user *User) error
}
