// Package memory 提供进程内的仓储与缓存实现，用于测试和 --storage memory 开发模式
package memory

import (
	"context"
	"sync"

	"github.com/devil3515/resume-parser/internal/auth"
)

// UserRepository 进程内用户仓储
type UserRepository struct {
	mu      sync.RWMutex
	byID    map[string]*auth.User
	byEmail map[string]string
}

var _ auth.UserRepository = (*UserRepository)(nil)

// NewUserRepository 创建空仓储
func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:    make(map[string]*auth.User),
		byEmail: make(map[string]string),
	}
}

// Create 邮箱已存在时返回 auth.ErrEmailTaken
func (r *UserRepository) Create(_ context.Context, user *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byEmail[user.Email]; ok {
		return auth.ErrEmailTaken
	}
	u := *user
	r.byID[u.ID] = &u
	r.byEmail[u.Email] = u.ID
	return nil
}

// GetByEmail 按邮箱查询
func (r *UserRepository) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[email]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	u := *r.byID[id]
	return &u, nil
}

// GetByID 按ID查询
func (r *UserRepository) GetByID(_ context.Context, id string) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// Update 邮箱不可修改
func (r *UserRepository) Update(_ context.Context, user *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.byID[user.ID]
	if !ok {
		return auth.ErrUserNotFound
	}
	u := *user
	u.Email = existing.Email
	r.byID[u.ID] = &u
	return nil
}
