package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"github.com/gofrs/uuid/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/devil3515/resume-parser/internal/logger"
)

var (
	// ErrInvalidCredentials 邮箱或密码错误
	ErrInvalidCredentials = errors.New("No active account found with the given credentials")
	// ErrPasswordFieldsRequired 修改密码时缺少字段
	ErrPasswordFieldsRequired = errors.New("Current password and new password are required")
	// ErrCurrentPasswordIncorrect 当前密码错误
	ErrCurrentPasswordIncorrect = errors.New("Current password is incorrect")
	// ErrNewPasswordTooShort 新密码太短
	ErrNewPasswordTooShort = errors.New("New password must be at least 6 characters long")
)

const (
	minRegisterPasswordLen = 8
	minChangePasswordLen   = 6
)

// ValidationError 按字段汇总的校验错误
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msgs := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, strings.Join(msgs, " ")))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

func (e *ValidationError) empty() bool {
	return len(e.Fields) == 0
}

// RegisterInput 注册参数
type RegisterInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// ProfileUpdate 资料更新参数，nil 字段保持不变
type ProfileUpdate struct {
	FirstName      *string `json:"first_name"`
	LastName       *string `json:"last_name"`
	ProfilePicture *string `json:"profile_picture"`
}

// LoginResult 登录成功后的令牌和用户
type LoginResult struct {
	Tokens TokenPair
	User   *User
}

// Service 账户相关业务
type Service struct {
	repo       UserRepository
	tokens     *TokenService
	bcryptCost int
	now        func() time.Time
	log        zerolog.Logger
}

// ServiceOption 配置 Service
type ServiceOption func(*Service)

// WithBcryptCost 设置 bcrypt 计算成本
func WithBcryptCost(cost int) ServiceOption {
	return func(s *Service) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			s.bcryptCost = cost
		}
	}
}

// NewService 创建账户服务
func NewService(repo UserRepository, tokens *TokenService, opts ...ServiceOption) *Service {
	s := &Service{
		repo:       repo,
		tokens:     tokens,
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
		log:        logger.Component("auth"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tokens 返回令牌服务
func (s *Service) Tokens() *TokenService {
	return s.tokens
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validatePassword(vErr *ValidationError, password string) {
	if password == "" {
		vErr.add("password", "This field is required.")
		return
	}
	if len([]rune(password)) < minRegisterPasswordLen {
		vErr.add("password", fmt.Sprintf("This password is too short. It must contain at least %d characters.", minRegisterPasswordLen))
	}
	allDigits := true
	for _, r := range password {
		if !unicode.IsDigit(r) {
			allDigits = false
			break
		}
	}
	if allDigits {
		vErr.add("password", "This password is entirely numeric.")
	}
}

// Register 注册新用户
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	email := normalizeEmail(in.Email)

	vErr := &ValidationError{}
	if email == "" {
		vErr.add("email", "This field is required.")
	} else if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		vErr.add("email", "Enter a valid email address.")
	}
	validatePassword(vErr, in.Password)
	if !vErr.empty() {
		return nil, vErr
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("密码哈希失败: %w", err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("生成用户ID失败: %w", err)
	}

	now := s.now()
	user := &User{
		ID:           id.String(),
		Email:        email,
		PasswordHash: string(hash),
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			dup := &ValidationError{}
			dup.add("email", "user with this email already exists.")
			return nil, dup
		}
		return nil, fmt.Errorf("保存用户失败: %w", err)
	}

	s.log.Info().Str("user_id", user.ID).Msg("用户注册成功")
	return user, nil
}

// Login 校验邮箱密码并签发令牌
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := s.repo.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}
	if !user.IsActive {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	tokens, err := s.tokens.Generate(user)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Tokens: tokens, User: user}, nil
}

// RefreshToken 用刷新令牌换取新的访问令牌
func (s *Service) RefreshToken(ctx context.Context, refresh string) (string, error) {
	claims, err := s.tokens.Validate(refresh, RefreshToken)
	if err != nil {
		return "", err
	}
	user, err := s.repo.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", ErrInvalidToken
		}
		return "", err
	}
	if !user.IsActive {
		return "", ErrInvalidToken
	}
	return s.tokens.Refresh(refresh)
}

// Profile 返回用户资料
func (s *Service) Profile(ctx context.Context, userID string) (*User, error) {
	return s.repo.GetByID(ctx, userID)
}

// UpdateProfile 部分更新资料
func (s *Service) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (*User, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if upd.FirstName != nil {
		user.FirstName = strings.TrimSpace(*upd.FirstName)
	}
	if upd.LastName != nil {
		user.LastName = strings.TrimSpace(*upd.LastName)
	}
	if upd.ProfilePicture != nil {
		user.ProfilePicture = strings.TrimSpace(*upd.ProfilePicture)
	}
	user.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("更新用户资料失败: %w", err)
	}
	return user, nil
}

// ChangePassword 校验当前密码后设置新密码
func (s *Service) ChangePassword(ctx context.Context, userID, current, newPassword string) error {
	if current == "" || newPassword == "" {
		return ErrPasswordFieldsRequired
	}
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)); err != nil {
		return ErrCurrentPasswordIncorrect
	}
	if len([]rune(newPassword)) < minChangePasswordLen {
		return ErrNewPasswordTooShort
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("密码哈希失败: %w", err)
	}
	user.PasswordHash = string(hash)
	user.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, user); err != nil {
		return fmt.Errorf("保存新密码失败: %w", err)
	}
	s.log.Info().Str("user_id", userID).Msg("用户修改了密码")
	return nil
}
