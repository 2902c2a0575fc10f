package handler

import (
	"context"
	"errors"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/devil3515/resume-parser/internal/auth"
	"github.com/devil3515/resume-parser/internal/logger"
	"github.com/devil3515/resume-parser/internal/tracing"
)

// AuthHandler 用户注册、登录与资料接口
type AuthHandler struct {
	svc *auth.Service
}

// NewAuthHandler 创建账户处理器
func NewAuthHandler(svc *auth.Service) *AuthHandler {
	return &AuthHandler{svc: svc}
}

// Register 注册，校验失败时按字段返回错误列表
func (h *AuthHandler) Register(ctx context.Context, c *app.RequestContext) {
	var in auth.RegisterInput
	if err := bindJSON(c, &in); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"detail": errInvalidJSON.Error()})
		return
	}

	user, err := h.svc.Register(ctx, in)
	if err != nil {
		var vErr *auth.ValidationError
		if errors.As(err, &vErr) {
			c.JSON(consts.StatusBadRequest, vErr.Fields)
			return
		}
		internalError(ctx, c, err, "注册用户失败")
		return
	}

	c.JSON(consts.StatusCreated, utils.H{
		"message": "User registered successfully",
		"user":    user.Public(),
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login 返回访问令牌、刷新令牌和用户基本信息
func (h *AuthHandler) Login(ctx context.Context, c *app.RequestContext) {
	var req loginRequest
	if err := bindJSON(c, &req); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"detail": errInvalidJSON.Error()})
		return
	}
	missing := utils.H{}
	if req.Email == "" {
		missing["email"] = []string{"This field is required."}
	}
	if req.Password == "" {
		missing["password"] = []string{"This field is required."}
	}
	if len(missing) > 0 {
		c.JSON(consts.StatusBadRequest, missing)
		return
	}

	res, err := h.svc.Login(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			logger.Info().Str("email", tracing.MaskEmail(req.Email)).Msg("登录失败")
			c.JSON(consts.StatusUnauthorized, utils.H{"detail": auth.ErrInvalidCredentials.Error()})
			return
		}
		internalError(ctx, c, err, "登录失败")
		return
	}

	c.JSON(consts.StatusOK, utils.H{
		"access":     res.Tokens.Access,
		"refresh":    res.Tokens.Refresh,
		"id":         res.User.ID,
		"email":      res.User.Email,
		"first_name": res.User.FirstName,
		"last_name":  res.User.LastName,
	})
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

// RefreshToken 刷新访问令牌
func (h *AuthHandler) RefreshToken(ctx context.Context, c *app.RequestContext) {
	var req refreshRequest
	if err := bindJSON(c, &req); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"detail": errInvalidJSON.Error()})
		return
	}
	if req.Refresh == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"refresh": []string{"This field is required."}})
		return
	}

	access, err := h.svc.RefreshToken(ctx, req.Refresh)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrWrongTokenType) {
			c.JSON(consts.StatusUnauthorized, utils.H{
				"detail": "Token is invalid or expired",
				"code":   "token_not_valid",
			})
			return
		}
		internalError(ctx, c, err, "刷新令牌失败")
		return
	}
	c.JSON(consts.StatusOK, utils.H{"access": access})
}

// currentUser 中间件已保证存在用户ID，但账户可能已被删除
func (h *AuthHandler) currentUser(ctx context.Context, c *app.RequestContext) (*auth.User, bool) {
	user, err := h.svc.Profile(ctx, auth.UserIDFrom(c))
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			c.JSON(consts.StatusUnauthorized, utils.H{"detail": "User not found", "code": "user_not_found"})
			return nil, false
		}
		internalError(ctx, c, err, "查询用户失败")
		return nil, false
	}
	return user, true
}

// Profile 当前用户资料
func (h *AuthHandler) Profile(ctx context.Context, c *app.RequestContext) {
	user, ok := h.currentUser(ctx, c)
	if !ok {
		return
	}
	c.JSON(consts.StatusOK, user.Public())
}

// UpdateProfile PUT 与 PATCH 都按部分更新处理
func (h *AuthHandler) UpdateProfile(ctx context.Context, c *app.RequestContext) {
	var upd auth.ProfileUpdate
	if err := bindJSON(c, &upd); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"detail": errInvalidJSON.Error()})
		return
	}

	user, err := h.svc.UpdateProfile(ctx, auth.UserIDFrom(c), upd)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			c.JSON(consts.StatusUnauthorized, utils.H{"detail": "User not found", "code": "user_not_found"})
			return
		}
		internalError(ctx, c, err, "更新用户资料失败")
		return
	}
	c.JSON(consts.StatusOK, utils.H{
		"message": "Profile updated successfully",
		"user":    user.Public(),
	})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangePassword 修改密码
func (h *AuthHandler) ChangePassword(ctx context.Context, c *app.RequestContext) {
	var req changePasswordRequest
	if err := bindJSON(c, &req); err != nil {
		errorJSON(c, consts.StatusBadRequest, errInvalidJSON.Error())
		return
	}

	err := h.svc.ChangePassword(ctx, auth.UserIDFrom(c), req.CurrentPassword, req.NewPassword)
	switch {
	case err == nil:
		c.JSON(consts.StatusOK, utils.H{"message": "Password changed successfully"})
	case errors.Is(err, auth.ErrPasswordFieldsRequired),
		errors.Is(err, auth.ErrCurrentPasswordIncorrect),
		errors.Is(err, auth.ErrNewPasswordTooShort):
		errorJSON(c, consts.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrUserNotFound):
		c.JSON(consts.StatusUnauthorized, utils.H{"detail": "User not found", "code": "user_not_found"})
	default:
		internalError(ctx, c, err, "修改密码失败")
	}
}
