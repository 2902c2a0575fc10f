package auth

import (
	"context"
	"errors"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"
)

const (
	ctxKeyUserID = "user_id"
	ctxKeyEmail  = "email"
	ctxKeyToken  = "access_token"
)

const (
	detailNoCredentials = "Authentication credentials were not provided."
	detailInvalidToken  = "Given token not valid for any token type"
)

// Middleware 要求请求携带有效的 Bearer 访问令牌
func Middleware(tokens *TokenService) app.HandlerFunc {
	return keyauth.New(authOptions(tokens)...)
}

// OptionalMiddleware 没有 Authorization 头时直接放行，有则必须有效
func OptionalMiddleware(tokens *TokenService) app.HandlerFunc {
	opts := append(authOptions(tokens), keyauth.WithFilter(func(ctx context.Context, c *app.RequestContext) bool {
		return len(c.Request.Header.Peek("Authorization")) == 0
	}))
	return keyauth.New(opts...)
}

func authOptions(tokens *TokenService) []keyauth.Option {
	return []keyauth.Option{
		keyauth.WithKeyLookUp("header:Authorization", "Bearer"),
		keyauth.WithContextKey(ctxKeyToken),
		keyauth.WithValidator(func(ctx context.Context, c *app.RequestContext, key string) (bool, error) {
			claims, err := tokens.Validate(key, AccessToken)
			if err != nil {
				return false, err
			}
			c.Set(ctxKeyUserID, claims.UserID)
			c.Set(ctxKeyEmail, claims.Email)
			return true, nil
		}),
		keyauth.WithErrorHandler(func(ctx context.Context, c *app.RequestContext, err error) {
			detail := detailInvalidToken
			if errors.Is(err, keyauth.ErrMissingOrMalformedAPIKey) {
				detail = detailNoCredentials
			}
			c.AbortWithStatusJSON(consts.StatusUnauthorized, utils.H{"detail": detail})
		}),
	}
}

// UserIDFrom 读取中间件写入的用户ID，未认证时返回空串
func UserIDFrom(c *app.RequestContext) string {
	return c.GetString(ctxKeyUserID)
}

// EmailFrom 读取中间件写入的邮箱
func EmailFrom(c *app.RequestContext) string {
	return c.GetString(ctxKeyEmail)
}
