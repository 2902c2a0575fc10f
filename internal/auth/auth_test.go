package auth

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*User)}
}

func (r *fakeUserRepo) Create(_ context.Context, user *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == user.Email {
			return ErrEmailTaken
		}
	}
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *fakeUserRepo) GetByID(_ context.Context, id string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUserRepo) Update(_ context.Context, user *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return ErrUserNotFound
	}
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func newTestService(t *testing.T) (*Service, *fakeUserRepo) {
	t.Helper()
	tokens, err := NewTokenService("test-secret")
	require.NoError(t, err)
	repo := newFakeUserRepo()
	return NewService(repo, tokens, WithBcryptCost(bcrypt.MinCost)), repo
}

func registerAnn(t *testing.T, svc *Service) *User {
	t.Helper()
	user, err := svc.Register(context.Background(), RegisterInput{
		Email:     " Ann@Example.com ",
		Password:  "s3cretpass",
		FirstName: "Ann",
		LastName:  "Lee",
	})
	require.NoError(t, err)
	return user
}

func TestRegister(t *testing.T) {
	t.Run("成功注册并规范化邮箱", func(t *testing.T) {
		svc, _ := newTestService(t)
		user := registerAnn(t, svc)
		assert.Equal(t, "ann@example.com", user.Email)
		assert.NotEmpty(t, user.ID)
		assert.True(t, user.IsActive)
		assert.NotEqual(t, "s3cretpass", user.PasswordHash)

		pub := user.Public()
		assert.Equal(t, "Ann", pub.FirstName)
		assert.Equal(t, user.ID, pub.ID)
	})

	t.Run("重复邮箱", func(t *testing.T) {
		svc, _ := newTestService(t)
		registerAnn(t, svc)
		_, err := svc.Register(context.Background(), RegisterInput{Email: "ann@example.com", Password: "another-pass"})
		var vErr *ValidationError
		require.True(t, errors.As(err, &vErr))
		assert.Contains(t, vErr.Fields, "email")
	})

	t.Run("字段校验", func(t *testing.T) {
		svc, _ := newTestService(t)
		_, err := svc.Register(context.Background(), RegisterInput{Email: "not-an-email", Password: "1234"})
		var vErr *ValidationError
		require.True(t, errors.As(err, &vErr))
		assert.Contains(t, vErr.Fields, "email")
		assert.Len(t, vErr.Fields["password"], 2, "短密码且全是数字应有两条错误")
	})
}

func TestLogin(t *testing.T) {
	svc, _ := newTestService(t)
	user := registerAnn(t, svc)

	res, err := svc.Login(context.Background(), "ANN@example.com", "s3cretpass")
	require.NoError(t, err)
	assert.Equal(t, user.ID, res.User.ID)
	assert.NotEmpty(t, res.Tokens.Access)
	assert.NotEmpty(t, res.Tokens.Refresh)

	claims, err := svc.Tokens().Validate(res.Tokens.Access, AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)

	_, err = svc.Login(context.Background(), "ann@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(context.Background(), "nobody@example.com", "s3cretpass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestTokenService(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	tokens, err := NewTokenService("secret", WithClock(clock), WithTTL(time.Minute, time.Hour))
	require.NoError(t, err)
	user := &User{ID: "u-1", Email: "a@b.c"}

	pair, err := tokens.Generate(user)
	require.NoError(t, err)

	t.Run("类型不匹配", func(t *testing.T) {
		_, err := tokens.Validate(pair.Refresh, AccessToken)
		assert.ErrorIs(t, err, ErrWrongTokenType)
	})

	t.Run("刷新令牌换取访问令牌", func(t *testing.T) {
		access, err := tokens.Refresh(pair.Refresh)
		require.NoError(t, err)
		claims, err := tokens.Validate(access, AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "u-1", claims.UserID)
	})

	t.Run("过期", func(t *testing.T) {
		now = now.Add(2 * time.Minute)
		_, err := tokens.Validate(pair.Access, AccessToken)
		assert.ErrorIs(t, err, ErrInvalidToken)
		now = now.Add(-2 * time.Minute)
	})

	t.Run("密钥不同", func(t *testing.T) {
		other, err := NewTokenService("another", WithClock(clock))
		require.NoError(t, err)
		_, err = other.Validate(pair.Access, AccessToken)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("空密钥", func(t *testing.T) {
		_, err := NewTokenService("")
		assert.ErrorIs(t, err, ErrMissingSecret)
	})
}

func TestRefreshTokenInactiveUser(t *testing.T) {
	svc, repo := newTestService(t)
	user := registerAnn(t, svc)
	res, err := svc.Login(context.Background(), user.Email, "s3cretpass")
	require.NoError(t, err)

	_, err = svc.RefreshToken(context.Background(), res.Tokens.Refresh)
	require.NoError(t, err)

	stored, _ := repo.GetByID(context.Background(), user.ID)
	stored.IsActive = false
	require.NoError(t, repo.Update(context.Background(), stored))
	_, err = svc.RefreshToken(context.Background(), res.Tokens.Refresh)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestUpdateProfile(t *testing.T) {
	svc, _ := newTestService(t)
	user := registerAnn(t, svc)

	pic := "https://cdn.example.com/ann.png"
	first := "Anne"
	updated, err := svc.UpdateProfile(context.Background(), user.ID, ProfileUpdate{FirstName: &first, ProfilePicture: &pic})
	require.NoError(t, err)
	assert.Equal(t, "Anne", updated.FirstName)
	assert.Equal(t, "Lee", updated.LastName, "未提供的字段保持不变")
	assert.Equal(t, pic, updated.ProfilePicture)

	_, err = svc.UpdateProfile(context.Background(), "missing", ProfileUpdate{})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestChangePassword(t *testing.T) {
	svc, _ := newTestService(t)
	user := registerAnn(t, svc)
	ctx := context.Background()

	assert.ErrorIs(t, svc.ChangePassword(ctx, user.ID, "", "newpass"), ErrPasswordFieldsRequired)
	assert.ErrorIs(t, svc.ChangePassword(ctx, user.ID, "wrong", "newpass"), ErrCurrentPasswordIncorrect)
	assert.ErrorIs(t, svc.ChangePassword(ctx, user.ID, "s3cretpass", "abc"), ErrNewPasswordTooShort)

	require.NoError(t, svc.ChangePassword(ctx, user.ID, "s3cretpass", "newpass"))
	_, err := svc.Login(ctx, user.Email, "newpass")
	assert.NoError(t, err)
	_, err = svc.Login(ctx, user.Email, "s3cretpass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func newAuthEngine(tokens *TokenService) *server.Hertz {
	engine := server.New(server.WithHostPorts("127.0.0.1:0"))
	engine.GET("/private", Middleware(tokens), func(ctx context.Context, c *app.RequestContext) {
		c.String(http.StatusOK, UserIDFrom(c))
	})
	engine.GET("/optional", OptionalMiddleware(tokens), func(ctx context.Context, c *app.RequestContext) {
		c.String(http.StatusOK, "user="+UserIDFrom(c))
	})
	return engine
}

func TestMiddleware(t *testing.T) {
	tokens, err := NewTokenService("mw-secret")
	require.NoError(t, err)
	pair, err := tokens.Generate(&User{ID: "u-42", Email: "x@y.z"})
	require.NoError(t, err)
	engine := newAuthEngine(tokens)

	t.Run("有效令牌", func(t *testing.T) {
		w := ut.PerformRequest(engine.Engine, http.MethodGet, "/private", nil,
			ut.Header{Key: "Authorization", Value: "Bearer " + pair.Access})
		resp := w.Result()
		assert.Equal(t, http.StatusOK, resp.StatusCode())
		assert.Equal(t, "u-42", string(resp.Body()))
	})

	t.Run("缺少令牌", func(t *testing.T) {
		w := ut.PerformRequest(engine.Engine, http.MethodGet, "/private", nil)
		resp := w.Result()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode())
		assert.Contains(t, string(resp.Body()), detailNoCredentials)
	})

	t.Run("刷新令牌不能访问", func(t *testing.T) {
		w := ut.PerformRequest(engine.Engine, http.MethodGet, "/private", nil,
			ut.Header{Key: "Authorization", Value: "Bearer " + pair.Refresh})
		resp := w.Result()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode())
		assert.Contains(t, string(resp.Body()), detailInvalidToken)
	})

	t.Run("可选认证", func(t *testing.T) {
		w := ut.PerformRequest(engine.Engine, http.MethodGet, "/optional", nil)
		assert.Equal(t, "user=", string(w.Result().Body()))

		w = ut.PerformRequest(engine.Engine, http.MethodGet, "/optional", nil,
			ut.Header{Key: "Authorization", Value: "Bearer " + pair.Access})
		assert.Equal(t, "user=u-42", string(w.Result().Body()))

		w = ut.PerformRequest(engine.Engine, http.MethodGet, "/optional", nil,
			ut.Header{Key: "Authorization", Value: "Bearer garbage"})
		assert.Equal(t, http.StatusUnauthorized, w.Result().StatusCode())
	})
}
