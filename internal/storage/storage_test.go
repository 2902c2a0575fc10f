package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/devil3515/resume-parser/internal/auth"
	"github.com/devil3515/resume-parser/internal/billing"
	"github.com/devil3515/resume-parser/internal/config"
	"github.com/devil3515/resume-parser/internal/constants"
	"github.com/devil3515/resume-parser/internal/storage/models"
)

func TestFormatKey(t *testing.T) {
	r := &Redis{}
	assert.Equal(t, "app:resume:result:abc", r.FormatKey(constants.KeyResumeResult, "abc"))
	assert.Equal(t, "app:billing:webhook_event:evt_1", r.FormatKey(constants.KeyWebhookEvent, "evt_1"))
}

func TestRedisResultTTL(t *testing.T) {
	assert.Equal(t, constants.DefaultResultCacheTTL, (&Redis{}).ResultTTL(), "未配置时使用默认时间")
	r := &Redis{config: &config.RedisConfig{ResultCacheTTLHours: 2}}
	assert.Equal(t, 2*time.Hour, r.ResultTTL())
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "application/pdf", contentTypeFor("resume/abc.pdf"))
	assert.Equal(t, "application/json", contentTypeFor("a.json"))
	assert.Equal(t, "application/octet-stream", contentTypeFor("noext"))
}

func TestSetupMySQLClosesPoolOnPluginError(t *testing.T) {
	// 不会真正建立连接
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "user:pass@tcp(127.0.0.1:1)/resume?parseTime=true",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)
	require.NoError(t, db.Use(NewGormTracingPlugin("resume")), "先注册一次，再次注册会冲突")
	sqlDB, err := db.DB()
	require.NoError(t, err)

	m, err := setupMySQL(db, sqlDB, &config.MySQLConfig{Database: "resume"})
	assert.Nil(t, m)
	require.ErrorIs(t, err, gorm.ErrRegistered)
	assert.ErrorContains(t, sqlDB.PingContext(context.Background()), "database is closed", "失败后连接池已关闭")
}

func TestNewOutboxMessage(t *testing.T) {
	_, err := NewOutboxMessage("id", "evt", "", "rk", map[string]int{"a": 1})
	assert.Error(t, err, "缺少交换机应报错")

	msg, err := NewOutboxMessage("cs_1", constants.PaymentCompletedEvent, "events", constants.PaymentCompletedEvent,
		billing.PaymentCompletedEvent{StripeSessionID: "cs_1", AmountCents: 999, Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, models.OutboxStatusPending, msg.Status)
	assert.Equal(t, "events", msg.TargetExchange)

	var decoded billing.PaymentCompletedEvent
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &decoded))
	assert.Equal(t, int64(999), decoded.AmountCents)
}

func TestModelsMetadataJSON(t *testing.T) {
	j, err := models.StringMapToJSON(nil)
	require.NoError(t, err)
	assert.Nil(t, j)

	j, err = models.StringMapToJSON(map[string]string{"plan_id": "3"})
	require.NoError(t, err)
	m, err := models.JSONToStringMap(j)
	require.NoError(t, err)
	assert.Equal(t, "3", m["plan_id"])
}

// connectTestMySQL 连接本地 MySQL，连不上时跳过
func connectTestMySQL(t *testing.T) *MySQL {
	t.Helper()
	if os.Getenv("RESUME_PARSER_MYSQL_TEST") == "" {
		t.Skip("未设置 RESUME_PARSER_MYSQL_TEST，跳过 MySQL 集成测试")
	}
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	m, err := NewMySQL(&cfg.MySQL)
	if err != nil {
		if strings.Contains(err.Error(), "Access denied") ||
			strings.Contains(err.Error(), "connection refused") ||
			strings.Contains(err.Error(), "Cannot connect") {
			t.Skipf("无法连接到MySQL服务器: %v", err)
		}
		t.Fatalf("连接MySQL失败: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestMySQLUserRepository(t *testing.T) {
	m := connectTestMySQL(t)
	ctx := context.Background()
	repo := NewUserRepository(m)

	id := uuid.Must(uuid.NewV7()).String()
	email := fmt.Sprintf("it-%s@example.com", id[:8])
	now := time.Now()
	u := &auth.User{ID: id, Email: email, PasswordHash: "x", IsActive: true, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, repo.Create(ctx, u))
	t.Cleanup(func() { m.DB().Delete(&models.User{}, "user_id = ?", id) })

	assert.ErrorIs(t, repo.Create(ctx, &auth.User{ID: uuid.Must(uuid.NewV7()).String(), Email: email, PasswordHash: "x"}),
		auth.ErrEmailTaken, "重复邮箱应映射为 ErrEmailTaken")

	got, err := repo.GetByEmail(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)

	got.FirstName = "Ada"
	require.NoError(t, repo.Update(ctx, got))
	again, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Ada", again.FirstName)
}

func TestMySQLBillingRepository(t *testing.T) {
	m := connectTestMySQL(t)
	ctx := context.Background()
	repo := NewBillingRepository(m, "resume.parser.events")

	suffix := uuid.Must(uuid.NewV7()).String()[:8]
	plan := &billing.Plan{Name: "IT-" + suffix, PriceCents: 100, Currency: "USD", IsActive: true,
		Features: billing.Features{MaxResumesPerMonth: 3, JobMatching: false}}
	require.NoError(t, repo.SavePlan(ctx, plan))
	t.Cleanup(func() { m.DB().Delete(&models.Plan{}, "plan_id = ?", plan.ID) })

	stored, err := repo.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.False(t, stored.Features.JobMatching, "false 的功能开关不应被默认值覆盖")

	userID := uuid.Must(uuid.NewV7()).String()
	now := time.Now()
	sub := &billing.Subscription{UserID: userID, PlanID: plan.ID, Status: billing.StatusActive,
		StartDate: now, LastUsageReset: now, CreatedAt: now}
	require.NoError(t, repo.SaveSubscription(ctx, sub))
	t.Cleanup(func() { m.DB().Delete(&models.Subscription{}, "user_id = ?", userID) })

	err = repo.Transaction(ctx, func(tx billing.Repository) error {
		s, err := tx.FindSubscription(ctx, userID, billing.StatusActive)
		if err != nil {
			return err
		}
		s.ResumesProcessedThisMonth++
		return tx.SaveSubscription(ctx, s)
	})
	require.NoError(t, err)

	got, err := repo.FindSubscription(ctx, userID, "")
	require.NoError(t, err)
	assert.Equal(t, 1, got.ResumesProcessedThisMonth)
	require.NotNil(t, got.Plan)
	assert.Equal(t, plan.Name, got.Plan.Name)
}
