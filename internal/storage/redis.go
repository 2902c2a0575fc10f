package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/devil3515/resume-parser/internal/config"
	"github.com/devil3515/resume-parser/internal/constants"
	"github.com/devil3515/resume-parser/internal/tracing"
)

// ErrNotFound 键不存在
var ErrNotFound = redis.Nil

var redisTracer = otel.Tracer("resume-parser/storage/redis")

// 按 key 前缀设置的业务 span 采样率，redisotel 钩子的命令级 span 不受影响
var redisKeySamplingRates = map[string]float64{
	constants.AppPrefix + ":" + constants.ResumeModulePrefix + ":":  0.1,
	constants.AppPrefix + ":" + constants.MatchModulePrefix + ":":   0.1,
	constants.AppPrefix + ":" + constants.BillingModulePrefix + ":": 1.0,
}

func shouldSampleRedisOp(key string) bool {
	if key == "" {
		return false
	}
	for prefix, rate := range redisKeySamplingRates {
		if strings.HasPrefix(key, prefix) {
			return rand.Float64() < rate
		}
	}
	return rand.Float64() < 0.05
}

// Redis 封装 go-redis 客户端，提供结果缓存和 webhook 去重
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
}

// FormatKey 用 parts 填充 constants 中的 key 模板
func (r *Redis) FormatKey(keyConstant string, parts ...any) string {
	return fmt.Sprintf(keyConstant, parts...)
}

// NewRedisAdapter 创建 Redis 连接并挂载 OpenTelemetry 钩子
func NewRedisAdapter(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("Redis配置不能为空")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("Redis地址不能为空")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,

		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,

		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: time.Duration(cfg.MinRetryBackoffMS) * time.Millisecond,
		MaxRetryBackoff: time.Duration(cfg.MaxRetryBackoffMS) * time.Millisecond,

		ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute,
		ConnMaxIdleTime: time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute,
	})

	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("为Redis注册OpenTelemetry钩子失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接Redis失败 %s: %w", cfg.Address, err)
	}

	return &Redis{Client: client, config: cfg}, nil
}

// Close 关闭连接
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping 检查连接
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}
	return r.Client.Ping(ctx).Err()
}

// ResultTTL 解析结果缓存时间
func (r *Redis) ResultTTL() time.Duration {
	if r.config == nil || r.config.ResultCacheTTLHours <= 0 {
		return constants.DefaultResultCacheTTL
	}
	return time.Duration(r.config.ResultCacheTTLHours) * time.Hour
}

func startRedisSpan(ctx context.Context, name, operation, key string) (context.Context, trace.Span) {
	if !shouldSampleRedisOp(key) {
		return ctx, nil
	}
	ctx, span := redisTracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", operation),
		attribute.String("db.redis.key", tracing.SafeRedisKey(key)),
	)
	return ctx, span
}

func finishRedisSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	defer span.End()
	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case errors.Is(err, redis.Nil):
		span.SetAttributes(attribute.Bool("db.redis.key_exists", false))
		span.SetStatus(codes.Ok, "key not found")
	default:
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
	}
}

// GetJSON 读取 JSON 值到 dst，键不存在时返回 false
func (r *Redis) GetJSON(ctx context.Context, key string, dst any) (found bool, err error) {
	if r.Client == nil {
		return false, fmt.Errorf("redis客户端未初始化")
	}
	ctx, span := startRedisSpan(ctx, "Redis.GetJSON", "GET", key)
	defer func() { finishRedisSpan(span, err) }()

	data, err := r.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("解析缓存值失败 %s: %w", key, err)
	}
	return true, nil
}

// SetJSON 以 JSON 写入，ttl 为 0 时使用结果缓存的默认时间
func (r *Redis) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) (err error) {
	if r.Client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}
	ctx, span := startRedisSpan(ctx, "Redis.SetJSON", "SET", key)
	defer func() { finishRedisSpan(span, err) }()

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("序列化缓存值失败: %w", err)
	}
	if ttl <= 0 {
		ttl = r.ResultTTL()
	}
	return r.Client.Set(ctx, key, data, ttl).Err()
}

// MarkEventProcessed 用 SETNX 记录 webhook 事件，首次写入返回 true
func (r *Redis) MarkEventProcessed(ctx context.Context, eventID string, ttl time.Duration) (first bool, err error) {
	key := r.FormatKey(constants.KeyWebhookEvent, eventID)
	ctx, span := startRedisSpan(ctx, "Redis.MarkEventProcessed", "SETNX", key)
	defer func() { finishRedisSpan(span, err) }()

	return r.Client.SetNX(ctx, key, time.Now().Unix(), ttl).Result()
}

// UnmarkEvent 删除事件记录，让下一次投递重新处理
func (r *Redis) UnmarkEvent(ctx context.Context, eventID string) error {
	return r.Client.Del(ctx, r.FormatKey(constants.KeyWebhookEvent, eventID)).Err()
}
