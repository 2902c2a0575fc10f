package main

import (
	"context"
	"fmt"
	"time"

	"github.com/devil3515/resume-parser/internal/api/handler"
	"github.com/devil3515/resume-parser/internal/auth"
	"github.com/devil3515/resume-parser/internal/billing"
	"github.com/devil3515/resume-parser/internal/config"
	"github.com/devil3515/resume-parser/internal/constants"
	"github.com/devil3515/resume-parser/internal/logger"
	"github.com/devil3515/resume-parser/internal/parser"
	"github.com/devil3515/resume-parser/internal/processor"
	"github.com/devil3515/resume-parser/internal/storage"
	"github.com/devil3515/resume-parser/internal/storage/memory"
	"github.com/devil3515/resume-parser/pkg/agent"
	"github.com/devil3515/resume-parser/pkg/ratelimit"
)

const (
	storageMySQL  = "mysql"
	storageMemory = "memory"
)

// resultStore 缓存与 webhook 去重，由 storage.Redis 和 memory.Cache 实现
type resultStore interface {
	processor.ResultCache
	billing.EventDeduper
}

// backends 按存储模式选出的具体实现
type backends struct {
	store   *storage.Storage
	users   auth.UserRepository
	billing billing.Repository
	events  processor.EventSink
	cache   resultStore
	objects processor.ObjectStore
	health  handler.Pinger
}

func newBackends(ctx context.Context, cfg *config.Config, mode string) (*backends, error) {
	switch mode {
	case storageMemory:
		logger.Warn().Msg("使用内存存储，重启后数据丢失")
		repo := memory.NewBillingRepository()
		return &backends{
			users:   memory.NewUserRepository(),
			billing: repo,
			events:  repo,
			cache:   memory.NewCache(resultTTL(cfg)),
			objects: memory.NewObjectStore(),
		}, nil

	case storageMySQL:
		s, err := storage.NewStorage(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("初始化存储失败: %w", err)
		}
		exchange := cfg.RabbitMQ.EventsExchange
		b := &backends{
			store:   s,
			users:   storage.NewUserRepository(s.MySQL),
			billing: storage.NewBillingRepository(s.MySQL, exchange),
			events:  storage.NewOutboxWriter(s.MySQL, exchange),
			health:  s,
		}
		if s.Redis != nil {
			b.cache = s.Redis
		} else {
			logger.Warn().Msg("Redis 不可用，解析结果缓存与 webhook 去重退化为进程内存")
			b.cache = memory.NewCache(resultTTL(cfg))
		}
		if s.MinIO != nil {
			b.objects = s.MinIO
		}
		return b, nil

	default:
		return nil, fmt.Errorf("未知的存储模式: %q", mode)
	}
}

func (b *backends) close() {
	if b.store != nil {
		b.store.Close()
	}
}

func resultTTL(cfg *config.Config) time.Duration {
	if cfg.Redis.ResultCacheTTLHours > 0 {
		return time.Duration(cfg.Redis.ResultCacheTTLHours) * time.Hour
	}
	return constants.DefaultResultCacheTTL
}

type services struct {
	tokens  *auth.TokenService
	auth    *auth.Service
	billing *billing.Service
	resumes *processor.ResumeService
	matches *processor.MatchService
}

func newServices(ctx context.Context, cfg *config.Config, b *backends) (*services, error) {
	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret,
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithTTL(
			config.GetDuration(cfg.Auth.AccessTokenTTL, time.Hour),
			config.GetDuration(cfg.Auth.RefreshTokenTTL, 7*24*time.Hour),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("初始化令牌服务失败: %w", err)
	}
	var authOpts []auth.ServiceOption
	if cfg.Auth.BcryptCost > 0 {
		authOpts = append(authOpts, auth.WithBcryptCost(cfg.Auth.BcryptCost))
	}
	authSvc := auth.NewService(b.users, tokens, authOpts...)

	billingOpts := []billing.Option{
		billing.WithDeduper(b.cache, config.GetDuration(cfg.Stripe.EventDedupTTL, 72*time.Hour)),
		billing.WithCheckoutURLs(cfg.Stripe.SuccessURL, cfg.Stripe.CancelURL),
		billing.WithProductPrefix(cfg.Stripe.ProductPrefix),
		billing.WithPublishableKey(cfg.Stripe.PublishableKey),
		billing.WithPaymentRoutingKey(cfg.RabbitMQ.PaymentRoutingKey),
	}
	gateway, err := billing.NewStripeGateway(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("Stripe 未配置，支付接口不可用")
	} else {
		billingOpts = append(billingOpts, billing.WithGateway(gateway))
	}
	billingSvc := billing.NewService(b.billing, billingOpts...)

	// 首次启动时套餐表为空
	if plans, err := billingSvc.ListPlans(ctx); err != nil {
		return nil, fmt.Errorf("查询套餐失败: %w", err)
	} else if len(plans) == 0 {
		created, _, err := billingSvc.SeedDefaultPlans(ctx)
		if err != nil {
			return nil, fmt.Errorf("初始化默认套餐失败: %w", err)
		}
		logger.Info().Int("created", created).Msg("已初始化默认套餐")
	}

	llm, err := agent.NewGroqChatModel(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.APIURL,
		agent.WithTimeout(config.GetDuration(cfg.LLM.Timeout, 60*time.Second)),
		agent.WithDefaultMaxTokens(cfg.LLM.MaxTokens),
	)
	if err != nil {
		return nil, fmt.Errorf("初始化大模型客户端失败: %w", err)
	}
	limited := ratelimit.NewLLMWithRateLimit(llm, cfg.LLM.Model, cfg.LLM.ModelQPMLimits, cfg.LLM.QPM,
		cfg.LLM.MaxRetries, time.Duration(cfg.LLM.RetryWaitSeconds)*time.Second)

	pdfExtractor, err := newPDFExtractor(ctx, cfg.PDF)
	if err != nil {
		return nil, err
	}

	resumeOpts := []processor.ResumeServiceOption{
		processor.WithResultCache(b.cache, resultTTL(cfg)),
		processor.WithEventSink(b.events),
		processor.WithParsedRoutingKey(cfg.RabbitMQ.ResumeParsedRoutingKey),
		processor.WithUsageGate(billingSvc),
		processor.WithMaxUploadBytes(cfg.Upload.MaxSizeBytes()),
	}
	if b.objects != nil {
		resumeOpts = append(resumeOpts, processor.WithObjectStore(b.objects))
	}
	resumes := processor.NewResumeService(pdfExtractor,
		parser.NewResumeExtractor(limited,
			parser.WithExtractionTemperature(cfg.LLM.ParseTemperature),
			parser.WithExtractionMaxTokens(cfg.LLM.MaxTokens),
		),
		resumeOpts...,
	)
	matches := processor.NewMatchService(
		parser.NewJobMatcher(limited, parser.WithMatchTemperature(cfg.LLM.MatchTemperature)),
		processor.WithMatchCache(b.cache, resultTTL(cfg)),
		processor.WithMatchGate(billingSvc),
	)

	return &services{
		tokens:  tokens,
		auth:    authSvc,
		billing: billingSvc,
		resumes: resumes,
		matches: matches,
	}, nil
}

func newPDFExtractor(ctx context.Context, cfg config.PDFConfig) (processor.PDFExtractor, error) {
	timeout := config.GetDuration(cfg.Timeout, 30*time.Second)
	switch cfg.Extractor {
	case "tika":
		if cfg.TikaURL == "" {
			return nil, fmt.Errorf("pdf.extractor 为 tika 时必须配置 pdf.tika_url")
		}
		logger.Info().Str("tika_url", cfg.TikaURL).Msg("使用 Tika PDF 解析器")
		return parser.NewTikaPDFExtractor(cfg.TikaURL,
			parser.WithTikaTimeout(timeout),
			parser.WithTikaMetadata(cfg.TikaMetadata),
		), nil
	case "", "eino":
		e, err := parser.NewEinoPDFTextExtractor(ctx,
			parser.WithEinoLogger(logger.Component("pdf_extractor")),
			parser.WithParseTimeout(timeout),
		)
		if err != nil {
			return nil, fmt.Errorf("初始化 PDF 提取器失败: %w", err)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("未知的 PDF 解析器: %q", cfg.Extractor)
	}
}
