package storage

import (
	"context"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/devil3515/resume-parser/internal/config"
	applog "github.com/devil3515/resume-parser/internal/logger"
)

// Storage 聚合所有外部存储依赖。
// MySQL 是必需的；Redis、MinIO、RabbitMQ 初始化失败时记录警告并置空。
type Storage struct {
	MySQL    *MySQL
	Redis    *Redis
	MinIO    *MinIO
	RabbitMQ *RabbitMQ
}

// NewStorage 按配置初始化各存储组件
func NewStorage(ctx context.Context, cfg *config.Config) (*Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}
	log := applog.Component("storage")

	s := &Storage{}
	var err error
	var initErrors []string

	s.MySQL, err = NewMySQL(&cfg.MySQL)
	if err != nil {
		return nil, fmt.Errorf("初始化MySQL失败: %w", err)
	}

	if cfg.Redis.Address != "" {
		s.Redis, err = NewRedisAdapter(&cfg.Redis)
		if err != nil {
			initErrors = append(initErrors, fmt.Sprintf("Redis: %v", err))
		}
	} else {
		log.Info().Msg("Redis未配置，跳过初始化")
	}

	if cfg.MinIO.Endpoint != "" {
		s.MinIO, err = NewMinIO(&cfg.MinIO)
		if err != nil {
			initErrors = append(initErrors, fmt.Sprintf("MinIO: %v", err))
		}
	}

	if cfg.RabbitMQ.URL != "" {
		s.RabbitMQ, err = NewRabbitMQ(&cfg.RabbitMQ)
		if err != nil {
			initErrors = append(initErrors, fmt.Sprintf("RabbitMQ: %v", err))
		} else if cfg.RabbitMQ.EventsExchange != "" {
			if err := s.RabbitMQ.EnsureExchange(cfg.RabbitMQ.EventsExchange, amqp.ExchangeTopic, true); err != nil {
				initErrors = append(initErrors, fmt.Sprintf("RabbitMQ exchange: %v", err))
			}
		}
	}

	if len(initErrors) > 0 {
		log.Warn().Str("errors", strings.Join(initErrors, "; ")).Msg("部分存储组件初始化失败")
	}
	return s, nil
}

// Ping 检查已连接的组件
func (s *Storage) Ping(ctx context.Context) error {
	if err := s.MySQL.Ping(ctx); err != nil {
		return fmt.Errorf("MySQL: %w", err)
	}
	if s.Redis != nil {
		if err := s.Redis.Ping(ctx); err != nil {
			return fmt.Errorf("Redis: %w", err)
		}
	}
	if s.MinIO != nil {
		if err := s.MinIO.Ping(ctx); err != nil {
			return fmt.Errorf("MinIO: %w", err)
		}
	}
	return nil
}

// Close 关闭所有连接
func (s *Storage) Close() {
	log := applog.Component("storage")
	if s.RabbitMQ != nil {
		if err := s.RabbitMQ.Close(); err != nil {
			log.Error().Err(err).Msg("关闭RabbitMQ连接失败")
		}
	}
	if s.MySQL != nil {
		if err := s.MySQL.Close(); err != nil {
			log.Error().Err(err).Msg("关闭MySQL连接失败")
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Error().Err(err).Msg("关闭Redis连接失败")
		}
	}
}
