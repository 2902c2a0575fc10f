// setup_plans 初始化或更新默认套餐
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/devil3515/resume-parser/internal/billing"
	"github.com/devil3515/resume-parser/internal/config"
	"github.com/devil3515/resume-parser/internal/logger"
	"github.com/devil3515/resume-parser/internal/storage"
)

func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "", "配置文件路径")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if _, err := logger.Init(logger.Config{Level: cfg.Logger.Level, Format: "pretty"}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	db, err := storage.NewMySQL(&cfg.MySQL)
	if err != nil {
		logger.Fatal().Err(err).Msg("连接 MySQL 失败")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	svc := billing.NewService(storage.NewBillingRepository(db, cfg.RabbitMQ.EventsExchange))
	created, updated, err := svc.SeedDefaultPlans(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化套餐失败")
	}

	plans, err := svc.ListPlans(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("查询套餐失败")
	}
	for _, p := range plans {
		logger.Info().
			Int64("id", p.ID).
			Str("name", p.Name).
			Float64("price", p.Price).
			Int("max_resumes", p.Features.MaxResumesPerMonth).
			Msg("套餐")
	}
	logger.Info().Int("created", created).Int("updated", updated).Msg("套餐初始化完成")
}
