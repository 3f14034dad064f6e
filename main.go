// File: main.go
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Xushengqwer/go-common/core"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Xushengqwer/risk_gate/internal/aliyunclient"
	"github.com/Xushengqwer/risk_gate/internal/audit"
	"github.com/Xushengqwer/risk_gate/internal/config"
	"github.com/Xushengqwer/risk_gate/internal/constants"
	"github.com/Xushengqwer/risk_gate/internal/kafka"
	"github.com/Xushengqwer/risk_gate/internal/metrics"
	"github.com/Xushengqwer/risk_gate/internal/pipeline"
	"github.com/Xushengqwer/risk_gate/internal/platform"
	"github.com/Xushengqwer/risk_gate/internal/policy"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "internal/config/config.development.yaml", "指定配置文件的路径")
	flag.Parse()

	os.Exit(run(configFile))
}

// run 返回进程退出码，所有 defer 都在返回前执行。
func run(configFile string) int {
	var cfg config.AppConfig
	if err := core.LoadConfig(configFile, &cfg); err != nil {
		log.Printf("致命错误: 加载配置文件 '%s' 失败: %v", configFile, err)
		return 1
	}

	zl, err := core.NewZapLogger(cfg.ZapConfig)
	if err != nil {
		log.Printf("致命错误: 初始化 ZapLogger 失败: %v", err)
		return 1
	}
	logger := zl.Logger().With(zap.String("服务(service)", constants.ServiceName))
	defer func() {
		if err := logger.Sync(); err != nil {
			log.Printf("警告: ZapLogger Sync 操作失败: %v\n", err)
		}
	}()

	modPolicy, safetyPolicy, err := policy.FromConfig(cfg.Moderation, cfg.RiskGate)
	if err != nil {
		logger.Error("风控策略配置无效", zap.Error(err))
		return 1
	}
	recorder := metrics.New()

	// --- Kafka ---
	saramaCfg, err := kafka.GetSaramaConfig(cfg.Kafka, logger.Named("sarama"))
	if err != nil {
		logger.Error("创建 Kafka Sarama 配置失败", zap.Error(err))
		return 1
	}
	producer, err := kafka.NewProducer(cfg.Kafka.Brokers, saramaCfg, cfg.Kafka.Topics, logger.Named("producer"))
	if err != nil {
		logger.Error("初始化 Kafka 生产者失败", zap.Error(err))
		return 1
	}
	defer func() {
		if err := producer.Close(); err != nil {
			logger.Error("关闭 Kafka 生产者失败", zap.Error(err))
		}
	}()

	// --- 审计事件输出 ---
	var sinks audit.MultiSink
	for _, name := range cfg.Audit.Sinks {
		switch name {
		case "kafka":
			sinks = append(sinks, producer)
		case "sqlite":
			journal, err := audit.OpenJournal(cfg.Audit.JournalPath)
			if err != nil {
				logger.Error("打开 sqlite 审计日志失败", zap.String("路径(path)", cfg.Audit.JournalPath), zap.Error(err))
				return 1
			}
			defer func() {
				if err := journal.Close(); err != nil {
					logger.Error("关闭 sqlite 审计日志失败", zap.Error(err))
				}
			}()
			sinks = append(sinks, journal)
		default:
			logger.Error("未知的审计输出类型", zap.String("类型(sink)", name), zap.String("支持的类型(supported)", "kafka, sqlite"))
			return 1
		}
	}

	deps := pipeline.Dependencies{
		Directory:    platform.NewMemoryDirectory(true),
		Approver:     producer,
		LabelMapping: cfg.AliyunAudit.LabelMapping,
		Metrics:      recorder,
	}
	if len(sinks) > 0 {
		deps.AuditSink = sinks
	}

	// --- 远程审核平台 (可选) ---
	logger.Info("根据配置初始化审核平台...", zap.String("审核平台(platform)", cfg.AuditPlatform))
	switch cfg.AuditPlatform {
	case "", "local":
	case "aliyun":
		client, err := aliyunclient.NewAuditClient(cfg.AliyunAudit, logger)
		if err != nil {
			logger.Error("初始化阿里云审核客户端失败", zap.Error(err))
			return 1
		}
		deps.Reviewer = client
	default:
		logger.Error("未知的审核平台",
			zap.String("审核平台(platform)", cfg.AuditPlatform),
			zap.String("支持的平台(supported)", "local, aliyun"),
		)
		return 1
	}

	gate := pipeline.New(modPolicy, safetyPolicy, deps, logger)
	processor := kafka.NewProcessor(logger.Named("processor"), gate, producer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return kafka.StartConsumerGroup(gctx, cfg.Kafka, logger.Named("consumer"), processor, producer)
	})
	if addr := cfg.Metrics.ListenAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", recorder.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("指标服务已启动", zap.String("地址(addr)", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	logger.Info("风控决策服务已启动")
	if err := g.Wait(); err != nil {
		logger.Error("服务异常退出", zap.Error(err))
		return 1
	}
	logger.Info("服务已成功关闭。")
	return 0
}
