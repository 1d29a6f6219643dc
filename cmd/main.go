package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"MatchAlert/internal/adapter"
	_ "MatchAlert/internal/adapter/frcevents"
	_ "MatchAlert/internal/adapter/tba"
	"MatchAlert/internal/api"
	"MatchAlert/internal/channel"
	"MatchAlert/internal/config"
	"MatchAlert/internal/database"
	"MatchAlert/internal/interfaces"
	"MatchAlert/internal/leader"
	"MatchAlert/internal/repository"
	"MatchAlert/internal/service"
	"MatchAlert/internal/worker"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func newLogger(cfg config.LogConfig) *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

func newElection(cfg config.LeaderConfig, db *gorm.DB, logger *logrus.Logger) interfaces.LeaderElection {
	switch cfg.Backend {
	case "lease":
		return leader.NewLeaseElection(db, cfg.Name, cfg.Stale, logger)
	case "none":
		return nil
	default:
		return leader.NewFileElection(cfg.LockFile, cfg.Stale, logger)
	}
}

func main() {
	// 1. 加载配置文件
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("加载配置文件失败: %v", err)
	}

	// 2. 初始化日志
	logger := newLogger(cfg.Log)
	logger.Info("配置文件加载成功")

	// 3. 连接数据库并按需建表
	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		logger.Fatalf("数据库初始化失败: %v", err)
	}
	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			logger.Fatalf("%v", err)
		}
		logger.Info("数据库表结构检查完成（不存在则已创建）")
	}

	// 4. 上游数据源（init 中已注册工厂）
	registry := adapter.NewSourceRegistry(cfg.Providers, logger)
	primary, err := registry.Get(cfg.MatchTime.Primary)
	if err != nil {
		logger.WithError(err).Warn("主数据源不可用")
	}
	secondary, err := registry.Get(cfg.MatchTime.Secondary)
	if err != nil {
		logger.WithError(err).Warn("备用数据源不可用")
	}

	// 5. 仓储与业务组件
	eventRepo := repository.NewEventRepository(db)
	matchRepo := repository.NewMatchRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)
	userRepo := repository.NewUserRepository(db)
	queueRepo := repository.NewQueueRepository(db)
	logRepo := repository.NewLogRepository(db)

	matchTimes := service.NewMatchTimeService(primary, secondary, cfg.Providers, cfg.MatchTime, cfg.Worker, eventRepo, matchRepo, logger)
	drift := service.NewDriftAnalyzer(eventRepo, matchRepo, matchTimes, cfg.Drift, cfg.Worker, logger)
	scheduler := service.NewNotificationScheduler(eventRepo, matchRepo, subRepo, queueRepo, cfg.Worker.Lookahead, logger)
	reactor := service.NewRescheduleReactor(eventRepo, matchRepo, queueRepo, scheduler, cfg.Drift.ReactorMinutes, logger)
	hostname, _ := os.Hostname()
	delivery := service.NewDeliveryProcessor(
		queueRepo, subRepo, matchRepo, eventRepo, userRepo,
		channel.NewLogChannels(logger), nil,
		cfg.Delivery, hostname+"-"+uuid.NewString()[:8], logger,
	)
	cleaner := service.NewQueueCleaner(queueRepo, logger)

	// 6. 调度循环
	state := worker.NewState()
	tasks, err := worker.BuildTasks(cfg, worker.Services{
		MatchTimes: matchTimes,
		Drift:      drift,
		Scheduler:  scheduler,
		Reactor:    reactor,
		Delivery:   delivery,
		Cleaner:    cleaner,
	}, state)
	if err != nil {
		logger.Fatalf("任务配置无效: %v", err)
	}
	election := newElection(cfg.Leader, db, logger)
	loop := worker.NewLoop(tasks, state, election, cfg.Worker.Tick, cfg.Worker.ErrorBackoff, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 7. 调试服务（只监听本机，默认关闭）
	var srv *http.Server
	if cfg.Debug.Enabled {
		handler := api.NewStatusHandler(queueRepo, logRepo, state, logger)
		srv = &http.Server{Addr: cfg.Debug.Addr, Handler: api.NewRouter(cfg.Debug.Mode, handler)}
		go func() {
			logger.Infof("调试服务启动，监听地址: %s", cfg.Debug.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("调试服务异常退出")
			}
		}()
	}

	_ = loop.Run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}
	if election != nil {
		if err := election.Release(context.Background()); err != nil {
			logger.WithError(err).Warn("释放领导权失败")
		}
	}
	logger.Info("worker 已退出")
}
