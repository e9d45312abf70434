package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pydea-rs/tayadex-backend/internal/blockchain"
	"github.com/pydea-rs/tayadex-backend/internal/config"
	"github.com/pydea-rs/tayadex-backend/internal/handler"
	"github.com/pydea-rs/tayadex-backend/internal/indexer"
	"github.com/pydea-rs/tayadex-backend/internal/models"
	"github.com/pydea-rs/tayadex-backend/internal/queue"
	"github.com/pydea-rs/tayadex-backend/internal/repository"
	"github.com/pydea-rs/tayadex-backend/internal/scheduler"
	"github.com/pydea-rs/tayadex-backend/internal/service"
	"github.com/pydea-rs/tayadex-backend/pkg/errors"
	"github.com/pydea-rs/tayadex-backend/pkg/logger"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := initDatabase(cfg.Database)
	if err != nil {
		logger.Fatal(errors.New(errors.ErrDatabaseConnect, "Failed to connect database", err))
	}
	defer closeDatabase(db)

	if err := models.AutoMigrate(db); err != nil {
		logger.Fatal("Failed to migrate database:", err)
	}
	if cfg.Database.SeedDefaults {
		if err := repository.SeedDefaults(ctx, db); err != nil {
			logger.Fatal("Failed to seed defaults:", err)
		}
	}

	chainRepo := repository.NewChainRepository(db)
	txRepo := repository.NewTransactionRepository(db)
	ruleRepo := repository.NewRuleRepository(db)
	pointsRepo := repository.NewPointsRepository(db)
	referralRepo := repository.NewReferralRepository(db)
	userRepo := repository.NewUserRepository(db)

	// 链配置以配置文件为准，保留已有水位线
	chain, err := chainRepo.Ensure(ctx, &models.Chain{
		ID:             cfg.Chain.ID,
		Name:           cfg.Chain.Name,
		RPC:            cfg.Chain.RPCURL,
		StartFromBlock: cfg.Chain.StartFromBlock(),
		BatchSize:      cfg.Chain.BatchSize,
		MaxBatchSteps:  cfg.Chain.MaxBatchSteps,
	})
	if err != nil {
		logger.Fatal("Failed to ensure chain:", err)
	}

	client, err := blockchain.NewClient(ctx, &cfg.Chain)
	if err != nil {
		logger.Fatal("Failed to create blockchain client:", err)
	}
	defer client.Close()

	workQueue, closeQueue, err := initQueue(ctx, cfg)
	if err != nil {
		logger.Fatal(errors.New(errors.ErrQueue, "Failed to init queue", err))
	}
	defer closeQueue()

	userSvc := service.NewUserService(userRepo, cfg.Indexer.AutoRegisterUsers)
	ruleEngine := service.NewRuleEngine(ruleRepo, pointsRepo)
	referralSvc := service.NewReferralService(db, referralRepo, pointsRepo, userRepo).
		WithSettleDelay(cfg.Referral.SettleDelayDuration())
	standingsSvc := service.NewStandingsService(pointsRepo)
	recoverySvc := service.NewRecoveryService(txRepo, workQueue, cfg.Indexer.RecoveryBatch, cfg.Indexer.AutoRegisterUsers)

	ix := indexer.New(chain.ID, client, chainRepo, workQueue, cfg.Chain.WindowDelay())
	processor := indexer.NewProcessor(db, chain.ID, client, txRepo, userSvc, ruleEngine)
	drainer := queue.NewDrainer(workQueue, processor, cfg.Indexer.MaxItemRetries)

	logger.WithFields(map[string]interface{}{
		"chain_id":           chain.ID,
		"rpc":                cfg.Chain.RPCURL,
		"last_indexed_block": chain.LastIndexedBlock,
		"start_from_block":   chain.StartFromBlock,
		"batch_size":         chain.BatchSize,
		"max_batch_steps":    chain.MaxBatchSteps,
		"queue_backend":      cfg.Indexer.QueueBackend,
	}).Info("启动链索引器")

	jobs := scheduler.New(scheduler.Options{
		ScanInterval:     time.Duration(cfg.Indexer.ScanInterval) * time.Second,
		DrainInterval:    time.Duration(cfg.Indexer.DrainInterval) * time.Second,
		RecoveryInterval: time.Duration(cfg.Indexer.RecoveryInterval) * time.Second,
		ReferralCron:     cfg.Referral.Cron,
		IndexerEnabled:   cfg.Indexer.Enabled,
		ReferralEnabled:  cfg.Referral.Enabled,
	}, ix, drainer, referralSvc, recoverySvc)
	if err := jobs.Start(ctx); err != nil {
		logger.Fatal("Failed to start scheduler:", err)
	}
	defer jobs.Stop()

	router := setupHTTPRouter(cfg, chainRepo, txRepo, pointsRepo, userRepo, userSvc, standingsSvc, referralSvc, ix, workQueue, drainer, client, jobs)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("Server starting on port ", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error:", err)
	}

	logger.Info("Server stopped")
}

func initDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN())
	default:
		dialector = mysql.Open(cfg.DSN())
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	if cfg.Driver == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	}

	return db, nil
}

func closeDatabase(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		logger.Error("Failed to get database instance:", err)
		return
	}
	sqlDB.Close()
}

func initQueue(ctx context.Context, cfg *config.Config) (queue.Queue, func(), error) {
	if cfg.Indexer.QueueBackend != "redis" {
		return queue.NewMemoryQueue(), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, err
	}
	return queue.NewRedisQueue(rdb, cfg.Redis.QueueKey), func() { rdb.Close() }, nil
}

func setupHTTPRouter(
	cfg *config.Config,
	chainRepo *repository.ChainRepository,
	txRepo *repository.TransactionRepository,
	pointsRepo *repository.PointsRepository,
	userRepo *repository.UserRepository,
	userSvc *service.UserService,
	standingsSvc *service.StandingsService,
	referralSvc *service.ReferralService,
	ix *indexer.Indexer,
	workQueue queue.Queue,
	drainer *queue.Drainer,
	client *blockchain.Client,
	jobs *scheduler.Scheduler,
) http.Handler {
	router := http.NewServeMux()

	pointsHandler := handler.NewPointsHandler(standingsSvc, pointsRepo, userRepo)
	referralHandler := handler.NewReferralHandler(referralSvc, userSvc, userRepo)
	txHandler := handler.NewTransactionHandler(txRepo, pointsRepo)
	statsHandler := handler.NewStatsHandler(cfg.Chain.ID, chainRepo, ix, workQueue, drainer, client)
	triggerHandler := handler.NewTriggerHandler(jobs)

	router.HandleFunc("/api/leaderboard", pointsHandler.Leaderboard)
	router.HandleFunc("/api/points/", pointsHandler.GetPoints)
	router.HandleFunc("/api/referrals/distribute", triggerHandler.TriggerReferrals)
	router.HandleFunc("/api/referrals/link", referralHandler.Link)
	router.HandleFunc("/api/referrals/", referralHandler.GetReport)
	router.HandleFunc("/api/transactions/recent", txHandler.GetRecentTransactions)
	router.HandleFunc("/api/transactions/", txHandler.GetTransaction)
	router.HandleFunc("/api/stats", statsHandler.GetStats)
	router.HandleFunc("/api/cache/clear", statsHandler.ClearCache)
	router.HandleFunc("/api/indexer/round", triggerHandler.TriggerRound)
	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/health", handler.HandleHealth)

	return router
}
