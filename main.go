package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"rewards-ledger/config"
	"rewards-ledger/handlers"
	"rewards-ledger/logger"
	"rewards-ledger/middleware"
	"rewards-ledger/models"
	"rewards-ledger/services"
	"rewards-ledger/utils"
	"rewards-ledger/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := gorm.Open(postgres.Open(cfg.DB.DSN), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		logger.Fatalf("failed to connect to database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	if err := models.AutoMigrate(db); err != nil {
		logger.Fatalf("failed to migrate database: %v", err)
	}

	rules := services.Rules{
		MinDeposit:         cfg.Ledger.MinDeposit,
		MinWithdrawal:      cfg.Ledger.MinWithdrawal,
		MinResidualBalance: cfg.Ledger.MinResidualBalance,
		DailyTaskCap:       cfg.Ledger.DailyTaskCap,
		CommissionRate:     cfg.Ledger.CommissionRate,
		Currency:           cfg.Ledger.Currency,
		Location:           cfg.Ledger.Location,
		MerchantCode:       cfg.Ledger.MerchantCode,
	}

	store := services.NewStore(db, cfg.DB.TxRetries, cfg.DB.TxBackoff)
	accounts := services.NewAccountRegistry(store, time.Now)
	referrals := services.NewReferralCommissionEngine(store, accounts, rules.CommissionRate, time.Now)
	deposits := services.NewDepositProcessor(store, accounts, referrals, services.USSDRail{}, rules, time.Now)
	tasks := services.NewTaskRewardEngine(store, accounts, rules, time.Now)
	withdrawals := services.NewWithdrawalLifecycle(store, accounts, rules, time.Now)

	var cache services.SnapshotCache
	if cfg.Redis.Addr != "" {
		rdb, err := utils.ConnectRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warnf("Redis unavailable at %s, analytics cache disabled: %v", cfg.Redis.Addr, err)
		} else {
			defer rdb.Close()
			cache = services.NewRedisSnapshotCache(rdb, cfg.Redis.CacheTTL)
		}
	}
	analytics := services.NewAnalyticsAggregator(store, cache, rules, time.Now)

	var exporter *services.ReportExporter
	if cfg.R2.Bucket != "" {
		uploader, err := utils.NewR2Uploader(ctx, cfg.R2.AccountID, cfg.R2.AccessKeyID, cfg.R2.AccessKeySecret, cfg.R2.Bucket)
		if err != nil {
			logger.Fatalf("failed to initialize R2 client: %v", err)
		}
		exporter = services.NewReportExporter(analytics, uploader, cfg.R2.ReportPrefix, rules)
	}

	sched, err := services.StartLedgerScheduler(deposits, exporter, cfg.Ledger.DepositTTL, rules.Location)
	if err != nil {
		logger.Fatalf("failed to start scheduler: %v", err)
	}

	if cfg.Identity.SyncServiceURL != "" {
		workers.NewMemberSyncWorker(accounts, cfg.Identity.SyncServiceURL, "/api/v1/public/profiles", cfg.App.ServiceToken, cfg.Identity.SyncInterval).Start(ctx)
	}
	if cfg.Settlement.FeedURL != "" {
		go workers.PollSettlements(ctx, workers.NewSettlementClient(cfg.Settlement.FeedURL, cfg.App.ServiceToken), deposits, cfg.Settlement.PollInterval)
	}

	var identity middleware.TokenValidator
	if cfg.Identity.AuthServiceURL != "" {
		identity = services.NewIdentityClient(cfg.Identity.AuthServiceURL, cfg.Identity.AuthToken)
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst)
	limiter.StartCleanup(time.Minute, 10*time.Minute, ctx.Done())

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		BodyLimit:    1 * 1024 * 1024,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE streams stay open
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.App.AllowedOrigins, ","),
		AllowMethods:     "GET,POST,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, Cache-Control, X-Service-Token, X-Device-ID",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health and metrics answer before gateway auth.
	handlers.SetupOpsRoutes(app)

	// GLOBAL: every ledger route must come from the gateway.
	app.Use(middleware.GatewayAuthMiddleware(cfg.App.ServiceToken))

	handlers.SetupLedgerRoutes(app, &handlers.LedgerHandler{
		Accounts:    accounts,
		Deposits:    deposits,
		Referrals:   referrals,
		Tasks:       tasks,
		Withdrawals: withdrawals,
		Analytics:   analytics,
	}, limiter, identity)

	go func() {
		if err := app.Listen(":" + cfg.App.Port); err != nil {
			logger.Errorf("Server error: %v", err)
		}
	}()

	logger.Infof("Rewards ledger running on :%s (currency %s, commission %s, day in %s)",
		cfg.App.Port, rules.Currency, rules.CommissionRate, rules.Location)

	<-ctx.Done()
	logger.Info("Shutting down server...")

	if err := sched.Shutdown(); err != nil {
		logger.Warnf("Scheduler shutdown: %v", err)
	}
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warnf("Server shutdown: %v", err)
	}
}
