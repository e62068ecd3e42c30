// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"reengage-engine/internal/api"
	"reengage-engine/internal/common/config"
	"reengage-engine/internal/common/database"
	"reengage-engine/internal/common/logger"
	"reengage-engine/internal/dispatch"
	"reengage-engine/internal/eligibility"
	"reengage-engine/internal/models"
	"reengage-engine/internal/provider"
	"reengage-engine/internal/queue"
	"reengage-engine/internal/reconcile"
	"reengage-engine/internal/repository"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func buildProviders(ctx context.Context, cfg *config.Config, log logger.Logger, zapLog *zap.Logger) []provider.ChannelProvider {
	if cfg.Comms.MockMode {
		zapLog.Info("comms running in mock mode, no live provider will be called")
		return []provider.ChannelProvider{
			provider.NewMockProvider(models.ChannelSMS, log),
			provider.NewMockProvider(models.ChannelEmail, log),
		}
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Comms.AWS.Region))
	if err != nil {
		zapLog.Fatal("AWS config load failed", zap.Error(err))
	}

	providers := []provider.ChannelProvider{}
	if cfg.Comms.AWS.SNS.Enabled {
		providers = append(providers,
			provider.NewSMSProvider(sns.NewFromConfig(awsCfg), cfg.Comms.AWS.SNS.SenderID, log))
	}
	if cfg.Comms.AWS.SES.Enabled {
		providers = append(providers,
			provider.NewEmailProvider(ses.NewFromConfig(awsCfg), cfg.Comms.AWS.SES.FromEmail, log))
	}
	return providers
}

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting re-engagement server...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	db := pg.GetDB()

	patientRepo := repository.NewPatientRepository(db)
	queueRepo := repository.NewQueueRepository(db)
	campaignRepo := repository.NewCampaignRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	eligibilityRepo := repository.NewEligibilityRepository(db)
	reconcileStore := repository.NewReconcileStore(db)

	queueManager := queue.NewManager(queueRepo, log)
	resolver := eligibility.NewResolver(eligibilityRepo, log)
	providers := buildProviders(ctx, cfg, log, zapLog)

	coordinator := dispatch.NewCoordinator(
		campaignRepo, messageRepo, patientRepo, resolver, queueManager,
		providers,
		dispatch.Options{
			Concurrency:     cfg.Dispatch.Concurrency,
			MaxAttempts:     cfg.Dispatch.MaxAttempts,
			RetryBackoff:    cfg.Dispatch.Backoff(),
			ProviderTimeout: cfg.Dispatch.Timeout(),
		},
		log,
	)

	reconciler := reconcile.NewHandler(messageRepo, patientRepo, reconcileStore, rdb, log)

	webhooks, err := api.NewWebhookHandler(reconciler, log)
	if err != nil {
		zapLog.Fatal("webhook handler init failed", zap.Error(err))
	}

	router := api.NewRouter(api.Handlers{
		Patients:  api.NewPatientHandler(patientRepo, queueManager, log),
		Queue:     api.NewQueueHandler(queueManager, log),
		Campaigns: api.NewCampaignHandler(campaignRepo, messageRepo, coordinator, cfg.Comms, log),
		Webhooks:  webhooks,
	}, log)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		zapLog.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	zapLog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("graceful shutdown failed", zap.Error(err))
	}
	zapLog.Info("Server stopped")
}
