package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/upskill-api/internal/config"
	"github.com/noah-isme/upskill-api/internal/database"
	"github.com/noah-isme/upskill-api/internal/handler"
	"github.com/noah-isme/upskill-api/internal/middleware"
	"github.com/noah-isme/upskill-api/internal/repository"
	"github.com/noah-isme/upskill-api/internal/router"
	"github.com/noah-isme/upskill-api/internal/service"
	cloud "github.com/noah-isme/upskill-api/pkg/cloudinary"
	"github.com/noah-isme/upskill-api/pkg/mailer"
	objectstore "github.com/noah-isme/upskill-api/pkg/minio"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	} else {
		logger.Warn().Msg("redis disabled, leaderboard cache and cross-node fanout are off")
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Drain()
	}

	blobs, err := newBlobStore(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to create blob store: %v", err)
	}

	var mail service.Mailer
	if cfg.SMTPHost != "" {
		smtpMailer, err := mailer.New(mailer.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			TLS:      cfg.SMTPTLS,
			Timeout:  cfg.SMTPTimeout,
		}, logger)
		if err != nil {
			log.Fatalf("failed to create mailer: %v", err)
		}
		mail = smtpMailer
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	store := repository.NewStore(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	activityRepo := repository.NewActivityLogRepository(db)
	directory := service.NewDirectory(repository.NewUserRepository(db))

	activityService := service.NewActivityService(activityRepo, validate, logger)
	rankingService := service.NewRankingService(store, directory, redisClient, cfg.LeaderboardCacheTTL, logger)
	notificationService := service.NewNotificationService(notificationRepo, service.NotificationOptions{
		Redis:       redisClient,
		NATS:        natsConn,
		ChannelBase: cfg.ChannelBase,
		Mailer:      mail,
		Directory:   directory,
	}, validate, logger)
	reviewService := service.NewReviewService(store, submissionRepo, directory, rankingService, notificationService, activityService,
		cfg.Points, service.RetryPolicy{Attempts: cfg.ReviewRetryAttempts, Backoff: 50 * time.Millisecond}, validate, logger)
	ledgerService := service.NewLedgerService(store, ledgerRepo, directory, rankingService, notificationService, activityService, validate, logger)
	submissionService := service.NewSubmissionService(submissionRepo, directory, blobs, cfg.UploadMaxSizeMB, activityService, validate, logger)

	if err := rankingService.Rebuild(ctx); err != nil {
		log.Fatalf("failed to build standings: %v", err)
	}
	rankingService.Start(ctx, cfg.StandingsRefreshInterval)
	notificationService.Start(ctx, cfg.OutboxRelayInterval)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AllowOrigins: cfg.CORSAllowOrigins})
	router.Register(app, cfg, router.Dependencies{
		SubmissionHandler:   handler.NewSubmissionHandler(submissionService, reviewService, logger),
		LeaderboardHandler:  handler.NewLeaderboardHandler(rankingService, logger),
		PointsHandler:       handler.NewPointsHandler(ledgerService, logger),
		NotificationHandler: handler.NewNotificationHandler(notificationService, logger, cfg.SSEKeepAlive),
		ActivityHandler:     handler.NewActivityHandler(activityService, logger),
		DependencyChecks:        dependencyChecks(db, redisClient, natsConn),
		JWTMiddleware:       middleware.JWTProtected(cfg.JWTSecret),
		PrincipalMiddleware: middleware.ResolvePrincipal(directory, logger),
		WriteLimiter:        middleware.RateLimit("writes", cfg.WriteRateLimit, time.Minute),
		ExposeMetrics:       true,
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, cancel)
}

// newBlobStore picks the attachment backend named by UPSKILL_BLOB_BACKEND.
func newBlobStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (service.BlobStore, error) {
	if cfg.BlobBackend == "minio" {
		bucket, err := objectstore.New(objectstore.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		}, logger)
		if err != nil {
			return nil, err
		}
		if err := bucket.EnsureBucket(ctx, ""); err != nil {
			return nil, err
		}
		return bucket, nil
	}

	uploader, err := cloud.New(cloud.Config{
		CloudName: cfg.CloudinaryCloudName,
		APIKey:    cfg.CloudinaryAPIKey,
		APISecret: cfg.CloudinaryAPISecret,
		Folder:    cfg.CloudinaryUploadFolder,
	}, logger)
	if err != nil {
		return nil, err
	}
	return uploader, nil
}

// dependencyChecks covers the database and whichever of redis and nats are configured.
func dependencyChecks(db *gorm.DB, redisClient *redis.Client, natsConn *nats.Conn) []handler.DependencyCheck {
	checks := []handler.DependencyCheck{{
		Name: "database",
		Check: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}}

	if redisClient != nil {
		checks = append(checks, handler.DependencyCheck{
			Name: "redis",
			Check: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		})
	}

	if natsConn != nil {
		checks = append(checks, handler.DependencyCheck{
			Name: "nats",
			Check: func(ctx context.Context) error {
				if !natsConn.IsConnected() {
					return nats.ErrConnectionClosed
				}
				return natsConn.FlushWithContext(ctx)
			},
		})
	}

	return checks
}

func waitForShutdown(app *fiber.App, stopWorkers context.CancelFunc) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()
	stopWorkers()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
