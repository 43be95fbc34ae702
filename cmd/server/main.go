package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"caption-api/internal/auth"
	"caption-api/internal/caption"
	"caption-api/internal/config"
	apphttp "caption-api/internal/http"
	"caption-api/internal/repository"
	"caption-api/internal/repository/mongo"
	"caption-api/internal/repository/sqlite"
	"caption-api/internal/service"
	"caption-api/internal/storage"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	} else {
		logger.Warnf("unknown log level %q, using info", cfg.Log.Level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	userRepo, closeStore, err := openUserRepository(ctx, cfg)
	if err != nil {
		logger.Fatalf("open user store: %v", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := closeStore(closeCtx); err != nil {
			logger.Warnf("close user store: %v", err)
		}
	}()

	if err := userRepo.Init(ctx); err != nil {
		logger.Fatalf("init user repository: %v", err)
	}

	hasher, err := auth.NewPasswordHasher(cfg.Auth.HashScheme)
	if err != nil {
		logger.Fatalf("setup password hasher: %v", err)
	}
	tokens := auth.NewTokenService(cfg.Auth.JWTSecret)
	userService := service.NewUserService(userRepo, hasher, tokens, cfg.TokenTTL())

	captions, err := buildCaptions(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup captioning: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(userService, captions, cfg.MaxUploadBytes(), logger)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("listening on %s (store: %s)", cfg.Server.Addr, cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}

	logger.Info("bye")
}

func openUserRepository(ctx context.Context, cfg config.Config) (repository.UserRepository, func(context.Context) error, error) {
	switch cfg.Database.Driver {
	case "mongo":
		client, err := mongo.Open(ctx, cfg.Database.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		repo := mongo.NewUserRepository(client.Database(cfg.Database.MongoDatabase))
		return repo, client.Disconnect, nil
	default:
		db, err := sqlite.Open(cfg.Database.Path)
		if err != nil {
			return nil, nil, err
		}
		return sqlite.NewUserRepository(db), func(context.Context) error { return db.Close() }, nil
	}
}

func buildCaptions(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*caption.Service, error) {
	if cfg.Caption.BackendURL == "" {
		logger.Info("caption backend not configured; /model routes disabled")
		return nil, nil
	}

	var store storage.Service
	if cfg.Storage.Bucket != "" {
		s3Store, err := buildStorage(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		store = s3Store
	}

	client := caption.NewHTTPClient(cfg.Caption.BackendURL, cfg.CaptionTimeout())
	return caption.NewService(client, store, caption.ArchiveOptions{
		Bucket:    cfg.Storage.Bucket,
		KeyPrefix: cfg.Storage.KeyPrefix,
	}, logger), nil
}

func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*storage.S3Service, error) {
	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("archiving uploads to s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Service(client), nil
}
