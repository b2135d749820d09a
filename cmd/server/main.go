package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/foliomedia/newsroom/internal/api"
	"github.com/foliomedia/newsroom/internal/config"
	"github.com/foliomedia/newsroom/internal/mailer"
	"github.com/foliomedia/newsroom/internal/newsletter"
	"github.com/foliomedia/newsroom/internal/pkg/distlock"
	"github.com/foliomedia/newsroom/internal/pkg/logger"
)

func main() {
	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	if err := db.Ping(); err != nil {
		log.Fatalf("ping database: %v", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled && cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("parse redis url: %v", err)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis unreachable, dispatch lock falls back to postgres", "error", err)
			redisClient = nil
		}
	}

	sender, err := buildSender(cfg)
	if err != nil {
		log.Fatalf("build sender: %v", err)
	}

	store := newsletter.NewStore(db)
	transformer := newsletter.NewTransformer(cfg.Tracking.BaseURL)
	recorder := newsletter.NewDeliveryRecorder(store)
	resolver := newsletter.NewResolver(store)
	pacer := &newsletter.FixedDelayPacer{Delay: cfg.Dispatch.BatchDelay()}
	dispatcher := newsletter.NewDispatcher(sender, recorder, transformer,
		cfg.Mailer.From, cfg.Mailer.FromName, cfg.Dispatch.BatchSize, pacer,
		cfg.Dispatch.SendTimeout())

	lockTTL := cfg.Dispatch.LockTTL()
	lockFor := func(newsletterID uuid.UUID) distlock.DistLock {
		return distlock.NewLock(redisClient, db, "newsletter:send:"+newsletterID.String(), lockTTL)
	}

	svc := newsletter.NewService(store, resolver, transformer, dispatcher, recorder, lockFor)
	server := api.NewServer(api.NewHandlers(store, svc))

	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
	go func() {
		logger.Info("admin api listening", "addr", addr, "provider", cfg.Mailer.Provider)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down admin api")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Shutdown(ctx)
}

func buildSender(cfg *config.Config) (mailer.Sender, error) {
	switch cfg.Mailer.Provider {
	case "ses":
		return mailer.NewSESSender(context.Background(),
			cfg.Mailer.SES.AccessKey, cfg.Mailer.SES.SecretKey, cfg.Mailer.SES.Region)
	case "sparkpost":
		return mailer.NewSparkPostSender(cfg.Mailer.SparkPost.APIKey), nil
	default:
		return nil, fmt.Errorf("unknown mailer provider %q", cfg.Mailer.Provider)
	}
}
