package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/digkill/imaginebot/internal/admin"
	"github.com/digkill/imaginebot/internal/config"
	"github.com/digkill/imaginebot/internal/database"
	"github.com/digkill/imaginebot/internal/inference"
	"github.com/digkill/imaginebot/internal/metrics"
	"github.com/digkill/imaginebot/internal/prompt"
	"github.com/digkill/imaginebot/internal/repository"
	"github.com/digkill/imaginebot/internal/service"
	"github.com/digkill/imaginebot/internal/session"
	"github.com/digkill/imaginebot/internal/storage"
	"github.com/digkill/imaginebot/internal/telegram"
	"github.com/digkill/imaginebot/pkg/logger"
)

const sessionSweepInterval = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)

	db, dialect, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db, dialect); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatalf("telegram bot: %v", err)
	}
	logr.Info("authorized on telegram", "username", botAPI.Self.UserName)

	m := metrics.New(prometheus.DefaultRegisterer)

	userRepo := repository.NewUserRepository(db, dialect)
	generationRepo := repository.NewGenerationRepository(db)

	limits := service.Limits{Free: cfg.MaxImagesFree, Premium: cfg.MaxImagesPremium}
	sessions := session.NewManager(cfg.SessionTimeout, cfg.SessionCooldown, session.WithActiveHook(m.SetActiveSessions))
	dispatcher := service.NewDispatcher(inference.NewClient(cfg, logr), cfg.GenerationTimeout)
	policy := prompt.NewPolicy(prompt.WithMaxLength(cfg.MaxPromptLength))

	opts := []service.Option{service.WithMetrics(m)}
	if cfg.ArchiveEnabled() {
		archive, err := storage.NewArchive(storage.Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicBaseURL,
			UsePathStyle:  cfg.S3UsePathStyle,
			Prefix:        cfg.S3Prefix,
		})
		if err != nil {
			log.Fatalf("storage archive: %v", err)
		}
		opts = append(opts, service.WithArchive(archive))
	}

	userService := service.NewUserService(userRepo, generationRepo, limits)
	generationService := service.NewGenerationService(logr, userRepo, generationRepo, dispatcher, policy, sessions, limits, opts...)

	go sessions.Run(ctx, sessionSweepInterval)

	httpServer := admin.NewServer(cfg.HTTPListenAddr, cfg.AdminUsername, cfg.AdminPassword, logr, userService, prometheus.DefaultGatherer)
	go func() {
		if err := httpServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logr.Error("http server stopped", "err", err)
		}
	}()

	bot := telegram.NewBot(botAPI, logr, userService, generationService, m, policy.MaxLength())
	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("bot stopped", "err", err)
	}
}
