package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"github.com/digkill/TGImageBot/internal/admin"
	"github.com/digkill/TGImageBot/internal/config"
	"github.com/digkill/TGImageBot/internal/database"
	"github.com/digkill/TGImageBot/internal/gemini"
	"github.com/digkill/TGImageBot/internal/history"
	"github.com/digkill/TGImageBot/internal/imagegen"
	"github.com/digkill/TGImageBot/internal/kie"
	"github.com/digkill/TGImageBot/internal/models"
	"github.com/digkill/TGImageBot/internal/notify"
	"github.com/digkill/TGImageBot/internal/quota"
	"github.com/digkill/TGImageBot/internal/repository"
	"github.com/digkill/TGImageBot/internal/repository/memory"
	"github.com/digkill/TGImageBot/internal/service"
	"github.com/digkill/TGImageBot/internal/storage"
	"github.com/digkill/TGImageBot/internal/telegram"
	"github.com/digkill/TGImageBot/internal/workflow"
	"github.com/digkill/TGImageBot/pkg/logger"
)

const (
	sessionSweepEvery = time.Minute
	historySweepEvery = 5 * time.Minute
	usagePruneEvery   = time.Hour
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, closeStores, err := openStores(ctx, cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer closeStores()

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatalf("telegram bot: %v", err)
	}

	var (
		mediaUploader service.Uploader
		kieUploader   kie.Uploader
	)
	if cfg.S3Configured() {
		uploader, err := storage.NewUploader(storage.Config{
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
			log.Fatalf("storage uploader: %v", err)
		}
		mediaUploader = uploader
		kieUploader = uploader
	}

	generator, err := newGenerator(ctx, cfg, kieUploader, logr)
	if err != nil {
		log.Fatalf("generator: %v", err)
	}

	notifier, runNotifier, err := newNotifier(cfg, botAPI, logr)
	if err != nil {
		log.Fatalf("notifier: %v", err)
	}

	defaults := models.ReferralSettings{GenReward: cfg.ReferralGenReward, EditReward: cfg.ReferralEditReward}
	referralService := service.NewReferralService(stores.Referrals, defaults, notifier, logr)
	userService := service.NewUserService(stores.Users, stores.Usage, referralService, cfg.AdminID, notifier, logr)
	planService := service.NewPlanService(stores.Plans, stores.Users, notifier, logr)
	quotaService := service.NewQuotaService(stores.Usage, planService, quota.NewEvaluator(cfg.FreeDailyGenerations, cfg.FreeDailyEdits), logr)
	keyService := service.NewKeyService(stores.Keys, notifier, logr)
	mediaService := service.NewMediaService(mediaUploader, stores.Images, logr)
	hist := history.New(cfg.HistorySize, cfg.HistoryTTL)
	generationService := service.NewGenerationService(quotaService, generator, mediaService, hist, notifier, logr)
	paymentService := service.NewPaymentService(cfg.TelegramPaymentProviderToken, cfg.PaymentCurrency, stores.Payments, planService, notifier, logr)
	broadcastService := service.NewBroadcastService(stores.Users, telegram.NewMessenger(botAPI), cfg.BroadcastRate, logr)

	flows := workflow.NewController(cfg.WorkflowSessionTTL)

	bot := telegram.NewBot(cfg, botAPI, logr, telegram.Services{
		Users:      userService,
		Generation: generationService,
		Quota:      quotaService,
		Keys:       keyService,
		Referrals:  referralService,
		Plans:      planService,
		Payments:   paymentService,
		Broadcast:  broadcastService,
		History:    hist,
	}, flows, notifier)

	adminServer := admin.NewServer(cfg.AdminListenAddr, cfg.AdminUsername, cfg.AdminPassword, logr, admin.Services{
		Users:     userService,
		Plans:     planService,
		Keys:      keyService,
		Referrals: referralService,
		Quota:     quotaService,
		Media:     mediaService,
		Broadcast: broadcastService,
	})

	logr.Info("starting", "storage", cfg.StorageDriver, "generator", cfg.GeneratorProvider, "media_archive", mediaUploader != nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bot.Run(gctx) })
	g.Go(func() error { return adminServer.Run(gctx) })
	g.Go(func() error { return runNotifier(gctx) })
	g.Go(func() error { return flows.Run(gctx, sessionSweepEvery) })
	g.Go(func() error { return hist.Run(gctx, historySweepEvery) })
	g.Go(func() error { return quotaService.Run(gctx, usagePruneEvery) })

	if err := g.Wait(); err != nil {
		logr.Error("stopped with error", "err", err)
		return
	}
	logr.Info("stopped")
}

func openStores(ctx context.Context, cfg config.Config) (service.Stores, func(), error) {
	if cfg.StorageDriver == config.StorageMemory {
		mem := memory.New()
		return service.Stores{
			Users:     mem.Users(),
			Usage:     mem.Usage(),
			Keys:      mem.Keys(),
			Referrals: mem.Referrals(),
			Plans:     mem.Plans(),
			Payments:  mem.Payments(),
			Images:    mem.Images(),
		}, func() {}, nil
	}

	db, err := database.Connect(cfg.MySQLDSN)
	if err != nil {
		return service.Stores{}, nil, fmt.Errorf("database connect: %w", err)
	}
	if err := database.Migrate(ctx, db); err != nil {
		db.Close()
		return service.Stores{}, nil, fmt.Errorf("database migrate: %w", err)
	}
	return service.Stores{
		Users:     repository.NewUserRepository(db),
		Usage:     repository.NewUsageRepository(db),
		Keys:      repository.NewKeyRepository(db),
		Referrals: repository.NewReferralRepository(db),
		Plans:     repository.NewPlanRepository(db),
		Payments:  repository.NewPaymentRepository(db),
		Images:    repository.NewImageRepository(db),
	}, func() { db.Close() }, nil
}

func newGenerator(ctx context.Context, cfg config.Config, uploader kie.Uploader, logr *slog.Logger) (imagegen.Generator, error) {
	if cfg.GeneratorProvider == config.ProviderKIE {
		return kie.NewClient(kie.Config{
			APIKey:  cfg.KIEAPIKey,
			BaseURL: cfg.KIEBaseURL,
			Timeout: cfg.RequestTimeout,
		}, uploader, logr), nil
	}
	return gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logr)
}

// newNotifier returns the admin log sink and its worker. Without LOG_CHAT_ID
// events are discarded.
func newNotifier(cfg config.Config, botAPI *tgbotapi.BotAPI, logr *slog.Logger) (notify.Sink, func(context.Context) error, error) {
	if cfg.LogChatID == 0 {
		return notify.Nop{}, func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		}, nil
	}
	sender := botAPI
	if cfg.LogBotToken != "" {
		logBot, err := tgbotapi.NewBotAPI(cfg.LogBotToken)
		if err != nil {
			return nil, nil, fmt.Errorf("log bot: %w", err)
		}
		sender = logBot
	}
	sink := notify.NewTelegram(sender, cfg.LogChatID, cfg.NotifyLevel == "errors", notify.DefaultBuffer, logr)
	return sink, sink.Run, nil
}
