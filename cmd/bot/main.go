package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/ticket-bot/internal/api/http"
	"github.com/spec-kit/ticket-bot/internal/api/http/handlers"
	"github.com/spec-kit/ticket-bot/internal/bot"
	"github.com/spec-kit/ticket-bot/internal/config"
	"github.com/spec-kit/ticket-bot/internal/events"
	"github.com/spec-kit/ticket-bot/internal/observability"
	"github.com/spec-kit/ticket-bot/internal/persistence"
	"github.com/spec-kit/ticket-bot/internal/platform"
	"github.com/spec-kit/ticket-bot/internal/repository"
	"github.com/spec-kit/ticket-bot/internal/service"
	"github.com/spec-kit/ticket-bot/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	var state persistence.TTLStore = persistence.NewMemoryTTLStore()
	if redis != nil {
		state = persistence.NewRedisTTLStore(redis.Client)
	}

	session, err := discordgo.New("Bot " + cfg.Discord.BotToken)
	if err != nil {
		logger.Fatal("failed to create discord session", zap.Error(err))
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsGuildMembers

	client := platform.NewDiscord(session)

	pool := pg.PoolHandle()
	ticketRepo := repository.NewTicketRepository(pool)
	transcriptRepo := repository.NewTranscriptRepository(pool)
	guildConfigRepo := repository.NewGuildConfigRepository(pool)

	dispatcher := events.NewInMemoryDispatcher()
	metrics := observability.NewMetrics()

	configResolver := service.NewConfigResolver(guildConfigRepo)
	transcriptService := service.NewTranscriptService(service.TranscriptDependencies{
		TranscriptRepo: transcriptRepo,
		Client:         client,
		Logger:         logger,
		PublicBaseURL:  cfg.Transcript.BaseURL,
	})
	creationService := service.NewCreationService(service.CreationDependencies{
		TicketRepo: ticketRepo,
		Configs:    configResolver,
		Client:     client,
		State:      state,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	interactionService := service.NewInteractionService(service.InteractionDependencies{
		TicketRepo:  ticketRepo,
		Configs:     configResolver,
		Client:      client,
		Transcripts: transcriptService,
		Dispatcher:  dispatcher,
		Logger:      logger,
		DeleteGrace: cfg.Tickets.DeleteGrace(),
	})
	activityService := service.NewActivityService(ticketRepo, state, logger, cfg.Tickets.ActivityDebounce())

	auditService := service.NewAuditService(dispatcher, logger, metrics)
	auditService.RegisterHandlers()

	router := bot.NewRouter(bot.RouterDependencies{
		Session:      session,
		Creation:     creationService,
		Interactions: interactionService,
		Activity:     activityService,
		Logger:       logger,
	})
	router.Attach()

	if err := session.Open(); err != nil {
		logger.Fatal("failed to open discord gateway", zap.Error(err))
	}
	defer session.Close()

	autoClose := worker.NewAutoCloseWorker(worker.AutoCloseDependencies{
		TicketRepo:      ticketRepo,
		GuildConfigRepo: guildConfigRepo,
		Configs:         configResolver,
		Interactions:    interactionService,
		Client:          client,
		Dispatcher:      dispatcher,
		Logger:          logger,
		Interval:        cfg.Tickets.SweepInterval(),
	})
	go autoClose.Run(ctx)

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger)

	healthHandler := handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis)
	transcriptsHandler := handlers.NewTranscriptsHandler(transcriptRepo)

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:           healthHandler,
		Transcripts:      transcriptsHandler,
		ServeTranscripts: cfg.Transcript.BaseURL != "",
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
