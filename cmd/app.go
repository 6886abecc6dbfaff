package cmd

import (
	"context"
	"fmt"
	"strings"

	"satsledger/config"
	"satsledger/database"
	"satsledger/events"
	"satsledger/infrastructure"
	"satsledger/infrastructure/observability"
	"satsledger/repository"
	"satsledger/service"

	"github.com/bwmarrin/discordgo"
	log "github.com/sirupsen/logrus"
)

// application holds everything opened at startup so it can be closed in reverse order
type application struct {
	cfg      *config.Config
	db       *database.DB
	eventBus *events.Bus
	metrics  *observability.MetricsProvider
	nats     *infrastructure.NATSClient
	discord  *discordgo.Session
	ledger   service.LedgerService
}

// ConfigureLogging applies LOG_LEVEL and picks the formatter for the environment
func ConfigureLogging(cfg *config.Config) {
	level, err := log.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		log.WithField("logLevel", cfg.LogLevel).Warn("Unknown log level, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Environment == "production" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

// bootstrap opens the store, builds the ledger and attaches the configured event sinks
func bootstrap(ctx context.Context, cfg *config.Config) (*application, error) {
	app := &application{cfg: cfg}

	log.Info("Connecting to database...")
	db, err := database.NewConnection(ctx, cfg.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	app.db = db
	log.Info("Database connection established successfully")

	app.eventBus = events.NewBus()
	uowFactory := repository.NewUnitOfWorkFactory(db, app.eventBus)

	app.metrics = observability.NewMetricsProvider(cfg)
	if err := app.metrics.Initialize(ctx); err != nil {
		app.close(ctx)
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if cfg.NATSEnabled {
		client := infrastructure.NewNATSClient(cfg.NATSServers, cfg.OTelServiceName)
		if err := client.Connect(ctx); err != nil {
			app.close(ctx)
			return nil, err
		}
		app.nats = client

		if err := client.EnsureLedgerStream(); err != nil {
			app.close(ctx)
			return nil, err
		}
		infrastructure.NewNATSEventForwarder(client, app.metrics).Register(app.eventBus)
	}

	if cfg.DiscordNotificationsEnabled() {
		session, err := infrastructure.OpenDiscordSession(cfg.DiscordToken)
		if err != nil {
			app.close(ctx)
			return nil, err
		}
		app.discord = session
		infrastructure.NewDiscordNotifier(session, cfg.ModerationChannelID).Register(app.eventBus)
	}

	authorizer := service.NewStaticAuthorizer(cfg.AdminUserIDs)
	if len(cfg.AdminUserIDs) == 0 {
		log.Warn("ADMIN_USER_IDS is empty, every moderation decision will be refused")
	}

	app.ledger = service.NewLedgerService(uowFactory, authorizer, app.metrics)

	log.WithFields(log.Fields{
		"environment": cfg.Environment,
		"nats":        app.nats != nil,
		"discord":     app.discord != nil,
		"admins":      len(cfg.AdminUserIDs),
	}).Info("Ledger initialized")

	return app, nil
}

// drainEvents waits for committed events to reach NATS and Discord before they are closed
func (a *application) drainEvents(ctx context.Context) {
	if a.eventBus == nil {
		return
	}
	if err := a.eventBus.Wait(ctx); err != nil {
		log.WithError(err).Warn("Event handlers still running at shutdown, undelivered events are dropped")
	}
}

// close releases resources in reverse order of acquisition
func (a *application) close(ctx context.Context) {
	if a.discord != nil {
		if err := a.discord.Close(); err != nil {
			log.WithError(err).Warn("Error closing Discord session")
		}
	}

	if a.nats != nil {
		if err := a.nats.Close(); err != nil {
			log.WithError(err).Warn("Error closing NATS connection")
		}
	}

	if a.metrics != nil {
		if err := a.metrics.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("Error shutting down metrics provider")
		}
	}

	if a.db != nil {
		log.Info("Closing database connection...")
		a.db.Close()
	}
}
