package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/adforgehq/adforge/pkg/analytics"
	"github.com/adforgehq/adforge/pkg/billing"
	"github.com/adforgehq/adforge/pkg/config"
	"github.com/adforgehq/adforge/pkg/httpserver"
	"github.com/adforgehq/adforge/pkg/ledger"
	"github.com/adforgehq/adforge/pkg/logger"
	"github.com/adforgehq/adforge/pkg/payment"
	"github.com/adforgehq/adforge/pkg/pg"
	"github.com/adforgehq/adforge/pkg/processor"
	"github.com/adforgehq/adforge/pkg/redisconn"
)

type appConfig struct {
	Logger       logger.Config
	HTTP         httpserver.Config
	PG           pg.Config
	Redis        redisconn.Config
	LemonSqueezy payment.LemonSqueezyConfig

	PaddleEnabled    bool          `env:"PADDLE_ENABLED" envDefault:"false"`
	CatalogPath      string        `env:"BILLING_CATALOG_PATH"`
	RetryInterval    time.Duration `env:"WEBHOOK_RETRY_INTERVAL" envDefault:"1m"`
	StaleAfter       time.Duration `env:"WEBHOOK_STALE_AFTER" envDefault:"10m"`
	WarningRetention time.Duration `env:"USAGE_WARNING_RETENTION" envDefault:"1080h"`
}

func main() {
	if err := run(context.Background()); err != nil {
		slog.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var cfg appConfig
	config.MustLoad(&cfg)

	log := logger.NewFromConfig(cfg.Logger)
	logger.SetAsDefault(log)

	pool, err := pg.Connect(ctx, cfg.PG)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, cfg.PG, log); err != nil {
		return err
	}

	redisClient, err := redisconn.Connect(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer func() { _ = redisClient.Close() }()

	catalog, err := loadCatalog(ctx, cfg.CatalogPath)
	if err != nil {
		return err
	}

	accounts := billing.NewPGAccountStore(pool)
	subscriptions, err := billing.NewService(accounts, catalog,
		billing.WithRecorder(analytics.NewSlogRecorder(log)),
		billing.WithLogger(log),
	)
	if err != nil {
		return err
	}

	provider, err := payment.NewLemonSqueezy(cfg.LemonSqueezy)
	if err != nil {
		return err
	}
	providers := []payment.Provider{provider}

	// Paddle is opt-in; its config is only required once enabled.
	if cfg.PaddleEnabled {
		var paddleCfg payment.PaddleConfig
		config.MustLoad(&paddleCfg)
		paddle, err := payment.NewPaddle(paddleCfg)
		if err != nil {
			return err
		}
		providers = append(providers, paddle)
	}

	led := ledger.New(ledger.NewPGStore(pool), ledger.WithLogger(log))
	proc := processor.New(led, accounts, subscriptions, providers,
		processor.WithLogger(log),
	)

	retrier := processor.NewRetrier(proc,
		processor.WithInterval(cfg.RetryInterval),
		processor.WithStaleAfter(cfg.StaleAfter),
		processor.WithRetrierLogger(log),
	)
	go func() {
		if err := retrier.Run(ctx); err != nil && ctx.Err() == nil {
			log.ErrorContext(ctx, "retry loop stopped", slog.Any("error", err))
		}
	}()

	marker := billing.NewRedisWarningMarker(redisClient, cfg.WarningRetention)
	monitor := billing.NewUsageMonitor(subscriptions.Accountant(), marker,
		billing.WithMonitorLogger(log))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Mount("/", processor.NewWebhookHandler(proc, log).Routes())
	r.Mount("/internal", internalRoutes(subscriptions, monitor, accounts, provider, led))

	return httpserver.New(cfg.HTTP, log).Run(ctx, r)
}

func loadCatalog(ctx context.Context, path string) (billing.Catalog, error) {
	var src billing.CatalogSource
	if path != "" {
		src = billing.NewFileCatalogSource(path)
	} else {
		src = billing.NewStaticCatalogSource(billing.DefaultCatalog())
	}
	return src.Load(ctx)
}
