package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"arbwatch/internal/aggregator"
	"arbwatch/internal/alerting"
	"arbwatch/internal/config"
	"arbwatch/internal/detector"
	"arbwatch/internal/fetcher"
	"arbwatch/internal/publish"
	"arbwatch/internal/scheduler"
	"arbwatch/internal/service"
	"arbwatch/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

// newRegistry registers one HTTP source per enabled source config.
func (a *App) newRegistry() (*aggregator.Registry, error) {
	reg := aggregator.New(aggregator.Options{
		Instruments:         a.Config.Instruments,
		HealthCheckInterval: a.Config.Health.CheckInterval,
		FetchTimeout:        a.Config.Detection.FetchTimeout,
		CacheTTL:            a.Config.Health.CacheTTL,
	}, a.Logger)

	for _, sc := range a.Config.EnabledSources() {
		opts, err := sc.HTTPOptions(a.Config.Instruments)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", sc.Name, err)
		}
		src, err := fetcher.NewHTTPSource(opts, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", sc.Name, err)
		}
		if err := reg.Register(src); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (a *App) newEngine(quotes detector.QuoteProvider) *detector.Engine {
	return detector.New(quotes, detector.Options{
		MinSpreadPercent: a.Config.Detection.MinSpreadPercent,
		Retention:        a.Config.Detection.HistoryRetention,
		StatsWindow:      a.Config.Detection.StatsWindow,
		Policy:           a.Config.Scoring,
	}, a.Logger)
}

func (a *App) newBook() (*alerting.Book, error) {
	book := alerting.NewBook(a.Logger)
	for i, rule := range a.Config.Alerts {
		cond, err := rule.Condition()
		if err != nil {
			return nil, fmt.Errorf("alerts[%d]: %w", i, err)
		}
		if _, err := book.Add(cond); err != nil {
			return nil, fmt.Errorf("alerts[%d]: %w", i, err)
		}
	}
	return book, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
	}
	return nil
}

// newPublisher always logs events and additionally pushes them to Redis when enabled.
func (a *App) newPublisher(ctx context.Context) (publish.Publisher, error) {
	pubs := publish.Multi{publish.NewLogPublisher(a.Logger)}

	rc := a.Config.Publish.Redis
	if !rc.Enabled {
		return pubs, nil
	}
	rdb, err := publish.NewRedisClient(ctx, publish.RedisOptions{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
		Prefix:   rc.Prefix,
		Timeout:  rc.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return append(pubs, publish.NewRedisPublisher(rdb, rc.Prefix, a.Logger)), nil
}

func (a *App) openLocker(ctx context.Context) (storage.AdvisoryLocker, func(), error) {
	db := a.Config.Database
	if db.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, storage.PoolOptions{
		DSN:             db.DSN,
		MaxOpenConns:    db.MaxOpenConns,
		MaxIdleConns:    db.MaxIdleConns,
		ConnMaxLifetime: db.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, err
	}
	return storage.NewLocker(pool), pool.Close, nil
}

// connect initialises every source and logs the outcome.
func (a *App) connect(ctx context.Context, reg *aggregator.Registry) {
	results := reg.Initialize(ctx)
	connected := 0
	for _, ok := range results {
		if ok {
			connected++
		}
	}
	a.Logger.Info().Int("connected", connected).Int("total", len(results)).Msg("sources initialised")
	if connected < 2 {
		a.Logger.Warn().Msg("fewer than 2 sources connected; detection idles until more recover")
	}
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	locker, closeLocker, err := a.openLocker(ctx)
	if err != nil {
		return err
	}
	if locker == nil {
		a.Logger.Info().Msg("database.dsn not configured; cycle lock disabled")
	}
	if closeLocker != nil {
		defer closeLocker()
	}

	publisher, err := a.newPublisher(ctx)
	if err != nil {
		return err
	}
	defer publisher.Close()

	reg, err := a.newRegistry()
	if err != nil {
		return err
	}
	book, err := a.newBook()
	if err != nil {
		return err
	}
	a.connect(ctx, reg)

	sched := scheduler.New(scheduler.Options{
		Interval:       a.Config.Detection.Interval,
		AlignToStart:   a.Config.Detection.AlignToInterval,
		StartupDelay:   a.Config.Detection.StartupDelay,
		RunImmediately: true,
		FailureBackoff: a.Config.Detection.FailureBackoff,
	}, a.Logger)

	svc := service.New(a.Config, sched, service.Deps{
		Monitor:   reg,
		Detector:  a.newEngine(reg),
		Book:      book,
		Notifier:  a.newNotifier(),
		Publisher: publisher,
		Locker:    locker,
	}, a.Logger)

	a.Logger.Info().Int("sources", len(a.Config.EnabledSources())).
		Int("instruments", len(a.Config.Instruments)).
		Int("alerts", book.Len()).
		Msg("starting monitoring service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}
