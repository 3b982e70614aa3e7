package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"arbwatch/internal/alerting"
	"arbwatch/internal/config"
	"arbwatch/internal/fetcher"
	"arbwatch/internal/opportunity"
	"arbwatch/internal/publish"
	"arbwatch/internal/scheduler"
	"arbwatch/internal/storage"
)

// Monitor exposes source health to the health cycle.
type Monitor interface {
	PerformHealthChecks(ctx context.Context) map[string]bool
	Statuses() []fetcher.SourceStatus
	ConnectedSources() []string
}

// Detector runs one detection pass.
type Detector interface {
	DetectOpportunities(ctx context.Context) []opportunity.Opportunity
}

// Deps carries the collaborators of the service. Book, Notifier, Publisher
// and Locker are optional.
type Deps struct {
	Monitor   Monitor
	Detector  Detector
	Book      *alerting.Book
	Notifier  alerting.Notifier
	Publisher publish.Publisher
	Locker    storage.AdvisoryLocker
}

// Service orchestrates detection, alerting, and event publishing.
type Service struct {
	scheduler *scheduler.Scheduler
	monitor   Monitor
	detector  Detector
	book      *alerting.Book
	notifier  alerting.Notifier
	publisher publish.Publisher
	cooldown  *alerting.Cooldown
	logger    zerolog.Logger

	healthInterval time.Duration
	channels       []string
	alertsOn       bool
	locker         storage.AdvisoryLocker
	lockKey        int64
	now            func() time.Time
}

// New constructs the monitoring service.
func New(cfg *config.Config, sched *scheduler.Scheduler, deps Deps, logger zerolog.Logger) *Service {
	publisher := deps.Publisher
	if publisher == nil {
		publisher = publish.NewLogPublisher(logger)
	}

	return &Service{
		scheduler:      sched,
		monitor:        deps.Monitor,
		detector:       deps.Detector,
		book:           deps.Book,
		notifier:       deps.Notifier,
		publisher:      publisher,
		cooldown:       alerting.NewCooldown(cfg.Alerting.Cooldown),
		logger:         logger.With().Str("component", "service").Logger(),
		healthInterval: cfg.Health.Interval,
		channels:       cfg.Alerting.Channels,
		alertsOn:       cfg.Alerting.Enabled,
		locker:         deps.Locker,
		lockKey:        cfg.Database.AdvisoryLockKey,
		now:            time.Now,
	}
}

// Run supervises the detection loop and the health cycle until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.scheduler.Run(ctx, s.ProcessCycle)
	})
	g.Go(func() error {
		return s.runHealth(ctx)
	})
	return g.Wait()
}

func (s *Service) runHealth(ctx context.Context) error {
	if s.monitor == nil || s.healthInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	adapter := cronLogger{logger: s.logger}
	c := cron.New(cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)))
	schedule := fmt.Sprintf("@every %s", s.healthInterval)
	if _, err := c.AddFunc(schedule, func() { s.HealthCycle(ctx) }); err != nil {
		return fmt.Errorf("schedule health cycle: %w", err)
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

// HealthCycle checks every source and publishes a health_update event.
func (s *Service) HealthCycle(ctx context.Context) {
	results := s.monitor.PerformHealthChecks(ctx)
	healthy := 0
	for _, ok := range results {
		if ok {
			healthy++
		}
	}
	s.logger.Info().Int("healthy", healthy).Int("total", len(results)).Msg("health check completed")

	s.publish(ctx, publish.EventHealthUpdate, publish.HealthUpdate{
		Sources:          s.monitor.Statuses(),
		ConnectedSources: s.monitor.ConnectedSources(),
		Timestamp:        s.now().UTC(),
	})
}

// ProcessCycle 执行一次套利检测周期。
func (s *Service) ProcessCycle(ctx context.Context, at time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("at", at).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeCycle(ctx, at)
}

func (s *Service) executeCycle(ctx context.Context, at time.Time) error {
	if s.detector == nil {
		return fmt.Errorf("detector not configured")
	}

	start := time.Now()
	opps := s.detector.DetectOpportunities(ctx)

	var triggers []alerting.Trigger
	if s.book != nil {
		triggers = s.book.CheckAlerts(opps)
	}
	took := time.Since(start)

	var connected []string
	if s.monitor != nil {
		connected = s.monitor.ConnectedSources()
	}
	s.publish(ctx, publish.EventArbitrageUpdate, publish.ArbitrageUpdate{
		Opportunities:    nonNil(opps),
		Timestamp:        s.now().UTC(),
		DetectionTime:    took.Seconds(),
		ConnectedSources: connected,
		TriggeredAlerts:  len(triggers),
	})
	if len(triggers) > 0 {
		s.publish(ctx, publish.EventAlertTriggered, publish.AlertTriggered{
			Triggers:  triggers,
			Timestamp: s.now().UTC(),
		})
		s.dispatch(ctx, at, triggers)
	}

	if len(opps) > 0 {
		best := opps[0]
		s.logger.Info().Time("at", at).
			Int("opportunities", len(opps)).
			Int("alerts", len(triggers)).
			Str("best_instrument", best.Instrument).
			Str("best_route", best.BuySource+"->"+best.SellSource).
			Float64("best_spread_pct", best.SpreadPercent).
			Dur("took", took).
			Msg("cycle completed")
	} else {
		s.logger.Debug().Time("at", at).Dur("took", took).Msg("cycle completed without opportunities")
	}
	return nil
}

func (s *Service) dispatch(ctx context.Context, at time.Time, triggers []alerting.Trigger) {
	if !s.alertsOn || s.notifier == nil {
		return
	}
	now := s.now()
	for _, tr := range triggers {
		if !s.cooldown.Allow(tr, now) {
			continue
		}
		note := alerting.Notification{
			At:       at,
			Trigger:  tr,
			Channels: s.channels,
		}
		if err := s.notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).
				Str("alert", tr.Condition.Name).
				Str("opportunity", tr.Opportunity.ID).
				Msg("failed to dispatch alert")
		}
	}
}

func (s *Service) publish(ctx context.Context, typ publish.EventType, data any) {
	if err := s.publisher.Publish(ctx, publish.Event{Type: typ, Data: data}); err != nil {
		s.logger.Warn().Err(err).Str("type", string(typ)).Msg("failed to publish event")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func nonNil(opps []opportunity.Opportunity) []opportunity.Opportunity {
	if opps == nil {
		return []opportunity.Opportunity{}
	}
	return opps
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
