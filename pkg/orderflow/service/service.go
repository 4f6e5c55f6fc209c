// Package service assembles the order workflow from Settings.
//
// New builds every component once and passes it to the components that
// need it: stores, the bus with its failure queue, the workflow engine, both
// notification dispatchers, alerting, the optional test tap and the HTTP
// API. Programs call New from main and then Run.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/orderflow/pkg/orderflow"
	"github.com/randalmurphal/orderflow/pkg/orderflow/alerting"
	"github.com/randalmurphal/orderflow/pkg/orderflow/api"
	"github.com/randalmurphal/orderflow/pkg/orderflow/config"
	"github.com/randalmurphal/orderflow/pkg/orderflow/dispatch"
	oferrors "github.com/randalmurphal/orderflow/pkg/orderflow/errors"
	"github.com/randalmurphal/orderflow/pkg/orderflow/event"
	"github.com/randalmurphal/orderflow/pkg/orderflow/failure"
	"github.com/randalmurphal/orderflow/pkg/orderflow/idempotency"
	"github.com/randalmurphal/orderflow/pkg/orderflow/observability"
	"github.com/randalmurphal/orderflow/pkg/orderflow/order"
	"github.com/randalmurphal/orderflow/pkg/orderflow/query"
	"github.com/randalmurphal/orderflow/pkg/orderflow/tap"
	"github.com/randalmurphal/orderflow/pkg/orderflow/template"
)

// Options overrides infrastructure New would otherwise build from Settings.
type Options struct {
	// Logger is shared by every component. Default: slog.Default()
	Logger *slog.Logger

	// Metrics and Spans default to no-ops.
	Metrics observability.MetricsRecorder
	Spans   observability.SpanManager

	// Notifications replaces the Kafka or in-memory notification publisher.
	// The caller keeps ownership.
	Notifications dispatch.Publisher

	// Redis replaces the client built from Settings.RedisAddr.
	// The caller keeps ownership.
	Redis goredis.Cmdable

	// Retry overrides the bus delivery retry policy.
	Retry *oferrors.RetryConfig
}

// Service is the assembled order workflow.
type Service struct {
	Settings config.Settings

	Bus           *event.LocalBus
	Engine        *orderflow.Engine
	Orders        order.Store
	Failures      failure.Queue
	Guard         *idempotency.Guard
	Notifications dispatch.Publisher
	Restaurant    *dispatch.Dispatcher
	User          *dispatch.Dispatcher
	Watcher       *alerting.Watcher
	Queries       *query.Executor
	API           *api.Server

	// Tap is nil unless Settings.TapEnabled().
	Tap *tap.Tap

	logger  *slog.Logger
	closers []func() error
}

// New builds the service. On error every resource opened so far is closed.
func New(s config.Settings, opts Options) (_ *Service, err error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NoopMetrics{}
	}
	if opts.Spans == nil {
		opts.Spans = observability.NoopSpanManager{}
	}

	svc := &Service{Settings: s, logger: logger}
	defer func() {
		if err != nil {
			_ = svc.Close()
		}
	}()

	wf, err := loadWorkflow(s)
	if err != nil {
		return nil, err
	}
	if err := svc.openStores(s, opts); err != nil {
		return nil, err
	}

	busCfg := event.BusConfig{
		Name:     s.BusName,
		Fallback: svc.Failures,
		Logger:   logger,
		Metrics:  opts.Metrics,
		Spans:    opts.Spans,
	}
	if opts.Retry != nil {
		busCfg.Retry = *opts.Retry
	}
	svc.Bus = event.NewBus(busCfg)
	svc.closers = append(svc.closers, svc.Bus.Close)

	svc.Engine = orderflow.NewEngine(wf, svc.Orders, svc.Bus,
		orderflow.WithLogger(logger),
		orderflow.WithMetrics(opts.Metrics),
		orderflow.WithSpans(opts.Spans),
	)

	dopts := []dispatch.Option{
		dispatch.WithLogger(logger),
		dispatch.WithMetrics(opts.Metrics),
		dispatch.WithSource(s.EventSource),
	}
	svc.Restaurant = dispatch.NewRestaurantNotifier(svc.Notifications, svc.Guard, s.RestaurantTopic, dopts...)
	svc.User = dispatch.NewUserNotifier(svc.Notifications, svc.Guard, s.UserTopic, dopts...)

	for _, rule := range []event.Rule{svc.Engine.Rule(), svc.Restaurant.Rule(), svc.User.Rule()} {
		if _, err := svc.Bus.Subscribe(rule); err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", rule.Name, err)
		}
	}

	if s.TapEnabled() {
		svc.Tap, err = tap.Install(svc.Bus, s, tap.Options{Logger: logger})
		if err != nil {
			return nil, err
		}
	}

	var notifier alerting.Notifier = alerting.NewLogNotifier(logger)
	if len(s.KafkaBrokers) > 0 {
		notifier = alerting.NewPublisherNotifier(svc.Notifications)
	}
	svc.Watcher = alerting.NewWatcher(notifier, alerting.WithLogger(logger), alerting.WithMetrics(opts.Metrics))
	svc.Watcher.MustAdd(alerting.FailureQueueDepthAlarm(svc.Failures, s.AlertChannel))
	svc.Watcher.MustAdd(alerting.HandoffFailureAlarm(svc.Bus, s.AlertChannel))

	svc.Queries = query.NewExecutor(svc.Orders, query.WithProgress(wf.Progress))
	svc.API = api.NewServer(api.Config{
		Orders:   svc.Engine,
		Bus:      svc.Bus,
		Failures: svc.Failures,
		Alarms:   svc.Watcher,
		Queries:  svc.Queries,
		Lister:   svc.Orders,
		Logger:   logger,
	})

	logger.Info("order workflow assembled",
		slog.String("service", s.Service),
		slog.String("stage", s.Stage),
		slog.String("bus", s.BusName),
		slog.String("workflow", wf.Name()),
		slog.Bool("tap", svc.Tap != nil),
	)
	return svc, nil
}

// workflowLookup resolves workflow file references from settings first,
// then the environment.
func workflowLookup(s config.Settings) template.Lookup {
	return template.Chain(template.Map(map[string]string{
		"SERVICE_NAME":     s.Service,
		"STAGE":            s.Stage,
		"EVENT_SOURCE":     s.EventSource,
		"BUS_NAME":         s.BusName,
		"RESTAURANT_TOPIC": s.RestaurantTopic,
		"USER_TOPIC":       s.UserTopic,
	}), template.Env)
}

func loadWorkflow(s config.Settings) (*orderflow.Workflow, error) {
	var (
		def *orderflow.Definition
		err error
	)
	if s.WorkflowFile != "" {
		def, err = orderflow.LoadDefinitionFile(s.WorkflowFile, workflowLookup(s))
	} else {
		def, err = orderflow.DefaultDefinition(workflowLookup(s))
	}
	if err != nil {
		return nil, err
	}
	return orderflow.Compile(def)
}

func (svc *Service) openStores(s config.Settings, opts Options) error {
	fcfg := failure.Config{Retention: s.FailureRetention, Logger: svc.logger}
	gopts := []idempotency.Option{
		idempotency.WithLogger(svc.logger),
		idempotency.WithConfig(idempotency.Config{TTL: s.IdempotencyTTL}),
	}

	var idem idempotency.Store
	if s.DataDir != "" {
		if err := os.MkdirAll(s.DataDir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		orders, err := order.NewSQLiteStore(filepath.Join(s.DataDir, "orders.db"))
		if err != nil {
			return err
		}
		svc.Orders = orders
		svc.closers = append(svc.closers, orders.Close)

		failures, err := failure.NewSQLiteQueue(filepath.Join(s.DataDir, "failures.db"), fcfg)
		if err != nil {
			return err
		}
		svc.Failures = failures
		svc.closers = append(svc.closers, failures.Close)

		if s.RedisAddr == "" && opts.Redis == nil {
			sq, err := idempotency.NewSQLiteStore(filepath.Join(s.DataDir, "idempotency.db"))
			if err != nil {
				return err
			}
			idem = sq
		}
	} else {
		svc.Orders = order.NewMemoryStore()
		svc.closers = append(svc.closers, svc.Orders.Close)
		svc.Failures = failure.NewMemoryQueue(fcfg)
		svc.closers = append(svc.closers, svc.Failures.Close)
	}

	if idem == nil {
		switch {
		case opts.Redis != nil:
			idem = idempotency.NewRedisStore(opts.Redis, idempotency.WithRedisLogger(svc.logger))
		case s.RedisAddr != "":
			client := goredis.NewClient(&goredis.Options{Addr: s.RedisAddr})
			svc.closers = append(svc.closers, client.Close)
			idem = idempotency.NewRedisStore(client, idempotency.WithRedisLogger(svc.logger))
		default:
			idem = idempotency.NewMemoryStore()
		}
	}
	svc.closers = append(svc.closers, idem.Close)
	svc.Guard = idempotency.NewGuard(idem, gopts...)

	switch {
	case opts.Notifications != nil:
		svc.Notifications = opts.Notifications
	case len(s.KafkaBrokers) > 0:
		pub, err := dispatch.NewKafkaPublisher(s.KafkaBrokers, dispatch.NewKafkaConfig())
		if err != nil {
			return err
		}
		svc.Notifications = pub
		svc.closers = append(svc.closers, pub.Close)
	default:
		svc.Notifications = dispatch.NewMemoryPublisher()
	}
	return nil
}

// Run resumes interrupted orders, then serves HTTP and evaluates alarms
// until ctx is done.
func (svc *Service) Run(ctx context.Context) error {
	resumed, err := svc.Engine.ResumeAll(ctx)
	if err != nil {
		svc.logger.Warn("some orders could not be resumed", slog.Int("resumed", resumed), slog.String("error", err.Error()))
	} else if resumed > 0 {
		svc.logger.Info("resumed interrupted orders", slog.Int("resumed", resumed))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.API.ListenAndServe(ctx, svc.Settings.HTTPAddr)
	})
	g.Go(func() error {
		err := svc.Watcher.Run(ctx, svc.Settings.AlarmPeriod)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
	return g.Wait()
}

// Drain waits for queued bus deliveries, bounded by timeout.
func (svc *Service) Drain(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return svc.Bus.Drain(ctx)
}

// Close shuts down in reverse construction order and returns every error.
func (svc *Service) Close() error {
	var errs []error
	for i := len(svc.closers) - 1; i >= 0; i-- {
		errs = append(errs, svc.closers[i]())
	}
	svc.closers = nil
	// The bus has drained by now, so no tap delivery is left in flight.
	if svc.Tap != nil {
		errs = append(errs, svc.Tap.Remove())
		svc.Tap = nil
	}
	return errors.Join(errs...)
}
