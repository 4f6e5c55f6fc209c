package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"

	oferrors "github.com/randalmurphal/orderflow/pkg/orderflow/errors"
	"github.com/randalmurphal/orderflow/pkg/orderflow/template"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ORDERFLOW_"

// FileEnv names the environment variable holding the optional YAML file.
const FileEnv = EnvPrefix + "CONFIG"

// DotenvFiles are loaded in order. A variable set by an earlier file, or
// already present in the process environment, is not overwritten.
var DotenvFiles = []string{".env.local", ".env", ".env.events"}

// Settings are the typed service settings shared by every component.
type Settings struct {
	Service string
	Stage   string

	// BusName defaults to {service}-{stage}-order-events.
	BusName     string
	EventSource string

	RestaurantTopic string
	UserTopic       string

	// AlertChannel receives operator notifications.
	// Default: {service}-{stage}-alerts
	AlertChannel string
	AlarmPeriod  time.Duration

	// DataDir holds one SQLite file per store. Empty means in-memory stores.
	DataDir string

	// RedisAddr moves idempotency records to Redis when set.
	RedisAddr string

	// KafkaBrokers moves notifications and operator alerts to Kafka when
	// set. Otherwise notifications stay in memory and alerts are logged.
	KafkaBrokers []string
	HTTPAddr     string

	WorkflowFile     string
	FailureRetention time.Duration
	IdempotencyTTL   time.Duration

	// Tap requests the test observation tap. It is never honored on a
	// production stage; see TapEnabled.
	Tap              bool
	ProductionStages []string
}

// Defaults returns the settings used when nothing overrides them.
func Defaults() Settings {
	return Settings{
		Service:          "big-mouth",
		Stage:            "dev",
		BusName:          "big-mouth-dev-order-events",
		AlertChannel:     "big-mouth-dev-alerts",
		EventSource:      "big-mouth",
		RestaurantTopic:  "restaurant_notification",
		UserTopic:        "user_notification",
		AlarmPeriod:      time.Minute,
		HTTPAddr:         ":8080",
		FailureRetention: 14 * 24 * time.Hour,
		IdempotencyTTL:   24 * time.Hour,
		Tap:              true,
		ProductionStages: []string{"prod", "production"},
	}
}

// Production reports whether Stage is one of ProductionStages.
func (s Settings) Production() bool {
	return slices.ContainsFunc(s.ProductionStages, func(p string) bool {
		return strings.EqualFold(p, s.Stage)
	})
}

// TapEnabled reports whether the test observation tap may be installed.
func (s Settings) TapEnabled() bool {
	return s.Tap && !s.Production()
}

// Validate reports every invalid field, joined.
func (s Settings) Validate() error {
	var errs []error
	required := map[string]string{
		"service":           s.Service,
		"stage":             s.Stage,
		"bus.name":          s.BusName,
		"event.source":      s.EventSource,
		"topics.restaurant": s.RestaurantTopic,
		"topics.user":       s.UserTopic,
		"alerts.channel":    s.AlertChannel,
	}
	for _, field := range slices.Sorted(maps.Keys(required)) {
		if strings.TrimSpace(required[field]) == "" {
			errs = append(errs, &oferrors.ValidationError{Field: field, Message: "required"})
		}
	}
	durations := map[string]time.Duration{
		"alerts.period":     s.AlarmPeriod,
		"failure.retention": s.FailureRetention,
		"idempotency.ttl":   s.IdempotencyTTL,
	}
	for _, field := range slices.Sorted(maps.Keys(durations)) {
		if durations[field] <= 0 {
			errs = append(errs, &oferrors.ValidationError{Field: field, Message: "must be positive"})
		}
	}
	return errors.Join(errs...)
}

// SettingsOption configures Load.
type SettingsOption func(*settingsOptions)

type settingsOptions struct {
	dir        string
	file       string
	skipDotenv bool
}

// WithDir sets the directory searched for dotenv files. Default: "."
func WithDir(dir string) SettingsOption {
	return func(o *settingsOptions) { o.dir = dir }
}

// WithFile sets the YAML or JSON settings file. It takes precedence over
// ORDERFLOW_CONFIG.
func WithFile(path string) SettingsOption {
	return func(o *settingsOptions) { o.file = path }
}

// WithoutDotenv skips dotenv loading.
func WithoutDotenv() SettingsOption {
	return func(o *settingsOptions) { o.skipDotenv = true }
}

// envKeys maps ORDERFLOW_* variables to settings keys.
var envKeys = map[string]string{
	"SERVICE":           "service",
	"STAGE":             "stage",
	"BUS_NAME":          "bus.name",
	"EVENT_SOURCE":      "event.source",
	"RESTAURANT_TOPIC":  "topics.restaurant",
	"USER_TOPIC":        "topics.user",
	"ALERT_CHANNEL":     "alerts.channel",
	"ALARM_PERIOD":      "alerts.period",
	"DATA_DIR":          "data.dir",
	"REDIS_ADDR":        "redis.addr",
	"KAFKA_BROKERS":     "kafka.brokers",
	"HTTP_ADDR":         "http.addr",
	"WORKFLOW_FILE":     "workflow.file",
	"FAILURE_RETENTION": "failure.retention",
	"IDEMPOTENCY_TTL":   "idempotency.ttl",
	"TAP":               "tap.enabled",
	"PRODUCTION_STAGES": "stages.production",
}

// Load builds Settings from, in increasing precedence: Defaults, dotenv
// files, the optional settings file, and ORDERFLOW_* variables. The file
// may reference environment variables as ${VAR} or ${VAR:-default}.
func Load(opts ...SettingsOption) (Settings, error) {
	o := settingsOptions{dir: "."}
	for _, opt := range opts {
		opt(&o)
	}

	if !o.skipDotenv {
		if err := loadDotenv(o.dir); err != nil {
			return Settings{}, err
		}
	}

	cfg := New(nil)
	path := o.file
	if path == "" {
		path = os.Getenv(FileEnv)
	}
	if path != "" {
		fileCfg, err := FromFile(path, WithSubstitution(template.Env))
		if err != nil {
			return Settings{}, err
		}
		cfg = fileCfg
	}
	cfg = cfg.Overlay(fromEnv())

	s := apply(Defaults(), cfg)
	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

func loadDotenv(dir string) error {
	var files []string
	for _, name := range DotenvFiles {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			files = append(files, path)
		}
	}
	if len(files) == 0 {
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load dotenv: %w", err)
	}
	return nil
}

func fromEnv() Config {
	data := make(map[string]any)
	for suffix, key := range envKeys {
		if v, ok := os.LookupEnv(EnvPrefix + suffix); ok {
			data[key] = v
		}
	}
	return New(data)
}

func apply(s Settings, cfg Config) Settings {
	s.Service = cfg.String("service", s.Service)
	s.Stage = cfg.String("stage", s.Stage)
	s.EventSource = cfg.String("event.source", s.EventSource)
	s.RestaurantTopic = cfg.String("topics.restaurant", s.RestaurantTopic)
	s.UserTopic = cfg.String("topics.user", s.UserTopic)
	s.AlarmPeriod = cfg.Duration("alerts.period", s.AlarmPeriod)
	s.DataDir = cfg.String("data.dir", s.DataDir)
	s.RedisAddr = cfg.String("redis.addr", s.RedisAddr)
	s.KafkaBrokers = cfg.StringSlice("kafka.brokers", s.KafkaBrokers)
	s.HTTPAddr = cfg.String("http.addr", s.HTTPAddr)
	s.WorkflowFile = cfg.String("workflow.file", s.WorkflowFile)
	s.FailureRetention = cfg.Duration("failure.retention", s.FailureRetention)
	s.IdempotencyTTL = cfg.Duration("idempotency.ttl", s.IdempotencyTTL)
	s.Tap = cfg.Bool("tap.enabled", s.Tap)
	s.ProductionStages = cfg.StringSlice("stages.production", s.ProductionStages)

	// Derived names follow service and stage unless set explicitly.
	s.BusName = cfg.String("bus.name", fmt.Sprintf("%s-%s-order-events", s.Service, s.Stage))
	s.AlertChannel = cfg.String("alerts.channel", fmt.Sprintf("%s-%s-alerts", s.Service, s.Stage))
	return s
}
