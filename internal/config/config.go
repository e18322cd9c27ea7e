package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the dispatch API
// process. Values are primarily loaded from environment variables with
// sane defaults so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers    []string
	HeartbeatTopic  string
	CaseEventsTopic string

	PGDSN string

	StaleAfter      time.Duration
	AcceptWindow    time.Duration
	RetryBackoff    time.Duration
	MaxAttempts     int
	MaxSearchWindow time.Duration
	MaxRadiusKm     float64
	DefaultSpeedKmh float64
	MatcherTopN     int
	DispatchWorkers int

	OfferWebhookURL   string
	OfferWebhookToken string
	OSRMEndpoint      string

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RedisGeoKey:     "responders_geo",
		HeartbeatTopic:  "responder-locations",
		CaseEventsTopic: "sos-case-events",
		StaleAfter:      2 * time.Minute,
		AcceptWindow:    60 * time.Second,
		RetryBackoff:    10 * time.Second,
		MaxAttempts:     5,
		MaxSearchWindow: 10 * time.Minute,
		MaxRadiusKm:     10,
		DefaultSpeedKmh: 30,
		MatcherTopN:     8,
		DispatchWorkers: 4,
		LogLevel:        "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.HeartbeatTopic, "KAFKA_HEARTBEAT_TOPIC")
	setStringFromEnv(&cfg.CaseEventsTopic, "KAFKA_CASE_EVENTS_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setDurationFromEnv(&cfg.StaleAfter, "RESPONDER_STALE_AFTER", &errs)
	setDurationFromEnv(&cfg.AcceptWindow, "ASSIGNMENT_ACCEPT_WINDOW", &errs)
	setDurationFromEnv(&cfg.RetryBackoff, "MATCH_RETRY_BACKOFF", &errs)
	setIntFromEnv(&cfg.MaxAttempts, "MATCH_MAX_ATTEMPTS", &errs)
	setDurationFromEnv(&cfg.MaxSearchWindow, "MATCH_MAX_SEARCH_WINDOW", &errs)
	setFloatFromEnv(&cfg.MaxRadiusKm, "MATCH_MAX_RADIUS_KM", &errs)
	setFloatFromEnv(&cfg.DefaultSpeedKmh, "ETA_DEFAULT_SPEED_KMH", &errs)
	setIntFromEnv(&cfg.MatcherTopN, "MATCHER_TOP_N", &errs)
	setIntFromEnv(&cfg.DispatchWorkers, "DISPATCH_WORKERS", &errs)

	setStringFromEnv(&cfg.OfferWebhookURL, "OFFER_WEBHOOK_URL")
	cfg.OfferWebhookToken = os.Getenv("OFFER_WEBHOOK_TOKEN")
	setStringFromEnv(&cfg.OSRMEndpoint, "OSRM_ENDPOINT")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.MatcherTopN <= 0 {
		errs = append(errs, fmt.Errorf("MATCHER_TOP_N must be > 0"))
	}
	if cfg.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_MAX_ATTEMPTS must be > 0"))
	}
	if cfg.AcceptWindow <= 0 {
		errs = append(errs, fmt.Errorf("ASSIGNMENT_ACCEPT_WINDOW must be > 0"))
	}
	if cfg.StaleAfter <= 0 {
		errs = append(errs, fmt.Errorf("RESPONDER_STALE_AFTER must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
