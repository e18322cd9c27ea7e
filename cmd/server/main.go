package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/sos-dispatch/internal/cases"
	"github.com/example/sos-dispatch/internal/config"
	"github.com/example/sos-dispatch/internal/dispatch"
	"github.com/example/sos-dispatch/internal/eta"
	"github.com/example/sos-dispatch/internal/events"
	"github.com/example/sos-dispatch/internal/geo"
	httpapi "github.com/example/sos-dispatch/internal/http"
	"github.com/example/sos-dispatch/internal/ingest"
	"github.com/example/sos-dispatch/internal/logging"
	"github.com/example/sos-dispatch/internal/matcher"
	"github.com/example/sos-dispatch/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	if cfg.PGDSN != "" && cfg.RunMigrations {
		runMigrations(cfg.PGDSN, logger.Error)
	}

	var index geo.Index
	if cfg.RedisAddr != "" {
		index = geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey, cfg.StaleAfter)
	} else {
		index = geo.NewMemoryIndex(cfg.StaleAfter)
	}

	var store storage.CaseStore
	if cfg.PGDSN != "" {
		if ps, err := storage.NewPostgresStore(cfg.PGDSN); err == nil {
			store = ps
		} else {
			logger.Error("postgres unavailable, falling back to memory store", "error", err)
		}
	}
	if store == nil {
		store = storage.NewMemoryStore()
	}

	wsreg := dispatch.NewWSRegistry(logger)

	subs := []events.Publisher{&events.LogPublisher{Logger: logger}, wsreg}
	var kafkaEvents *events.KafkaPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kafkaEvents = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.CaseEventsTopic)
		subs = append(subs, kafkaEvents)
	}
	stream := events.NewStream(1024, logger, subs...)

	machine := cases.NewMachine(store, stream, logger)

	m := &matcher.Service{
		Geo:             index,
		TopN:            cfg.MatcherTopN,
		MaxRadiusKm:     cfg.MaxRadiusKm,
		DefaultSpeedKmh: cfg.DefaultSpeedKmh,
	}
	if cfg.OSRMEndpoint != "" {
		m.ETAClient = eta.NewOSRMClient(cfg.OSRMEndpoint)
		m.ETACache = eta.NewCache(30 * time.Second)
	}

	gateway := dispatch.NewWebhookGateway(cfg.OfferWebhookURL, cfg.OfferWebhookToken, wsreg)

	coord := dispatch.NewCoordinator(machine, m, gateway, logger)
	coord.AcceptWindow = cfg.AcceptWindow
	coord.RetryBackoff = cfg.RetryBackoff
	coord.MaxAttempts = cfg.MaxAttempts
	coord.MaxSearchWindow = cfg.MaxSearchWindow
	coord.Workers = cfg.DispatchWorkers
	coord.Start()

	var hbProducer *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		hbProducer = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.HeartbeatTopic)
	}

	srv := httpapi.NewServer(index, coord, hbProducer, wsreg, logger)
	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("sos-dispatch listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	coord.Stop()
	stream.Close()
	if kafkaEvents != nil {
		_ = kafkaEvents.Close()
	}
	if hbProducer != nil {
		_ = hbProducer.Close()
	}
}

func runMigrations(dsn string, logErr func(string, ...any)) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logErr("migration db open", "error", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_cases.sql"))
	if err != nil {
		logErr("migration read", "error", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		logErr("migration exec", "error", err)
	}
}
