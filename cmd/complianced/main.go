package main

import (
	"context"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/telekom/clinical-compliance/pkg/api"
	"github.com/telekom/clinical-compliance/pkg/audit"
	"github.com/telekom/clinical-compliance/pkg/config"
	"github.com/telekom/clinical-compliance/pkg/consent"
	"github.com/telekom/clinical-compliance/pkg/metrics"
	"github.com/telekom/clinical-compliance/pkg/notify"
	"github.com/telekom/clinical-compliance/pkg/ratelimit"
	"github.com/telekom/clinical-compliance/pkg/storage"
	"github.com/telekom/clinical-compliance/pkg/version"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "complianced",
		Short: "Clinical compliance core: audit trail, consent registry and notification dispatch",
	}
	root.AddCommand(newServeCommand(), newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			info := version.GetBuildInfo()
			cmd.Printf("complianced %s (%s, %s, %s)\n",
				info.Version, info.GitCommit, info.GoVersion, info.Platform)
		},
	}
}

func newServeCommand() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the compliance API server",
		RunE: func(_ *cobra.Command, _ []string) error {
			return serve(configPath, debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&debug, "debug", false, "enables debug mode")
	return cmd
}

func serve(configPath string, debug bool) error {
	log := setupLogger(debug)
	defer func() { _ = log.Sync() }()
	log.With("version", version.Version).Info("Starting compliance core")

	cfg, err := config.Load(configPath)
	if err != nil {
		if configPath != "" {
			log.Fatalf("Error loading compliance config: %v", err)
		}
		log.Warnw("No config file found, running with defaults", "error", err)
	}
	cfg.Defaults()

	if debug {
		log.Infof("%#v", cfg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Durable stores: PostgreSQL when configured, in-memory otherwise.
	var (
		auditStore   audit.Store
		consentStore consent.Store
	)
	if cfg.Postgres.DSN != "" {
		db, err := storage.Open(ctx, cfg.Postgres.DSN)
		if err != nil {
			log.Fatalf("Error connecting to postgres: %v", err)
		}
		defer func() { _ = db.Close() }()

		pgAudit := storage.NewPostgresAuditStore(db)
		pgConsent := storage.NewPostgresConsentStore(db)
		if err := pgAudit.EnsureSchema(ctx); err != nil {
			log.Fatalf("Error creating audit schema: %v", err)
		}
		if err := pgConsent.EnsureSchema(ctx); err != nil {
			log.Fatalf("Error creating consent schema: %v", err)
		}
		auditStore, consentStore = pgAudit, pgConsent
	} else {
		log.Warn("No postgres DSN configured, audit and consent data will not survive restarts")
		auditStore = storage.NewMemoryAuditStore()
		consentStore = storage.NewMemoryConsentStore()
	}

	// Real-time alerting for critical audit entries.
	sinks := []audit.AlertSink{audit.NewLogAlertSink(log.Desugar())}
	if cfg.Audit.AlertSink.Type == "kafka" {
		kafkaSink, err := audit.NewKafkaAlertSink(audit.KafkaAlertSinkConfig{
			Brokers: cfg.Audit.AlertSink.Brokers,
			Topic:   cfg.Audit.AlertSink.Topic,
		}, log.Desugar())
		if err != nil {
			log.Fatalf("Error creating kafka alert sink: %v", err)
		}
		sinks = append(sinks, kafkaSink)
	}
	alerts := audit.NewAlertPublisher(sinks, audit.AlertPublisherConfig{
		RatePerSecond: cfg.Audit.AlertSink.RatePerSecond,
		Burst:         cfg.Audit.AlertSink.Burst,
	}, log.Desugar())

	trail := audit.NewTrail(auditStore, alerts, audit.TrailConfig{
		BufferSize:     cfg.Audit.BufferSize,
		RetentionYears: cfg.Audit.RetentionYears,
	}, log.Desugar())
	defer func() { _ = trail.Close() }()

	if _, err := trail.Log(ctx, audit.Record{
		Action:  audit.ActionSystemStartup,
		Details: map[string]interface{}{"version": version.Version},
	}); err != nil {
		log.Warnw("Failed to record startup audit entry", "error", err)
	}

	// Notification channels.
	adapters := []notify.Adapter{
		notify.NewEmailAdapter(cfg.Mail, log),
		notify.NewSMSAdapter(log),
		notify.NewPhoneAdapter(log),
		notify.NewPushAdapter(log),
		notify.NewInAppAdapter(log),
	}
	if cfg.Notifications.WebhookURL != "" {
		adapters = append(adapters, notify.NewWebhookAdapter(cfg.Notifications.WebhookURL, 10*time.Second, log))
	}

	dispatcher := notify.NewDispatcher(notify.Config{
		MaxAttempts: cfg.Notifications.MaxAttempts,
		BackoffBase: cfg.BackoffBase(),
		QueueSize:   cfg.Notifications.QueueSize,
	}, adapters, trail, log)
	dispatcher.Start()

	registry := consent.NewRegistry(consentStore, trail, dispatcher, consent.RegistryConfig{
		RoleDefaults:       accessLevels(cfg.Access.RoleDefaults),
		MaskingRules:       consent.MaskingRules(cfg.Access.MaskedFields),
		SecurityRecipients: cfg.Notifications.SecurityRecipients,
		AdminRecipients:    cfg.Notifications.AdminRecipients,
	}, log.Desugar())

	limiter := ratelimit.New(ratelimit.DefaultAPIConfig())
	defer limiter.Stop()
	decisionLimiter := ratelimit.New(ratelimit.DefaultDecisionConfig())
	defer decisionLimiter.Stop()

	server := api.NewServer(log.Desugar(), cfg, debug)
	err = server.RegisterAll([]api.APIController{
		api.NewAuditController(trail, log, api.Identity(log), limiter.Middleware()),
		api.NewConsentController(registry, log, api.Identity(log)).
			WithRateLimits(limiter.Middleware(), decisionLimiter.Middleware()),
		api.NewNotificationController(dispatcher, log, api.Identity(log), limiter.Middleware()),
	})
	if err != nil {
		log.Fatalf("Error registering compliance controllers: %v", err)
	}

	metricsServer := &http.Server{
		Addr:              cfg.Server.MetricsAddress,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infow("Metrics server listening", "address", cfg.Server.MetricsAddress)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("Metrics server failed", "error", err)
		}
	}()

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Listen() }()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_, _ = trail.Log(shutdownCtx, audit.Record{Action: audit.ActionSystemShutdown})

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("API server shutdown failed", "error", err)
	}
	_ = metricsServer.Shutdown(shutdownCtx)
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		log.Errorw("Dispatcher shutdown failed", "error", err)
	}
	return nil
}

// accessLevels converts the config's plain string table to typed levels.
func accessLevels(in map[string]string) map[string]consent.AccessLevel {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]consent.AccessLevel, len(in))
	for role, level := range in {
		out[role] = consent.AccessLevel(level)
	}
	return out
}

func setupLogger(debug bool) *zap.SugaredLogger {
	var zlog *zap.Logger
	var err error
	if debug {
		zlog, err = zap.NewDevelopment()
	} else {
		zlog, err = zap.NewProduction()
	}
	if err != nil {
		stdlog.Fatalf("failed to set up logger: %v", err)
	}
	return zlog.Sugar()
}
