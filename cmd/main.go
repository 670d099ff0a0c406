package main

import (
	"context"
	"flag"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/arbitra-ai/oversight/pkg/api"
	"github.com/arbitra-ai/oversight/pkg/audit"
	"github.com/arbitra-ai/oversight/pkg/capability"
	"github.com/arbitra-ai/oversight/pkg/config"
	"github.com/arbitra-ai/oversight/pkg/hitl"
	"github.com/arbitra-ai/oversight/pkg/mail"
	"github.com/arbitra-ai/oversight/pkg/ratelimit"
	"github.com/arbitra-ai/oversight/pkg/system"
)

func main() {
	var debug bool
	flag.BoolVar(&debug, "debug", false, "enable debug level logging")
	flag.Parse()

	zl := setupLogger(debug)
	log := zl.Sugar()
	log.With("version", system.Version).Info("Starting oversight api")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Error loading oversight config: %v", err)
	}

	auditSvc := audit.NewService(zl)
	if err := auditSvc.Configure(cfg.Audit); err != nil {
		log.Fatalf("Error configuring audit service: %v", err)
	}

	registry, err := hitl.NewPolicyRegistryFromConfig(cfg.Policies)
	if err != nil {
		log.Fatalf("Error building escalation policy registry: %v", err)
	}

	manager := hitl.NewManager(log, registry).WithAudit(auditSvc)
	if cfg.Mail.Host != "" {
		sender := mail.NewSender(cfg, log)
		manager.WithNotifier(mail.NewTaskNotifier(sender, cfg.Mail.RoleRecipients, log))
		log.Infow("Mail notifications enabled", "host", cfg.Mail.Host)
	} else {
		log.Info("Mail notifications disabled; no host configured")
	}

	authority, err := capability.NewAuthority(cfg.Capability.SigningKey(), log)
	if err != nil {
		log.Fatalf("Error creating capability authority (set %s): %v", cfg.Capability.SigningKeyEnv, err)
	}
	authority.
		WithDefaultTTL(time.Duration(cfg.Capability.DefaultTTLSeconds) * time.Second).
		WithAudit(auditSvc)
	authority.StartSweeper(cfg.Capability.ParsedSweepInterval())

	authHandler := api.NewAuth(log, cfg)
	taskLimiter := ratelimit.New(ratelimit.DefaultTaskConfig())
	tokenLimiter := ratelimit.New(ratelimit.DefaultTokenConfig())

	server := api.NewServer(zl, cfg, debug)
	err = server.RegisterAll([]api.APIController{
		hitl.NewTaskController(log, manager, authHandler.Middleware(), taskLimiter.Middleware()),
		capability.NewTokenController(log, authority, authHandler.Middleware(), tokenLimiter.Middleware()),
	})
	if err != nil {
		log.Fatalf("Error registering oversight controllers: %v", err)
	}

	auditSvc.Emit(context.Background(), audit.SystemEvent(audit.EventSystemStartup, map[string]interface{}{
		"version": system.Version,
	}))

	errCh := make(chan error, 1)
	go func() { errCh <- server.Listen() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Infow("Received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil {
			log.Errorw("Server stopped unexpectedly", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warnw("HTTP server shutdown error", "error", err)
	}

	taskLimiter.Stop()
	tokenLimiter.Stop()
	authority.Stop()
	manager.Shutdown()
	auditSvc.Emit(context.Background(), audit.SystemEvent(audit.EventSystemShutdown, nil))
	if err := auditSvc.Close(); err != nil {
		log.Warnw("Audit service close error", "error", err)
	}
	log.Info("Oversight api stopped")
}

func setupLogger(debug bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	// Disable automatic stacktraces for non-fatal levels to avoid noisy traces in WARN/INFO logs
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339))
	}
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		stdlog.Fatalf("failed to set up logger: %v", err)
	}
	return logger
}
