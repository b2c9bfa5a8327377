package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gluk-w/termgate/internal/config"
	"github.com/gluk-w/termgate/internal/crypto"
	"github.com/gluk-w/termgate/internal/database"
	"github.com/gluk-w/termgate/internal/handlers"
	"github.com/gluk-w/termgate/internal/logging"
	"github.com/gluk-w/termgate/internal/shell"
	"github.com/gluk-w/termgate/internal/sshaudit"
	"github.com/gluk-w/termgate/internal/sshkeys"
	"github.com/gluk-w/termgate/internal/sshproxy"
)

func main() {
	config.Load()
	logging.Init(config.Cfg.LogPath, config.Cfg.DataPath)

	if err := database.Init(config.Cfg.DatabasePath); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	knownHosts := sshkeys.NewDBStore(database.DB)
	policy, err := sshkeys.NewPolicy(config.Cfg.HostKeyPolicy, sshkeys.PolicyOptions{
		KnownHostsPath: config.Cfg.KnownHostsPath,
		Fingerprint:    config.Cfg.HostFingerprint,
		Store:          knownHosts,
	})
	if err != nil {
		log.Fatalf("Host key policy: %v", err)
	}
	log.Printf("Host key policy: %s", policy.Name())

	resolver, err := sshproxy.LoadHostResolver(config.Cfg.SSHConfigPath)
	if err != nil {
		log.Printf("WARNING: ssh config ignored: %v", err)
		resolver = nil
	}

	var sealer *crypto.Sealer
	if config.Cfg.CredentialKey != "" {
		if sealer, err = crypto.NewSealerFromKey(config.Cfg.CredentialKey); err != nil {
			log.Fatalf("Credential key: %v", err)
		}
	}

	registry := sshproxy.NewRegistry(sshproxy.RegistryConfig{
		ConnectTimeout:     config.Cfg.ConnectTimeout,
		ChannelOpenTimeout: config.Cfg.ChannelOpenTimeout,
		Heartbeat: sshproxy.HeartbeatConfig{
			Interval:       config.Cfg.HeartbeatInterval,
			Timeout:        config.Cfg.HeartbeatTimeout,
			MaxFailures:    config.Cfg.HeartbeatMaxFailures,
			ProbeAttempts:  config.Cfg.ProbeAttempts,
			ProbePollDelay: config.Cfg.ProbePollDelay,
		},
		HostKeyPolicy: policy,
		Resolver:      resolver,
		Sealer:        sealer,
	})

	auditor := sshaudit.NewAuditor(database.DB, config.Cfg.AuditRetentionDays)
	registry.OnEvent(auditor.HandleEvent)
	purgeJob, err := auditor.StartPurgeJob(config.Cfg.AuditPurgeSchedule)
	if err != nil {
		log.Fatalf("Audit purge job: %v", err)
	}

	shellCfg := shell.Config{
		Shell:           config.Cfg.RemoteShell,
		CompletionLimit: config.Cfg.CompletionLimit,
	}
	allowed, err := handlers.ParseAllowedIPs(config.Cfg.AllowedClients)
	if err != nil {
		log.Fatalf("Allowed clients: %v", err)
	}
	proxies, err := handlers.ParseAllowedIPs(config.Cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("Trusted proxies: %v", err)
	}

	srv := &handlers.Server{
		Registry:   registry,
		Executor:   shell.NewExecutor(registry, shellCfg),
		Completer:  shell.NewCompleter(registry, shellCfg),
		Auditor:    auditor,
		KnownHosts: knownHosts,
		DB:         database.DB,

		AllowedClients: allowed,
		TrustedProxies: proxies,
		AllowedOrigins: config.Cfg.AllowedOrigins,
	}

	httpSrv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: srv.Router(),
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}

	<-purgeJob.Stop().Done()
	registry.CloseAll()
	log.Println("Server stopped")
}
