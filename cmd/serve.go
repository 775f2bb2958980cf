package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grimm.is/harrier/internal/api"
	"grimm.is/harrier/internal/audit"
	"grimm.is/harrier/internal/config"
	"grimm.is/harrier/internal/fleet"
	"grimm.is/harrier/internal/generate"
	"grimm.is/harrier/internal/lifecycle"
	"grimm.is/harrier/internal/logging"
	"grimm.is/harrier/internal/store"
)

// RunServe starts the control plane daemon and blocks until SIGINT or
// SIGTERM.
func RunServe(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.SetDefault(logging.New(logging.Config{
		Level:  parseLevel(cfg.LogLevel),
		Output: os.Stderr,
		JSON:   cfg.LogJSON,
	}))
	log := logging.WithComponent("serve")

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	var auditStore *audit.Store
	if cfg.AuditPath != "" {
		auditStore, err = audit.NewStore(cfg.AuditPath, cfg.AuditRetentionDays)
		if err != nil {
			return fmt.Errorf("open audit store: %w", err)
		}
		defer auditStore.Close()
	}

	gen := generate.New(st, cfg.LegacyTLSPort)

	// The server does not exist yet when the manager is built; the
	// closure resolves the hub at call time.
	var srv *api.Server
	mgr := lifecycle.New(st, gen, lifecycle.Options{
		RollbackEnabled: *cfg.RollbackEnabled,
		Audit:           auditStore,
		OnApplied: func(v *fleet.ConfigVersion) {
			if srv != nil {
				srv.Hub().NotifyApplied(v)
			}
		},
	})

	srv = api.NewServer(cfg, st, mgr, gen)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go srv.SweepLoop(ctx)
	if auditStore != nil {
		go pruneLoop(ctx, auditStore, log)
	}

	log.Info("starting control plane",
		"config", configFile,
		"listen", cfg.ListenAddr,
		"rollback_enabled", *cfg.RollbackEnabled)

	return srv.Start(ctx)
}

// pruneLoop trims expired audit events once a day.
func pruneLoop(ctx context.Context, auditStore *audit.Store, log *logging.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := auditStore.Prune(); err != nil {
				log.Warn("audit prune failed", "error", err)
			} else if n > 0 {
				log.Info("pruned audit events", "count", n)
			}
		}
	}
}

func parseLevel(s string) logging.Level {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
