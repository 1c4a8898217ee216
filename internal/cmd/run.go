package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/harrison/prefetchd/internal/admission"
	"github.com/harrison/prefetchd/internal/clock"
	"github.com/harrison/prefetchd/internal/config"
	"github.com/harrison/prefetchd/internal/daemonlock"
	"github.com/harrison/prefetchd/internal/engine"
	"github.com/harrison/prefetchd/internal/logger"
	"github.com/harrison/prefetchd/internal/predictor"
	"github.com/harrison/prefetchd/internal/prefetch"
	"github.com/harrison/prefetchd/internal/prefetch/fadvise"
	"github.com/harrison/prefetchd/internal/repository/sqlite"
	"github.com/harrison/prefetchd/internal/scanner/procfs"
	"github.com/harrison/prefetchd/internal/updater"
)

// newRunCommand creates the run command: the long-lived daemon loop.
func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the prefetch daemon",
		Long: `Run starts the observe/predict/prefetch cycle and blocks until
terminated. A single instance is enforced per state file via an
exclusive lock file next to persistence.state_path.

Signals:
  SIGHUP   reload configuration from the same paths run was started with
  SIGUSR1  log a summary of current model state, one field per line
  SIGUSR2  force an immediate state save
  SIGINT, SIGTERM  shut down gracefully (saving state first if configured)`,
		RunE: runCommand,
	}
	cmd.Flags().Bool("no-watch", false, "do not watch config files for changes; SIGHUP is still honored")
	return cmd
}

func runCommand(cmd *cobra.Command, args []string) error {
	configPaths := resolveConfigPaths(cmd)

	cfg, err := config.Load(configPaths...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	lock := daemonlock.ForStatePath(cfg.Persistence.StatePath)
	acquired, err := lock.TryAcquire()
	if err != nil {
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("another prefetchd instance already holds the lock at %s", cfg.Persistence.StatePath+".lock")
	}
	defer lock.Release()

	log := logger.NewConsoleLogger(os.Stdout, "info")

	runID := uuid.NewString()
	log.Infof("starting prefetchd run=%s config=%v state=%s", runID, configPaths, cfg.Persistence.StatePath)

	repo, err := sqlite.Open(cfg.Persistence.StatePath)
	if err != nil {
		return fmt.Errorf("open state repository: %w", err)
	}
	defer repo.Close()

	ctx := context.Background()
	stores, meta, err := repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("load state snapshot: %w", err)
	}
	log.Infof("loaded snapshot: exes=%d maps=%d model_time=%s last_accounting=%s",
		stores.ExeCount(), stores.MapCount(), meta.ModelTime, meta.LastAccountingTime)

	policy := admission.New(engine.AdmissionConfig(cfg))
	upd := updater.New(stores, policy, engine.UpdaterConfig(cfg))
	pred := predictor.New(stores, engine.PredictorConfig(cfg))
	pf := fadvise.New(engine.PrefetchConfig(cfg), true)

	e := engine.New(engine.Deps{
		Scanner:       procfs.New(clock.NewReal()),
		Stores:        stores,
		Policy:        policy,
		Updater:       upd,
		Predictor:     pred,
		PlannerConfig: engine.PlannerConfig(cfg),
		Prefetcher:    pf,
		NewPrefetcher: func(pc prefetch.Config) prefetch.Prefetcher { return fadvise.New(pc, true) },
		Repository:    repo,
		Logger:        log,
		Config:        cfg,
		ConfigPaths:   configPaths,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan engine.ControlEvent, 4)

	noWatch, _ := cmd.Flags().GetBool("no-watch")
	if !noWatch {
		watcher, err := config.NewWatcher(configPaths)
		if err != nil {
			log.Warnf("config watcher unavailable, SIGHUP-only reload: %v", err)
		} else {
			defer watcher.Close()
			go func() {
				for {
					select {
					case <-watcher.Changed():
						select {
						case events <- engine.ReloadConfig:
						default:
						}
					case <-runCtx.Done():
						return
					}
				}
			}()
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigChan)

	go func() {
		for {
			select {
			case sig := <-sigChan:
				switch sig {
				case syscall.SIGHUP:
					events <- engine.ReloadConfig
				case syscall.SIGUSR1:
					events <- engine.DumpSummary
				case syscall.SIGUSR2:
					events <- engine.SaveNow
				default: // os.Interrupt, syscall.SIGTERM
					events <- engine.Shutdown
					return
				}
			case <-runCtx.Done():
				return
			}
		}
	}()

	err = e.RunUntil(runCtx, events)
	cancel()
	if err != nil {
		return fmt.Errorf("daemon loop: %w", err)
	}
	log.Infof("prefetchd run=%s exiting cleanly", runID)
	return nil
}
