package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tessaro/ordmirror/internal/api"
	"github.com/tessaro/ordmirror/internal/arbiter"
	"github.com/tessaro/ordmirror/internal/config"
	"github.com/tessaro/ordmirror/internal/deltasync"
	"github.com/tessaro/ordmirror/internal/portal"
	"github.com/tessaro/ordmirror/internal/queue"
	"github.com/tessaro/ordmirror/internal/scheduler"
	"github.com/tessaro/ordmirror/internal/session"
	"github.com/tessaro/ordmirror/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the ordmirror daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running ordmirror daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and sync status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "ordmirror.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

// daemon bundles the wired components: start runs them, tests build them.
type daemon struct {
	pool    *session.Pool
	engines map[string]api.SyncEngine
	sched   *scheduler.Scheduler
	worker  *queue.Worker
	handler http.Handler
}

func buildDaemon(cfg config.Config, store *storage.Store, logger *slog.Logger) (*daemon, error) {
	driver := portal.New(cfg.Driver.BaseURL)

	creds := session.StaticCredentials{}
	for owner, login := range cfg.Sync.Credentials {
		creds[owner] = portal.Credentials{
			OwnerID:  owner,
			Username: login.Username,
			Password: login.Password,
		}
	}

	pool := session.NewPool(driver, creds, session.Config{
		Capacity:     int64(cfg.Sessions.Capacity),
		IdleTTL:      cfg.Sessions.IdleTTL,
		ReapInterval: cfg.Sessions.ReapInterval,
		Logger:       logger,
	})

	arb := arbiter.New(arbiter.Config{
		PauseTimeout: cfg.Sync.PauseTimeout,
		Logger:       logger,
	})

	engines := map[string]api.SyncEngine{}
	sched := scheduler.New(scheduler.Config{
		Spec:   cfg.Sync.Schedule,
		Logger: logger,
		OnPersistentFailure: func(entity string, err error) {
			logger.Error("scheduled sync keeps failing, operator attention needed",
				"entity", entity, "error", err)
		},
	})
	for _, entity := range deltasync.EntityTypes() {
		eng := deltasync.New(entity, pool, driver, store, arb, deltasync.Config{
			OwnerID:   cfg.Sync.OwnerID,
			Freshness: cfg.Sync.Freshness,
			Logger:    logger,
		})
		arb.Register(eng)
		engines[entity] = eng
		if err := sched.Add(eng); err != nil {
			pool.Close()
			return nil, fmt.Errorf("scheduling %s sync: %w", entity, err)
		}
	}

	handler := api.NewAppHandler(api.AppDeps{
		Jobs:     queue.New(store),
		Engines:  engines,
		Sessions: pool,
		Token:    cfg.Server.APIToken,
		Logger:   logger,
	})

	return &daemon{
		pool:    pool,
		engines: engines,
		sched:   sched,
		worker:  queue.NewWorker(store, pool, driver, arb, cfg.Queue.PollInterval, logger),
		handler: handler,
	}, nil
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "ordmirror version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	// Refuse to start twice. The health endpoint is the authority; the
	// PID file only names the culprit.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("ordmirror is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("ordmirror is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	d, err := buildDaemon(cfg, store, logger)
	if err != nil {
		return err
	}
	defer d.pool.Close()

	go d.worker.Run(ctx)

	d.sched.Start()
	defer d.sched.Stop()

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: d.handler,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "ordmirror listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("ordmirror is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop ordmirror (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to ordmirror (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)

	req, _ := http.NewRequest(http.MethodGet, serverURL+"/health", nil)
	req.Header.Set("Authorization", "Bearer "+cfg.Server.APIToken)
	resp, err := client.Do(req)
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	driverResp, err := client.Get(cfg.Driver.BaseURL + "/status")
	if err != nil {
		printStatus("Driver", "not running")
	} else {
		driverResp.Body.Close()
		printStatus("Driver", "running at %s", cfg.Driver.BaseURL)
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	printStatus("Sync owner", "%s", cfg.Sync.OwnerID)
	printStatus("Schedule", "%s", cfg.Sync.Schedule)
	return nil
}
