package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/joescharf/chronicle/internal/api"
	"github.com/joescharf/chronicle/internal/clock"
	"github.com/joescharf/chronicle/internal/daemon"
	"github.com/joescharf/chronicle/internal/engine"
)

const (
	shutdownTimeout = 5 * time.Second
	stopWait        = 5 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingest engine with the HTTP and SSE API",
	Long: `Follow the event feed, keep session statuses current and serve them at
/api/v1 (JSON) and /api/v1/stream (Server-Sent Events).

Runs in the foreground; use 'chronicle serve start' to run it in the background.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun(cmd.Context())
	},
}

var serveStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the server in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStartRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the background server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

func init() {
	serveCmd.PersistentFlags().String("addr", "", "listen address (default from serve.addr)")
	_ = viper.BindPFlag("serve.addr", serveCmd.PersistentFlags().Lookup("addr"))

	serveCmd.AddCommand(serveStartCmd)
	serveCmd.AddCommand(serveStopCmd)
	serveCmd.AddCommand(serveStatusCmd)
	rootCmd.AddCommand(serveCmd)
}

func pidFile() *daemon.PIDFile {
	return daemon.NewPIDFile(filepath.Join(viper.GetString("state_dir"), "chronicle-serve.pid"))
}

func serveLogPath() string {
	return filepath.Join(viper.GetString("state_dir"), "chronicle-serve.log")
}

func serveRun(parent context.Context) error {
	pf := pidFile()
	if err := pf.Acquire(); err != nil {
		return err
	}
	defer func() { _ = pf.Release() }()

	ctx, stop := signal.NotifyContext(parent, shutdownSignals()...)
	defer stop()

	eng, src, err := newEngine(ctx)
	if err != nil {
		return err
	}
	eng.Start(ctx)
	defer eng.Stop()

	g, gctx := errgroup.WithContext(ctx)

	addr := viper.GetString("serve.addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewServer(eng, newLLMClient(), viper.GetInt("serve.max_streams")).Router(),
		ReadHeaderTimeout: 10 * time.Second,
		// streams end when the group shuts down
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error { return src.Run(gctx) })
	g.Go(func() error {
		refreshLoop(gctx, eng, clock.Real(), viper.GetDuration("status.refresh_interval"))
		return nil
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	ui.Success("Serving chronicle API at http://%s/api/v1", addr)
	return g.Wait()
}

// refreshLoop re-derives statuses on an interval so idle transitions
// surface without new events.
func refreshLoop(ctx context.Context, eng *engine.Engine, clk clock.Clock, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := clk.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			eng.Refresh()
		}
	}
}

func serveStartRun() error {
	pf := pidFile()
	if pid, running := pf.IsRunning(); running {
		return fmt.Errorf("server already running (pid %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	args := []string{"serve"}
	if cfg, _ := rootCmd.PersistentFlags().GetString("config"); cfg != "" {
		args = append(args, "--config", cfg)
	}
	logPath := serveLogPath()

	if dryRun {
		ui.DryRunMsg("Would run %s %v, logging to %s", exe, args, logPath)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open serve log: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(exe, args...)
	child.Stdout = logFile
	child.Stderr = logFile
	detach(child)
	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	pid := child.Process.Pid
	_ = child.Process.Release()

	ui.Success("Server started (pid %d)", pid)
	ui.Info("Logs: %s", logPath)
	return nil
}

func serveStopRun() error {
	pf := pidFile()
	pid, running := pf.IsRunning()
	if !running {
		return fmt.Errorf("server not running")
	}

	if dryRun {
		ui.DryRunMsg("Would stop server (pid %d)", pid)
		return nil
	}

	if err := pf.Signal(stopSignal); err != nil {
		return err
	}
	deadline := time.Now().Add(stopWait)
	for time.Now().Before(deadline) {
		if _, running := pf.IsRunning(); !running {
			ui.Success("Server stopped (pid %d)", pid)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	ui.Warning("Server did not exit after %s, killing", stopWait)
	if err := pf.Signal(killSignal); err != nil {
		return err
	}
	_ = os.Remove(pf.Path)
	ui.Success("Server killed (pid %d)", pid)
	return nil
}

func serveStatusRun() error {
	pf := pidFile()
	pid, running := pf.IsRunning()
	if !running {
		ui.Info("Server not running")
		return nil
	}
	ui.Success("Server running (pid %d) at http://%s/api/v1", pid, viper.GetString("serve.addr"))
	return nil
}
