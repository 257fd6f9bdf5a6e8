package cmd

import (
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jake-wickstrom/tabletop-tracker/internal/orchestrator"
	"github.com/jake-wickstrom/tabletop-tracker/internal/output"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Keep the replica in sync in the background",
	Long: `Runs the sync orchestrator until interrupted. A cycle runs at startup, on
every interval tick, when the server becomes reachable again, when the
stored credentials change, and on SIGUSR1. Failed cycles retry with
exponential backoff.`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		foreground, _ := cmd.Flags().GetBool("foreground")
		verbose, _ := cmd.Flags().GetBool("verbose")
		logger, closer := newDaemonLogger(cfg.LogFile, foreground, verbose)
		defer closer.Close()
		slog.SetDefault(logger)

		store, err := openReplica()
		if err != nil {
			output.Error("open replica: %v", err)
			return err
		}
		defer store.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		o, client := newOrchestrator(store)
		defer o.Close()

		var (
			mu   sync.Mutex
			last orchestrator.Phase
		)
		o.OnStatus(func(s orchestrator.Status) {
			mu.Lock()
			defer mu.Unlock()
			if s.Phase == last {
				return
			}
			last = s.Phase
			slog.Info("daemon: phase", "phase", s.Phase, "cursor", s.Cursor, "retry_in", s.RetryDelay, "err", s.LastError)
		})
		o.Start()

		go orchestrator.WatchConnectivity(ctx, client, cfg.HealthInterval, o.NotifyOnline)

		sigs := make(chan os.Signal, 1)
		var watched []os.Signal
		for _, s := range []os.Signal{syncSignal, resumeSignal} {
			if s != nil {
				watched = append(watched, s)
			}
		}
		if len(watched) > 0 {
			signal.Notify(sigs, watched...)
			defer signal.Stop(sigs)
		}

		slog.Info("daemon: started", "server", cfg.ServerURL, "replica", store.Dir(), "pid", os.Getpid())
		for {
			select {
			case <-ctx.Done():
				slog.Info("daemon: stopping")
				return nil
			case s := <-sigs:
				switch s {
				case syncSignal:
					slog.Info("daemon: sync requested")
					o.RequestSync()
				case resumeSignal:
					o.NotifyForeground()
				}
			}
		}
	},
}

// newDaemonLogger logs to a rotating file, or to stderr in the foreground.
func newDaemonLogger(path string, foreground, verbose bool) (*slog.Logger, io.Closer) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if foreground || path == "" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), io.NopCloser(nil)
	}
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	return slog.New(slog.NewJSONHandler(w, opts)), w
}

func init() {
	daemonCmd.Flags().BoolP("foreground", "f", false, "log to stderr instead of the log file")
	daemonCmd.Flags().BoolP("verbose", "v", false, "debug logging")
	rootCmd.AddCommand(daemonCmd)
}
