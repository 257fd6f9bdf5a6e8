package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jake-wickstrom/tabletop-tracker/internal/orchestrator"
	"github.com/jake-wickstrom/tabletop-tracker/internal/output"
	"github.com/jake-wickstrom/tabletop-tracker/internal/replica"
	"github.com/jake-wickstrom/tabletop-tracker/internal/syncclient"
	"github.com/jake-wickstrom/tabletop-tracker/internal/syncconfig"
	"github.com/spf13/cobra"
)

// newOrchestrator wires the configured server, stored credentials and the
// given replica. The caller must Close the result.
func newOrchestrator(store *replica.Replica) (*orchestrator.Orchestrator, *syncclient.Client) {
	client := syncclient.New(cfg.ServerURL, cfg.RequestTimeout)
	o := orchestrator.New(orchestrator.Config{
		BackoffMin: cfg.BackoffMin,
		BackoffMax: cfg.BackoffMax,
		Interval:   cfg.Interval,
	}, syncconfig.NewTokenFile(configDir), client, store)
	return o, client
}

// runOnce performs a single sync cycle against store.
func runOnce(ctx context.Context, store *replica.Replica) (orchestrator.Status, error) {
	o, _ := newOrchestrator(store)
	defer o.Close()
	o.Start()
	err := o.Sync(ctx)
	return o.Status(), err
}

var syncCmd = &cobra.Command{
	Use:     "sync",
	Short:   "Push local changes and pull remote ones",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openReplica()
		if err != nil {
			output.Error("open replica: %v", err)
			return err
		}
		defer store.Close()

		timeout, _ := cmd.Flags().GetDuration("timeout")
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		jsonOut, _ := cmd.Flags().GetBool("json")
		st, err := runOnce(ctx, store)
		if err != nil {
			if jsonOut {
				output.JSONError(syncErrorCode(err), err.Error())
			} else {
				reportSyncError(err)
			}
			return err
		}
		if jsonOut {
			return output.JSON(map[string]any{
				"pushed":         st.Pushed,
				"pulled":         st.Pulled,
				"last_pulled_at": st.Cursor,
			})
		}
		output.Success("Synced: pushed %d, pulled %d", st.Pushed, st.Pulled)
		fmt.Printf("Cursor: %s\n", output.FormatCursor(st.Cursor, st.HasCursor))
		return nil
	},
}

// reportSyncError prints a user-facing explanation of a failed cycle.
func reportSyncError(err error) {
	var conflict *syncclient.ConflictError
	switch {
	case errors.Is(err, orchestrator.ErrNotAuthenticated):
		output.Error("not logged in (run: tabletop auth login)")
	case errors.Is(err, syncclient.ErrUnauthorized):
		output.Error("server rejected the API key (run: tabletop auth login)")
	case errors.As(err, &conflict):
		tables := make([]string, 0, len(conflict.Conflicts))
		for t, ids := range conflict.Conflicts {
			tables = append(tables, fmt.Sprintf("%s (%d)", t, len(ids)))
		}
		sort.Strings(tables)
		output.Warning("newer server versions won for %s; run sync again to pull them", strings.Join(tables, ", "))
	case errors.Is(err, syncclient.ErrUnavailable):
		output.Error("server unreachable: %v", err)
	default:
		output.Error("sync: %v", err)
	}
}

// syncErrorCode maps a cycle failure to its structured error code.
func syncErrorCode(err error) string {
	switch {
	case errors.Is(err, orchestrator.ErrNotAuthenticated):
		return output.ErrCodeNotLoggedIn
	case errors.Is(err, syncclient.ErrUnauthorized):
		return output.ErrCodeUnauthorized
	case errors.Is(err, syncclient.ErrConflict):
		return output.ErrCodeConflict
	case errors.Is(err, syncclient.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return output.ErrCodeUnavailable
	case errors.Is(err, syncclient.ErrInvalidPayload):
		return output.ErrCodeInvalidInput
	default:
		return output.ErrCodeServerRejection
	}
}

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show pending changes and sync state",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openReplica()
		if err != nil {
			output.Error("open replica: %v", err)
			return err
		}
		defer store.Close()

		pending, err := store.PendingCount(ctx)
		if err != nil {
			output.Error("count pending: %v", err)
			return err
		}
		cursor, hasCursor, err := store.LoadCursor(ctx)
		if err != nil {
			output.Error("load cursor: %v", err)
			return err
		}
		token, _ := syncconfig.NewTokenFile(configDir).Token(ctx)

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			result := map[string]any{
				"server_url":    cfg.ServerURL,
				"data_dir":      cfg.DataDir,
				"authenticated": token != "",
				"pending":       pending,
			}
			if hasCursor {
				result["last_pulled_at"] = cursor
			}
			return output.JSON(result)
		}

		fmt.Printf("Server:   %s\n", cfg.ServerURL)
		fmt.Printf("Replica:  %s\n", store.Dir())
		if token == "" {
			fmt.Println("Auth:     not logged in")
		} else {
			fmt.Println("Auth:     logged in")
		}
		fmt.Printf("Pending:  %d\n", pending)
		fmt.Printf("Cursor:   %s\n", output.FormatCursor(cursor, hasCursor))
		return nil
	},
}

// mutatingCommands lists commands that modify the replica and should trigger auto-sync.
var mutatingCommands = map[string]bool{
	"add":    true,
	"update": true,
	"delete": true,
}

// autoSyncEnabled reports whether mutations push immediately.
// TABLETOP_AUTO_SYNC=0 disables it.
func autoSyncEnabled() bool {
	v := os.Getenv("TABLETOP_AUTO_SYNC")
	return v == "" || v == "1" || v == "true"
}

// autoSyncAfterMutation runs a quick sync after a mutating command completes.
// Errors are logged, not returned; pending rows stay queued for later.
func autoSyncAfterMutation(cmd *cobra.Command) {
	if !mutatingCommands[cmd.Name()] || !autoSyncEnabled() || cfg == nil {
		return
	}
	if token, _ := syncconfig.NewTokenFile(configDir).Token(cmd.Context()); token == "" {
		return
	}
	store, err := openReplica()
	if err != nil {
		slog.Debug("autosync: open replica", "err", err)
		return
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := runOnce(ctx, store); err != nil {
		slog.Debug("autosync: failed", "err", err)
	}
}

func init() {
	syncCmd.Flags().Duration("timeout", 2*time.Minute, "give up after this long")
	syncCmd.Flags().Bool("json", false, "JSON output")
	statusCmd.Flags().Bool("json", false, "JSON output")

	rootCmd.AddCommand(syncCmd, statusCmd)
}
