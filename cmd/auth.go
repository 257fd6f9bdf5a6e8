package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jake-wickstrom/tabletop-tracker/internal/output"
	"github.com/jake-wickstrom/tabletop-tracker/internal/syncclient"
	"github.com/jake-wickstrom/tabletop-tracker/internal/syncconfig"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var authCmd = &cobra.Command{
	Use:     "auth",
	Short:   "Manage sync authentication",
	GroupID: "sync",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store an API key for the sync server",
	Long: `Stores an API key issued by "tabletop-sync admin create-key".

The key is read from the terminal without echo, or from stdin when piped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")

		key, err := readAPIKey()
		if err != nil {
			output.Error("read key: %v", err)
			return err
		}
		if key == "" {
			return fmt.Errorf("api key required")
		}

		if verify, _ := cmd.Flags().GetBool("verify"); verify {
			if err := verifyKey(cmd.Context(), key); err != nil {
				output.Error("verify key: %v", err)
				return err
			}
		}

		creds := &syncconfig.AuthCredentials{
			APIKey:    key,
			Email:     email,
			ServerURL: cfg.ServerURL,
		}
		if err := syncconfig.SaveAuth(configDir, creds); err != nil {
			output.Error("save credentials: %v", err)
			return err
		}
		if email != "" {
			output.Success("Logged in as %s", email)
		} else {
			output.Success("Logged in to %s", cfg.ServerURL)
		}
		return nil
	},
}

// readAPIKey prompts on a terminal and reads a line from stdin otherwise.
func readAPIKey() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Print("API key: ")
		b, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// verifyKey makes an authenticated pull that returns no rows.
func verifyKey(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()
	client := syncclient.New(cfg.ServerURL, cfg.RequestTimeout)
	_, err := client.Pull(ctx, key, time.Now().UnixMilli())
	if errors.Is(err, syncclient.ErrUnauthorized) {
		return fmt.Errorf("server rejected the key")
	}
	return err
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored API key",
	Long: `Removes the stored credentials. With --purge the local replica is wiped
too, including changes that were never pushed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := syncconfig.ClearAuth(configDir); err != nil {
			output.Error("logout: %v", err)
			return err
		}

		if purge, _ := cmd.Flags().GetBool("purge"); purge {
			store, err := openReplica()
			if err != nil {
				output.Error("open replica: %v", err)
				return err
			}
			defer store.Close()

			pending, _ := store.PendingCount(cmd.Context())
			if err := store.Reset(cmd.Context()); err != nil {
				output.Error("purge replica: %v", err)
				return err
			}
			if pending > 0 {
				output.Warning("discarded %d unsynced change(s)", pending)
			}
		}
		output.Info("Logged out.")
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authentication status",
	RunE: func(cmd *cobra.Command, args []string) error {
		if os.Getenv(syncconfig.EnvAPIKey) != "" {
			fmt.Printf("Using key from %s\n", syncconfig.EnvAPIKey)
			return nil
		}

		creds, err := syncconfig.LoadAuth(configDir)
		if err != nil {
			output.Error("load auth: %v", err)
			return err
		}
		if creds == nil || creds.APIKey == "" {
			fmt.Println("Not logged in.")
			return nil
		}

		keyPrefix := creds.APIKey
		if len(keyPrefix) > 12 {
			keyPrefix = keyPrefix[:12] + "..."
		}

		if creds.Email != "" {
			fmt.Printf("Email:  %s\n", creds.Email)
		}
		fmt.Printf("Server: %s\n", creds.ServerURL)
		fmt.Printf("Key:    %s\n", keyPrefix)
		return nil
	},
}

func init() {
	authLoginCmd.Flags().String("email", "", "account email, for display only")
	authLoginCmd.Flags().Bool("verify", true, "check the key against the server before saving")
	authLogoutCmd.Flags().Bool("purge", false, "also wipe the local replica")

	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
	rootCmd.AddCommand(authCmd)
}
