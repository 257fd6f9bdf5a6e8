package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jake-wickstrom/tabletop-tracker/internal/output"
	"github.com/jake-wickstrom/tabletop-tracker/internal/version"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:     "version",
	Short:   "Print the version and check for updates",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("tabletop %s\n", rootCmd.Version)

		if check, _ := cmd.Flags().GetBool("check"); !check {
			return nil
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		res, err := version.NewChecker(configDir).Check(ctx, rootCmd.Version)
		if err != nil {
			output.Warning("update check failed: %v", err)
			return nil
		}
		switch {
		case version.IsDevelopmentVersion(res.CurrentVersion):
			fmt.Println("Development build; update check skipped.")
		case res.HasUpdate:
			output.Success("Update available: %s", res.LatestVersion)
			if c := version.UpdateCommand(res.LatestVersion); c != "" {
				fmt.Printf("  %s\n", c)
			}
		default:
			fmt.Println("Up to date.")
		}
		return nil
	},
}

func init() {
	versionCmd.Flags().Bool("check", false, "look for a newer release on GitHub")
	rootCmd.AddCommand(versionCmd)
}
