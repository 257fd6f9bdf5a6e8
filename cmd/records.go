package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jake-wickstrom/tabletop-tracker/internal/dateparse"
	"github.com/jake-wickstrom/tabletop-tracker/internal/output"
	"github.com/jake-wickstrom/tabletop-tracker/internal/replica"
	"github.com/jake-wickstrom/tabletop-tracker/internal/schema"
	"github.com/spf13/cobra"
)

var addCmd = &cobra.Command{
	Use:     "add <table> field=value...",
	Aliases: []string{"create"},
	Short:   "Add a record to the local replica",
	Example: `  tabletop add games name=Catan min_players=3 max_players=4
  tabletop add game_sessions game_id=<id> session_date=yesterday location=Home
  tabletop add game_results session_id=<id> player_id=<id> score=42 is_winner=true`,
	GroupID:           "records",
	Args:              cobra.MinimumNArgs(2),
	ValidArgsFunction: completeTables,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		fields, err := parseFields(args[0], args[1:])
		if err != nil {
			if jsonOut {
				output.JSONError(output.ErrCodeInvalidInput, err.Error())
			} else {
				output.Error("%v", err)
			}
			return err
		}
		store, err := openReplica()
		if err != nil {
			output.Error("open replica: %v", err)
			return err
		}
		defer store.Close()

		rec, err := store.Create(cmd.Context(), args[0], fields)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if jsonOut {
			return output.JSON(rec.Row)
		}
		output.Success("CREATED %s %s", args[0], rec.ID())
		return nil
	},
}

var updateCmd = &cobra.Command{
	Use:               "update <table> <id> field=value...",
	Short:             "Change fields of a local record",
	Example:           `  tabletop update players 6f1c... email=ada@example.com`,
	GroupID:           "records",
	Args:              cobra.MinimumNArgs(3),
	ValidArgsFunction: completeTables,
	RunE: func(cmd *cobra.Command, args []string) error {
		fields, err := parseFields(args[0], args[2:])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		store, err := openReplica()
		if err != nil {
			output.Error("open replica: %v", err)
			return err
		}
		defer store.Close()

		rec, err := store.Update(cmd.Context(), args[0], args[1], fields)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("UPDATED %s %s (%s)", args[0], rec.ID(), strings.Join(rec.Changed, ", "))
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:               "delete <table> <id>...",
	Aliases:           []string{"rm"},
	Short:             "Delete local records",
	GroupID:           "records",
	Args:              cobra.MinimumNArgs(2),
	ValidArgsFunction: completeTables,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openReplica()
		if err != nil {
			output.Error("open replica: %v", err)
			return err
		}
		defer store.Close()

		var failed []string
		for _, id := range args[1:] {
			if err := store.Delete(cmd.Context(), args[0], id); err != nil {
				output.Error("%s: %v", id, err)
				failed = append(failed, id)
				continue
			}
			output.Success("DELETED %s %s", args[0], id)
		}
		if len(failed) > 0 {
			return fmt.Errorf("failed to delete %d record(s)", len(failed))
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:               "list <table>",
	Aliases:           []string{"ls"},
	Short:             "List records of a table",
	GroupID:           "records",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeTables,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openReplica()
		if err != nil {
			output.Error("open replica: %v", err)
			return err
		}
		defer store.Close()

		recs, err := store.List(cmd.Context(), args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			rows := make([]map[string]any, 0, len(recs))
			for _, rec := range recs {
				rows = append(rows, rec.Row)
			}
			return output.JSON(rows)
		}

		long, _ := cmd.Flags().GetBool("long")
		if len(recs) == 0 {
			fmt.Printf("No %s\n", args[0])
			return nil
		}
		if long {
			fmt.Print(output.SectionHeader(fmt.Sprintf("%s (%d)", args[0], len(recs))))
		}
		for _, rec := range recs {
			if long {
				fmt.Print(output.FormatRecordLong(rec.Table, rec.Row, rec.Status, rec.Changed))
				continue
			}
			fmt.Println(output.FormatRecordShort(rec.Row, rec.Status))
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:               "show <table> <id>",
	Short:             "Show one record with its sync status",
	GroupID:           "records",
	Args:              cobra.ExactArgs(2),
	ValidArgsFunction: completeTables,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openReplica()
		if err != nil {
			output.Error("open replica: %v", err)
			return err
		}
		defer store.Close()

		jsonOut, _ := cmd.Flags().GetBool("json")
		rec, err := store.Get(cmd.Context(), args[0], args[1])
		if errors.Is(err, replica.ErrNotFound) {
			if jsonOut {
				output.JSONError(output.ErrCodeNotFound, fmt.Sprintf("%s %s not found", args[0], args[1]))
			} else {
				output.Error("%s %s not found", args[0], args[1])
			}
			return err
		}
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if jsonOut {
			return output.JSON(rec.Row)
		}
		fmt.Print(output.FormatRecordLong(rec.Table, rec.Row, rec.Status, rec.Changed))
		return nil
	},
}

// parseFields turns key=value arguments into typed field values using the
// table's declared column types. An empty value clears the column.
// session_date also accepts shorthands like "yesterday" or "-2w".
func parseFields(table string, args []string) (map[string]any, error) {
	tbl, ok := schema.Lookup(table)
	if !ok {
		return nil, fmt.Errorf("unknown table %q (one of: %s)", table, strings.Join(schema.TableNames(), ", "))
	}
	fields := make(map[string]any, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected field=value, got %q", arg)
		}
		col, ok := tbl.Column(key)
		if !ok || key == schema.ColID {
			return nil, fmt.Errorf("%s has no field %q", table, key)
		}
		if raw == "" {
			fields[key] = nil
			continue
		}
		switch col.Type {
		case schema.TypeNumber:
			n, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("%s: %q is not a number", key, raw)
			}
			fields[key] = n
		case schema.TypeBoolean:
			b, err := strconv.ParseBool(raw)
			if err != nil {
				return nil, fmt.Errorf("%s: %q is not true/false", key, raw)
			}
			fields[key] = b
		case schema.TypeTimestamp:
			return nil, fmt.Errorf("%s is maintained automatically", key)
		default:
			if key == "session_date" {
				d, err := dateparse.ParseDate(raw)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", key, err)
				}
				raw = d
			}
			fields[key] = raw
		}
	}
	return fields, nil
}

func completeTables(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return schema.TableNames(), cobra.ShellCompDirectiveNoFileComp
}

func init() {
	addCmd.Flags().Bool("json", false, "JSON output")
	listCmd.Flags().Bool("json", false, "JSON output")
	listCmd.Flags().BoolP("long", "l", false, "show every field")
	showCmd.Flags().Bool("json", false, "JSON output")

	rootCmd.AddCommand(addCmd, updateCmd, deleteCmd, listCmd, showCmd)
}
