package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/sw33tLie/searchtrack/internal/utils"
	"github.com/sw33tLie/searchtrack/pkg/tracker"
)

// trackCmd represents the track command
var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Update and inspect the items tracked for an index",
	Long: `Update and inspect the items tracked for an index.

Item ids are combined ids of the form <datasource>/<raw id>, e.g. entity:node/42.
They are read from the arguments, or from stdin (one per line) when none are given.`,
}

// trackMutation builds a subcommand that applies fn to the ids given for an
// index. With allFlag set, --all passes nil ids to fn.
func trackMutation(use, short string, allFlag bool, fn func(ctx context.Context, tr *tracker.Tracker, ids []string, datasource string)) *cobra.Command {
	c := &cobra.Command{
		Use:   use + " <index> [ids...]",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ids []string
			all := false
			datasource := ""
			if allFlag {
				all, _ = cmd.Flags().GetBool("all")
				datasource, _ = cmd.Flags().GetString("datasource")
			}
			if !all {
				var err error
				if ids, err = readIDs(args[1:], os.Stdin); err != nil {
					return err
				}
				if len(ids) == 0 {
					return fmt.Errorf("no item ids given")
				}
			}

			a, err := openApp(nil)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.db.Index(cmd.Context(), args[0]); err != nil {
				return err
			}
			tr, err := a.indexing.TrackerFor(args[0])
			if err != nil {
				return err
			}
			before, err := tr.Status(cmd.Context(), "")
			if err != nil {
				return err
			}
			fn(cmd.Context(), tr, ids, datasource)
			after, err := tr.Status(cmd.Context(), "")
			if err != nil {
				return err
			}
			utils.Log.Infof("%s: total %d -> %d, remaining %d -> %d", args[0], before.Total, after.Total, before.Remaining, after.Remaining)
			return nil
		},
	}
	if allFlag {
		c.Flags().Bool("all", false, "Apply to every item of the index")
		c.Flags().StringP("datasource", "d", "", "With --all, only apply to items of this datasource")
	}
	return c
}

var trackInsertCmd = trackMutation("insert", "Start tracking items as not indexed", false,
	func(ctx context.Context, tr *tracker.Tracker, ids []string, _ string) {
		tr.TrackItemsInserted(ctx, ids)
	})

var trackUpdateCmd = trackMutation("update", "Mark items as changed", true,
	func(ctx context.Context, tr *tracker.Tracker, ids []string, datasource string) {
		if ids == nil {
			tr.TrackAllItemsUpdated(ctx, datasource)
			return
		}
		tr.TrackItemsUpdated(ctx, ids)
	})

var trackIndexedCmd = trackMutation("indexed", "Mark items as indexed", false,
	func(ctx context.Context, tr *tracker.Tracker, ids []string, _ string) {
		tr.TrackItemsIndexed(ctx, ids)
	})

var trackDeleteCmd = trackMutation("delete", "Stop tracking items", true,
	func(ctx context.Context, tr *tracker.Tracker, ids []string, datasource string) {
		if ids == nil {
			tr.TrackAllItemsDeleted(ctx, datasource)
			return
		}
		tr.TrackItemsDeleted(ctx, ids)
	})

var trackRemainingCmd = &cobra.Command{
	Use:   "remaining <index>",
	Short: "Print the ids of items waiting to be indexed, oldest change first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		datasource, _ := cmd.Flags().GetString("datasource")

		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		tr, err := a.indexing.TrackerFor(args[0])
		if err != nil {
			return err
		}
		ids, err := tr.GetRemainingItems(cmd.Context(), limit, datasource)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

var trackStatusCmd = &cobra.Command{
	Use:   "status <index>",
	Short: "Print item counts of an index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		datasource, _ := cmd.Flags().GetString("datasource")

		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		idx, err := a.db.Index(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		tr, err := a.indexing.TrackerFor(idx.ID)
		if err != nil {
			return err
		}

		datasources := idx.Datasources
		if datasource != "" {
			datasources = []string{datasource}
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "DATASOURCE\tTOTAL\tINDEXED\tREMAINING\t")
		for _, ds := range datasources {
			c, err := tr.Status(cmd.Context(), ds)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t\n", ds, c.Total, c.Indexed, c.Remaining)
		}
		if datasource == "" {
			c, err := tr.Status(cmd.Context(), "")
			if err != nil {
				return err
			}
			fmt.Fprintln(w, " \t \t \t \t")
			fmt.Fprintf(w, "TOTAL\t%d\t%d\t%d\t\n", c.Total, c.Indexed, c.Remaining)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(trackCmd)
	trackCmd.AddCommand(trackInsertCmd, trackUpdateCmd, trackIndexedCmd, trackDeleteCmd, trackRemainingCmd, trackStatusCmd)

	trackRemainingCmd.Flags().IntP("limit", "n", -1, "Maximum number of ids to print (-1 for all)")
	trackRemainingCmd.Flags().StringP("datasource", "d", "", "Only items of this datasource")
	trackStatusCmd.Flags().StringP("datasource", "d", "", "Only count items of this datasource")
}
