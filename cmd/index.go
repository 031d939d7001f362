package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/sw33tLie/searchtrack/internal/utils"
	"github.com/sw33tLie/searchtrack/pkg/search"
)

// indexCmd represents the index command
var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage search indexes",
}

var indexAddCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Add an index and create it on its server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		serverID, _ := cmd.Flags().GetString("server")
		datasources, _ := cmd.Flags().GetStringSlice("datasource")
		rawFields, _ := cmd.Flags().GetStringSlice("field")
		readOnly, _ := cmd.Flags().GetBool("read-only")
		disabled, _ := cmd.Flags().GetBool("disabled")

		if len(datasources) == 0 {
			return fmt.Errorf("at least one --datasource is required")
		}
		fields, err := parseFields(rawFields)
		if err != nil {
			return err
		}
		if name == "" {
			name = args[0]
		}

		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		out, err := a.indexing.AddIndex(cmd.Context(), search.Index{
			ID:          args[0],
			Name:        name,
			ServerID:    serverID,
			Datasources: datasources,
			Fields:      fields,
			ReadOnly:    readOnly,
			Enabled:     !disabled,
		})
		if err != nil {
			return err
		}
		utils.Log.Infof("Index %s added (backend: %s)", args[0], out)
		return nil
	},
}

var indexListCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexes",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		indexes, err := a.db.ListIndexes(cmd.Context())
		if err != nil {
			return err
		}
		if len(indexes) == 0 {
			fmt.Println("No indexes.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSERVER\tDATASOURCES\tREAD-ONLY\tENABLED\t")
		for _, idx := range indexes {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%t\t\n", idx.ID, idx.Name, idx.ServerID, strings.Join(idx.Datasources, ","), idx.ReadOnly, idx.Enabled)
		}
		return w.Flush()
	},
}

var indexRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove an index, its tracked items and its pending tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		out, err := a.indexing.RemoveIndex(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		utils.Log.Infof("Index %s removed (backend: %s)", args[0], out)
		return nil
	},
}

var indexClearCmd = &cobra.Command{
	Use:   "clear <id>",
	Short: "Delete all items of an index from its server and schedule a reindex",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		datasource, _ := cmd.Flags().GetString("datasource")
		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		out, err := a.indexing.ClearIndex(cmd.Context(), args[0], datasource)
		if err != nil {
			return err
		}
		utils.Log.Infof("Index %s cleared (backend: %s)", args[0], out)
		return nil
	},
}

var indexDeleteItemsCmd = &cobra.Command{
	Use:   "delete-items <id> [item ids...]",
	Short: "Delete items from the index's server and stop tracking them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := readIDs(args[1:], os.Stdin)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return fmt.Errorf("no item ids given")
		}
		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		out, err := a.indexing.DeleteItems(cmd.Context(), args[0], ids)
		if err != nil {
			return err
		}
		utils.Log.Infof("Deleted %d items from %s (backend: %s)", len(ids), args[0], out)
		return nil
	},
}

// parseFields reads "id:type" pairs.
func parseFields(raw []string) ([]search.Field, error) {
	var fields []search.Field
	for _, r := range raw {
		id, typ, ok := strings.Cut(r, ":")
		if !ok || id == "" || typ == "" {
			return nil, fmt.Errorf("invalid field %q, expected id:type", r)
		}
		fields = append(fields, search.Field{ID: id, Type: typ})
	}
	return fields, nil
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexAddCmd, indexListCmd, indexRemoveCmd, indexClearCmd, indexDeleteItemsCmd)

	indexAddCmd.Flags().String("name", "", "Human readable name (defaults to the id)")
	indexAddCmd.Flags().StringP("server", "s", "", "Server the index lives on")
	indexAddCmd.Flags().StringSliceP("datasource", "d", nil, "Datasource id, e.g. entity:node (repeatable)")
	indexAddCmd.Flags().StringSliceP("field", "f", nil, "Indexed field as id:type (repeatable)")
	indexAddCmd.Flags().Bool("read-only", false, "Never delete items from the server")
	indexAddCmd.Flags().Bool("disabled", false, "Add the index disabled")

	indexClearCmd.Flags().StringP("datasource", "d", "", "Only clear items of this datasource")
}
