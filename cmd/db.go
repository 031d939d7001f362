package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/sw33tLie/searchtrack/internal/utils"
	"github.com/sw33tLie/searchtrack/pkg/tasks"
)

// dbCmd represents the db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Interact with the searchtrack database",
}

// shellCmd represents the shell command
var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start an interactive shell to the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, err := utils.GetAbsDBPath(viper.GetString("db.path"))
		if err != nil {
			return err
		}
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return fmt.Errorf("database file not found: %s", dbPath)
		}

		// Check if sqlite3 is in PATH
		sqlitePath, err := exec.LookPath("sqlite3")
		if err != nil {
			return fmt.Errorf("sqlite3 command not found in your PATH. Please install it to use the db shell")
		}

		fmt.Println("--> Database schema:")
		schemaCmd := exec.Command(sqlitePath, dbPath, ".schema")
		schemaCmd.Stdout = os.Stdout
		schemaCmd.Stderr = os.Stderr
		if err := schemaCmd.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: couldn't retrieve schema: %v\n", err)
		}
		fmt.Println("\n--> Starting interactive shell... (Ctrl+D to exit)")

		c := exec.Command(sqlitePath, dbPath)
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr

		return c.Run()
	},
}

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Prints tracking statistics for every index and pending tasks per server.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := cmd.Context()

		indexes, err := a.db.ListIndexes(ctx)
		if err != nil {
			return err
		}
		if len(indexes) == 0 {
			fmt.Println("No indexes in the database to generate stats.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "INDEX\tSERVER\tTOTAL\tINDEXED\tREMAINING\t")
		var total, indexed, remaining int
		for _, idx := range indexes {
			c, err := a.db.CountItemsByStatus(ctx, idx.ID, "")
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t\n", idx.ID, idx.ServerID, c.Total, c.Indexed, c.Remaining)
			total += c.Total
			indexed += c.Indexed
			remaining += c.Remaining
		}
		fmt.Fprintln(w, " \t \t \t \t \t")
		fmt.Fprintf(w, "TOTAL\t\t%d\t%d\t%d\t\n", total, indexed, remaining)
		w.Flush()

		pending, err := a.tasks.Pending(ctx, tasks.Filter{})
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}
		perServer := make(map[string]int)
		var order []string
		for _, t := range pending {
			if perServer[t.ServerID] == 0 {
				order = append(order, t.ServerID)
			}
			perServer[t.ServerID]++
		}
		fmt.Println()
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "SERVER\tPENDING TASKS\t")
		for _, s := range order {
			fmt.Fprintf(w, "%s\t%d\t\n", s, perServer[s])
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(shellCmd)
	dbCmd.AddCommand(statsCmd)
}
