package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/sw33tLie/searchtrack/internal/utils"
	"github.com/sw33tLie/searchtrack/pkg/tasks"
)

// tasksCmd represents the tasks command
var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect and run queued server tasks",
}

func taskFilterFromFlags(cmd *cobra.Command) tasks.Filter {
	ids, _ := cmd.Flags().GetIntSlice("id")
	server, _ := cmd.Flags().GetString("server")
	index, _ := cmd.Flags().GetString("index")
	f := tasks.Filter{ServerID: server, IndexID: index}
	for _, id := range ids {
		f.IDs = append(f.IDs, int64(id))
	}
	return f
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending tasks in execution order",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		pending, err := a.tasks.Pending(cmd.Context(), taskFilterFromFlags(cmd))
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			fmt.Println("No pending tasks.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tSERVER\tTYPE\tINDEX\tATTEMPTS\tCREATED\t")
		for _, t := range pending {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\t\n", t.ID, t.ServerID, t.Type, t.IndexID, t.Attempts, t.CreatedAt.Local().Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var tasksExecuteCmd = &cobra.Command{
	Use:   "execute",
	Short: "Execute pending tasks of one server, or of all enabled servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")

		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.tasks.Execute(cmd.Context(), server)
		if err != nil {
			return err
		}
		log := utils.Log.WithField("run", res.RunID)
		if res.Attempted == 0 {
			log.Info("No pending tasks")
			return nil
		}
		log.Infof("Attempted %d tasks: %d executed, %d evicted", res.Attempted, len(res.Executed), len(res.Evicted))
		if len(res.BusyServers) > 0 {
			log.Warnf("Skipped busy servers: %v", res.BusyServers)
		}
		if !res.Succeeded() {
			return fmt.Errorf("tasks failed for servers %v", append(res.FailingServers, res.BusyServers...))
		}
		return nil
	},
}

var tasksDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete pending tasks without executing them",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		f := taskFilterFromFlags(cmd)
		if !all && f.IDs == nil && f.ServerID == "" && f.IndexID == "" {
			return fmt.Errorf("give --id, --server or --index, or --all to delete every task")
		}

		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.tasks.Delete(cmd.Context(), f)
		if err != nil {
			return err
		}
		utils.Log.Infof("Deleted %d tasks", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.AddCommand(tasksListCmd, tasksExecuteCmd, tasksDeleteCmd)

	for _, c := range []*cobra.Command{tasksListCmd, tasksDeleteCmd} {
		c.Flags().IntSlice("id", nil, "Task id (repeatable)")
		c.Flags().StringP("server", "s", "", "Only tasks of this server")
		c.Flags().StringP("index", "i", "", "Only tasks of this index")
	}
	tasksExecuteCmd.Flags().StringP("server", "s", "", "Only run tasks of this server")
	tasksDeleteCmd.Flags().Bool("all", false, "Delete every pending task")
}
