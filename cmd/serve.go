package cmd

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/sw33tLie/searchtrack/internal/server"
	"github.com/sw33tLie/searchtrack/internal/utils"
	"github.com/sw33tLie/searchtrack/pkg/tasks"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the status API and metrics endpoint",
	Long: `Start an HTTP server exposing index status, pending tasks and Prometheus metrics.

With --execute-interval, pending tasks of all enabled servers are executed periodically.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("execute-interval")

		a, err := openApp(prometheus.DefaultRegisterer)
		if err != nil {
			return err
		}
		defer a.Close()

		if interval > 0 {
			go executeEvery(cmd.Context(), a.tasks, interval)
		}

		srv := server.New(a.db, a.indexing, a.tasks, prometheus.DefaultGatherer,
			viper.GetString("server.username"), viper.GetString("server.password"))
		return srv.Start(viper.GetString("server.addr"))
	},
}

func executeEvery(ctx context.Context, mgr *tasks.Manager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := mgr.Execute(ctx, "")
			if err != nil {
				utils.Log.WithError(err).Error("Periodic task execution failed")
				continue
			}
			if res.Attempted > 0 {
				utils.Log.WithField("run", res.RunID).Infof("Executed %d of %d pending tasks", len(res.Executed), res.Attempted)
			}
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("bind", "b", ":9999", "Address to bind the server to")
	serveCmd.Flags().StringP("username", "u", "", "Username for basic auth (optional)")
	serveCmd.Flags().StringP("password", "p", "", "Password for basic auth (optional)")
	serveCmd.Flags().Duration("execute-interval", 0, "Execute pending tasks at this interval (0 to disable)")
	viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("bind"))
	viper.BindPFlag("server.username", serveCmd.Flags().Lookup("username"))
	viper.BindPFlag("server.password", serveCmd.Flags().Lookup("password"))
}
