package cmd

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/sw33tLie/searchtrack/internal/utils"
	"github.com/sw33tLie/searchtrack/pkg/search"
)

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage search servers",
}

var serverAddCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Add or replace a search server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		backend, _ := cmd.Flags().GetString("backend")
		rawConfig, _ := cmd.Flags().GetStringSlice("config")
		disabled, _ := cmd.Flags().GetBool("disabled")

		cfg, err := parseBackendConfig(rawConfig)
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

		server := search.Server{ID: args[0], Name: name, Backend: backend, BackendConfig: cfg, Enabled: !disabled}
		// Fail early on configs the backend cannot use.
		if _, err := a.backends.Backend(&server); err != nil {
			return err
		}
		if err := a.db.SaveServer(cmd.Context(), server); err != nil {
			return err
		}
		utils.Log.Infof("Server %s saved", server.ID)
		return nil
	},
}

var serverListCmd = &cobra.Command{
	Use:   "list",
	Short: "List search servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		servers, err := a.db.ListServers(cmd.Context())
		if err != nil {
			return err
		}
		if len(servers) == 0 {
			fmt.Println("No servers.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tBACKEND\tENABLED\tCONFIG\t")
		for _, s := range servers {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t\n", s.ID, s.Name, s.Backend, s.Enabled, formatBackendConfig(s.BackendConfig))
		}
		return w.Flush()
	},
}

func serverToggleCmd(use, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(nil)
			if err != nil {
				return err
			}
			defer a.Close()

			server, err := a.db.Server(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			server.Enabled = enabled
			if err := a.db.SaveServer(cmd.Context(), *server); err != nil {
				return err
			}
			utils.Log.Infof("Server %s %sd", server.ID, use)
			if !enabled {
				return nil
			}
			// Flush what piled up while the server was disabled.
			res, err := a.tasks.Execute(cmd.Context(), server.ID)
			if err != nil {
				return err
			}
			if res.Attempted > 0 {
				utils.Log.Infof("Executed %d of %d pending tasks", len(res.Executed), res.Attempted)
			}
			return nil
		},
	}
}

// parseBackendConfig reads key=value pairs. Integer and boolean values are
// converted.
func parseBackendConfig(raw []string) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	cfg := make(map[string]any, len(raw))
	for _, r := range raw {
		k, v, ok := strings.Cut(r, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid backend config %q, expected key=value", r)
		}
		if n, err := strconv.Atoi(v); err == nil {
			cfg[k] = n
		} else if b, err := strconv.ParseBool(v); err == nil {
			cfg[k] = b
		} else {
			cfg[k] = v
		}
	}
	return cfg, nil
}

func formatBackendConfig(cfg map[string]any) string {
	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := fmt.Sprint(cfg[k])
		if k == "password" {
			v = "***"
		}
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, " ")
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.AddCommand(serverAddCmd, serverListCmd,
		serverToggleCmd("enable", "Enable a server and run its pending tasks", true),
		serverToggleCmd("disable", "Disable a server; its tasks stay queued", false))

	serverAddCmd.Flags().String("name", "", "Human readable name (defaults to the id)")
	serverAddCmd.Flags().StringP("backend", "b", "null", "Backend: null, httpjson")
	serverAddCmd.Flags().StringSliceP("config", "c", nil, "Backend config as key=value (repeatable), e.g. base_url=http://localhost:9200")
	serverAddCmd.Flags().Bool("disabled", false, "Add the server disabled")
}
