package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/sw33tLie/searchtrack/internal/utils"
	"github.com/sw33tLie/searchtrack/pkg/query"
	"github.com/sw33tLie/searchtrack/pkg/query/access"
)

// queryCmd represents the query command
var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Build access-restricted search conditions",
}

var queryExplainCmd = &cobra.Command{
	Use:   "explain <index>",
	Short: "Print the access conditions built for an account",
	Long: `Print the access conditions built for an account on an index.

Accounts are read from the "accounts" list of the config file, e.g.

  accounts:
    - id: 2
      name: jane
      permissions: ["view own unpublished content"]
      groups: [10, 12]
  current_account: 2

With --items, the conditions are evaluated against a JSON array of items
(objects of field values) and the matching items are printed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, _ := cmd.Flags().GetInt64("account")
		bypass, _ := cmd.Flags().GetBool("bypass")
		itemsPath, _ := cmd.Flags().GetString("items")

		var accounts []query.Account
		if err := viper.UnmarshalKey("accounts", &accounts); err != nil {
			return fmt.Errorf("reading accounts: %w", err)
		}
		resolver := &query.StaticAccounts{Accounts: map[int64]*query.Account{}, Current: viper.GetInt64("current_account")}
		for i := range accounts {
			resolver.Accounts[accounts[i].ID] = &accounts[i]
		}

		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		idx, err := a.db.Index(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		q := query.New(idx)
		if cmd.Flags().Changed("account") {
			q.SetOption(query.OptionAccessAccount, accountID)
		}
		if bypass {
			q.SetOption(query.OptionBypassAccess, true)
		}
		tagger := query.NewTagger(resolver, utils.Log, access.NewDispatcher(utils.Log, access.Defaults()...))
		tagger.Process(cmd.Context(), q)

		if q.Aborted() {
			fmt.Printf("Query aborted: %v\n", q.AbortReason())
		} else {
			fmt.Println(q.ConditionGroup())
		}

		if itemsPath == "" {
			return nil
		}
		raw, err := os.ReadFile(itemsPath)
		if err != nil {
			return err
		}
		var items []query.Item
		if err := json.Unmarshal(raw, &items); err != nil {
			return fmt.Errorf("parsing %s: %w", itemsPath, err)
		}
		matched := q.Filter(items)
		out, err := json.MarshalIndent(matched, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		utils.Log.Infof("%d of %d items visible", len(matched), len(items))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.AddCommand(queryExplainCmd)

	queryExplainCmd.Flags().Int64P("account", "a", 0, "Account id (defaults to current_account)")
	queryExplainCmd.Flags().Bool("bypass", false, "Bypass access checks")
	queryExplainCmd.Flags().String("items", "", "JSON file with items to filter")
}
