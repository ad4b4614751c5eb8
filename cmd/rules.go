package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"gateguard/config"
)

var rulesPath string

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage rule sets",
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a rule set file without loading it",
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := config.LoadRuleSet(rulesPath)
		if err != nil {
			return err
		}
		fmt.Printf("rule set %s is valid: %d allowlist, %d ordered rules\n",
			snap.Version, len(snap.Allowlist), len(snap.Ordered))
		for _, r := range snap.Allowlist {
			fmt.Printf("  [allowlist] %s\n", r.ID)
		}
		for _, r := range snap.Ordered {
			fmt.Printf("  [%4d] %-10s %s -> %s\n", r.Priority, r.Kind, r.ID, r.Action)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesValidateCmd)
	rulesCmd.PersistentFlags().StringVarP(&rulesPath, "rules", "r", "config/ruleset.yml", "Rule set file")
}
