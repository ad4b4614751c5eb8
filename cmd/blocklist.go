package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"gateguard/blocklist"
	"gateguard/types"
)

var (
	blDBPath string
	blKey    string
	blReason string
	blTTL    time.Duration
)

var blocklistCmd = &cobra.Command{
	Use:   "blocklist",
	Short: "Inspect and edit the persistent blocklist",
}

var blocklistListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live block entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		bl, err := blocklist.NewBoltBlocklist(blDBPath, 0)
		if err != nil {
			return err
		}
		defer bl.Close()

		entries := bl.Entries(context.Background())
		if len(entries) == 0 {
			fmt.Println("blocklist is empty")
			return nil
		}
		for _, e := range entries {
			fmt.Printf("%-40s rule=%-24s expires=%s\n", e.Key, e.Reason, e.ExpiresAt.Format(time.RFC3339))
		}
		return nil
	},
}

var blocklistAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Block a key manually",
	RunE: func(cmd *cobra.Command, args []string) error {
		if blKey == "" {
			return fmt.Errorf("--key is required")
		}
		bl, err := blocklist.NewBoltBlocklist(blDBPath, 0)
		if err != nil {
			return err
		}
		defer bl.Close()

		reason := blReason
		if reason == "" {
			reason = "manual-block"
		}
		entry := types.BlockEntry{
			Key:       blKey,
			Reason:    reason,
			ExpiresAt: time.Now().Add(blTTL),
		}
		if err := bl.Block(context.Background(), entry); err != nil {
			return err
		}
		fmt.Printf("blocked %s until %s\n", blKey, entry.ExpiresAt.Format(time.RFC3339))
		return nil
	},
}

var blocklistRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Unblock a key ahead of its expiry",
	RunE: func(cmd *cobra.Command, args []string) error {
		if blKey == "" {
			return fmt.Errorf("--key is required")
		}
		bl, err := blocklist.NewBoltBlocklist(blDBPath, 0)
		if err != nil {
			return err
		}
		defer bl.Close()

		if err := bl.Remove(context.Background(), blKey); err != nil {
			return err
		}
		fmt.Printf("removed %s\n", blKey)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(blocklistCmd)
	blocklistCmd.AddCommand(blocklistListCmd, blocklistAddCmd, blocklistRemoveCmd)
	blocklistCmd.PersistentFlags().StringVar(&blDBPath, "db", "gateguard-blocklist.db", "Blocklist database file")
	blocklistCmd.PersistentFlags().StringVar(&blKey, "key", "", "Key (usually an IP) to operate on")
	blocklistAddCmd.Flags().StringVar(&blReason, "reason", "", "Reason recorded on the entry")
	blocklistAddCmd.Flags().DurationVar(&blTTL, "ttl", 2*time.Hour, "Block duration")
}
