package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"gateguard/logx"
)

var rootCmd = &cobra.Command{
	Use:   "gateguard",
	Short: "gateguard admission-control gateway CLI",
	Long:  "Command line interface for running and managing the gateguard request admission and abuse-mitigation gateway.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logx.Error("CMD", "Command execution failed:", err)
		os.Exit(1)
	}
}
