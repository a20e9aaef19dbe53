package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile string
	debug      bool
	version    = "dev"
	commit     = "unknown"
	date       = "unknown"
)

var rootCmd = &cobra.Command{
	Use:           "wagate",
	Short:         "Multi-session WhatsApp gateway",
	Long:          `wagate keeps many WhatsApp Web sessions connected, forwards inbound traffic to per-session webhooks and exposes an admin HTTP API.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default wagate.yml or /etc/wagate.yml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	rootCmd.AddCommand(serveCmd, migrateCmd, pairCmd, versionCmd)
	// bare "wagate" serves
	rootCmd.RunE = serveCmd.RunE
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(rootCmd.Version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
