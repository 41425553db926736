package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var envFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "inventory",
	Short:         "Warehouse rack inventory service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "path to a dotenv file with configuration overrides")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)

	racksCmd.AddCommand(racksImportCmd)
	racksCmd.AddCommand(racksListCmd)
	rootCmd.AddCommand(racksCmd)
}
