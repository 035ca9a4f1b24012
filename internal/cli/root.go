// Package cli implements the meteo command-line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is reported by --version.
var Version = "dev"

// Global flags
var (
	envName string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "meteo",
	Short:   "Meteo PWA weather service",
	Long:    `Serves the weather app through its offline worker and raises rain and heat alerts for looked-up cities.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envName != "" {
			return os.Setenv("ENV_NAME", envName)
		}
		return nil
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envName, "env", "", "Config environment, reads config/<env>.yaml (default: $ENV_NAME or dev)")
}
