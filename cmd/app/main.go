package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgPath string
	devMode bool
)

var rootCmd = &cobra.Command{
	Use:   "invoicing",
	Short: "Payment and subscription lifecycle service",
	Long:  "Runs the gateway-agnostic payment core: webhook intake, retry delivery, lifecycle sweeps and the ops API.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "enable developer mode (relaxed signature checks)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
