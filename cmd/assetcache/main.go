package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfg     *config
	envErr  error
	rootCmd = &cobra.Command{
		Use:           "assetcache [command]",
		Short:         "Offline asset cache for the Busting Bias game",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envErr != nil {
				return envErr
			}
			return cfg.validate()
		},
	}
)

func init() {
	cfg, envErr = loadEnv()
	if cfg == nil {
		cfg = &config{}
	}
	cfg.bindFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(bucketsCmd)
	rootCmd.AddCommand(clearCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error! %s\n", err)
		os.Exit(1)
	}
}
