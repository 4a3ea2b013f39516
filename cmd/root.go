package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/http-fetcher/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "http-fetcher",
	Short: "Fetch remote content for the API gateway",
	Long:  "Retrieves the content at a URL with a single bounded HTTP GET, optionally through the system proxy, and serves it to gateway components.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
