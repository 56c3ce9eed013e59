package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is set at build time.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "nicept-helper",
	Short: "NicePT private tracker automation",
	Long: `nicept-helper watches a NexusPHP tracker for promoted torrents and
dispatches them to qBittorrent or Transmission. It tracks H&R obligations,
removes torrents whose promotion ended, keeps disk usage below a threshold
and serves a JSON API for configuration.`,
	SilenceUsage: true,
	Version:      Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config-dir", "", "directory holding the database (env CONFIG_DIR)")
	flags.String("port", "", "HTTP listen port (env SERVER_PORT)")
	flags.String("log-level", "", "log level: debug, info, warn, error (env LOG_LEVEL)")
	flags.String("log-format", "", "log format: text or json (env LOG_FORMAT)")
	flags.Bool("tracing", false, "log job spans (env TRACING_ENABLED)")

	bind := map[string]string{
		"CONFIG_DIR":      "config-dir",
		"SERVER_PORT":     "port",
		"LOG_LEVEL":       "log-level",
		"LOG_FORMAT":      "log-format",
		"TRACING_ENABLED": "tracing",
	}
	for key, flag := range bind {
		_ = viper.BindPFlag(key, flags.Lookup(flag))
	}

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the HTTP API (default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
