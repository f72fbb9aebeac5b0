package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"avaneesh/shotxfer/pkg/config"
	"avaneesh/shotxfer/pkg/shotxfer"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "shotxfer",
	Short: "Request and deliver screenshots over a signaling channel",
	Long: `shotxfer moves screenshot payloads between peers over a bounded-size
message channel (UDP, TCP or QUIC), splitting large payloads into fragments
and reassembling them on the receiving side.

Configuration is read from --config (YAML, TOML or JSON) and SHOTXFER_*
environment variables, e.g. SHOTXFER_NODE_ID or SHOTXFER_TRANSPORT_ADDRESS.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the node configuration file")
	rootCmd.AddCommand(serveCmd, requestCmd)
}

// Execute executes root CLI command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the node configuration and applies its log level
func loadConfig() (*config.NodeConfig, shotxfer.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	level := shotxfer.LogLevel(cfg.LogLevel())
	shotxfer.SetLogLevel(level)
	return cfg, shotxfer.NewLogger(cfg.Node.ID, level), nil
}
