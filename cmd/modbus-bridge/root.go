package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/edgeo-scada/modbus-bridge/internal/config"
)

var (
	cfgFile   string
	outputFmt string
	noColor   bool
	verbose   bool

	v      = config.New()
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "modbus-bridge",
	Short: "Single-client Modbus TCP server for register maps",
	Long: `modbus-bridge serves a register map over Modbus TCP to one client at a time.

It answers Read Holding Registers (FC03), Read Input Registers (FC04) and
Write Single Register (FC06). Holding register writes can be persisted to a
SQLite database and replayed on startup.

Examples:
  # Serve a register map on port 1502
  modbus-bridge serve --listen :1502 --registers plant.yaml

  # Persist writes and expose metrics
  modbus-bridge serve --registers plant.yaml --store state.db --admin :9102

  # Read 10 holding registers from a running bridge
  modbus-bridge read hr -a 0 -c 10 -H 127.0.0.1 -p 1502

  # Check a register map
  modbus-bridge registers check plant.yaml`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			v.Set("log.level", "debug")
		}
		c, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		cfg = c
		logger = cfg.Log.NewLogger(os.Stderr)
		slog.SetDefault(logger)

		if cfgFile != "" {
			logger.Debug("using config file", slog.String("path", cfgFile))
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format: text, json")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (same as --log-level debug)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, csv, hex, raw")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable color output")

	mustBind("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	mustBind("log.format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(registersCmd)
}

// mustBind binds a flag to a config key. It only fails on a nil flag.
func mustBind(key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind %s: %v", key, err))
	}
}
