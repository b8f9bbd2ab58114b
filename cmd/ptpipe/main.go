// Command ptpipe is the capture-session entrypoint: it loads a YAML
// session configuration and either starts a live capture against a PT
// AUX perf event (run) or replays a raw AUX dump through the same
// decode/write pipeline (decode). Grounded on the teacher's
// agent/*/main.go and controlplane/cmd/*/main.go cobra wiring shape: a
// package-level rootCmd, subcommands registered in init, --config
// required via MarkFlagRequired.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ptpipe/ptpipe/common/go/logging"
	"github.com/ptpipe/ptpipe/common/go/xcmd"
	"github.com/ptpipe/ptpipe/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "ptpipe",
	Short: "Intel PT trace-capture pipeline",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a live capture session",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, logger, sync, err := loadSession()
		if err != nil {
			return err
		}
		defer sync()

		return runLive(cfg, logger)
	},
}

var inputPath string

var decodeCmd = &cobra.Command{
	Use:   "decode",
	Short: "Decode a raw AUX dump file through the capture pipeline",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, logger, sync, err := loadSession()
		if err != nil {
			return err
		}
		defer sync()

		return runDecode(cfg, inputPath, logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the session configuration file")
	rootCmd.MarkPersistentFlagRequired("config")

	decodeCmd.Flags().StringVarP(&inputPath, "input", "i", "", "path to the raw AUX dump file")
	decodeCmd.MarkFlagRequired("input")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(decodeCmd)
}

func loadSession() (config.Config, *zap.SugaredLogger, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, nil, err
	}

	logger, _, err := logging.Init(&logging.Config{Level: cfg.LogLevel})
	if err != nil {
		return config.Config{}, nil, nil, fmt.Errorf("initializing logging: %w", err)
	}

	return cfg, logger, func() { _ = logger.Sync() }, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, xcmd.Interrupted{}) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}
