// Package cmd provides the command-line interface of o3sim.
package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/o3sim/system"
)

var rootCmd = &cobra.Command{
	Use:   "o3sim",
	Short: "o3sim simulates programs on an out-of-order CPU system.",
	Long: `o3sim assembles a system of an out-of-order CPU, L1 and L2 caches, ` +
		`crossbars, an interrupt controller, and a memory controller, and ` +
		`runs assembly programs on it.`,
	SilenceUsage: true,
}

var (
	configPath string
	errColor   = color.New(color.FgRed, color.Bold)
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"YAML file that overrides the default configuration")
}

// Execute runs the command named on the command line.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		errColor.Fprintln(os.Stderr, err)
		atexit.Exit(1)
	}

	atexit.Exit(0)
}

// loadConfig reads the configuration file, if any, and applies the
// environment overrides.
func loadConfig() (system.Config, error) {
	cfg := system.DefaultConfig()

	if configPath != "" {
		var err error

		cfg, err = system.LoadConfigFile(configPath)
		if err != nil {
			return cfg, err
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func warnf(format string, args ...any) {
	color.New(color.FgYellow).Fprintf(os.Stderr, format, args...)
	fmt.Fprintln(os.Stderr)
}
