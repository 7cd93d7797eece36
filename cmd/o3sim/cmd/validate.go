package cmd

import (
	"errors"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var dumpConfig bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a configuration and show every problem in it.",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if dumpConfig {
			if err := cfg.WriteYAML(os.Stdout); err != nil {
				return err
			}
		}

		if err := cfg.Validate(); err != nil {
			var joined interface{ Unwrap() []error }
			if errors.As(err, &joined) {
				for _, e := range joined.Unwrap() {
					errColor.Fprintln(os.Stderr, e)
				}

				return errors.New("the configuration is invalid")
			}

			return err
		}

		color.New(color.FgGreen).Fprintln(os.Stderr, "configuration is valid")

		return nil
	},
}

func init() {
	validateCmd.Flags().BoolVar(&dumpConfig, "dump", false,
		"print the effective configuration as YAML")
	rootCmd.AddCommand(validateCmd)
}
