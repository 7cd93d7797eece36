package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sarchlab/o3sim/sim/timing"
	"github.com/sarchlab/o3sim/system"
)

var (
	checkpointFlags simFlags
	checkpointAt    uint64
	checkpointOut   string
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint PROGRAM.s [PROGRAM.s...]",
	Short: "Run programs for a while, drain the system, and save its state.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if checkpointAt == 0 {
			return errors.New("--at must be positive")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		checkpointFlags.apply(cmd, &cfg)

		s, err := buildWithPrograms(cfg, args)
		if err != nil {
			return err
		}
		defer closeSystem(s)

		exit := s.Simulate(timing.VTime(checkpointAt))
		report(os.Stdout, s, exit, !checkpointFlags.noStats)

		if exit.Cause != system.CauseLimitReached {
			return fmt.Errorf("the run ended before tick %d", checkpointAt)
		}

		if err := s.Drain(); err != nil {
			return err
		}

		return writeCheckpoint(s, checkpointOut)
	},
}

func writeCheckpoint(s *system.System, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := s.Checkpoint(f); err != nil {
		f.Close()
		return err
	}

	if err := f.Close(); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Checkpoint written to %s\n", path)

	return nil
}

var (
	restoreFlags simFlags
)

var restoreCmd = &cobra.Command{
	Use:   "restore CHECKPOINT",
	Short: "Continue a run from a checkpoint.",
	Long: "Continue a run from a checkpoint. The configuration must be the " +
		"one the checkpoint was taken with.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		restoreFlags.apply(cmd, &cfg)

		s, err := system.Build(cfg)
		if err != nil {
			return err
		}
		defer closeSystem(s)

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		if err := s.Restore(f); err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}

		exit := s.Simulate(timing.VTime(cfg.MaxTicks))
		report(os.Stdout, s, exit, !restoreFlags.noStats)

		return nil
	},
}

func init() {
	checkpointFlags.register(checkpointCmd)
	checkpointCmd.Flags().Uint64Var(&checkpointAt, "at", 0,
		"tick at which the checkpoint is taken")
	checkpointCmd.Flags().StringVarP(&checkpointOut, "output", "o",
		"o3sim.ckpt", "file to write the checkpoint to")
	rootCmd.AddCommand(checkpointCmd)

	restoreFlags.register(restoreCmd)
	rootCmd.AddCommand(restoreCmd)
}
