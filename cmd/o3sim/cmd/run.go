package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sarchlab/o3sim/isa"
	"github.com/sarchlab/o3sim/sim/timing"
	"github.com/sarchlab/o3sim/system"
)

type simFlags struct {
	maxTicks    uint64
	traceDB     string
	eventLog    string
	monitorPort int
	openBrowser bool
	backtrace   bool
	noStats     bool
}

func (f *simFlags) register(cmd *cobra.Command) {
	cmd.Flags().Uint64Var(&f.maxTicks, "max-ticks", 0,
		"stop after this many ticks, 0 runs to the end")
	cmd.Flags().StringVar(&f.traceDB, "trace-db", "",
		"record tasks and statistics to this SQLite database or clickhouse:// DSN")
	cmd.Flags().StringVar(&f.eventLog, "event-log", "",
		"write every event and port message to this file")
	cmd.Flags().IntVar(&f.monitorPort, "monitor-port", 0,
		"serve the monitoring dashboard on this port")
	cmd.Flags().BoolVar(&f.openBrowser, "open-browser", false,
		"open the monitoring dashboard in a browser")
	cmd.Flags().BoolVar(&f.backtrace, "backtrace", false,
		"print the unfinished tasks when the run ends on a fault")
	cmd.Flags().BoolVar(&f.noStats, "no-stats", false,
		"do not print the statistics")
}

// apply lets the flags that are set override the configuration.
func (f *simFlags) apply(cmd *cobra.Command, cfg *system.Config) {
	if cmd.Flags().Changed("max-ticks") {
		cfg.MaxTicks = f.maxTicks
	}

	if cmd.Flags().Changed("trace-db") {
		cfg.TraceDB = f.traceDB
	}

	if cmd.Flags().Changed("event-log") {
		cfg.EventLog = f.eventLog
	}

	if cmd.Flags().Changed("monitor-port") {
		cfg.MonitorPort = f.monitorPort
	}

	if f.openBrowser {
		cfg.OpenBrowser = true
	}

	if f.backtrace {
		cfg.Backtrace = true
	}
}

var runFlags simFlags

var runCmd = &cobra.Command{
	Use:   "run PROGRAM.s [PROGRAM.s...]",
	Short: "Run programs, one per hardware thread.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		runFlags.apply(cmd, &cfg)

		s, err := buildWithPrograms(cfg, args)
		if err != nil {
			return err
		}
		defer closeSystem(s)

		exit := s.Simulate(timing.VTime(cfg.MaxTicks))
		report(os.Stdout, s, exit, !runFlags.noStats)

		return nil
	},
}

func init() {
	runFlags.register(runCmd)
	rootCmd.AddCommand(runCmd)
}

// buildWithPrograms assembles the programs and builds a system with enough
// hardware threads to run them.
func buildWithPrograms(cfg system.Config, paths []string) (*system.System, error) {
	progs := make([]*isa.Program, 0, len(paths))

	for _, p := range paths {
		prog, err := assembleFile(p)
		if err != nil {
			return nil, err
		}

		progs = append(progs, prog)
	}

	if len(progs) > cfg.CPU.Threads {
		warnf("using %d hardware threads for %d programs", len(progs), len(progs))
		cfg.CPU.Threads = len(progs)
	}

	s, err := system.Build(cfg)
	if err != nil {
		return nil, err
	}

	for i, prog := range progs {
		if err := s.LoadWorkload(0, i, prog); err != nil {
			return nil, fmt.Errorf("%s: %w", paths[i], err)
		}
	}

	if err := s.Instantiate(); err != nil {
		return nil, err
	}

	return s, nil
}

func assembleFile(path string) (*isa.Program, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	prog, err := isa.Assemble(string(src))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return prog, nil
}

func closeSystem(s *system.System) {
	if err := s.Close(); err != nil {
		warnf("closing the trace database: %v", err)
	}
}

// report prints the exit event and, if asked, the statistics.
func report(w io.Writer, s *system.System, exit system.ExitEvent, stats bool) {
	banner := color.New(color.FgGreen, color.Bold)
	if strings.HasPrefix(exit.Cause, "fatal:") {
		banner = color.New(color.FgRed, color.Bold)
	}

	banner.Fprintln(w, exit.String())

	if !stats {
		return
	}

	printStats(w, s.Stats())
}

func printStats(w io.Writer, stats []system.Stat) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	header := color.New(color.FgCyan)

	last := ""
	for _, st := range stats {
		if st.Component != last {
			tw.Flush()
			header.Fprintf(w, "\n%s\n", st.Component)
			last = st.Component
		}

		fmt.Fprintf(tw, "  %s\t%s\n", st.Name, formatValue(st.Value))
	}

	tw.Flush()
}

func formatValue(v float64) string {
	if v == float64(uint64(v)) {
		return fmt.Sprintf("%d", uint64(v))
	}

	return fmt.Sprintf("%.4f", v)
}
