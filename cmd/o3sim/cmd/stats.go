package cmd

import (
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/sarchlab/o3sim/datarecording"
	"github.com/sarchlab/o3sim/system"
)

var statsComponent string

var statsCmd = &cobra.Command{
	Use:   "stats TRACE.sqlite3",
	Short: "Print the statistics stored in a trace database.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reader, err := datarecording.NewReader(args[0])
		if err != nil {
			return err
		}
		defer reader.Close()

		tables, err := reader.StoredTables(cmd.Context())
		if err != nil {
			return err
		}

		if !slices.Contains(tables, "stats") {
			return fmt.Errorf("%s has no stats table, tables: %v",
				args[0], tables)
		}

		reader.MapTable("stats", system.Stat{})

		params := datarecording.QueryParams{OrderBy: "rowid"}
		if statsComponent != "" {
			params.Where = "Component = ?"
			params.Args = []any{statsComponent}
		}

		rows, _, err := reader.Query(cmd.Context(), "stats", params)
		if err != nil {
			return err
		}

		stats := make([]system.Stat, 0, len(rows))
		for _, r := range rows {
			stats = append(stats, *r.(*system.Stat))
		}

		printStats(os.Stdout, stats)

		return nil
	},
}

func init() {
	statsCmd.Flags().StringVar(&statsComponent, "component", "",
		"only print the statistics of this component")
	rootCmd.AddCommand(statsCmd)
}
