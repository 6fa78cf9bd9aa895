package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the metapage counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			am, err := openAccessMethod()
			if err != nil {
				return err
			}
			defer am.Close()
			s := am.VacuumCleanup()
			fmt.Fprintf(cmd.OutOrStdout(), "version=%#x total_pages=%d entry_pages=%d data_pages=%d entries=%d build_heap_tuples=%d build_index_tuples=%d vacuum_pages_deleted=%d\n",
				s.Version, s.NumTotalPages, s.NumEntryPages, s.NumDataPages, s.NumEntries,
				s.BuildHeapTuples, s.BuildIndexTuples, s.VacuumPagesDeleted)
			return nil
		},
	}
}
