package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rumindex/rum/common"
)

func newVacuumCmd() *cobra.Command {
	var deadFile string
	cmd := &cobra.Command{
		Use:   "vacuum",
		Short: "Run bulkdelete+vacuumcleanup against a block,offset dead-tid file",
		RunE: func(cmd *cobra.Command, args []string) error {
			dead, err := readDeadSet(deadFile)
			if err != nil {
				return err
			}
			am, err := openAccessMethod()
			if err != nil {
				return err
			}
			defer am.Close()

			stats, err := am.BulkDelete(func(tid common.ItemPointer) bool {
				_, ok := dead[tid]
				return ok
			})
			if err != nil {
				return err
			}
			final := am.VacuumCleanup()
			fmt.Fprintf(cmd.OutOrStdout(), "vacuum: pages_deleted=%d, total_pages=%d, entries=%d\n",
				stats.PagesDeleted, final.NumTotalPages, final.NumEntries)
			return nil
		},
	}
	cmd.Flags().StringVar(&deadFile, "dead-tids", "-", "block,offset file naming tids the callback reports dead; - for stdin")
	return cmd
}

func readDeadSet(path string) (map[common.ItemPointer]struct{}, error) {
	f := os.Stdin
	if path != "-" && path != "" {
		var err error
		f, err = os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
	}
	dead := map[common.ItemPointer]struct{}{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("rumtool: malformed dead-tid row %q, want block,offset", line)
		}
		block, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("rumtool: bad block in %q: %w", line, err)
		}
		offset, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 16)
		if err != nil {
			return nil, fmt.Errorf("rumtool: bad offset in %q: %w", line, err)
		}
		dead[common.ItemPointer{Block: uint32(block), Offset: uint16(offset)}] = struct{}{}
	}
	return dead, sc.Err()
}
