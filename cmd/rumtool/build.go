package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rumindex/rum/common"
	"github.com/rumindex/rum/rum"
)

// csvRowSource streams "key,block,offset" lines as rum.HeapRow, the way
// a host engine's heap scan would stream rows into build().
type csvRowSource struct {
	sc *bufio.Scanner
}

func (s *csvRowSource) Next() (rum.HeapRow, bool, error) {
	for s.sc.Scan() {
		line := strings.TrimSpace(s.sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) != 3 {
			return rum.HeapRow{}, false, fmt.Errorf("rumtool: malformed row %q, want key,block,offset", line)
		}
		key, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return rum.HeapRow{}, false, fmt.Errorf("rumtool: bad key in %q: %w", line, err)
		}
		block, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 32)
		if err != nil {
			return rum.HeapRow{}, false, fmt.Errorf("rumtool: bad block in %q: %w", line, err)
		}
		offset, err := strconv.ParseUint(strings.TrimSpace(parts[2]), 10, 16)
		if err != nil {
			return rum.HeapRow{}, false, fmt.Errorf("rumtool: bad offset in %q: %w", line, err)
		}
		return rum.HeapRow{
			TID:    common.ItemPointer{Block: uint32(block), Offset: uint16(offset)},
			Values: map[string]common.Datum{keyColumn: common.NewInt32Datum(int32(key))},
			Nulls:  map[string]bool{keyColumn: false},
		}, true, nil
	}
	return rum.HeapRow{}, false, s.sc.Err()
}

func newBuildCmd() *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Bulk-build a fresh index from a key,block,offset row file",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := os.Stdin
			if input != "-" && input != "" {
				var err error
				f, err = os.Open(input)
				if err != nil {
					return err
				}
				defer f.Close()
			}
			if err := os.MkdirAll(dataDir, 0755); err != nil {
				return err
			}
			am, res, err := rum.Build(indexConfig(), rumColumns(), rum.Options{}, &csvRowSource{sc: bufio.NewScanner(f)})
			if err != nil {
				return err
			}
			defer am.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "built %d heap tuples into %d index tuples\n", res.HeapTuples, res.IndexTuples)
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "-", "row file (key,block,offset per line); - for stdin")
	return cmd
}
