package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rumindex/rum/common"
)

func newInsertCmd() *cobra.Command {
	var key int
	var block, offset uint32
	cmd := &cobra.Command{
		Use:   "insert",
		Short: "Insert a single (key, tid) occurrence into an existing index",
		RunE: func(cmd *cobra.Command, args []string) error {
			am, err := openAccessMethod()
			if err != nil {
				return err
			}
			defer am.Close()
			tid := common.ItemPointer{Block: block, Offset: uint16(offset)}
			_, err = am.Insert(tid, map[string]common.Datum{keyColumn: common.NewInt32Datum(int32(key))}, map[string]bool{keyColumn: false})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "inserted key=%d tid=%s\n", key, tid)
			return nil
		},
	}
	cmd.Flags().IntVar(&key, "key", 0, "indexed int4 value")
	cmd.Flags().Uint32Var(&block, "block", 0, "heap block number")
	cmd.Flags().Uint32Var(&offset, "offset", 1, "heap line offset")
	return cmd
}
