package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/rumindex/rum/common"
	"github.com/rumindex/rum/opclass"
	"github.com/rumindex/rum/rum"
)

var strategyByName = map[string]opclass.Strategy{
	"lt": opclass.Int4Lt,
	"le": opclass.Int4Le,
	"eq": opclass.Int4Eq,
	"ge": opclass.Int4Ge,
	"gt": opclass.Int4Gt,
}

// strategyFlag is a pflag.Value so an unrecognised --strategy is rejected
// at flag-parse time rather than deep inside RunE.
type strategyFlag struct {
	name     string
	strategy opclass.Strategy
}

func (f *strategyFlag) String() string { return f.name }
func (f *strategyFlag) Type() string   { return "strategy" }
func (f *strategyFlag) Set(s string) error {
	strategy, ok := strategyByName[s]
	if !ok {
		return fmt.Errorf("unknown strategy %q (want lt|le|eq|ge|gt)", s)
	}
	f.name, f.strategy = s, strategy
	return nil
}

var _ pflag.Value = (*strategyFlag)(nil)

func newQueryCmd() *cobra.Command {
	strategyVal := strategyFlag{name: "eq", strategy: opclass.Int4Eq}
	var value int
	var orderBy bool
	var workMem int64
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a scan key against the index",
		RunE: func(cmd *cobra.Command, args []string) error {
			strategy := strategyVal.strategy
			am, err := openAccessMethod()
			if err != nil {
				return err
			}
			defer am.Close()

			s := am.BeginScan()
			defer s.End()
			if err := s.Rescan(rum.ScanKeyArgs{
				Column:      keyColumn,
				Strategy:    strategy,
				Query:       common.NewInt32Datum(int32(value)),
				Direction:   rum.Forward,
				WantOrdered: orderBy,
			}); err != nil {
				return err
			}

			if orderBy {
				tmpDir, err := os.MkdirTemp("", "rumtool-sort-*")
				if err != nil {
					return err
				}
				defer os.RemoveAll(tmpDir)
				it, err := s.OrderBy(strategy, common.NewInt32Datum(int32(value)), workMem, tmpDir)
				if err != nil {
					return err
				}
				defer it.Close()
				for {
					item, ok, err := it.Next()
					if err != nil {
						return err
					}
					if !ok {
						break
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s recheck=%t dist=%v\n", item.TID, item.Recheck, item.Distances)
				}
				return nil
			}

			for {
				res, ok, err := s.GetTuple()
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s recheck=%t\n", res.TID, res.Recheck)
			}
			return nil
		},
	}
	cmd.Flags().Var(&strategyVal, "strategy", "lt|le|eq|ge|gt")
	cmd.Flags().IntVar(&value, "value", 0, "query int4 value")
	cmd.Flags().BoolVar(&orderBy, "order-by", false, "stream results ascending by distance instead of natural order")
	cmd.Flags().Int64Var(&workMem, "work-mem", common.DefaultWorkMem, "external sort in-memory budget, bytes")
	return cmd
}
