// Command rumtool is a CLI harness that plays the host engine's role
// against a single-column int4 index -- build, insert, query, vacuum and
// stats, laid out as one cobra command per verb.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rumindex/rum/build"
	"github.com/rumindex/rum/common"
	"github.com/rumindex/rum/opclass"
	"github.com/rumindex/rum/rum"
)

var (
	dataDir  string
	pageSize int
	fuzzy    uint32
)

// keyColumn is the sole indexed column rumtool exercises: a plain int4
// equality/range column.
const keyColumn = "k"

func rumColumns() []rum.ColumnSpec {
	return []rum.ColumnSpec{
		{
			Name: keyColumn,
			Column: build.Column{
				Attnum:  1,
				VTable:  opclass.Int4(),
				KeyAttr: opclass.Int4Attr,
			},
		},
	}
}

func indexConfig() common.IndexConfig {
	cfg := common.DefaultConfig(dataDir)
	cfg.PageSize = pageSize
	cfg.FuzzySearchLimit = fuzzy
	return cfg
}

func openAccessMethod() (*rum.AccessMethod, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}
	return rum.Open(indexConfig(), rumColumns(), rum.Options{})
}

func main() {
	root := &cobra.Command{
		Use:   "rumtool",
		Short: "Drive a single-column RUM index from the command line",
		Long: "rumtool stands in for the host relational engine: it builds, " +
			"inserts into, queries and vacuums a RUM index over a single " +
			"int4 column, the way a psql session driving a real access " +
			"method would.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "./rumtool-data", "index data directory")
	root.PersistentFlags().IntVar(&pageSize, "page-size", common.DefaultPageSize, "page size (BLCKSZ)")
	root.PersistentFlags().Uint32Var(&fuzzy, "fuzzy-limit", 0, "fuzzy_search_limit (0 disables sampling)")

	root.AddCommand(newBuildCmd(), newInsertCmd(), newQueryCmd(), newVacuumCmd(), newStatsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "rumtool:", err)
		os.Exit(1)
	}
}
