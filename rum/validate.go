package rum

import (
	"github.com/pkg/errors"

	"github.com/rumindex/rum/common"
)

// Validate is the access method's validate(opclass) entry point: it checks
// that every column's opclass supplies its four mandatory functions,
// returning a ConfigConflict instead of a bare bool so a caller can
// report which column and function is missing.
func Validate(cols []ColumnSpec) error {
	for _, c := range cols {
		v := c.VTable
		switch {
		case v.Compare == nil:
			return errors.Wrapf(common.ErrConfigConflict, "rum: column %q opclass missing compare", c.Name)
		case v.ExtractValue == nil:
			return errors.Wrapf(common.ErrConfigConflict, "rum: column %q opclass missing extractValue", c.Name)
		case v.ExtractQuery == nil:
			return errors.Wrapf(common.ErrConfigConflict, "rum: column %q opclass missing extractQuery", c.Name)
		case v.Consistent == nil:
			return errors.Wrapf(common.ErrConfigConflict, "rum: column %q opclass missing consistent", c.Name)
		}
	}
	return nil
}
