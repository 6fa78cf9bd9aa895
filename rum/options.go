package rum

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/rumindex/rum/common"
	"github.com/rumindex/rum/rumkey"
)

// Options is the parsed, validated form of the access method's
// options(relopts, validate) reloptions: {attach, to, order_by_attach}.
type Options struct {
	// Attach names the column whose value is attached as every other
	// indexed occurrence's addInfo.
	Attach string
	// To names the column the attach value augments -- the column whose
	// posting entries actually carry the attached addInfo.
	To string
	// OrderByAttach enables alt-order posting-tree storage, sorting
	// postings by addInfo first so ORDER BY on the attach column needs no
	// external sort.
	OrderByAttach bool
}

// ParseOptions translates the host engine's raw reloption strings into
// Options. The host's own reloption storage/GUC machinery is
// out of scope; this is only the recognised-keys parse and
// its ConfigConflict validation.
func ParseOptions(raw map[string]string, cols []ColumnSpec) (Options, error) {
	opts := Options{Attach: raw["attach"], To: raw["to"]}
	if v, ok := raw["order_by_attach"]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Options{}, errors.Wrap(err, "rum: order_by_attach must be a bool")
		}
		opts.OrderByAttach = b
	}
	if err := opts.validateAgainst(cols); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// validateAgainst implements the ConfigConflict cases the reloption surface
// attributes to options(): an attach column that isn't indexed, an attach
// column that addInfo is requested on for itself, and order_by_attach set
// without both attach and to.
func (o Options) validateAgainst(cols []ColumnSpec) error {
	if o.Attach == "" {
		if o.OrderByAttach {
			return errors.Wrap(common.ErrConfigConflict, "rum: order_by_attach requires an attach column")
		}
		return nil
	}
	if o.Attach == o.To {
		return errors.Wrap(common.ErrConfigConflict, "rum: attach column cannot augment itself")
	}
	if o.OrderByAttach && o.To == "" {
		return errors.Wrap(common.ErrConfigConflict, "rum: order_by_attach requires a to column")
	}

	var attachCol *ColumnSpec
	var toFound bool
	for i := range cols {
		switch cols[i].Name {
		case o.Attach:
			attachCol = &cols[i]
		case o.To:
			toFound = true
		}
	}
	if attachCol == nil {
		return errors.Wrapf(common.ErrConfigConflict, "rum: attach column %q not indexed", o.Attach)
	}
	if o.To != "" && !toFound {
		return errors.Wrapf(common.ErrConfigConflict, "rum: to column %q not indexed", o.To)
	}
	if attachCol.VTable.Compare == nil {
		return errors.Wrap(common.ErrConfigConflict, "rum: attach column's opclass has no compare function")
	}
	return nil
}

// addInfoConfig derives the index-wide posting-tree addInfo type and
// comparator: the attach column's on-disk attribute descriptor and
// Compare function when an attach column is configured.
func (o Options) addInfoConfig(cols []ColumnSpec) (common.AttrDesc, rumkey.CompareAddInfo, error) {
	if o.Attach == "" {
		return common.AttrDesc{}, nil, nil
	}
	for _, c := range cols {
		if c.Name != o.Attach {
			continue
		}
		attr := c.KeyAttr
		attr.AddInfo = true
		cmp := c.VTable.Compare
		return attr, func(a, b common.Datum) int { return cmp(a, b) }, nil
	}
	return common.AttrDesc{}, nil, errors.Wrapf(common.ErrConfigConflict, "rum: attach column %q not indexed", o.Attach)
}
