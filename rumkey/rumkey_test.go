package rumkey

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rumindex/rum/common"
)

func ip(b uint32, o uint16) common.ItemPointer { return common.ItemPointer{Block: b, Offset: o} }

func TestCompareNaturalOrder(t *testing.T) {
	a := RumKey{IPtr: ip(1, 1)}
	b := RumKey{IPtr: ip(1, 2)}
	require.True(t, Compare(a, b, false, nil, Forward) < 0)
	require.True(t, Compare(b, a, false, nil, Forward) > 0)
	require.Equal(t, 0, Compare(a, a, false, nil, Forward))
}

func TestCompareBackwardNegatesSign(t *testing.T) {
	a := RumKey{IPtr: ip(1, 1)}
	b := RumKey{IPtr: ip(1, 2)}
	require.True(t, Compare(a, b, false, nil, Backward) > 0)
}

func intCmp(a, b common.Datum) int {
	x, y := a.Int32(), b.Int32()
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

func TestCompareAltOrderNullsLast(t *testing.T) {
	a := RumKey{IPtr: ip(1, 1), AddInfoIsNull: true}
	b := RumKey{IPtr: ip(1, 2), AddInfoIsNull: false, AddInfo: common.NewInt32Datum(5)}
	require.True(t, Compare(a, b, true, intCmp, Forward) > 0, "null addInfo sorts after non-null")
}

func TestCompareAltOrderByAddInfoThenIptr(t *testing.T) {
	a := RumKey{IPtr: ip(2, 1), AddInfo: common.NewInt32Datum(10)}
	b := RumKey{IPtr: ip(1, 1), AddInfo: common.NewInt32Datum(20)}
	require.True(t, Compare(a, b, true, intCmp, Forward) < 0)

	c := RumKey{IPtr: ip(5, 1), AddInfo: common.NewInt32Datum(10)}
	d := RumKey{IPtr: ip(1, 1), AddInfo: common.NewInt32Datum(10)}
	require.True(t, Compare(c, d, true, intCmp, Forward) > 0, "tie on addInfo falls back to iptr")
}
