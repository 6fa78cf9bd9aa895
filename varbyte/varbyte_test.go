package varbyte

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rumindex/rum/common"
	"github.com/rumindex/rum/rumkey"
)

var int4Attr = common.AttrDesc{TypLen: common.TypLen4, ByVal: true, Align: 4}
var textAttr = common.AttrDesc{TypLen: common.TypLenVarlena, ByVal: false, Align: 1}

func TestOffsetRoundTripAcrossTerminatorBoundary(t *testing.T) {
	for _, off := range []uint16{0, 1, 63, 64, 65, 127, 128, 200, 0x3FFF, common.MaxValidOffset} {
		for _, null := range []bool{false, true} {
			buf := make([]byte, 8)
			n := encodeOffset(buf, off, null)
			require.Equal(t, sizeOffset(off), n)
			got, gotNull, n2, err := decodeOffset(buf)
			require.NoError(t, err)
			require.Equal(t, n, n2)
			require.Equal(t, off, got)
			require.Equal(t, null, gotNull)
		}
	}
}

func TestEncodeNaturalRoundTrip(t *testing.T) {
	key := rumkey.RumKey{
		IPtr:          common.ItemPointer{Block: 105, Offset: 3},
		AddInfoIsNull: false,
		AddInfo:       common.NewInt32Datum(42),
	}
	prevBlk := uint32(100)
	size := SizeNatural(0, prevBlk, key, int4Attr)
	buf := make([]byte, size)
	n := EncodeNatural(buf, 0, prevBlk, key, int4Attr)
	require.Equal(t, size, n)

	got, n2, err := DecodeNatural(buf, 0, prevBlk, int4Attr)
	require.NoError(t, err)
	require.Equal(t, n, n2)
	require.Equal(t, key.IPtr, got.IPtr)
	require.False(t, got.AddInfoIsNull)
	require.Equal(t, int32(42), got.AddInfo.Int32())
}

func TestEncodeNaturalNullAddInfoSkipsPayload(t *testing.T) {
	key := rumkey.RumKey{
		IPtr:          common.ItemPointer{Block: 100, Offset: 1},
		AddInfoIsNull: true,
	}
	size := SizeNatural(0, 100, key, int4Attr)
	buf := make([]byte, size)
	n := EncodeNatural(buf, 0, 100, key, int4Attr)
	require.Equal(t, size, n)

	got, _, err := DecodeNatural(buf, 0, 100, int4Attr)
	require.NoError(t, err)
	require.True(t, got.AddInfoIsNull)
}

func TestEncodeNaturalVarlenaAddInfo(t *testing.T) {
	key := rumkey.RumKey{
		IPtr:    common.ItemPointer{Block: 7, Offset: 2},
		AddInfo: common.NewBytesDatum([]byte("hello world")),
	}
	size := SizeNatural(0, 0, key, textAttr)
	buf := make([]byte, size)
	n := EncodeNatural(buf, 0, 0, key, textAttr)
	require.Equal(t, size, n)

	got, n2, err := DecodeNatural(buf, 0, 0, textAttr)
	require.NoError(t, err)
	require.Equal(t, n, n2)
	require.Equal(t, []byte("hello world"), got.AddInfo.Bytes())
}

func TestEncodeNaturalMultipleKeysStream(t *testing.T) {
	keys := []rumkey.RumKey{
		{IPtr: common.ItemPointer{Block: 10, Offset: 1}, AddInfo: common.NewInt32Datum(1)},
		{IPtr: common.ItemPointer{Block: 10, Offset: 5}, AddInfo: common.NewInt32Datum(2)},
		{IPtr: common.ItemPointer{Block: 12, Offset: 1}, AddInfoIsNull: true},
		{IPtr: common.ItemPointer{Block: 300, Offset: 9}, AddInfo: common.NewInt32Datum(4)},
	}

	var stream []byte
	prevBlk := uint32(0)
	var sizes []int
	for _, k := range keys {
		pos := len(stream)
		sz := SizeNatural(pos, prevBlk, k, int4Attr)
		buf := make([]byte, sz)
		n := EncodeNatural(buf, pos, prevBlk, k, int4Attr)
		require.Equal(t, sz, n)
		stream = append(stream, buf...)
		sizes = append(sizes, sz)
		prevBlk = k.IPtr.Block
	}

	prevBlk = 0
	pos := 0
	for i, want := range keys {
		got, n, err := DecodeNatural(stream[pos:], pos, prevBlk, int4Attr)
		require.NoError(t, err)
		require.Equal(t, sizes[i], n)
		require.Equal(t, want.IPtr, got.IPtr)
		require.Equal(t, want.AddInfoIsNull, got.AddInfoIsNull)
		if !want.AddInfoIsNull {
			require.Equal(t, want.AddInfo.Int32(), got.AddInfo.Int32())
		}
		pos += n
		prevBlk = want.IPtr.Block
	}
}

func TestEncodeAltRoundTrip(t *testing.T) {
	key := rumkey.RumKey{
		IPtr:    common.ItemPointer{Block: 88, Offset: 17},
		AddInfo: common.NewInt32Datum(123),
	}
	size := SizeAlt(0, key, int4Attr)
	buf := make([]byte, size)
	n := EncodeAlt(buf, 0, key, int4Attr)
	require.Equal(t, size, n)

	got, n2, err := DecodeAlt(buf, 0, int4Attr)
	require.NoError(t, err)
	require.Equal(t, n, n2)
	require.Equal(t, key.IPtr, got.IPtr)
	require.Equal(t, int32(123), got.AddInfo.Int32())
}

func TestEncodeAltNullAddInfoFlagInOffsetHighBit(t *testing.T) {
	key := rumkey.RumKey{
		IPtr:          common.ItemPointer{Block: 1, Offset: 9},
		AddInfoIsNull: true,
	}
	buf := make([]byte, SizeAlt(0, key, int4Attr))
	EncodeAlt(buf, 0, key, int4Attr)

	got, _, err := DecodeAlt(buf, 0, int4Attr)
	require.NoError(t, err)
	require.True(t, got.AddInfoIsNull)
	require.Equal(t, key.IPtr, got.IPtr)
}

func TestEncodeAltPanicsOnInvalidOffset(t *testing.T) {
	key := rumkey.RumKey{
		IPtr: common.ItemPointer{Block: 1, Offset: common.AltOrderNullFlag},
	}
	buf := make([]byte, 16)
	require.Panics(t, func() { EncodeAlt(buf, 0, key, int4Attr) })
}

func TestEncodeNaturalPanicsOnInvalidOffset(t *testing.T) {
	key := rumkey.RumKey{
		IPtr: common.ItemPointer{Block: 1, Offset: common.AltOrderNullFlag | 1},
	}
	buf := make([]byte, 16)
	require.Panics(t, func() { EncodeNatural(buf, 0, 0, key, int4Attr) })
}
