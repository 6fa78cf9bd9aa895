// Package varbyte implements RUM's posting-tree leaf-data codec: varbyte
// block-increment encoding of RumKey occurrences plus conditional addInfo
// serialization. Each occurrence is a block delta against its
// predecessor, then the offset with a 6-bit terminator byte whose 0x40
// bit carries addInfoIsNull, then (when non-null) the addInfo payload;
// alt-order storage instead writes the ItemPointer raw and steals the
// offset's high bit for the null flag.
package varbyte

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/rumindex/rum/common"
	"github.com/rumindex/rum/rumkey"
)

var ErrTruncated = errors.New("varbyte: truncated stream")

// SizeValue, EncodeValue and DecodeValue expose the same by-value/
// varlena attribute encoding addInfo uses, for callers that serialize a
// standalone attribute value with no running alignment offset to track --
// entry's key encoding reuses it rather than duplicating the
// by-value/varlena switch.
func SizeValue(d common.Datum, attr common.AttrDesc) int {
	return sizeAddInfo(0, d, attr)
}

func EncodeValue(buf []byte, d common.Datum, attr common.AttrDesc) int {
	return encodeAddInfo(buf, 0, d, attr)
}

func DecodeValue(buf []byte, attr common.AttrDesc) (common.Datum, int, error) {
	return decodeAddInfo(buf, 0, attr)
}

// --- offset (6-bit terminator) ---

func sizeOffset(offset uint16) int {
	x := uint32(offset)
	n := 1
	for x >= 0x40 {
		x >>= 7
		n++
	}
	return n
}

func encodeOffset(buf []byte, offset uint16, null bool) int {
	x := uint32(offset)
	i := 0
	for x >= 0x40 {
		buf[i] = byte(x&0x7f) | 0x80
		x >>= 7
		i++
	}
	b := byte(x) & 0x3f
	if null {
		b |= 0x40
	}
	buf[i] = b
	return i + 1
}

func decodeOffset(buf []byte) (offset uint16, null bool, n int, err error) {
	var x uint32
	var s uint
	i := 0
	for {
		if i >= len(buf) {
			return 0, false, 0, errors.WithStack(ErrTruncated)
		}
		b := buf[i]
		i++
		if b&0x80 != 0 {
			x |= uint32(b&0x7f) << s
			s += 7
			if i > 5 {
				return 0, false, 0, errors.WithStack(common.ErrStructureCorrupt)
			}
			continue
		}
		null = b&0x40 != 0
		x |= uint32(b&0x3f) << s
		break
	}
	return uint16(x), null, i, nil
}

// --- addInfo payload ---

func alignUp(pos int, align int) int {
	if align <= 1 {
		return pos
	}
	rem := pos % align
	if rem == 0 {
		return pos
	}
	return pos + (align - rem)
}

func sizeAddInfo(pos int, d common.Datum, attr common.AttrDesc) int {
	if attr.TypLen == common.TypLenVarlena {
		aligned := alignUp(pos, attr.Align)
		pad := aligned - pos
		n := len(d.Bytes())
		if n < 0x80 {
			return pad + 1 + n
		}
		return pad + 5 + n
	}
	return int(attr.TypLen)
}

func encodeAddInfo(buf []byte, pos int, d common.Datum, attr common.AttrDesc) int {
	if attr.TypLen == common.TypLenVarlena {
		aligned := alignUp(pos, attr.Align)
		pad := aligned - pos
		payload := d.Bytes()
		off := pad
		if len(payload) < 0x80 {
			buf[off] = byte(len(payload))
			off++
		} else {
			buf[off] = 0xFF
			binary.LittleEndian.PutUint32(buf[off+1:], uint32(len(payload)))
			off += 5
		}
		copy(buf[off:], payload)
		return pad + (off - pad) + len(payload)
	}
	v := d.Uint64()
	switch attr.TypLen {
	case common.TypLen1:
		buf[0] = byte(v)
	case common.TypLen2:
		binary.LittleEndian.PutUint16(buf, uint16(v))
	case common.TypLen4:
		binary.LittleEndian.PutUint32(buf, uint32(v))
	case common.TypLen8:
		binary.LittleEndian.PutUint64(buf, v)
	}
	return int(attr.TypLen)
}

func decodeAddInfo(buf []byte, pos int, attr common.AttrDesc) (common.Datum, int, error) {
	if attr.TypLen == common.TypLenVarlena {
		aligned := alignUp(pos, attr.Align)
		pad := aligned - pos
		if pad >= len(buf) {
			return common.Datum{}, 0, errors.WithStack(ErrTruncated)
		}
		rest := buf[pad:]
		if len(rest) < 1 {
			return common.Datum{}, 0, errors.WithStack(ErrTruncated)
		}
		var hdr, length int
		if rest[0] == 0xFF {
			if len(rest) < 5 {
				return common.Datum{}, 0, errors.WithStack(ErrTruncated)
			}
			length = int(binary.LittleEndian.Uint32(rest[1:5]))
			hdr = 5
		} else {
			length = int(rest[0])
			hdr = 1
		}
		if hdr+length > len(rest) {
			return common.Datum{}, 0, errors.WithStack(common.ErrStructureCorrupt)
		}
		d := common.NewBytesDatum(rest[hdr: hdr+length])
		return d, pad + hdr + length, nil
	}
	n := int(attr.TypLen)
	if n > len(buf) {
		return common.Datum{}, 0, errors.WithStack(ErrTruncated)
	}
	switch attr.TypLen {
	case common.TypLen1:
		return common.NewInt32Datum(int32(buf[0])), 1, nil
	case common.TypLen2:
		return common.NewInt32Datum(int32(binary.LittleEndian.Uint16(buf))), 2, nil
	case common.TypLen4:
		return common.NewInt32Datum(int32(binary.LittleEndian.Uint32(buf))), 4, nil
	case common.TypLen8:
		return common.NewUint64Datum(binary.LittleEndian.Uint64(buf)), 8, nil
	}
	return common.Datum{}, 0, errors.WithStack(common.ErrStructureCorrupt)
}

// --- natural order ---

// SizeNatural returns the number of bytes EncodeNatural will consume,
// exactly (the consumed byte count matches the size-estimator
// output"). pos is the absolute byte offset this key's payload would start
// at, needed to reproduce varlena-addInfo alignment padding.
func SizeNatural(pos int, prevBlk uint32, key rumkey.RumKey, attr common.AttrDesc) int {
	n := varintSize(uint64(key.IPtr.Block - prevBlk))
	n += sizeOffset(key.IPtr.Offset)
	if !key.AddInfoIsNull {
		n += sizeAddInfo(pos+n, key.AddInfo, attr)
	}
	return n
}

// EncodeNatural writes key into buf at offset 0 and returns the number of
// bytes written. buf must be at least SizeNatural(pos,...) bytes long.
func EncodeNatural(buf []byte, pos int, prevBlk uint32, key rumkey.RumKey, attr common.AttrDesc) int {
	if !key.IPtr.Valid() {
		panic("varbyte: item pointer offset collides with alt-order null flag")
	}
	n := putUvarint(buf, uint64(key.IPtr.Block-prevBlk))
	n += encodeOffset(buf[n:], key.IPtr.Offset, key.AddInfoIsNull)
	if !key.AddInfoIsNull {
		n += encodeAddInfo(buf[n:], pos+n, key.AddInfo, attr)
	}
	return n
}

// DecodeNatural reads one RumKey from buf, returning it and the number of
// bytes consumed.
func DecodeNatural(buf []byte, pos int, prevBlk uint32, attr common.AttrDesc) (rumkey.RumKey, int, error) {
	blkIncr, n1 := uvarint(buf)
	if n1 <= 0 {
		return rumkey.RumKey{}, 0, errors.WithStack(ErrTruncated)
	}
	offset, null, n2, err := decodeOffset(buf[n1:])
	if err != nil {
		return rumkey.RumKey{}, 0, err
	}
	n := n1 + n2
	key := rumkey.RumKey{
		IPtr:          common.ItemPointer{Block: prevBlk + uint32(blkIncr), Offset: offset},
		AddInfoIsNull: null,
	}
	if !null {
		d, n3, err := decodeAddInfo(buf[n:], pos+n, attr)
		if err != nil {
			return rumkey.RumKey{}, 0, err
		}
		key.AddInfo = d
		n += n3
	}
	return key, n, nil
}

// --- alt order ---

// altHeaderSize is the raw {block(4), offset(2)} ItemPointer header alt-order
// storage uses in place of the block-delta + 6-bit-terminator encoding.
const altHeaderSize = 6

func SizeAlt(pos int, key rumkey.RumKey, attr common.AttrDesc) int {
	n := altHeaderSize
	if !key.AddInfoIsNull {
		n += sizeAddInfo(pos+n, key.AddInfo, attr)
	}
	return n
}

// EncodeAlt writes key using the alt-order raw-ItemPointer form:
// offset's high bit (common.AltOrderNullFlag) is repurposed as
// addInfoIsNull. It panics rather than silently corrupting the flag if
// the item pointer's offset would collide with it -- a caller that lets
// that happen has a page layout bug, not a recoverable condition.
func EncodeAlt(buf []byte, pos int, key rumkey.RumKey, attr common.AttrDesc) int {
	if !key.IPtr.Valid() {
		panic("varbyte: item pointer offset collides with the alt-order null-flag bit")
	}
	binary.BigEndian.PutUint32(buf, key.IPtr.Block)
	off := key.IPtr.Offset
	if key.AddInfoIsNull {
		off |= common.AltOrderNullFlag
	}
	binary.BigEndian.PutUint16(buf[4:], off)
	n := altHeaderSize
	if !key.AddInfoIsNull {
		n += encodeAddInfo(buf[n:], pos+n, key.AddInfo, attr)
	}
	return n
}

func DecodeAlt(buf []byte, pos int, attr common.AttrDesc) (rumkey.RumKey, int, error) {
	if len(buf) < altHeaderSize {
		return rumkey.RumKey{}, 0, errors.WithStack(ErrTruncated)
	}
	block := binary.BigEndian.Uint32(buf)
	rawOff := binary.BigEndian.Uint16(buf[4:])
	null := rawOff&common.AltOrderNullFlag != 0
	offset := rawOff &^ common.AltOrderNullFlag
	key := rumkey.RumKey{
		IPtr:          common.ItemPointer{Block: block, Offset: offset},
		AddInfoIsNull: null,
	}
	n := altHeaderSize
	if !null {
		d, n2, err := decodeAddInfo(buf[n:], pos+n, attr)
		if err != nil {
			return rumkey.RumKey{}, 0, err
		}
		key.AddInfo = d
		n += n2
	}
	return key, n, nil
}
