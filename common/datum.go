package common

// Datum is RUM's owned, logical stand-in for the host engine's untyped
// "datum" word. A Datum never aliases caller-owned memory past the call
// that produced it: every constructor here copies.
type Datum struct {
	// kind selects which of the fields below is meaningful.
	kind  datumKind
	inl64 uint64 // Inline64 / InlineInt32 (zero-extended)
	heap  []byte // Short / Heap -- raw bytes, no varlena header
}

type datumKind uint8

const (
	datumInline64 datumKind = iota
	datumInlineInt32
	datumBytes
)

// NewInt32Datum builds a pass-by-value 4-byte Datum.
func NewInt32Datum(v int32) Datum {
	return Datum{kind: datumInlineInt32, inl64: uint64(uint32(v))}
}

// NewUint64Datum builds a pass-by-value 8-byte Datum.
func NewUint64Datum(v uint64) Datum {
	return Datum{kind: datumInline64, inl64: v}
}

// NewBytesDatum builds a pass-by-reference Datum, copying b.
func NewBytesDatum(b []byte) Datum {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Datum{kind: datumBytes, heap: cp}
}

// IsByVal reports whether the Datum was constructed as pass-by-value.
func (d Datum) IsByVal() bool { return d.kind != datumBytes }

// Int32 returns the datum as an int32; only valid if constructed via
// NewInt32Datum.
func (d Datum) Int32() int32 { return int32(uint32(d.inl64)) }

// Uint64 returns the datum's 8-byte inline form.
func (d Datum) Uint64() uint64 { return d.inl64 }

// Bytes returns the datum's backing bytes for pass-by-reference values.
func (d Datum) Bytes() []byte { return d.heap }

// Size returns the number of payload bytes EncodeValue/DecodeValue will
// read or write for the given attribute descriptor, excluding any varlena
// header (varbyte.SizeAddInfo adds that back in for varlena attributes).
func Size(attr AttrDesc) int {
	if attr.TypLen == TypLenVarlena {
		return -1 // caller must ask the Datum itself
	}
	return int(attr.TypLen)
}
