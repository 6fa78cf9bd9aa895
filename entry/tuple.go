// Package entry implements RUM's entry tree: the outer B-tree keyed by
// (attnum, null category, key), whose leaf tuples hold either an inline
// varbyte-encoded posting list or a reference to a posting tree's root
// page once the inline list would overflow MaxItemSize. The routing and
// split machinery reuses engine.Tree via entryLeafOps below.
package entry

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/rumindex/rum/common"
	"github.com/rumindex/rum/rpage"
	"github.com/rumindex/rum/rumkey"
	"github.com/rumindex/rum/varbyte"
)

// PostingTreeSentinel marks a tuple's payload as "posting-tree reference"
// rather than an inline list.
const PostingTreeSentinel = uint16(0xFFFF)

// KeyOccurrence pairs one ExtractValue-produced key (with its null
// category) and the occurrence it contributes, letting build/ hand a
// uniform shape to entry.Tree.Insert regardless of which opclass produced
// it.
type KeyOccurrence struct {
	Category common.NullCategory
	Key      common.Datum
	Occ      rumkey.RumKey
}

// Tuple is one entry-tree leaf row.
type Tuple struct {
	Attnum      uint16
	Category    common.NullCategory
	Key         common.Datum // meaningful only when Category == CategoryNorm
	Postings    []rumkey.RumKey
	PostingRoot uint32 // rpage.InvalidBlock when Postings is inline
}

// KeyCodec knows how to (de)serialize an entry key and order two of them;
// the opclass vtable supplies CompareDatum. CompareDatum takes the
// attnum both keys share (entry routing order already established attnum
// equality before calling it) so a multi-column index can dispatch to each
// column's own opclass comparator from one KeyCodec.
type KeyCodec struct {
	// AttrFor resolves the on-disk shape of attnum's key datum. A
	// single-column index can supply a constant function; a multi-column
	// index dispatches per attnum since each indexed column may have its
	// own opclass and storage width.
	AttrFor      func(attnum uint16) common.AttrDesc
	CompareDatum func(attnum uint16, a, b common.Datum) int
}

// EncodePrefix serializes the routing portion of a tuple: attnum, null
// category, and (when NORM_KEY) the key value itself.
func (c KeyCodec) EncodePrefix(attnum uint16, category common.NullCategory, key common.Datum) []byte {
	n := 3
	attr := c.AttrFor(attnum)
	if category == common.CategoryNorm {
		n += varbyte.SizeValue(key, attr)
	}
	buf := make([]byte, n)
	binary.BigEndian.PutUint16(buf[0:], attnum)
	buf[2] = byte(category)
	if category == common.CategoryNorm {
		varbyte.EncodeValue(buf[3:], key, attr)
	}
	return buf
}

// DecodePrefix is EncodePrefix's inverse, returning the number of bytes
// consumed so callers can locate the payload that follows.
func (c KeyCodec) DecodePrefix(buf []byte) (attnum uint16, category common.NullCategory, key common.Datum, n int, err error) {
	if len(buf) < 3 {
		return 0, 0, common.Datum{}, 0, errors.WithStack(common.ErrStructureCorrupt)
	}
	attnum = binary.BigEndian.Uint16(buf[0:])
	category = common.NullCategory(int8(buf[2]))
	switch category {
	case common.CategoryEmptyQuery, common.CategoryNorm, common.CategoryNullKey, common.CategoryEmptyItem, common.CategoryNullItem:
	default:
		return 0, 0, common.Datum{}, 0, errors.Wrapf(common.ErrCategoryMismatch, "entry: category byte %d", int8(category))
	}
	n = 3
	if category == common.CategoryNorm {
		k, consumed, derr := varbyte.DecodeValue(buf[3:], c.AttrFor(attnum))
		if derr != nil {
			return 0, 0, common.Datum{}, 0, derr
		}
		key = k
		n += consumed
	}
	return attnum, category, key, n, nil
}

// Compare orders two entry-tree routing keys: attnum, then null
// category, then (when both NORM_KEY) the opclass's datum compare.
func (c KeyCodec) Compare(a, b []byte) int {
	aAttnum, aCat, aKey, _, aerr := c.DecodePrefix(a)
	bAttnum, bCat, bKey, _, berr := c.DecodePrefix(b)
	if aerr != nil || berr != nil {
		panic("entry: malformed routing key")
	}
	if aAttnum != bAttnum {
		if aAttnum < bAttnum {
			return -1
		}
		return 1
	}
	if aCat != bCat {
		if aCat.Less(bCat) {
			return -1
		}
		return 1
	}
	if aCat != common.CategoryNorm {
		return 0
	}
	return c.CompareDatum(aAttnum, aKey, bKey)
}

// EncodeTuple serializes a full leaf tuple: routing prefix, then either a
// posting-tree blkno (sentinel nposting) or the inline varbyte stream.
func EncodeTuple(codec KeyCodec, addInfoAttr common.AttrDesc, t Tuple) ([]byte, error) {
	prefix := codec.EncodePrefix(t.Attnum, t.Category, t.Key)

	if t.PostingRoot != rpage.InvalidBlock {
		buf := make([]byte, len(prefix)+2+4)
		copy(buf, prefix)
		binary.BigEndian.PutUint16(buf[len(prefix):], PostingTreeSentinel)
		binary.BigEndian.PutUint32(buf[len(prefix)+2:], t.PostingRoot)
		return buf, nil
	}

	if len(t.Postings) >= int(PostingTreeSentinel) {
		return nil, errors.Errorf("entry: %d inline postings collide with the posting-tree sentinel", len(t.Postings))
	}

	size := 0
	prevBlk := uint32(0)
	for _, k := range t.Postings {
		size += varbyte.SizeNatural(len(prefix)+2+size, prevBlk, k, addInfoAttr)
		prevBlk = k.IPtr.Block
	}

	buf := make([]byte, len(prefix)+2+size)
	copy(buf, prefix)
	binary.BigEndian.PutUint16(buf[len(prefix):], uint16(len(t.Postings)))

	off := len(prefix) + 2
	prevBlk = 0
	for _, k := range t.Postings {
		n := varbyte.EncodeNatural(buf[off:], off, prevBlk, k, addInfoAttr)
		off += n
		prevBlk = k.IPtr.Block
	}
	return buf, nil
}

// DecodeTuple is EncodeTuple's inverse (the stream decodes exactly
// nposting RumKeys and consumes exactly the remaining bytes).
func DecodeTuple(codec KeyCodec, addInfoAttr common.AttrDesc, buf []byte) (Tuple, error) {
	attnum, category, key, n, err := codec.DecodePrefix(buf)
	if err != nil {
		return Tuple{}, err
	}
	if n+2 > len(buf) {
		return Tuple{}, errors.WithStack(common.ErrStructureCorrupt)
	}
	nposting := binary.BigEndian.Uint16(buf[n:])
	n += 2

	if nposting == PostingTreeSentinel {
		if n+4 > len(buf) {
			return Tuple{}, errors.WithStack(common.ErrStructureCorrupt)
		}
		root := binary.BigEndian.Uint32(buf[n:])
		return Tuple{Attnum: attnum, Category: category, Key: key, PostingRoot: root}, nil
	}

	postings := make([]rumkey.RumKey, 0, nposting)
	prevBlk := uint32(0)
	for i := uint16(0); i < nposting; i++ {
		k, consumed, derr := varbyte.DecodeNatural(buf[n:], n, prevBlk, addInfoAttr)
		if derr != nil {
			return Tuple{}, derr
		}
		postings = append(postings, k)
		prevBlk = k.IPtr.Block
		n += consumed
	}
	if n != len(buf) {
		return Tuple{}, errors.WithStack(common.ErrStructureCorrupt)
	}
	return Tuple{Attnum: attnum, Category: category, Key: key, PostingRoot: rpage.InvalidBlock, Postings: postings}, nil
}

// RoutingKey returns the portion of an encoded tuple engine.Tree compares
// on, i.e. everything before the nposting field.
func RoutingKey(codec KeyCodec, buf []byte) []byte {
	_, _, _, n, err := codec.DecodePrefix(buf)
	if err != nil {
		panic(err)
	}
	return buf[:n]
}
