// Package bptree implements the page level core of an on-disk B+ tree
// index: a slotted page model over fixed size byte buffers, a page
// store that allocates and pins pages in a file, and the split
// algorithms that redistribute an overflowing page into a new sibling.
package bptree

import (
	"encoding/binary"
	"fmt"

	"go-btm/pkg/customerrors"

	"github.com/pkg/errors"
)

// bin is the byte order used for all marshals/unmarshals.
var bin = binary.LittleEndian

const (
	// common header: page id (4) + flags (1) + slot count (2) + free offset (2)
	commonHeaderSz = 4 + 1 + 2 + 2
	// internal pages additionally store the leftmost child pointer
	internalHeaderSz = commonHeaderSz + 4
	// leaf pages additionally store prev/next leaf page ids
	leafHeaderSz = commonHeaderSz + 4 + 4

	flagLeafPage = uint8(0b00000001)
	flagRootPage = uint8(0b00000010)
)

// Page is a fixed size slotted page: a header, a forward growing
// region of variable length entries and a backward growing slot
// directory with one offset per entry (slot 0 = smallest key).
// All access to the raw buffer goes through bounds checked accessors;
// an out of range offset is a programmer error and panics instead of
// corrupting neighbouring bytes.
type Page struct {
	buf []byte
}

func newPage(buf []byte) *Page {
	if len(buf) <= leafHeaderSz {
		panic(fmt.Errorf("page buffer too small (%d bytes)", len(buf)))
	}
	return &Page{buf: buf}
}

// Format initializes the buffer as an empty page with the given
// identity. Every byte of the old content is discarded.
func (p *Page) Format(id PageID, leaf, root bool) {
	for i := range p.buf {
		p.buf[i] = 0
	}

	flags := uint8(0)
	if leaf {
		flags |= flagLeafPage
	}
	if root {
		flags |= flagRootPage
	}

	bin.PutUint32(p.buf[0:4], uint32(id))
	p.buf[4] = flags
}

func (p *Page) ID() PageID   { return PageID(bin.Uint32(p.buf[0:4])) }
func (p *Page) IsLeaf() bool { return p.buf[4]&flagLeafPage != 0 }
func (p *Page) IsRoot() bool { return p.buf[4]&flagRootPage != 0 }

// NumSlots returns the number of entries stored in the page.
func (p *Page) NumSlots() int { return int(bin.Uint16(p.buf[5:7])) }

func (p *Page) setNumSlots(n int) { bin.PutUint16(p.buf[5:7], uint16(n)) }

// freeOffset is the end of the occupied entry region, relative to the
// page body.
func (p *Page) freeOffset() int { return int(bin.Uint16(p.buf[7:9])) }

func (p *Page) setFreeOffset(off int) { bin.PutUint16(p.buf[7:9], uint16(off)) }

// LeftmostChild returns the implicit child pointer of an internal page
// that routes keys smaller than the page's first separator key.
func (p *Page) LeftmostChild() PageID {
	p.mustInternal()
	return PageID(bin.Uint32(p.buf[9:13]))
}

func (p *Page) SetLeftmostChild(id PageID) {
	p.mustInternal()
	bin.PutUint32(p.buf[9:13], uint32(id))
}

// Prev returns the previous page in the leaf chain, NilPage for the
// first leaf.
func (p *Page) Prev() PageID {
	p.mustLeaf()
	return PageID(bin.Uint32(p.buf[9:13]))
}

func (p *Page) SetPrev(id PageID) {
	p.mustLeaf()
	bin.PutUint32(p.buf[9:13], uint32(id))
}

// Next returns the next page in the leaf chain, NilPage for the last
// leaf.
func (p *Page) Next() PageID {
	p.mustLeaf()
	return PageID(bin.Uint32(p.buf[13:17]))
}

func (p *Page) SetNext(id PageID) {
	p.mustLeaf()
	bin.PutUint32(p.buf[13:17], uint32(id))
}

func (p *Page) headerSize() int {
	if p.IsLeaf() {
		return leafHeaderSz
	}
	return internalHeaderSz
}

// Capacity returns the byte budget of the page body (entry region plus
// slot directory).
func (p *Page) Capacity() int { return len(p.buf) - p.headerSize() }

// Used returns the occupied bytes of the page body.
func (p *Page) Used() int { return p.freeOffset() + p.NumSlots()*slotSz }

// FreeSpace returns the bytes left between the entry region and the
// slot directory.
func (p *Page) FreeSpace() int { return p.Capacity() - p.Used() }

// AppendInternalEntry stores the entry after the current last slot.
// The caller is responsible for keeping slot order aligned with key
// order. Returns customerrors.ErrPageFull if the entry does not fit.
func (p *Page) AppendInternalEntry(e InternalEntry) error {
	p.mustInternal()
	raw, err := e.MarshalBinary()
	if err != nil {
		return errors.Wrap(err, "failed to marshal internal entry")
	}
	return p.appendRaw(raw)
}

// AppendLeafEntry stores the entry after the current last slot. The
// caller is responsible for keeping slot order aligned with key order.
// Returns customerrors.ErrPageFull if the entry does not fit.
func (p *Page) AppendLeafEntry(e LeafEntry) error {
	p.mustLeaf()
	raw, err := e.MarshalBinary()
	if err != nil {
		return errors.Wrap(err, "failed to marshal leaf entry")
	}
	return p.appendRaw(raw)
}

// InternalEntryAt decodes the entry at the given slot index.
func (p *Page) InternalEntryAt(idx int) (InternalEntry, error) {
	p.mustInternal()
	e := InternalEntry{}
	err := e.UnmarshalBinary(p.rawEntryAt(idx))
	return e, errors.Wrapf(err, "failed to unmarshal internal entry at slot %d", idx)
}

// LeafEntryAt decodes the entry at the given slot index.
func (p *Page) LeafEntryAt(idx int) (LeafEntry, error) {
	p.mustLeaf()
	e := LeafEntry{}
	err := e.UnmarshalBinary(p.rawEntryAt(idx))
	return e, errors.Wrapf(err, "failed to unmarshal leaf entry at slot %d", idx)
}

// KeyAt returns the key bytes of the entry at the given slot index.
func (p *Page) KeyAt(idx int) []byte {
	raw := p.rawEntryAt(idx)
	var klen int
	var from int
	if p.IsLeaf() {
		klen = int(bin.Uint16(raw[2:4]))
		from = leafEntryHeaderSz
	} else {
		klen = int(bin.Uint16(raw[4:6]))
		from = internalEntryHeaderSz
	}
	key := make([]byte, klen)
	copy(key, raw[from:from+klen])
	return key
}

func (p *Page) appendRaw(raw []byte) error {
	if p.FreeSpace() < len(raw)+slotSz {
		return errors.Wrapf(
			customerrors.ErrPageFull,
			"entry of %d bytes does not fit in %d free bytes",
			len(raw)+slotSz, p.FreeSpace(),
		)
	}

	idx := p.NumSlots()
	off := p.freeOffset()
	copy(p.section(off, len(raw)), raw)
	p.setSlotOffset(idx, off)
	p.setNumSlots(idx + 1)
	p.setFreeOffset(off + len(raw))
	return nil
}

// rawEntryAt returns the stored bytes of the entry at the given slot
// index. The length is recovered from the entry's own length fields.
func (p *Page) rawEntryAt(idx int) []byte {
	off := p.slotOffset(idx)
	head := p.section(off, p.freeOffset()-off)
	if p.IsLeaf() {
		return head[:leafEntryLen(head)]
	}
	return head[:internalEntryLen(head)]
}

// slotOffset returns the body relative offset recorded in the slot
// directory for the given index.
func (p *Page) slotOffset(idx int) int {
	if idx < 0 || idx >= p.NumSlots() {
		panic(fmt.Errorf("slot index %d out of range (page %d has %d slots)", idx, p.ID(), p.NumSlots()))
	}
	pos := p.Capacity() - slotSz*(idx+1)
	return int(bin.Uint16(p.section(pos, slotSz)))
}

func (p *Page) setSlotOffset(idx, off int) {
	pos := p.Capacity() - slotSz*(idx+1)
	bin.PutUint16(p.section(pos, slotSz), uint16(off))
}

// section returns the body bytes [off, off+n). It is the single point
// through which all body reads and writes pass; an out of range
// request panics here before it can touch header or neighbour bytes.
func (p *Page) section(off, n int) []byte {
	if off < 0 || n < 0 || off+n > p.Capacity() {
		panic(fmt.Errorf(
			"body access [%d, %d) out of range on page %d (capacity %d)",
			off, off+n, p.ID(), p.Capacity(),
		))
	}
	body := p.buf[p.headerSize():]
	return body[off : off+n]
}

// resetEntries drops all entries and slots, keeping the header
// identity and link fields intact.
func (p *Page) resetEntries() {
	p.setNumSlots(0)
	p.setFreeOffset(0)
}

// snapshot returns an immutable full copy of the page, used by the
// splitters to read original content while rewriting the live page.
func (p *Page) snapshot() *Page {
	cp := make([]byte, len(p.buf))
	copy(cp, p.buf)
	return &Page{buf: cp}
}

func (p *Page) mustInternal() {
	if p.IsLeaf() {
		panic(fmt.Errorf("internal page operation on leaf page %d", p.ID()))
	}
}

func (p *Page) mustLeaf() {
	if !p.IsLeaf() {
		panic(fmt.Errorf("leaf page operation on internal page %d", p.ID()))
	}
}

func (p *Page) String() string {
	s := fmt.Sprintf("Page{id=%d, leaf=%t, slots=%d, free=%d", p.ID(), p.IsLeaf(), p.NumSlots(), p.FreeSpace())
	if p.IsLeaf() {
		s += fmt.Sprintf(", %d<-p->%d", p.Prev(), p.Next())
	}
	return s + "}"
}
