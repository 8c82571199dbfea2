package bptree

import (
	"go-btm/pkg/customerrors"

	"github.com/pkg/errors"
)

// Splitter implements page splitting for overflowing internal and leaf
// pages. The traversal layer decides when a page must split and with
// which insertion position; the splitter allocates the sibling,
// redistributes the merged entries between the two pages and returns
// the entry that must propagate into the parent.
//
// The source page is a mutable loan from the caller (who keeps it
// pinned and is responsible for persist-marking it afterwards). The
// sibling is left pinned on success; the caller releases it with
// Store.Unpin once the up-entry has been placed.
type Splitter struct {
	store *Store
	geo   geometry
}

func NewSplitter(store *Store) *Splitter {
	return &Splitter{store: store, geo: store.geo}
}

// SplitInternal splits the full internal page src, inserting item at
// the 1-based slot position high of the merged sequence. Entries are
// redistributed around the internal half fill threshold; the first
// entry handed to the sibling is consumed as the sibling's leftmost
// child pointer and its key becomes the separator key of the returned
// up-entry {sibling id, key}.
//
// On any error the source page is left untouched: all reads go through
// a snapshot taken before the first destructive write.
func (s *Splitter) SplitInternal(src *Page, high int, item InternalEntry) (InternalEntry, error) {
	src.mustInternal()
	n := src.NumSlots()
	if high < 1 || high > n+1 {
		return InternalEntry{}, errors.Wrapf(
			customerrors.ErrInvalidSlot,
			"insertion position %d outside 1..%d", high, n+1,
		)
	}

	itemRaw, err := item.MarshalBinary()
	if err != nil {
		return InternalEntry{}, errors.Wrap(err, "failed to marshal new entry")
	}

	// everything needed from the original content is captured here;
	// the live page is only written after this point
	snap := src.snapshot()

	sib, err := s.allocSibling(src.ID(), false)
	if err != nil {
		return InternalEntry{}, err
	}

	left := splitPoint(s.mergedEntrySizes(snap, len(itemRaw), high), s.geo.internalHalf)

	src.resetEntries()
	up := InternalEntry{Child: sib.ID()}
	for i := 0; i < n+1; i++ {
		raw := mergedRawEntry(snap, itemRaw, high, i)
		switch {
		case i < left:
			mustAppend(src, raw)
		case i == left:
			// the sibling's first entry becomes its page level
			// leftmost pointer instead of a keyed entry
			e := InternalEntry{}
			if err := e.UnmarshalBinary(raw); err != nil {
				panic(errors.Wrap(err, "corrupt entry during split"))
			}
			sib.SetLeftmostChild(e.Child)
			up.Key = e.Key
		default:
			mustAppend(sib, raw)
		}
	}

	s.store.MarkDirty(sib.ID())
	return up, nil
}

// SplitLeaf splits the full leaf page src, inserting item at the
// 1-based slot position high of the merged sequence. Beyond the
// redistribution walk it maintains the doubly linked leaf chain and
// synthesizes the up-entry from the sibling's first stored entry,
// substituting the sibling page id for the leaf record pointers.
//
// On any error the source page is left untouched.
func (s *Splitter) SplitLeaf(src *Page, high int, item LeafEntry) (InternalEntry, error) {
	src.mustLeaf()
	n := src.NumSlots()
	if high < 1 || high > n+1 {
		return InternalEntry{}, errors.Wrapf(
			customerrors.ErrInvalidSlot,
			"insertion position %d outside 1..%d", high, n+1,
		)
	}

	itemRaw, err := item.MarshalBinary()
	if err != nil {
		return InternalEntry{}, errors.Wrap(err, "failed to marshal new entry")
	}

	snap := src.snapshot()

	sib, err := s.allocSibling(src.ID(), true)
	if err != nil {
		return InternalEntry{}, err
	}

	// the old next leaf must take part in the chain relink; pin it
	// before the first destructive write so a pin failure still leaves
	// the source page unmodified
	var oldNext *Page
	if next := snap.Next(); !next.IsNil() {
		oldNext, err = s.store.Pin(next)
		if err != nil {
			s.store.Unpin(sib.ID())
			_ = s.store.FreePage(sib.ID())
			return InternalEntry{}, errors.Wrapf(err, "failed to pin next leaf %d", next)
		}
	}

	left := splitPoint(s.mergedEntrySizes(snap, len(itemRaw), high), s.geo.leafHalf)

	src.resetEntries()
	for i := 0; i < n+1; i++ {
		raw := mergedRawEntry(snap, itemRaw, high, i)
		if i < left {
			mustAppend(src, raw)
		} else {
			mustAppend(sib, raw)
		}
	}

	// relink the leaf chain unconditionally, whatever the split point
	sib.SetPrev(src.ID())
	sib.SetNext(snap.Next())
	src.SetNext(sib.ID())
	if oldNext != nil {
		oldNext.SetPrev(sib.ID())
		s.store.MarkDirty(oldNext.ID())
		s.store.Unpin(oldNext.ID())
	}

	s.store.MarkDirty(sib.ID())
	return InternalEntry{Child: sib.ID(), Key: sib.KeyAt(0)}, nil
}

// allocSibling allocates, initializes and pins an empty sibling page
// near the source page. Allocation errors are propagated unchanged.
func (s *Splitter) allocSibling(near PageID, leaf bool) (*Page, error) {
	id, err := s.store.AllocPage(near)
	if err != nil {
		return nil, errors.Wrap(err, "failed to allocate sibling page")
	}

	if err := s.store.InitPage(id, leaf, false); err != nil {
		_ = s.store.FreePage(id)
		return nil, errors.Wrapf(err, "failed to initialize sibling page %d", id)
	}

	sib, err := s.store.Pin(id)
	if err != nil {
		_ = s.store.FreePage(id)
		return nil, errors.Wrapf(err, "failed to pin sibling page %d", id)
	}
	return sib, nil
}

// mergedEntrySizes returns the byte sizes of the merged sequence for
// the snapshot page with an entry of itemSize inserted at high.
func (s *Splitter) mergedEntrySizes(snap *Page, itemSize, high int) []int {
	sizes := make([]int, snap.NumSlots())
	for i := range sizes {
		sizes[i] = len(snap.rawEntryAt(i))
	}
	return mergedSizes(sizes, itemSize, high)
}

// mergedRawEntry returns the stored bytes of position i of the merged
// sequence. The new entry is treated as just another position of the
// walk, so insertions at either extreme need no special casing.
func mergedRawEntry(snap *Page, itemRaw []byte, high, i int) []byte {
	switch {
	case i+1 < high:
		return snap.rawEntryAt(i)
	case i+1 == high:
		return itemRaw
	default:
		return snap.rawEntryAt(i - 1)
	}
}

// mustAppend is used during the redistribution walk, where the
// partition already guarantees the entry fits. A failure here is a
// programmer error, not a runtime condition.
func mustAppend(p *Page, raw []byte) {
	if err := p.appendRaw(raw); err != nil {
		panic(errors.Wrapf(err, "split overflowed page %d", p.ID()))
	}
}
