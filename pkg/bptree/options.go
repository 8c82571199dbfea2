package bptree

import "os"

// defaultOptions to be used by Open().
var defaultOptions = Options{
	ReadOnly: false,
	FileMode: 0644,
	PageSize: os.Getpagesize(),
	PreAlloc: 0,
	MaxPages: 0,
}

// Options represents the configuration options for the page store.
type Options struct {
	// ReadOnly mode for the store. All mutating operations will return
	// error in this mode.
	ReadOnly bool

	// FileMode for creating the file. Applicable only if when a new
	// store file is being initialized.
	FileMode os.FileMode

	// PageSize to be used for file I/O. All reads and writes will always
	// be done with pages of this size.
	PageSize int

	// PreAlloc can be set to enable pre-allocating pages when the
	// store is initialized. This helps avoid mmap/unmap and truncate
	// overheads during insertions.
	PreAlloc int

	// MaxPages limits the number of pages the store may allocate.
	// 0 means no limit. Allocations beyond the limit fail with
	// customerrors.ErrAllocation.
	MaxPages int

	// HalfFillInternal overrides the redistribution cutoff for internal
	// page splits. 0 means half of the internal page capacity.
	HalfFillInternal int

	// HalfFillLeaf overrides the redistribution cutoff for leaf page
	// splits. 0 means half of the leaf page capacity.
	HalfFillLeaf int
}

// geometry carries the derived byte budgets of a page size. The half
// fill thresholds differ between internal and leaf pages since their
// entry shapes and header sizes differ.
type geometry struct {
	pageSize         int
	internalCapacity int
	leafCapacity     int
	internalHalf     int
	leafHalf         int
}

func (o *Options) geometry() geometry {
	g := geometry{
		pageSize:         o.PageSize,
		internalCapacity: o.PageSize - internalHeaderSz,
		leafCapacity:     o.PageSize - leafHeaderSz,
	}

	g.internalHalf = o.HalfFillInternal
	if g.internalHalf == 0 {
		g.internalHalf = g.internalCapacity / 2
	}

	g.leafHalf = o.HalfFillLeaf
	if g.leafHalf == 0 {
		g.leafHalf = g.leafCapacity / 2
	}

	return g
}
