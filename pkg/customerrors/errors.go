// Package customerrors defines common error values shared by the
// storage packages.
package customerrors

import (
	"errors"
)

var (
	// ErrAllocation is returned when the page store cannot allocate a new
	// page because the configured page budget is exhausted. Fatal to the
	// operation that triggered the allocation, never retried internally.
	ErrAllocation = errors.New("page store exhausted")

	// ErrInit is returned when a page cannot be initialized because the
	// page identifier is invalid or unallocated.
	ErrInit = errors.New("invalid page for initialization")

	// ErrInvalidPageID is returned when an operation references a page
	// identifier outside the allocated range.
	ErrInvalidPageID = errors.New("invalid page id")

	// ErrPageFull is returned when an entry does not fit in the free
	// region of a page.
	ErrPageFull = errors.New("not enough space in page")

	// ErrInvalidSlot is returned when an insertion position is outside
	// the valid 1..n+1 range for the page.
	ErrInvalidSlot = errors.New("invalid slot index")
)
