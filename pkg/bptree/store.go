package bptree

import (
	"fmt"
	"sync"

	"go-btm/pkg/customerrors"
	"go-btm/pkg/pager"
	"go-btm/util/logger"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Open opens the named file as a page store and returns an instance
// for use. If nil options are provided, defaultOptions will be used.
func Open(fileName string, opts *Options) (*Store, error) {
	if opts == nil {
		opts = &defaultOptions
	}

	p, err := pager.Open(fileName, opts.PageSize, opts.ReadOnly, opts.FileMode)
	if err != nil {
		return nil, err
	}

	s := &Store{
		file:   fileName,
		mu:     &sync.Mutex{},
		pager:  p,
		geo:    opts.geometry(),
		opts:   *opts,
		frames: map[PageID]*frame{},
		meta:   &metadata{},
		log:    logger.L.WithField("prefix", "btm.store"),
	}

	if err := s.open(); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Store owns the pages of one index file: it allocates them, hands
// them out as pinned in-memory frames and writes dirty frames back
// through the pager. A page is exclusively owned by the store while
// pinned; callers receive a mutable loan until the matching Unpin.
type Store struct {
	file string

	// store state
	mu     *sync.Mutex
	pager  *pager.Pager
	geo    geometry
	opts   Options
	frames map[PageID]*frame // pin counted page cache
	meta   *metadata
	log    *logrus.Entry
}

// frame is a page loaded in memory together with its pin count.
type frame struct {
	page  *Page
	pins  int
	dirty bool
}

// AllocPage hands out an unused page id, reusing freed pages when
// possible and growing the file otherwise. The near argument is a
// placement hint; it is accepted for interface compatibility with
// callers that cluster siblings, the current pager does not use it.
// Fails with customerrors.ErrAllocation when the configured page
// budget is exhausted.
func (s *Store) AllocPage(near PageID) (PageID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_ = near

	if n := len(s.meta.freeList); n > 0 {
		id := s.meta.freeList[n-1]
		s.meta.freeList = s.meta.freeList[:n-1]
		s.meta.dirty = true
		s.log.Debugf("reusing freed page %d", id)
		return id, nil
	}

	if s.opts.MaxPages > 0 && int(s.meta.pageCount) >= s.opts.MaxPages {
		return NilPage, errors.Wrapf(
			customerrors.ErrAllocation,
			"page budget of %d reached", s.opts.MaxPages,
		)
	}

	id := PageID(s.meta.pageCount)
	if int(id) >= s.pager.Count() {
		if _, err := s.pager.Alloc(1); err != nil {
			return NilPage, errors.Wrap(err, "failed to grow page file")
		}
	}

	s.meta.pageCount++
	s.meta.dirty = true
	s.log.Debugf("allocated page %d", id)
	return id, nil
}

// InitPage formats the page as an empty leaf or internal page. Fails
// with customerrors.ErrInit if the id was never allocated.
func (s *Store) InitPage(id PageID, leaf, root bool) error {
	if !s.validID(id) {
		return errors.Wrapf(customerrors.ErrInit, "page %d", id)
	}

	p, err := s.Pin(id)
	if err != nil {
		return errors.Wrapf(customerrors.ErrInit, "page %d: %v", id, err)
	}

	p.Format(id, leaf, root)
	s.MarkDirty(id)
	s.Unpin(id)
	return nil
}

// Pin loads the page into memory (if not already cached) and
// increments its pin count. Every successful Pin must be matched by
// an Unpin.
func (s *Store) Pin(id PageID) (*Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.validID(id) {
		return nil, errors.Wrapf(customerrors.ErrInvalidPageID, "page %d", id)
	}

	if fr, ok := s.frames[id]; ok {
		fr.pins++
		return fr.page, nil
	}

	buf, err := s.pager.ReadPage(int(id))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read page %d", id)
	}

	fr := &frame{page: newPage(buf), pins: 1}
	s.frames[id] = fr
	return fr.page, nil
}

// Unpin releases one pin of the page. The frame stays cached; a dirty
// frame whose pin count drops to zero is written back immediately.
// Unbalanced unpins are a programmer error.
func (s *Store) Unpin(id PageID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fr, ok := s.frames[id]
	if !ok || fr.pins == 0 {
		panic(fmt.Errorf("unpin of page %d which is not pinned", id))
	}

	fr.pins--
	if fr.pins == 0 && fr.dirty {
		if err := s.pager.WritePage(int(id), fr.page.buf); err != nil {
			panic(errors.Wrapf(err, "failed to write back page %d", id))
		}
		fr.dirty = false
	}
}

// MarkDirty records that the page content changed and must reach disk
// on the next write back.
func (s *Store) MarkDirty(id PageID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fr, ok := s.frames[id]
	if !ok {
		panic(fmt.Errorf("mark dirty of page %d which is not loaded", id))
	}
	fr.dirty = true
}

// FreePage returns the page to the freelist for reuse. The page must
// not be pinned.
func (s *Store) FreePage(id PageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.validID(id) {
		return errors.Wrapf(customerrors.ErrInvalidPageID, "page %d", id)
	}

	if fr, ok := s.frames[id]; ok {
		if fr.pins > 0 {
			return errors.Errorf("cannot free page %d with %d pins", id, fr.pins)
		}
		delete(s.frames, id)
	}

	s.meta.freeList = append(s.meta.freeList, id)
	s.meta.dirty = true
	s.log.Debugf("freed page %d", id)
	return nil
}

// Pins returns the current pin count of the page, 0 if not loaded.
func (s *Store) Pins(id PageID) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fr, ok := s.frames[id]; ok {
		return fr.pins
	}
	return 0
}

// PageCount returns the number of allocated pages including the meta
// page.
func (s *Store) PageCount() int { return int(s.meta.pageCount) }

// Flush writes all dirty frames and the metadata to the underlying
// pager and syncs the file.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, fr := range s.frames {
		if fr.dirty {
			if err := s.pager.WritePage(int(id), fr.page.buf); err != nil {
				return errors.Wrapf(err, "failed to write back page %d", id)
			}
			fr.dirty = false
		}
	}

	if err := s.writeMeta(); err != nil {
		return err
	}

	return s.pager.Flush()
}

// Close flushes any writes and closes the underlying pager.
func (s *Store) Close() error {
	if s.pager == nil {
		return nil
	}

	_ = s.Flush() // write if any frames are pending
	err := s.pager.Close()
	s.pager = nil
	return err
}

func (s *Store) String() string {
	return fmt.Sprintf(
		"Store{file='%s', pages=%d, free=%d}",
		s.file, s.meta.pageCount, len(s.meta.freeList),
	)
}

func (s *Store) validID(id PageID) bool {
	return id != NilPage && uint32(id) < s.meta.pageCount
}

// open reads the store metadata, initializing a fresh store if the
// file is empty.
func (s *Store) open() error {
	if s.pager.Count() == 0 {
		return s.init()
	}

	buf, err := s.pager.ReadPage(0)
	if err != nil {
		return errors.Wrap(err, "failed to read meta page")
	}
	if err := s.meta.UnmarshalBinary(buf); err != nil {
		return errors.Wrap(err, "failed to read meta while opening store")
	}

	// verify metadata
	if s.meta.magic != magic {
		return fmt.Errorf("invalid magic %#x (expected: %#x)", s.meta.magic, magic)
	} else if s.meta.version != version {
		return fmt.Errorf("incompatible version %#x (expected: %#x)", s.meta.version, version)
	} else if int(s.meta.pageSz) != s.pager.PageSize() {
		return errors.New("page size in meta does not match pager")
	}

	return nil
}

// init initializes a new store in the underlying file: page 0 for
// metadata plus any pre-allocated pages, which start out on the
// freelist.
func (s *Store) init() error {
	if _, err := s.pager.Alloc(1 + s.opts.PreAlloc); err != nil {
		return errors.Wrap(err, "failed to allocate initial pages")
	}

	s.meta = &metadata{
		dirty:     true,
		magic:     magic,
		version:   version,
		flags:     0,
		pageSz:    uint32(s.opts.PageSize),
		pageCount: uint32(1 + s.opts.PreAlloc),
	}

	s.meta.freeList = make([]PageID, 0, s.opts.PreAlloc)
	for i := 0; i < s.opts.PreAlloc; i++ {
		s.meta.freeList = append(s.meta.freeList, PageID(i+1)) // +1 since first page reserved
	}

	return s.writeMeta()
}

func (s *Store) writeMeta() error {
	if !s.meta.dirty {
		return nil
	}

	buf, err := s.meta.MarshalBinary()
	if err != nil {
		return errors.Wrap(err, "failed to marshal meta")
	}
	if err := s.pager.WritePage(0, buf); err != nil {
		return errors.Wrap(err, "failed to write meta page")
	}

	s.meta.dirty = false
	return nil
}
