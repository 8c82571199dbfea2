// Package pager provides file I/O in units of fixed size pages over a
// memory mapped file.
package pager

import (
	"fmt"
	"os"

	"go-btm/util/helpers"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
)

// growth chunk in pages, to amortize truncate/remap overhead
const minGrowth = 8

// Open opens the named file as a paged file. File is created if it
// does not exist. PageSize must match the value the file was created
// with.
func Open(fileName string, pageSize int, readOnly bool, mode os.FileMode) (*Pager, error) {
	if pageSize <= 0 || pageSize%512 != 0 {
		return nil, fmt.Errorf("invalid page size %d (must be positive multiple of 512)", pageSize)
	}

	flag := os.O_CREATE | os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}

	f, err := os.OpenFile(fileName, flag, mode)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open page file")
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, "failed to stat page file")
	} else if fi.Size()%int64(pageSize) != 0 {
		_ = f.Close()
		return nil, fmt.Errorf("file size %d is not a multiple of page size %d", fi.Size(), pageSize)
	}

	p := &Pager{
		file:     f,
		pageSize: pageSize,
		count:    int(fi.Size()) / pageSize,
		readOnly: readOnly,
	}

	if p.count > 0 {
		if err := p.mapFile(); err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	return p, nil
}

// Pager provides access to a file in units of fixed size pages.
type Pager struct {
	file     *os.File
	mem      mmap.MMap
	pageSize int
	count    int
	readOnly bool
}

func (p *Pager) PageSize() int { return p.pageSize }

// Count returns the number of pages in the file.
func (p *Pager) Count() int { return p.count }

func (p *Pager) ReadOnly() bool { return p.readOnly }

// Alloc extends the file by at least n pages and returns the id of the
// first page in the extension. Growth happens in chunks so repeated
// single page allocations do not remap every time.
func (p *Pager) Alloc(n int) (int, error) {
	if p.readOnly {
		return 0, errors.New("cannot allocate in read-only mode")
	} else if n <= 0 {
		return 0, fmt.Errorf("invalid allocation size %d", n)
	}

	id := p.count
	grow := helpers.Max(n, minGrowth)

	if p.mem != nil {
		if err := p.mem.Unmap(); err != nil {
			return 0, errors.Wrap(err, "failed to unmap before grow")
		}
		p.mem = nil
	}

	size := int64(p.count+grow) * int64(p.pageSize)
	if err := p.file.Truncate(size); err != nil {
		return 0, errors.Wrap(err, "failed to grow page file")
	}
	p.count += grow

	if err := p.mapFile(); err != nil {
		return 0, err
	}

	return id, nil
}

// ReadPage returns a copy of the page with the given id. The returned
// buffer is owned by the caller.
func (p *Pager) ReadPage(id int) ([]byte, error) {
	s, err := p.slice(id)
	if err != nil {
		return nil, err
	}

	d := make([]byte, p.pageSize)
	copy(d, s)
	return d, nil
}

// WritePage copies the given buffer into the page with the given id.
func (p *Pager) WritePage(id int, d []byte) error {
	if p.readOnly {
		return errors.New("cannot write in read-only mode")
	} else if len(d) != p.pageSize {
		return fmt.Errorf("invalid page buffer size %d (page size %d)", len(d), p.pageSize)
	}

	s, err := p.slice(id)
	if err != nil {
		return err
	}

	copy(s, d)
	return nil
}

// Flush syncs the mapped file to disk.
func (p *Pager) Flush() error {
	if p.mem == nil || p.readOnly {
		return nil
	}
	return errors.Wrap(p.mem.Flush(), "failed to flush mmap")
}

// Close flushes and closes the underlying file.
func (p *Pager) Close() error {
	if p.file == nil {
		return nil
	}

	_ = p.Flush()
	if p.mem != nil {
		_ = p.mem.Unmap()
		p.mem = nil
	}

	err := p.file.Close()
	p.file = nil
	return err
}

func (p *Pager) slice(id int) ([]byte, error) {
	if id < 0 || id >= p.count {
		return nil, fmt.Errorf("non-existent page id %d (page count %d)", id, p.count)
	}

	from := id * p.pageSize
	return p.mem[from : from+p.pageSize], nil
}

func (p *Pager) mapFile() error {
	m, err := mmap.Map(p.file, protFlags(p.readOnly), 0)
	if err != nil {
		return errors.Wrap(err, "failed to mmap page file")
	}

	p.mem = m
	return nil
}

func protFlags(readOnly bool) int {
	if readOnly {
		return mmap.RDONLY
	}
	return mmap.RDWR
}
