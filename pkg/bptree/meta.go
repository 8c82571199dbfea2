package bptree

import (
	"github.com/OneOfOne/xxhash"
	"github.com/pkg/errors"

	"go-btm/util/helpers"
	"go-btm/util/logger"
)

const (
	magic   = 0xB7EE
	version = uint8(0x1)
	// checksum (4) + magic (2) + version (1) + flags (1) +
	// page size (4) + page count (4) + freelist length (4)
	metadataHeaderSz = 20
)

// metadata occupies page 0 of the store file. Unlike index pages its
// layout is private to this implementation, so it carries an integrity
// checksum over the payload.
type metadata struct {
	// temporary state info
	dirty bool

	// actual metadata
	magic     uint16
	version   uint8
	flags     uint8
	pageSz    uint32
	pageCount uint32   // pages handed out, including this one
	freeList  []PageID // allocated then freed pages, ready for reuse
}

func (m *metadata) MarshalBinary() ([]byte, error) {
	buf := make([]byte, m.pageSz)

	// verify that the free list can fit inside the meta page.
	maxFree := (int(m.pageSz) - metadataHeaderSz) / 4
	if len(m.freeList) > maxFree {
		logger.L.Warnf("truncating free list since it doesn't fit in meta page (%d entries)", len(m.freeList))
	}
	nFree := helpers.Min(len(m.freeList), maxFree)

	bin.PutUint16(buf[4:6], m.magic)
	buf[6] = m.version
	buf[7] = m.flags
	bin.PutUint32(buf[8:12], m.pageSz)
	bin.PutUint32(buf[12:16], m.pageCount)
	bin.PutUint32(buf[16:20], uint32(nFree))

	offset := metadataHeaderSz
	for i := 0; i < nFree; i++ {
		bin.PutUint32(buf[offset:offset+4], uint32(m.freeList[i]))
		offset += 4
	}

	bin.PutUint32(buf[0:4], xxhash.Checksum32(buf[4:]))
	return buf, nil
}

func (m *metadata) UnmarshalBinary(d []byte) error {
	if len(d) < metadataHeaderSz {
		return errors.New("in-sufficient data for metadata unmarshal")
	} else if m == nil {
		return errors.New("cannot unmarshal into nil metadata")
	}

	if sum := xxhash.Checksum32(d[4:]); sum != bin.Uint32(d[0:4]) {
		return errors.Errorf("meta page checksum mismatch (%#x != %#x)", sum, bin.Uint32(d[0:4]))
	}

	m.magic = bin.Uint16(d[4:6])
	m.version = d[6]
	m.flags = d[7]
	m.pageSz = bin.Uint32(d[8:12])
	m.pageCount = bin.Uint32(d[12:16])

	m.freeList = make([]PageID, bin.Uint32(d[16:20]))
	offset := metadataHeaderSz
	for i := range m.freeList {
		m.freeList[i] = PageID(bin.Uint32(d[offset : offset+4]))
		offset += 4
	}

	return nil
}
