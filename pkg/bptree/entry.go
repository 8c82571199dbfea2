package bptree

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

const (
	// fixed part of an internal entry: child page id (4) + key length (2)
	internalEntryHeaderSz = 4 + 2
	// fixed part of a leaf entry: record count (2) + key length (2)
	leafEntryHeaderSz = 2 + 2
	// serialized size of a record pointer
	recordPointerSz = 8
	// size of one slot directory element
	slotSz = 2
	// key bytes are stored padded to this boundary
	keyAlign = 4
)

// alignKey returns the padded on-page length of a key.
func alignKey(klen int) int {
	return (klen + keyAlign - 1) &^ (keyAlign - 1)
}

// PageID identifies a page inside the store file. Zero is reserved for
// the store metadata page and doubles as the nil id in leaf links.
type PageID uint32

const NilPage PageID = 0

func (id PageID) IsNil() bool { return id == NilPage }

// RecordPointer locates a single record in a data file. Leaf entries
// carry one pointer per record stored under the key.
type RecordPointer struct {
	PageNo PageID
	SlotNo uint16
	Unique uint16
}

func (rp RecordPointer) marshal(buf []byte) {
	bin.PutUint32(buf[0:4], uint32(rp.PageNo))
	bin.PutUint16(buf[4:6], rp.SlotNo)
	bin.PutUint16(buf[6:8], rp.Unique)
}

func unmarshalRecordPointer(d []byte) RecordPointer {
	return RecordPointer{
		PageNo: PageID(bin.Uint32(d[0:4])),
		SlotNo: bin.Uint16(d[4:6]),
		Unique: bin.Uint16(d[6:8]),
	}
}

// InternalEntry routes all keys >= Key (and < the next entry's key in
// the same page) to Child. It is also the unit a split hands back for
// insertion into the parent page.
type InternalEntry struct {
	Child PageID
	Key   []byte
}

func (e InternalEntry) Size() int {
	return internalEntryHeaderSz + alignKey(len(e.Key))
}

func (e InternalEntry) MarshalBinary() ([]byte, error) {
	if len(e.Key) > math.MaxUint16 {
		return nil, errors.Errorf("key too large (%d bytes)", len(e.Key))
	}

	buf := make([]byte, e.Size())
	bin.PutUint32(buf[0:4], uint32(e.Child))
	bin.PutUint16(buf[4:6], uint16(len(e.Key)))
	copy(buf[internalEntryHeaderSz:], e.Key)
	return buf, nil
}

func (e *InternalEntry) UnmarshalBinary(d []byte) error {
	if len(d) < internalEntryHeaderSz {
		return errors.New("in-sufficient data for internal entry unmarshal")
	}

	klen := int(bin.Uint16(d[4:6]))
	if len(d) < internalEntryHeaderSz+klen {
		return fmt.Errorf("internal entry truncated (key length %d, data %d)", klen, len(d))
	}

	e.Child = PageID(bin.Uint32(d[0:4]))
	e.Key = make([]byte, klen)
	copy(e.Key, d[internalEntryHeaderSz:internalEntryHeaderSz+klen])
	return nil
}

// internalEntryLen reads the on-page length of the internal entry
// starting at d[0].
func internalEntryLen(d []byte) int {
	return internalEntryHeaderSz + alignKey(int(bin.Uint16(d[4:6])))
}

// LeafEntry associates a key with one or more record pointers.
// Duplicates share a key with multiple pointers.
type LeafEntry struct {
	Key     []byte
	Records []RecordPointer
}

func (e LeafEntry) Size() int {
	return leafEntryHeaderSz + alignKey(len(e.Key)) + len(e.Records)*recordPointerSz
}

func (e LeafEntry) MarshalBinary() ([]byte, error) {
	if len(e.Key) > math.MaxUint16 {
		return nil, errors.Errorf("key too large (%d bytes)", len(e.Key))
	} else if len(e.Records) == 0 {
		return nil, errors.New("leaf entry must carry at least one record pointer")
	} else if len(e.Records) > math.MaxUint16 {
		return nil, errors.Errorf("too many record pointers (%d)", len(e.Records))
	}

	buf := make([]byte, e.Size())
	bin.PutUint16(buf[0:2], uint16(len(e.Records)))
	bin.PutUint16(buf[2:4], uint16(len(e.Key)))
	copy(buf[leafEntryHeaderSz:], e.Key)

	offset := leafEntryHeaderSz + alignKey(len(e.Key))
	for i := range e.Records {
		e.Records[i].marshal(buf[offset : offset+recordPointerSz])
		offset += recordPointerSz
	}

	return buf, nil
}

func (e *LeafEntry) UnmarshalBinary(d []byte) error {
	if len(d) < leafEntryHeaderSz {
		return errors.New("in-sufficient data for leaf entry unmarshal")
	}

	nRecords := int(bin.Uint16(d[0:2]))
	klen := int(bin.Uint16(d[2:4]))
	need := leafEntryHeaderSz + alignKey(klen) + nRecords*recordPointerSz
	if len(d) < need {
		return fmt.Errorf("leaf entry truncated (need %d bytes, data %d)", need, len(d))
	}

	e.Key = make([]byte, klen)
	copy(e.Key, d[leafEntryHeaderSz:leafEntryHeaderSz+klen])

	e.Records = make([]RecordPointer, nRecords)
	offset := leafEntryHeaderSz + alignKey(klen)
	for i := 0; i < nRecords; i++ {
		e.Records[i] = unmarshalRecordPointer(d[offset : offset+recordPointerSz])
		offset += recordPointerSz
	}

	return nil
}

// leafEntryLen reads the on-page length of the leaf entry starting
// at d[0].
func leafEntryLen(d []byte) int {
	nRecords := int(bin.Uint16(d[0:2]))
	klen := int(bin.Uint16(d[2:4]))
	return leafEntryHeaderSz + alignKey(klen) + nRecords*recordPointerSz
}
