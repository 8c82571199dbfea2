package bptree

import (
	"testing"

	"go-btm/pkg/customerrors"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestPage_Format(t *testing.T) {
	p := newPage(make([]byte, 256))

	p.Format(7, true, false)
	require.Equal(t, PageID(7), p.ID())
	require.True(t, p.IsLeaf())
	require.False(t, p.IsRoot())
	require.Equal(t, 0, p.NumSlots())
	require.Equal(t, NilPage, p.Prev())
	require.Equal(t, NilPage, p.Next())
	require.Equal(t, 256-leafHeaderSz, p.Capacity())

	p.Format(9, false, true)
	require.Equal(t, PageID(9), p.ID())
	require.False(t, p.IsLeaf())
	require.True(t, p.IsRoot())
	require.Equal(t, NilPage, p.LeftmostChild())
	require.Equal(t, 256-internalHeaderSz, p.Capacity())
}

func TestPage_AppendInternal(t *testing.T) {
	p := newPage(make([]byte, 256))
	p.Format(1, false, false)
	p.SetLeftmostChild(100)

	entries := []InternalEntry{
		{Child: 110, Key: []byte("10")},
		{Child: 120, Key: []byte("20")},
		{Child: 130, Key: []byte("30")},
	}
	for _, e := range entries {
		require.NoError(t, p.AppendInternalEntry(e))
	}

	require.Equal(t, 3, p.NumSlots())
	require.Equal(t, PageID(100), p.LeftmostChild())

	for i, want := range entries {
		got, err := p.InternalEntryAt(i)
		require.NoError(t, err)
		require.Equal(t, want, got)
		require.Equal(t, want.Key, p.KeyAt(i))
	}

	used := 0
	for _, e := range entries {
		used += e.Size() + slotSz
	}
	require.Equal(t, used, p.Used())
	require.Equal(t, p.Capacity()-used, p.FreeSpace())
}

func TestPage_AppendLeaf(t *testing.T) {
	p := newPage(make([]byte, 256))
	p.Format(2, true, false)

	e := LeafEntry{
		Key: []byte("hello"),
		Records: []RecordPointer{
			{PageNo: 3, SlotNo: 1, Unique: 9},
			{PageNo: 3, SlotNo: 2, Unique: 10},
		},
	}
	require.NoError(t, p.AppendLeafEntry(e))

	got, err := p.LeafEntryAt(0)
	require.NoError(t, err)
	require.Equal(t, e, got)
	// 2 + 2 header, "hello" padded to 8, two pointers
	require.Equal(t, 4+8+16, e.Size())
}

func TestPage_Full(t *testing.T) {
	p := newPage(make([]byte, 64))
	p.Format(1, true, false)

	e := LeafEntry{Key: []byte("k"), Records: []RecordPointer{{PageNo: 1}}}
	require.NoError(t, p.AppendLeafEntry(e))
	require.NoError(t, p.AppendLeafEntry(e))

	err := p.AppendLeafEntry(e)
	require.Error(t, err)
	require.True(t, errors.Is(err, customerrors.ErrPageFull))
	require.Equal(t, 2, p.NumSlots())
}

func TestPage_BoundsViolationsPanic(t *testing.T) {
	p := newPage(make([]byte, 128))
	p.Format(1, true, false)

	require.Panics(t, func() { p.slotOffset(0) })
	require.Panics(t, func() { p.section(0, p.Capacity()+1) })
	require.Panics(t, func() { p.section(-1, 4) })
	require.Panics(t, func() { p.LeftmostChild() })

	p.Format(1, false, false)
	require.Panics(t, func() { p.Next() })
	require.Panics(t, func() { p.SetPrev(3) })
}

func TestInternalEntry_Binary(t *testing.T) {
	original := InternalEntry{Child: 42, Key: []byte("abc")}

	d, err := original.MarshalBinary()
	require.NoError(t, err)
	// child + klen + "abc" padded to 4
	require.Len(t, d, 10)

	got := InternalEntry{}
	require.NoError(t, got.UnmarshalBinary(d))
	require.Equal(t, original, got)
	require.Equal(t, 10, internalEntryLen(d))

	require.Error(t, got.UnmarshalBinary(d[:4]))
}

func TestLeafEntry_Binary(t *testing.T) {
	original := LeafEntry{
		Key:     []byte("world"),
		Records: []RecordPointer{{PageNo: 7, SlotNo: 3, Unique: 1}},
	}

	d, err := original.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, d, original.Size())

	got := LeafEntry{}
	require.NoError(t, got.UnmarshalBinary(d))
	require.Equal(t, original, got)
	require.Equal(t, original.Size(), leafEntryLen(d))

	_, err = LeafEntry{Key: []byte("x")}.MarshalBinary()
	require.Error(t, err, "leaf entry without record pointers must not marshal")
}
