package lookup

import (
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hashOf(s string) Hash {
	return Hash(sha1.Sum([]byte(s)))
}

func TestAddOrRefSharesIdenticalContent(t *testing.T) {
	tbl := NewTable()
	h := hashOf("hello\n")

	e1 := tbl.AddOrRef(h, func() *Entry {
		return &Entry{OriginalSize: 6, Location: Location{Kind: LocationOnDisk, OnDiskPath: "/tmp/x"}}
	})
	require.Equal(t, int64(1), e1.RefCount)

	e2 := tbl.AddOrRef(h, func() *Entry {
		t.Fatal("factory should not run on second sighting")
		return nil
	})
	assert.Same(t, e1, e2)
	assert.Equal(t, int64(2), e1.RefCount)
	assert.Equal(t, 1, tbl.Len())
}

func TestUnrefRemovesAtZero(t *testing.T) {
	tbl := NewTable()
	h := hashOf("data")
	tbl.AddOrRef(h, func() *Entry { return &Entry{OriginalSize: 4} })
	tbl.Ref(h)
	assert.Equal(t, 1, tbl.Len())

	tbl.Unref(h)
	_, ok := tbl.Lookup(h)
	assert.True(t, ok, "refcount 1 remaining, entry should survive")

	tbl.Unref(h)
	_, ok = tbl.Lookup(h)
	assert.False(t, ok, "refcount reached zero, entry should be gone")
}

func TestDistinctHashesAreDistinctEntries(t *testing.T) {
	tbl := NewTable()
	a := tbl.AddOrRef(hashOf("a"), func() *Entry { return &Entry{OriginalSize: 1} })
	b := tbl.AddOrRef(hashOf("b"), func() *Entry { return &Entry{OriginalSize: 1} })
	assert.NotEqual(t, a.Hash, b.Hash)
	assert.Equal(t, 2, tbl.Len())
}
