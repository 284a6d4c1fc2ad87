// Package lookup implements the SHA-1-indexed content store (the
// "lookup table") described in spec.md §3 and §4.3: stream content is
// stored once per unique digest and shared across images via
// refcounting.
package lookup

import (
	"crypto/sha1"
	"fmt"
	"sync"
)

// Hash is a SHA-1 digest, the key every stream is addressed by.
type Hash [sha1.Size]byte

func (h Hash) String() string {
	return fmt.Sprintf("%x", [sha1.Size]byte(h))
}

// IsZero reports whether h is the zero hash, used as a sentinel for
// "no content" (e.g. a not-yet-hashed placeholder).
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// LocationKind tags which resource-location variant an Entry carries,
// matching spec.md §3's LTE resource-location variants.
type LocationKind int

const (
	// LocationNone marks an LTE with no backing storage yet.
	LocationNone LocationKind = iota
	// LocationOnDisk: the stream lives at a path on a real filesystem.
	LocationOnDisk
	// LocationWin32Handle: the stream is read via an already-open
	// Win32 handle (wide path retained to reopen if needed).
	LocationWin32Handle
	// LocationInWIM: the stream lives inside a WIM resource, described
	// by a ResourceEntry from the (out-of-scope) container reader.
	LocationInWIM
	// LocationAttachedBuffer: the stream's bytes are held directly in
	// memory (used for small synthesized streams such as reparse data).
	LocationAttachedBuffer
)

// ResourceEntry describes where a stream sits inside a WIM container.
// The container format itself (spec.md §1's "out of scope" list) is an
// external collaborator; this struct is the minimal shape the core
// needs to hold a reference to it.
type ResourceEntry struct {
	Offset         int64
	Size           int64
	OriginalSize   int64
	Flags          uint8
}

// Location is the resource-location variant of an Entry.
type Location struct {
	Kind           LocationKind
	OnDiskPath     string
	Win32WidePath  string
	InWIM          ResourceEntry
	AttachedBuffer []byte
}

// Entry is a lookup-table entry (LTE): a content-addressed record
// keyed by SHA-1, shared by every dentry/ADS reference to the same
// bytes (spec.md §3).
type Entry struct {
	Hash           Hash
	RefCount       int64
	Location       Location
	OriginalSize   int64
	CompressedSize int64
}

// Table is the content store: a SHA-1-keyed map of Entry records plus
// the refcounting discipline spec.md §4.3 describes.
//
// The real implementation this is grounded on (wimlib's lookup table)
// is a chained hash table keyed on the hash's first machine word; a Go
// map keyed on the full Hash array gives the same expected-constant
// lookup without hand-rolled chaining.
type Table struct {
	mu      sync.Mutex
	entries map[Hash]*Entry
}

// NewTable constructs an empty content store.
func NewTable() *Table {
	return &Table{entries: make(map[Hash]*Entry)}
}

// Lookup returns the Entry for hash, if any.
func (t *Table) Lookup(hash Hash) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[hash]
	return e, ok
}

// Insert adds a brand-new Entry to the table. It assumes hash is not
// already present; callers that aren't sure should use AddOrRef.
func (t *Table) Insert(e *Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[e.Hash]; exists {
		panic(fmt.Sprintf("lookup: duplicate insert of hash %s", e.Hash))
	}
	t.entries[e.Hash] = e
}

// AddOrRef is the sequence capture uses for every stream it sees:
// look the hash up; if present, increment its refcount and return it;
// otherwise build a fresh Entry via factory, insert it with refcount 1,
// and return it. The empty stream must never reach AddOrRef (spec.md
// §3: "the empty stream is not inserted") — callers are expected to
// skip zero-length streams themselves.
func (t *Table) AddOrRef(hash Hash, factory func() *Entry) *Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[hash]; ok {
		e.RefCount++
		return e
	}
	e := factory()
	e.Hash = hash
	e.RefCount = 1
	t.entries[hash] = e
	return e
}

// Ref increments an already-known entry's refcount without going
// through AddOrRef's factory path. An unknown hash is ignored.
func (t *Table) Ref(hash Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[hash]; ok {
		e.RefCount++
	}
}

// Unref decrements hash's refcount, removing the entry once it drops
// to zero, matching the cleanup free_dentry_tree performs on a failed
// capture (spec.md §5).
func (t *Table) Unref(hash Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[hash]
	if !ok {
		return
	}
	e.RefCount--
	if e.RefCount <= 0 {
		delete(t.entries, hash)
	}
}

// Len returns the number of distinct streams currently tracked.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
