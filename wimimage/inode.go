package wimimage

import (
	"github.com/gowim/gowim/lookup"
	"github.com/gowim/gowim/wimerr"
)

// NoSecurityID marks an inode with no associated security descriptor
// (spec.md §3: "optional security-descriptor ID (-1 = none)").
const NoSecurityID int32 = -1

// AlternateDataStream is one named stream attached to an inode
// (spec.md §3's "ordered list of named alternate data streams").
type AlternateDataStream struct {
	Name  string
	Entry *lookup.Entry
}

// Inode is the file-identity record described in spec.md §3: every
// dentry resolves to exactly one Inode, and an Inode with two or more
// dentries in its link group is a hard-linked regular file.
type Inode struct {
	Number uint64 // inode number; 0 is reserved for filler directories

	Attributes     FileAttr
	CreationTime   FileTime
	LastWriteTime  FileTime
	LastAccessTime FileTime

	HasReparseTag bool
	ReparseTag    uint32

	SecurityID int32 // NoSecurityID if none

	Unnamed *lookup.Entry // nil for an empty file
	Streams []AlternateDataStream

	// LinkGroup is the non-owning list of dentries sharing this inode,
	// replacing the C source's intrusive doubly linked list (spec.md §9).
	LinkGroup []*Dentry
}

// NewInode allocates an inode with no security descriptor and no
// content yet.
func NewInode() *Inode {
	return &Inode{SecurityID: NoSecurityID}
}

// IsDirectory reports whether the directory attribute bit is set.
func (i *Inode) IsDirectory() bool { return i.Attributes.IsDir() }

// IsHardLinked reports whether two or more dentries share this inode.
func (i *Inode) IsHardLinked() bool { return len(i.LinkGroup) >= 2 }

// AddDentry registers d as sharing this inode. It enforces spec.md
// §3/§8's invariant that directories are never hard-linked.
func (i *Inode) AddDentry(d *Dentry) error {
	if i.IsDirectory() && len(i.LinkGroup) >= 1 {
		return wimerr.New(wimerr.KindInvalidDentry, "directory inodes cannot be hard-linked")
	}
	i.LinkGroup = append(i.LinkGroup, d)
	return nil
}

// SetUnnamedStream attaches (or replaces) the inode's unnamed stream.
func (i *Inode) SetUnnamedStream(e *lookup.Entry) { i.Unnamed = e }

// AddNamedStream attaches a named (alternate data) stream.
func (i *Inode) AddNamedStream(name string, e *lookup.Entry) {
	i.Streams = append(i.Streams, AlternateDataStream{Name: name, Entry: e})
}

// ValidateReparseData enforces spec.md §8's boundary rule: a
// reparse-point inode's unnamed stream must decompress to strictly
// less than 0xFFFF bytes (0xFFFE is the largest accepted size).
func (i *Inode) ValidateReparseData() error {
	if !i.Attributes.IsReparsePoint() {
		return nil
	}
	if i.Unnamed == nil {
		return nil
	}
	if i.Unnamed.OriginalSize >= 0xFFFF {
		return wimerr.New(wimerr.KindInvalidDentry, "reparse data stream too large")
	}
	return nil
}
