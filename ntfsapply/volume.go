// Package ntfsapply implements the two-pass apply-to-NTFS engine
// described in spec.md §4.5: materialise an in-memory image onto an
// NTFS volume, reproducing hard links, ADS, reparse data, short names,
// attributes, security descriptors, and timestamps.
//
// NTFS-3G itself is an external collaborator (spec.md §1): this
// package never binds to it directly (no cgo), it only defines the
// Volume contract the engine drives and the traversal/ordering/error
// rules spec.md §4.5 and §7 specify. A real binding implements Volume.
package ntfsapply

import (
	"io"

	"github.com/gowim/gowim/wimimage"
)

// ObjectKind is the NTFS object type Volume.Create is asked to make.
type ObjectKind int

const (
	ObjectRegular ObjectKind = iota
	ObjectDirectory
)

// NodeRef is an opaque handle a Volume implementation hands back for
// an open inode, passed to SetTimes/CloseInode. The engine never
// inspects it.
type NodeRef any

// Volume is the NTFS-3G-shaped contract spec.md §4.5 drives through
// ntfs_create/ntfs_link/ntfs_attr_open/ntfs_set_ntfs_reparse_data/
// ntfs_inode_set_attributes/ntfs_set_ntfs_dos_name/ntfs_inode_open/
// ntfs_inode_close. One call per named operation; no batching.
type Volume interface {
	// Create makes a new, empty object of kind named name inside the
	// directory at parentPath.
	Create(parentPath, name string, kind ObjectKind) error
	// Link creates a hard link named name inside parentPath pointing
	// at the object already extracted at existingPath.
	Link(parentPath, name, existingPath string) error
	// OpenAttr opens a data stream for writing: streamName == "" is
	// the unnamed stream, anything else is a named ADS. The returned
	// writer starts at offset 0 on an empty stream.
	OpenAttr(path, streamName string) (io.WriteCloser, error)
	// SetReparseData sets the full reparse buffer (8-byte header plus
	// body) on path.
	SetReparseData(path string, buffer []byte) error
	// SetAttributes applies a Windows file-attribute bitmask to path.
	SetAttributes(path string, attrs wimimage.FileAttr) error
	// SetSecurity applies descriptor bytes to path with
	// OWNER|GROUP|DACL|SACL selection (spec.md §6).
	SetSecurity(path string, descriptor []byte) error
	// SetDosName binds shortName (already UTF-8) to path.
	SetDosName(path, shortName string) error
	// OpenInode opens path's inode, returning a handle for SetTimes
	// and a subsequent CloseInode.
	OpenInode(path string) (NodeRef, error)
	// CloseInode closes a handle returned by OpenInode.
	CloseInode(ref NodeRef) error
	// SetTimes writes the (creation, last_write, last_access) triple
	// onto ref.
	SetTimes(ref NodeRef, creation, lastWrite, lastAccess wimimage.FileTime) error
}
