// Package capture implements the platform-dispatched capture engine
// described in spec.md §4.4: walking a source tree into a dentry tree,
// inode table, content store, and security-descriptor set.
package capture

import (
	"io"
	"time"

	"github.com/gowim/gowim/wimerr"
	"github.com/gowim/gowim/wimimage"
)

// Flags mirrors the add_image flag set in spec.md §6.
type Flags uint32

const (
	FlagNTFS Flags = 1 << iota
	FlagDereference
	FlagVerbose
	FlagBoot
	FlagUnixData
	flagRoot   // internal: this call is capturing a branch root
	flagSource // internal: part of a multi-source capture
)

// Validate enforces spec.md §6: NTFS combined with DEREFERENCE or
// UNIX_DATA is a parameter error, since NTFS-volume capture already
// reads POSIX owner/group semantics a different way.
func (f Flags) Validate() error {
	if f&FlagNTFS != 0 && f&(FlagDereference|FlagUnixData) != 0 {
		return wimerr.New(wimerr.KindInvalidParam, "NTFS flag is incompatible with DEREFERENCE or UNIX_DATA")
	}
	return nil
}

// NodeKind is the filesystem object kind a Source.Stat call reports.
type NodeKind int

const (
	KindRegular NodeKind = iota
	KindDirectory
	KindSymlink
	KindSpecial
)

// HardLinkKey identifies shared inode identity on platforms that
// expose one (POSIX (dev, ino); NTFS volumes their own file reference
// number). Two stat results with an equal HardLinkKey and HasLinkKey
// set name the same underlying file.
type HardLinkKey struct {
	Device uint64
	Inode  uint64
}

// StatInfo is the subset of filesystem metadata the capture engine
// needs from any Source implementer, independent of platform.
type StatInfo struct {
	Kind           NodeKind
	Size           int64
	Attributes     wimimage.FileAttr
	CreationTime   time.Time
	LastWriteTime  time.Time
	LastAccessTime time.Time
	LinkKey        HardLinkKey
	HasLinkKey     bool
}

// Source is the polymorphic capture source spec.md §9's Design Notes
// call for: "a polymorphic capture source with capability set {stat,
// open, readdir/enumerate_streams, read_stream, read_reparse,
// read_security, read_short_name} and a factory per platform". This
// module ships the POSIX implementer (capture/posix); Windows and
// NTFS-3G-volume implementers share this same contract (spec.md §4.4
// steps 7-8) but are documented rather than implemented, consistent
// with spec.md §1 treating Win32 and NTFS-3G as external collaborators.
type Source interface {
	// Stat returns identity/attribute info for path, not following a
	// trailing symlink (lstat semantics).
	Stat(path string) (StatInfo, error)
	// StatFollow is Stat but follows a trailing symlink (stat
	// semantics), used to decide whether a symlink's target is itself
	// a directory (spec.md §4.4 step 6).
	StatFollow(path string) (StatInfo, error)
	// Open opens the unnamed data stream of a regular file for reading.
	Open(path string) (io.ReadCloser, error)
	// Readdir lists a directory's immediate child names ("." and ".."
	// already excluded), in the order the source chooses (capture/posix
	// sorts them by name); children are added in that order.
	Readdir(path string) ([]string, error)
	// ReadLink reads a symbolic link's target (POSIX sources only).
	ReadLink(path string) (string, error)
	// Streams enumerates named (ADS) stream names for path. A POSIX
	// source always returns an empty slice.
	Streams(path string) ([]string, error)
	// OpenStream opens a named stream for reading.
	OpenStream(path, streamName string) (io.ReadCloser, error)
	// ReadReparse reads the raw reparse-tag body (header already
	// stripped) for a reparse-point path.
	ReadReparse(path string) ([]byte, error)
	// ReadSecurity reads the raw security-descriptor bytes for path.
	// A source with no security model returns (nil, nil).
	ReadSecurity(path string) ([]byte, error)
	// ShortName reads path's DOS short name, or "" if none/unsupported.
	ShortName(path string) (string, error)
}
