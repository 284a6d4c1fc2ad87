//go:build !windows && !plan9 && !js

// Package posix implements capture.Source against a generic POSIX
// filesystem, the one capture back-end this module ships in full
// (spec.md §4.4 step 2; Win32 and NTFS-3G-volume back-ends share the
// same capture.Source contract but are documented rather than
// implemented, per SPEC_FULL.md's MODULE LAYOUT).
//
// Grounded on backend/local/local.go's walking/hashing conventions,
// backend/local/linkinfo_unix.go's Stat_t-based hard-link detection,
// and backend/local/xattr.go's github.com/pkg/xattr usage for
// UNIX_DATA metadata capture.
package posix

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"syscall"

	"github.com/pkg/xattr"
	"github.com/sirupsen/logrus"

	"github.com/gowim/gowim/capture"
	"github.com/gowim/gowim/wimimage"
)

// Source walks a generic POSIX filesystem. UnixData, when true,
// captures the extended attributes in the "user." namespace (stored
// under their full key names; other namespaces are skipped) and
// exposes them as security-descriptor bytes via ReadSecurity. Owner,
// group and mode bits are not captured.
type Source struct {
	UnixData bool
	log      *logrus.Entry
}

// New constructs a POSIX capture source.
func New(unixData bool) *Source {
	return &Source{UnixData: unixData, log: logrus.WithField("component", "capture.posix")}
}

var _ capture.Source = (*Source)(nil)

func toStatInfo(fi os.FileInfo, kind capture.NodeKind) capture.StatInfo {
	info := capture.StatInfo{
		Kind:          kind,
		Size:          fi.Size(),
		LastWriteTime: fi.ModTime(),
	}
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		info.LinkKey = capture.HardLinkKey{Device: uint64(st.Dev), Inode: st.Ino}
		info.HasLinkKey = kind == capture.KindRegular
		info.CreationTime = statCtime(st)
		info.LastAccessTime = statAtime(st)
		if info.CreationTime.IsZero() {
			info.CreationTime = fi.ModTime()
		}
		if info.LastAccessTime.IsZero() {
			info.LastAccessTime = fi.ModTime()
		}
	} else {
		info.CreationTime = fi.ModTime()
		info.LastAccessTime = fi.ModTime()
	}
	if kind == capture.KindDirectory {
		info.Attributes = wimimage.FileAttrDirectory
	}
	return info
}

func classify(fi os.FileInfo) capture.NodeKind {
	switch {
	case fi.Mode()&os.ModeSymlink != 0:
		return capture.KindSymlink
	case fi.IsDir():
		return capture.KindDirectory
	case fi.Mode().IsRegular():
		return capture.KindRegular
	default:
		return capture.KindSpecial
	}
}

// Stat implements capture.Source with lstat semantics (does not follow
// a trailing symlink).
func (s *Source) Stat(path string) (capture.StatInfo, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return capture.StatInfo{}, err
	}
	return toStatInfo(fi, classify(fi)), nil
}

// StatFollow implements capture.Source with stat semantics (follows a
// trailing symlink).
func (s *Source) StatFollow(path string) (capture.StatInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if isCircularSymlinkError(err) {
			return capture.StatInfo{}, fmt.Errorf("circular symlink: %w", err)
		}
		return capture.StatInfo{}, err
	}
	return toStatInfo(fi, classify(fi)), nil
}

// isCircularSymlinkError reports whether err is ELOOP, the error the
// kernel returns when resolving a path walks into a symlink cycle.
// FlagDereference hits this whenever a captured symlink points at
// itself (directly or through a longer chain).
func isCircularSymlinkError(err error) bool {
	var pathErr *os.PathError
	if !errors.As(err, &pathErr) {
		return false
	}
	errno, ok := pathErr.Err.(syscall.Errno)
	return ok && errno == syscall.ELOOP
}

// Open opens path's unnamed content for reading. The returned reader
// is advised sequential on Linux, matching the read pattern the
// builder actually uses (a single pass through SHA-1), and has its
// pages dropped from cache behind it so hashing a large source tree
// doesn't leave it all resident afterwards.
func (s *Source) Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return wrapSequentialRead(f, s.log), nil
}

// Readdir lists path's immediate children, sorted for deterministic
// output; os.ReadDir already excludes "." and "..".
func (s *Source) Readdir(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// ReadLink reads a symlink's target.
func (s *Source) ReadLink(path string) (string, error) {
	return os.Readlink(path)
}

// Streams always reports no named streams: POSIX filesystems have no
// NTFS-style alternate data streams, Extended attributes are instead
// surfaced through ReadSecurity when UnixData is set.
func (s *Source) Streams(path string) ([]string, error) {
	return nil, nil
}

// OpenStream never succeeds: Streams always returns none.
func (s *Source) OpenStream(path, streamName string) (io.ReadCloser, error) {
	return nil, os.ErrNotExist
}

// ReadReparse is unused on POSIX sources: symlinks are captured via
// ReadLink and translated by the capture engine itself.
func (s *Source) ReadReparse(path string) ([]byte, error) {
	return nil, nil
}

// ReadSecurity returns a serialized extended-attribute set when
// UnixData is enabled, following backend/local/xattr.go's convention
// of a "user."-prefixed namespace with system keys excluded. Returns
// (nil, nil) when UnixData is off or the platform has no xattr
// support, matching the "best effort" capability spec.md's Source
// contract allows for a capability a given platform doesn't have.
func (s *Source) ReadSecurity(path string) ([]byte, error) {
	if !s.UnixData {
		return nil, nil
	}
	list, err := xattr.LList(path)
	if err != nil {
		if isXattrUnsupported(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return encodeXattrSet(path, list)
}

// ShortName: POSIX filesystems have no DOS short-name concept.
func (s *Source) ShortName(path string) (string, error) {
	return "", nil
}

func isXattrUnsupported(err error) bool {
	xerr, ok := err.(*xattr.Error)
	if !ok {
		return false
	}
	return xerr.Err == syscall.ENOTSUP || xerr.Err == syscall.EINVAL || xerr.Err == xattr.ENOATTR
}
