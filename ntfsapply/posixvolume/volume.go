//go:build !windows && !plan9 && !js

// Package posixvolume implements ntfsapply.Volume against a real POSIX
// directory tree, standing in for an NTFS-3G-mounted volume on a
// platform where linking against NTFS-3G (an external collaborator
// per spec.md §1) isn't available. It is a best-effort backend: POSIX
// has no DOS short names, no ACL-shaped security descriptors, and no
// creation-time field, so SetDosName is a no-op and SetSecurity
// degrades to an extended attribute — the same POSIX-can't-represent-
// Windows-metadata trade-off capture/posix already makes on capture.
//
// Symlink reparse points are the one case this volume can realise
// faithfully: SetReparseData decodes an IO_REPARSE_TAG_SYMLINK buffer
// back to its target string and replaces the placeholder regular file
// with a real POSIX symlink.
package posixvolume

import (
	"encoding/binary"
	"io"
	"os"
	"syscall"
	"time"
	"unicode/utf16"

	"github.com/pkg/xattr"
	"golang.org/x/sys/unix"

	"github.com/gowim/gowim/ntfsapply"
	"github.com/gowim/gowim/wimimage"
)

// reparseTagSymlink mirrors capture.reparseTagSymlink (IO_REPARSE_TAG_SYMLINK,
// MS-FSCC); that constant is unexported, so this package carries its own
// copy of the same well-known Windows value.
const reparseTagSymlink uint32 = 0xA000000C

const securityXattrName = "user.wim.security"

// Volume is a ntfsapply.Volume rooted at Root on the local filesystem.
type Volume struct {
	Root string
}

// New constructs a Volume rooted at root. root must already exist;
// apply's root-dentry handling applies attributes/security to it but
// never creates it.
func New(root string) *Volume {
	return &Volume{Root: root}
}

var _ ntfsapply.Volume = (*Volume)(nil)

func (v *Volume) resolve(path string) string {
	if path == "/" {
		return v.Root
	}
	return v.Root + path
}

func (v *Volume) Create(parentPath, name string, kind ntfsapply.ObjectKind) error {
	full := v.resolve(joinPath(parentPath, name))
	if kind == ntfsapply.ObjectDirectory {
		return os.Mkdir(full, 0o755)
	}
	f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

func (v *Volume) Link(parentPath, name, existingPath string) error {
	return os.Link(v.resolve(existingPath), v.resolve(joinPath(parentPath, name)))
}

func (v *Volume) OpenAttr(path, streamName string) (io.WriteCloser, error) {
	full := v.resolve(path)
	if streamName != "" {
		// POSIX has no ADS concept; store a named stream as a sibling
		// file, the same "suffix a real filename" trick the teacher
		// uses for its own platform gap (backend/local's ".rclonelink"
		// suffix for symlinks read back as plain files).
		full = full + ":" + streamName
	}
	return os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
}

func (v *Volume) SetReparseData(path string, buffer []byte) error {
	full := v.resolve(path)
	if len(buffer) < 8 {
		return os.WriteFile(full+".reparse-data", buffer, 0o644)
	}
	tag := binary.LittleEndian.Uint32(buffer[0:4])
	length := binary.LittleEndian.Uint16(buffer[4:6])
	body := buffer[8 : 8+int(length)]
	if tag != reparseTagSymlink {
		return os.WriteFile(full+".reparse-data", buffer, 0o644)
	}
	target, err := decodeSymlinkTarget(body)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		return err
	}
	return os.Symlink(target, full)
}

// decodeSymlinkTarget mirrors capture.DecodeSymlinkReparseTarget; kept
// local because the capture package's helper is exported for its own
// round-trip tests, not as a stable cross-package API, and this
// package has no other reason to import capture.
func decodeSymlinkTarget(body []byte) (string, error) {
	if len(body) < 12 {
		return "", os.ErrInvalid
	}
	subOff := binary.LittleEndian.Uint16(body[0:])
	subLen := binary.LittleEndian.Uint16(body[2:])
	start := 12 + int(subOff)
	end := start + int(subLen)
	if end > len(body) {
		return "", os.ErrInvalid
	}
	raw := body[start:end]
	u16 := make([]uint16, len(raw)/2)
	for i := range u16 {
		u16[i] = binary.LittleEndian.Uint16(raw[i*2:])
	}
	return string(utf16.Decode(u16)), nil
}

// SetAttributes only has a POSIX-representable analogue for the
// read-only bit; everything else (HIDDEN, SYSTEM, COMPRESSED, ...) has
// no meaning on a plain directory and is silently ignored, matching
// spec.md §1's Non-goal that this module doesn't try to preserve
// filesystem features the target platform can't represent.
//
// A symlink dentry is chmod-ed via lChmod so the link itself is
// touched rather than whatever it points to; os.Chmod always follows
// the final symlink in a path.
func (v *Volume) SetAttributes(path string, attrs wimimage.FileAttr) error {
	full := v.resolve(path)
	info, err := os.Lstat(full)
	if err != nil {
		return err
	}
	mode := info.Mode().Perm()
	if attrs&wimimage.FileAttrReadonly != 0 {
		mode &^= 0o222
	} else {
		mode |= 0o200
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return lChmod(full, mode)
	}
	return os.Chmod(full, mode)
}

// SetSecurity stashes the opaque descriptor bytes in an extended
// attribute; there is no ACL model to apply them to on a generic
// POSIX filesystem. Unsupported xattr platforms degrade to a no-op.
func (v *Volume) SetSecurity(path string, descriptor []byte) error {
	if len(descriptor) == 0 {
		return nil
	}
	err := xattr.Set(v.resolve(path), securityXattrName, descriptor)
	if isXattrUnsupported(err) {
		return nil
	}
	return err
}

// SetDosName is a no-op: POSIX filesystems have no DOS short-name
// concept, the same limitation capture/posix.ShortName documents on
// the capture side.
func (v *Volume) SetDosName(path, shortName string) error { return nil }

func (v *Volume) OpenInode(path string) (ntfsapply.NodeRef, error) {
	return v.resolve(path), nil
}

func (v *Volume) CloseInode(ref ntfsapply.NodeRef) error { return nil }

// SetTimes applies last-write and last-access times. POSIX has no
// portable creation-time setter, so CreationTime cannot be honoured by
// this backend. A symlink dentry is timestamped via lChtimes so the
// link itself is touched rather than whatever it points to.
func (v *Volume) SetTimes(ref ntfsapply.NodeRef, creation, lastWrite, lastAccess wimimage.FileTime) error {
	path := ref.(string)
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return lChtimes(path, lastAccess.Time(), lastWrite.Time())
	}
	return os.Chtimes(path, lastAccess.Time(), lastWrite.Time())
}

// lChtimes changes the access and modification times of a symlink
// itself rather than its target, mirroring the Unix lutimes()/
// utimensat(AT_SYMLINK_NOFOLLOW) family of calls.
func lChtimes(name string, atime, mtime time.Time) error {
	var times [2]unix.Timespec
	times[0] = unix.NsecToTimespec(atime.UnixNano())
	times[1] = unix.NsecToTimespec(mtime.UnixNano())
	if err := unix.UtimesNanoAt(unix.AT_FDCWD, name, times[:], unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return &os.PathError{Op: "lchtimes", Path: name, Err: err}
	}
	return nil
}

func joinPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

func isXattrUnsupported(err error) bool {
	if err == nil {
		return false
	}
	xerr, ok := err.(*xattr.Error)
	if !ok {
		return false
	}
	return xerr.Err == syscall.ENOTSUP || xerr.Err == syscall.EINVAL || xerr.Err == xattr.ENOATTR
}
