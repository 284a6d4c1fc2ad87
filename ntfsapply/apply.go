package ntfsapply

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/gowim/gowim/lookup"
	"github.com/gowim/gowim/wimerr"
	"github.com/gowim/gowim/wimimage"
)

// Flags gates apply_image_to_ntfs_volume's behaviour (spec.md §6).
type Flags uint32

const (
	// FlagSymlink and FlagHardlink exist only because spec.md §6 calls
	// out that the SYMLINK and HARDLINK image-export flags are
	// INVALID_PARAM on the apply-to-NTFS path: NTFS-3G always realises
	// a reparse point or hard link natively, there is no degraded mode
	// to opt into.
	FlagSymlink Flags = 1 << iota
	FlagHardlink
)

// Validate rejects SYMLINK/HARDLINK, the only flags spec.md §6 singles
// out as invalid for this particular operation.
func (f Flags) Validate() error {
	if f&(FlagSymlink|FlagHardlink) != 0 {
		return wimerr.New(wimerr.KindInvalidParam, "SYMLINK/HARDLINK flags are invalid when applying to an NTFS volume")
	}
	return nil
}

// AllImages mirrors spec.md §6's ALL_IMAGES sentinel, which
// apply_image_to_ntfs_volume explicitly rejects: an NTFS volume has
// exactly one root, so there is no "apply every image" behaviour to
// fall back on.
const AllImages = -1

// Apply applies images.Images[imageIndex] onto v. imageIndex is
// 0-based; passing AllImages is INVALID_PARAM per spec.md §6.
func Apply(v Volume, images *wimimage.ImageSet, imageIndex int, flags Flags) error {
	if imageIndex == AllImages {
		return wimerr.New(wimerr.KindInvalidParam, "image_index == ALL_IMAGES is not valid for apply_image_to_ntfs_volume")
	}
	if err := flags.Validate(); err != nil {
		return err
	}
	if imageIndex < 0 || imageIndex >= images.Count() {
		return wimerr.New(wimerr.KindInvalidParam, "image index out of range")
	}
	img := images.Images[imageIndex]

	a := &applier{
		volume: v,
		sds:    img.SecurityDescriptors,
		done:   make(map[*wimimage.Dentry]bool),
		firstExtractedPath: make(map[*wimimage.Inode]string),
		log:    logrus.WithField("component", "ntfsapply"),
	}
	if err := a.pass1(img.Root); err != nil {
		return err
	}
	if err := a.pass2(img.Root); err != nil {
		return err
	}
	// spec.md §7: an inode_close failure encountered during cleanup
	// promotes an otherwise-successful apply to NTFS_3G.
	if a.closeErr != nil {
		return wimerr.Wrap(wimerr.KindNTFS3G, "inode_close", a.closeErr)
	}
	return nil
}

// applier carries the per-apply state the two-pass traversal needs:
// which dentries have already been materialised, and which path holds
// the first (non-linked) extraction of a given hard-linked inode.
type applier struct {
	volume Volume
	sds    *wimimage.SecurityDescriptorSet

	done               map[*wimimage.Dentry]bool
	firstExtractedPath map[*wimimage.Inode]string
	closeErr           error

	log *logrus.Entry
}

// recordCloseErr remembers the first inode_close failure seen; it does
// not abort the traversal, matching spec.md §4.5's note that a close
// failure is reported only by promoting the overall return code.
func (a *applier) recordCloseErr(err error) {
	if err == nil {
		return
	}
	a.log.WithError(err).Warn("ntfs_inode_close failed")
	if a.closeErr == nil {
		a.closeErr = err
	}
}

// pass1 is the pre-order traversal spec.md §4.5 describes: create
// (or link) every non-root dentry, then apply its attributes,
// security descriptor, and DOS name before descending into children.
// The root dentry already exists on the target volume, so it only
// receives attributes/security.
func (a *applier) pass1(d *wimimage.Dentry) error {
	if d.IsRoot() {
		if err := a.applyAttributesAndSecurity(d.FullPath(), d.Inode); err != nil {
			return err
		}
	} else if err := a.extract(d); err != nil {
		return err
	}
	for _, child := range d.SortedChildren() {
		if err := a.pass1(child); err != nil {
			return err
		}
	}
	return nil
}

// extract materialises d, first extracting any not-yet-extracted,
// short-named sibling in the same hard-link group and parent
// directory (spec.md §4.5's hard-link pre-application rule: binding a
// DOS name onto the wrong member of a link group is fatal later, so
// the short-named member goes first whenever one exists).
func (a *applier) extract(d *wimimage.Dentry) error {
	if a.done[d] {
		return nil
	}
	if d.Inode.IsHardLinked() {
		for _, sib := range d.Inode.LinkGroup {
			if sib == d || a.done[sib] || sib.ShortName == "" {
				continue
			}
			if sib.Parent() != d.Parent() {
				continue
			}
			if err := a.extract(sib); err != nil {
				return err
			}
		}
	}
	return a.doExtract(d)
}

func (a *applier) doExtract(d *wimimage.Dentry) error {
	if a.done[d] {
		return nil
	}
	fullPath := d.FullPath()
	parentPath := d.Parent().FullPath()
	ino := d.Inode

	isLink := false
	switch {
	case ino.Attributes.IsReparsePoint():
		if err := a.volume.Create(parentPath, d.Name, ObjectRegular); err != nil {
			return wimerr.Wrap(wimerr.KindNTFS3G, "ntfs_create", err)
		}
		if err := a.writeReparseData(fullPath, ino); err != nil {
			return err
		}
	case ino.IsDirectory():
		if err := a.volume.Create(parentPath, d.Name, ObjectDirectory); err != nil {
			return wimerr.Wrap(wimerr.KindNTFS3G, "ntfs_create", err)
		}
	default:
		if existing, ok := a.firstExtractedPath[ino]; ok {
			if err := a.volume.Link(parentPath, d.Name, existing); err != nil {
				return wimerr.Wrap(wimerr.KindNTFS3G, "ntfs_link", err)
			}
			isLink = true
		} else {
			if err := a.volume.Create(parentPath, d.Name, ObjectRegular); err != nil {
				return wimerr.Wrap(wimerr.KindNTFS3G, "ntfs_create", err)
			}
			a.firstExtractedPath[ino] = fullPath
			if err := a.writeStreams(fullPath, ino); err != nil {
				return err
			}
		}
	}

	if err := a.applyAttributesAndSecurity(fullPath, ino); err != nil {
		return err
	}

	if d.ShortName != "" {
		if err := a.setDosName(fullPath, parentPath, isLink, d.ShortName); err != nil {
			return err
		}
	}

	a.done[d] = true
	return nil
}

// setDosName binds shortName onto fullPath. When the dentry being
// bound is a freshly created hard link, the parent and child inodes
// are closed and re-opened by path first: NTFS-3G resolves a DOS name
// through the parent's index, and an inode opened before the link was
// created can be stale (spec.md §4.5).
func (a *applier) setDosName(fullPath, parentPath string, isLink bool, shortName string) error {
	if isLink {
		parentRef, err := a.volume.OpenInode(parentPath)
		if err != nil {
			return wimerr.Wrap(wimerr.KindNTFS3G, "ntfs_inode_open", err)
		}
		childRef, err := a.volume.OpenInode(fullPath)
		if err != nil {
			a.recordCloseErr(a.volume.CloseInode(parentRef))
			return wimerr.Wrap(wimerr.KindNTFS3G, "ntfs_inode_open", err)
		}
		a.recordCloseErr(a.volume.CloseInode(childRef))
		a.recordCloseErr(a.volume.CloseInode(parentRef))
	}
	if err := a.volume.SetDosName(fullPath, shortName); err != nil {
		return wimerr.Wrap(wimerr.KindNTFS3G, "ntfs_set_ntfs_dos_name", err)
	}
	return nil
}

// applyAttributesAndSecurity applies the Windows attribute bitmask and,
// if present, the inode's security descriptor.
func (a *applier) applyAttributesAndSecurity(path string, ino *wimimage.Inode) error {
	if err := a.volume.SetAttributes(path, ino.Attributes); err != nil {
		return wimerr.Wrap(wimerr.KindNTFS3G, "ntfs_inode_set_attributes", err)
	}
	if ino.SecurityID == wimimage.NoSecurityID {
		return nil
	}
	desc, ok := a.sds.Get(int(ino.SecurityID))
	if !ok {
		return wimerr.New(wimerr.KindInvalidDentry, "unknown security descriptor id")
	}
	if err := a.volume.SetSecurity(path, desc); err != nil {
		return wimerr.Wrap(wimerr.KindNTFS3G, "set security descriptor", err)
	}
	return nil
}

// writeReparseData re-prefixes the (reparse_tag, length, reserved)
// header spec.md §6 describes in front of the stored reparse body
// before handing the buffer to NTFS-3G, and re-checks the 0xFFFF
// boundary spec.md §8 specifies (ValidateReparseData already checked
// this at capture time; a corrupt or hand-built image could still
// violate it here).
func (a *applier) writeReparseData(path string, ino *wimimage.Inode) error {
	var body []byte
	if ino.Unnamed != nil {
		var err error
		body, err = a.readEntry(ino.Unnamed)
		if err != nil {
			return err
		}
	}
	if len(body) >= 0xFFFF {
		return wimerr.New(wimerr.KindInvalidDentry, "reparse data too large")
	}
	header := make([]byte, 8)
	binary.LittleEndian.PutUint32(header[0:4], ino.ReparseTag)
	binary.LittleEndian.PutUint16(header[4:6], uint16(len(body)))
	// header[6:8] is reserved and stays zero.
	buffer := append(header, body...)
	if err := a.volume.SetReparseData(path, buffer); err != nil {
		return wimerr.Wrap(wimerr.KindNTFS3G, "ntfs_set_ntfs_reparse_data", err)
	}
	return nil
}

// writeStreams writes every stream (unnamed, then each named ADS) a
// freshly created (non-linked) object owns.
func (a *applier) writeStreams(path string, ino *wimimage.Inode) error {
	if ino.Unnamed != nil {
		if err := a.writeOneStream(path, "", ino.Unnamed); err != nil {
			return err
		}
	}
	for _, ads := range ino.Streams {
		if err := a.writeOneStream(path, ads.Name, ads.Entry); err != nil {
			return err
		}
	}
	return nil
}

// writeOneStream copies entry's content through NTFS-3G's attribute
// write path and re-hashes it on the way past, the integrity check
// spec.md §7's INVALID_RESOURCE_HASH exists for: a lookup-table entry
// whose bytes don't match its own hash can only mean on-disk
// corruption of the resource backing it.
func (a *applier) writeOneStream(path, streamName string, entry *lookup.Entry) error {
	w, err := a.volume.OpenAttr(path, streamName)
	if err != nil {
		return wimerr.Wrap(wimerr.KindNTFS3G, "ntfs_attr_open", err)
	}
	defer func() { a.recordCloseErr(w.Close()) }()

	r, err := a.openEntryReader(entry)
	if err != nil {
		return err
	}
	defer r.Close()

	h := sha1.New()
	if _, err := io.Copy(io.MultiWriter(w, h), r); err != nil {
		return wimerr.Wrap(wimerr.KindWrite, "ntfs_attr_pwrite", err)
	}
	var sum lookup.Hash
	copy(sum[:], h.Sum(nil))
	if sum != entry.Hash {
		return wimerr.New(wimerr.KindInvalidResourceHash, path+":"+streamName)
	}
	return nil
}

func (a *applier) readEntry(entry *lookup.Entry) ([]byte, error) {
	r, err := a.openEntryReader(entry)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// openEntryReader opens entry's bytes for reading. The on-disk and
// attached-buffer locations are resolvable locally; a stream still
// backed by a WIM container resource or an open Win32 handle needs the
// (out-of-scope, per spec.md §1) container reader or Win32 layer to
// resolve, so those report UNSUPPORTED instead of guessing at a
// reopen strategy this module has no business owning.
func (a *applier) openEntryReader(entry *lookup.Entry) (io.ReadCloser, error) {
	switch entry.Location.Kind {
	case lookup.LocationOnDisk:
		f, err := os.Open(entry.Location.OnDiskPath)
		if err != nil {
			return nil, wimerr.WrapPath(wimerr.KindOpen, "open resource", entry.Location.OnDiskPath, err)
		}
		return f, nil
	case lookup.LocationAttachedBuffer:
		return io.NopCloser(bytes.NewReader(entry.Location.AttachedBuffer)), nil
	default:
		return nil, wimerr.New(wimerr.KindUnsupported, "resource location requires the WIM container or Win32 handle reader")
	}
}

// pass2 is the post-order pass spec.md §4.5 describes: timestamps are
// set only after every dentry in the subtree has been created, so a
// later sibling's creation can't touch (and so implicitly update) an
// already-finalised directory's own last-write time.
func (a *applier) pass2(d *wimimage.Dentry) error {
	for _, child := range d.SortedChildren() {
		if err := a.pass2(child); err != nil {
			return err
		}
	}
	ref, err := a.volume.OpenInode(d.FullPath())
	if err != nil {
		return wimerr.Wrap(wimerr.KindNTFS3G, "ntfs_inode_open", err)
	}
	setErr := a.volume.SetTimes(ref, d.Inode.CreationTime, d.Inode.LastWriteTime, d.Inode.LastAccessTime)
	a.recordCloseErr(a.volume.CloseInode(ref))
	if setErr != nil {
		return wimerr.Wrap(wimerr.KindNTFS3G, "set times", setErr)
	}
	return nil
}
