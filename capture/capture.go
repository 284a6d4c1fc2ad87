package capture

import (
	"crypto/sha1"
	"encoding/binary"
	"io"
	"path"
	"sort"
	"strings"
	"unicode/utf16"

	"github.com/sirupsen/logrus"

	"github.com/gowim/gowim/captureconfig"
	"github.com/gowim/gowim/lookup"
	"github.com/gowim/gowim/pathmatch"
	"github.com/gowim/gowim/wimerr"
	"github.com/gowim/gowim/wimimage"
)

// EventKind tags a progress event, per spec.md §6's progress events.
type EventKind int

const (
	EventScanBegin EventKind = iota
	EventScanDentry
	EventScanEnd
)

// Event is a progress notification emitted synchronously on the
// caller's thread (spec.md §5: no background I/O, progress callbacks
// run on the caller's thread).
type Event struct {
	Kind     EventKind
	Source   string
	Target   string
	Path     string
	Excluded bool
}

// ProgressFunc receives capture progress events.
type ProgressFunc func(Event)

// reparseTagSymlink is IO_REPARSE_TAG_SYMLINK.
const reparseTagSymlink uint32 = 0xA000000C

const symlinkReparseFlagRelative uint32 = 0x00000001

// Builder drives one build_dentry_tree walk (spec.md §4.4) against a
// Source, feeding discovered streams into a shared lookup.Table and
// discovered security descriptors into a shared SecurityDescriptorSet.
type Builder struct {
	Source Source
	Table  *lookup.Table
	SDs    *wimimage.SecurityDescriptorSet
	Config *captureconfig.Config
	Flags  Flags

	OnProgress ProgressFunc
	log        *logrus.Entry

	inodes    []*wimimage.Inode
	hardLinks map[HardLinkKey]*wimimage.Inode
}

// NewBuilder validates flags and constructs a Builder. cfg may be nil,
// in which case captureconfig.Default is used.
func NewBuilder(src Source, table *lookup.Table, sds *wimimage.SecurityDescriptorSet, cfg *captureconfig.Config, flags Flags) (*Builder, error) {
	if err := flags.Validate(); err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = captureconfig.Default(true)
	}
	return &Builder{
		Source:    src,
		Table:     table,
		SDs:       sds,
		Config:    cfg,
		Flags:     flags,
		log:       logrus.WithField("component", "capture"),
		hardLinks: make(map[HardLinkKey]*wimimage.Inode),
	}, nil
}

func (b *Builder) emit(ev Event) {
	if b.Flags&FlagVerbose != 0 {
		b.log.WithField("path", ev.Path).WithField("excluded", ev.Excluded).Debug("scan")
	}
	if b.OnProgress != nil {
		b.OnProgress(ev)
	}
}

// BuildDentryTree builds one branch from one source rooted at
// diskPath, per spec.md §4.4's numbered steps. root marks this call as
// a branch root: an excluded root is fatal (INVALID_CAPTURE_CONFIG),
// while an excluded non-root path is silently skipped (nil, nil).
func (b *Builder) BuildDentryTree(diskPath string, root bool) (*wimimage.Dentry, error) {
	if b.Config.ExcludePath(diskPath) {
		b.emit(Event{Kind: EventScanDentry, Path: diskPath, Excluded: true})
		if root {
			return nil, wimerr.New(wimerr.KindInvalidCaptureConfig, "capture root is excluded: "+diskPath)
		}
		return nil, nil
	}

	info, err := b.Source.Stat(diskPath)
	if err != nil {
		return nil, wimerr.WrapPath(wimerr.KindStat, "stat", diskPath, err)
	}
	b.emit(Event{Kind: EventScanDentry, Path: diskPath, Excluded: false})

	name := path.Base(diskPath)
	if root {
		name = ""
	}

	switch info.Kind {
	case KindRegular:
		return b.buildRegular(diskPath, name, info)

	case KindDirectory:
		return b.buildDirectory(diskPath, name, info)

	case KindSymlink:
		if b.Flags&FlagDereference != 0 {
			followed, err := b.Source.StatFollow(diskPath)
			if err != nil {
				return nil, wimerr.WrapPath(wimerr.KindStat, "stat", diskPath, err)
			}
			switch followed.Kind {
			case KindDirectory:
				return b.buildDirectory(diskPath, name, followed)
			case KindRegular:
				return b.buildRegular(diskPath, name, followed)
			default:
				return nil, wimerr.New(wimerr.KindSpecialFile, diskPath)
			}
		}
		target, err := b.Source.ReadLink(diskPath)
		if err != nil {
			return nil, wimerr.WrapPath(wimerr.KindReadlink, "readlink", diskPath, err)
		}
		ino := wimimage.NewInode()
		ino.Attributes = wimimage.FileAttrReparsePoint
		if followed, err := b.Source.StatFollow(diskPath); err == nil && followed.Kind == KindDirectory {
			ino.Attributes |= wimimage.FileAttrDirectory
		}
		ino.CreationTime = wimimage.NewFileTime(info.CreationTime)
		ino.LastWriteTime = wimimage.NewFileTime(info.LastWriteTime)
		ino.LastAccessTime = wimimage.NewFileTime(info.LastAccessTime)
		ino.HasReparseTag = true
		ino.ReparseTag = reparseTagSymlink
		d := wimimage.NewDentry(name, ino)
		if err := ino.AddDentry(d); err != nil {
			return nil, err
		}
		b.inodes = append(b.inodes, ino)

		body := encodeSymlinkReparseData(target)
		entry, err := b.storeBuffer(body)
		if err != nil {
			return nil, err
		}
		ino.SetUnnamedStream(entry)
		return b.finalize(diskPath, d, ino)

	default:
		return nil, wimerr.New(wimerr.KindSpecialFile, diskPath)
	}
}

// buildRegular constructs the dentry+inode for a regular file at
// diskPath, reusing an existing inode if info identifies it as a
// sibling in an already-seen hard-link group (spec.md §4.4 step 4).
func (b *Builder) buildRegular(diskPath, name string, info StatInfo) (*wimimage.Dentry, error) {
	if info.HasLinkKey {
		if existing, ok := b.hardLinks[info.LinkKey]; ok {
			d := wimimage.NewDentry(name, existing)
			if err := existing.AddDentry(d); err != nil {
				return nil, err
			}
			return b.finalize(diskPath, d, existing)
		}
	}
	ino := wimimage.NewInode()
	ino.Attributes = wimimage.FileAttrNormal
	ino.CreationTime = wimimage.NewFileTime(info.CreationTime)
	ino.LastWriteTime = wimimage.NewFileTime(info.LastWriteTime)
	ino.LastAccessTime = wimimage.NewFileTime(info.LastAccessTime)
	d := wimimage.NewDentry(name, ino)
	if err := ino.AddDentry(d); err != nil {
		return nil, err
	}
	b.inodes = append(b.inodes, ino)
	if info.HasLinkKey {
		b.hardLinks[info.LinkKey] = ino
	}
	if err := b.captureRegularContent(diskPath, info, ino); err != nil {
		return nil, err
	}
	return b.finalize(diskPath, d, ino)
}

// buildDirectory constructs the dentry+inode for a directory at
// diskPath and recurses into its entries (spec.md §4.4 step 5).
func (b *Builder) buildDirectory(diskPath, name string, info StatInfo) (*wimimage.Dentry, error) {
	ino := wimimage.NewInode()
	ino.Attributes = wimimage.FileAttrDirectory
	ino.CreationTime = wimimage.NewFileTime(info.CreationTime)
	ino.LastWriteTime = wimimage.NewFileTime(info.LastWriteTime)
	ino.LastAccessTime = wimimage.NewFileTime(info.LastAccessTime)
	d := wimimage.NewDentry(name, ino)
	if err := ino.AddDentry(d); err != nil {
		return nil, err
	}
	b.inodes = append(b.inodes, ino)

	names, err := b.Source.Readdir(diskPath)
	if err != nil {
		return nil, wimerr.WrapPath(wimerr.KindRead, "readdir", diskPath, err)
	}
	for _, childName := range names {
		childPath := joinPath(diskPath, childName)
		cd, err := b.BuildDentryTree(childPath, false)
		if err != nil {
			return nil, err
		}
		if cd != nil {
			d.AddChild(cd)
		}
	}
	return b.finalize(diskPath, d, ino)
}

// captureRegularContent streams diskPath's unnamed content through
// SHA-1 and registers it in the lookup table, then enumerates and
// captures any named (ADS) streams, per spec.md §4.4 steps 4 and 7.
// The empty file attaches no LTE (spec.md §8's boundary behaviour).
func (b *Builder) captureRegularContent(diskPath string, info StatInfo, ino *wimimage.Inode) error {
	if info.Size > 0 {
		entry, err := b.hashOnDiskStream(diskPath, info.Size, func() (io.ReadCloser, error) {
			return b.Source.Open(diskPath)
		})
		if err != nil {
			return err
		}
		ino.SetUnnamedStream(entry)
	}

	streamNames, err := b.Source.Streams(diskPath)
	if err != nil {
		return wimerr.WrapPath(wimerr.KindRead, "enumerate streams", diskPath, err)
	}
	for _, sn := range streamNames {
		entry, err := b.hashOnDiskStream(diskPath+":"+sn, 0, func() (io.ReadCloser, error) {
			return b.Source.OpenStream(diskPath, sn)
		})
		if err != nil {
			return err
		}
		ino.AddNamedStream(sn, entry)
	}
	return nil
}

func (b *Builder) hashOnDiskStream(locationPath string, knownSize int64, open func() (io.ReadCloser, error)) (*lookup.Entry, error) {
	r, err := open()
	if err != nil {
		return nil, wimerr.WrapPath(wimerr.KindOpen, "open", locationPath, err)
	}
	defer r.Close()

	h := sha1.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return nil, wimerr.WrapPath(wimerr.KindRead, "read", locationPath, err)
	}
	if n == 0 {
		return nil, nil
	}
	size := knownSize
	if size == 0 {
		size = n
	}
	var sum lookup.Hash
	copy(sum[:], h.Sum(nil))
	entry := b.Table.AddOrRef(sum, func() *lookup.Entry {
		return &lookup.Entry{
			OriginalSize: size,
			Location:     lookup.Location{Kind: lookup.LocationOnDisk, OnDiskPath: locationPath},
		}
	})
	return entry, nil
}

func (b *Builder) storeBuffer(data []byte) (*lookup.Entry, error) {
	if len(data) == 0 {
		return nil, nil
	}
	sum := lookup.Hash(sha1.Sum(data))
	entry := b.Table.AddOrRef(sum, func() *lookup.Entry {
		return &lookup.Entry{
			OriginalSize: int64(len(data)),
			Location:     lookup.Location{Kind: lookup.LocationAttachedBuffer, AttachedBuffer: append([]byte(nil), data...)},
		}
	})
	return entry, nil
}

// finalize applies the capabilities every Source optionally supports
// (security descriptor, short name) and checks the reparse-size
// invariant, regardless of which switch case produced d and ino.
func (b *Builder) finalize(diskPath string, d *wimimage.Dentry, ino *wimimage.Inode) (*wimimage.Dentry, error) {
	if sd, err := b.Source.ReadSecurity(diskPath); err == nil && len(sd) > 0 {
		ino.SecurityID = int32(b.SDs.Add(sd))
	}
	if sn, err := b.Source.ShortName(diskPath); err == nil && sn != "" {
		d.ShortName = sn
	}
	if err := ino.ValidateReparseData(); err != nil {
		return nil, err
	}
	return d, nil
}

// rollback decrements the lookup-table refcount of every stream this
// builder registered, the cleanup free_dentry_tree performs on a
// failed capture (spec.md §5).
func (b *Builder) rollback() {
	for _, ino := range b.inodes {
		if ino.Unnamed != nil {
			b.Table.Unref(ino.Unnamed.Hash)
		}
		for _, ads := range ino.Streams {
			b.Table.Unref(ads.Entry.Hash)
		}
	}
}

// SourceSpec pairs one disk path with the image-tree path it should be
// attached under, the input to multi-source capture (spec.md §4.4).
type SourceSpec struct {
	DiskPath   string
	TargetPath string
}

// AttachSources runs BuildDentryTree once per spec and assembles the
// results into a single rooted tree via attach_branch (spec.md §4.4):
// target paths are canonicalised and sorted so containing paths are
// attached before paths nested under them, missing intermediate
// directories are synthesised as filler directories, and a target that
// already exists as a directory is overlaid rather than replaced.
func (b *Builder) AttachSources(specs []SourceSpec) (*wimimage.Dentry, error) {
	sorted := append([]SourceSpec(nil), specs...)
	sort.Slice(sorted, func(i, j int) bool {
		return canonicalTarget(sorted[i].TargetPath) < canonicalTarget(sorted[j].TargetPath)
	})

	root := fillerDir("")
	for _, spec := range sorted {
		target := canonicalTarget(spec.TargetPath)
		isRoot := target == ""
		b.emit(Event{Kind: EventScanBegin, Source: spec.DiskPath, Target: spec.TargetPath})
		branch, err := b.BuildDentryTree(spec.DiskPath, isRoot)
		if err != nil {
			return nil, err
		}
		b.emit(Event{Kind: EventScanEnd, Source: spec.DiskPath, Target: spec.TargetPath})
		if branch == nil {
			continue
		}
		if err := attachAt(root, target, branch); err != nil {
			return nil, err
		}
	}
	return root, nil
}

func canonicalTarget(p string) string {
	p = pathmatch.Canonicalize(p)
	return strings.Trim(p, "/")
}

func attachAt(root *wimimage.Dentry, target string, branch *wimimage.Dentry) error {
	if target == "" {
		return root.Overlay(branch)
	}
	comps := strings.Split(target, "/")
	cur := root
	for _, comp := range comps[:len(comps)-1] {
		child, ok := cur.Child(comp)
		if !ok {
			child = fillerDir(comp)
			cur.AddChild(child)
		} else if !child.Inode.IsDirectory() {
			return wimerr.New(wimerr.KindInvalidOverlay, "path component is not a directory: "+comp)
		}
		cur = child
	}
	last := comps[len(comps)-1]
	branch.Name = last
	if existing, ok := cur.Child(last); ok {
		return existing.Overlay(branch)
	}
	cur.AddChild(branch)
	return nil
}

func fillerDir(name string) *wimimage.Dentry {
	ino := wimimage.NewInode()
	ino.Attributes = wimimage.FileAttrDirectory
	d := wimimage.NewDentry(name, ino)
	_ = ino.AddDentry(d)
	return d
}

func joinPath(dir, name string) string {
	if strings.HasSuffix(dir, "/") {
		return dir + name
	}
	return dir + "/" + name
}

// encodeSymlinkReparseData builds the body of a Windows
// SymbolicLinkReparseBuffer (MS-FSCC 2.1.2.4) for target, omitting the
// generic 8-byte REPARSE_DATA_BUFFER header: that header is re-prefixed
// at apply time (spec.md §6's reparse buffer layout).
func encodeSymlinkReparseData(target string) []byte {
	u16 := utf16.Encode([]rune(target))
	nameBytes := make([]byte, 2*len(u16))
	for i, c := range u16 {
		binary.LittleEndian.PutUint16(nameBytes[i*2:], c)
	}

	header := make([]byte, 12)
	nameLen := uint16(len(nameBytes))
	binary.LittleEndian.PutUint16(header[0:], 0)       // SubstituteNameOffset
	binary.LittleEndian.PutUint16(header[2:], nameLen) // SubstituteNameLength
	binary.LittleEndian.PutUint16(header[4:], nameLen) // PrintNameOffset
	binary.LittleEndian.PutUint16(header[6:], nameLen) // PrintNameLength
	binary.LittleEndian.PutUint32(header[8:], symlinkReparseFlagRelative)

	buf := make([]byte, 0, len(header)+2*len(nameBytes))
	buf = append(buf, header...)
	buf = append(buf, nameBytes...) // substitute name
	buf = append(buf, nameBytes...) // print name
	return buf
}

// DecodeSymlinkReparseTarget recovers the original target string from
// a body produced by encodeSymlinkReparseData, used by tests to assert
// the capture -> apply -> capture round-trip law (spec.md §8).
func DecodeSymlinkReparseTarget(body []byte) (string, error) {
	if len(body) < 12 {
		return "", wimerr.New(wimerr.KindInvalidDentry, "symlink reparse body too short")
	}
	subOff := binary.LittleEndian.Uint16(body[0:])
	subLen := binary.LittleEndian.Uint16(body[2:])
	start := 12 + int(subOff)
	end := start + int(subLen)
	if end > len(body) {
		return "", wimerr.New(wimerr.KindInvalidDentry, "symlink reparse body truncated")
	}
	raw := body[start:end]
	u16 := make([]uint16, len(raw)/2)
	for i := range u16 {
		u16[i] = binary.LittleEndian.Uint16(raw[i*2:])
	}
	return string(utf16.Decode(u16)), nil
}

// AddImage captures a single source tree into a new image, per spec.md
// §6's add_image operation.
func AddImage(images *wimimage.ImageSet, src Source, table *lookup.Table, diskPath, name string, cfg *captureconfig.Config, flags Flags) (*wimimage.Image, error) {
	return AddImageMultiSource(images, src, table, []SourceSpec{{DiskPath: diskPath, TargetPath: "/"}}, name, cfg, flags)
}

// AddImageMultiSource captures one or more source trees, overlays them
// into one dentry tree, and appends a finalised image, per spec.md
// §6's add_image_multisource operation and §4.4's finalisation steps.
// On any failure the partially built image is rolled back: the lookup
// table sees no net refcount change (spec.md §7).
func AddImageMultiSource(images *wimimage.ImageSet, src Source, table *lookup.Table, specs []SourceSpec, name string, cfg *captureconfig.Config, flags Flags) (*wimimage.Image, error) {
	if err := flags.Validate(); err != nil {
		return nil, err
	}
	sds := wimimage.NewSecurityDescriptorSet()
	b, err := NewBuilder(src, table, sds, cfg, flags)
	if err != nil {
		return nil, err
	}

	root, err := b.AttachSources(specs)
	if err != nil {
		b.rollback()
		return nil, err
	}

	wimimage.AssignInodeNumbers(b.inodes)
	img, err := images.AppendImage(name, root, sds, b.inodes, flags&FlagBoot != 0)
	if err != nil {
		b.rollback()
		return nil, err
	}
	return img, nil
}
