package wimimage

import (
	"crypto/sha1"

	"github.com/google/uuid"

	"github.com/gowim/gowim/lookup"
	"github.com/gowim/gowim/wimerr"
)

// Image is one image's metadata slot inside an image set (spec.md §3,
// §4.4): a directory tree, an owning reference to a metadata-stream
// LTE, the image's own security-descriptor set, and the inodes the
// tree references.
type Image struct {
	Name string
	Boot bool
	GUID uuid.UUID

	Root                *Dentry
	MetadataEntry       *lookup.Entry
	SecurityDescriptors *SecurityDescriptorSet
	Inodes              []*Inode
}

// randomPlaceholderHash produces the "random placeholder hash" spec.md
// §3 requires a freshly appended metadata-stream LTE to carry until the
// real metadata resource is written out and rehashed. A v4 UUID
// (github.com/google/uuid) supplies the randomness; running it through
// SHA-1 gives a value of the right width to key a lookup.Table entry
// the same way any other stream hash does.
func randomPlaceholderHash() lookup.Hash {
	id := uuid.New()
	return lookup.Hash(sha1.Sum(id[:]))
}

// ImageSet owns the sequence of images in a WIM, their shared lookup
// table, and the boot-image index (spec.md §4.4).
type ImageSet struct {
	Images []*Image

	table     *lookup.Table
	bootIndex int // 0 = no boot image, else 1-based index into Images
}

// NewImageSet constructs an empty set backed by table, the content
// store every image's streams are deduplicated through.
func NewImageSet(table *lookup.Table) *ImageSet {
	return &ImageSet{table: table}
}

func (s *ImageSet) nameCollision(name string) bool {
	if name == "" {
		return false
	}
	for _, img := range s.Images {
		if img.Name == name {
			return true
		}
	}
	return false
}

// AppendImage finalises a captured tree into a new image: it rejects a
// duplicate name (spec.md §7's IMAGE_NAME_COLLISION), mints the
// metadata-stream LTE, and appends the image. Call AssignInodeNumbers
// on inodes before calling AppendImage so every Inode.Number is set.
func (s *ImageSet) AppendImage(name string, root *Dentry, sds *SecurityDescriptorSet, inodes []*Inode, makeBoot bool) (*Image, error) {
	if s.nameCollision(name) {
		return nil, wimerr.New(wimerr.KindImageNameCollision, name)
	}
	entry := s.table.AddOrRef(randomPlaceholderHash(), func() *lookup.Entry {
		return &lookup.Entry{Location: lookup.Location{Kind: lookup.LocationAttachedBuffer}}
	})
	img := &Image{
		Name:                name,
		GUID:                uuid.New(),
		Root:                root,
		MetadataEntry:       entry,
		SecurityDescriptors: sds,
		Inodes:              inodes,
	}
	s.Images = append(s.Images, img)
	if makeBoot {
		s.bootIndex = len(s.Images)
	}
	return img, nil
}

// RemoveLast rolls back the most recently appended image and releases
// its metadata-stream LTE reference, the cleanup spec.md §7 requires
// when a capture fails partway through finalisation: "either no image
// is appended, or the appended slot is destroyed and the image count
// decremented".
func (s *ImageSet) RemoveLast() {
	if len(s.Images) == 0 {
		return
	}
	last := s.Images[len(s.Images)-1]
	s.table.Unref(last.MetadataEntry.Hash)
	s.Images = s.Images[:len(s.Images)-1]
	if s.bootIndex == len(s.Images)+1 {
		s.bootIndex = 0
	}
}

// Count returns the number of images currently in the set.
func (s *ImageSet) Count() int { return len(s.Images) }

// BootIndex returns the 1-based boot image index, or 0 if none is set.
func (s *ImageSet) BootIndex() int { return s.bootIndex }

// AssignInodeNumbers assigns sequential, 1-based inode numbers to
// inodes in slice order. Filler directories synthesised to fill gaps
// in a multi-source overlay keep their reserved number, 0, and must
// not be passed in (spec.md §4.4).
func AssignInodeNumbers(inodes []*Inode) {
	for idx, ino := range inodes {
		ino.Number = uint64(idx + 1)
	}
}
