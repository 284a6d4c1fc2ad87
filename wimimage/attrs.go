package wimimage

// FileAttr is the Windows file-attribute bitmask carried by every
// inode (spec.md §3). The numeric values match the public
// FILE_ATTRIBUTE_* constants (cross-checked against the reference WIM
// reader in other_examples' wim.go) so any WIM-aware reader can
// interpret an inode's Attributes field without translation.
type FileAttr uint32

const (
	FileAttrReadonly          FileAttr = 0x00000001
	FileAttrHidden            FileAttr = 0x00000002
	FileAttrSystem            FileAttr = 0x00000004
	FileAttrDirectory         FileAttr = 0x00000010
	FileAttrArchive           FileAttr = 0x00000020
	FileAttrDevice            FileAttr = 0x00000040
	FileAttrNormal            FileAttr = 0x00000080
	FileAttrTemporary         FileAttr = 0x00000100
	FileAttrSparseFile        FileAttr = 0x00000200
	FileAttrReparsePoint      FileAttr = 0x00000400
	FileAttrCompressed        FileAttr = 0x00000800
	FileAttrOffline           FileAttr = 0x00001000
	FileAttrNotContentIndexed FileAttr = 0x00002000
	FileAttrEncrypted         FileAttr = 0x00004000
)

// IsDir reports whether the directory bit is set.
func (a FileAttr) IsDir() bool { return a&FileAttrDirectory != 0 }

// IsReparsePoint reports whether the reparse-point bit is set.
//
// spec.md §9 flags that the original source spells this check two
// different ways (FILE_ATTR_REPARSE_POINT vs FILE_ATTRIBUTE_REPARSE_POINT)
// in different places; this module has exactly one constant and one
// accessor, so that ambiguity cannot recur here.
func (a FileAttr) IsReparsePoint() bool { return a&FileAttrReparsePoint != 0 }
