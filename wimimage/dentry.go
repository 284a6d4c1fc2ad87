package wimimage

import (
	"sort"
	"strings"

	"github.com/gowim/gowim/wimerr"
)

// Dentry is a node in an image's directory tree (spec.md §3): a long
// name, an optional short (DOS) name, a case-insensitive-keyed child
// set, a non-owning parent back-reference, and a resolved Inode.
type Dentry struct {
	Name      string
	ShortName string

	parent     *Dentry
	children   []*Dentry
	childIndex map[string]*Dentry

	Inode *Inode
}

// NewDentry allocates a dentry bound to inode, with no children and no
// parent yet.
func NewDentry(name string, inode *Inode) *Dentry {
	return &Dentry{
		Name:       name,
		Inode:      inode,
		childIndex: make(map[string]*Dentry),
	}
}

func foldKey(name string) string { return strings.ToLower(name) }

// Parent returns d's parent, or nil if d is an image root.
func (d *Dentry) Parent() *Dentry { return d.parent }

// IsRoot reports whether d has no parent.
func (d *Dentry) IsRoot() bool { return d.parent == nil }

// Child looks up an immediate child by name, case-insensitively, the
// lookup semantics NTFS directories use (spec.md §3).
func (d *Dentry) Child(name string) (*Dentry, bool) {
	c, ok := d.childIndex[foldKey(name)]
	return c, ok
}

// AddChild attaches child as a new child of d. It does not check for
// name collisions; multi-source overlay uses Overlay for that.
func (d *Dentry) AddChild(child *Dentry) {
	child.parent = d
	d.children = append(d.children, child)
	d.childIndex[foldKey(child.Name)] = child
}

// Children returns d's children in discovery (insertion) order.
func (d *Dentry) Children() []*Dentry {
	return d.children
}

// SortedChildren returns a copy of d's children ordered
// case-insensitively by name, the deterministic ordering the "ordered
// child set" invariant in spec.md §3 calls for when a caller needs one
// (full-path computation, apply traversal, test assertions).
func (d *Dentry) SortedChildren() []*Dentry {
	out := append([]*Dentry(nil), d.children...)
	sort.Slice(out, func(i, j int) bool {
		return foldKey(out[i].Name) < foldKey(out[j].Name)
	})
	return out
}

// FullPath computes d's path from its image root by walking parent
// references, joined with '/'. The root's own path is "/".
func (d *Dentry) FullPath() string {
	if d.parent == nil {
		return "/"
	}
	var parts []string
	for cur := d; cur.parent != nil; cur = cur.parent {
		parts = append(parts, cur.Name)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return "/" + strings.Join(parts, "/")
}

// Overlay transfers every child of src onto d, the do_overlay step
// multi-source capture performs when two sources both contribute a
// directory at the same tree location (spec.md §4.4). Any name
// collision between d's existing children and src's children is
// fatal, per spec.md §7's INVALID_OVERLAY.
func (d *Dentry) Overlay(src *Dentry) error {
	if d.Inode == nil || src.Inode == nil || !d.Inode.IsDirectory() || !src.Inode.IsDirectory() {
		return wimerr.New(wimerr.KindInvalidOverlay, "overlay requires two directory dentries")
	}
	for _, child := range src.Children() {
		if _, exists := d.Child(child.Name); exists {
			return wimerr.New(wimerr.KindInvalidOverlay, "name collision on overlay: "+child.Name)
		}
	}
	for _, child := range src.Children() {
		d.AddChild(child)
	}
	return nil
}
