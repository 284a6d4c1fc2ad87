package capture

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gowim/gowim/captureconfig"
	"github.com/gowim/gowim/lookup"
	"github.com/gowim/gowim/wimerr"
	"github.com/gowim/gowim/wimimage"
)

func cfgWithPrefix(t *testing.T, prefix string) *captureconfig.Config {
	t.Helper()
	cfg := captureconfig.Default(true)
	cfg.Prefix = prefix
	return cfg
}

// fakeNode and fakeSource provide an in-memory capture.Source
// implementation so the engine can be exercised deterministically
// without touching a real filesystem, matching the teacher's own
// table-driven, dependency-free testing style.
type fakeNode struct {
	kind    NodeKind
	content []byte
	target  string // symlink target
	dev     uint64
	ino     uint64
}

type fakeSource struct {
	nodes    map[string]fakeNode
	children map[string][]string
}

func newFakeSource() *fakeSource {
	return &fakeSource{nodes: map[string]fakeNode{}, children: map[string][]string{}}
}

func (f *fakeSource) addDir(path string, children ...string) {
	f.nodes[path] = fakeNode{kind: KindDirectory}
	f.children[path] = children
}

func (f *fakeSource) addFile(path string, content []byte) {
	f.nodes[path] = fakeNode{kind: KindRegular, content: content}
}

func (f *fakeSource) addHardlinkedFile(path string, content []byte, dev, ino uint64) {
	f.nodes[path] = fakeNode{kind: KindRegular, content: content, dev: dev, ino: ino}
}

func (f *fakeSource) addSymlink(path, target string) {
	f.nodes[path] = fakeNode{kind: KindSymlink, target: target}
}

func (f *fakeSource) Stat(path string) (StatInfo, error) {
	n, ok := f.nodes[path]
	if !ok {
		return StatInfo{}, wimerr.New(wimerr.KindStat, path)
	}
	info := StatInfo{Kind: n.kind, Size: int64(len(n.content)), LastWriteTime: time.Unix(0, 0), CreationTime: time.Unix(0, 0), LastAccessTime: time.Unix(0, 0)}
	if n.ino != 0 {
		info.HasLinkKey = true
		info.LinkKey = HardLinkKey{Device: n.dev, Inode: n.ino}
	}
	return info, nil
}

func (f *fakeSource) StatFollow(path string) (StatInfo, error) { return f.Stat(path) }

func (f *fakeSource) Open(path string) (io.ReadCloser, error) {
	n := f.nodes[path]
	return io.NopCloser(bytes.NewReader(n.content)), nil
}

func (f *fakeSource) Readdir(path string) ([]string, error) {
	return f.children[path], nil
}

func (f *fakeSource) ReadLink(path string) (string, error) {
	return f.nodes[path].target, nil
}

func (f *fakeSource) Streams(path string) ([]string, error)               { return nil, nil }
func (f *fakeSource) OpenStream(path, name string) (io.ReadCloser, error) { return nil, nil }
func (f *fakeSource) ReadReparse(path string) ([]byte, error)             { return nil, nil }
func (f *fakeSource) ReadSecurity(path string) ([]byte, error)            { return nil, nil }
func (f *fakeSource) ShortName(path string) (string, error)               { return "", nil }

var _ Source = (*fakeSource)(nil)

func newBuilder(t *testing.T, src Source) (*Builder, *lookup.Table) {
	t.Helper()
	table := lookup.NewTable()
	b, err := NewBuilder(src, table, wimimage.NewSecurityDescriptorSet(), nil, 0)
	require.NoError(t, err)
	return b, table
}

func TestBuildDentryTreeSingleRegularFile(t *testing.T) {
	src := newFakeSource()
	src.addFile("/tmp/a.txt", []byte("hello\n"))
	b, table := newBuilder(t, src)

	d, err := b.BuildDentryTree("/tmp/a.txt", true)
	require.NoError(t, err)
	assert.Equal(t, "", d.Name)
	assert.Equal(t, wimimage.FileAttrNormal, d.Inode.Attributes)
	require.NotNil(t, d.Inode.Unnamed)
	assert.EqualValues(t, 6, d.Inode.Unnamed.OriginalSize)
	assert.Equal(t, 1, table.Len())
	assert.EqualValues(t, 1, d.Inode.Unnamed.RefCount)
}

func TestBuildDentryTreeTwoIdenticalFilesShareOneLTE(t *testing.T) {
	src := newFakeSource()
	content := bytes.Repeat([]byte("x"), 1024)
	src.addDir("/tmp", "x", "y")
	src.addFile("/tmp/x", content)
	src.addFile("/tmp/y", content)
	b, table := newBuilder(t, src)

	d, err := b.BuildDentryTree("/tmp", true)
	require.NoError(t, err)
	require.Len(t, d.Children(), 2)
	assert.Equal(t, 1, table.Len())

	cx, _ := d.Child("x")
	cy, _ := d.Child("y")
	assert.Same(t, cx.Inode.Unnamed, cy.Inode.Unnamed)
	assert.EqualValues(t, 2, cx.Inode.Unnamed.RefCount)
}

func TestBuildDentryTreeDirectoryWithExclusion(t *testing.T) {
	src := newFakeSource()
	src.addDir("/tmp/root", "hiberfil.sys", "data.bin")
	src.addFile("/tmp/root/hiberfil.sys", []byte("junk"))
	src.addFile("/tmp/root/data.bin", []byte("data"))

	table := lookup.NewTable()
	cfg := cfgWithPrefix(t, "/tmp/root")
	b, err := NewBuilder(src, table, wimimage.NewSecurityDescriptorSet(), cfg, 0)
	require.NoError(t, err)

	d, err := b.BuildDentryTree("/tmp/root", true)
	require.NoError(t, err)
	require.Len(t, d.Children(), 1)
	only := d.Children()[0]
	assert.Equal(t, "data.bin", only.Name)
}

func TestExcludedRootWithRootFlagIsFatal(t *testing.T) {
	src := newFakeSource()
	src.addFile("/tmp/hiberfil.sys", []byte("junk"))
	table := lookup.NewTable()
	cfg := cfgWithPrefix(t, "/tmp")
	b, err := NewBuilder(src, table, wimimage.NewSecurityDescriptorSet(), cfg, 0)
	require.NoError(t, err)

	_, err = b.BuildDentryTree("/tmp/hiberfil.sys", true)
	require.Error(t, err)
	assert.Equal(t, wimerr.KindInvalidCaptureConfig, wimerr.KindOf(err))
}

func TestMultiSourceOverlayCombinesChildren(t *testing.T) {
	src := newFakeSource()
	src.addDir("/src/a", "f1")
	src.addFile("/src/a/f1", []byte("one"))
	src.addDir("/src/b", "f2")
	src.addFile("/src/b/f2", []byte("two"))

	b, _ := newBuilder(t, src)
	root, err := b.AttachSources([]SourceSpec{
		{DiskPath: "/src/a", TargetPath: "/"},
		{DiskPath: "/src/b", TargetPath: "/"},
	})
	require.NoError(t, err)
	_, ok := root.Child("f1")
	assert.True(t, ok)
	_, ok = root.Child("f2")
	assert.True(t, ok)
}

func TestHardLinkedFilesShareOneInode(t *testing.T) {
	src := newFakeSource()
	src.addDir("/tmp", "u", "v")
	src.addHardlinkedFile("/tmp/u", []byte("ABCDEFGH"), 1, 42)
	src.addHardlinkedFile("/tmp/v", []byte("ABCDEFGH"), 1, 42)
	b, table := newBuilder(t, src)

	d, err := b.BuildDentryTree("/tmp", true)
	require.NoError(t, err)
	u, _ := d.Child("u")
	v, _ := d.Child("v")
	assert.Same(t, u.Inode, v.Inode)
	assert.True(t, u.Inode.IsHardLinked())
	assert.Equal(t, 1, table.Len())
}

func TestSymlinkCaptureAndRoundTrip(t *testing.T) {
	src := newFakeSource()
	src.addSymlink("/tmp/link", "target.txt")
	b, _ := newBuilder(t, src)

	d, err := b.BuildDentryTree("/tmp/link", true)
	require.NoError(t, err)
	assert.True(t, d.Inode.Attributes.IsReparsePoint())
	require.NotNil(t, d.Inode.Unnamed)

	got, err := DecodeSymlinkReparseTarget(d.Inode.Unnamed.Location.AttachedBuffer)
	require.NoError(t, err)
	assert.Equal(t, "target.txt", got)
}

func TestReparseDataBoundary(t *testing.T) {
	almost := make([]byte, 0xFFFE)
	tooLarge := make([]byte, 0xFFFF)
	assertWithinBound := func(size []byte, wantErr bool) {
		ino := wimimage.NewInode()
		ino.Attributes = wimimage.FileAttrReparsePoint
		ino.Unnamed = &lookup.Entry{OriginalSize: int64(len(size))}
		err := ino.ValidateReparseData()
		if wantErr {
			assert.Error(t, err)
		} else {
			assert.NoError(t, err)
		}
	}
	assertWithinBound(almost, false)
	assertWithinBound(tooLarge, true)
}

func TestRollbackReleasesStreamRefcounts(t *testing.T) {
	src := newFakeSource()
	src.addDir("/tmp", "ok", "bad")
	src.addFile("/tmp/ok", []byte("content"))
	src.nodes["/tmp/bad"] = fakeNode{kind: KindSpecial}
	b, table := newBuilder(t, src)

	_, err := b.BuildDentryTree("/tmp", true)
	require.Error(t, err)
	assert.Equal(t, wimerr.KindSpecialFile, wimerr.KindOf(err))
	b.rollback()
	assert.Equal(t, 0, table.Len())
}
