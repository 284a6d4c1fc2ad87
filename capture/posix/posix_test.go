//go:build !windows && !plan9 && !js

package posix

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gowim/gowim/capture"
)

func TestSourceStatClassifiesKinds(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "f"), []byte("hi"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "d"), 0o755))
	require.NoError(t, os.Symlink("f", filepath.Join(root, "l")))

	s := New(false)

	fi, err := s.Stat(filepath.Join(root, "f"))
	require.NoError(t, err)
	assert.Equal(t, capture.KindRegular, fi.Kind)
	assert.Equal(t, int64(2), fi.Size)

	di, err := s.Stat(filepath.Join(root, "d"))
	require.NoError(t, err)
	assert.Equal(t, capture.KindDirectory, di.Kind)

	li, err := s.Stat(filepath.Join(root, "l"))
	require.NoError(t, err)
	assert.Equal(t, capture.KindSymlink, li.Kind)
}

func TestSourceReadLinkAndReaddir(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "b"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a"), nil, 0o644))
	require.NoError(t, os.Symlink("a", filepath.Join(root, "link")))

	s := New(false)

	target, err := s.ReadLink(filepath.Join(root, "link"))
	require.NoError(t, err)
	assert.Equal(t, "a", target)

	names, err := s.Readdir(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "link"}, names)
}

// TestSourceStatFollowCircularSymlink asserts that dereferencing a
// symlink cycle surfaces a distinguishable "circular symlink" error
// rather than a bare ELOOP, mirroring backend/local's own
// isCircularSymlinkError handling of the same condition.
func TestSourceStatFollowCircularSymlink(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a")
	b := filepath.Join(root, "b")
	require.NoError(t, os.Symlink(b, a))
	require.NoError(t, os.Symlink(a, b))

	s := New(false)
	_, err := s.StatFollow(a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular symlink")
}

func TestSourceOpenReadsContent(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "f")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o644))

	s := New(false)
	rc, err := s.Open(path)
	require.NoError(t, err)
	defer rc.Close()
	buf, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(buf))
}
