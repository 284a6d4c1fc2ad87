//go:build !windows && !plan9 && !js

package posixvolume

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gowim/gowim/ntfsapply"
	"github.com/gowim/gowim/wimimage"
)

func TestVolumeCreateRegularAndDirectory(t *testing.T) {
	root := t.TempDir()
	vol := New(root)
	require.NoError(t, vol.Create("/", "sub", ntfsapply.ObjectDirectory))
	require.NoError(t, vol.Create("/sub", "f.txt", ntfsapply.ObjectRegular))
	assert.DirExists(t, filepath.Join(root, "sub"))
	assert.FileExists(t, filepath.Join(root, "sub", "f.txt"))
}

func TestVolumeLinkCreatesHardLink(t *testing.T) {
	root := t.TempDir()
	vol := New(root)
	require.NoError(t, vol.Create("/", "a", ntfsapply.ObjectRegular))
	w, err := vol.OpenAttr("/a", "")
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, vol.Link("/", "b", "/a"))
	content, err := os.ReadFile(filepath.Join(root, "b"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))

	infoA, _ := os.Stat(filepath.Join(root, "a"))
	infoB, _ := os.Stat(filepath.Join(root, "b"))
	assert.True(t, os.SameFile(infoA, infoB))
}

func TestVolumeSetReparseDataCreatesSymlink(t *testing.T) {
	root := t.TempDir()
	vol := New(root)
	require.NoError(t, vol.Create("/", "link", ntfsapply.ObjectRegular))

	body := encodeTestSymlinkBody("target.txt")
	buffer := append([]byte{0x0C, 0x00, 0x00, 0xA0, byte(len(body)), byte(len(body) >> 8), 0, 0}, body...)
	require.NoError(t, vol.SetReparseData("/link", buffer))

	target, err := os.Readlink(filepath.Join(root, "link"))
	require.NoError(t, err)
	assert.Equal(t, "target.txt", target)
}

// encodeTestSymlinkBody mirrors capture.encodeSymlinkReparseData's
// 12-byte-header output shape so this test can build a buffer without
// the capture package, whose encoder is unexported.
func encodeTestSymlinkBody(target string) []byte {
	u16 := []uint16{}
	for _, r := range target {
		u16 = append(u16, uint16(r))
	}
	nameBytes := make([]byte, 2*len(u16))
	for i, c := range u16 {
		nameBytes[i*2] = byte(c)
		nameBytes[i*2+1] = byte(c >> 8)
	}
	nameLen := uint16(len(nameBytes))
	header := make([]byte, 12)
	header[0], header[1] = 0, 0 // SubstituteNameOffset
	header[2], header[3] = byte(nameLen), byte(nameLen>>8)
	header[4], header[5] = byte(nameLen), byte(nameLen>>8) // PrintNameOffset
	header[6], header[7] = byte(nameLen), byte(nameLen>>8)
	header[8], header[9], header[10], header[11] = 1, 0, 0, 0 // flags: relative

	body := append(header, nameBytes...)
	body = append(body, nameBytes...)
	return body
}

func TestVolumeSetAttributesReadonly(t *testing.T) {
	root := t.TempDir()
	vol := New(root)
	require.NoError(t, vol.Create("/", "f", ntfsapply.ObjectRegular))
	require.NoError(t, vol.SetAttributes("/f", wimimage.FileAttrReadonly))
	info, err := os.Stat(filepath.Join(root, "f"))
	require.NoError(t, err)
	assert.Zero(t, info.Mode().Perm()&0o222)
}

func TestVolumeSetTimes(t *testing.T) {
	root := t.TempDir()
	vol := New(root)
	require.NoError(t, vol.Create("/", "f", ntfsapply.ObjectRegular))
	ref, err := vol.OpenInode("/f")
	require.NoError(t, err)
	lastWrite := wimimage.NewFileTime(time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC))
	require.NoError(t, vol.SetTimes(ref, 0, lastWrite, lastWrite))
	require.NoError(t, vol.CloseInode(ref))

	info, err := os.Stat(filepath.Join(root, "f"))
	require.NoError(t, err)
	assert.Equal(t, lastWrite.Time().Unix(), info.ModTime().Unix())
}

// TestVolumeSetTimesOnSymlink asserts that timestamping a symlink
// dentry touches the link itself (via lChtimes) rather than following
// it into the target file's timestamps.
func TestVolumeSetTimesOnSymlink(t *testing.T) {
	root := t.TempDir()
	vol := New(root)
	require.NoError(t, vol.Create("/", "target.txt", ntfsapply.ObjectRegular))
	require.NoError(t, vol.Create("/", "link", ntfsapply.ObjectRegular))

	body := encodeTestSymlinkBody("target.txt")
	buffer := append([]byte{0x0C, 0x00, 0x00, 0xA0, byte(len(body)), byte(len(body) >> 8), 0, 0}, body...)
	require.NoError(t, vol.SetReparseData("/link", buffer))

	targetBefore, err := os.Lstat(filepath.Join(root, "target.txt"))
	require.NoError(t, err)

	ref, err := vol.OpenInode("/link")
	require.NoError(t, err)
	lastWrite := wimimage.NewFileTime(time.Date(2019, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, vol.SetTimes(ref, 0, lastWrite, lastWrite))
	require.NoError(t, vol.CloseInode(ref))

	linkInfo, err := os.Lstat(filepath.Join(root, "link"))
	require.NoError(t, err)
	assert.Equal(t, lastWrite.Time().Unix(), linkInfo.ModTime().Unix())

	targetAfter, err := os.Lstat(filepath.Join(root, "target.txt"))
	require.NoError(t, err)
	assert.Equal(t, targetBefore.ModTime().Unix(), targetAfter.ModTime().Unix())
}
