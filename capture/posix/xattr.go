//go:build !windows && !plan9 && !js

package posix

import (
	"encoding/binary"
	"strings"

	"github.com/pkg/xattr"
)

// encodeXattrSet serializes path's extended attributes into an opaque
// byte buffer suitable for wimimage.SecurityDescriptorSet.Add. The
// encoding is a simple length-prefixed (key, value) sequence; unlike
// an NTFS security descriptor this has no ACL semantics, but it
// occupies the same "opaque descriptor bytes" slot for a POSIX source
// per spec.md §1's Non-goal "preserving filesystem features the
// platform itself cannot represent — only mode bits are recorded" (a
// POSIX xattr set is the mode-bits-and-beyond equivalent this module
// has available without a real ACL to carry).
//
// Only keys in the "user." namespace (xattrPrefix) are kept; keys in
// any other namespace are skipped, mirroring backend/local/xattr.go's
// getXattr filtering.
func encodeXattrSet(path string, keys []string) ([]byte, error) {
	var buf []byte
	for _, k := range keys {
		lk := strings.ToLower(k)
		if !strings.HasPrefix(lk, xattrPrefix) {
			continue
		}
		v, err := xattr.LGet(path, k)
		if err != nil {
			if isXattrUnsupported(err) {
				continue
			}
			return nil, err
		}
		buf = appendLenPrefixed(buf, []byte(k))
		buf = appendLenPrefixed(buf, v)
	}
	return buf, nil
}

func appendLenPrefixed(buf, data []byte) []byte {
	var lenBytes [4]byte
	binary.LittleEndian.PutUint32(lenBytes[:], uint32(len(data)))
	buf = append(buf, lenBytes[:]...)
	buf = append(buf, data...)
	return buf
}

// xattrPrefix matches backend/local/xattr.go's namespace convention.
const xattrPrefix = "user."
