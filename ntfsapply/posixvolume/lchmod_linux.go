//go:build linux

package posixvolume

import "os"

// lChmod is a no-op on Linux: Fchmodat's AT_SYMLINK_NOFOLLOW isn't
// supported on this kernel for mode changes, and chmod-ing a symlink
// always resolves through to its target, which would silently chmod
// the wrong file.
func lChmod(name string, mode os.FileMode) error {
	return nil
}
