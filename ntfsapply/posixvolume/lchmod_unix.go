//go:build !windows && !plan9 && !js && !linux

package posixvolume

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

func syscallMode(i os.FileMode) (o uint32) {
	o |= uint32(i.Perm())
	if i&os.ModeSetuid != 0 {
		o |= syscall.S_ISUID
	}
	if i&os.ModeSetgid != 0 {
		o |= syscall.S_ISGID
	}
	if i&os.ModeSticky != 0 {
		o |= syscall.S_ISVTX
	}
	return o
}

// lChmod changes the mode of the named file without following a
// trailing symlink.
func lChmod(name string, mode os.FileMode) error {
	if e := unix.Fchmodat(unix.AT_FDCWD, name, syscallMode(mode), unix.AT_SYMLINK_NOFOLLOW); e != nil {
		return &os.PathError{Op: "lChmod", Path: name, Err: e}
	}
	return nil
}
