//go:build linux || openbsd || solaris

package posix

import (
	"syscall"
	"time"
)

// statCtime and statAtime read the change/access times out of a
// syscall.Stat_t, mirroring backend/local/metadata_linux.go's (and,
// for openbsd/solaris, metadata_unix.go's) readTime.
func statCtime(st *syscall.Stat_t) time.Time { return time.Unix(st.Ctim.Unix()) }
func statAtime(st *syscall.Stat_t) time.Time { return time.Unix(st.Atim.Unix()) }
