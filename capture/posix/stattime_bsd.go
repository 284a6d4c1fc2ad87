//go:build darwin || freebsd || netbsd

package posix

import (
	"syscall"
	"time"
)

// statCtime and statAtime read the change/access times out of a BSD
// syscall.Stat_t, mirroring backend/local/metadata_bsd.go's readTime.
func statCtime(st *syscall.Stat_t) time.Time { return time.Unix(st.Ctimespec.Unix()) }
func statAtime(st *syscall.Stat_t) time.Time { return time.Unix(st.Atimespec.Unix()) }
