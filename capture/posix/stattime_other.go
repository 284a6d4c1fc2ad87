//go:build dragonfly

package posix

import (
	"syscall"
	"time"
)

// statCtime and statAtime return the zero time on platforms this
// module hasn't special-cased; toStatInfo falls back to
// ModTime for CreationTime/LastAccessTime in that case, mirroring
// backend/local/metadata_other.go's ModTime-only fallback.
func statCtime(st *syscall.Stat_t) time.Time { return time.Time{} }
func statAtime(st *syscall.Stat_t) time.Time { return time.Time{} }
