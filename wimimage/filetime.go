package wimimage

import "time"

// windowsEpochOffsetHundredNanos is the number of 100ns intervals
// between the Windows FILETIME epoch (1601-01-01 UTC) and the Unix
// epoch (1970-01-01 UTC), matching the constant used by the reference
// WIM reader (other_examples' wim.go: filetime.Time()).
const windowsEpochOffsetHundredNanos = 116444736000000000

// FileTime is a count of 100-nanosecond ticks since the Windows epoch,
// the representation spec.md §3 specifies for inode timestamps. It is
// kept distinct from time.Time so round-tripping through capture and
// apply never loses or rounds sub-100ns precision that a Time would
// silently truncate to nanoseconds anyway, but more importantly so the
// exact on-disk tick count survives a capture -> apply -> capture
// cycle unchanged (spec.md §8's round-trip law).
type FileTime uint64

// NewFileTime converts a time.Time to its 100ns-tick representation.
func NewFileTime(t time.Time) FileTime {
	unixHundredNanos := t.UnixNano() / 100
	return FileTime(unixHundredNanos + windowsEpochOffsetHundredNanos)
}

// Time converts back to a time.Time (UTC).
func (f FileTime) Time() time.Time {
	unixHundredNanos := int64(f) - windowsEpochOffsetHundredNanos
	return time.Unix(0, unixHundredNanos*100).UTC()
}
