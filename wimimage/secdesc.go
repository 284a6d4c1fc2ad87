package wimimage

// SecurityDescriptorSet is the deduplicating set of opaque NTFS
// security-descriptor byte buffers described in spec.md §3 and §4.6:
// an insertion-ordered array plus an index mapping a descriptor's
// bytes to its stable integer ID.
//
// The source this is modeled on keys its lookup tree on (length,
// bytes); spec.md §9 suggests a content hash with a bytewise
// tie-break instead. A Go map keyed on the raw byte string gives the
// same no-false-positive dedup with less code than either, so that's
// what's used here - see DESIGN.md for why this counts as carrying
// the teacher's intent rather than reinventing it.
type SecurityDescriptorSet struct {
	descriptors [][]byte
	index       map[string]int
}

// NewSecurityDescriptorSet returns an empty set.
func NewSecurityDescriptorSet() *SecurityDescriptorSet {
	return &SecurityDescriptorSet{index: make(map[string]int)}
}

// Add inserts bytes if not already present and returns its stable
// index. A zero-length descriptor is permitted and deduplicated like
// any other (spec.md §4.6).
func (s *SecurityDescriptorSet) Add(bytes []byte) int {
	key := string(bytes)
	if id, ok := s.index[key]; ok {
		return id
	}
	id := len(s.descriptors)
	cp := append([]byte(nil), bytes...)
	s.descriptors = append(s.descriptors, cp)
	s.index[key] = id
	return id
}

// Get returns the descriptor bytes for id, or (nil, false) if id is
// out of range.
func (s *SecurityDescriptorSet) Get(id int) ([]byte, bool) {
	if id < 0 || id >= len(s.descriptors) {
		return nil, false
	}
	return s.descriptors[id], true
}

// Len returns the number of distinct descriptors in the set.
func (s *SecurityDescriptorSet) Len() int {
	return len(s.descriptors)
}
