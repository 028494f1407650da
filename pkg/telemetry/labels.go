package telemetry

// LabelSet remembers label tuples that have been published on a vector, so
// series that stop appearing can be set to zero instead of silently going
// stale. Not safe for concurrent use; each set has a single writer.
type LabelSet[K comparable] struct {
	seen  map[K]struct{}
	order []K
}

// NewLabelSet returns an empty LabelSet.
func NewLabelSet[K comparable]() *LabelSet[K] {
	return &LabelSet[K]{seen: make(map[K]struct{})}
}

// Add records k. Adding a key twice is a no-op.
func (s *LabelSet[K]) Add(k K) {
	if _, ok := s.seen[k]; ok {
		return
	}
	s.seen[k] = struct{}{}
	s.order = append(s.order, k)
}

// Has reports whether k was added.
func (s *LabelSet[K]) Has(k K) bool {
	_, ok := s.seen[k]
	return ok
}

// Len returns the number of distinct keys.
func (s *LabelSet[K]) Len() int { return len(s.order) }

// Keys returns the keys in insertion order.
func (s *LabelSet[K]) Keys() []K {
	out := make([]K, len(s.order))
	copy(out, s.order)
	return out
}

// PassTracker follows the labels published by a periodic sampling pass. A
// label missing from a pass is reported once for zeroing, then once more for
// deletion if it is still missing on the pass after that.
type PassTracker[K comparable] struct {
	live   *LabelSet[K]
	zeroed *LabelSet[K]
}

// NewPassTracker returns a tracker that has seen no pass yet.
func NewPassTracker[K comparable]() *PassTracker[K] {
	return &PassTracker[K]{live: NewLabelSet[K](), zeroed: NewLabelSet[K]()}
}

// Advance ends a pass that published current. zero holds labels live on the
// previous pass and absent now; forget holds labels zeroed on the previous
// pass and still absent.
func (t *PassTracker[K]) Advance(current *LabelSet[K]) (zero, forget []K) {
	nextZeroed := NewLabelSet[K]()
	for _, k := range t.live.Keys() {
		if !current.Has(k) {
			zero = append(zero, k)
			nextZeroed.Add(k)
		}
	}
	for _, k := range t.zeroed.Keys() {
		if !current.Has(k) {
			forget = append(forget, k)
		}
	}
	t.live = current
	t.zeroed = nextZeroed
	return zero, forget
}
