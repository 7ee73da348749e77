package engine

// seenSet is a bounded FIFO set of message IDs. Delivery is at-least-once,
// so a repeated ID must be a no-op upstream of any ledger mutation.
type seenSet struct {
	cap   int
	order []string
	ids   map[string]struct{}
}

func newSeenSet(capacity int) *seenSet {
	if capacity <= 0 {
		capacity = 512
	}
	return &seenSet{
		cap: capacity,
		ids: make(map[string]struct{}, capacity),
	}
}

// Seen records id and reports whether it was already present.
func (s *seenSet) Seen(id string) bool {
	if id == "" {
		return false
	}
	if _, ok := s.ids[id]; ok {
		return true
	}
	if len(s.order) >= s.cap {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.ids, oldest)
	}
	s.order = append(s.order, id)
	s.ids[id] = struct{}{}
	return false
}
