package ledger

// Set is the decoded form of a ledger: insertion-ordered and duplicate free.
// The zero value is an empty set ready to use.
type Set struct {
	ids   []int64
	index map[int64]struct{}
}

// NewSet builds a set from ids, skipping non-positive and repeated values.
func NewSet(ids ...int64) *Set {
	s := &Set{}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// ParseSet decodes a persisted value into a Set.
func ParseSet(value string) (*Set, error) {
	ids, err := Decode(value)
	if err != nil {
		return nil, err
	}
	return NewSet(ids...), nil
}

func (s *Set) Contains(id int64) bool {
	if s.index == nil {
		return false
	}
	_, ok := s.index[id]
	return ok
}

// Add appends id when absent and reports whether the set changed.
func (s *Set) Add(id int64) bool {
	if id <= 0 || s.Contains(id) {
		return false
	}
	if s.index == nil {
		s.index = make(map[int64]struct{})
	}
	s.index[id] = struct{}{}
	s.ids = append(s.ids, id)
	return true
}

// Remove deletes id and reports whether the set changed. Order of the
// remaining ids is kept.
func (s *Set) Remove(id int64) bool {
	if !s.Contains(id) {
		return false
	}
	delete(s.index, id)
	for i, v := range s.ids {
		if v == id {
			s.ids = append(s.ids[:i], s.ids[i+1:]...)
			break
		}
	}
	return true
}

// IDs returns a copy of the ids in insertion order.
func (s *Set) IDs() []int64 {
	out := make([]int64, len(s.ids))
	copy(out, s.ids)
	return out
}

func (s *Set) Len() int {
	return len(s.ids)
}

// String returns the persisted encoding.
func (s *Set) String() string {
	return Encode(s.ids)
}
