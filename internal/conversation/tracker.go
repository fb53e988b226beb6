package conversation

import "sort"

// ResponseStatus tracks which contributors are expected to respond and which
// of them are still outstanding. It is not safe for concurrent use; the owning
// conversation serialises access.
type ResponseStatus struct {
	shouldRespond []string
	expected      map[string]struct{}
	outstanding   map[string]struct{}
}

// NewResponseStatus expects one response from each of ids. Empty and repeated
// ids are ignored.
func NewResponseStatus(ids []string) *ResponseStatus {
	s := &ResponseStatus{
		expected:    make(map[string]struct{}, len(ids)),
		outstanding: make(map[string]struct{}, len(ids)),
	}
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := s.expected[id]; ok {
			continue
		}
		s.expected[id] = struct{}{}
		s.outstanding[id] = struct{}{}
		s.shouldRespond = append(s.shouldRespond, id)
	}
	return s
}

// NewResponseStatusForComponents expects one response from each selected contributor.
func NewResponseStatusForComponents(selected []SelectedContributor) *ResponseStatus {
	ids := make([]string, 0, len(selected))
	for _, c := range selected {
		ids = append(ids, c.ContributorID)
	}
	return NewResponseStatus(ids)
}

// ResponseReceived marks contributorID as having responded.
func (s *ResponseStatus) ResponseReceived(contributorID string) error {
	if contributorID == "" {
		return unexpected("", "missing contributor id")
	}
	if _, ok := s.expected[contributorID]; !ok {
		return unexpected(contributorID, "contributor was not expected to respond")
	}
	if _, ok := s.outstanding[contributorID]; !ok {
		return unexpected(contributorID, "duplicate response")
	}
	delete(s.outstanding, contributorID)
	return nil
}

// Expects reports whether contributorID is in the expected set.
func (s *ResponseStatus) Expects(contributorID string) bool {
	_, ok := s.expected[contributorID]
	return ok
}

// IsOutstanding reports whether contributorID is expected and has not responded.
func (s *ResponseStatus) IsOutstanding(contributorID string) bool {
	_, ok := s.outstanding[contributorID]
	return ok
}

// Outstanding returns the sorted ids that have not responded yet.
func (s *ResponseStatus) Outstanding() []string {
	ids := make([]string, 0, len(s.outstanding))
	for id := range s.outstanding {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ShouldRespond returns the expected ids in construction order.
func (s *ResponseStatus) ShouldRespond() []string {
	return append([]string(nil), s.shouldRespond...)
}

// IsFinished reports whether every expected contributor has responded.
func (s *ResponseStatus) IsFinished() bool {
	return len(s.outstanding) == 0
}
