package funnel

// Session is the typed, validated view of a persisted session.
type Session struct {
	UserKey         string
	State           State
	Criteria        Criteria
	LastSeenEventID string
}

// IsDuplicate reports whether eventID was the last event applied to s.
// On false it records eventID as the new marker. An empty id carries no
// identity and is never treated as a duplicate.
func IsDuplicate(s *Session, eventID string) bool {
	if eventID == "" {
		return false
	}
	if s.LastSeenEventID == eventID {
		return true
	}
	s.LastSeenEventID = eventID
	return false
}
