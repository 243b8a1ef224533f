package messaging

// Roster answers participation questions for one conversation. DirectPair and
// groupRoster are the two variants.
type Roster interface {
	// Includes reports whether userID may read and write the conversation
	Includes(userID string) bool
	// Counterpart returns the other participant of a direct conversation
	Counterpart(userID string) (string, bool)
	// CanAdminister reports whether userID may manage the conversation
	CanAdminister(userID string) bool
}

// DirectPair holds the two fixed participants of a direct conversation. The
// pair is unordered; A and B keep the order the conversation was created with.
type DirectPair struct {
	A string `json:"a"`
	B string `json:"b"`
}

// NewDirectPair builds a pair from two user ids
func NewDirectPair(a, b string) DirectPair { return DirectPair{A: a, B: b} }

// Normalized returns the pair ordered as (low, high), the key of the
// uniqueness constraint
func (p DirectPair) Normalized() (string, string) {
	if p.B < p.A {
		return p.B, p.A
	}
	return p.A, p.B
}

func (p DirectPair) Includes(userID string) bool {
	return userID != "" && (p.A == userID || p.B == userID)
}

func (p DirectPair) Counterpart(userID string) (string, bool) {
	switch userID {
	case p.A:
		return p.B, true
	case p.B:
		return p.A, true
	}
	return "", false
}

// Either participant administers a direct conversation
func (p DirectPair) CanAdminister(userID string) bool { return p.Includes(userID) }

type groupRoster struct {
	creatorID string
	members   map[string]Membership
}

func newGroupRoster(creatorID string, members []Membership) groupRoster {
	r := groupRoster{creatorID: creatorID, members: make(map[string]Membership, len(members))}
	for _, m := range members {
		r.members[m.UserID] = m
	}
	return r
}

func (r groupRoster) Includes(userID string) bool {
	_, ok := r.members[userID]
	return ok
}

func (r groupRoster) Counterpart(string) (string, bool) { return "", false }

// The creator keeps admin rights even after leaving; anyone else needs an
// admin membership.
func (r groupRoster) CanAdminister(userID string) bool {
	if r.isCreator(userID) {
		return true
	}
	m, ok := r.members[userID]
	return ok && m.IsAdmin
}

func (r groupRoster) isCreator(userID string) bool {
	return userID != "" && userID == r.creatorID
}

func (r groupRoster) member(userID string) (Membership, bool) {
	m, ok := r.members[userID]
	return m, ok
}
