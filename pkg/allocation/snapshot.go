package allocation

import (
	"encoding/json"
	"time"
)

// Snapshot is an immutable view of the rule set. Rules are deep-copied in and out,
// so edits made to the source rules after the snapshot was taken are never seen.
// Slice order is the insertion order used to break priority ties.
type Snapshot struct {
	version uint64
	takenAt time.Time
	rules   []*Rule
}

func NewSnapshot(version uint64, rules []*Rule) *Snapshot {
	s := &Snapshot{
		version: version,
		takenAt: time.Now().UTC(),
		rules:   make([]*Rule, 0, len(rules)),
	}
	for _, r := range rules {
		if r != nil {
			s.rules = append(s.rules, r.Clone())
		}
	}
	return s
}

func (s *Snapshot) Version() uint64 {
	if s == nil {
		return 0
	}
	return s.version
}

func (s *Snapshot) TakenAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.takenAt
}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Rules returns a private copy of the rule set in insertion order.
func (s *Snapshot) Rules() []*Rule {
	if s == nil {
		return nil
	}
	res := make([]*Rule, len(s.rules))
	for i, r := range s.rules {
		res[i] = r.Clone()
	}
	return res
}

func (s *Snapshot) Get(id string) *Rule {
	if s == nil {
		return nil
	}
	for _, r := range s.rules {
		if r.ID == id {
			return r.Clone()
		}
	}
	return nil
}

// Match runs m over the snapshot rules without copying the whole set. Matchers must
// not modify the rules they are given; the selected rule is returned as a copy.
// A nil matcher means the DefaultMatcher, a nil result from m means no match.
func (s *Snapshot) Match(m Matcher, sc *ShipmentContext) *MatchResult {
	if s == nil {
		return &MatchResult{}
	}
	if m == nil {
		m = &DefaultMatcher{}
	}
	res := m.Match(s.rules, sc)
	if res == nil {
		return &MatchResult{}
	}
	if res.Rule != nil {
		res.Rule = res.Rule.Clone()
	}
	return res
}

type snapshotJSON struct {
	Version uint64    `json:"version"`
	TakenAt time.Time `json:"takenAt"`
	Rules   []*Rule   `json:"rules"`
}

func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(&snapshotJSON{Version: s.version, TakenAt: s.takenAt, Rules: s.rules})
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var v snapshotJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	s.version = v.Version
	s.takenAt = v.TakenAt
	s.rules = v.Rules
	return nil
}
