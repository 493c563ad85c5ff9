package allocation

import (
	"fmt"
	"log/slog"
	"sort"
	"time"
)

type MatchResult struct {
	Rule       *Rule
	Candidates int
	Evaluated  int
	// Unmet explains every candidate evaluated before the match, e.g.
	// "rule heavy-north: weight_kg gte 500".
	Unmet []string
}

// Matcher selects the rule to apply, swappable for tests and experiments.
type Matcher interface {
	Match(rules []*Rule, sc *ShipmentContext) *MatchResult
}

type DefaultMatcher struct {
	Now func() time.Time
}

func (m *DefaultMatcher) Match(rules []*Rule, sc *ShipmentContext) *MatchResult {
	now := time.Now()
	if m != nil && m.Now != nil {
		now = m.Now()
	}
	return match(rules, sc, now)
}

// SelectRule returns the first candidate, by priority then insertion order, whose
// conditions hold for the shipment, or nil.
func SelectRule(rules []*Rule, sc *ShipmentContext) *Rule {
	return match(rules, sc, time.Now()).Rule
}

// Candidates keeps the active rules eligible for kind at time now, sorted by
// ascending priority. The sort is stable so equal priorities keep insertion order.
func Candidates(rules []*Rule, kind Scope, now time.Time) []*Rule {
	res := make([]*Rule, 0, len(rules))
	for _, r := range rules {
		if r == nil || !r.Active || !r.Scope.Matches(kind) || !r.InPeriod(now) {
			continue
		}
		res = append(res, r)
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].Priority < res[j].Priority
	})
	return res
}

func match(rules []*Rule, sc *ShipmentContext, now time.Time) *MatchResult {
	res := &MatchResult{}
	if sc == nil {
		return res
	}

	candidates := Candidates(rules, sc.Kind(), now)
	res.Candidates = len(candidates)

	for _, r := range candidates {
		res.Evaluated++
		ok, unmet := EvaluateConditions(sc, r.Conditions)
		if ok {
			res.Rule = r
			slog.Debug("rule matched", "rule", r.ID, "priority", r.Priority, "evaluated", res.Evaluated)
			return res
		}
		reason := "n/a"
		if unmet != nil {
			reason = unmet.String()
		}
		res.Unmet = append(res.Unmet, fmt.Sprintf("rule %s: %s", r.ID, reason))
	}

	slog.Debug("no rule matched", "candidates", res.Candidates, "kind", sc.Kind())
	return res
}
