package repo

import (
	"fmt"
	"sync"

	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/allocation"
)

type inMemoryRuleRepo struct {
	sync.RWMutex
	rules map[string]*allocation.Rule
}

func NewInMemoryRuleRepo() RuleRepo {
	return &inMemoryRuleRepo{rules: make(map[string]*allocation.Rule)}
}

func (s *inMemoryRuleRepo) Name() string {
	return "in-memory"
}

func (s *inMemoryRuleRepo) Get(id string) (*allocation.Rule, error) {
	s.RLock()
	defer s.RUnlock()

	rule, ok := s.rules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rule.Clone(), nil
}

func (s *inMemoryRuleRepo) Save(rule *allocation.Rule) error {
	if rule == nil {
		return errNilRule
	}

	s.Lock()
	defer s.Unlock()

	if err := prepare(s.rules[rule.ID], rule); err != nil {
		return err
	}
	s.rules[rule.ID] = rule.Clone()
	return nil
}

func (s *inMemoryRuleRepo) Remove(id string) error {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.rules[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.rules, id)
	return nil
}

func (s *inMemoryRuleRepo) RemoveAll() error {
	s.Lock()
	defer s.Unlock()

	s.rules = make(map[string]*allocation.Rule)
	return nil
}

func (s *inMemoryRuleRepo) Count() int {
	s.RLock()
	defer s.RUnlock()

	return len(s.rules)
}

func (s *inMemoryRuleRepo) Active() int {
	return countActive(s)
}

func (s *inMemoryRuleRepo) Each(skip int, limit int, fn func(rule *allocation.Rule)) error {
	s.RLock()
	rules := make([]*allocation.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		rules = append(rules, r.Clone())
	}
	s.RUnlock()

	sortRules(rules)
	for _, r := range page(rules, skip, limit) {
		fn(r)
	}
	return nil
}

func (s *inMemoryRuleRepo) Close() {
	// no op
}
