package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/allocation"
	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/mime"
)

var (
	ErrNotFound     = errors.New("rule not found")
	ErrNotWatchable = errors.New("rule repo cannot be watched")

	errNilRule = fmt.Errorf("%w: nil rule", allocation.ErrInvalidRule)
)

// RuleRepo stores rules. Save refuses invalid rules and keeps the bookkeeping fields
// (version, created, updated, changes) up to date.
type RuleRepo interface {
	Name() string
	Get(id string) (*allocation.Rule, error)
	Save(rule *allocation.Rule) error
	Remove(id string) error
	RemoveAll() error
	Each(skip int, limit int, fn func(rule *allocation.Rule)) error
	Count() int
	Active() int
	Close()
}

// Watcher is implemented by repos able to signal rule changes made by other
// processes. Watch returns once watching started and stops when ctx is done.
type Watcher interface {
	Watch(ctx context.Context, onChange func()) error
}

// prepare validates rule and stamps it as the successor of old, which is nil for a
// new rule.
func prepare(old, rule *allocation.Rule) error {
	if rule == nil {
		return errNilRule
	}
	if err := rule.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	rule.Updated = now
	if old == nil {
		rule.Version = 1
		if rule.Created.IsZero() {
			rule.Created = now
		}
		rule.Changes = ""
		return nil
	}

	rule.Version = old.Version + 1
	rule.Created = old.Created
	rule.Changes = strings.Join(CompareRules(old, rule), "\n")
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func fmtKey(id string, prefix string) (string, error) {
	if len(id) == 0 {
		return "", errors.New("id not specified")
	}
	return fmt.Sprintf("%s:%s", prefix, id), nil
}

// decode reads one rule or a list of rules, JSON or YAML.
func decode(data []byte) ([]*allocation.Rule, error) {
	data = bytes.TrimSpace(data)
	data = bytes.TrimSpace(bytes.TrimPrefix(data, []byte("---")))
	list := bytes.HasPrefix(data, []byte("[")) || bytes.HasPrefix(data, []byte("-"))

	unmarshal := yaml.Unmarshal
	if mime.IsJSON(data) {
		unmarshal = json.Unmarshal
	}

	var rs []*allocation.Rule
	if list {
		if err := unmarshal(data, &rs); err != nil {
			return nil, err
		}
	} else {
		r := &allocation.Rule{}
		if err := unmarshal(data, r); err != nil {
			return nil, err
		}
		rs = []*allocation.Rule{r}
	}

	res := rs[:0]
	for _, r := range rs {
		if r == nil {
			continue
		}
		for _, c := range r.Conditions {
			if c != nil {
				c.Value = normalizeValue(c.Value)
			}
		}
		res = append(res, r)
	}
	return res, nil
}

// yaml decodes nested maps as map[interface{}]interface{}, keep condition values to
// scalars and []interface{}
func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case []interface{}:
		res := make([]interface{}, len(t))
		for i, e := range t {
			res[i] = normalizeValue(e)
		}
		return res
	case map[interface{}]interface{}:
		res := make(map[string]interface{}, len(t))
		for k, e := range t {
			res[fmt.Sprint(k)] = normalizeValue(e)
		}
		return res
	}
	return v
}

// sortRules orders rules by creation, then id. This is the insertion order snapshots
// use to break priority ties.
func sortRules(rules []*allocation.Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if !rules[i].Created.Equal(rules[j].Created) {
			return rules[i].Created.Before(rules[j].Created)
		}
		return rules[i].ID < rules[j].ID
	})
}

func page(rules []*allocation.Rule, skip int, limit int) []*allocation.Rule {
	if skip > len(rules) {
		skip = len(rules)
	}
	rules = rules[skip:]
	if limit > 0 && limit < len(rules) {
		rules = rules[:limit]
	}
	return rules
}

func countActive(r RuleRepo) int {
	count := 0
	r.Each(0, 0, func(rule *allocation.Rule) {
		if rule.Active {
			count++
		}
	})
	return count
}
