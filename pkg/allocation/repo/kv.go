package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/allocation"
	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/store"
	redistore "github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/store/redis"
)

const (
	RULE_PREFIX = "rules" // => rules:id {..}
)

// kvRuleRepo keeps one JSON document per rule in a store.Store, redis or bolt.
type kvRuleRepo struct {
	sync.Mutex
	store  store.Store
	prefix string
}

func NewKVRuleRepo(s store.Store) RuleRepo {
	return &kvRuleRepo{store: s, prefix: RULE_PREFIX}
}

func NewRedisRuleRepo(redisURL string) RuleRepo {
	return NewKVRuleRepo(redistore.New(redisURL))
}

func (s *kvRuleRepo) Name() string {
	return s.store.Name()
}

func (s *kvRuleRepo) Get(id string) (*allocation.Rule, error) {
	key, err := fmtKey(id, s.prefix)
	if err != nil {
		return nil, err
	}

	val, err := s.store.Get(key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	var r allocation.Rule
	err = json.Unmarshal(val, &r)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *kvRuleRepo) Save(rule *allocation.Rule) error {
	if rule == nil {
		return errNilRule
	}
	key, err := fmtKey(rule.ID, s.prefix)
	if err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	old, err := s.Get(rule.ID)
	if err != nil && !isNotFound(err) {
		return err
	}
	if err := prepare(old, rule); err != nil {
		return err
	}

	val, err := json.Marshal(rule)
	if err != nil {
		return err
	}
	return s.store.Set(key, val, nil)
}

func (s *kvRuleRepo) Remove(id string) error {
	key, err := fmtKey(id, s.prefix)
	if err != nil {
		return err
	}

	ok, err := s.store.Exists(key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.store.Delete(key)
}

func (s *kvRuleRepo) RemoveAll() error {
	return s.store.DeleteAll(s.prefix + ":")
}

func (s *kvRuleRepo) Each(skip int, limit int, fn func(rule *allocation.Rule)) error {
	rules := make([]*allocation.Rule, 0)
	err := s.store.Scan(s.prefix+":", 0, 0, func(key string, val []byte) {
		var r allocation.Rule
		if err := json.Unmarshal(val, &r); err != nil {
			slog.Warn("skipping undecodable rule", "key", key, "err", err.Error())
			return
		}
		rules = append(rules, &r)
	})
	if err != nil {
		return err
	}

	sortRules(rules)
	for _, r := range page(rules, skip, limit) {
		fn(r)
	}
	return nil
}

func (s *kvRuleRepo) Count() int {
	return s.store.Count(s.prefix + ":")
}

func (s *kvRuleRepo) Active() int {
	return countActive(s)
}

// Watch follows redis keyspace events on the rule keys. Other stores have no change
// feed and report an error.
func (s *kvRuleRepo) Watch(ctx context.Context, onChange func()) error {
	rs, ok := s.store.(*redistore.Store)
	if !ok {
		return fmt.Errorf("%w: %s store", ErrNotWatchable, s.store.Name())
	}

	kn := redistore.NewKeyspaceNotifications(rs)
	cb := func(key, id string) {
		slog.Debug("rule key changed", "key", key, "rule", id)
		onChange()
	}
	kn.KeyChanged(s.prefix+":*", cb)
	kn.KeyDeleted(s.prefix+":*", cb)

	go func() {
		if err := kn.Listen(ctx); err != nil && ctx.Err() == nil {
			slog.Error("rule keyspace listener stopped", "err", err.Error())
		}
	}()
	return nil
}

func (s *kvRuleRepo) Close() {
	s.store.Close()
}
