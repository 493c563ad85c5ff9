package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/allocation"
	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/streams"
)

const (
	STREAM_NAME  = "allocation_rules"
	RULE_SUBJECT = "rule.>"

	fmtRuleSubject = "rule.%s"
	ruleFilter     = "rule.*"

	jsTimeout = 10 * time.Second
)

var STREAM_SUBJECTS = []string{
	RULE_SUBJECT,
}

// jetstreamRuleRepo keeps the latest message of subject rule.<id> as the current rule.
type jetstreamRuleRepo struct {
	sync.Mutex
	jStream *streams.Stream
}

func NewJetstreamRuleRepo(stream *streams.Stream) (RuleRepo, error) {
	r := &jetstreamRuleRepo{jStream: stream}

	ctx, cancel := context.WithTimeout(context.Background(), jsTimeout)
	defer cancel()

	_, err := stream.CreateStream(ctx, STREAM_SUBJECTS)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *jetstreamRuleRepo) Name() string {
	return "jetstream"
}

func (s *jetstreamRuleRepo) Get(id string) (*allocation.Rule, error) {
	key, err := fmtSubject(id)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), jsTimeout)
	defer cancel()

	val, err := s.jStream.FetchLastMessageBySubject(ctx, key)
	if err != nil {
		return nil, err
	}
	if val == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	var r allocation.Rule
	err = json.Unmarshal(val, &r)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *jetstreamRuleRepo) Save(rule *allocation.Rule) error {
	if rule == nil {
		return errNilRule
	}
	key, err := fmtSubject(rule.ID)
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

	ctx, cancel := context.WithTimeout(context.Background(), jsTimeout)
	defer cancel()

	_, err = s.jStream.Publish(ctx, key, val, map[string]string{
		"Rule-Version": fmt.Sprint(rule.Version),
	})
	return err
}

func (s *jetstreamRuleRepo) Remove(id string) error {
	key, err := fmtSubject(id)
	if err != nil {
		return err
	}
	if _, err := s.Get(id); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), jsTimeout)
	defer cancel()

	return s.jStream.PurgeSubject(ctx, key)
}

func (s *jetstreamRuleRepo) RemoveAll() error {
	ctx, cancel := context.WithTimeout(context.Background(), jsTimeout)
	defer cancel()

	return s.jStream.PurgeSubject(ctx, RULE_SUBJECT)
}

func (s *jetstreamRuleRepo) latest() (map[string][]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), jsTimeout)
	defer cancel()

	return s.jStream.FetchLastMessagePerSubject(ctx, ruleFilter)
}

func (s *jetstreamRuleRepo) Each(skip int, limit int, fn func(rule *allocation.Rule)) error {
	rs, err := s.latest()
	if err != nil {
		return err
	}

	rules := make([]*allocation.Rule, 0, len(rs))
	for subject, val := range rs {
		var r allocation.Rule
		if err := json.Unmarshal(val, &r); err != nil {
			slog.Warn("skipping undecodable rule", "subject", subject, "err", err.Error())
			continue
		}
		rules = append(rules, &r)
	}

	sortRules(rules)
	for _, r := range page(rules, skip, limit) {
		fn(r)
	}
	return nil
}

func (s *jetstreamRuleRepo) Count() int {
	rs, err := s.latest()
	if err != nil {
		return 0
	}
	return len(rs)
}

func (s *jetstreamRuleRepo) Active() int {
	rs, err := s.latest()
	if err != nil {
		return 0
	}

	count := 0
	for _, val := range rs {
		if gjson.GetBytes(val, "isActive").Bool() {
			count++
		}
	}
	return count
}

// Watch reports rules published after it started.
func (s *jetstreamRuleRepo) Watch(ctx context.Context, onChange func()) error {
	return s.jStream.ConsumeNew(ctx, RULE_SUBJECT, func(_ context.Context, subject string, headers map[string][]string, _ []byte) error {
		slog.Debug("rule published",
			"subject", subject,
			"version", streams.GetHeader(headers, "Rule-Version"),
		)
		onChange()
		return nil
	})
}

func (s *jetstreamRuleRepo) Close() {
	s.jStream.Close()
}

func fmtSubject(id string) (string, error) {
	if len(id) == 0 {
		return "", fmt.Errorf("id not specified")
	}
	if strings.ContainsAny(id, ".*> \t") {
		return "", fmt.Errorf("id %q is not a valid subject token", id)
	}
	return fmt.Sprintf(fmtRuleSubject, id), nil
}
