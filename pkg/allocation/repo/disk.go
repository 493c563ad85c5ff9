package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/allocation"
)

const watchDebounce = 250 * time.Millisecond

// diskRuleRepo reads every .json, .yaml and .yml file under root; a file holds one
// rule or a list. Saved rules are written as <id>.json.
type diskRuleRepo struct {
	sync.Mutex
	root string
}

func NewDiskRuleRepo(root string) RuleRepo {
	return &diskRuleRepo{root: root}
}

func (s *diskRuleRepo) Name() string {
	return "disk"
}

func (s *diskRuleRepo) Get(id string) (*allocation.Rule, error) {
	var found *allocation.Rule
	err := s.walk(func(path string, r *allocation.Rule) {
		if r.ID == id && found == nil {
			found = r
		}
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return found, nil
}

func (s *diskRuleRepo) Save(rule *allocation.Rule) error {
	if rule == nil {
		return errNilRule
	}
	path, err := s.path(rule.ID)
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

	data, err := json.MarshalIndent(rule, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.root, 0755); err != nil {
		return err
	}
	// write then rename so watchers never read a partial file
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *diskRuleRepo) Remove(id string) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}

func (s *diskRuleRepo) RemoveAll() error {
	return filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !isRuleFile(path) {
			return nil
		}
		return os.Remove(path)
	})
}

func (s *diskRuleRepo) Count() int {
	count := 0
	s.Each(0, 0, func(r *allocation.Rule) {
		count++
	})
	return count
}

func (s *diskRuleRepo) Active() int {
	return countActive(s)
}

func (s *diskRuleRepo) Each(skip int, limit int, fn func(rule *allocation.Rule)) error {
	rules := make([]*allocation.Rule, 0)
	err := s.walk(func(path string, r *allocation.Rule) {
		rules = append(rules, r)
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

func (s *diskRuleRepo) Close() {
	// no op
}

// Watch reports rule file changes under root, debounced so that an editor saving
// several files triggers one reload.
func (s *diskRuleRepo) Watch(ctx context.Context, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("rules watcher: %w", err)
	}
	err = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
	if err != nil {
		w.Close()
		return fmt.Errorf("rules watcher add %s: %w", s.root, err)
	}

	go func() {
		defer w.Close()

		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !isRuleFile(ev.Name) {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
					slog.Debug("rule file changed", "file", ev.Name, "op", ev.Op.String())
					if timer == nil {
						timer = time.AfterFunc(watchDebounce, onChange)
					} else {
						timer.Reset(watchDebounce)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Error("rules watcher failed", "root", s.root, "err", err.Error())
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// walk decodes every rule file, files that do not decode are skipped with a warning
func (s *diskRuleRepo) walk(fn func(path string, r *allocation.Rule)) error {
	return filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// no rules saved yet
			if path == s.root && errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !isRuleFile(path) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rules, err := decode(data)
		if err != nil {
			slog.Warn("skipping undecodable rule file", "file", path, "err", err.Error())
			return nil
		}
		for _, r := range rules {
			fn(path, r)
		}
		return nil
	})
}

func (s *diskRuleRepo) path(id string) (string, error) {
	if len(id) == 0 {
		return "", errors.New("id not specified")
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("%w: id %q is not a valid file name", allocation.ErrInvalidRule, id)
	}
	return filepath.Join(s.root, id+".json"), nil
}

func isRuleFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}
