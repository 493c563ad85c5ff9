package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/allocation"
	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/allocation/repo"
	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/mime"
	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/store"
)

const (
	SNAPSHOT_PREFIX = "snapshots" // => snapshots:<version> {..}
)

var ErrNotWatchable = repo.ErrNotWatchable

// Publisher owns the current rule snapshot. Reload reads the repo and swaps in a new
// snapshot with the next version; readers holding the previous one keep using it.
type Publisher struct {
	repo     repo.RuleRepo
	archive  store.Store
	onReload []func(*allocation.Snapshot)

	mu      sync.Mutex
	current atomic.Pointer[allocation.Snapshot]
	cron    *cron.Cron
}

type Option func(*Publisher)

// WithArchive stores every published snapshot as JSON under snapshots:<version>.
func WithArchive(s store.Store) Option {
	return func(p *Publisher) { p.archive = s }
}

func OnReload(fn func(*allocation.Snapshot)) Option {
	return func(p *Publisher) { p.onReload = append(p.onReload, fn) }
}

func New(r repo.RuleRepo, opts ...Option) *Publisher {
	p := &Publisher{repo: r}
	for _, opt := range opts {
		opt(p)
	}
	p.current.Store(allocation.NewSnapshot(0, nil))
	return p
}

// Current never returns nil. Before the first reload it is the empty snapshot, version 0.
func (p *Publisher) Current() *allocation.Snapshot {
	return p.current.Load()
}

func (p *Publisher) Reload(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	rules := make([]*allocation.Rule, 0)
	err := p.repo.Each(0, 0, func(rule *allocation.Rule) {
		if err := rule.Validate(); err != nil {
			slog.Warn("skipping invalid rule", "rule", rule.ID, "err", err.Error())
			return
		}
		rules = append(rules, rule)
	})
	if err != nil {
		reloadsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("load rules from %s: %w", p.repo.Name(), err)
	}

	snap := allocation.NewSnapshot(p.Current().Version()+1, rules)
	p.current.Store(snap)

	reloadsTotal.WithLabelValues("ok").Inc()
	snapshotVersion.Set(float64(snap.Version()))
	snapshotRules.Set(float64(snap.Len()))

	slog.Info("rules snapshot published",
		"version", snap.Version(),
		"rules", snap.Len(),
		"repo", p.repo.Name(),
		"elapsed", time.Since(start).String(),
	)

	if p.archive != nil {
		if err := p.archiveSnapshot(snap); err != nil {
			slog.Error("failed to archive snapshot", "version", snap.Version(), "err", err.Error())
		}
	}
	for _, fn := range p.onReload {
		fn(snap)
	}
	return nil
}

func (p *Publisher) archiveSnapshot(snap *allocation.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return p.archive.Set(archiveKey(snap.Version()), data, &store.WriteOptions{ContentType: mime.JSON})
}

// Archived loads a previously published snapshot from the archive.
func (p *Publisher) Archived(version uint64) (*allocation.Snapshot, error) {
	if p.archive == nil {
		return nil, errors.New("no snapshot archive configured")
	}
	data, err := p.archive.Get(archiveKey(version))
	if err != nil {
		return nil, err
	}
	snap := &allocation.Snapshot{}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// Schedule reloads on the given cron spec, e.g. "*/5 * * * *" or "@every 1m".
func (p *Publisher) Schedule(spec string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("reload schedule %q: %w", spec, err)
	}

	p.mu.Lock()
	if p.cron == nil {
		p.cron = cron.New()
		p.cron.Start()
	}
	c := p.cron
	p.mu.Unlock()

	c.Schedule(schedule, cron.FuncJob(p.reload))
	return nil
}

// Watch reloads whenever the repo signals a change. Repos without a change feed
// return ErrNotWatchable.
func (p *Publisher) Watch(ctx context.Context) error {
	w, ok := p.repo.(repo.Watcher)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotWatchable, p.repo.Name())
	}
	return w.Watch(ctx, p.reload)
}

func (p *Publisher) reload() {
	if err := p.Reload(context.Background()); err != nil {
		slog.Error("failed to reload rules", "err", err.Error())
	}
}

func (p *Publisher) Close() {
	p.mu.Lock()
	c := p.cron
	p.cron = nil
	p.mu.Unlock()

	// wait outside the lock, a running job may be reloading
	if c != nil {
		<-c.Stop().Done()
	}
}

func archiveKey(version uint64) string {
	return fmt.Sprintf("%s:%020d", SNAPSHOT_PREFIX, version)
}
