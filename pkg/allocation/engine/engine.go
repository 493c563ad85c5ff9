package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/allocation"
)

var (
	ErrDisabled   = errors.New("allocation disabled")
	ErrNoFallback = errors.New("no fallback strategy configured")
)

// DecisionSink receives every decision the engine takes outside of dry runs.
type DecisionSink interface {
	Record(ctx context.Context, d *allocation.Decision) error
}

type SinkFunc func(ctx context.Context, d *allocation.Decision) error

func (f SinkFunc) Record(ctx context.Context, d *allocation.Decision) error {
	return f(ctx, d)
}

// Snapshots is the source of the current rule set, usually a publisher.
type Snapshots interface {
	Current() *allocation.Snapshot
	Reload(ctx context.Context) error
}

type Engine struct {
	enabled  atomic.Bool
	matcher  allocation.Matcher
	resolver allocation.ActionResolver
	fallback allocation.FallbackStrategy
	timeout  time.Duration
	workers  int
	sinks    []DecisionSink
	onStats  atomic.Pointer[func(*EngineStats)]
	source   Snapshots
	Commands chan *allocation.Event
	Events   chan *allocation.Event
}

type EngineStats struct {
	EngineEnabled   bool   `json:"engineEnabled"`
	SnapshotVersion uint64 `json:"snapshotVersion"`
	RulesLoaded     int    `json:"rulesLoaded"`
}

type Option func(*Engine)

func WithMatcher(m allocation.Matcher) Option {
	return func(e *Engine) { e.matcher = m }
}

func WithResolver(r allocation.ActionResolver) Option {
	return func(e *Engine) { e.resolver = r }
}

func WithFallback(f allocation.FallbackStrategy) Option {
	return func(e *Engine) { e.fallback = f }
}

// WithResolveTimeout bounds each resolver and fallback call, 0 means no bound.
func WithResolveTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

func WithSinks(sinks ...DecisionSink) Option {
	return func(e *Engine) { e.sinks = append(e.sinks, sinks...) }
}

func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithSnapshots attaches the rule source used by the event loop and the reload command.
func WithSnapshots(s Snapshots) Option {
	return func(e *Engine) { e.source = s }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		matcher:  &allocation.DefaultMatcher{},
		resolver: allocation.NewServiceabilityResolver(nil),
		workers:  4,
		Commands: make(chan *allocation.Event),
		Events:   make(chan *allocation.Event),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.enabled.Store(true)
	engineEnabled.Set(1)
	go e.commandsLoop()
	return e
}

func (e *Engine) Enabled() bool {
	return e.enabled.Load()
}

func (e *Engine) Stop() {
	e.enabled.Store(false)
	engineEnabled.Set(0)
	e.emitStats()
}

func (e *Engine) Resume() {
	e.enabled.Store(true)
	engineEnabled.Set(1)
	e.emitStats()
}

// Allocate runs one shipment through PENDING, RULE_MATCHED or NO_MATCH, to RESOLVED or
// UNRESOLVED against the given snapshot. It always returns a terminal decision.
func (e *Engine) Allocate(ctx context.Context, snap *allocation.Snapshot, sc *allocation.ShipmentContext) *allocation.Decision {
	start := time.Now()
	d := &allocation.Decision{
		ID:              uuid.NewString(),
		State:           allocation.STATE_PENDING,
		SnapshotVersion: snap.Version(),
		DryRun:          IsDryRun(ctx),
	}

	switch {
	case !e.enabled.Load():
		e.unresolved(d, ErrDisabled)
	case sc == nil:
		e.unresolved(d, allocation.ErrInvalidContext)
	default:
		d.ShipmentID = sc.ShipmentID()
		d.Shipment = sc
		e.decide(ctx, snap, sc, d)
	}

	d.DecidedAt = time.Now().UTC()
	d.Duration = time.Since(start)
	observe(d)

	if d.Unresolved() {
		slog.Warn("shipment unresolved", "decision", d.ID, "shipment", d.ShipmentID, "rule", d.MatchedRuleID, "err", d.Error)
	} else {
		slog.Debug("shipment allocated", "decision", d.ID, "shipment", d.ShipmentID, "transporter", d.TransporterID, "reason", d.Reason)
	}

	if !d.DryRun {
		e.record(ctx, d)
	}
	return d
}

func (e *Engine) decide(ctx context.Context, snap *allocation.Snapshot, sc *allocation.ShipmentContext, d *allocation.Decision) {
	res := snap.Match(e.matcher, sc)
	d.Unmet = res.Unmet
	rulesEvaluated.Observe(float64(res.Evaluated))

	if res.Rule == nil {
		d.State = allocation.STATE_NO_MATCH
		e.fallbackTo(ctx, sc, d, allocation.REASON_NO_MATCHING_RULE, nil)
		return
	}

	d.State = allocation.STATE_RULE_MATCHED
	d.MatchedRuleID = res.Rule.ID

	carrier, err := e.resolve(ctx, res.Rule.Actions, sc)
	if err == nil {
		d.State = allocation.STATE_RESOLVED
		d.Reason = allocation.REASON_RULE_MATCH
		d.TransporterID = carrier
		d.AllocationMode = res.Rule.Actions.Mode()
		return
	}
	if isTimeout(err) {
		e.unresolved(d, fmt.Errorf("resolve rule %s: %w", res.Rule.ID, err))
		return
	}
	slog.Debug("rule actions not resolvable, trying fallback", "rule", res.Rule.ID, "err", err.Error())
	e.fallbackTo(ctx, sc, d, allocation.REASON_RESOLVER_FALLBACK, err)
}

func (e *Engine) resolve(ctx context.Context, actions allocation.RuleActions, sc *allocation.ShipmentContext) (string, error) {
	if e.resolver == nil {
		return "", allocation.ErrNoServiceableCarrier
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	carrier, err := e.resolver.ResolveCarrier(ctx, actions, sc)
	if err != nil {
		return "", err
	}
	if carrier == "" {
		return "", allocation.ErrNoServiceableCarrier
	}
	return carrier, nil
}

func (e *Engine) fallbackTo(ctx context.Context, sc *allocation.ShipmentContext, d *allocation.Decision, reason allocation.Reason, cause error) {
	if e.fallback == nil {
		e.unresolved(d, errors.Join(cause, ErrNoFallback))
		return
	}

	fctx, cancel := e.withTimeout(ctx)
	defer cancel()

	carrier, err := e.fallback.DefaultCarrier(fctx, sc)
	if err == nil && carrier == "" {
		err = allocation.ErrNoServiceableCarrier
	}
	if err != nil {
		e.unresolved(d, errors.Join(cause, fmt.Errorf("fallback: %w", err)))
		return
	}

	d.State = allocation.STATE_RESOLVED
	d.Reason = reason
	d.MatchedRuleID = ""
	d.TransporterID = carrier
	d.AllocationMode = allocation.MODE_AUTO
}

// unresolved keeps MatchedRuleID so the manual reviewer sees which rule applied.
func (e *Engine) unresolved(d *allocation.Decision, err error) {
	d.State = allocation.STATE_UNRESOLVED
	d.Reason = allocation.REASON_NO_MATCHING_RULE
	d.TransporterID = ""
	d.AllocationMode = allocation.MODE_MANUAL_REVIEW
	d.Error = err
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout > 0 {
		return context.WithTimeout(ctx, e.timeout)
	}
	return context.WithCancel(ctx)
}

func (e *Engine) record(ctx context.Context, d *allocation.Decision) {
	ctx = context.WithoutCancel(ctx)
	for _, s := range e.sinks {
		if err := s.Record(ctx, d); err != nil {
			sinkErrors.WithLabelValues(fmt.Sprintf("%T", s)).Inc()
			slog.Error("failed to record decision", "decision", d.ID, "sink", fmt.Sprintf("%T", s), "err", err.Error())
		}
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

type dryRunKey struct{}

// WithDryRun marks allocations made with ctx as dry runs: decisions are computed
// and returned but never handed to the sinks.
func WithDryRun(ctx context.Context, dryRun bool) context.Context {
	return context.WithValue(ctx, dryRunKey{}, dryRun)
}

func IsDryRun(ctx context.Context) bool {
	v, _ := ctx.Value(dryRunKey{}).(bool)
	return v
}
