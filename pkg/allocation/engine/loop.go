package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/allocation"
)

// Result pairs a request event with its decision. Err is set when the event could not
// be turned into a shipment context, Decision is nil then.
type Result struct {
	Event    *allocation.Event
	Decision *allocation.Decision
	Err      error
}

// ProcessEvents allocates every request received on e.Events against the snapshot
// current at receive time. Results are delivered on the returned channel, which is
// closed once Events is closed and in-flight requests are done.
func (e *Engine) ProcessEvents(ctx context.Context) chan *Result {
	reschan := make(chan *Result)
	go e.eventsLoop(ctx, reschan)
	return reschan
}

func (e *Engine) OnStats(interval time.Duration, fn func(stats *EngineStats)) {
	e.onStats.Store(&fn)
	e.emitStats()                      // emit first immediately
	ticker := time.NewTicker(interval) // then emit every interval
	go func() {
		for range ticker.C {
			e.emitStats()
		}
	}()
}

func (e *Engine) Stats() *EngineStats {
	stats := &EngineStats{EngineEnabled: e.enabled.Load()}
	if e.source != nil {
		snap := e.source.Current()
		stats.SnapshotVersion = snap.Version()
		stats.RulesLoaded = snap.Len()
	}
	return stats
}

func (e *Engine) emitStats() {
	if fn := e.onStats.Load(); fn != nil {
		(*fn)(e.Stats())
	}
}

func (e *Engine) commandsLoop() {
	for cmd := range e.Commands {
		switch cmd.Topic {
		// reload rules from repo
		case allocation.CmdReload:
			if e.source == nil {
				slog.Warn("reload ignored, engine has no snapshot source")
				continue
			}
			if err := e.source.Reload(context.Background()); err != nil {
				slog.Error("failed to reload rules", "err", err.Error())
			}
			e.emitStats()
		// disable allocation
		case allocation.CmdStop:
			e.Stop()
		// enable allocation
		case allocation.CmdResume:
			e.Resume()
		default:
			slog.Warn("unknown command", "topic", cmd.Topic)
		}
	}
}

func (e *Engine) eventsLoop(ctx context.Context, reschan chan *Result) {
	pool := newWorkerPool(ctx, e.workers, e.workers*10, func(ctx context.Context, ev *allocation.Event) {
		res := e.processEvent(ctx, ev)
		select {
		case reschan <- res:
		case <-ctx.Done():
		}
	})
	defer close(reschan)
	defer pool.Drain()

	for {
		select {
		case ev, ok := <-e.Events:
			if !ok {
				return
			}
			if !pool.Submit(ctx, ev) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) processEvent(ctx context.Context, ev *allocation.Event) *Result {
	res := &Result{Event: ev}
	sc, err := allocation.ParseContext(ev.Data)
	if err != nil {
		slog.Warn("invalid allocation request", "topic", ev.Topic, "err", err.Error())
		res.Err = err
		ev.Processed = time.Now()
		return res
	}

	var snap *allocation.Snapshot
	if e.source != nil {
		snap = e.source.Current()
	}
	res.Decision = e.Allocate(WithDryRun(ctx, ev.DryRun), snap, sc)
	ev.Processed = time.Now()
	return res
}
