package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/allocation"
)

type batchWork struct {
	idx int
	sc  *allocation.ShipmentContext
}

// AllocateBatch allocates every context against the same snapshot and returns the
// decisions in input order. Shipments not started before ctx ended are UNRESOLVED.
func (e *Engine) AllocateBatch(ctx context.Context, snap *allocation.Snapshot, contexts []*allocation.ShipmentContext) []*allocation.Decision {
	out := make([]*allocation.Decision, len(contexts))
	if len(contexts) == 0 {
		return out
	}

	workers := min(e.workers, len(contexts))
	pool := newWorkerPool(ctx, workers, workers*2, func(ctx context.Context, w batchWork) {
		out[w.idx] = e.Allocate(ctx, snap, w.sc)
	})
	for i, sc := range contexts {
		if !pool.Submit(ctx, batchWork{idx: i, sc: sc}) {
			break
		}
	}
	pool.Drain()

	for i, d := range out {
		if d != nil {
			continue
		}
		d = &allocation.Decision{
			ID:              uuid.NewString(),
			SnapshotVersion: snap.Version(),
			DryRun:          IsDryRun(ctx),
			DecidedAt:       time.Now().UTC(),
		}
		if contexts[i] != nil {
			d.ShipmentID = contexts[i].ShipmentID()
		}
		e.unresolved(d, ctx.Err())
		observe(d)
		out[i] = d
	}
	return out
}
