package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/allocation"
	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/allocation/engine"
	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/worker"
)

const (
	MANUAL_REVIEW_QUEUE = "manual_review"

	ARG_DECISION = "decision"
	ARG_SHIPMENT = "shipment"
	ARG_RULE     = "rule"
	ARG_ERROR    = "error"
)

var ErrStillUnresolved = errors.New("shipment still unresolved")

// ReviewQueue is the part of worker.Dispatcher the review sink needs.
type ReviewQueue interface {
	EnqueueJob(job *worker.Job) error
	CancelBatch(queue string, batchID string, cancelledBy string) (int64, error)
}

type SnapshotSource interface {
	Current() *allocation.Snapshot
}

// ManualReviewSink queues every unresolved decision for a delayed retry. A job that
// exhausts its retries stays on the queue's error list for an operator. Review jobs
// are batched by shipment id; a later resolved decision of the shipment cancels them.
type ManualReviewSink struct {
	queue   ReviewQueue
	retries int64
	delay   time.Duration
}

func NewManualReviewSink(queue ReviewQueue, retries int64, delay time.Duration) *ManualReviewSink {
	return &ManualReviewSink{
		queue:   queue,
		retries: retries,
		delay:   delay,
	}
}

func (s *ManualReviewSink) Record(ctx context.Context, d *allocation.Decision) error {
	if d.ShipmentID == "" {
		return nil
	}
	if !d.Unresolved() {
		return s.cancel(d)
	}
	if d.Shipment == nil {
		return nil
	}

	var errorMessage string
	if d.Error != nil {
		errorMessage = d.Error.Error()
	}
	runAt := time.Now().UTC().Add(s.delay)
	job := &worker.Job{
		Queue:   MANUAL_REVIEW_QUEUE,
		Type:    worker.TypeScheduled,
		RunAt:   &runAt,
		Retry:   s.retries,
		BatchID: d.ShipmentID,
		Args: worker.Args{
			ARG_DECISION: d.ID,
			ARG_SHIPMENT: d.Shipment.Map(),
			ARG_RULE:     d.MatchedRuleID,
			ARG_ERROR:    errorMessage,
		},
	}
	if err := s.queue.EnqueueJob(job); err != nil {
		return fmt.Errorf("queue shipment %s for review: %w", d.ShipmentID, err)
	}
	slog.Info("shipment queued for manual review", "decision", d.ID, "shipment", d.ShipmentID, "retries", s.retries)
	return nil
}

func (s *ManualReviewSink) cancel(d *allocation.Decision) error {
	n, err := s.queue.CancelBatch(MANUAL_REVIEW_QUEUE, d.ShipmentID, d.ID)
	if err != nil {
		return fmt.Errorf("cancel review of shipment %s: %w", d.ShipmentID, err)
	}
	if n > 0 {
		slog.Info("manual review cancelled", "shipment", d.ShipmentID, "decision", d.ID, "jobs", n)
	}
	return nil
}

// RetryHandler re-allocates a queued shipment against the current snapshot. The retry
// is a dry run so it never re-enters the queue, onResolved receives the decision once
// a carrier is found. Returning an error leaves the retrying to the dispatcher.
func RetryHandler(e *engine.Engine, snaps SnapshotSource, onResolved func(context.Context, *allocation.Decision) error) worker.HandlerFunc {
	return func(ctx context.Context, args worker.Args) error {
		facts, ok := args[ARG_SHIPMENT].(map[string]interface{})
		if !ok {
			return fmt.Errorf("%w: review job without shipment facts", allocation.ErrInvalidContext)
		}
		sc, err := allocation.NewContext("", facts)
		if err != nil {
			return err
		}

		d := e.Allocate(engine.WithDryRun(ctx, true), snaps.Current(), sc)
		if d.Unresolved() {
			if d.Error != nil {
				return fmt.Errorf("%w: %s: %w", ErrStillUnresolved, sc.ShipmentID(), d.Error)
			}
			return fmt.Errorf("%w: %s", ErrStillUnresolved, sc.ShipmentID())
		}

		slog.Info("shipment resolved on review", "previous", args[ARG_DECISION], "decision", d.ID, "shipment", d.ShipmentID, "transporter", d.TransporterID)
		d.DryRun = false
		if onResolved == nil {
			return nil
		}
		return onResolved(ctx, d)
	}
}
