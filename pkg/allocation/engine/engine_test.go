// $ go test -v pkg/allocation/engine/*.go

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/allocation"
)

type countingResolver struct {
	calls   atomic.Int32
	carrier string
	err     error
	block   bool
}

func (r *countingResolver) ResolveCarrier(ctx context.Context, actions allocation.RuleActions, sc *allocation.ShipmentContext) (string, error) {
	r.calls.Add(1)
	if r.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return r.carrier, r.err
}

type memSink struct {
	sync.Mutex
	decisions []*allocation.Decision
}

func (s *memSink) Record(ctx context.Context, d *allocation.Decision) error {
	s.Lock()
	defer s.Unlock()
	s.decisions = append(s.decisions, d)
	return nil
}

func (s *memSink) Len() int {
	s.Lock()
	defer s.Unlock()
	return len(s.decisions)
}

func fallback(carrier string, err error) allocation.FallbackFunc {
	return func(ctx context.Context, sc *allocation.ShipmentContext) (string, error) {
		return carrier, err
	}
}

func vrlSnapshot() *allocation.Snapshot {
	return allocation.NewSnapshot(1, []*allocation.Rule{{
		ID:       "heavy-north",
		Name:     "Heavy north",
		Scope:    allocation.SCOPE_ALL,
		Priority: 10,
		Active:   true,
		Conditions: []*allocation.Condition{
			{Field: allocation.FIELD_WEIGHT_KG, Operator: allocation.OPERATOR_GTE, Value: 500, LogicalOperator: allocation.CONNECTOR_AND},
			{Field: allocation.FIELD_ORIGIN_ZONE, Operator: allocation.OPERATOR_EQ, Value: "NORTH", LogicalOperator: allocation.CONNECTOR_AND},
		},
		Actions: allocation.RuleActions{AssignTransporterID: "VRL001"},
	}})
}

func northShipment() *allocation.ShipmentContext {
	return allocation.MustContext(allocation.SCOPE_FTL, map[string]interface{}{
		"shipment_id": "SHP-1",
		"weight_kg":   600,
		"origin_zone": "NORTH",
	})
}

func southShipment() *allocation.ShipmentContext {
	return allocation.MustContext(allocation.SCOPE_FTL, map[string]interface{}{
		"shipment_id": "SHP-2",
		"weight_kg":   600,
		"origin_zone": "SOUTH",
	})
}

func TestAllocateRuleMatch(t *testing.T) {
	e := NewEngine()
	d := e.Allocate(context.Background(), vrlSnapshot(), northShipment())

	assert.Equal(t, allocation.STATE_RESOLVED, d.State)
	assert.Equal(t, "heavy-north", d.MatchedRuleID)
	assert.Equal(t, "VRL001", d.TransporterID)
	assert.Equal(t, allocation.REASON_RULE_MATCH, d.Reason)
	assert.Equal(t, allocation.MODE_AUTO, d.AllocationMode)
	assert.Equal(t, "SHP-1", d.ShipmentID)
	assert.Equal(t, uint64(1), d.SnapshotVersion)
	assert.NotEmpty(t, d.ID)
	assert.NoError(t, d.Error)
	assert.False(t, d.Unresolved())
}

func TestAllocateModeFromRule(t *testing.T) {
	rules := vrlSnapshot().Rules()
	rules[0].Actions.AllocationMode = allocation.MODE_MANUAL_REVIEW

	d := NewEngine().Allocate(context.Background(), allocation.NewSnapshot(2, rules), northShipment())
	assert.Equal(t, allocation.STATE_RESOLVED, d.State)
	assert.Equal(t, allocation.MODE_MANUAL_REVIEW, d.AllocationMode)
}

func TestAllocateNoMatchNeverCallsResolver(t *testing.T) {
	r := &countingResolver{carrier: "VRL001"}
	e := NewEngine(WithResolver(r), WithFallback(fallback("DELHIVERY", nil)))

	d := e.Allocate(context.Background(), vrlSnapshot(), southShipment())
	assert.Equal(t, int32(0), r.calls.Load())
	assert.Equal(t, allocation.STATE_RESOLVED, d.State)
	assert.Equal(t, allocation.REASON_NO_MATCHING_RULE, d.Reason)
	assert.Equal(t, "DELHIVERY", d.TransporterID)
	assert.Equal(t, allocation.MODE_AUTO, d.AllocationMode)
	assert.Empty(t, d.MatchedRuleID)
	assert.Equal(t, []string{"rule heavy-north: origin_zone eq NORTH"}, d.Unmet)
}

func TestAllocateNoMatchWithoutFallback(t *testing.T) {
	d := NewEngine().Allocate(context.Background(), vrlSnapshot(), southShipment())

	assert.True(t, d.Unresolved())
	assert.Empty(t, d.TransporterID)
	assert.Equal(t, allocation.MODE_MANUAL_REVIEW, d.AllocationMode)
	assert.Equal(t, allocation.REASON_NO_MATCHING_RULE, d.Reason)
	assert.True(t, errors.Is(d.Error, ErrNoFallback))
}

func TestAllocateEmptySnapshot(t *testing.T) {
	e := NewEngine(WithFallback(fallback("DELHIVERY", nil)))

	d := e.Allocate(context.Background(), nil, northShipment())
	assert.Equal(t, allocation.REASON_NO_MATCHING_RULE, d.Reason)
	assert.Equal(t, "DELHIVERY", d.TransporterID)
	assert.Equal(t, uint64(0), d.SnapshotVersion)
}

func TestAllocateResolverFallback(t *testing.T) {
	r := &countingResolver{err: fmt.Errorf("carriers: %w", allocation.ErrNoServiceableCarrier)}
	e := NewEngine(WithResolver(r), WithFallback(fallback("DELHIVERY", nil)))

	d := e.Allocate(context.Background(), vrlSnapshot(), northShipment())
	assert.Equal(t, int32(1), r.calls.Load())
	assert.Equal(t, allocation.STATE_RESOLVED, d.State)
	assert.Equal(t, allocation.REASON_RESOLVER_FALLBACK, d.Reason)
	assert.Equal(t, "DELHIVERY", d.TransporterID)
	assert.Empty(t, d.MatchedRuleID)
	assert.Equal(t, allocation.MODE_AUTO, d.AllocationMode)
}

func TestAllocateEmptyCarrierEscalates(t *testing.T) {
	e := NewEngine(WithResolver(&countingResolver{}), WithFallback(fallback("", nil)))

	d := e.Allocate(context.Background(), vrlSnapshot(), northShipment())
	assert.True(t, d.Unresolved())
	assert.Equal(t, "heavy-north", d.MatchedRuleID)
	assert.True(t, errors.Is(d.Error, allocation.ErrNoServiceableCarrier))
}

func TestAllocateFallbackFails(t *testing.T) {
	r := &countingResolver{err: allocation.ErrNoServiceableCarrier}
	e := NewEngine(WithResolver(r), WithFallback(fallback("", errors.New("default strategy down"))))

	d := e.Allocate(context.Background(), vrlSnapshot(), northShipment())
	assert.True(t, d.Unresolved())
	assert.Empty(t, d.TransporterID)
	assert.Equal(t, allocation.MODE_MANUAL_REVIEW, d.AllocationMode)
	assert.Equal(t, allocation.REASON_NO_MATCHING_RULE, d.Reason)
	assert.ErrorContains(t, d.Error, "default strategy down")
	assert.True(t, errors.Is(d.Error, allocation.ErrNoServiceableCarrier))
}

func TestAllocateResolverTimeout(t *testing.T) {
	var fallbackCalls atomic.Int32
	fb := allocation.FallbackFunc(func(ctx context.Context, sc *allocation.ShipmentContext) (string, error) {
		fallbackCalls.Add(1)
		return "DELHIVERY", nil
	})
	e := NewEngine(WithResolver(&countingResolver{block: true}), WithFallback(fb), WithResolveTimeout(20*time.Millisecond))

	d := e.Allocate(context.Background(), vrlSnapshot(), northShipment())
	assert.True(t, d.Unresolved())
	assert.True(t, errors.Is(d.Error, context.DeadlineExceeded))
	assert.Equal(t, int32(0), fallbackCalls.Load())
}

func TestAllocateStopResume(t *testing.T) {
	e := NewEngine()
	e.Stop()
	d := e.Allocate(context.Background(), vrlSnapshot(), northShipment())
	assert.True(t, d.Unresolved())
	assert.True(t, errors.Is(d.Error, ErrDisabled))

	e.Resume()
	d = e.Allocate(context.Background(), vrlSnapshot(), northShipment())
	assert.Equal(t, "VRL001", d.TransporterID)
}

func TestAllocateNilContext(t *testing.T) {
	d := NewEngine().Allocate(context.Background(), vrlSnapshot(), nil)
	assert.True(t, d.Unresolved())
	assert.True(t, errors.Is(d.Error, allocation.ErrInvalidContext))
}

func TestSinks(t *testing.T) {
	sink := &memSink{}
	failing := SinkFunc(func(ctx context.Context, d *allocation.Decision) error {
		return errors.New("elastic down")
	})
	e := NewEngine(WithSinks(failing, sink))

	d := e.Allocate(context.Background(), vrlSnapshot(), northShipment())
	assert.Equal(t, "VRL001", d.TransporterID)
	assert.Equal(t, 1, sink.Len())

	d = e.Allocate(WithDryRun(context.Background(), true), vrlSnapshot(), northShipment())
	assert.True(t, d.DryRun)
	assert.Equal(t, 1, sink.Len())
}

func TestAllocateBatchKeepsOrder(t *testing.T) {
	e := NewEngine(WithWorkers(3), WithFallback(fallback("DELHIVERY", nil)))

	contexts := make([]*allocation.ShipmentContext, 0, 20)
	for i := 0; i < 20; i++ {
		zone := "NORTH"
		if i%2 == 1 {
			zone = "SOUTH"
		}
		contexts = append(contexts, allocation.MustContext(allocation.SCOPE_FTL, map[string]interface{}{
			"shipment_id": fmt.Sprintf("SHP-%d", i),
			"weight_kg":   600,
			"origin_zone": zone,
		}))
	}

	decisions := e.AllocateBatch(context.Background(), vrlSnapshot(), contexts)
	require.Len(t, decisions, 20)
	for i, d := range decisions {
		assert.Equal(t, fmt.Sprintf("SHP-%d", i), d.ShipmentID)
		if i%2 == 0 {
			assert.Equal(t, "VRL001", d.TransporterID)
		} else {
			assert.Equal(t, "DELHIVERY", d.TransporterID)
		}
	}

	assert.Empty(t, e.AllocateBatch(context.Background(), vrlSnapshot(), nil))
}

func TestAllocateBatchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := NewEngine(WithResolver(&countingResolver{block: true}))
	decisions := e.AllocateBatch(ctx, vrlSnapshot(), []*allocation.ShipmentContext{northShipment(), northShipment(), southShipment()})
	require.Len(t, decisions, 3)
	for _, d := range decisions {
		assert.True(t, d.Unresolved())
		assert.Error(t, d.Error)
	}
}
