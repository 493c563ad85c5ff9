package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/tidwall/sjson"

	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/allocation"
	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/elastic"
)

const DECISION_INDEX = "allocation_decisions"

// ElasticSink indexes every decision by its id. With a batch size above one the
// decisions are buffered and sent with the bulk api once the batch is full or on Flush.
type ElasticSink struct {
	client    *elastic.Client
	index     string
	batchSize int

	mu      sync.Mutex
	pending []*elastic.BulkRequest
}

type ElasticOption func(*ElasticSink)

func WithIndex(index string) ElasticOption {
	return func(s *ElasticSink) { s.index = index }
}

func WithBatchSize(n int) ElasticOption {
	return func(s *ElasticSink) { s.batchSize = n }
}

func NewElasticSink(client *elastic.Client, opts ...ElasticOption) *ElasticSink {
	s := &ElasticSink{
		client:    client,
		index:     DECISION_INDEX,
		batchSize: 1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ElasticSink) Record(ctx context.Context, d *allocation.Decision) error {
	if s.batchSize <= 1 {
		return s.client.Index(ctx, s.index, d.ID, d)
	}

	s.mu.Lock()
	s.pending = append(s.pending, &elastic.BulkRequest{Index: s.index, ID: d.ID, Document: d})
	full := len(s.pending) >= s.batchSize
	s.mu.Unlock()

	if full {
		return s.Flush(ctx)
	}
	return nil
}

// Flush sends the buffered decisions, a no-op when nothing is pending.
func (s *ElasticSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	res := s.client.BulkIndex(ctx, s.batchSize, pending)
	return errors.Join(res.Errors...)
}

func (s *ElasticSink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Lookup returns the recorded decisions of one shipment, newest first.
func (s *ElasticSink) Lookup(ctx context.Context, shipmentID string, size int) ([]*allocation.Decision, error) {
	query, err := lookupQuery(shipmentID, size)
	if err != nil {
		return nil, err
	}
	res, err := s.client.Search(ctx, s.index, query)
	if err != nil {
		return nil, err
	}

	decisions := make([]*allocation.Decision, 0, len(res.Hits.Hits))
	for _, hit := range res.Hits.Hits {
		d := &allocation.Decision{}
		if err := json.Unmarshal(hit.Source, d); err != nil {
			return nil, fmt.Errorf("decision %s: %w", hit.ID, err)
		}
		if d.ID == "" {
			d.ID = hit.ID
		}
		decisions = append(decisions, d)
	}
	return decisions, nil
}

func lookupQuery(shipmentID string, size int) (string, error) {
	if size <= 0 {
		size = 10
	}
	q, err := sjson.Set(`{}`, "query.term.shipmentId\\.keyword", shipmentID)
	if err != nil {
		return "", err
	}
	q, err = sjson.Set(q, "sort.0.decidedAt", "desc")
	if err != nil {
		return "", err
	}
	return sjson.Set(q, "size", size)
}
