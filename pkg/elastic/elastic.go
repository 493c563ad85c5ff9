package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
)

type Client struct {
	es *elasticsearch.Client
}

// NewClient connects to the given addresses, ELASTICSEARCH_URL when none are given.
func NewClient(addresses ...string) (*Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: addresses})
	if err != nil {
		return nil, err
	}
	return &Client{es}, nil
}

func (c *Client) Index(ctx context.Context, index string, id string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      strings.ToLower(index),
		DocumentID: id,
		Body:       bytes.NewReader(b),
	}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		err = responseError("index document", res)
		slog.Error("Elastic index error",
			"err", err.Error(),
			"index", index,
			"id", id,
		)
		return err
	}
	return nil
}

// BulkIndex sends the documents in batches of batchSize. Failures of single documents
// are collected in the result and do not stop the remaining batches.
func (c *Client) BulkIndex(ctx context.Context, batchSize int, bulkRequests []*BulkRequest) (result *BulkResult) {
	result = &BulkResult{}
	if batchSize <= 0 {
		batchSize = len(bulkRequests)
	}

	for start := 0; start < len(bulkRequests); start += batchSize {
		end := min(start+batchSize, len(bulkRequests))

		body, err := bulkBody(bulkRequests[start:end])
		if err != nil {
			result.AppendError("failed to encode batch %d: %s", start/batchSize, err)
			return result
		}

		res, err := c.es.Bulk(bytes.NewReader(body), c.es.Bulk.WithContext(ctx))
		if err != nil {
			result.AppendError("failed to index batch %d: %s", start/batchSize, err)
			return result
		}
		c.bulkResult(res, result)
		// close the body per batch, deferring would hold every connection until return
		res.Body.Close()
	}

	return result
}

func (c *Client) bulkResult(res *esapi.Response, result *BulkResult) {
	if res.IsError() {
		result.Errors = append(result.Errors, responseError("bulk index", res))
		return
	}

	var blk bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&blk); err != nil {
		result.AppendError("failed to parse response body: %s", err)
		return
	}
	for _, d := range blk.Items {
		// a successful response might still contain errors for particular documents
		if d.Index.Status > 201 {
			result.AppendError("error [%d] %s: %s %s",
				d.Index.Status,
				d.Index.ID,
				d.Index.Error.Type,
				d.Index.Error.Reason,
			)
		} else {
			result.Indexed++
		}
	}
}

func bulkBody(bulkRequests []*BulkRequest) ([]byte, error) {
	var buf bytes.Buffer
	for _, br := range bulkRequests {
		meta, err := json.Marshal(map[string]interface{}{
			"index": map[string]string{"_index": strings.ToLower(br.Index), "_id": br.ID},
		})
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(br.Document)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", br.ID, err)
		}
		buf.Write(meta)
		buf.WriteByte('\n')
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func (c *Client) Search(ctx context.Context, index string, query string) (*ElasticSearchResult, error) {
	slog.Debug("Elastic query",
		"query", query,
		"index", index,
	)

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(strings.ToLower(index)),
		c.es.Search.WithBody(strings.NewReader(query)),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.IsError() {
		err = responseError("run query", res)
		slog.Error("Elastic search error",
			"err", err.Error(),
			"query", query,
			"index", index,
		)
		return nil, err
	}

	var r ElasticSearchResult
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return nil, err
	}

	slog.Debug("Elastic query time",
		"took", r.Took,
	)
	return &r, nil
}

func responseError(op string, res *esapi.Response) error {
	body, _ := io.ReadAll(res.Body)

	var e struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err != nil || e.Error.Type == "" {
		return fmt.Errorf("failed to %s: [%s] %s", op, res.Status(), strings.TrimSpace(string(body)))
	}
	return fmt.Errorf("failed to %s: [%s] %s: %s", op, res.Status(), e.Error.Type, e.Error.Reason)
}
