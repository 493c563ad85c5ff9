package elastic

import (
	"encoding/json"
	"fmt"
)

type BulkRequest struct {
	Index    string
	ID       string
	Document interface{}
}

type BulkResult struct {
	Errors  []error
	Indexed int
}

func (bres *BulkResult) AppendError(format string, a ...interface{}) {
	bres.Errors = append(bres.Errors, fmt.Errorf(format, a...))
}

type ElasticResultHit struct {
	Index  string          `json:"_index"`
	ID     string          `json:"_id"`
	Score  float64         `json:"_score"`
	Source json.RawMessage `json:"_source"`
	Sort   []interface{}   `json:"sort,omitempty"`
}

type ElasticResultTotal struct {
	Value    int    `json:"value"`
	Relation string `json:"relation"`
}

type ElasticResultHits struct {
	Total    ElasticResultTotal `json:"total"`
	MaxScore float64            `json:"max_score"`
	Hits     []ElasticResultHit `json:"hits"`
}

type ElasticSearchResult struct {
	Took     int               `json:"took"`
	TimedOut bool              `json:"timed_out"`
	Hits     ElasticResultHits `json:"hits"`
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []struct {
		Index struct {
			ID     string `json:"_id"`
			Result string `json:"result"`
			Status int    `json:"status"`
			Error  struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"index"`
	} `json:"items"`
}
