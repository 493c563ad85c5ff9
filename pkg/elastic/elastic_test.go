// $ go test -v pkg/elastic/*.go

package elastic

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeElastic answers just enough of the API for the client: info, index, bulk and search.
type fakeElastic struct {
	mu   sync.Mutex
	docs map[string]json.RawMessage
}

func (f *fakeElastic) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.URL.Path == "/":
		w.Write([]byte(`{"version":{"number":"7.17.10","build_flavor":"default"},"tagline":"You Know, for Search"}`))
	case r.URL.Path == "/_bulk":
		var items []string
		sc := bufio.NewScanner(r.Body)
		for sc.Scan() {
			var meta struct {
				Index struct {
					Index string `json:"_index"`
					ID    string `json:"_id"`
				} `json:"index"`
			}
			json.Unmarshal(sc.Bytes(), &meta)
			sc.Scan()
			status := 201
			if meta.Index.ID == "bad" {
				status = 400
			} else {
				f.docs[meta.Index.Index+"/"+meta.Index.ID] = append(json.RawMessage(nil), sc.Bytes()...)
			}
			items = append(items, `{"index":{"_id":"`+meta.Index.ID+`","status":`+strconv.Itoa(status)+`,"error":{"type":"mapper_parsing_exception","reason":"failed"}}}`)
		}
		w.Write([]byte(`{"errors":false,"items":[` + strings.Join(items, ",") + `]}`))
	case strings.HasSuffix(r.URL.Path, "/_search"):
		w.Write([]byte(`{"took":1,"hits":{"total":{"value":1,"relation":"eq"},"hits":[{"_index":"decisions","_id":"d-1","_source":{"shipmentId":"SHP-1"}}]}}`))
	case r.Method == http.MethodPut && strings.Contains(r.URL.Path, "/_doc/"):
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if parts[0] == "closed" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"type":"index_closed_exception","reason":"closed"},"status":400}`))
			return
		}
		body, _ := io.ReadAll(r.Body)
		f.docs[parts[0]+"/"+parts[2]] = body
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"result":"created"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{}`))
	}
}

func testClient(t *testing.T) (*Client, *fakeElastic) {
	fake := &fakeElastic{docs: make(map[string]json.RawMessage)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	return c, fake
}

func TestIndex(t *testing.T) {
	c, fake := testClient(t)

	err := c.Index(context.Background(), "Decisions", "d-1", map[string]string{"shipmentId": "SHP-1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"shipmentId":"SHP-1"}`, string(fake.docs["decisions/d-1"]))

	err = c.Index(context.Background(), "closed", "d-2", map[string]string{})
	assert.ErrorContains(t, err, "index_closed_exception")
}

func TestBulkIndex(t *testing.T) {
	c, fake := testClient(t)

	reqs := []*BulkRequest{
		{Index: "decisions", ID: "d-1", Document: map[string]int{"n": 1}},
		{Index: "decisions", ID: "bad", Document: map[string]int{"n": 2}},
		{Index: "decisions", ID: "d-3", Document: map[string]int{"n": 3}},
	}
	res := c.BulkIndex(context.Background(), 2, reqs)
	assert.Equal(t, 2, res.Indexed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Error(), "bad")
	assert.Len(t, fake.docs, 2)
}

func TestBulkBody(t *testing.T) {
	body, err := bulkBody([]*BulkRequest{{Index: "Decisions", ID: "d-1", Document: map[string]string{"a": "b"}}})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(string(body), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"index":{"_index":"decisions","_id":"d-1"}}`, lines[0])
	assert.JSONEq(t, `{"a":"b"}`, lines[1])
}

func TestSearch(t *testing.T) {
	c, _ := testClient(t)

	res, err := c.Search(context.Background(), "decisions", `{"query":{"match_all":{}}}`)
	require.NoError(t, err)
	require.Len(t, res.Hits.Hits, 1)
	assert.Equal(t, "d-1", res.Hits.Hits[0].ID)
	assert.JSONEq(t, `{"shipmentId":"SHP-1"}`, string(res.Hits.Hits[0].Source))
}
