package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/loykin/appvisor/internal/history"
)

// DefaultIndex receives events when the DSN names none.
const DefaultIndex = "app-history"

// errIndexMissing is returned by do for a 404 on the index.
var errIndexMissing = errors.New("index not found")

// Sink indexes events as documents in OpenSearch (or Elasticsearch) over
// its REST API: one POST to {base}/{index}/_doc per event.
type Sink struct {
	client  *http.Client
	baseURL string
	index   string
}

func New(baseURL, index string) *Sink {
	if index == "" {
		index = DefaultIndex
	}
	c := &http.Client{Timeout: 5 * time.Second}
	return &Sink{client: c, baseURL: strings.TrimRight(baseURL, "/"), index: index}
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	return s.do(ctx, "_doc", e, nil)
}

type searchResult struct {
	Hits struct {
		Hits []struct {
			Source history.Event `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Recent searches the index newest first. A missing index yields no events.
func (s *Sink) Recent(ctx context.Context, name string, limit int) ([]history.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	q := map[string]any{
		"size": limit,
		"sort": []any{map[string]any{"occurred_at": map[string]string{"order": "desc"}}},
	}
	if name != "" {
		q["query"] = map[string]any{"term": map[string]any{"record.name.keyword": name}}
	}
	var res searchResult
	if err := s.do(ctx, "_search", q, &res); err != nil {
		if errors.Is(err, errIndexMissing) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]history.Event, 0, len(res.Hits.Hits))
	for _, h := range res.Hits.Hits {
		out = append(out, h.Source)
	}
	return out, nil
}

// do POSTs body as JSON to {base}/{index}/{op} and decodes the reply into out.
func (s *Sink) do(ctx context.Context, op string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s/%s/%s", s.baseURL, s.index, op)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	switch {
	case resp.StatusCode == http.StatusNotFound && op == "_search":
		return errIndexMissing
	case resp.StatusCode >= 300:
		return fmt.Errorf("opensearch %s: status %d", op, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *Sink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
