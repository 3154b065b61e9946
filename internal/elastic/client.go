package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/bigdegenenergy/searchops/pkg/models"
)

// Client is the production Gateway backed by go-elasticsearch.
type Client struct {
	es *elasticsearch.Client
}

// NewClient connects to the cluster at the given URL. apiKey may be empty
// for unauthenticated clusters.
func NewClient(url, apiKey string) (*Client, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{url},
	}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("elastic: failed to create client for %s: %w", url, err)
	}
	return &Client{es: es}, nil
}

// drain consumes and closes a response body so the transport can reuse
// the connection.
func drain(res *esapi.Response) {
	if res != nil && res.Body != nil {
		io.Copy(io.Discard, res.Body)
		res.Body.Close()
	}
}

func decodeBody(res *esapi.Response, out any) error {
	defer res.Body.Close()
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("elastic: malformed response: %w", err)
	}
	return nil
}

func responseError(op string, res *esapi.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	res.Body.Close()
	return models.WrapClusterError(
		fmt.Errorf("%s", strings.TrimSpace(string(body))),
		"elastic: %s returned %s", op, res.Status())
}

// Bulk submits items as one NDJSON bulk request with plain index actions.
func (c *Client) Bulk(ctx context.Context, items []models.BulkItem, refresh bool) (*models.BulkResult, error) {
	if len(items) == 0 {
		return &models.BulkResult{}, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, item := range items {
		header := map[string]map[string]string{
			"index": {"_index": item.Index, "_id": item.DocumentID},
		}
		if err := enc.Encode(header); err != nil {
			return nil, fmt.Errorf("elastic: encoding bulk header for %s: %w", item.DocumentID, err)
		}
		if err := enc.Encode(item.Source); err != nil {
			return nil, fmt.Errorf("elastic: encoding bulk source for %s: %w", item.DocumentID, err)
		}
	}

	opts := []func(*esapi.BulkRequest){
		c.es.Bulk.WithContext(ctx),
	}
	if refresh {
		opts = append(opts, c.es.Bulk.WithRefresh("true"))
	}

	res, err := c.es.Bulk(bytes.NewReader(buf.Bytes()), opts...)
	if err != nil {
		return nil, models.WrapClusterError(err, "elastic: bulk request failed")
	}
	if res.IsError() {
		return nil, responseError("bulk", res)
	}

	var raw struct {
		Took   int  `json:"took"`
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string            `json:"_id"`
			Status int               `json:"status"`
			Error  *models.BulkError `json:"error"`
		} `json:"items"`
	}
	if err := decodeBody(res, &raw); err != nil {
		return nil, err
	}

	result := &models.BulkResult{
		AnyErrors: raw.Errors,
		Took:      raw.Took,
		Items:     make([]models.BulkItemResult, 0, len(raw.Items)),
	}
	for _, item := range raw.Items {
		for op, outcome := range item {
			result.Items = append(result.Items, models.BulkItemResult{
				Operation:  op,
				DocumentID: outcome.ID,
				Status:     outcome.Status,
				Error:      outcome.Error,
			})
		}
	}
	return result, nil
}

// UpdateAliases applies the action list atomically via the _aliases API.
func (c *Client) UpdateAliases(ctx context.Context, actions []models.AliasAction) error {
	body, err := json.Marshal(map[string]any{"actions": actions})
	if err != nil {
		return fmt.Errorf("elastic: encoding alias actions: %w", err)
	}

	res, err := c.es.Indices.UpdateAliases(bytes.NewReader(body),
		c.es.Indices.UpdateAliases.WithContext(ctx))
	if err != nil {
		return models.WrapClusterError(err, "elastic: alias update failed")
	}
	if res.IsError() {
		return responseError("alias update", res)
	}

	var ack struct {
		Acknowledged bool `json:"acknowledged"`
	}
	if err := decodeBody(res, &ack); err != nil {
		return err
	}
	if !ack.Acknowledged {
		return models.WrapClusterError(nil, "elastic: alias update was not acknowledged")
	}
	return nil
}

// GetAlias returns the indices bound to the alias, or empty if absent.
func (c *Client) GetAlias(ctx context.Context, name string) ([]string, error) {
	res, err := c.es.Indices.GetAlias(
		c.es.Indices.GetAlias.WithName(name),
		c.es.Indices.GetAlias.WithContext(ctx))
	if err != nil {
		return nil, models.WrapClusterError(err, "elastic: get alias %q failed", name)
	}
	if res.StatusCode == 404 {
		drain(res)
		return nil, nil
	}
	if res.IsError() {
		return nil, responseError("get alias", res)
	}

	var raw map[string]json.RawMessage
	if err := decodeBody(res, &raw); err != nil {
		return nil, err
	}
	indices := make([]string, 0, len(raw))
	for index := range raw {
		indices = append(indices, index)
	}
	return indices, nil
}

// AliasExists reports whether any index carries the alias.
func (c *Client) AliasExists(ctx context.Context, name string) (bool, error) {
	res, err := c.es.Indices.ExistsAlias([]string{name},
		c.es.Indices.ExistsAlias.WithContext(ctx))
	if err != nil {
		return false, models.WrapClusterError(err, "elastic: alias exists check for %q failed", name)
	}
	defer drain(res)

	switch res.StatusCode {
	case 200:
		return true, nil
	case 404:
		return false, nil
	default:
		return false, models.WrapClusterError(nil, "elastic: alias exists check for %q returned %s", name, res.Status())
	}
}

// CreateIndex creates an index with the mapping body; alias, when set, is
// bound within the same create call.
func (c *Client) CreateIndex(ctx context.Context, name string, mapping json.RawMessage, alias string) error {
	body := map[string]any{}
	if len(mapping) > 0 {
		if err := json.Unmarshal(mapping, &body); err != nil {
			return fmt.Errorf("elastic: mapping for %q is not valid JSON: %w", name, err)
		}
	}
	if alias != "" {
		body["aliases"] = map[string]any{alias: map[string]any{}}
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("elastic: encoding create body for %q: %w", name, err)
	}

	res, err := c.es.Indices.Create(name,
		c.es.Indices.Create.WithBody(bytes.NewReader(encoded)),
		c.es.Indices.Create.WithContext(ctx))
	if err != nil {
		return models.WrapClusterError(err, "elastic: create index %q failed", name)
	}
	if res.IsError() {
		return responseError(fmt.Sprintf("create index %q", name), res)
	}

	var ack struct {
		Acknowledged bool `json:"acknowledged"`
	}
	if err := decodeBody(res, &ack); err != nil {
		return err
	}
	if !ack.Acknowledged {
		return models.WrapClusterError(nil, "elastic: create index %q was not acknowledged", name)
	}
	return nil
}

// DeleteIndex removes the index.
func (c *Client) DeleteIndex(ctx context.Context, name string, ignoreUnavailable bool) error {
	opts := []func(*esapi.IndicesDeleteRequest){
		c.es.Indices.Delete.WithContext(ctx),
	}
	if ignoreUnavailable {
		opts = append(opts, c.es.Indices.Delete.WithIgnoreUnavailable(true))
	}

	res, err := c.es.Indices.Delete([]string{name}, opts...)
	if err != nil {
		return models.WrapClusterError(err, "elastic: delete index %q failed", name)
	}
	defer drain(res)
	if res.IsError() {
		if ignoreUnavailable && res.StatusCode == 404 {
			return nil
		}
		return models.WrapClusterError(nil, "elastic: delete index %q returned %s", name, res.Status())
	}
	return nil
}

// IndexExists reports whether the index exists.
func (c *Client) IndexExists(ctx context.Context, name string) (bool, error) {
	res, err := c.es.Indices.Exists([]string{name},
		c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, models.WrapClusterError(err, "elastic: index exists check for %q failed", name)
	}
	defer drain(res)

	switch res.StatusCode {
	case 200:
		return true, nil
	case 404:
		return false, nil
	default:
		return false, models.WrapClusterError(nil, "elastic: index exists check for %q returned %s", name, res.Status())
	}
}

// GetIndices returns all index names matching the pattern.
func (c *Client) GetIndices(ctx context.Context, pattern string) ([]string, error) {
	res, err := c.es.Indices.Get([]string{pattern},
		c.es.Indices.Get.WithIgnoreUnavailable(true),
		c.es.Indices.Get.WithExpandWildcards("open"),
		c.es.Indices.Get.WithContext(ctx))
	if err != nil {
		return nil, models.WrapClusterError(err, "elastic: get indices %q failed", pattern)
	}
	if res.StatusCode == 404 {
		drain(res)
		return nil, nil
	}
	if res.IsError() {
		return nil, responseError(fmt.Sprintf("get indices %q", pattern), res)
	}

	var raw map[string]json.RawMessage
	if err := decodeBody(res, &raw); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	return names, nil
}

// Refresh makes recent writes to the index visible to search.
func (c *Client) Refresh(ctx context.Context, name string) error {
	res, err := c.es.Indices.Refresh(
		c.es.Indices.Refresh.WithIndex(name),
		c.es.Indices.Refresh.WithContext(ctx))
	if err != nil {
		return models.WrapClusterError(err, "elastic: refresh %q failed", name)
	}
	defer drain(res)
	if res.IsError() {
		return models.WrapClusterError(nil, "elastic: refresh %q returned %s", name, res.Status())
	}
	return nil
}

// Count returns the document count of the index.
func (c *Client) Count(ctx context.Context, name string) (int64, error) {
	res, err := c.es.Count(
		c.es.Count.WithIndex(name),
		c.es.Count.WithContext(ctx))
	if err != nil {
		return 0, models.WrapClusterError(err, "elastic: count %q failed", name)
	}
	if res.IsError() {
		return 0, responseError(fmt.Sprintf("count %q", name), res)
	}

	var raw struct {
		Count int64 `json:"count"`
	}
	if err := decodeBody(res, &raw); err != nil {
		return 0, err
	}
	return raw.Count, nil
}

// ClusterHealth fetches cluster health, optionally scoped to one index and
// optionally waiting for the requested status.
func (c *Client) ClusterHealth(ctx context.Context, opts models.HealthOptions) (*models.ClusterHealth, error) {
	reqOpts := []func(*esapi.ClusterHealthRequest){
		c.es.Cluster.Health.WithContext(ctx),
	}
	if opts.Index != "" {
		reqOpts = append(reqOpts, c.es.Cluster.Health.WithIndex(opts.Index))
	}
	if opts.WaitForStatus != "" {
		reqOpts = append(reqOpts, c.es.Cluster.Health.WithWaitForStatus(string(opts.WaitForStatus)))
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, c.es.Cluster.Health.WithTimeout(opts.Timeout))
	}

	res, err := c.es.Cluster.Health(reqOpts...)
	if err != nil {
		return nil, models.WrapClusterError(err, "elastic: cluster health failed")
	}
	// A wait_for_status that times out answers 408 with a usable body.
	if res.IsError() && res.StatusCode != 408 {
		return nil, responseError("cluster health", res)
	}

	var raw struct {
		ClusterName string `json:"cluster_name"`
		Status      string `json:"status"`
		TimedOut    bool   `json:"timed_out"`
	}
	if err := decodeBody(res, &raw); err != nil {
		return nil, err
	}
	return &models.ClusterHealth{
		ClusterName: raw.ClusterName,
		Status:      models.HealthState(raw.Status),
		TimedOut:    raw.TimedOut,
	}, nil
}

// IndexStats returns the statistics snapshot for the index. Rates are
// computed by the cluster as lifetime totals; callers treat them as
// opaque gauges.
func (c *Client) IndexStats(ctx context.Context, name string) (*models.IndexStats, error) {
	res, err := c.es.Indices.Stats(
		c.es.Indices.Stats.WithIndex(name),
		c.es.Indices.Stats.WithContext(ctx))
	if err != nil {
		return nil, models.WrapClusterError(err, "elastic: stats for %q failed", name)
	}
	if res.IsError() {
		return nil, responseError(fmt.Sprintf("stats %q", name), res)
	}

	var raw struct {
		Indices map[string]struct {
			Primaries struct {
				Docs struct {
					Count int64 `json:"count"`
				} `json:"docs"`
				Store struct {
					SizeInBytes int64 `json:"size_in_bytes"`
				} `json:"store"`
				Indexing struct {
					IndexTotal int64 `json:"index_total"`
				} `json:"indexing"`
				Search struct {
					QueryTotal int64 `json:"query_total"`
				} `json:"search"`
			} `json:"primaries"`
		} `json:"indices"`
	}
	if err := decodeBody(res, &raw); err != nil {
		return nil, err
	}

	stats, ok := raw.Indices[name]
	if !ok {
		return nil, models.NewNotFound("elastic: no stats for index %q", name)
	}
	return &models.IndexStats{
		DocCount:       stats.Primaries.Docs.Count,
		StoreSizeBytes: stats.Primaries.Store.SizeInBytes,
		IndexingRate:   float64(stats.Primaries.Indexing.IndexTotal),
		SearchRate:     float64(stats.Primaries.Search.QueryTotal),
	}, nil
}

// Search executes the query body against the index or alias.
func (c *Client) Search(ctx context.Context, index string, body map[string]any) (*models.SearchResult, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("elastic: encoding search body: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithIndex(index),
		c.es.Search.WithBody(bytes.NewReader(encoded)),
		c.es.Search.WithContext(ctx))
	if err != nil {
		return nil, models.WrapClusterError(err, "elastic: search on %q failed", index)
	}
	if res.StatusCode == 404 {
		drain(res)
		return nil, models.NewNotFound("elastic: index or alias %q not found", index)
	}
	if res.IsError() {
		return nil, responseError(fmt.Sprintf("search %q", index), res)
	}

	var raw struct {
		Took int `json:"took"`
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Index     string              `json:"_index"`
				ID        string              `json:"_id"`
				Score     *float64            `json:"_score"`
				Source    json.RawMessage     `json:"_source"`
				Highlight map[string][]string `json:"highlight"`
			} `json:"hits"`
		} `json:"hits"`
		Aggregations json.RawMessage `json:"aggregations"`
	}
	if err := decodeBody(res, &raw); err != nil {
		return nil, err
	}

	result := &models.SearchResult{
		Total:        raw.Hits.Total.Value,
		TookMillis:   raw.Took,
		Aggregations: raw.Aggregations,
		Hits:         make([]models.SearchHit, 0, len(raw.Hits.Hits)),
	}
	for _, hit := range raw.Hits.Hits {
		result.Hits = append(result.Hits, models.SearchHit{
			Index:     hit.Index,
			ID:        hit.ID,
			Score:     hit.Score,
			Source:    hit.Source,
			Highlight: hit.Highlight,
		})
	}
	return result, nil
}

// GetDocument fetches a document by id from the index or alias.
func (c *Client) GetDocument(ctx context.Context, index, id string) (json.RawMessage, bool, error) {
	res, err := c.es.Get(index, id, c.es.Get.WithContext(ctx))
	if err != nil {
		return nil, false, models.WrapClusterError(err, "elastic: get %s/%s failed", index, id)
	}
	if res.StatusCode == 404 {
		drain(res)
		return nil, false, nil
	}
	if res.IsError() {
		return nil, false, responseError(fmt.Sprintf("get %s/%s", index, id), res)
	}

	var raw struct {
		Source json.RawMessage `json:"_source"`
	}
	if err := decodeBody(res, &raw); err != nil {
		return nil, false, err
	}
	return raw.Source, true, nil
}

// GetMappings returns the mappings of every index matching the pattern.
func (c *Client) GetMappings(ctx context.Context, pattern string) (map[string]json.RawMessage, error) {
	res, err := c.es.Indices.GetMapping(
		c.es.Indices.GetMapping.WithIndex(pattern),
		c.es.Indices.GetMapping.WithContext(ctx))
	if err != nil {
		return nil, models.WrapClusterError(err, "elastic: get mapping %q failed", pattern)
	}
	if res.StatusCode == 404 {
		drain(res)
		return map[string]json.RawMessage{}, nil
	}
	if res.IsError() {
		return nil, responseError(fmt.Sprintf("get mapping %q", pattern), res)
	}

	var raw map[string]struct {
		Mappings json.RawMessage `json:"mappings"`
	}
	if err := decodeBody(res, &raw); err != nil {
		return nil, err
	}
	mappings := make(map[string]json.RawMessage, len(raw))
	for name, entry := range raw {
		mappings[name] = entry.Mappings
	}
	return mappings, nil
}

// Info returns identifying information about the connected cluster.
func (c *Client) Info(ctx context.Context) (*models.ClusterInfo, error) {
	res, err := c.es.Info(c.es.Info.WithContext(ctx))
	if err != nil {
		return nil, models.WrapClusterError(err, "elastic: info request failed")
	}
	if res.IsError() {
		return nil, responseError("info", res)
	}

	var raw struct {
		ClusterName string `json:"cluster_name"`
		Version     struct {
			Number string `json:"number"`
		} `json:"version"`
	}
	if err := decodeBody(res, &raw); err != nil {
		return nil, err
	}
	log.Printf("elastic: connected to cluster %q (version %s)", raw.ClusterName, raw.Version.Number)
	return &models.ClusterInfo{ClusterName: raw.ClusterName, Version: raw.Version.Number}, nil
}

// WaitForConnection pings the cluster until it answers or the deadline
// passes. Used at startup so the control plane fails fast on a bad URL.
func (c *Client) WaitForConnection(ctx context.Context, timeout time.Duration) (*models.ClusterInfo, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		info, err := c.Info(ctx)
		if err == nil {
			return info, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return nil, fmt.Errorf("elastic: cluster unreachable after %s: %w", timeout, lastErr)
}
