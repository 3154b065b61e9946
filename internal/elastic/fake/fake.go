// Package fake provides an in-memory Gateway implementation for tests.
// It models just enough of the cluster contract to exercise the control
// plane: named indices holding documents, alias bindings mutated
// atomically, per-index health, and per-item bulk outcomes.
package fake

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/bigdegenenergy/searchops/pkg/models"
)

type index struct {
	mapping json.RawMessage
	docs    map[string]models.Document
}

// Cluster is an in-memory stand-in for an Elasticsearch cluster.
type Cluster struct {
	mu      sync.Mutex
	indices map[string]*index
	aliases map[string]map[string]bool // alias -> set of index names

	// Health overrides per index; indices without an entry report green.
	healthByIndex map[string]models.HealthState

	// FailDocIDs lists document ids whose bulk items report a 400 outcome.
	FailDocIDs map[string]bool

	// Error injection: when set, the named operations fail.
	FailBulk          bool
	FailUpdateAliases bool
	FailStats         bool

	// BulkCalls counts Bulk invocations, including failed ones.
	BulkCalls int
}

// NewCluster returns an empty fake cluster.
func NewCluster() *Cluster {
	return &Cluster{
		indices:       make(map[string]*index),
		aliases:       make(map[string]map[string]bool),
		healthByIndex: make(map[string]models.HealthState),
		FailDocIDs:    make(map[string]bool),
	}
}

// SetHealth overrides the reported health for one index.
func (c *Cluster) SetHealth(name string, status models.HealthState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthByIndex[name] = status
}

// DocCount returns the number of documents held by an index, or -1 when
// the index does not exist.
func (c *Cluster) DocCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.indices[name]
	if !ok {
		return -1
	}
	return len(idx.docs)
}

// SeedIndex creates an index directly, bypassing the gateway surface.
func (c *Cluster) SeedIndex(name string, docs map[string]models.Document) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := &index{docs: make(map[string]models.Document)}
	for id, doc := range docs {
		idx.docs[id] = doc
	}
	c.indices[name] = idx
}

func (c *Cluster) Bulk(ctx context.Context, items []models.BulkItem, refresh bool) (*models.BulkResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.BulkCalls++
	if c.FailBulk {
		return nil, models.WrapClusterError(fmt.Errorf("injected bulk failure"), "fake: bulk failed")
	}

	result := &models.BulkResult{Items: make([]models.BulkItemResult, 0, len(items))}
	for _, item := range items {
		idx, ok := c.indices[item.Index]
		if !ok {
			result.AnyErrors = true
			result.Items = append(result.Items, models.BulkItemResult{
				Operation:  "index",
				DocumentID: item.DocumentID,
				Status:     404,
				Error:      &models.BulkError{Type: "index_not_found_exception", Reason: "no such index " + item.Index, Status: 404},
			})
			continue
		}
		if c.FailDocIDs[item.DocumentID] {
			result.AnyErrors = true
			result.Items = append(result.Items, models.BulkItemResult{
				Operation:  "index",
				DocumentID: item.DocumentID,
				Status:     400,
				Error:      &models.BulkError{Type: "mapper_parsing_exception", Reason: "rejected by test", Status: 400},
			})
			continue
		}
		status := 201
		if _, exists := idx.docs[item.DocumentID]; exists {
			status = 200
		}
		idx.docs[item.DocumentID] = item.Source
		result.Items = append(result.Items, models.BulkItemResult{
			Operation:  "index",
			DocumentID: item.DocumentID,
			Status:     status,
		})
	}
	return result, nil
}

func (c *Cluster) UpdateAliases(ctx context.Context, actions []models.AliasAction) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.FailUpdateAliases {
		return models.WrapClusterError(fmt.Errorf("injected alias failure"), "fake: alias update failed")
	}

	// Validate the whole list before touching anything; the real cluster
	// applies the action list as one transaction.
	for _, action := range actions {
		target := action.Add
		if target == nil {
			target = action.Remove
		}
		if target == nil {
			return models.WrapClusterError(nil, "fake: empty alias action")
		}
		if _, ok := c.indices[target.Index]; !ok {
			return models.WrapClusterError(nil, "fake: alias action references missing index %q", target.Index)
		}
	}

	for _, action := range actions {
		switch {
		case action.Add != nil:
			set, ok := c.aliases[action.Add.Alias]
			if !ok {
				set = make(map[string]bool)
				c.aliases[action.Add.Alias] = set
			}
			set[action.Add.Index] = true
		case action.Remove != nil:
			if set, ok := c.aliases[action.Remove.Alias]; ok {
				delete(set, action.Remove.Index)
				if len(set) == 0 {
					delete(c.aliases, action.Remove.Alias)
				}
			}
		}
	}
	return nil
}

func (c *Cluster) GetAlias(ctx context.Context, name string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.aliases[name]
	if !ok {
		return nil, nil
	}
	indices := make([]string, 0, len(set))
	for idx := range set {
		indices = append(indices, idx)
	}
	sort.Strings(indices)
	return indices, nil
}

func (c *Cluster) AliasExists(ctx context.Context, name string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.aliases[name]
	return ok, nil
}

func (c *Cluster) CreateIndex(ctx context.Context, name string, mapping json.RawMessage, alias string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.indices[name]; exists {
		return models.WrapClusterError(nil, "fake: index %q already exists", name)
	}
	c.indices[name] = &index{mapping: mapping, docs: make(map[string]models.Document)}
	if alias != "" {
		set, ok := c.aliases[alias]
		if !ok {
			set = make(map[string]bool)
			c.aliases[alias] = set
		}
		set[name] = true
	}
	return nil
}

func (c *Cluster) DeleteIndex(ctx context.Context, name string, ignoreUnavailable bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.indices[name]; !exists {
		if ignoreUnavailable {
			return nil
		}
		return models.WrapClusterError(nil, "fake: index %q not found", name)
	}
	delete(c.indices, name)
	for alias, set := range c.aliases {
		delete(set, name)
		if len(set) == 0 {
			delete(c.aliases, alias)
		}
	}
	return nil
}

func (c *Cluster) IndexExists(ctx context.Context, name string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.indices[name]
	return ok, nil
}

func (c *Cluster) GetIndices(ctx context.Context, pattern string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var names []string
	for name := range c.indices {
		if matchPattern(pattern, name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (c *Cluster) Refresh(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.indices[name]; !ok {
		return models.WrapClusterError(nil, "fake: refresh of missing index %q", name)
	}
	return nil
}

func (c *Cluster) Count(ctx context.Context, name string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.indices[name]
	if !ok {
		return 0, models.WrapClusterError(nil, "fake: count of missing index %q", name)
	}
	return int64(len(idx.docs)), nil
}

func (c *Cluster) ClusterHealth(ctx context.Context, opts models.HealthOptions) (*models.ClusterHealth, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := models.HealthGreen
	if opts.Index != "" {
		if _, ok := c.indices[opts.Index]; !ok {
			return nil, models.WrapClusterError(nil, "fake: health of missing index %q", opts.Index)
		}
		if override, ok := c.healthByIndex[opts.Index]; ok {
			status = override
		}
	}
	timedOut := opts.WaitForStatus != "" && status == models.HealthRed
	return &models.ClusterHealth{ClusterName: "fake-cluster", Status: status, TimedOut: timedOut}, nil
}

func (c *Cluster) IndexStats(ctx context.Context, name string) (*models.IndexStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.FailStats {
		return nil, models.WrapClusterError(fmt.Errorf("injected stats failure"), "fake: stats failed")
	}
	idx, ok := c.indices[name]
	if !ok {
		return nil, models.NewNotFound("fake: no stats for index %q", name)
	}
	return &models.IndexStats{
		DocCount:       int64(len(idx.docs)),
		StoreSizeBytes: int64(len(idx.docs)) * 512,
	}, nil
}

func (c *Cluster) Search(ctx context.Context, name string, body map[string]any) (*models.SearchResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	docs, err := c.resolveDocs(name)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	size := len(ids)
	if s, ok := body["size"].(int); ok && s < size {
		size = s
	}

	result := &models.SearchResult{Total: int64(len(ids))}
	for _, id := range ids[:size] {
		source, err := json.Marshal(docs[id])
		if err != nil {
			return nil, err
		}
		result.Hits = append(result.Hits, models.SearchHit{Index: name, ID: id, Source: source})
	}
	return result, nil
}

func (c *Cluster) GetDocument(ctx context.Context, name, id string) (json.RawMessage, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	docs, err := c.resolveDocs(name)
	if err != nil {
		return nil, false, err
	}
	doc, ok := docs[id]
	if !ok {
		return nil, false, nil
	}
	source, err := json.Marshal(doc)
	if err != nil {
		return nil, false, err
	}
	return source, true, nil
}

func (c *Cluster) GetMappings(ctx context.Context, pattern string) (map[string]json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	mappings := make(map[string]json.RawMessage)
	for name, idx := range c.indices {
		if matchPattern(pattern, name) {
			mappings[name] = idx.mapping
		}
	}
	return mappings, nil
}

func (c *Cluster) Info(ctx context.Context) (*models.ClusterInfo, error) {
	return &models.ClusterInfo{ClusterName: "fake-cluster", Version: "8.0.0-fake"}, nil
}

// resolveDocs maps an index or alias name to its document set. The caller
// holds the mutex.
func (c *Cluster) resolveDocs(name string) (map[string]models.Document, error) {
	if idx, ok := c.indices[name]; ok {
		return idx.docs, nil
	}
	if set, ok := c.aliases[name]; ok {
		merged := make(map[string]models.Document)
		for indexName := range set {
			for id, doc := range c.indices[indexName].docs {
				merged[id] = doc
			}
		}
		return merged, nil
	}
	return nil, models.NewNotFound("fake: index or alias %q not found", name)
}

// matchPattern supports the single trailing-* glob form the control plane
// uses for index patterns.
func matchPattern(pattern, name string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == name
}
