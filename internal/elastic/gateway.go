// Package elastic implements the cluster gateway: a thin typed wrapper
// over the Elasticsearch bulk, alias, index, health, count, and refresh
// primitives. The gateway carries no deployment policy; every component
// above it decides what to call and in which order.
package elastic

import (
	"context"
	"encoding/json"

	"github.com/bigdegenenergy/searchops/pkg/models"
)

// Gateway defines the cluster operations the control plane depends on.
// In production this wraps go-elasticsearch; in tests an in-memory fake
// cluster can be provided.
type Gateway interface {
	// Bulk submits the items as one bulk request and returns per-item
	// outcomes. refresh forces a refresh of affected shards before return.
	Bulk(ctx context.Context, items []models.BulkItem, refresh bool) (*models.BulkResult, error)

	// UpdateAliases applies the ordered action list as a single atomic
	// cluster transaction. A non-acknowledged update is an error.
	UpdateAliases(ctx context.Context, actions []models.AliasAction) error

	// GetAlias returns the indices bound to the alias; empty if absent.
	GetAlias(ctx context.Context, name string) ([]string, error)

	// AliasExists reports whether any index carries the alias.
	AliasExists(ctx context.Context, name string) (bool, error)

	// CreateIndex creates an index with the given mapping body and
	// optionally binds an alias in the same call.
	CreateIndex(ctx context.Context, name string, mapping json.RawMessage, alias string) error

	// DeleteIndex removes an index. With ignoreUnavailable, deleting a
	// missing index is not an error.
	DeleteIndex(ctx context.Context, name string, ignoreUnavailable bool) error

	// IndexExists reports whether the named index exists.
	IndexExists(ctx context.Context, name string) (bool, error)

	// GetIndices returns the names of all indices matching the pattern.
	// A pattern matching nothing yields an empty slice.
	GetIndices(ctx context.Context, pattern string) ([]string, error)

	// Refresh makes all operations performed on the index visible to search.
	Refresh(ctx context.Context, name string) error

	// Count returns the number of documents in the index.
	Count(ctx context.Context, name string) (int64, error)

	// ClusterHealth returns the health of the cluster, optionally scoped
	// to one index and optionally waiting for a target status.
	ClusterHealth(ctx context.Context, opts models.HealthOptions) (*models.ClusterHealth, error)

	// IndexStats returns the statistics snapshot for the index.
	IndexStats(ctx context.Context, name string) (*models.IndexStats, error)

	// Search executes the query body against the index or alias.
	Search(ctx context.Context, index string, body map[string]any) (*models.SearchResult, error)

	// GetDocument fetches a document by id. The second return value is
	// false when the document does not exist.
	GetDocument(ctx context.Context, index, id string) (json.RawMessage, bool, error)

	// GetMappings returns the mapping of every index matching the pattern,
	// keyed by concrete index name.
	GetMappings(ctx context.Context, pattern string) (map[string]json.RawMessage, error)

	// Info returns identifying information about the connected cluster.
	Info(ctx context.Context) (*models.ClusterInfo, error)
}
