// Package alias implements the alias registry: CRUD over alias-to-index
// bindings and the atomic swap that moves an alias from its old active
// index to a new one. Swap is the only place alias membership changes.
package alias

import (
	"context"
	"log"

	"github.com/bigdegenenergy/searchops/internal/elastic"
	"github.com/bigdegenenergy/searchops/pkg/models"
)

// Registry manages alias-to-index bindings through the cluster gateway.
type Registry struct {
	gateway elastic.Gateway
}

// NewRegistry creates a Registry over the given gateway.
func NewRegistry(gateway elastic.Gateway) *Registry {
	return &Registry{gateway: gateway}
}

// Exists reports whether the alias is bound to any index.
func (r *Registry) Exists(ctx context.Context, alias string) (bool, error) {
	return r.gateway.AliasExists(ctx, alias)
}

// IndicesFor returns the indices bound to the alias. An absent alias
// yields an empty set, not an error.
func (r *Registry) IndicesFor(ctx context.Context, alias string) ([]string, error) {
	return r.gateway.GetAlias(ctx, alias)
}

// Create binds the alias to the index with a single add action.
func (r *Registry) Create(ctx context.Context, alias, index string) error {
	return r.gateway.UpdateAliases(ctx, []models.AliasAction{
		{Add: &models.AliasTarget{Index: index, Alias: alias}},
	})
}

// Swap atomically moves the alias to newIndex: one remove per current
// index different from newIndex, followed by one add. A failed update
// leaves the prior binding intact. With deleteOld, each removed index is
// deleted after the swap; delete failures are logged and skipped.
func (r *Registry) Swap(ctx context.Context, alias, newIndex string, deleteOld bool) error {
	current, err := r.gateway.GetAlias(ctx, alias)
	if err != nil {
		return err
	}

	actions := make([]models.AliasAction, 0, len(current)+1)
	removed := make([]string, 0, len(current))
	for _, index := range current {
		if index == newIndex {
			continue
		}
		actions = append(actions, models.AliasAction{
			Remove: &models.AliasTarget{Index: index, Alias: alias},
		})
		removed = append(removed, index)
	}
	actions = append(actions, models.AliasAction{
		Add: &models.AliasTarget{Index: newIndex, Alias: alias},
	})

	if err := r.gateway.UpdateAliases(ctx, actions); err != nil {
		return err
	}
	log.Printf("alias: swapped %q to %s (removed %d binding(s))", alias, newIndex, len(removed))

	if deleteOld {
		for _, index := range removed {
			if err := r.gateway.DeleteIndex(ctx, index, true); err != nil {
				log.Printf("WARNING alias: best-effort delete of old index failed alias=%s index=%s err=%v", alias, index, err)
			}
		}
	}
	return nil
}
