// Package search implements the read-side query surface: full-text and
// criteria queries against an alias, and single-document lookup. Queries
// always target the alias, so they follow the active index across swaps.
package search

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bigdegenenergy/searchops/internal/elastic"
	"github.com/bigdegenenergy/searchops/pkg/models"
)

const (
	// MaxLimit caps the page size of any read query.
	MaxLimit     = 100
	defaultLimit = 20
)

// defaultTextFields are the fields a text query spans when the caller
// does not narrow them.
var defaultTextFields = []string{"name^3", "brand^2", "category", "description", "tags"}

// TextRequest is a full-text search request.
type TextRequest struct {
	Query     string   `json:"query" binding:"required"`
	Alias     string   `json:"alias"`
	Limit     int      `json:"limit"`
	Offset    int      `json:"offset"`
	Fields    []string `json:"fields"`
	Highlight bool     `json:"highlight"`
}

// CriteriaRequest is a structured filter request. Criteria values may be
// scalars (term), arrays (terms), or {gte/lte/gt/lt} objects (range).
type CriteriaRequest struct {
	Criteria map[string]any      `json:"criteria" binding:"required"`
	Alias    string              `json:"alias"`
	Limit    int                 `json:"limit"`
	Offset   int                 `json:"offset"`
	Sort     []map[string]string `json:"sort"`
	Aggs     map[string]any      `json:"aggs"`
}

// Service executes read queries through the cluster gateway.
type Service struct {
	gateway      elastic.Gateway
	defaultAlias string
}

// NewService creates a Service. defaultAlias is used when a request names
// no alias of its own.
func NewService(gateway elastic.Gateway, defaultAlias string) *Service {
	return &Service{gateway: gateway, defaultAlias: defaultAlias}
}

func (s *Service) resolveAlias(alias string) string {
	if alias != "" {
		return alias
	}
	return s.defaultAlias
}

func clampPaging(limit, offset int) (int, int, error) {
	if limit == 0 {
		limit = defaultLimit
	}
	if limit < 0 || limit > MaxLimit {
		return 0, 0, models.NewInvalidArgument("limit must be between 1 and %d", MaxLimit)
	}
	if offset < 0 {
		return 0, 0, models.NewInvalidArgument("offset must not be negative")
	}
	return limit, offset, nil
}

// Text runs a multi-field full-text query.
func (s *Service) Text(ctx context.Context, req TextRequest) (*models.SearchResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, models.NewInvalidArgument("query is required")
	}
	limit, offset, err := clampPaging(req.Limit, req.Offset)
	if err != nil {
		return nil, err
	}

	fields := req.Fields
	if len(fields) == 0 {
		fields = defaultTextFields
	}

	body := map[string]any{
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":     req.Query,
				"fields":    fields,
				"type":      "best_fields",
				"fuzziness": "AUTO",
			},
		},
		"size": limit,
		"from": offset,
	}
	if req.Highlight {
		highlightFields := make(map[string]any, len(fields))
		for _, f := range fields {
			name := strings.SplitN(f, "^", 2)[0]
			highlightFields[name] = map[string]any{}
		}
		body["highlight"] = map[string]any{"fields": highlightFields}
	}

	return s.gateway.Search(ctx, s.resolveAlias(req.Alias), body)
}

// Criteria runs a structured bool-filter query, optionally with sorting
// and aggregations.
func (s *Service) Criteria(ctx context.Context, req CriteriaRequest) (*models.SearchResult, error) {
	if len(req.Criteria) == 0 {
		return nil, models.NewInvalidArgument("criteria is required")
	}
	limit, offset, err := clampPaging(req.Limit, req.Offset)
	if err != nil {
		return nil, err
	}

	filters := make([]map[string]any, 0, len(req.Criteria))
	for field, value := range req.Criteria {
		filters = append(filters, criterionClause(field, value))
	}

	body := map[string]any{
		"query": map[string]any{
			"bool": map[string]any{"filter": filters},
		},
		"size": limit,
		"from": offset,
	}
	if len(req.Sort) > 0 {
		body["sort"] = req.Sort
	}
	if len(req.Aggs) > 0 {
		body["aggs"] = req.Aggs
	}

	return s.gateway.Search(ctx, s.resolveAlias(req.Alias), body)
}

// criterionClause maps one criteria entry to a query clause: arrays to
// terms, range objects to range, anything else to term.
func criterionClause(field string, value any) map[string]any {
	switch v := value.(type) {
	case []any:
		return map[string]any{"terms": map[string]any{field: v}}
	case map[string]any:
		for _, op := range []string{"gte", "lte", "gt", "lt"} {
			if _, ok := v[op]; ok {
				return map[string]any{"range": map[string]any{field: v}}
			}
		}
		return map[string]any{"term": map[string]any{field: v}}
	default:
		return map[string]any{"term": map[string]any{field: v}}
	}
}

// GetByID fetches a single document through the alias.
func (s *Service) GetByID(ctx context.Context, alias, id string) (json.RawMessage, error) {
	if id == "" {
		return nil, models.NewInvalidArgument("document id is required")
	}
	doc, found, err := s.gateway.GetDocument(ctx, s.resolveAlias(alias), id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, models.NewNotFound("document %q not found", id)
	}
	return doc, nil
}
