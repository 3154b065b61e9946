// Package deploy implements the blue/green deployment coordinator.
//
// The coordinator owns the per-alias state machine
// (IDLE -> DEPLOYING -> READY_FOR_SWAP -> SWAPPING -> COMPLETED/FAILED,
// plus ROLLING_BACK), assigns staging colors, and sequences swap,
// rollback, and cleanup through the alias registry. Deployment state is
// derived from the cluster on every read; only in-flight transitions are
// held in memory.
package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/bigdegenenergy/searchops/internal/alias"
	"github.com/bigdegenenergy/searchops/internal/elastic"
	"github.com/bigdegenenergy/searchops/internal/health"
	"github.com/bigdegenenergy/searchops/internal/index"
	"github.com/bigdegenenergy/searchops/pkg/models"
)

const (
	// bulkChunkSize bounds the number of documents per bulk call when the
	// coordinator ingests inline.
	bulkChunkSize = 100

	// deployReadyTimeout is the readiness deadline after ingest.
	deployReadyTimeout = 5 * time.Minute
)

// Coordinator enforces the deployment state machine for every alias.
type Coordinator struct {
	gateway   elastic.Gateway
	registry  *alias.Registry
	lifecycle *index.Lifecycle
	probe     *health.Probe

	mu       sync.RWMutex
	inFlight map[string]models.DeploymentStatus // alias -> transient status
}

// NewCoordinator wires the coordinator to its collaborators.
func NewCoordinator(gateway elastic.Gateway, registry *alias.Registry, lifecycle *index.Lifecycle, probe *health.Probe) *Coordinator {
	return &Coordinator{
		gateway:   gateway,
		registry:  registry,
		lifecycle: lifecycle,
		probe:     probe,
		inFlight:  make(map[string]models.DeploymentStatus),
	}
}

func (c *Coordinator) setInFlight(aliasName string, status models.DeploymentStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight[aliasName] = status
}

func (c *Coordinator) clearInFlight(aliasName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, aliasName)
}

// GetStatus derives the deployment state of an alias from the cluster.
// An in-flight transition on this control plane overrides the derived
// status while it runs.
func (c *Coordinator) GetStatus(ctx context.Context, aliasName string) (*models.DeploymentState, error) {
	if aliasName == "" {
		return nil, models.NewInvalidArgument("alias is required")
	}

	state := &models.DeploymentState{Alias: aliasName, Status: models.DeploymentIdle}

	active, err := c.registry.IndicesFor(ctx, aliasName)
	if err != nil {
		return nil, err
	}
	if len(active) > 0 {
		// The invariant holds outside of atomic swaps; if the cluster ever
		// reports several, the lexicographically greatest wins.
		sort.Strings(active)
		state.ActiveIndex = active[len(active)-1]
		state.ActiveColor = index.ExtractColor(state.ActiveIndex)
	}

	candidates, err := c.deploymentIndices(ctx, aliasName)
	if err != nil {
		return nil, err
	}

	staging := pickStaging(candidates, state.ActiveIndex, state.ActiveColor)
	if staging != "" {
		state.StagingIndex = staging
		state.StagingColor = index.ExtractColor(staging)
	}

	switch {
	case state.StagingIndex != "":
		state.Status = models.DeploymentReadyForSwap
	case state.ActiveIndex != "":
		state.Status = models.DeploymentCompleted
	default:
		state.Status = models.DeploymentIdle
	}

	if newest := newestOf(candidates, state.ActiveIndex); newest != "" {
		if ts, err := index.ParseTimestamp(newest); err == nil {
			state.LastDeployment = &ts
		}
	}

	c.mu.RLock()
	if transient, ok := c.inFlight[aliasName]; ok {
		state.Status = transient
	}
	c.mu.RUnlock()

	return state, nil
}

// deploymentIndices lists the canonical color-named indices of the alias.
func (c *Coordinator) deploymentIndices(ctx context.Context, aliasName string) ([]string, error) {
	names, err := c.lifecycle.List(ctx, aliasName+"_*")
	if err != nil {
		return nil, err
	}
	matched := names[:0]
	for _, name := range names {
		if owner, _, _, ok := index.ParseName(name); ok && owner == aliasName {
			matched = append(matched, name)
		}
	}
	return matched, nil
}

// pickStaging selects the most recent non-active index whose color differs
// from the active color. With no active index every candidate qualifies.
// Ties resolve to the lexicographically greatest name, which equals the
// most recent timestamp.
func pickStaging(candidates []string, activeIndex string, activeColor models.Color) string {
	best := ""
	for _, name := range candidates {
		if name == activeIndex {
			continue
		}
		if activeColor != models.ColorUnknown && index.ExtractColor(name) == activeColor {
			continue
		}
		if name > best {
			best = name
		}
	}
	return best
}

func newestOf(candidates []string, activeIndex string) string {
	best := activeIndex
	for _, name := range candidates {
		if name > best {
			best = name
		}
	}
	return best
}

// InitializeAlias bootstraps an alias onto a fresh blue index. It is a
// conflict if the alias already exists.
func (c *Coordinator) InitializeAlias(ctx context.Context, aliasName string) (*models.DeploymentState, error) {
	if aliasName == "" {
		return nil, models.NewInvalidArgument("alias is required")
	}
	exists, err := c.registry.Exists(ctx, aliasName)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, models.NewConflict("alias %q already exists", aliasName)
	}
	if err := c.lifecycle.VerifyNames(ctx, aliasName); err != nil {
		return nil, err
	}

	name := c.lifecycle.GenerateColorName(aliasName, models.ColorBlue)
	if err := c.lifecycle.Create(ctx, name, aliasName); err != nil {
		return nil, err
	}
	log.Printf("deploy: initialized alias %q on %s", aliasName, name)
	return c.GetStatus(ctx, aliasName)
}

// Deploy runs a full inline deployment: create the staging index, ingest
// the documents in chunks, wait for readiness, validate, and either swap
// (auto-swap) or leave the staging index for manual promotion.
func (c *Coordinator) Deploy(ctx context.Context, aliasName string, documents []models.Document, strategy models.Strategy) (*models.DeploymentState, error) {
	if aliasName == "" {
		return nil, models.NewInvalidArgument("alias is required")
	}

	current, err := c.GetStatus(ctx, aliasName)
	if err != nil {
		return nil, err
	}
	targetColor := current.ActiveColor.Opposite()
	targetIndex := c.lifecycle.GenerateColorName(aliasName, targetColor)

	c.setInFlight(aliasName, models.DeploymentDeploying)
	defer c.clearInFlight(aliasName)

	if err := c.lifecycle.Create(ctx, targetIndex, ""); err != nil {
		return nil, err
	}
	log.Printf("deploy: alias %q deploying %d document(s) to %s", aliasName, len(documents), targetIndex)

	_, failed, itemErrors, err := IndexDocuments(ctx, c.gateway, targetIndex, documents, bulkChunkSize)
	if err != nil {
		return c.failState(aliasName, targetColor, targetIndex, err), err
	}
	if failed > 0 {
		// Per-item failures are collected, not fatal at this layer;
		// validation below decides whether the index is usable.
		first := ""
		if len(itemErrors) > 0 {
			first = itemErrors[0].String()
		}
		log.Printf("WARNING deploy: %d document(s) failed to index into %s %s", failed, targetIndex, first)
	}

	// The readiness wait expects every submitted document; an ingest with
	// permanently failed items times out and surfaces a failed deployment
	// rather than quietly going live short.
	if err := c.probe.WaitReady(ctx, targetIndex, health.ReadyOptions{
		Timeout:          deployReadyTimeout,
		ExpectedDocCount: int64(len(documents)),
	}); err != nil {
		return c.failState(aliasName, targetColor, targetIndex, err), err
	}

	ok, err := c.probe.Validate(ctx, targetIndex)
	if err != nil {
		return c.failState(aliasName, targetColor, targetIndex, err), err
	}
	if !ok {
		err := models.NewPreconditionFailed("index %s failed validation", targetIndex)
		return c.failState(aliasName, targetColor, targetIndex, err), err
	}

	if strategy == models.StrategyAutoSwap {
		c.setInFlight(aliasName, models.DeploymentSwapping)
		if err := c.registry.Swap(ctx, aliasName, targetIndex, false); err != nil {
			return c.failState(aliasName, targetColor, targetIndex, err), err
		}
	}

	c.clearInFlight(aliasName)
	state, err := c.GetStatus(ctx, aliasName)
	if err != nil {
		return nil, err
	}
	state.Strategy = strategy
	return state, nil
}

func (c *Coordinator) failState(aliasName string, color models.Color, indexName string, cause error) *models.DeploymentState {
	log.Printf("deploy: alias %q deployment to %s failed: %v", aliasName, indexName, cause)
	return &models.DeploymentState{
		Alias:        aliasName,
		StagingColor: color,
		StagingIndex: indexName,
		Status:       models.DeploymentFailed,
		Error:        cause.Error(),
	}
}

// SwapAlias promotes the staging index of targetColor to active. The
// staging index must exist and carry the requested color.
func (c *Coordinator) SwapAlias(ctx context.Context, aliasName string, targetColor models.Color) (*models.DeploymentState, error) {
	if aliasName == "" {
		return nil, models.NewInvalidArgument("alias is required")
	}
	if !targetColor.Valid() {
		return nil, models.NewInvalidArgument("invalid target color %q", targetColor)
	}

	state, err := c.GetStatus(ctx, aliasName)
	if err != nil {
		return nil, err
	}
	if state.StagingIndex == "" {
		return nil, models.NewPreconditionFailed("alias %q has no staging index to swap to", aliasName)
	}
	if state.StagingColor != targetColor {
		return nil, models.NewConflict("staging index for %q is %s, not %s", aliasName, state.StagingColor, targetColor)
	}

	c.setInFlight(aliasName, models.DeploymentSwapping)
	defer c.clearInFlight(aliasName)

	if err := c.registry.Swap(ctx, aliasName, state.StagingIndex, false); err != nil {
		return nil, err
	}
	c.clearInFlight(aliasName)
	return c.GetStatus(ctx, aliasName)
}

// Promote swaps the alias directly to a named index. The index must exist;
// this is the manual-promotion path of the HTTP surface.
func (c *Coordinator) Promote(ctx context.Context, aliasName, targetIndex string) (*models.DeploymentState, error) {
	if aliasName == "" || targetIndex == "" {
		return nil, models.NewInvalidArgument("alias and targetIndex are required")
	}
	exists, err := c.lifecycle.Exists(ctx, targetIndex)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, models.NewNotFound("index %q not found", targetIndex)
	}

	c.setInFlight(aliasName, models.DeploymentSwapping)
	defer c.clearInFlight(aliasName)

	if err := c.registry.Swap(ctx, aliasName, targetIndex, false); err != nil {
		return nil, err
	}
	c.clearInFlight(aliasName)
	return c.GetStatus(ctx, aliasName)
}

// Rollback swaps the alias back to the most recent index of the previous
// color. It fails when no previous-color index exists.
func (c *Coordinator) Rollback(ctx context.Context, aliasName string) (*models.DeploymentState, error) {
	if aliasName == "" {
		return nil, models.NewInvalidArgument("alias is required")
	}

	state, err := c.GetStatus(ctx, aliasName)
	if err != nil {
		return nil, err
	}
	if state.ActiveIndex == "" {
		return nil, models.NewNotFound("alias %q has no active index to roll back from", aliasName)
	}

	previousColor := state.ActiveColor.Opposite()
	pattern := fmt.Sprintf("%s_%s_*", aliasName, previousColor)
	names, err := c.lifecycle.List(ctx, pattern)
	if err != nil {
		return nil, err
	}
	names = filterParseable(names, aliasName)
	if len(names) == 0 {
		return nil, models.NewNotFound("alias %q has no %s index to roll back to", aliasName, previousColor)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	previousIndex := names[0]

	c.setInFlight(aliasName, models.DeploymentRollingBack)
	defer c.clearInFlight(aliasName)

	if err := c.registry.Swap(ctx, aliasName, previousIndex, false); err != nil {
		return nil, err
	}
	log.Printf("deploy: rolled back alias %q to %s", aliasName, previousIndex)

	c.clearInFlight(aliasName)
	return c.GetStatus(ctx, aliasName)
}

// Cleanup deletes every index of the non-active color, never touching the
// active index. Deletes are best-effort; failures are logged and skipped.
func (c *Coordinator) Cleanup(ctx context.Context, aliasName string) ([]string, error) {
	if aliasName == "" {
		return nil, models.NewInvalidArgument("alias is required")
	}

	state, err := c.GetStatus(ctx, aliasName)
	if err != nil {
		return nil, err
	}
	if state.ActiveIndex == "" {
		return nil, models.NewNotFound("alias %q has no active index", aliasName)
	}

	previousColor := state.ActiveColor.Opposite()
	pattern := fmt.Sprintf("%s_%s_*", aliasName, previousColor)
	names, err := c.lifecycle.List(ctx, pattern)
	if err != nil {
		return nil, err
	}

	deleted := make([]string, 0, len(names))
	for _, name := range filterParseable(names, aliasName) {
		if name == state.ActiveIndex {
			continue
		}
		if err := c.lifecycle.Delete(ctx, name); err != nil {
			log.Printf("WARNING deploy: cleanup failed to delete alias=%s index=%s err=%v", aliasName, name, err)
			continue
		}
		deleted = append(deleted, name)
	}
	log.Printf("deploy: cleanup for alias %q removed %d %s index(es)", aliasName, len(deleted), previousColor)
	return deleted, nil
}

func filterParseable(names []string, aliasName string) []string {
	matched := names[:0]
	for _, name := range names {
		if owner, _, _, ok := index.ParseName(name); ok && owner == aliasName {
			matched = append(matched, name)
		}
	}
	return matched
}

// IndexDocuments bulk-indexes documents into the index in chunks,
// refreshing after each chunk. Per-item failures are collected and
// returned; only transport-level errors abort the ingest.
func IndexDocuments(ctx context.Context, gateway elastic.Gateway, indexName string, documents []models.Document, chunkSize int) (successful, failed int, itemErrors []models.BulkError, err error) {
	if chunkSize <= 0 {
		chunkSize = bulkChunkSize
	}

	for start := 0; start < len(documents); start += chunkSize {
		end := start + chunkSize
		if end > len(documents) {
			end = len(documents)
		}

		items := make([]models.BulkItem, 0, end-start)
		for i, doc := range documents[start:end] {
			items = append(items, models.BulkItem{
				Index:      indexName,
				DocumentID: DeriveDocumentID(doc, start+i),
				Source:     doc,
			})
		}

		result, bulkErr := gateway.Bulk(ctx, items, true)
		if bulkErr != nil {
			return successful, failed, itemErrors, bulkErr
		}
		for _, item := range result.Items {
			if item.Succeeded() {
				successful++
				continue
			}
			failed++
			if item.Error != nil {
				itemErrors = append(itemErrors, *item.Error)
			}
		}
	}
	return successful, failed, itemErrors, nil
}

// DeriveDocumentID extracts the bulk document id from a source document:
// the "id" field, then "recordId" rendered as a string, then a positional
// fallback unique within this ingest.
func DeriveDocumentID(doc models.Document, position int) string {
	if id := DocumentIDField(doc); id != "" {
		return id
	}
	return fmt.Sprintf("doc_%d_%d", time.Now().UnixMilli(), position)
}

// DocumentIDField returns the document's own id ("id", then "recordId"
// rendered as a string), or empty when the source carries neither.
func DocumentIDField(doc models.Document) string {
	if id := stringField(doc, "id"); id != "" {
		return id
	}
	return stringField(doc, "recordId")
}

// stringField renders a document field as a string id. Numeric record ids
// are formatted without an exponent.
func stringField(doc models.Document, key string) string {
	switch v := doc[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}
