package deploy

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/bigdegenenergy/searchops/internal/alias"
	"github.com/bigdegenenergy/searchops/internal/elastic/fake"
	"github.com/bigdegenenergy/searchops/internal/health"
	"github.com/bigdegenenergy/searchops/internal/index"
	"github.com/bigdegenenergy/searchops/pkg/models"
)

func testMapping() json.RawMessage {
	return json.RawMessage(`{"mappings":{"properties":{"id":{"type":"keyword"}}}}`)
}

func newTestCoordinator(cluster *fake.Cluster) *Coordinator {
	registry := alias.NewRegistry(cluster)
	lifecycle := index.NewLifecycle(cluster, testMapping)
	probe := health.NewProbe(cluster)
	return NewCoordinator(cluster, registry, lifecycle, probe)
}

func docs(ids ...string) []models.Document {
	out := make([]models.Document, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.Document{"id": id, "name": "product " + id})
	}
	return out
}

func TestGetStatus_IdleWhenNothingExists(t *testing.T) {
	c := newTestCoordinator(fake.NewCluster())

	state, err := c.GetStatus(context.Background(), "products-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Status != models.DeploymentIdle {
		t.Errorf("Status = %s, want IDLE", state.Status)
	}
	if state.ActiveIndex != "" || state.StagingIndex != "" {
		t.Errorf("unexpected indices in idle state: %+v", state)
	}
}

func TestDeploy_FirstDeploymentSafe(t *testing.T) {
	cluster := fake.NewCluster()
	c := newTestCoordinator(cluster)
	ctx := context.Background()

	state, err := c.Deploy(ctx, "products-test", docs("A", "B", "C"), models.StrategySafe)
	if err != nil {
		t.Fatalf("deploy failed: %v", err)
	}

	if state.Status != models.DeploymentReadyForSwap {
		t.Errorf("Status = %s, want READY_FOR_SWAP", state.Status)
	}
	if state.ActiveIndex != "" {
		t.Errorf("alias must not be bound under safe strategy, active=%s", state.ActiveIndex)
	}
	if state.StagingColor != models.ColorBlue {
		t.Errorf("StagingColor = %s, want blue", state.StagingColor)
	}
	if !strings.HasPrefix(state.StagingIndex, "products-test_blue_") {
		t.Errorf("StagingIndex = %s", state.StagingIndex)
	}
	if n := cluster.DocCount(state.StagingIndex); n != 3 {
		t.Errorf("staging index holds %d documents, want 3", n)
	}

	bound, _ := cluster.GetAlias(ctx, "products-test")
	if len(bound) != 0 {
		t.Errorf("alias bound to %v, want unbound", bound)
	}
}

func TestDeploy_FirstDeploymentAutoSwap(t *testing.T) {
	cluster := fake.NewCluster()
	c := newTestCoordinator(cluster)
	ctx := context.Background()

	state, err := c.Deploy(ctx, "products-test", docs("A", "B", "C"), models.StrategyAutoSwap)
	if err != nil {
		t.Fatalf("deploy failed: %v", err)
	}

	if state.Status != models.DeploymentCompleted {
		t.Errorf("Status = %s, want COMPLETED", state.Status)
	}
	if state.ActiveColor != models.ColorBlue {
		t.Errorf("ActiveColor = %s, want blue", state.ActiveColor)
	}
	if !strings.HasPrefix(state.ActiveIndex, "products-test_blue_") {
		t.Errorf("ActiveIndex = %s", state.ActiveIndex)
	}

	bound, _ := cluster.GetAlias(ctx, "products-test")
	if len(bound) != 1 || bound[0] != state.ActiveIndex {
		t.Errorf("alias bound to %v, want [%s]", bound, state.ActiveIndex)
	}
}

func TestDeploy_ColorAlternates(t *testing.T) {
	cluster := fake.NewCluster()
	c := newTestCoordinator(cluster)
	ctx := context.Background()

	if _, err := c.Deploy(ctx, "products-test", docs("A"), models.StrategyAutoSwap); err != nil {
		t.Fatalf("first deploy failed: %v", err)
	}

	state, err := c.Deploy(ctx, "products-test", docs("D"), models.StrategySafe)
	if err != nil {
		t.Fatalf("second deploy failed: %v", err)
	}
	if state.StagingColor != models.ColorGreen {
		t.Errorf("StagingColor = %s, want green after active blue", state.StagingColor)
	}
	if state.ActiveColor != models.ColorBlue {
		t.Errorf("ActiveColor = %s, want blue", state.ActiveColor)
	}
	if state.Status != models.DeploymentReadyForSwap {
		t.Errorf("Status = %s, want READY_FOR_SWAP", state.Status)
	}
}

func TestDeploy_EmptyDocumentsProducesEmptyStagingIndex(t *testing.T) {
	cluster := fake.NewCluster()
	c := newTestCoordinator(cluster)

	state, err := c.Deploy(context.Background(), "products-test", nil, models.StrategySafe)
	if err != nil {
		t.Fatalf("deploy failed: %v", err)
	}
	if state.Status != models.DeploymentReadyForSwap {
		t.Errorf("Status = %s, want READY_FOR_SWAP", state.Status)
	}
	if n := cluster.DocCount(state.StagingIndex); n != 0 {
		t.Errorf("staging index holds %d documents, want 0", n)
	}
}

func TestDeploy_ValidationFailureIsFatal(t *testing.T) {
	cluster := fake.NewCluster()
	cluster.FailStats = true
	c := newTestCoordinator(cluster)

	state, err := c.Deploy(context.Background(), "products-test", docs("A"), models.StrategySafe)
	if err == nil {
		t.Fatal("expected deploy to fail validation")
	}
	if state.Status != models.DeploymentFailed {
		t.Errorf("Status = %s, want FAILED", state.Status)
	}
	if state.Error == "" {
		t.Error("failed state should carry the error")
	}
}

func TestDeploy_PartialFailureBehavior(t *testing.T) {
	cluster := fake.NewCluster()
	cluster.FailDocIDs["B"] = true
	c := newTestCoordinator(cluster)

	// The readiness wait must keep expecting all three documents, so a
	// batch with a permanently failed item never reports ready. Bound the
	// wait with a context deadline instead of sitting out the full five
	// minutes; a deploy that (wrongly) discounted the failure would
	// succeed well before the deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	state, err := c.Deploy(ctx, "products-test", docs("A", "B", "C"), models.StrategySafe)
	if err == nil {
		t.Fatal("deploy with failed documents must not report readiness")
	}
	if state.Status != models.DeploymentFailed {
		t.Errorf("Status = %s, want FAILED", state.Status)
	}

	// Only the successful documents landed in the staging index.
	if n := cluster.DocCount(state.StagingIndex); n != 2 {
		t.Errorf("staging index holds %d documents, want 2", n)
	}
}

func TestSwapAlias_PromotesStaging(t *testing.T) {
	cluster := fake.NewCluster()
	c := newTestCoordinator(cluster)
	ctx := context.Background()

	if _, err := c.Deploy(ctx, "products-test", docs("A"), models.StrategyAutoSwap); err != nil {
		t.Fatalf("first deploy failed: %v", err)
	}
	staged, err := c.Deploy(ctx, "products-test", docs("D"), models.StrategySafe)
	if err != nil {
		t.Fatalf("second deploy failed: %v", err)
	}

	state, err := c.SwapAlias(ctx, "products-test", models.ColorGreen)
	if err != nil {
		t.Fatalf("swap failed: %v", err)
	}
	if state.ActiveColor != models.ColorGreen {
		t.Errorf("ActiveColor = %s, want green", state.ActiveColor)
	}
	if state.ActiveIndex != staged.StagingIndex {
		t.Errorf("ActiveIndex = %s, want %s", state.ActiveIndex, staged.StagingIndex)
	}
}

func TestSwapAlias_ColorMismatchIsConflict(t *testing.T) {
	cluster := fake.NewCluster()
	c := newTestCoordinator(cluster)
	ctx := context.Background()

	if _, err := c.Deploy(ctx, "products-test", docs("A"), models.StrategyAutoSwap); err != nil {
		t.Fatalf("deploy failed: %v", err)
	}
	if _, err := c.Deploy(ctx, "products-test", docs("D"), models.StrategySafe); err != nil {
		t.Fatalf("deploy failed: %v", err)
	}

	_, err := c.SwapAlias(ctx, "products-test", models.ColorBlue)
	if err == nil {
		t.Fatal("expected conflict swapping to the active color")
	}
	if models.KindOf(err) != models.KindConflict {
		t.Errorf("expected conflict kind, got %v", err)
	}
}

func TestSwapAlias_NoStagingIsPreconditionFailure(t *testing.T) {
	cluster := fake.NewCluster()
	c := newTestCoordinator(cluster)
	ctx := context.Background()

	if _, err := c.Deploy(ctx, "products-test", docs("A"), models.StrategyAutoSwap); err != nil {
		t.Fatalf("deploy failed: %v", err)
	}

	_, err := c.SwapAlias(ctx, "products-test", models.ColorGreen)
	if err == nil {
		t.Fatal("expected error with no staging index")
	}
	if models.KindOf(err) != models.KindPreconditionFailed {
		t.Errorf("expected precondition kind, got %v", err)
	}
}

func TestRollback_ReturnsToPreviousIndex(t *testing.T) {
	cluster := fake.NewCluster()
	c := newTestCoordinator(cluster)
	ctx := context.Background()

	first, err := c.Deploy(ctx, "products-test", docs("A", "B", "C"), models.StrategyAutoSwap)
	if err != nil {
		t.Fatalf("first deploy failed: %v", err)
	}
	blueIndex := first.ActiveIndex

	if _, err := c.Deploy(ctx, "products-test", docs("D", "E", "F"), models.StrategySafe); err != nil {
		t.Fatalf("second deploy failed: %v", err)
	}
	if _, err := c.SwapAlias(ctx, "products-test", models.ColorGreen); err != nil {
		t.Fatalf("swap failed: %v", err)
	}

	state, err := c.Rollback(ctx, "products-test")
	if err != nil {
		t.Fatalf("rollback failed: %v", err)
	}
	if state.ActiveColor != models.ColorBlue {
		t.Errorf("ActiveColor = %s, want blue after rollback", state.ActiveColor)
	}
	if state.ActiveIndex != blueIndex {
		t.Errorf("ActiveIndex = %s, want %s", state.ActiveIndex, blueIndex)
	}
}

func TestRollback_PicksMostRecentPreviousIndex(t *testing.T) {
	cluster := fake.NewCluster()
	cluster.SeedIndex("products-test_blue_20260806090000", nil)
	cluster.SeedIndex("products-test_blue_20260806110000", nil)
	cluster.SeedIndex("products-test_green_20260806120000", nil)
	c := newTestCoordinator(cluster)
	ctx := context.Background()

	registry := alias.NewRegistry(cluster)
	if err := registry.Create(ctx, "products-test", "products-test_green_20260806120000"); err != nil {
		t.Fatalf("create alias failed: %v", err)
	}

	state, err := c.Rollback(ctx, "products-test")
	if err != nil {
		t.Fatalf("rollback failed: %v", err)
	}
	if state.ActiveIndex != "products-test_blue_20260806110000" {
		t.Errorf("ActiveIndex = %s, want the most recent blue index", state.ActiveIndex)
	}
}

func TestRollback_NoPreviousColorIsNotFound(t *testing.T) {
	cluster := fake.NewCluster()
	c := newTestCoordinator(cluster)
	ctx := context.Background()

	if _, err := c.Deploy(ctx, "products-test", docs("A"), models.StrategyAutoSwap); err != nil {
		t.Fatalf("deploy failed: %v", err)
	}

	_, err := c.Rollback(ctx, "products-test")
	if err == nil {
		t.Fatal("expected rollback to fail with one color deployed")
	}
	if models.KindOf(err) != models.KindNotFound {
		t.Errorf("expected not-found kind, got %v", err)
	}
}

func TestCleanup_NeverDeletesActiveIndex(t *testing.T) {
	cluster := fake.NewCluster()
	cluster.SeedIndex("products-test_blue_20260806090000", nil)
	cluster.SeedIndex("products-test_blue_20260806100000", nil)
	cluster.SeedIndex("products-test_green_20260806110000", nil)
	c := newTestCoordinator(cluster)
	ctx := context.Background()

	registry := alias.NewRegistry(cluster)
	if err := registry.Create(ctx, "products-test", "products-test_green_20260806110000"); err != nil {
		t.Fatalf("create alias failed: %v", err)
	}

	deleted, err := c.Cleanup(ctx, "products-test")
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if len(deleted) != 2 {
		t.Errorf("deleted %v, want both blue indices", deleted)
	}

	exists, _ := cluster.IndexExists(ctx, "products-test_green_20260806110000")
	if !exists {
		t.Error("cleanup must never delete the active index")
	}
}

func TestInitializeAlias(t *testing.T) {
	cluster := fake.NewCluster()
	c := newTestCoordinator(cluster)
	ctx := context.Background()

	state, err := c.InitializeAlias(ctx, "products-test")
	if err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if state.ActiveColor != models.ColorBlue {
		t.Errorf("ActiveColor = %s, want blue", state.ActiveColor)
	}

	_, err = c.InitializeAlias(ctx, "products-test")
	if err == nil {
		t.Fatal("expected conflict on second initialize")
	}
	if models.KindOf(err) != models.KindConflict {
		t.Errorf("expected conflict kind, got %v", err)
	}
}

func TestIndexDocuments_ChunksAndCollectsFailures(t *testing.T) {
	cluster := fake.NewCluster()
	cluster.SeedIndex("idx", nil)
	cluster.FailDocIDs["bad"] = true
	ctx := context.Background()

	documents := docs("A", "B", "C")
	documents = append(documents, models.Document{"id": "bad"})

	successful, failed, itemErrors, err := IndexDocuments(ctx, cluster, "idx", documents, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if successful != 3 || failed != 1 {
		t.Errorf("successful=%d failed=%d, want 3/1", successful, failed)
	}
	if len(itemErrors) != 1 {
		t.Errorf("itemErrors = %v", itemErrors)
	}
	if cluster.BulkCalls != 2 {
		t.Errorf("BulkCalls = %d, want 2 chunks of 2", cluster.BulkCalls)
	}
}

func TestDeriveDocumentID(t *testing.T) {
	if id := DeriveDocumentID(models.Document{"id": "X"}, 0); id != "X" {
		t.Errorf("id field: got %s", id)
	}
	if id := DeriveDocumentID(models.Document{"recordId": float64(42)}, 0); id != "42" {
		t.Errorf("recordId field: got %s", id)
	}
	id := DeriveDocumentID(models.Document{"name": "anon"}, 7)
	if !strings.HasPrefix(id, "doc_") {
		t.Errorf("fallback id: got %s", id)
	}
}
