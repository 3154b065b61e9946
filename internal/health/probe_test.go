package health

import (
	"context"
	"testing"
	"time"

	"github.com/bigdegenenergy/searchops/internal/elastic/fake"
	"github.com/bigdegenenergy/searchops/pkg/models"
)

// testClock drives the probe's wall clock; every sleep advances it.
type testClock struct {
	now time.Time
}

func newTestProbe(cluster *fake.Cluster) (*Probe, *testClock) {
	p := NewProbe(cluster)
	clock := &testClock{now: time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)}
	p.now = func() time.Time { return clock.now }
	p.sleep = func(ctx context.Context, d time.Duration) error {
		clock.now = clock.now.Add(d)
		return nil
	}
	return p, clock
}

func TestValidate_HealthyIndex(t *testing.T) {
	cluster := fake.NewCluster()
	cluster.SeedIndex("products_blue_20260806090000", map[string]models.Document{
		"A": {"id": "A"},
	})
	p, _ := newTestProbe(cluster)

	ok, err := p.Validate(context.Background(), "products_blue_20260806090000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("healthy index should validate")
	}
}

func TestValidate_MissingIndex(t *testing.T) {
	p, _ := newTestProbe(fake.NewCluster())

	ok, err := p.Validate(context.Background(), "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("missing index must not validate")
	}
}

func TestValidate_YellowIsAcceptable(t *testing.T) {
	cluster := fake.NewCluster()
	cluster.SeedIndex("idx", nil)
	cluster.SetHealth("idx", models.HealthYellow)
	p, _ := newTestProbe(cluster)

	ok, err := p.Validate(context.Background(), "idx")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("yellow health should be acceptable")
	}
}

func TestValidate_RedFails(t *testing.T) {
	cluster := fake.NewCluster()
	cluster.SeedIndex("idx", nil)
	cluster.SetHealth("idx", models.HealthRed)
	p, _ := newTestProbe(cluster)

	ok, err := p.Validate(context.Background(), "idx")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("red index must not validate")
	}
}

func TestValidate_StatsFailureFails(t *testing.T) {
	cluster := fake.NewCluster()
	cluster.SeedIndex("idx", nil)
	cluster.FailStats = true
	p, _ := newTestProbe(cluster)

	ok, err := p.Validate(context.Background(), "idx")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("unretrievable stats must fail validation")
	}
}

func TestWaitReady_SucceedsWhenDocsPresent(t *testing.T) {
	cluster := fake.NewCluster()
	cluster.SeedIndex("idx", map[string]models.Document{
		"A": {"id": "A"}, "B": {"id": "B"}, "C": {"id": "C"},
	})
	p, _ := newTestProbe(cluster)

	err := p.WaitReady(context.Background(), "idx", ReadyOptions{ExpectedDocCount: 3})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestWaitReady_TimesOutOnStableShortCount(t *testing.T) {
	cluster := fake.NewCluster()
	cluster.SeedIndex("idx", map[string]models.Document{"A": {"id": "A"}})
	p, _ := newTestProbe(cluster)

	err := p.WaitReady(context.Background(), "idx", ReadyOptions{
		Timeout:          10 * time.Second,
		CheckInterval:    time.Second,
		ExpectedDocCount: 5,
	})
	if err == nil {
		t.Fatal("expected timeout")
	}
	if models.KindOf(err) != models.KindTimeout {
		t.Errorf("expected timeout kind, got %v", err)
	}
}

func TestWaitReady_TimesOutOnMissingIndex(t *testing.T) {
	p, _ := newTestProbe(fake.NewCluster())

	err := p.WaitReady(context.Background(), "never", ReadyOptions{
		Timeout:       30 * time.Second,
		CheckInterval: 2 * time.Second,
	})
	if models.KindOf(err) != models.KindTimeout {
		t.Errorf("expected timeout kind, got %v", err)
	}
}

func TestGetStats(t *testing.T) {
	cluster := fake.NewCluster()
	cluster.SeedIndex("idx", map[string]models.Document{
		"A": {"id": "A"}, "B": {"id": "B"},
	})
	p, _ := newTestProbe(cluster)

	stats, err := p.GetStats(context.Background(), "idx")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.DocCount != 2 {
		t.Errorf("DocCount = %d, want 2", stats.DocCount)
	}
	if stats.Health != models.HealthGreen {
		t.Errorf("Health = %s, want green", stats.Health)
	}
	if stats.StoreSize == "" {
		t.Error("StoreSize should be formatted")
	}
}

func TestHumanBytes(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{512, "512b"},
		{2048, "2.0kb"},
		{5 << 20, "5.0mb"},
		{3 << 30, "3.0gb"},
	}
	for _, tc := range cases {
		if got := humanBytes(tc.in); got != tc.want {
			t.Errorf("humanBytes(%d) = %s, want %s", tc.in, got, tc.want)
		}
	}
}
