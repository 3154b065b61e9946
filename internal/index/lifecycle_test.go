package index

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/bigdegenenergy/searchops/internal/elastic/fake"
	"github.com/bigdegenenergy/searchops/pkg/models"
)

func testMapping() json.RawMessage {
	return json.RawMessage(`{"mappings":{"properties":{"id":{"type":"keyword"}}}}`)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestGenerateColorName(t *testing.T) {
	l := NewLifecycle(fake.NewCluster(), testMapping)
	l.now = fixedClock(time.Date(2026, 8, 6, 14, 30, 5, 0, time.UTC))

	name := l.GenerateColorName("products", models.ColorBlue)
	if name != "products_blue_20260806143005" {
		t.Errorf("GenerateColorName() = %s", name)
	}

	alias, color, ts, ok := ParseName(name)
	if !ok {
		t.Fatalf("generated name %s did not parse", name)
	}
	if alias != "products" || color != models.ColorBlue || ts != "20260806143005" {
		t.Errorf("ParseName() = (%s, %s, %s)", alias, color, ts)
	}
}

func TestGenerateName_Base(t *testing.T) {
	l := NewLifecycle(fake.NewCluster(), testMapping)
	l.now = fixedClock(time.Date(2026, 8, 6, 14, 30, 5, 123*int(time.Millisecond), time.UTC))

	name := l.GenerateName("products")
	if name != "products_20260806143005123" {
		t.Errorf("GenerateName() = %s", name)
	}
}

func TestTimestampSortEqualsCreationOrder(t *testing.T) {
	l := NewLifecycle(fake.NewCluster(), testMapping)

	l.now = fixedClock(time.Date(2026, 8, 6, 9, 0, 0, 0, time.UTC))
	first := l.GenerateColorName("products", models.ColorBlue)
	l.now = fixedClock(time.Date(2026, 8, 6, 10, 0, 0, 0, time.UTC))
	second := l.GenerateColorName("products", models.ColorBlue)

	if !(first < second) {
		t.Errorf("expected %s < %s", first, second)
	}
}

func TestExtractColor(t *testing.T) {
	cases := []struct {
		name string
		want models.Color
	}{
		{"products_blue_20260806143005", models.ColorBlue},
		{"products_green_20260806143005", models.ColorGreen},
		{"products_20260806143005123", models.ColorUnknown},
		{"plain-index", models.ColorUnknown},
	}
	for _, tc := range cases {
		if got := ExtractColor(tc.name); got != tc.want {
			t.Errorf("ExtractColor(%s) = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestParseName_Rejects(t *testing.T) {
	for _, name := range []string{
		"products_blue_2026",           // short timestamp
		"products-blue-20260806143005", // dashed form
		"products_purple_20260806143005",
		"products",
	} {
		if _, _, _, ok := ParseName(name); ok {
			t.Errorf("ParseName(%s) should not parse", name)
		}
	}
}

func TestParseTimestamp(t *testing.T) {
	ts, err := ParseTimestamp("products_blue_20260806143005")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 8, 6, 14, 30, 5, 0, time.UTC)
	if !ts.Equal(want) {
		t.Errorf("ParseTimestamp() = %s, want %s", ts, want)
	}

	if _, err := ParseTimestamp("not_an_index"); err == nil {
		t.Error("expected error for unparseable name")
	}
}

func TestCreate_FailsWhenExists(t *testing.T) {
	cluster := fake.NewCluster()
	l := NewLifecycle(cluster, testMapping)
	ctx := context.Background()

	if err := l.Create(ctx, "products_blue_20260806143005", ""); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	err := l.Create(ctx, "products_blue_20260806143005", "")
	if err == nil {
		t.Fatal("expected error creating existing index")
	}
	if models.KindOf(err) != models.KindPreconditionFailed {
		t.Errorf("expected precondition error, got %v", err)
	}
}

func TestCreate_BindsAlias(t *testing.T) {
	cluster := fake.NewCluster()
	l := NewLifecycle(cluster, testMapping)
	ctx := context.Background()

	if err := l.Create(ctx, "products_blue_20260806143005", "products"); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	bound, err := cluster.GetAlias(ctx, "products")
	if err != nil {
		t.Fatalf("get alias failed: %v", err)
	}
	if len(bound) != 1 || bound[0] != "products_blue_20260806143005" {
		t.Errorf("alias bound to %v", bound)
	}
}

func TestVerifyNames_RejectsLegacyDashNames(t *testing.T) {
	cluster := fake.NewCluster()
	cluster.SeedIndex("products-blue-2026-08-06T14:30:05", nil)
	l := NewLifecycle(cluster, testMapping)

	err := l.VerifyNames(context.Background(), "products")
	if err == nil {
		t.Fatal("expected error for legacy dash-form index")
	}
	if models.KindOf(err) != models.KindPreconditionFailed {
		t.Errorf("expected precondition error, got %v", err)
	}
}

func TestVerifyNames_AcceptsCanonicalNames(t *testing.T) {
	cluster := fake.NewCluster()
	cluster.SeedIndex("products_blue_20260806143005", nil)
	l := NewLifecycle(cluster, testMapping)

	if err := l.VerifyNames(context.Background(), "products"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
