// Package index implements the physical index lifecycle: timestamped name
// generation, creation with an opaque mapping, deletion, and the parsing
// rules that recover color and creation order from an index name.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bigdegenenergy/searchops/internal/elastic"
	"github.com/bigdegenenergy/searchops/pkg/models"
)

// colorNamePattern matches the canonical deployment index name form:
// {alias}_{color}_{YYYYMMDDHHMMSS}.
var colorNamePattern = regexp.MustCompile(`^(.+)_(blue|green)_(\d{14})$`)

// legacyDashPattern matches the retired dash-form names some older
// deployments produced. These are rejected, never parsed.
var legacyDashPattern = regexp.MustCompile(`^.+-(blue|green)-\d{4}-\d{2}-\d{2}`)

// MappingProvider yields the index mapping body. The mapping is opaque to
// the lifecycle; it is handed to the cluster verbatim at creation time.
type MappingProvider func() json.RawMessage

// Lifecycle creates and deletes physical indices for the control plane.
type Lifecycle struct {
	gateway elastic.Gateway
	mapping MappingProvider

	// now is the wall clock; replaced in tests.
	now func() time.Time
}

// NewLifecycle creates a Lifecycle using the given mapping provider for
// every index it creates.
func NewLifecycle(gateway elastic.Gateway, mapping MappingProvider) *Lifecycle {
	return &Lifecycle{gateway: gateway, mapping: mapping, now: time.Now}
}

// GenerateName produces a colorless index name {alias}_{YYYYMMDDHHMMSSfff}
// with millisecond precision. Lexicographic order equals creation order.
func (l *Lifecycle) GenerateName(alias string) string {
	ts := l.now().UTC()
	return fmt.Sprintf("%s_%s%03d", alias, ts.Format("20060102150405"), ts.Nanosecond()/int(time.Millisecond))
}

// GenerateColorName produces the canonical deployment index name
// {alias}_{color}_{YYYYMMDDHHMMSS}. Lexicographic order of the timestamp
// suffix equals creation order for a fixed alias and color.
func (l *Lifecycle) GenerateColorName(alias string, color models.Color) string {
	return fmt.Sprintf("%s_%s_%s", alias, color, l.now().UTC().Format("20060102150405"))
}

// Create creates the index with the configured mapping. It fails with a
// precondition error if the index already exists. When alias is non-empty
// the alias is bound in the same cluster call.
func (l *Lifecycle) Create(ctx context.Context, name, alias string) error {
	exists, err := l.gateway.IndexExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return models.NewPreconditionFailed("index %q already exists", name)
	}
	return l.gateway.CreateIndex(ctx, name, l.mapping(), alias)
}

// Delete removes the index, tolerating absence.
func (l *Lifecycle) Delete(ctx context.Context, name string) error {
	return l.gateway.DeleteIndex(ctx, name, true)
}

// Exists reports whether the index exists.
func (l *Lifecycle) Exists(ctx context.Context, name string) (bool, error) {
	return l.gateway.IndexExists(ctx, name)
}

// List returns all index names matching the pattern.
func (l *Lifecycle) List(ctx context.Context, pattern string) ([]string, error) {
	return l.gateway.GetIndices(ctx, pattern)
}

// VerifyNames scans every index belonging to the alias and rejects legacy
// dash-form names. The control plane refuses to manage aliases that mix
// name formats rather than guessing at their creation order.
func (l *Lifecycle) VerifyNames(ctx context.Context, alias string) error {
	names, err := l.gateway.GetIndices(ctx, alias+"*")
	if err != nil {
		return err
	}
	for _, name := range names {
		if legacyDashPattern.MatchString(name) {
			return models.NewPreconditionFailed(
				"index %q uses the retired dash name format; delete or reindex it before managing alias %q", name, alias)
		}
	}
	return nil
}

// ExtractColor recovers the deployment color from an index name by
// substring match. Names without a color segment report ColorUnknown.
func ExtractColor(name string) models.Color {
	switch {
	case strings.Contains(name, "_blue_"):
		return models.ColorBlue
	case strings.Contains(name, "_green_"):
		return models.ColorGreen
	default:
		return models.ColorUnknown
	}
}

// ParseName splits a canonical deployment index name into its alias,
// color, and timestamp parts. ok is false for any other name shape.
func ParseName(name string) (alias string, color models.Color, timestamp string, ok bool) {
	m := colorNamePattern.FindStringSubmatch(name)
	if m == nil {
		return "", models.ColorUnknown, "", false
	}
	return m[1], models.Color(m[2]), m[3], true
}

// ParseTimestamp converts the 14-character timestamp suffix of a
// deployment index name into a time.
func ParseTimestamp(name string) (time.Time, error) {
	_, _, ts, ok := ParseName(name)
	if !ok {
		return time.Time{}, fmt.Errorf("index: %q is not a deployment index name", name)
	}
	parsed, err := time.Parse("20060102150405", ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("index: bad timestamp in %q: %w", name, err)
	}
	return parsed, nil
}
