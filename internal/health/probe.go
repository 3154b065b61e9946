// Package health implements readiness validation for deployment indices.
//
// The probe answers two questions: is an index healthy enough to serve
// queries right now (Validate), and will it become ready within a deadline
// as documents land in it (WaitReady). It never mutates cluster state.
package health

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/bigdegenenergy/searchops/internal/elastic"
	"github.com/bigdegenenergy/searchops/pkg/models"
)

const (
	defaultTimeout       = 60 * time.Second
	defaultCheckInterval = 2 * time.Second
	healthWaitTimeout    = 10 * time.Second
)

// ReadyOptions tunes a WaitReady poll loop.
type ReadyOptions struct {
	// Timeout is the wall-clock deadline; zero means 60 seconds.
	Timeout time.Duration

	// CheckInterval is the pause between ticks; zero means 2 seconds.
	CheckInterval time.Duration

	// ExpectedDocCount, when positive, requires the index to hold at
	// least this many documents before health is consulted.
	ExpectedDocCount int64
}

// Stats is the operator-facing statistics view of an index.
type Stats struct {
	Index        string             `json:"index"`
	DocCount     int64              `json:"docCount"`
	StoreSize    string             `json:"storeSize"`
	IndexingRate float64            `json:"indexingRate"`
	SearchRate   float64            `json:"searchRate"`
	Health       models.HealthState `json:"health"`
}

// Probe validates deployment indices through the cluster gateway.
type Probe struct {
	gateway elastic.Gateway

	// now and sleep are the wall clock; replaced in tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewProbe creates a Probe over the given gateway.
func NewProbe(gateway elastic.Gateway) *Probe {
	return &Probe{
		gateway: gateway,
		now:     time.Now,
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
	}
}

// Validate reports whether the index is ready to serve queries: it exists,
// its health is not red (yellow is acceptable on single-node clusters),
// and its stats are retrievable.
func (p *Probe) Validate(ctx context.Context, index string) (bool, error) {
	exists, err := p.gateway.IndexExists(ctx, index)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}

	healthRes, err := p.gateway.ClusterHealth(ctx, models.HealthOptions{Index: index})
	if err != nil {
		return false, err
	}
	if healthRes.Status == models.HealthRed {
		log.Printf("health: index %s is red, failing validation", index)
		return false, nil
	}

	if _, err := p.gateway.IndexStats(ctx, index); err != nil {
		log.Printf("health: stats retrieval for %s failed: %v", index, err)
		return false, nil
	}
	return true, nil
}

// WaitReady polls until the index exists, holds at least the expected
// number of documents, and reports non-red health. Transient errors inside
// a tick are swallowed and retried; the wait fails only when the wall-clock
// deadline passes or ctx is done during the pause between ticks.
func (p *Probe) WaitReady(ctx context.Context, index string, opts ReadyOptions) error {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	interval := opts.CheckInterval
	if interval <= 0 {
		interval = defaultCheckInterval
	}

	start := p.now()
	for {
		if p.now().Sub(start) > timeout {
			return models.NewTimeout("index %s did not become ready within %s", index, timeout)
		}

		if ready := p.checkOnce(ctx, index, opts.ExpectedDocCount); ready {
			return nil
		}

		if err := p.sleep(ctx, interval); err != nil {
			return err
		}
	}
}

// checkOnce runs one readiness tick. Any error is treated as "not yet".
func (p *Probe) checkOnce(ctx context.Context, index string, expectedDocCount int64) bool {
	exists, err := p.gateway.IndexExists(ctx, index)
	if err != nil || !exists {
		return false
	}

	if expectedDocCount > 0 {
		count, err := p.gateway.Count(ctx, index)
		if err != nil || count < expectedDocCount {
			return false
		}
	}

	healthRes, err := p.gateway.ClusterHealth(ctx, models.HealthOptions{
		Index:         index,
		WaitForStatus: models.HealthYellow,
		Timeout:       healthWaitTimeout,
	})
	if err != nil {
		return false
	}
	return healthRes.Status != models.HealthRed
}

// GetStats returns the operator-facing statistics for the index.
func (p *Probe) GetStats(ctx context.Context, index string) (*Stats, error) {
	stats, err := p.gateway.IndexStats(ctx, index)
	if err != nil {
		return nil, err
	}
	healthRes, err := p.gateway.ClusterHealth(ctx, models.HealthOptions{Index: index})
	if err != nil {
		return nil, err
	}
	return &Stats{
		Index:        index,
		DocCount:     stats.DocCount,
		StoreSize:    humanBytes(stats.StoreSizeBytes),
		IndexingRate: stats.IndexingRate,
		SearchRate:   stats.SearchRate,
		Health:       healthRes.Status,
	}, nil
}

// humanBytes formats a byte count with a binary unit suffix.
func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%db", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%cb", float64(n)/float64(div), "kmgtpe"[exp])
}
