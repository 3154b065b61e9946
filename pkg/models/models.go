// Package models defines the core data structures used across the
// blue/green search deployment control plane.
//
// The control plane rebuilds Elasticsearch indices behind stable aliases:
// consumers query an alias while a staging index of the opposite color is
// populated in the background, validated, and atomically promoted. These
// models represent deployment state, ingest sessions, bulk outcomes, and
// cluster-level views that flow through the system.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Color identifies one of the two rotating index slots for an alias.
type Color string

const (
	ColorBlue    Color = "blue"
	ColorGreen   Color = "green"
	ColorUnknown Color = ""
)

// Opposite returns the other deployment color. The opposite of an unknown
// color is blue, which makes blue the default staging color for aliases
// that have never been deployed.
func (c Color) Opposite() Color {
	switch c {
	case ColorBlue:
		return ColorGreen
	case ColorGreen:
		return ColorBlue
	default:
		return ColorBlue
	}
}

// Valid reports whether c is one of the two deployment colors.
func (c Color) Valid() bool {
	return c == ColorBlue || c == ColorGreen
}

// Strategy controls what happens after a deployment's staging index has
// been validated.
type Strategy string

const (
	// StrategySafe leaves the alias untouched; an operator promotes the
	// staging index explicitly.
	StrategySafe Strategy = "safe"

	// StrategyAutoSwap atomically swaps the alias to the staging index as
	// soon as validation passes.
	StrategyAutoSwap Strategy = "auto-swap"
)

// ParseStrategy converts a user-supplied strategy string. An empty string
// defaults to StrategySafe.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "safe":
		return StrategySafe, nil
	case "auto-swap", "autoswap", "auto_swap":
		return StrategyAutoSwap, nil
	default:
		return "", NewInvalidArgument("unsupported deployment strategy %q", s)
	}
}

// DeploymentStatus represents the per-alias deployment state machine.
type DeploymentStatus string

const (
	DeploymentIdle         DeploymentStatus = "IDLE"
	DeploymentDeploying    DeploymentStatus = "DEPLOYING"
	DeploymentReadyForSwap DeploymentStatus = "READY_FOR_SWAP"
	DeploymentSwapping     DeploymentStatus = "SWAPPING"
	DeploymentCompleted    DeploymentStatus = "COMPLETED"
	DeploymentFailed       DeploymentStatus = "FAILED"
	DeploymentRollingBack  DeploymentStatus = "ROLLING_BACK"
)

// DeploymentState is the derived (never persisted) view of an alias: which
// physical index is live, which one is staged, and where the state machine
// currently sits.
type DeploymentState struct {
	Alias          string           `json:"alias"`
	ActiveColor    Color            `json:"activeColor,omitempty"`
	ActiveIndex    string           `json:"activeIndex,omitempty"`
	StagingColor   Color            `json:"stagingColor,omitempty"`
	StagingIndex   string           `json:"stagingIndex,omitempty"`
	Status         DeploymentStatus `json:"status"`
	LastDeployment *time.Time       `json:"lastDeployment,omitempty"`
	Strategy       Strategy         `json:"strategy,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// SessionStatus represents the lifecycle state of an ingest session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionExpired   SessionStatus = "expired"
)

// Terminal reports whether no further mutations are permitted.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionExpired
}

// SessionError records a single ingest failure inside a session.
type SessionError struct {
	BatchNumber int       `json:"batchNumber,omitempty"`
	Phase       string    `json:"phase,omitempty"`
	DocumentRef string    `json:"documentRef,omitempty"`
	Error       string    `json:"error"`
	Timestamp   time.Time `json:"timestamp"`
}

// Session is the in-memory coordinator for a streaming batch ingest into
// one staging index. Counters are monotone non-decreasing for the life of
// the session; once the status is terminal nothing mutates them.
type Session struct {
	ID          string   `json:"sessionId"`
	Alias       string   `json:"alias"`
	TargetIndex string   `json:"targetIndex"`
	TargetColor Color    `json:"targetColor"`
	Strategy    Strategy `json:"strategy"`

	TotalBatches       int `json:"totalBatches"`
	ProcessedBatches   int `json:"processedBatches"`
	TotalDocuments     int `json:"totalDocuments"`
	ProcessedDocuments int `json:"processedDocuments"`
	FailedDocuments    int `json:"failedDocuments"`
	EstimatedTotal     int `json:"estimatedTotal,omitempty"`

	Status      SessionStatus  `json:"status"`
	CreatedAt   time.Time      `json:"createdAt"`
	LastBatchAt time.Time      `json:"lastBatchAt"`
	Errors      []SessionError `json:"errors,omitempty"`
}

// BatchProcessResult is returned to the producer after each batch.
type BatchProcessResult struct {
	SessionID      string         `json:"sessionId"`
	BatchNumber    int            `json:"batchNumber"`
	Successful     int            `json:"successful"`
	Failed         int            `json:"failed"`
	Errors         []SessionError `json:"errors,omitempty"`
	SessionStatus  SessionStatus  `json:"sessionStatus"`
	TotalProcessed int            `json:"totalProcessed"`
	TotalFailed    int            `json:"totalFailed"`
	Progress       *float64       `json:"progress,omitempty"`
}

// Document is an opaque source document. The control plane only inspects
// the id fields needed to derive the bulk document id.
type Document map[string]any

// BulkItem is one (action header, source) pair submitted to the cluster's
// bulk endpoint. All control-plane writes are plain index actions.
type BulkItem struct {
	Index      string
	DocumentID string
	Source     Document
}

// BulkError is the per-item error payload reported by the cluster.
type BulkError struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
	Status int    `json:"status"`
}

func (e *BulkError) String() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Reason)
}

// BulkItemResult is the outcome of a single bulk action.
type BulkItemResult struct {
	Operation  string     `json:"operation"`
	DocumentID string     `json:"documentId"`
	Status     int        `json:"status"`
	Error      *BulkError `json:"error,omitempty"`
}

// Succeeded reports whether the item was indexed (created or overwritten).
func (r BulkItemResult) Succeeded() bool {
	return r.Error == nil && (r.Status == 200 || r.Status == 201)
}

// BulkResult aggregates the per-item outcomes of one bulk call.
type BulkResult struct {
	AnyErrors bool             `json:"anyErrors"`
	Items     []BulkItemResult `json:"items"`
	Took      int              `json:"took"`
}

// AliasAction is one entry in an atomic alias update. Exactly one of Add
// or Remove is set.
type AliasAction struct {
	Add    *AliasTarget `json:"add,omitempty"`
	Remove *AliasTarget `json:"remove,omitempty"`
}

// AliasTarget names the (index, alias) pair an action applies to.
type AliasTarget struct {
	Index string `json:"index"`
	Alias string `json:"alias"`
}

// HealthState is the cluster's traffic-light status for an index.
type HealthState string

const (
	HealthGreen  HealthState = "green"
	HealthYellow HealthState = "yellow"
	HealthRed    HealthState = "red"
)

// ClusterHealth is the subset of the cluster health response the control
// plane acts on.
type ClusterHealth struct {
	ClusterName string      `json:"clusterName"`
	Status      HealthState `json:"status"`
	TimedOut    bool        `json:"timedOut"`
}

// HealthOptions filters a cluster health request to one index and
// optionally blocks until the requested status is reached.
type HealthOptions struct {
	Index         string
	WaitForStatus HealthState
	Timeout       time.Duration
}

// IndexStats is the per-index statistics snapshot used by the health probe.
type IndexStats struct {
	DocCount       int64   `json:"docCount"`
	StoreSizeBytes int64   `json:"storeSizeBytes"`
	IndexingRate   float64 `json:"indexingRate"`
	SearchRate     float64 `json:"searchRate"`
}

// SearchHit is a single hit from a read-side query.
type SearchHit struct {
	Index     string              `json:"index"`
	ID        string              `json:"id"`
	Score     *float64            `json:"score,omitempty"`
	Source    json.RawMessage     `json:"source"`
	Highlight map[string][]string `json:"highlight,omitempty"`
}

// SearchResult is the read-side query response.
type SearchResult struct {
	Total        int64           `json:"total"`
	Hits         []SearchHit     `json:"hits"`
	Aggregations json.RawMessage `json:"aggregations,omitempty"`
	TookMillis   int             `json:"took"`
}

// ClusterInfo describes the connected cluster for the service health
// endpoint.
type ClusterInfo struct {
	ClusterName string `json:"clusterName"`
	Version     string `json:"version"`
}
