// Package session implements streaming batch ingest sessions.
//
// A session owns one staging index from start until a terminal state.
// Producers stream document batches into it; the manager serializes all
// mutations of a single session, keeps running counters, and hands off to
// the deployment coordinator when the session completes. Sessions live in
// memory only and are reaped by a periodic expiry sweep.
package session

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigdegenenergy/searchops/internal/deploy"
	"github.com/bigdegenenergy/searchops/internal/elastic"
	"github.com/bigdegenenergy/searchops/internal/health"
	"github.com/bigdegenenergy/searchops/internal/index"
	"github.com/bigdegenenergy/searchops/pkg/models"
)

const (
	// MaxBatchSize is the hard per-batch document limit. An older surface
	// permitted 5000; the tighter limit with duplicate checking is the
	// contract callers rely on.
	MaxBatchSize = 1000

	// maxSessionErrors bounds the per-session error list; older entries
	// are discarded first.
	maxSessionErrors = 50

	// completeReadyTimeout is the readiness deadline during Complete.
	completeReadyTimeout = 5 * time.Minute
)

// entry pairs a session with the mutex that serializes its mutations.
type entry struct {
	mu      sync.Mutex
	session *models.Session
}

// Manager owns all in-memory ingest sessions.
type Manager struct {
	gateway     elastic.Gateway
	lifecycle   *index.Lifecycle
	probe       *health.Probe
	coordinator *deploy.Coordinator

	sessionTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*entry

	// now is the wall clock; replaced in tests.
	now func() time.Time
}

// NewManager wires the session manager to its collaborators.
func NewManager(gateway elastic.Gateway, lifecycle *index.Lifecycle, probe *health.Probe, coordinator *deploy.Coordinator, sessionTimeout time.Duration) *Manager {
	if sessionTimeout <= 0 {
		sessionTimeout = time.Hour
	}
	return &Manager{
		gateway:        gateway,
		lifecycle:      lifecycle,
		probe:          probe,
		coordinator:    coordinator,
		sessionTimeout: sessionTimeout,
		sessions:       make(map[string]*entry),
		now:            time.Now,
	}
}

// newSessionID produces a unique id of the form batch_{epochMs}_{random9}.
func (m *Manager) newSessionID() string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("batch_%d_%s", m.now().UnixMilli(), random)
}

// Start opens a session against the alias: it derives the staging color,
// creates a fresh mapped index under that color, and returns the session
// handle. The generated index must not already exist.
func (m *Manager) Start(ctx context.Context, aliasName string, strategy models.Strategy, estimatedTotal int) (*models.Session, error) {
	if aliasName == "" || strings.ContainsAny(aliasName, " \t\n") {
		return nil, models.NewInvalidArgument("alias must be non-empty without whitespace")
	}
	if strategy != models.StrategySafe && strategy != models.StrategyAutoSwap {
		return nil, models.NewInvalidArgument("unsupported deployment strategy %q", strategy)
	}

	state, err := m.coordinator.GetStatus(ctx, aliasName)
	if err != nil {
		return nil, err
	}
	targetColor := state.ActiveColor.Opposite()
	targetIndex := m.lifecycle.GenerateColorName(aliasName, targetColor)

	if err := m.lifecycle.Create(ctx, targetIndex, ""); err != nil {
		return nil, err
	}

	now := m.now().UTC()
	session := &models.Session{
		ID:             m.newSessionID(),
		Alias:          aliasName,
		TargetIndex:    targetIndex,
		TargetColor:    targetColor,
		Strategy:       strategy,
		EstimatedTotal: estimatedTotal,
		Status:         models.SessionActive,
		CreatedAt:      now,
		LastBatchAt:    now,
	}

	m.mu.Lock()
	m.sessions[session.ID] = &entry{session: session}
	m.mu.Unlock()

	log.Printf("session: started %s for alias %q targeting %s (%s)", session.ID, aliasName, targetIndex, strategy)
	return snapshot(session), nil
}

// lookup fetches the entry for a session id.
func (m *Manager) lookup(sessionID string) (*entry, error) {
	if sessionID == "" {
		return nil, models.NewInvalidArgument("session id is required")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil, models.NewNotFound("session %q not found", sessionID)
	}
	return e, nil
}

// ProcessBatch ingests one batch of documents into the session's target
// index. Batches of the same session execute one at a time in arrival
// order; validation failures reject the whole batch before any cluster
// write.
func (m *Manager) ProcessBatch(ctx context.Context, sessionID string, documents []models.Document) (*models.BatchProcessResult, error) {
	e, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.session

	if s.Status == models.SessionExpired {
		return nil, models.NewNotFound("session %q has expired", sessionID)
	}
	if s.Status != models.SessionActive {
		return nil, models.NewConflict("session %q is %s, not active", sessionID, s.Status)
	}
	if len(documents) == 0 {
		return nil, models.NewInvalidArgument("batch is empty")
	}
	if len(documents) > MaxBatchSize {
		return nil, models.NewInvalidArgument("batch of %d documents exceeds the %d-document limit", len(documents), MaxBatchSize)
	}

	batchNumber := s.TotalBatches + 1
	now := m.now().UTC()

	items := make([]models.BulkItem, 0, len(documents))
	seen := make(map[string]bool, len(documents))
	for i, doc := range documents {
		docID := deriveBatchDocumentID(doc, sessionID, batchNumber, i, now)
		if seen[docID] {
			return nil, models.NewInvalidArgument("duplicate document id %q in batch", docID)
		}
		seen[docID] = true
		items = append(items, models.BulkItem{
			Index:      s.TargetIndex,
			DocumentID: docID,
			Source:     doc,
		})
	}

	// Validation passed; the batch is now accounted for.
	s.TotalBatches = batchNumber
	s.TotalDocuments += len(documents)
	s.LastBatchAt = now

	result, err := m.gateway.Bulk(ctx, items, false)
	if err != nil {
		m.appendError(s, models.SessionError{
			BatchNumber: batchNumber,
			Phase:       "bulk",
			Error:       err.Error(),
			Timestamp:   now,
		})
		return nil, err
	}

	successful, failed := 0, 0
	var batchErrors []models.SessionError
	for _, item := range result.Items {
		if item.Succeeded() {
			successful++
			continue
		}
		failed++
		batchErrors = append(batchErrors, models.SessionError{
			BatchNumber: batchNumber,
			DocumentRef: item.DocumentID,
			Error:       item.Error.String(),
			Timestamp:   now,
		})
	}

	s.ProcessedBatches++
	s.ProcessedDocuments += successful
	s.FailedDocuments += failed
	for _, be := range batchErrors {
		m.appendError(s, be)
	}

	out := &models.BatchProcessResult{
		SessionID:      sessionID,
		BatchNumber:    batchNumber,
		Successful:     successful,
		Failed:         failed,
		Errors:         batchErrors,
		SessionStatus:  s.Status,
		TotalProcessed: s.ProcessedDocuments,
		TotalFailed:    s.FailedDocuments,
	}
	if s.EstimatedTotal > 0 {
		progress := 100 * float64(s.ProcessedDocuments) / float64(s.EstimatedTotal)
		out.Progress = &progress
	}
	return out, nil
}

// Complete finalizes the session: refresh, reconcile the document count,
// wait for readiness, validate, then either leave the staging index for
// manual promotion or auto-swap per the session's strategy.
func (m *Manager) Complete(ctx context.Context, sessionID string) (*models.DeploymentState, error) {
	e, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.session

	if s.Status == models.SessionExpired {
		return nil, models.NewNotFound("session %q has expired", sessionID)
	}
	if s.Status != models.SessionActive {
		return nil, models.NewConflict("session %q is %s, not active", sessionID, s.Status)
	}

	if err := m.gateway.Refresh(ctx, s.TargetIndex); err != nil {
		return nil, m.failCompletion(s, err)
	}

	actualCount, err := m.gateway.Count(ctx, s.TargetIndex)
	if err != nil {
		return nil, m.failCompletion(s, err)
	}
	if actualCount != int64(s.ProcessedDocuments) {
		// The cluster's count wins: sources that under-report ids would
		// otherwise wedge the readiness wait forever.
		log.Printf("session: %s count mismatch on %s: processed=%d actual=%d",
			sessionID, s.TargetIndex, s.ProcessedDocuments, actualCount)
	}

	if err := m.probe.WaitReady(ctx, s.TargetIndex, health.ReadyOptions{
		Timeout:          completeReadyTimeout,
		ExpectedDocCount: actualCount,
	}); err != nil {
		return nil, m.failCompletion(s, err)
	}

	ok, err := m.probe.Validate(ctx, s.TargetIndex)
	if err != nil {
		return nil, m.failCompletion(s, err)
	}
	if !ok {
		return nil, m.failCompletion(s, models.NewPreconditionFailed("index %s failed validation", s.TargetIndex))
	}

	current, err := m.coordinator.GetStatus(ctx, s.Alias)
	if err != nil {
		return nil, m.failCompletion(s, err)
	}

	s.Status = models.SessionCompleted
	log.Printf("session: completed %s with %d document(s) in %s", sessionID, actualCount, s.TargetIndex)

	state := &models.DeploymentState{
		Alias:        s.Alias,
		ActiveColor:  current.ActiveColor,
		ActiveIndex:  current.ActiveIndex,
		StagingColor: s.TargetColor,
		StagingIndex: s.TargetIndex,
		Status:       models.DeploymentReadyForSwap,
		Strategy:     s.Strategy,
	}

	if s.Strategy == models.StrategyAutoSwap {
		if _, err := m.coordinator.SwapAlias(ctx, s.Alias, s.TargetColor); err != nil {
			// The index is built and validated; the failed swap leaves it
			// promotable by hand.
			return state, err
		}
		state.ActiveColor = s.TargetColor
		state.ActiveIndex = s.TargetIndex
		state.StagingColor = models.ColorUnknown
		state.StagingIndex = ""
		state.Status = models.DeploymentCompleted
	}
	return state, nil
}

// failCompletion marks the session failed with a completion-phase error
// and returns the cause.
func (m *Manager) failCompletion(s *models.Session, cause error) error {
	s.Status = models.SessionFailed
	m.appendError(s, models.SessionError{
		Phase:     "completion",
		Error:     cause.Error(),
		Timestamp: m.now().UTC(),
	})
	log.Printf("session: %s completion failed: %v", s.ID, cause)
	return cause
}

// Cancel aborts an active session: the target index is deleted and the
// session transitions to failed. The alias is never touched.
func (m *Manager) Cancel(ctx context.Context, sessionID string) error {
	e, err := m.lookup(sessionID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.session

	if s.Status == models.SessionExpired {
		return models.NewNotFound("session %q has expired", sessionID)
	}
	if s.Status != models.SessionActive {
		return models.NewConflict("session %q is %s, not active", sessionID, s.Status)
	}

	if err := m.lifecycle.Delete(ctx, s.TargetIndex); err != nil {
		log.Printf("WARNING session: cancel of %s could not delete %s: %v", sessionID, s.TargetIndex, err)
	}
	s.Status = models.SessionFailed
	log.Printf("session: cancelled %s, dropped %s", sessionID, s.TargetIndex)
	return nil
}

// Get returns a snapshot of the session.
func (m *Manager) Get(sessionID string) (*models.Session, error) {
	e, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshot(e.session), nil
}

// ListActive returns snapshots of all sessions still accepting batches.
func (m *Manager) ListActive() []*models.Session {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	active := make([]*models.Session, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.session.Status == models.SessionActive {
			active = append(active, snapshot(e.session))
		}
		e.mu.Unlock()
	}
	return active
}

// StartSweeper runs the expiry sweep on the given interval until the
// context is cancelled.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.SweepExpired()
			}
		}
	}()
}

// SweepExpired expires and removes every non-terminal session whose last
// batch is older than the session timeout. The target index is retained;
// it may still be promoted by hand.
func (m *Manager) SweepExpired() int {
	now := m.now().UTC()

	m.mu.Lock()
	candidates := make(map[string]*entry, len(m.sessions))
	for id, e := range m.sessions {
		candidates[id] = e
	}
	m.mu.Unlock()

	expired := 0
	for id, e := range candidates {
		e.mu.Lock()
		if !e.session.Status.Terminal() && now.Sub(e.session.LastBatchAt) > m.sessionTimeout {
			e.session.Status = models.SessionExpired
			expired++
			log.Printf("session: expired %s (idle since %s), retaining %s",
				id, e.session.LastBatchAt.Format(time.RFC3339), e.session.TargetIndex)
			m.mu.Lock()
			delete(m.sessions, id)
			m.mu.Unlock()
		}
		e.mu.Unlock()
	}
	return expired
}

// appendError records an error on the session, keeping only the most
// recent maxSessionErrors entries.
func (m *Manager) appendError(s *models.Session, se models.SessionError) {
	s.Errors = append(s.Errors, se)
	if len(s.Errors) > maxSessionErrors {
		s.Errors = s.Errors[len(s.Errors)-maxSessionErrors:]
	}
}

// deriveBatchDocumentID resolves the bulk document id for one document of
// a batch: the "id" field, then "recordId", then a generated id unique
// within the session.
func deriveBatchDocumentID(doc models.Document, sessionID string, batchNumber, position int, now time.Time) string {
	if id := deploy.DocumentIDField(doc); id != "" {
		return id
	}
	return fmt.Sprintf("doc_%s_%d_%d_%d", sessionID, batchNumber, position, now.UnixMilli())
}

// snapshot copies a session for return to callers.
func snapshot(s *models.Session) *models.Session {
	out := *s
	if len(s.Errors) > 0 {
		out.Errors = append([]models.SessionError(nil), s.Errors...)
	}
	return &out
}
