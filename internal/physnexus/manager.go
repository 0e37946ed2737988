// Package physnexus manages per-state physical-presence records. Every
// successful write triggers a synchronous recalculation against the owning
// analysis before the caller is told the operation is done; client-profile
// sync and activity notes run afterwards as background best-effort jobs.
package physnexus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/clearnexus/nexdash/internal/jobs"
	"github.com/clearnexus/nexdash/nexus"
	"github.com/clearnexus/nexdash/querycache"
)

// Engine is the slice of the engine client this package needs.
type Engine interface {
	PhysicalNexus(ctx context.Context, analysisID string) ([]nexus.PhysicalNexusRecord, error)
	CreatePhysicalNexus(ctx context.Context, analysisID string, rec nexus.PhysicalNexusRecord) error
	UpdatePhysicalNexus(ctx context.Context, analysisID, stateCode string, rec nexus.PhysicalNexusRecord) error
	DeletePhysicalNexus(ctx context.Context, analysisID, stateCode string) error
	Recalculate(ctx context.Context, analysisID string) (*nexus.RecalculateResult, error)
}

// Enqueuer dispatches background tasks. *asynq.Client satisfies it.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// StateResultsKey is the query-cache key for an analysis's per-state
// results; writes here invalidate it so views refetch updated liability.
func StateResultsKey(analysisID string) string {
	return querycache.Key("state-results", "analysis", analysisID)
}

// RecordsKey is the query-cache key for an analysis's physical-nexus list.
func RecordsKey(analysisID string) string {
	return querycache.Key("physical-nexus", "analysis", analysisID)
}

// Manager coordinates physical-nexus CRUD with recalculation and the
// background side effects.
type Manager struct {
	engine Engine
	store  *querycache.Store
	queue  Enqueuer // nil disables background side effects
	log    zerolog.Logger
}

func NewManager(engine Engine, store *querycache.Store, queue Enqueuer, log zerolog.Logger) *Manager {
	return &Manager{engine: engine, store: store, queue: queue, log: log}
}

// List returns the physical-presence records for an analysis through the
// query cache.
func (m *Manager) List(ctx context.Context, analysisID string) ([]nexus.PhysicalNexusRecord, error) {
	return querycache.Fetch(ctx, m.store, RecordsKey(analysisID), 0, func(ctx context.Context) ([]nexus.PhysicalNexusRecord, error) {
		return m.engine.PhysicalNexus(ctx, analysisID)
	})
}

// Create adds a presence record, recalculates, and schedules side effects.
func (m *Manager) Create(ctx context.Context, analysisID, clientID string, rec nexus.PhysicalNexusRecord) error {
	if err := m.engine.CreatePhysicalNexus(ctx, analysisID, rec); err != nil {
		return fmt.Errorf("create physical nexus %s: %w", rec.StateCode, err)
	}
	return m.settle(ctx, analysisID, clientID, rec.StateCode, rec.NexusType,
		fmt.Sprintf("Physical nexus added for %s (%s)", rec.StateCode, rec.NexusType))
}

// Update edits the record for one state, recalculates, and schedules side
// effects.
func (m *Manager) Update(ctx context.Context, analysisID, clientID, stateCode string, rec nexus.PhysicalNexusRecord) error {
	if err := m.engine.UpdatePhysicalNexus(ctx, analysisID, stateCode, rec); err != nil {
		return fmt.Errorf("update physical nexus %s: %w", stateCode, err)
	}
	return m.settle(ctx, analysisID, clientID, stateCode, rec.NexusType,
		fmt.Sprintf("Physical nexus updated for %s (%s)", stateCode, rec.NexusType))
}

// Delete removes the record for one state, recalculates, and schedules side
// effects. The profile sync receives an empty nexus type, which clears the
// state from every presence category.
func (m *Manager) Delete(ctx context.Context, analysisID, clientID, stateCode string) error {
	if err := m.engine.DeletePhysicalNexus(ctx, analysisID, stateCode); err != nil {
		return fmt.Errorf("delete physical nexus %s: %w", stateCode, err)
	}
	return m.settle(ctx, analysisID, clientID, stateCode, "",
		fmt.Sprintf("Physical nexus removed for %s", stateCode))
}

// settle runs the synchronous recalculation, invalidates affected queries,
// and enqueues the fire-and-forget side effects.
func (m *Manager) settle(ctx context.Context, analysisID, clientID, stateCode, nexusType, note string) error {
	if _, err := m.engine.Recalculate(ctx, analysisID); err != nil {
		return fmt.Errorf("recalculate after physical nexus change: %w", err)
	}

	m.store.Invalidate(RecordsKey(analysisID))
	m.store.Invalidate(StateResultsKey(analysisID))

	if clientID != "" {
		m.enqueue(jobs.TaskSyncProfileStates, jobs.SyncProfileStatesPayload{
			ClientID:  clientID,
			StateCode: stateCode,
			NexusType: nexusType,
		})
		m.enqueue(jobs.TaskActivityNote, jobs.ActivityNotePayload{
			ClientID:         clientID,
			AnalysisID:       analysisID,
			Message:          note,
			IncludeLiability: true,
		})
	}
	return nil
}

func (m *Manager) enqueue(task string, payload any) {
	if m.queue == nil {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		m.log.Error().Err(err).Str("task", task).Msg("marshal side-effect payload")
		return
	}
	info, err := m.queue.Enqueue(asynq.NewTask(task, b),
		asynq.Queue("side-effects"),
		asynq.MaxRetry(3),
		asynq.Timeout(2*time.Minute),
	)
	if err != nil {
		// Best-effort only; the primary operation already succeeded.
		m.log.Error().Err(err).Str("task", task).Msg("enqueue side-effect failed")
		return
	}
	m.log.Info().Str("task", task).Str("id", info.ID).Msg("side-effect enqueued")
}
