package physnexus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/clearnexus/nexdash/internal/jobs"
	"github.com/clearnexus/nexdash/nexus"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Document is the export/import format for a full physical-nexus config.
// ID identifies one export so re-imports can be traced in activity notes.
type Document struct {
	ID         string                      `json:"id"`
	Version    int                         `json:"version"`
	AnalysisID string                      `json:"analysis_id"`
	ExportedAt time.Time                   `json:"exported_at"`
	Records    []nexus.PhysicalNexusRecord `json:"records"`
}

const documentVersion = 1

// importRecord mirrors nexus.PhysicalNexusRecord with validation tags.
type importRecord struct {
	StateCode       string `json:"state_code" validate:"required,len=2,alpha"`
	NexusType       string `json:"nexus_type" validate:"required,oneof=remote_employee inventory_3pl office"`
	DateEstablished string `json:"date_established" validate:"required,datetime=2006-01-02"`
	RegistrationID  string `json:"registration_id"`
	Notes           string `json:"notes"`
}

// ImportError describes one rejected record; the rest of the batch still
// applies.
type ImportError struct {
	Index     int    `json:"index"`
	StateCode string `json:"state_code,omitempty"`
	Reason    string `json:"reason"`
}

// ImportResult reports created vs updated counts and per-item errors.
type ImportResult struct {
	Created int           `json:"created"`
	Updated int           `json:"updated"`
	Errors  []ImportError `json:"errors,omitempty"`
}

// Export serializes the full config list as a JSON document.
func (m *Manager) Export(ctx context.Context, analysisID string) (*Document, error) {
	records, err := m.List(ctx, analysisID)
	if err != nil {
		return nil, fmt.Errorf("export physical nexus: %w", err)
	}
	return &Document{
		ID:         uuid.NewString(),
		Version:    documentVersion,
		AnalysisID: analysisID,
		ExportedAt: time.Now().UTC(),
		Records:    records,
	}, nil
}

// Import applies a previously exported document. Each record is validated
// and applied independently; failures are reported per item and never abort
// the batch. One recalculation runs at the end if anything was written.
func (m *Manager) Import(ctx context.Context, analysisID, clientID string, data []byte) (*ImportResult, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse import document: %w", err)
	}

	existing, err := m.engine.PhysicalNexus(ctx, analysisID)
	if err != nil {
		return nil, fmt.Errorf("load existing physical nexus: %w", err)
	}
	byState := make(map[string]bool, len(existing))
	for _, rec := range existing {
		byState[rec.StateCode] = true
	}

	res := &ImportResult{}
	for i, rec := range doc.Records {
		rec.StateCode = strings.ToUpper(strings.TrimSpace(rec.StateCode))
		ir := importRecord{
			StateCode:       rec.StateCode,
			NexusType:       rec.NexusType,
			DateEstablished: rec.DateEstablished,
			RegistrationID:  rec.RegistrationID,
			Notes:           rec.Notes,
		}
		if err := validate.Struct(ir); err != nil {
			res.Errors = append(res.Errors, ImportError{
				Index: i, StateCode: rec.StateCode, Reason: err.Error(),
			})
			continue
		}

		if byState[rec.StateCode] {
			err = m.engine.UpdatePhysicalNexus(ctx, analysisID, rec.StateCode, rec)
		} else {
			err = m.engine.CreatePhysicalNexus(ctx, analysisID, rec)
		}
		if err != nil {
			res.Errors = append(res.Errors, ImportError{
				Index: i, StateCode: rec.StateCode, Reason: err.Error(),
			})
			continue
		}

		if byState[rec.StateCode] {
			res.Updated++
		} else {
			res.Created++
			byState[rec.StateCode] = true
		}

		if clientID != "" {
			m.enqueue(jobs.TaskSyncProfileStates, jobs.SyncProfileStatesPayload{
				ClientID:  clientID,
				StateCode: rec.StateCode,
				NexusType: rec.NexusType,
			})
		}
	}

	if res.Created+res.Updated > 0 {
		if _, err := m.engine.Recalculate(ctx, analysisID); err != nil {
			return res, fmt.Errorf("recalculate after import: %w", err)
		}
		m.store.Invalidate(RecordsKey(analysisID))
		m.store.Invalidate(StateResultsKey(analysisID))

		if clientID != "" {
			m.enqueue(jobs.TaskActivityNote, jobs.ActivityNotePayload{
				ClientID:   clientID,
				AnalysisID: analysisID,
				Message: fmt.Sprintf("Imported physical nexus config: %d created, %d updated",
					res.Created, res.Updated),
			})
		}
	}
	return res, nil
}
