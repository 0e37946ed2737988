package jobs

// Best-effort side effects dispatched after physical-nexus writes. Failures
// are logged by the worker, never surfaced to the user.
const (
	TaskSyncProfileStates = "sync:client_profile_states"
	TaskActivityNote      = "notify:client_activity_note"
)

type SyncProfileStatesPayload struct {
	ClientID  string `json:"client_id"`
	StateCode string `json:"state_code"`
	// NexusType is one of the presence categories, or empty when the
	// state's presence was removed.
	NexusType string `json:"nexus_type,omitempty"`
}

type ActivityNotePayload struct {
	ClientID         string `json:"client_id"`
	AnalysisID       string `json:"analysis_id"`
	Message          string `json:"message"`
	IncludeLiability bool   `json:"include_liability,omitempty"`
}
