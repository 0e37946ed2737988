package physnexus

import (
	"context"
	"fmt"
	"sort"

	"github.com/clearnexus/nexdash/nexus"
)

// ProfileEngine is the slice of the engine client the worker-side sync
// needs.
type ProfileEngine interface {
	GetClientProfile(ctx context.Context, clientID string) (*nexus.ClientProfile, error)
	SetClientProfileStates(ctx context.Context, clientID string, remote, inventory, office []string) error
	AppendActivityNote(ctx context.Context, clientID, message string, liability *nexus.LiabilityTotals) error
	StateResults(ctx context.Context, analysisID string) ([]nexus.StateResult, error)
}

// SyncProfileStates moves stateCode into the profile category named by
// nexusType, removing it from the other categories first so a state never
// sits in two lists. An empty nexusType clears the state everywhere.
func SyncProfileStates(ctx context.Context, engine ProfileEngine, clientID, stateCode, nexusType string) error {
	p, err := engine.GetClientProfile(ctx, clientID)
	if err != nil {
		return fmt.Errorf("load client profile: %w", err)
	}

	remote := without(p.RemoteEmployeeStates, stateCode)
	inventory := without(p.Inventory3PLStates, stateCode)
	office := without(p.OfficeStates, stateCode)

	switch nexusType {
	case nexus.PresenceRemoteEmployee:
		remote = append(remote, stateCode)
	case nexus.PresenceInventory3PL:
		inventory = append(inventory, stateCode)
	case nexus.PresenceOffice:
		office = append(office, stateCode)
	case "":
		// presence removed
	default:
		return fmt.Errorf("unknown nexus type %q", nexusType)
	}

	sort.Strings(remote)
	sort.Strings(inventory)
	sort.Strings(office)

	if err := engine.SetClientProfileStates(ctx, clientID, remote, inventory, office); err != nil {
		return fmt.Errorf("update client profile states: %w", err)
	}
	return nil
}

// AppendNote writes an activity-timeline note, optionally with a snapshot of
// the analysis's current liability totals.
func AppendNote(ctx context.Context, engine ProfileEngine, clientID, analysisID, message string, includeLiability bool) error {
	var totals *nexus.LiabilityTotals
	if includeLiability && analysisID != "" {
		states, err := engine.StateResults(ctx, analysisID)
		if err != nil {
			// The note is still worth writing without the snapshot.
			totals = nil
		} else {
			t := LiabilitySnapshot(states)
			totals = &t
		}
	}
	if err := engine.AppendActivityNote(ctx, clientID, message, totals); err != nil {
		return fmt.Errorf("append activity note: %w", err)
	}
	return nil
}

// LiabilitySnapshot sums per-state liability figures into one snapshot.
func LiabilitySnapshot(states []nexus.StateResult) nexus.LiabilityTotals {
	var t nexus.LiabilityTotals
	for _, s := range states {
		t.BaseTax += s.BaseTax
		t.Interest += s.Interest
		t.Penalties += s.Penalties
		t.Total += s.EstimatedLiability
	}
	return t
}

func without(states []string, code string) []string {
	out := make([]string, 0, len(states))
	for _, s := range states {
		if s != code {
			out = append(out, s)
		}
	}
	return out
}
