// Package registrations manages the set of states a business is registered
// to collect tax in. The set lives on the client record when the analysis is
// linked to a client, otherwise on the analysis itself; both paths resolve
// to one cache key so the two never diverge.
package registrations

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/clearnexus/nexdash/nexus"
	"github.com/clearnexus/nexdash/querycache"
)

// Engine is the slice of the engine client this package needs.
type Engine interface {
	GetAnalysis(ctx context.Context, analysisID string) (*nexus.Analysis, error)
	GetClientProfile(ctx context.Context, clientID string) (*nexus.ClientProfile, error)
	SetAnalysisRegistrations(ctx context.Context, analysisID string, states []string) error
	SetClientRegistrations(ctx context.Context, clientID string, states []string) error
}

// Target names where the registered-state set is stored.
type Target struct {
	clientID   string
	analysisID string
}

// ByClient targets the client record.
func ByClient(clientID string) Target { return Target{clientID: clientID} }

// ByAnalysis targets the analysis record.
func ByAnalysis(analysisID string) Target { return Target{analysisID: analysisID} }

// ForAnalysis resolves the storage target once: the client record when a
// client link exists, the analysis otherwise.
func ForAnalysis(a *nexus.Analysis) Target {
	if a.ClientID != "" {
		return ByClient(a.ClientID)
	}
	return ByAnalysis(a.ID)
}

// Key is the single cache key for this target's registered-state set.
func (t Target) Key() string {
	if t.clientID != "" {
		return querycache.Key("registered-states", "client", t.clientID)
	}
	return querycache.Key("registered-states", "analysis", t.analysisID)
}

func (t Target) String() string {
	if t.clientID != "" {
		return "client " + t.clientID
	}
	return "analysis " + t.analysisID
}

// Service reads and mutates registered-state sets through the query cache.
type Service struct {
	engine Engine
	store  *querycache.Store
	log    zerolog.Logger
}

func NewService(engine Engine, store *querycache.Store, log zerolog.Logger) *Service {
	return &Service{engine: engine, store: store, log: log}
}

// Registered returns the registered-state set for t, sorted. Cached values
// are served until invalidated.
func (s *Service) Registered(ctx context.Context, t Target) ([]string, error) {
	return querycache.Fetch(ctx, s.store, t.Key(), 0, func(ctx context.Context) ([]string, error) {
		var states []string
		if t.clientID != "" {
			p, err := s.engine.GetClientProfile(ctx, t.clientID)
			if err != nil {
				return nil, fmt.Errorf("load client registrations: %w", err)
			}
			states = p.RegisteredStates
		} else {
			a, err := s.engine.GetAnalysis(ctx, t.analysisID)
			if err != nil {
				return nil, fmt.Errorf("load analysis registrations: %w", err)
			}
			states = a.RegisteredStates
		}
		return normalize(states), nil
	})
}

// Toggle flips membership of stateCode in t's set. The cached set reflects
// the toggle before the network call resolves; a failed call restores the
// snapshot. onUpdate runs only after a confirmed write. The returned slice
// is the set now visible in the cache.
func (s *Service) Toggle(ctx context.Context, t Target, stateCode string, onUpdate func()) ([]string, error) {
	// Prime the cache so the optimistic update has a real previous value.
	if _, err := s.Registered(ctx, t); err != nil {
		return nil, err
	}

	m := querycache.Mutation[[]string]{
		Store:      s.store,
		Key:        t.Key(),
		Optimistic: func(prev []string) []string { return toggled(prev, stateCode) },
		Send: func(ctx context.Context) error {
			v, _ := s.store.Get(t.Key())
			next, _ := v.([]string)
			return s.send(ctx, t, next)
		},
		OnSuccess: onUpdate,
		OnError: func(err error) {
			s.log.Error().Err(err).Str("state", stateCode).Stringer("target", t).
				Msg("toggle registration failed, rolled back")
		},
	}
	err := m.Run(ctx)

	v, _ := s.store.Get(t.Key())
	set, _ := v.([]string)
	return set, err
}

// SetAll replaces t's entire set in one request, with the same optimistic
// contract as Toggle.
func (s *Service) SetAll(ctx context.Context, t Target, states []string, onUpdate func()) ([]string, error) {
	next := normalize(states)

	m := querycache.Mutation[[]string]{
		Store:      s.store,
		Key:        t.Key(),
		Optimistic: func([]string) []string { return next },
		Send: func(ctx context.Context) error {
			return s.send(ctx, t, next)
		},
		OnSuccess: onUpdate,
		OnError: func(err error) {
			s.log.Error().Err(err).Int("count", len(next)).Stringer("target", t).
				Msg("set registrations failed, rolled back")
		},
	}
	err := m.Run(ctx)

	v, _ := s.store.Get(t.Key())
	set, _ := v.([]string)
	return set, err
}

func (s *Service) send(ctx context.Context, t Target, states []string) error {
	if t.clientID != "" {
		return s.engine.SetClientRegistrations(ctx, t.clientID, states)
	}
	return s.engine.SetAnalysisRegistrations(ctx, t.analysisID, states)
}

// toggled returns prev with stateCode added if absent or removed if present,
// sorted for deterministic display.
func toggled(prev []string, stateCode string) []string {
	code := strings.ToUpper(strings.TrimSpace(stateCode))
	next := make([]string, 0, len(prev)+1)
	found := false
	for _, s := range prev {
		if s == code {
			found = true
			continue
		}
		next = append(next, s)
	}
	if !found {
		next = append(next, code)
	}
	sort.Strings(next)
	return next
}

// normalize uppercases, dedupes and sorts a state-code set.
func normalize(states []string) []string {
	seen := make(map[string]bool, len(states))
	out := make([]string, 0, len(states))
	for _, s := range states {
		code := strings.ToUpper(strings.TrimSpace(s))
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}
