// Package health assembles the per-user context snapshot attached to
// assistant requests.
package health

import (
	"context"
	"fmt"

	"CareChat/internal/store"
)

// Snapshot is the aggregated profile and health-record summary sent with
// every completion request. It is recomputed on session activation and
// never persisted.
type Snapshot struct {
	Profile             *store.Profile `json:"profile,omitempty"`
	Allergies           []string       `json:"allergies,omitempty"`
	ActiveMedications   []string       `json:"active_medications,omitempty"`
	InactiveMedications []string       `json:"inactive_medications,omitempty"`
	ChronicDiseases     []string       `json:"chronic_diseases,omitempty"`
	FamilyHistory       []string       `json:"family_history,omitempty"`
}

// Records is the read surface BuildSnapshot needs from the store.
type Records interface {
	GetProfile(ctx context.Context, userID string) (*store.Profile, error)
	ListAllergies(ctx context.Context, userID string) ([]store.Allergy, error)
	ListMedications(ctx context.Context, userID string) ([]store.Medication, error)
	ListChronicDiseases(ctx context.Context, userID string) ([]store.ChronicDisease, error)
	ListFamilyHistory(ctx context.Context, userID string) ([]store.FamilyHistory, error)
}

// Loader adapts a Records store to per-user snapshot loading.
type Loader struct {
	Records Records
}

// LoadContext builds the snapshot for one user.
func (l Loader) LoadContext(ctx context.Context, userID string) (*Snapshot, error) {
	return BuildSnapshot(ctx, l.Records, userID)
}

// BuildSnapshot gathers the user's profile and record summaries.
func BuildSnapshot(ctx context.Context, recs Records, userID string) (*Snapshot, error) {
	snap := &Snapshot{}

	profile, err := recs.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	snap.Profile = profile

	allergies, err := recs.ListAllergies(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, a := range allergies {
		entry := a.Name
		if a.Severity != "" {
			entry = fmt.Sprintf("%s (%s)", a.Name, a.Severity)
		}
		snap.Allergies = append(snap.Allergies, entry)
	}

	medications, err := recs.ListMedications(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, m := range medications {
		entry := m.Name
		if m.Dosage != "" {
			entry = fmt.Sprintf("%s %s", m.Name, m.Dosage)
		}
		if m.Active {
			snap.ActiveMedications = append(snap.ActiveMedications, entry)
		} else {
			snap.InactiveMedications = append(snap.InactiveMedications, entry)
		}
	}

	diseases, err := recs.ListChronicDiseases(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, d := range diseases {
		snap.ChronicDiseases = append(snap.ChronicDiseases, d.Name)
	}

	history, err := recs.ListFamilyHistory(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, h := range history {
		snap.FamilyHistory = append(snap.FamilyHistory, fmt.Sprintf("%s: %s", h.Relation, h.Condition))
	}

	return snap, nil
}
