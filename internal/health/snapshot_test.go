package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CareChat/internal/store"
)

type fakeRecords struct {
	profile     *store.Profile
	allergies   []store.Allergy
	medications []store.Medication
	diseases    []store.ChronicDisease
	history     []store.FamilyHistory

	profileErr error
	allergyErr error
}

func (f *fakeRecords) GetProfile(ctx context.Context, userID string) (*store.Profile, error) {
	return f.profile, f.profileErr
}

func (f *fakeRecords) ListAllergies(ctx context.Context, userID string) ([]store.Allergy, error) {
	return f.allergies, f.allergyErr
}

func (f *fakeRecords) ListMedications(ctx context.Context, userID string) ([]store.Medication, error) {
	return f.medications, nil
}

func (f *fakeRecords) ListChronicDiseases(ctx context.Context, userID string) ([]store.ChronicDisease, error) {
	return f.diseases, nil
}

func (f *fakeRecords) ListFamilyHistory(ctx context.Context, userID string) ([]store.FamilyHistory, error) {
	return f.history, nil
}

func TestBuildSnapshotFormatsEntries(t *testing.T) {
	recs := &fakeRecords{
		profile: &store.Profile{UserID: "u1", FullName: "Sara", BirthYear: 1990},
		allergies: []store.Allergy{
			{Name: "بنسلين", Severity: "severe"},
			{Name: "Dust"},
		},
		medications: []store.Medication{
			{Name: "Metformin", Dosage: "500mg", Active: true},
			{Name: "Ibuprofen", Active: false},
		},
		diseases: []store.ChronicDisease{{Name: "Type 2 diabetes"}},
		history:  []store.FamilyHistory{{Relation: "father", Condition: "hypertension"}},
	}

	snap, err := BuildSnapshot(context.Background(), recs, "u1")
	require.NoError(t, err)

	require.NotNil(t, snap.Profile)
	assert.Equal(t, "Sara", snap.Profile.FullName)
	assert.Equal(t, []string{"بنسلين (severe)", "Dust"}, snap.Allergies)
	assert.Equal(t, []string{"Metformin 500mg"}, snap.ActiveMedications)
	assert.Equal(t, []string{"Ibuprofen"}, snap.InactiveMedications)
	assert.Equal(t, []string{"Type 2 diabetes"}, snap.ChronicDiseases)
	assert.Equal(t, []string{"father: hypertension"}, snap.FamilyHistory)
}

func TestBuildSnapshotEmptyRecords(t *testing.T) {
	snap, err := BuildSnapshot(context.Background(), &fakeRecords{}, "u1")
	require.NoError(t, err)

	assert.Nil(t, snap.Profile)
	assert.Empty(t, snap.Allergies)
	assert.Empty(t, snap.ActiveMedications)
	assert.Empty(t, snap.InactiveMedications)
	assert.Empty(t, snap.ChronicDiseases)
	assert.Empty(t, snap.FamilyHistory)
}

func TestBuildSnapshotPropagatesErrors(t *testing.T) {
	boom := errors.New("db down")

	_, err := BuildSnapshot(context.Background(), &fakeRecords{profileErr: boom}, "u1")
	require.ErrorIs(t, err, boom)

	_, err = BuildSnapshot(context.Background(), &fakeRecords{allergyErr: boom}, "u1")
	require.ErrorIs(t, err, boom)
}

func TestLoaderDelegates(t *testing.T) {
	recs := &fakeRecords{allergies: []store.Allergy{{Name: "Latex"}}}

	snap, err := Loader{Records: recs}.LoadContext(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Latex"}, snap.Allergies)
}
