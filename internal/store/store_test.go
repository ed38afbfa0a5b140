package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventlane/internal/model"
)

var testScope = model.Scope{ServerID: "100", ChannelID: "200"}

func sampleRecord(id string) model.EventRecord {
	return model.EventRecord{
		ID:                     id,
		Title:                  "Spring Race",
		Description:            "Round 1",
		Location:               "Track A",
		StartTime:              time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC),
		ServerID:               testScope.ServerID,
		ChannelID:              testScope.ChannelID,
		InterestedParticipants: []string{},
		LastUpdated:            time.Date(2026, 3, 12, 9, 30, 0, 0, time.UTC),
	}
}

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestRecordLayout(t *testing.T) {
	rec := sampleRecord("evt-1")
	rec.PlatformEventCreated = true
	rec.PlatformEventID = "pe-1"
	rec.ThreadCreated = true
	rec.PlatformThreadID = "th-1"
	rec.InterestedParticipants = []string{"u1", "u2"}
	rec.ArchiveDelayMinutes = 1440

	data, err := Marshal(rec)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "record_layout", data)
}

func TestPutGet(t *testing.T) {
	s := newTestStore(t)
	rec := sampleRecord("evt-1")

	require.NoError(t, s.Put(rec))

	got, err := s.Get("evt-1", testScope)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	_, err = os.Stat(filepath.Join(s.Root(), "100", "200", "evt-1.json"))
	assert.NoError(t, err)
}

func TestPutOverwrites(t *testing.T) {
	s := newTestStore(t)
	rec := sampleRecord("evt-1")
	require.NoError(t, s.Put(rec))

	rec.Title = "Renamed"
	require.NoError(t, s.Put(rec))

	got, err := s.Get("evt-1", testScope)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)

	leftovers, err := filepath.Glob(filepath.Join(s.Root(), "100", "200", ".record-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestPutRejectsInvalid(t *testing.T) {
	s := newTestStore(t)

	err := s.Put(sampleRecord(""))
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "id", verr.Field)

	rec := sampleRecord("evt-1")
	rec.ThreadCreated = true
	require.ErrorAs(t, s.Put(rec), &verr)
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("nope", testScope)
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestLoadAllSkipsCorrupt(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put(sampleRecord("evt-1")))

	other := sampleRecord("evt-2")
	other.ServerID = "101"
	require.NoError(t, s.Put(other))

	bad := filepath.Join(s.Root(), "100", "200", "broken.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o600))

	records, err := s.LoadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)

	ids := []string{records[0].ID, records[1].ID}
	assert.ElementsMatch(t, []string{"evt-1", "evt-2"}, ids)
}

func TestLoadAllEmptyRoot(t *testing.T) {
	s := newTestStore(t)
	records, err := s.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDeleteIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put(sampleRecord("evt-1")))

	require.NoError(t, s.Delete("evt-1", testScope))
	require.NoError(t, s.Delete("evt-1", testScope))

	_, err := s.Get("evt-1", testScope)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestUpdateFields(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put(sampleRecord("evt-1")))

	got, err := s.UpdateFields("evt-1", testScope, model.Delta{
		model.Set(model.FieldArchiveDelayMinutes, 90),
		model.Set("bogus", "x"),
	})
	require.NoError(t, err)
	assert.Equal(t, 90, got.ArchiveDelayMinutes)

	reread, err := s.Get("evt-1", testScope)
	require.NoError(t, err)
	assert.Equal(t, 90, reread.ArchiveDelayMinutes)
	assert.Equal(t, "Spring Race", reread.Title)
}

func TestUpdateFieldsMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UpdateFields("evt-1", testScope, model.Delta{model.Set(model.FieldTitle, "x")})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSegment(t *testing.T) {
	for _, tc := range []struct {
		in, want string
	}{
		{"abc123", "abc123"},
		{"", "_"},
		{"_", "%5F"},
		{"uid@20260314T180000Z", "uid@20260314T180000Z"},
		{"a/b", "a%2Fb"},
		{"..", "%2E%2E"},
	} {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, segment(tc.in))
		})
	}
}
