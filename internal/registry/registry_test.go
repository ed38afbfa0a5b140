package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventlane/internal/model"
	"eventlane/internal/store"
)

var base = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func record(id string, start time.Time) model.EventRecord {
	return model.NewRecord(model.CalendarItem{
		ID:        id,
		Title:     "Title " + id,
		StartTime: start,
	}, model.Scope{ServerID: "s1", ChannelID: "c1"})
}

func newRegistry(t *testing.T) (*Registry, *store.FileStore, *fakeClock) {
	t.Helper()
	fs, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	clk := &fakeClock{t: base}
	return New(fs, WithClock(clk.Now)), fs, clk
}

// failingStore accepts reads but fails every write.
type failingStore struct{}

func (failingStore) Put(model.EventRecord) error {
	return &model.PersistenceError{Op: "write", Path: "x", Err: errors.New("disk full")}
}
func (failingStore) Delete(string, model.Scope) error { return nil }
func (failingStore) LoadAll() ([]model.EventRecord, error) { return nil, nil }

func TestUpsertCreatesAndPersists(t *testing.T) {
	reg, fs, _ := newRegistry(t)

	created, err := reg.Upsert(record("a", base.Add(time.Hour)))
	require.NoError(t, err)
	assert.True(t, created)

	got, err := fs.Get("a", model.Scope{ServerID: "s1", ChannelID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, "Title a", got.Title)
	assert.Equal(t, base, got.LastUpdated)
}

func TestUpsertPreservesPlatformState(t *testing.T) {
	reg, _, clk := newRegistry(t)

	rec := record("a", base.Add(time.Hour))
	rec.PlatformEventCreated = true
	rec.PlatformEventID = "pe-1"
	rec.ThreadCreated = true
	rec.PlatformThreadID = "T"
	rec.InterestedParticipants = []string{"u1"}
	rec.ArchiveDelayMinutes = 1440
	_, err := reg.Upsert(rec)
	require.NoError(t, err)

	clk.t = base.Add(time.Minute)
	fresh := record("a", base.Add(2*time.Hour))
	fresh.Title = "New title"
	created, err := reg.Upsert(fresh)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := reg.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "New title", got.Title)
	assert.Equal(t, base.Add(2*time.Hour), got.StartTime)
	assert.True(t, got.ThreadCreated)
	assert.Equal(t, "T", got.PlatformThreadID)
	assert.Equal(t, "pe-1", got.PlatformEventID)
	assert.Equal(t, []string{"u1"}, got.InterestedParticipants)
	assert.Equal(t, 1440, got.ArchiveDelayMinutes)
	assert.Equal(t, base.Add(time.Minute), got.LastUpdated)
}

func TestUpsertValidation(t *testing.T) {
	reg, _, _ := newRegistry(t)

	_, err := reg.Upsert(record("", base))
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Zero(t, reg.Len())
}

func TestUpsertPersistenceFailureKeepsMemory(t *testing.T) {
	reg := New(failingStore{}, WithClock(func() time.Time { return base }))

	_, err := reg.Upsert(record("a", base))
	var perr *model.PersistenceError
	require.ErrorAs(t, err, &perr)

	got, err := reg.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "Title a", got.Title)
}

func TestLastUpdatedNeverMovesBack(t *testing.T) {
	reg, _, clk := newRegistry(t)
	_, err := reg.Upsert(record("a", base))
	require.NoError(t, err)

	clk.t = base.Add(-time.Hour)
	_, err = reg.ApplyFieldUpdates("a", model.Delta{model.Set(model.FieldTitle, "x")})
	require.NoError(t, err)

	got, _ := reg.Get("a")
	assert.Equal(t, base, got.LastUpdated)
}

func TestApplyFieldUpdatesIgnoresUnknown(t *testing.T) {
	reg, fs, _ := newRegistry(t)
	_, err := reg.Upsert(record("a", base))
	require.NoError(t, err)

	got, err := reg.ApplyFieldUpdates("a", model.Delta{
		model.Set(model.FieldArchiveDelayMinutes, 30),
		model.Set("noSuchField", true),
	})
	require.NoError(t, err)
	assert.Equal(t, 30, got.ArchiveDelayMinutes)

	onDisk, err := fs.Get("a", got.Scope())
	require.NoError(t, err)
	assert.Equal(t, 30, onDisk.ArchiveDelayMinutes)
}

func TestApplyFieldUpdatesRejectsBrokenInvariant(t *testing.T) {
	reg, _, _ := newRegistry(t)
	_, err := reg.Upsert(record("a", base))
	require.NoError(t, err)

	_, err = reg.ApplyFieldUpdates("a", model.Delta{
		model.Set(model.FieldTitle, "changed"),
		model.Set(model.FieldThreadCreated, true),
	})
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)

	got, _ := reg.Get("a")
	assert.Equal(t, "Title a", got.Title)
	assert.False(t, got.ThreadCreated)
}

func TestApplyFieldUpdatesMissing(t *testing.T) {
	reg, _, _ := newRegistry(t)
	_, err := reg.ApplyFieldUpdates("nope", model.Delta{model.Set(model.FieldTitle, "x")})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestApplyFieldUpdatesMovesScope(t *testing.T) {
	reg, fs, _ := newRegistry(t)
	_, err := reg.Upsert(record("a", base))
	require.NoError(t, err)

	_, err = reg.ApplyFieldUpdates("a", model.Delta{model.Set(model.FieldChannelID, "c2")})
	require.NoError(t, err)

	_, err = fs.Get("a", model.Scope{ServerID: "s1", ChannelID: "c1"})
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = fs.Get("a", model.Scope{ServerID: "s1", ChannelID: "c2"})
	assert.NoError(t, err)
}

func TestFindByPlatformIDs(t *testing.T) {
	reg, _, _ := newRegistry(t)
	_, err := reg.Upsert(record("a", base))
	require.NoError(t, err)
	_, err = reg.Upsert(record("b", base.Add(time.Hour)))
	require.NoError(t, err)

	_, err = reg.ApplyFieldUpdates("b", model.Delta{
		model.Set(model.FieldPlatformEventCreated, true),
		model.Set(model.FieldPlatformEventID, "pe-b"),
		model.Set(model.FieldThreadCreated, true),
		model.Set(model.FieldPlatformThreadID, "th-b"),
	})
	require.NoError(t, err)

	got, err := reg.FindByPlatformEventID("pe-b")
	require.NoError(t, err)
	assert.Equal(t, "b", got.ID)

	got, err = reg.FindByPlatformThreadID("th-b")
	require.NoError(t, err)
	assert.Equal(t, "b", got.ID)

	_, err = reg.FindByPlatformEventID("pe-x")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = reg.FindByPlatformThreadID("")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestListAllOrderedByStart(t *testing.T) {
	reg, _, _ := newRegistry(t)
	for _, r := range []model.EventRecord{
		record("late", base.Add(3*time.Hour)),
		record("early", base.Add(time.Hour)),
		record("mid", base.Add(2*time.Hour)),
	} {
		_, err := reg.Upsert(r)
		require.NoError(t, err)
	}

	var ids []string
	for _, r := range reg.ListAll() {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"early", "mid", "late"}, ids)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	reg, _, _ := newRegistry(t)
	rec := record("a", base)
	rec.InterestedParticipants = []string{"u1"}
	_, err := reg.Upsert(rec)
	require.NoError(t, err)

	got, _ := reg.Get("a")
	got.InterestedParticipants[0] = "mutated"
	got.Title = "mutated"

	again, _ := reg.Get("a")
	assert.Equal(t, []string{"u1"}, again.InterestedParticipants)
	assert.Equal(t, "Title a", again.Title)
}

func TestRemove(t *testing.T) {
	reg, fs, _ := newRegistry(t)
	_, err := reg.Upsert(record("a", base))
	require.NoError(t, err)

	require.NoError(t, reg.Remove("a"))
	_, err = reg.Get("a")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = fs.Get("a", model.Scope{ServerID: "s1", ChannelID: "c1"})
	assert.ErrorIs(t, err, model.ErrNotFound)

	assert.ErrorIs(t, reg.Remove("a"), model.ErrNotFound)
}

func TestLoad(t *testing.T) {
	reg, fs, _ := newRegistry(t)
	_, err := reg.Upsert(record("a", base))
	require.NoError(t, err)
	_, err = reg.Upsert(record("b", base))
	require.NoError(t, err)

	reloaded := New(fs)
	n, err := reloaded.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := reloaded.Get("b")
	require.NoError(t, err)
	assert.Equal(t, "Title b", got.Title)
}
