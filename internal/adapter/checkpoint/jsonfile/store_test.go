package jsonfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmarlin/clipharvest/internal/domain"
)

func TestStore_LoadNotFound(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Load(t.Context(), "missing-batch")

	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	cp := domain.NewBatchCheckpoint("batch-1", domain.CountTarget(10))
	cp.Record("pexels/1", domain.OutcomeAccepted, 15, nil)
	cp.Record("pexels/2", domain.OutcomeRejected, 0, []string{domain.ReasonCutSceneDetected})
	cp.Cursors["pexels"] = "page:3"

	require.NoError(t, store.Save(t.Context(), cp))

	loaded, err := store.Load(t.Context(), "batch-1")
	require.NoError(t, err)

	assert.Equal(t, 1, loaded.AcceptedCount)
	assert.InDelta(t, 15, loaded.AcceptedSeconds, 1e-9)
	assert.Equal(t, 1, loaded.RejectedCount)
	assert.Equal(t, domain.OutcomeAccepted, loaded.Processed["pexels/1"])
	assert.Equal(t, "page:3", loaded.Cursors["pexels"])
	assert.Equal(t, 1, loaded.RejectionReasons[domain.ReasonCutSceneDetected])
	assert.Equal(t, domain.TargetModeCount, loaded.Target.Mode)
}

func TestStore_SaveOverwritesAtomically(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	cp := domain.NewBatchCheckpoint("batch-1", domain.CountTarget(10))
	require.NoError(t, store.Save(t.Context(), cp))

	cp.Record("dir/1", domain.OutcomeAccepted, 5, nil)
	require.NoError(t, store.Save(t.Context(), cp))

	loaded, err := store.Load(t.Context(), "batch-1")
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.AcceptedCount)

	// No temp file left behind after the rename.
	_, err = os.Stat(filepath.Join(dir, "checkpoints", "batch-1.json.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestStore_LoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	path := filepath.Join(dir, "checkpoints", "batch-1.json")
	require.NoError(t, os.WriteFile(path, []byte("{truncated"), 0600))

	_, err = store.Load(t.Context(), "batch-1")

	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_EmptyMapsInitialized(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	// A checkpoint serialized with empty maps decodes with usable maps.
	path := filepath.Join(dir, "checkpoints", "batch-1.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"BatchID":"batch-1"}`), 0600))

	loaded, err := store.Load(t.Context(), "batch-1")
	require.NoError(t, err)
	assert.NotNil(t, loaded.Processed)
	assert.NotNil(t, loaded.Cursors)
	assert.NotNil(t, loaded.RejectionReasons)
}
