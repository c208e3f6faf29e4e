package persist

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	apperrors "github.com/alexjbarnes/sheet-tree/internal/errors"
	"github.com/alexjbarnes/sheet-tree/internal/state"
	"github.com/alexjbarnes/sheet-tree/internal/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleTree(t *testing.T) *tree.Tree {
	t.Helper()

	tr := tree.New()
	folder, err := tr.Create(tree.RootID, tree.Folder("Budget"))
	require.NoError(t, err)
	_, err = tr.Create(folder, tree.Sheet("Q1"))
	require.NoError(t, err)
	_, err = tr.Create(tree.RootID, tree.Sheet("Summary"))
	require.NoError(t, err)

	return tr
}

// --- Save ---

func TestSave_DeletesExistingThenAdds(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := NewMockSettingsStore(ctrl)
	tr := sampleTree(t)

	data, err := tr.Serialize()
	require.NoError(t, err)

	gomock.InOrder(
		store.EXPECT().Get(gomock.Any(), DefaultKey).Return("old", true, nil),
		store.EXPECT().Delete(gomock.Any(), DefaultKey).Return(nil),
		store.EXPECT().Add(gomock.Any(), DefaultKey, string(data)).Return(nil),
	)

	res, err := NewSaver(store, "", 0, testLogger()).Save(context.Background(), tr)
	require.NoError(t, err)
	assert.Equal(t, len(data), res.Size)
	assert.False(t, res.Oversize)
}

func TestSave_NoExistingValueSkipsDelete(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := NewMockSettingsStore(ctrl)

	store.EXPECT().Get(gomock.Any(), "custom").Return("", false, nil)
	store.EXPECT().Add(gomock.Any(), "custom", gomock.Any()).Return(nil)

	_, err := NewSaver(store, "custom", 0, testLogger()).Save(context.Background(), sampleTree(t))
	require.NoError(t, err)
}

func TestSave_StoreErrorsArePersistenceFailures(t *testing.T) {
	boom := fmt.Errorf("disk full")

	tests := []struct {
		name  string
		setup func(store *MockSettingsStore)
	}{
		{"get fails", func(store *MockSettingsStore) {
			store.EXPECT().Get(gomock.Any(), gomock.Any()).Return("", false, boom)
		}},
		{"delete fails", func(store *MockSettingsStore) {
			store.EXPECT().Get(gomock.Any(), gomock.Any()).Return("x", true, nil)
			store.EXPECT().Delete(gomock.Any(), gomock.Any()).Return(boom)
		}},
		{"add fails", func(store *MockSettingsStore) {
			store.EXPECT().Get(gomock.Any(), gomock.Any()).Return("", false, nil)
			store.EXPECT().Add(gomock.Any(), gomock.Any(), gomock.Any()).Return(boom)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			store := NewMockSettingsStore(ctrl)
			tt.setup(store)

			_, err := NewSaver(store, "", 0, testLogger()).Save(context.Background(), sampleTree(t))
			assert.ErrorIs(t, err, apperrors.ErrPersistence)
			assert.ErrorIs(t, err, boom)
		})
	}
}

func TestSave_OversizeIsWarningNotFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := NewMockSettingsStore(ctrl)

	store.EXPECT().Get(gomock.Any(), gomock.Any()).Return("", false, nil)
	store.EXPECT().Add(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	var logs strings.Builder
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	res, err := NewSaver(store, "", 10, logger).Save(context.Background(), sampleTree(t))
	require.NoError(t, err)
	assert.True(t, res.Oversize)
	assert.Contains(t, logs.String(), "storage limit")
}

// --- Load ---

func TestLoad_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := NewMockSettingsStore(ctrl)
	store.EXPECT().Get(gomock.Any(), DefaultKey).Return("", false, nil)

	tr, found, err := NewSaver(store, "", 0, testLogger()).Load(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, tr)
}

func TestLoad_Corrupt(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := NewMockSettingsStore(ctrl)
	store.EXPECT().Get(gomock.Any(), DefaultKey).Return("{not json", true, nil)

	_, found, err := NewSaver(store, "", 0, testLogger()).Load(context.Background())
	assert.Error(t, err)
	assert.True(t, found)
}

func TestSaveLoad_BoltStore(t *testing.T) {
	ctx := context.Background()

	st, err := state.LoadAt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	saver := NewSaver(st.Settings("book"), "", 0, testLogger())
	original := sampleTree(t)

	_, err = saver.Save(ctx, original)
	require.NoError(t, err)

	// A second save replaces the first.
	_, err = original.Create(tree.RootID, tree.Sheet("Notes"))
	require.NoError(t, err)
	_, err = saver.Save(ctx, original)
	require.NoError(t, err)

	loaded, found, err := saver.Load(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, original.Equal(loaded))
}
