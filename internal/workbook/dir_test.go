package workbook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/alexjbarnes/sheet-tree/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeSheet(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+sheetExt), []byte(content), 0o644))
}

func readManifest(t *testing.T, dir string) manifest {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	require.NoError(t, err)

	var m manifest
	require.NoError(t, yaml.Unmarshal(data, &m))

	return m
}

func openDir(t *testing.T, dir string, opts ...DirOption) *DirWorkbook {
	t.Helper()

	d, err := OpenDir(dir, testLogger(), opts...)
	require.NoError(t, err)

	return d
}

// --- OpenDir ---

func TestOpenDir_EmptyCreatesSheet1(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "book")
	d := openDir(t, dir)

	assert.Equal(t, []string{"Sheet1"}, names(t, d))
	assert.FileExists(t, filepath.Join(dir, "Sheet1.csv"))

	m := readManifest(t, dir)
	assert.Equal(t, "Sheet1", m.Active)
	require.Len(t, m.Sheets, 1)
	assert.NotEmpty(t, m.Sheets[0].ID)
}

func TestOpenDir_RejectsEmptyPath(t *testing.T) {
	_, err := OpenDir("", testLogger())
	assert.Error(t, err)
}

func TestOpenDir_ScansFiles(t *testing.T) {
	dir := t.TempDir()
	writeSheet(t, dir, "Budget", "a,b\n")
	writeSheet(t, dir, "Archive", "")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.csv"), nil, 0o644))

	d := openDir(t, dir)
	assert.Equal(t, []string{"Archive", "Budget"}, names(t, d))
}

func TestOpenDir_ManifestOrderWinsAndStaleEntriesDrop(t *testing.T) {
	dir := t.TempDir()
	writeSheet(t, dir, "A", "")
	writeSheet(t, dir, "B", "")
	writeSheet(t, dir, "C", "")

	m := manifest{
		Active: "B",
		Sheets: []Sheet{
			{ID: "id-c", Name: "C", Visibility: Visible},
			{ID: "id-gone", Name: "Gone", Visibility: Visible},
			{ID: "id-b", Name: "B", Visibility: Hidden},
			{ID: "id-a", Name: "A", Visibility: Visible},
		},
	}
	data, err := yaml.Marshal(&m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifestName), data, 0o644))

	d := openDir(t, dir)

	sheets, err := d.ListSheets(context.Background())
	require.NoError(t, err)
	require.Len(t, sheets, 3)
	assert.Equal(t, []string{"C", "B", "A"}, Names(sheets))
	assert.Equal(t, "id-b", sheets[1].ID)
	assert.Equal(t, Hidden, sheets[1].Visibility)

	active, err := d.ActiveSheet(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "C", active.Name, "a hidden active sheet is replaced by the first visible one")
}

func TestOpenDir_UnreadableManifestIgnored(t *testing.T) {
	dir := t.TempDir()
	writeSheet(t, dir, "A", "")
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifestName), []byte("{not yaml"), 0o644))

	d := openDir(t, dir)
	assert.Equal(t, []string{"A"}, names(t, d))
}

// --- operations ---

func TestDir_CreateRenameDelete(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	d := openDir(t, dir)

	_, err := d.CreateSheet(ctx, "Budget")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "Budget.csv"))

	_, err = d.CreateSheet(ctx, "budget")
	assert.ErrorIs(t, err, apperrors.ErrSheetExists)

	require.NoError(t, d.RenameSheet(ctx, "Budget", "Plan"))
	assert.NoFileExists(t, filepath.Join(dir, "Budget.csv"))
	assert.FileExists(t, filepath.Join(dir, "Plan.csv"))

	require.NoError(t, d.DeleteSheet(ctx, "Plan"))
	assert.NoFileExists(t, filepath.Join(dir, "Plan.csv"))
	assert.Equal(t, []string{"Sheet1"}, names(t, d))

	assert.ErrorIs(t, d.DeleteSheet(ctx, "Sheet1"), apperrors.ErrLastVisibleSheet)
}

func TestDir_CreateSheet_RejectsDotNames(t *testing.T) {
	d := openDir(t, t.TempDir())

	_, err := d.CreateSheet(context.Background(), ".secret")
	assert.ErrorIs(t, err, apperrors.ErrInvalidSheetName)
}

func TestDir_DuplicateCopiesContent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeSheet(t, dir, "Report", "x,y\n1,2\n")
	d := openDir(t, dir)

	got, err := d.DuplicateSheet(ctx, "Report", "Report Copy", PositionEnd)
	require.NoError(t, err)
	assert.Equal(t, "Report Copy", got)

	content, err := os.ReadFile(filepath.Join(dir, "Report Copy.csv"))
	require.NoError(t, err)
	assert.Equal(t, "x,y\n1,2\n", string(content))
	assert.Equal(t, []string{"Report", "Report Copy"}, names(t, d))
}

func TestDir_VisibilityAndActivePersist(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeSheet(t, dir, "A", "")
	writeSheet(t, dir, "B", "")
	d := openDir(t, dir)

	require.NoError(t, d.Activate(ctx, "B"))
	require.NoError(t, d.SetVisibility(ctx, "A", Hidden))
	assert.ErrorIs(t, d.SetVisibility(ctx, "B", Hidden), apperrors.ErrLastVisibleSheet)
	assert.Error(t, d.Activate(ctx, "A"))

	reopened := openDir(t, dir)

	sheets, err := reopened.ListSheets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, VisibleNames(sheets))

	active, err := reopened.ActiveSheet(ctx)
	require.NoError(t, err)
	assert.Equal(t, "B", active.Name)
}

func TestDir_RenameKeepsActive(t *testing.T) {
	ctx := context.Background()
	d := openDir(t, t.TempDir())

	require.NoError(t, d.RenameSheet(ctx, "Sheet1", "Main"))

	active, err := d.ActiveSheet(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Main", active.Name)
}

func TestDir_SubscribeWithoutWatch(t *testing.T) {
	d := openDir(t, t.TempDir())

	_, err := d.Subscribe(context.Background(), func(Event) {})
	assert.ErrorIs(t, err, apperrors.ErrEventsUnsupported)
	assert.ErrorIs(t, d.Watch(context.Background()), apperrors.ErrEventsUnsupported)
}

// --- Watch ---

// watchedDir opens a watching workbook and runs Watch until the test
// ends.
func watchedDir(t *testing.T, seed ...string) (*DirWorkbook, *recorder) {
	t.Helper()
	dir := t.TempDir()

	for _, name := range seed {
		writeSheet(t, dir, name, "")
	}

	d := openDir(t, dir, WithWatch(true))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	rec := &recorder{}
	_, err := d.Subscribe(ctx, rec.handle)
	require.NoError(t, err)

	errCh := make(chan error, 1)

	go func() {
		errCh <- d.Watch(ctx)
	}()

	// Give fsnotify a moment to set up the watch.
	time.Sleep(50 * time.Millisecond)

	t.Cleanup(func() {
		cancel()

		err := <-errCh
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("watcher error: %v", err)
		}
	})

	return d, rec
}

func TestWatch_ExternalCreate(t *testing.T) {
	d, rec := watchedDir(t, "A")

	writeSheet(t, d.Dir(), "B", "")

	events := rec.waitEvents(t, 1)
	assert.Equal(t, EventAdded, events[0].Kind)
	assert.Equal(t, "B", events[0].NameAfter)
	assert.Equal(t, []string{"A", "B"}, names(t, d))
}

func TestWatch_ExternalRenamePaired(t *testing.T) {
	d, rec := watchedDir(t, "A", "B", "C")

	sheets, err := d.ListSheets(context.Background())
	require.NoError(t, err)
	idB := sheets[1].ID

	require.NoError(t, os.Rename(filepath.Join(d.Dir(), "B.csv"), filepath.Join(d.Dir(), "X.csv")))

	events := rec.waitEvents(t, 1)
	assert.Equal(t, EventRenamed, events[0].Kind)
	assert.Equal(t, "B", events[0].NameBefore)
	assert.Equal(t, "X", events[0].NameAfter)
	assert.Equal(t, idB, events[0].SheetID)

	assert.Equal(t, []string{"A", "X", "C"}, names(t, d), "rename keeps the sheet's position")
}

func TestWatch_ExternalRemove(t *testing.T) {
	d, rec := watchedDir(t, "A", "B")

	require.NoError(t, os.Remove(filepath.Join(d.Dir(), "B.csv")))

	events := rec.waitEvents(t, 1)
	assert.Equal(t, EventDeleted, events[0].Kind)
	assert.Equal(t, []string{"A"}, names(t, d))
}

func TestWatch_MovedOutReportedAsDeleted(t *testing.T) {
	d, rec := watchedDir(t, "A", "B")
	outside := filepath.Join(t.TempDir(), "B.csv")

	require.NoError(t, os.Rename(filepath.Join(d.Dir(), "B.csv"), outside))

	events := rec.waitEvents(t, 1)
	assert.Equal(t, EventDeleted, events[0].Kind)
	assert.Equal(t, []string{"A"}, names(t, d))
}

func TestWatch_OwnChangesEchoed(t *testing.T) {
	d, rec := watchedDir(t, "A")
	ctx := context.Background()

	_, err := d.CreateSheet(ctx, "B")
	require.NoError(t, err)

	events := rec.waitEvents(t, 1)
	assert.Equal(t, EventAdded, events[0].Kind)
	assert.Equal(t, []string{"A", "B"}, names(t, d), "echo does not add a second entry")
}

func TestWatch_IgnoresNonSheetFiles(t *testing.T) {
	d, rec := watchedDir(t, "A")

	require.NoError(t, os.WriteFile(filepath.Join(d.Dir(), "notes.txt"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(d.Dir(), ".tmp.csv"), nil, 0o644))

	time.Sleep(400 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
}
