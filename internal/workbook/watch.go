package workbook

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	apperrors "github.com/alexjbarnes/sheet-tree/internal/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

const (
	// watchTickInterval is how often unpaired renames are flushed.
	watchTickInterval = 100 * time.Millisecond

	// renamePairWindow is how long a renamed-away file waits for the
	// matching create before it is reported as deleted.
	renamePairWindow = 250 * time.Millisecond
)

type pendingRename struct {
	name string
	at   time.Time
}

// Watch turns filesystem changes in the workbook directory into host
// notifications. It blocks until ctx is cancelled. fsnotify reports a
// rename as Rename on the old path followed by Create on the new one;
// the two are paired into a single renamed event.
func (d *DirWorkbook) Watch(ctx context.Context) error {
	if !d.watch {
		return apperrors.ErrEventsUnsupported
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(d.dir); err != nil {
		return fmt.Errorf("watching workbook dir: %w", err)
	}

	d.logger.Info("workbook watcher started", slog.String("dir", d.dir))

	var renames []pendingRename

	ticker := time.NewTicker(watchTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}

			name, ok := d.sheetNameOf(event.Name)
			if !ok {
				continue
			}

			switch {
			case event.Has(fsnotify.Create):
				if len(renames) > 0 {
					old := renames[0]
					renames = renames[1:]
					d.publish(d.observeRenamed(old.name, name))

					continue
				}

				d.publish(d.observeCreated(name))

			case event.Has(fsnotify.Rename):
				renames = append(renames, pendingRename{name: name, at: time.Now()})

			case event.Has(fsnotify.Remove):
				d.publish(d.observeRemoved(name))
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}

			d.logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			now := time.Now()
			for len(renames) > 0 && now.Sub(renames[0].at) >= renamePairWindow {
				d.publish(d.observeRemoved(renames[0].name))
				renames = renames[1:]
			}
		}
	}
}

// sheetNameOf maps an event path to a sheet name. Only CSV files directly
// inside the workbook directory are sheets.
func (d *DirWorkbook) sheetNameOf(path string) (string, bool) {
	if filepath.Dir(path) != d.dir {
		return "", false
	}

	name, ok := sheetNameFromFile(filepath.Base(path))
	if !ok || validateDirName(name) != nil {
		return "", false
	}

	return name, true
}

func (d *DirWorkbook) publish(ev Event, err error) {
	if err != nil {
		d.logger.Warn("updating workbook manifest",
			slog.String("event", string(ev.Kind)),
			slog.String("error", err.Error()),
		)
	}

	d.events.publish(ev)
}

// observeCreated records a sheet file that appeared. Files created
// through CreateSheet or DuplicateSheet are already in the manifest.
func (d *DirWorkbook) observeCreated(name string) (Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if i := d.indexLocked(name); i >= 0 {
		return Event{Kind: EventAdded, SheetID: d.m.Sheets[i].ID, NameAfter: d.m.Sheets[i].Name}, nil
	}

	s := Sheet{ID: uuid.NewString(), Name: name, Visibility: Visible}
	d.m.Sheets = append(d.m.Sheets, s)

	return Event{Kind: EventAdded, SheetID: s.ID, NameAfter: name}, d.saveManifestLocked()
}

// observeRenamed records a sheet file moved from oldName to newName,
// keeping the sheet's id, position and visibility.
func (d *DirWorkbook) observeRenamed(oldName, newName string) (Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ev := Event{Kind: EventRenamed, NameBefore: oldName, NameAfter: newName}

	if i := d.indexLocked(newName); i >= 0 {
		ev.SheetID = d.m.Sheets[i].ID
		if j := d.indexLocked(oldName); j >= 0 && j != i && !d.fileExists(oldName) {
			d.m.Sheets = slices.Delete(d.m.Sheets, j, j+1)
			return ev, d.saveManifestLocked()
		}

		return ev, nil
	}

	if i := d.indexLocked(oldName); i >= 0 && !d.fileExists(oldName) {
		d.m.Sheets[i].Name = newName
		ev.SheetID = d.m.Sheets[i].ID

		if d.m.Active == oldName {
			d.m.Active = newName
		}

		return ev, d.saveManifestLocked()
	}

	s := Sheet{ID: uuid.NewString(), Name: newName, Visibility: Visible}
	d.m.Sheets = append(d.m.Sheets, s)
	ev.SheetID = s.ID

	return ev, d.saveManifestLocked()
}

// observeRemoved drops a sheet whose file is gone.
func (d *DirWorkbook) observeRemoved(name string) (Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ev := Event{Kind: EventDeleted}

	i := d.indexLocked(name)
	if i < 0 || d.fileExists(d.m.Sheets[i].Name) {
		return ev, nil
	}

	s := d.m.Sheets[i]
	ev.SheetID = s.ID
	d.m.Sheets = slices.Delete(d.m.Sheets, i, i+1)

	if d.m.Active == s.Name {
		d.moveActiveLocked(s.Name)
	}

	return ev, d.saveManifestLocked()
}

func (d *DirWorkbook) fileExists(name string) bool {
	_, err := os.Lstat(d.sheetPath(name))
	return err == nil
}
