package workbook

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	apperrors "github.com/alexjbarnes/sheet-tree/internal/errors"
	"github.com/alexjbarnes/sheet-tree/internal/naming"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	// manifestName holds sheet order, ids, visibility and the active
	// sheet. It is a dotfile so the watcher ignores it.
	manifestName = ".workbook.yaml"

	// sheetExt is the extension of sheet files.
	sheetExt = ".csv"

	dirPerm  = fs.FileMode(0o755)
	filePerm = fs.FileMode(0o644)
)

type manifest struct {
	Active string  `yaml:"active"`
	Sheets []Sheet `yaml:"sheets"`
}

// DirOption configures a DirWorkbook.
type DirOption func(*DirWorkbook)

// WithWatch enables change notifications. Without it Subscribe returns
// ErrEventsUnsupported and Watch returns immediately.
func WithWatch(enabled bool) DirOption {
	return func(d *DirWorkbook) { d.watch = enabled }
}

// DirWorkbook is a workbook stored as a directory: every sheet is a
// "<name>.csv" file and a manifest keeps everything a file listing
// cannot express. Files added or removed behind its back are picked up
// on open and, when watching, while running.
type DirWorkbook struct {
	dir    string
	logger *slog.Logger
	watch  bool
	events *fanout

	mu sync.Mutex
	m  manifest
}

var _ Service = (*DirWorkbook)(nil)

// OpenDir opens the workbook in dir, creating the directory and a first
// sheet when it is empty.
func OpenDir(dir string, logger *slog.Logger, opts ...DirOption) (*DirWorkbook, error) {
	if dir == "" {
		return nil, fmt.Errorf("workbook directory must not be empty")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving workbook directory: %w", err)
	}

	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return nil, fmt.Errorf("creating workbook directory: %w", err)
	}

	d := &DirWorkbook{
		dir:    abs,
		logger: logger,
		events: newFanout(),
	}

	for _, o := range opts {
		o(d)
	}

	if err := d.load(); err != nil {
		return nil, err
	}

	return d, nil
}

// Dir returns the absolute workbook directory.
func (d *DirWorkbook) Dir() string {
	return d.dir
}

// load reads the manifest and merges it with the sheet files on disk.
// Manifest entries without a file are dropped; files without an entry
// are appended in directory order.
func (d *DirWorkbook) load() error {
	var m manifest

	data, err := os.ReadFile(filepath.Join(d.dir, manifestName))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &m); err != nil {
			d.logger.Warn("ignoring unreadable workbook manifest", slog.String("error", err.Error()))
			m = manifest{}
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return fmt.Errorf("reading workbook manifest: %w", err)
	}

	onDisk, err := d.scan()
	if err != nil {
		return err
	}

	present := make(map[string]bool, len(onDisk))
	for _, name := range onDisk {
		present[name] = true
	}

	seen := naming.NewSet(nil)
	sheets := make([]Sheet, 0, len(onDisk))

	for _, s := range m.Sheets {
		if !present[s.Name] || seen.Has(s.Name) {
			continue
		}

		if s.ID == "" {
			s.ID = uuid.NewString()
		}

		if !s.Visibility.Valid() {
			s.Visibility = Visible
		}

		seen.Add(s.Name)
		sheets = append(sheets, s)
	}

	for _, name := range onDisk {
		if seen.Has(name) {
			continue
		}

		seen.Add(name)
		sheets = append(sheets, Sheet{ID: uuid.NewString(), Name: name, Visibility: Visible})
	}

	d.m = manifest{Active: m.Active, Sheets: sheets}

	if len(d.m.Sheets) == 0 {
		if err := d.writeSheetFile("Sheet1", nil); err != nil {
			return err
		}

		d.m.Sheets = append(d.m.Sheets, Sheet{ID: uuid.NewString(), Name: "Sheet1", Visibility: Visible})
	}

	if d.visibleCountLocked() == 0 {
		d.m.Sheets[0].Visibility = Visible
	}

	if i := d.indexLocked(d.m.Active); i < 0 || !d.m.Sheets[i].Visible() {
		d.m.Active = ""
		d.moveActiveLocked("")
	}

	return d.saveManifestLocked()
}

// scan lists sheet names from the files in the workbook directory.
func (d *DirWorkbook) scan() ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("listing workbook directory: %w", err)
	}

	var names []string

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		name, ok := sheetNameFromFile(e.Name())
		if !ok {
			continue
		}

		if err := ValidateName(name); err != nil {
			d.logger.Warn("skipping file with invalid sheet name",
				slog.String("file", e.Name()),
				slog.String("error", err.Error()),
			)

			continue
		}

		names = append(names, name)
	}

	return names, nil
}

// sheetNameFromFile maps a base file name to a sheet name. Dotfiles and
// non-CSV files are not sheets.
func sheetNameFromFile(base string) (string, bool) {
	if strings.HasPrefix(base, ".") {
		return "", false
	}

	name, ok := strings.CutSuffix(base, sheetExt)
	if !ok || name == "" {
		return "", false
	}

	return name, true
}

func (d *DirWorkbook) sheetPath(name string) string {
	return filepath.Join(d.dir, name+sheetExt)
}

func validateDirName(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q begins with a dot", apperrors.ErrInvalidSheetName, name)
	}

	return nil
}

func (d *DirWorkbook) writeSheetFile(name string, content []byte) error {
	f, err := os.OpenFile(d.sheetPath(name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %q", apperrors.ErrSheetExists, name)
		}

		return fmt.Errorf("%w: creating sheet file: %w", apperrors.ErrHostUnavailable, err)
	}

	if _, err := f.Write(content); err != nil {
		f.Close()
		return fmt.Errorf("%w: writing sheet file: %w", apperrors.ErrHostUnavailable, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: closing sheet file: %w", apperrors.ErrHostUnavailable, err)
	}

	return nil
}

// saveManifestLocked writes the manifest through a temp file and rename
// so readers never see a partial file.
func (d *DirWorkbook) saveManifestLocked() error {
	data, err := yaml.Marshal(&d.m)
	if err != nil {
		return fmt.Errorf("encoding workbook manifest: %w", err)
	}

	tmp, err := os.CreateTemp(d.dir, ".workbook-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: creating manifest temp file: %w", apperrors.ErrHostUnavailable, err)
	}

	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)

		return fmt.Errorf("%w: writing manifest: %w", apperrors.ErrHostUnavailable, err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: closing manifest: %w", apperrors.ErrHostUnavailable, err)
	}

	if err := os.Rename(tmpPath, filepath.Join(d.dir, manifestName)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: replacing manifest: %w", apperrors.ErrHostUnavailable, err)
	}

	return nil
}

func (d *DirWorkbook) indexLocked(name string) int {
	if name == "" {
		return -1
	}

	return slices.IndexFunc(d.m.Sheets, func(s Sheet) bool { return naming.Equal(s.Name, name) })
}

func (d *DirWorkbook) lookupLocked(name string) (int, error) {
	i := d.indexLocked(name)
	if i < 0 {
		return -1, fmt.Errorf("%w: %q", apperrors.ErrSheetNotFound, name)
	}

	return i, nil
}

func (d *DirWorkbook) visibleCountLocked() int {
	n := 0
	for _, s := range d.m.Sheets {
		if s.Visible() {
			n++
		}
	}

	return n
}

func (d *DirWorkbook) moveActiveLocked(skip string) {
	for _, s := range d.m.Sheets {
		if !naming.Equal(s.Name, skip) && s.Visible() {
			d.m.Active = s.Name
			return
		}
	}
}

func (d *DirWorkbook) checkNewNameLocked(name string, self int) error {
	if err := validateDirName(name); err != nil {
		return err
	}

	if i := d.indexLocked(name); i >= 0 && i != self {
		return fmt.Errorf("%w: %q", apperrors.ErrSheetExists, name)
	}

	return nil
}

// ListSheets returns all sheets in manifest order.
func (d *DirWorkbook) ListSheets(_ context.Context) ([]Sheet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Sheet, len(d.m.Sheets))
	for i, s := range d.m.Sheets {
		out[i] = s
		out[i].Position = i
	}

	return out, nil
}

// CreateSheet creates an empty sheet file at the end of the workbook.
func (d *DirWorkbook) CreateSheet(_ context.Context, name string) (Sheet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkNewNameLocked(name, -1); err != nil {
		return Sheet{}, err
	}

	if err := d.writeSheetFile(name, nil); err != nil {
		return Sheet{}, err
	}

	s := Sheet{ID: uuid.NewString(), Name: name, Visibility: Visible}
	d.m.Sheets = append(d.m.Sheets, s)
	s.Position = len(d.m.Sheets) - 1

	return s, d.saveManifestLocked()
}

// RenameSheet renames the sheet file and its manifest entry.
func (d *DirWorkbook) RenameSheet(_ context.Context, name, newName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	i, err := d.lookupLocked(name)
	if err != nil {
		return err
	}

	if err := d.checkNewNameLocked(newName, i); err != nil {
		return err
	}

	old := d.m.Sheets[i].Name
	if err := os.Rename(d.sheetPath(old), d.sheetPath(newName)); err != nil {
		return fmt.Errorf("%w: renaming sheet file: %w", apperrors.ErrHostUnavailable, err)
	}

	d.m.Sheets[i].Name = newName

	if naming.Equal(d.m.Active, old) {
		d.m.Active = newName
	}

	return d.saveManifestLocked()
}

// DeleteSheet removes the sheet file. The last visible sheet cannot be
// deleted.
func (d *DirWorkbook) DeleteSheet(_ context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	i, err := d.lookupLocked(name)
	if err != nil {
		return err
	}

	s := d.m.Sheets[i]
	if s.Visible() && d.visibleCountLocked() == 1 {
		return fmt.Errorf("deleting %q: %w", name, apperrors.ErrLastVisibleSheet)
	}

	if err := os.Remove(d.sheetPath(s.Name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: removing sheet file: %w", apperrors.ErrHostUnavailable, err)
	}

	d.m.Sheets = slices.Delete(d.m.Sheets, i, i+1)

	if naming.Equal(d.m.Active, s.Name) {
		d.moveActiveLocked(s.Name)
	}

	return d.saveManifestLocked()
}

// DuplicateSheet copies the sheet file to newName at position.
func (d *DirWorkbook) DuplicateSheet(_ context.Context, name, newName string, position int) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	i, err := d.lookupLocked(name)
	if err != nil {
		return "", err
	}

	if err := d.checkNewNameLocked(newName, -1); err != nil {
		return "", err
	}

	content, err := os.ReadFile(d.sheetPath(d.m.Sheets[i].Name))
	if err != nil {
		return "", fmt.Errorf("%w: reading sheet file: %w", apperrors.ErrHostUnavailable, err)
	}

	if err := d.writeSheetFile(newName, content); err != nil {
		return "", err
	}

	s := Sheet{ID: uuid.NewString(), Name: newName, Visibility: Visible}
	if position < 0 || position > len(d.m.Sheets) {
		d.m.Sheets = append(d.m.Sheets, s)
	} else {
		d.m.Sheets = slices.Insert(d.m.Sheets, position, s)
	}

	return newName, d.saveManifestLocked()
}

// SetVisibility records a sheet's visibility in the manifest.
func (d *DirWorkbook) SetVisibility(_ context.Context, name string, v Visibility) error {
	if !v.Valid() {
		return fmt.Errorf("%w: unknown visibility %q", apperrors.ErrHostUnavailable, v)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	i, err := d.lookupLocked(name)
	if err != nil {
		return err
	}

	s := &d.m.Sheets[i]
	if s.Visibility == v {
		return nil
	}

	if v != Visible && s.Visible() && d.visibleCountLocked() == 1 {
		return fmt.Errorf("hiding %q: %w", name, apperrors.ErrLastVisibleSheet)
	}

	s.Visibility = v

	if v != Visible && naming.Equal(d.m.Active, s.Name) {
		d.moveActiveLocked(s.Name)
	}

	return d.saveManifestLocked()
}

// Activate makes a visible sheet the active one.
func (d *DirWorkbook) Activate(_ context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	i, err := d.lookupLocked(name)
	if err != nil {
		return err
	}

	if !d.m.Sheets[i].Visible() {
		return fmt.Errorf("%w: cannot activate hidden sheet %q", apperrors.ErrHostUnavailable, name)
	}

	d.m.Active = d.m.Sheets[i].Name

	return d.saveManifestLocked()
}

// ActiveSheet returns the active sheet.
func (d *DirWorkbook) ActiveSheet(_ context.Context) (Sheet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	i := d.indexLocked(d.m.Active)
	if i < 0 {
		return Sheet{}, fmt.Errorf("%w: no active sheet", apperrors.ErrSheetNotFound)
	}

	s := d.m.Sheets[i]
	s.Position = i

	return s, nil
}

// Subscribe registers h for notifications produced by Watch.
func (d *DirWorkbook) Subscribe(ctx context.Context, h Handler) (func(), error) {
	if !d.watch {
		return nil, apperrors.ErrEventsUnsupported
	}

	return d.events.subscribe(ctx, h), nil
}
