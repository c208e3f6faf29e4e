package workbook

import (
	"context"
	"fmt"
	"slices"
	"sync"

	apperrors "github.com/alexjbarnes/sheet-tree/internal/errors"
	"github.com/alexjbarnes/sheet-tree/internal/naming"
	"github.com/google/uuid"
)

// Op names a Memory operation for fault injection.
type Op string

const (
	OpList       Op = "list"
	OpCreate     Op = "create"
	OpRename     Op = "rename"
	OpDelete     Op = "delete"
	OpDuplicate  Op = "duplicate"
	OpVisibility Op = "visibility"
	OpActivate   Op = "activate"
)

type fault struct {
	op   Op
	name string
}

// MemoryOption configures a Memory workbook.
type MemoryOption func(*Memory)

// WithoutEvents makes Subscribe fail with ErrEventsUnsupported, like a
// host version without change notifications.
func WithoutEvents() MemoryOption {
	return func(m *Memory) { m.noEvents = true }
}

// Memory is an in-process workbook. It enforces the same rules a real
// host does: case-insensitive unique names, valid names and at least one
// visible sheet. Every change is announced to subscribers, including
// changes made through its own methods.
type Memory struct {
	mu       sync.Mutex
	sheets   []*Sheet
	activeID string
	noEvents bool
	faults   map[fault]error
	events   *fanout
}

var _ Service = (*Memory)(nil)

// NewMemory creates a workbook holding the named sheets in order. The
// first sheet is active. With no names it starts with "Sheet1".
func NewMemory(names []string, opts ...MemoryOption) *Memory {
	m := &Memory{
		faults: make(map[fault]error),
		events: newFanout(),
	}

	for _, o := range opts {
		o(m)
	}

	if len(names) == 0 {
		names = []string{"Sheet1"}
	}

	for _, name := range names {
		m.sheets = append(m.sheets, &Sheet{ID: uuid.NewString(), Name: name, Visibility: Visible})
	}

	m.activeID = m.sheets[0].ID

	return m
}

// FailOn makes op fail with err when applied to the named sheet. An
// empty name matches every sheet. A nil err clears the fault.
func (m *Memory) FailOn(op Op, name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := fault{op: op, name: naming.Fold(name)}
	if err == nil {
		delete(m.faults, k)
		return
	}

	m.faults[k] = err
}

func (m *Memory) faultLocked(op Op, name string) error {
	if err, ok := m.faults[fault{op: op, name: naming.Fold(name)}]; ok {
		return err
	}

	return m.faults[fault{op: op}]
}

func (m *Memory) indexLocked(name string) int {
	return slices.IndexFunc(m.sheets, func(s *Sheet) bool { return naming.Equal(s.Name, name) })
}

func (m *Memory) lookupLocked(name string) (int, *Sheet, error) {
	i := m.indexLocked(name)
	if i < 0 {
		return -1, nil, fmt.Errorf("%w: %q", apperrors.ErrSheetNotFound, name)
	}

	return i, m.sheets[i], nil
}

func (m *Memory) visibleCountLocked() int {
	n := 0
	for _, s := range m.sheets {
		if s.Visible() {
			n++
		}
	}

	return n
}

// checkNewNameLocked validates name and rejects collisions with every
// sheet except the one at index self.
func (m *Memory) checkNewNameLocked(name string, self int) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	if i := m.indexLocked(name); i >= 0 && i != self {
		return fmt.Errorf("%w: %q", apperrors.ErrSheetExists, name)
	}

	return nil
}

// moveActiveLocked picks the first visible sheet other than skip.
func (m *Memory) moveActiveLocked(skip string) {
	for _, s := range m.sheets {
		if s.ID != skip && s.Visible() {
			m.activeID = s.ID
			return
		}
	}
}

func (m *Memory) insertLocked(s *Sheet, position int) {
	if position < 0 || position > len(m.sheets) {
		m.sheets = append(m.sheets, s)
		return
	}

	m.sheets = slices.Insert(m.sheets, position, s)
}

// ListSheets returns all sheets in host order.
func (m *Memory) ListSheets(_ context.Context) ([]Sheet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.faultLocked(OpList, ""); err != nil {
		return nil, err
	}

	out := make([]Sheet, len(m.sheets))
	for i, s := range m.sheets {
		out[i] = *s
		out[i].Position = i
	}

	return out, nil
}

// CreateSheet appends a new visible sheet.
func (m *Memory) CreateSheet(_ context.Context, name string) (Sheet, error) {
	m.mu.Lock()

	if err := m.faultLocked(OpCreate, name); err != nil {
		m.mu.Unlock()
		return Sheet{}, err
	}

	if err := m.checkNewNameLocked(name, -1); err != nil {
		m.mu.Unlock()
		return Sheet{}, err
	}

	s := &Sheet{ID: uuid.NewString(), Name: name, Visibility: Visible}
	m.insertLocked(s, PositionEnd)
	created := *s
	created.Position = len(m.sheets) - 1
	m.mu.Unlock()

	m.events.publish(Event{Kind: EventAdded, SheetID: created.ID, NameAfter: name})

	return created, nil
}

// RenameSheet renames a sheet. A case-only change of the same sheet is
// allowed.
func (m *Memory) RenameSheet(_ context.Context, name, newName string) error {
	m.mu.Lock()

	if err := m.faultLocked(OpRename, name); err != nil {
		m.mu.Unlock()
		return err
	}

	i, s, err := m.lookupLocked(name)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	if err := m.checkNewNameLocked(newName, i); err != nil {
		m.mu.Unlock()
		return err
	}

	before := s.Name
	s.Name = newName
	id := s.ID
	m.mu.Unlock()

	m.events.publish(Event{Kind: EventRenamed, SheetID: id, NameBefore: before, NameAfter: newName})

	return nil
}

// DeleteSheet removes a sheet. The last visible sheet cannot be deleted.
func (m *Memory) DeleteSheet(_ context.Context, name string) error {
	m.mu.Lock()

	if err := m.faultLocked(OpDelete, name); err != nil {
		m.mu.Unlock()
		return err
	}

	i, s, err := m.lookupLocked(name)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	if s.Visible() && m.visibleCountLocked() == 1 {
		m.mu.Unlock()
		return fmt.Errorf("deleting %q: %w", name, apperrors.ErrLastVisibleSheet)
	}

	if m.activeID == s.ID {
		m.moveActiveLocked(s.ID)
	}

	m.sheets = slices.Delete(m.sheets, i, i+1)
	id := s.ID
	m.mu.Unlock()

	m.events.publish(Event{Kind: EventDeleted, SheetID: id})

	return nil
}

// DuplicateSheet copies a sheet under newName at position and returns
// the name the copy received.
func (m *Memory) DuplicateSheet(_ context.Context, name, newName string, position int) (string, error) {
	m.mu.Lock()

	if err := m.faultLocked(OpDuplicate, name); err != nil {
		m.mu.Unlock()
		return "", err
	}

	if _, _, err := m.lookupLocked(name); err != nil {
		m.mu.Unlock()
		return "", err
	}

	if err := m.checkNewNameLocked(newName, -1); err != nil {
		m.mu.Unlock()
		return "", err
	}

	s := &Sheet{ID: uuid.NewString(), Name: newName, Visibility: Visible}
	m.insertLocked(s, position)
	id := s.ID
	m.mu.Unlock()

	m.events.publish(Event{Kind: EventAdded, SheetID: id, NameAfter: newName})

	return newName, nil
}

// SetVisibility shows or hides a sheet. Hiding the last visible sheet
// fails with ErrLastVisibleSheet. Hiding the active sheet activates the
// next visible one.
func (m *Memory) SetVisibility(_ context.Context, name string, v Visibility) error {
	if !v.Valid() {
		return fmt.Errorf("%w: unknown visibility %q", apperrors.ErrHostUnavailable, v)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.faultLocked(OpVisibility, name); err != nil {
		return err
	}

	_, s, err := m.lookupLocked(name)
	if err != nil {
		return err
	}

	if s.Visibility == v {
		return nil
	}

	if v != Visible && s.Visible() && m.visibleCountLocked() == 1 {
		return fmt.Errorf("hiding %q: %w", name, apperrors.ErrLastVisibleSheet)
	}

	s.Visibility = v

	if v != Visible && m.activeID == s.ID {
		m.moveActiveLocked(s.ID)
	}

	return nil
}

// Activate makes a visible sheet the active one.
func (m *Memory) Activate(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.faultLocked(OpActivate, name); err != nil {
		return err
	}

	_, s, err := m.lookupLocked(name)
	if err != nil {
		return err
	}

	if !s.Visible() {
		return fmt.Errorf("%w: cannot activate hidden sheet %q", apperrors.ErrHostUnavailable, name)
	}

	m.activeID = s.ID

	return nil
}

// ActiveSheet returns the active sheet.
func (m *Memory) ActiveSheet(_ context.Context) (Sheet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, s := range m.sheets {
		if s.ID == m.activeID {
			out := *s
			out.Position = i

			return out, nil
		}
	}

	return Sheet{}, fmt.Errorf("%w: no active sheet", apperrors.ErrSheetNotFound)
}

// Subscribe registers h for change notifications.
func (m *Memory) Subscribe(ctx context.Context, h Handler) (func(), error) {
	if m.noEvents {
		return nil, apperrors.ErrEventsUnsupported
	}

	return m.events.subscribe(ctx, h), nil
}
