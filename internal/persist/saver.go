// Package persist writes the tree to the document's settings store and
// debounces bursts of changes into a single write.
package persist

import (
	"context"
	"fmt"
	"log/slog"

	apperrors "github.com/alexjbarnes/sheet-tree/internal/errors"
	"github.com/alexjbarnes/sheet-tree/internal/tree"
)

//go:generate mockgen -source=saver.go -destination=mock_store_test.go -package=persist -mock_names settingsStore=MockSettingsStore

const (
	// DefaultKey is the settings key holding the serialized tree.
	DefaultKey = "treeStructure"

	// DefaultWarnBytes is the size above which a save is reported as
	// close to the host's storage ceiling.
	DefaultWarnBytes = 1_900_000
)

// settingsStore is the document-scoped key/value store the tree is
// saved to. Extracted for testability; *state.Settings implements it.
type settingsStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error
	Add(ctx context.Context, key, value string) error
}

// SaveResult describes a completed save.
type SaveResult struct {
	Size     int
	Oversize bool
}

// Saver serializes a tree into a settings store.
type Saver struct {
	store     settingsStore
	key       string
	warnBytes int
	logger    *slog.Logger
}

// NewSaver returns a Saver writing under key. Zero or empty arguments
// fall back to DefaultKey and DefaultWarnBytes.
func NewSaver(store settingsStore, key string, warnBytes int, logger *slog.Logger) *Saver {
	if key == "" {
		key = DefaultKey
	}

	if warnBytes <= 0 {
		warnBytes = DefaultWarnBytes
	}

	return &Saver{
		store:     store,
		key:       key,
		warnBytes: warnBytes,
		logger:    logger,
	}
}

// Save writes t to the store. An existing value is deleted before the
// new one is added. A blob above the warning size is still written.
func (s *Saver) Save(ctx context.Context, t *tree.Tree) (SaveResult, error) {
	data, err := t.Serialize()
	if err != nil {
		return SaveResult{}, fmt.Errorf("%w: serializing tree: %w", apperrors.ErrPersistence, err)
	}

	res := SaveResult{Size: len(data), Oversize: len(data) > s.warnBytes}
	if res.Oversize {
		s.logger.Warn("tree structure is close to the storage limit",
			slog.Int("bytes", res.Size),
			slog.Int("limit", s.warnBytes),
		)
	}

	_, found, err := s.store.Get(ctx, s.key)
	if err != nil {
		return res, fmt.Errorf("%w: %w", apperrors.ErrPersistence, err)
	}

	if found {
		if err := s.store.Delete(ctx, s.key); err != nil {
			return res, fmt.Errorf("%w: %w", apperrors.ErrPersistence, err)
		}
	}

	if err := s.store.Add(ctx, s.key, string(data)); err != nil {
		return res, fmt.Errorf("%w: %w", apperrors.ErrPersistence, err)
	}

	s.logger.Debug("tree saved", slog.Int("bytes", res.Size), slog.Int("nodes", t.Len()))

	return res, nil
}

// Load reads the persisted tree. found is false when nothing was ever
// saved. A stored blob that cannot be decoded is returned as an error.
func (s *Saver) Load(ctx context.Context) (*tree.Tree, bool, error) {
	value, found, err := s.store.Get(ctx, s.key)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", apperrors.ErrPersistence, err)
	}

	if !found {
		return nil, false, nil
	}

	t, err := tree.Deserialize([]byte(value))
	if err != nil {
		return nil, true, fmt.Errorf("decoding stored tree: %w", err)
	}

	return t, true, nil
}
