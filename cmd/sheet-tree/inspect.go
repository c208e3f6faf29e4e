package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/alexjbarnes/sheet-tree/internal/auth"
	"github.com/alexjbarnes/sheet-tree/internal/config"
	"github.com/alexjbarnes/sheet-tree/internal/persist"
	"github.com/alexjbarnes/sheet-tree/internal/sheetsync"
	"github.com/alexjbarnes/sheet-tree/internal/state"
	"github.com/alexjbarnes/sheet-tree/internal/tree"
	"github.com/alexjbarnes/sheet-tree/internal/workbook"
	"golang.org/x/crypto/bcrypt"
)

func hashPassword(args []string) error {
	fs := flag.NewFlagSet("hash-password", flag.ContinueOnError)
	generate := fs.Bool("generate", false, "generate a new API key and print it with its hash")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *generate {
		key, hash, err := auth.GenerateKey()
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stderr, "API key (store it now, it is not shown again): %s\n", key)
		fmt.Println(hash)

		return nil
	}

	fmt.Fprint(os.Stderr, "Enter API key: ")

	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return fmt.Errorf("no input")
	}

	key := strings.TrimSpace(scanner.Text())
	if !strings.HasPrefix(key, auth.APIKeyPrefix) {
		return fmt.Errorf("API keys must start with %q", auth.APIKeyPrefix)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	fmt.Println(string(hash))

	return nil
}

// storedTree loads the persisted tree for the configured document. A
// document with nothing stored yields an empty tree.
func storedTree(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*tree.Tree, error) {
	appState, err := state.LoadAt(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}
	defer appState.Close()

	saver := persist.NewSaver(appState.Settings(cfg.DocumentID), cfg.SettingsKey, cfg.StorageWarnBytes, logger)

	t, found, err := saver.Load(ctx)
	if err != nil {
		return nil, err
	}

	if !found {
		return tree.New(), nil
	}

	return t, nil
}

// quietLogger keeps the inspection commands' stdout for their output.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func outline() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	appState, err := state.LoadAt(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer appState.Close()

	settings := appState.Settings(cfg.DocumentID)

	t, found, err := persist.NewSaver(settings, cfg.SettingsKey, cfg.StorageWarnBytes, quietLogger()).Load(context.Background())
	if err != nil {
		return err
	}

	if !found {
		fmt.Fprintf(os.Stderr, "no tree stored for %q\n", cfg.DocumentID)

		docs, err := appState.Documents()
		if err == nil && len(docs) > 0 {
			fmt.Fprintf(os.Stderr, "stored documents: %s\n", strings.Join(docs, ", "))
		}

		return nil
	}

	fmt.Print(t.Outline())

	if rec, err := settings.LastSave(); err == nil && rec != nil {
		fmt.Fprintf(os.Stderr, "last saved %s (%d bytes)\n", rec.SavedAt.Format(time.RFC3339), rec.Size)
	}

	return nil
}

func plan() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx := context.Background()
	logger := quietLogger()

	t, err := storedTree(ctx, cfg, logger)
	if err != nil {
		return err
	}

	book, err := workbook.OpenDir(cfg.WorkbookDir, logger, workbook.WithWatch(false))
	if err != nil {
		return fmt.Errorf("opening workbook: %w", err)
	}

	p, diff, err := sheetsync.NewEngine(book, t, logger).Preview(ctx)
	if err != nil {
		return err
	}

	if p.Empty() {
		fmt.Println("tree matches the workbook")
		return nil
	}

	fmt.Print(diff)
	fmt.Fprintf(os.Stderr, "%d to add, %d to remove\n", len(p.ToAdd), len(p.ToRemove))

	return nil
}
