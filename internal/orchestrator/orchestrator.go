// Package orchestrator owns the sync lifecycle: it loads the tree,
// subscribes to host notifications once and runs the single loop that
// applies user intents and host events to the engine one at a time.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/alexjbarnes/sheet-tree/internal/errors"
	"github.com/alexjbarnes/sheet-tree/internal/persist"
	"github.com/alexjbarnes/sheet-tree/internal/sheetsync"
	"github.com/alexjbarnes/sheet-tree/internal/tree"
	"github.com/alexjbarnes/sheet-tree/internal/workbook"
)

const (
	// intentChanSize is the buffer for intents waiting on the loop.
	intentChanSize = 64

	// eventChanSize is the buffer for host notifications waiting on the loop.
	eventChanSize = 64

	// flushTimeout bounds the final save on shutdown.
	flushTimeout = 5 * time.Second
)

// LoadSource records where the tree came from at startup.
type LoadSource string

const (
	LoadedNone      LoadSource = ""
	LoadedFromStore LoadSource = "store"
	LoadedDefault   LoadSource = "default"
)

// Status is a snapshot of the lifecycle flags.
type Status struct {
	TreeReady          bool       `json:"treeReady"`
	HandlersRegistered bool       `json:"handlersRegistered"`
	Loaded             LoadSource `json:"loaded"`
	EventsSupported    bool       `json:"eventsSupported"`
}

// Notifier shows messages to the user. Notify may be called from the
// save timer goroutine as well as the loop.
type Notifier interface {
	Notify(Message)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Message)

// Notify calls f.
func (f NotifierFunc) Notify(m Message) { f(m) }

// Renderer receives the full tree after every change.
type Renderer interface {
	Render(entries []tree.Entry)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func([]tree.Entry)

// Render calls f.
func (f RendererFunc) Render(entries []tree.Entry) { f(entries) }

// treeStore loads and saves the persisted tree.
type treeStore interface {
	Load(ctx context.Context) (*tree.Tree, bool, error)
	Save(ctx context.Context, t *tree.Tree) (persist.SaveResult, error)
}

// Config holds the collaborators of an Orchestrator.
type Config struct {
	Host   workbook.Service
	Store  treeStore
	Logger *slog.Logger

	// SaveWindow is the debounce window for saves. Zero uses
	// persist.DefaultWindow.
	SaveWindow time.Duration

	Notifier Notifier
	Renderer Renderer
}

type intentOp struct {
	intent Intent
	result chan outcome
}

type outcome struct {
	res Result
	err error
}

// call runs fn on the loop for reads that must not race a mutation.
type call struct {
	fn   func(ctx context.Context)
	done chan struct{}
}

// Orchestrator serializes every tree mutation through Run.
type Orchestrator struct {
	host     workbook.Service
	store    treeStore
	engine   *sheetsync.Engine
	sched    *persist.Scheduler
	notifier Notifier
	renderer Renderer
	logger   *slog.Logger

	intents chan intentOp
	calls   chan call
	events  chan workbook.Event
	ready   chan struct{}

	mu          sync.RWMutex
	status      Status
	unsubscribe func()
}

// New returns an Orchestrator. Nothing touches the host until Run.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		host:     cfg.Host,
		store:    cfg.Store,
		engine:   sheetsync.NewEngine(cfg.Host, tree.New(), logger),
		notifier: cfg.Notifier,
		renderer: cfg.Renderer,
		logger:   logger,
		intents:  make(chan intentOp, intentChanSize),
		calls:    make(chan call),
		events:   make(chan workbook.Event, eventChanSize),
		ready:    make(chan struct{}),
	}

	o.sched = persist.NewScheduler(cfg.SaveWindow, o.save, logger)

	return o
}

// Status returns the lifecycle flags.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return o.status
}

// Ready is closed once the tree is loaded and intents are accepted.
func (o *Orchestrator) Ready() <-chan struct{} {
	return o.ready
}

// Snapshot returns the current tree, or nil before it is ready.
func (o *Orchestrator) Snapshot() []tree.Entry {
	if !o.Status().TreeReady {
		return nil
	}

	return o.engine.Tree().Export()
}

// Outline returns the indented text form of the tree, or "" before it
// is ready.
func (o *Orchestrator) Outline() string {
	if !o.Status().TreeReady {
		return ""
	}

	return o.engine.Tree().Outline()
}

// DeleteSummary describes what deleting nodeIDs would remove, for a
// confirmation prompt. It runs on the loop so the selection is read
// between mutations.
func (o *Orchestrator) DeleteSummary(ctx context.Context, nodeIDs []string) (string, error) {
	var summary string

	err := o.onLoop(ctx, func(context.Context) {
		summary = o.engine.DeleteSummary(nodeIDs)
	})
	if err != nil {
		return "", err
	}

	return summary, nil
}

// Submit hands an intent to the loop and waits for its result. Intents
// submitted before the tree is ready fail with ErrNotReady.
func (o *Orchestrator) Submit(ctx context.Context, in Intent) (Result, error) {
	if !o.Status().TreeReady {
		o.notify(Message{Level: LevelWarning, Text: "Tree is still loading, please wait..."})
		return Result{}, apperrors.ErrNotReady
	}

	if err := in.Validate(); err != nil {
		return Result{}, err
	}

	op := intentOp{intent: in, result: make(chan outcome, 1)}

	select {
	case o.intents <- op:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	select {
	case out := <-op.result:
		return out.res, out.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Preview reports what a refresh would change without changing anything:
// the plan and a line diff of the outline.
func (o *Orchestrator) Preview(ctx context.Context) (sheetsync.Plan, string, error) {
	var (
		plan sheetsync.Plan
		diff string
		err  error
	)

	callErr := o.onLoop(ctx, func(ctx context.Context) {
		plan, diff, err = o.engine.Preview(ctx)
	})
	if callErr != nil {
		return sheetsync.Plan{}, "", callErr
	}

	return plan, diff, err
}

// onLoop runs fn on the loop goroutine and waits for it.
func (o *Orchestrator) onLoop(ctx context.Context, fn func(ctx context.Context)) error {
	if !o.Status().TreeReady {
		return apperrors.ErrNotReady
	}

	c := call{fn: fn, done: make(chan struct{})}

	select {
	case o.calls <- c:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run loads the tree, registers for host notifications and processes
// intents and events until ctx is cancelled. A pending save is flushed
// before Run returns.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.start(ctx); err != nil {
		return err
	}

	defer o.stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case op := <-o.intents:
			res, err := o.handleIntent(ctx, op.intent)
			op.result <- outcome{res: res, err: err}

		case c := <-o.calls:
			c.fn(ctx)
			close(c.done)

		case ev := <-o.events:
			o.handleEvent(ctx, ev)
		}
	}
}

func (o *Orchestrator) stop() {
	if o.unsubscribe != nil {
		o.unsubscribe()
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if err := o.sched.Flush(ctx); err != nil {
		o.logger.Warn("final save failed", slog.String("error", err.Error()))
	}

	o.sched.Close()
}

// start runs the startup sequence: load, render, subscribe.
func (o *Orchestrator) start(ctx context.Context) error {
	source, err := o.load(ctx)
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.status.TreeReady = true
	o.status.Loaded = source
	o.mu.Unlock()

	close(o.ready)
	o.render()

	o.registerHandlers(ctx)

	st := o.Status()
	o.logger.Info("tree ready",
		slog.String("loaded", string(st.Loaded)),
		slog.Bool("events", st.EventsSupported),
		slog.Int("nodes", o.engine.Tree().Len()),
		slog.Duration("save_window", o.sched.Window()),
	)

	return nil
}

// load installs the persisted tree, falling back to a default tree of
// the visible host sheets. A freshly built default is saved at once.
func (o *Orchestrator) load(ctx context.Context) (LoadSource, error) {
	t, found, err := o.store.Load(ctx)

	switch {
	case err != nil:
		o.logger.Warn("loading persisted tree failed", slog.String("error", err.Error()))
		o.notify(Message{Level: LevelWarning, Text: "Error loading structure, using default"})
	case found:
		o.engine.SetTree(t)

		// The host may have changed while nothing was listening.
		plan, err := o.engine.Reconcile(ctx)
		if err != nil {
			o.logger.Warn("startup reconciliation failed", slog.String("error", err.Error()))
		} else if !plan.Empty() {
			o.logger.Info("startup reconciliation applied",
				slog.Int("added", len(plan.ToAdd)),
				slog.Int("removed", len(plan.ToRemove)),
			)
			o.sched.Schedule(o.onSaveError)
		}

		return LoadedFromStore, nil
	}

	t, err = o.engine.BuildDefault(ctx)
	if err != nil {
		o.notify(Message{Level: LevelError, Text: "Error loading sheets"})
		return LoadedNone, fmt.Errorf("building default tree: %w", err)
	}

	o.engine.SetTree(t)

	if err := o.sched.SaveNow(ctx); err != nil {
		o.onSaveError(err)
	}

	return LoadedDefault, nil
}

// registerHandlers subscribes to host notifications. It runs at most
// once per Orchestrator.
func (o *Orchestrator) registerHandlers(ctx context.Context) {
	o.mu.RLock()
	registered := o.status.HandlersRegistered
	o.mu.RUnlock()

	if registered {
		return
	}

	unsubscribe, err := o.host.Subscribe(ctx, func(ev workbook.Event) {
		select {
		case o.events <- ev:
		case <-ctx.Done():
		}
	})
	if err != nil {
		if !errors.Is(err, apperrors.ErrEventsUnsupported) {
			o.logger.Warn("subscribing to host notifications failed", slog.String("error", err.Error()))
		}

		o.notify(Message{Level: LevelInfo, Text: "Automatic sync is unavailable. Use refresh to pick up sheet changes."})

		return
	}

	o.mu.Lock()
	o.unsubscribe = unsubscribe
	o.status.HandlersRegistered = true
	o.status.EventsSupported = true
	o.mu.Unlock()
}

// save is the scheduler's save function.
func (o *Orchestrator) save(ctx context.Context) error {
	res, err := o.store.Save(ctx, o.engine.Tree())
	if err != nil {
		return err
	}

	if res.Oversize {
		o.notify(Message{Level: LevelWarning, Text: "Warning: Tree structure is very large"})
	}

	return nil
}

func (o *Orchestrator) onSaveError(err error) {
	o.logger.Warn("saving tree failed", slog.String("error", err.Error()))
	o.notify(Message{Level: LevelWarning, Text: "Changes applied but the structure could not be saved: " + err.Error()})
}

// changed renders the new tree and schedules a save.
func (o *Orchestrator) changed() {
	o.render()
	o.sched.Schedule(o.onSaveError)
}

func (o *Orchestrator) render() {
	if o.renderer == nil {
		return
	}

	o.renderer.Render(o.engine.Tree().Export())
}

func (o *Orchestrator) notify(m Message) {
	if o.notifier == nil || m.Text == "" {
		return
	}

	o.notifier.Notify(m)
}
