package e2e_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alexjbarnes/sheet-tree/internal/auth"
	"github.com/alexjbarnes/sheet-tree/internal/mcpserver"
	"github.com/alexjbarnes/sheet-tree/internal/orchestrator"
	"github.com/alexjbarnes/sheet-tree/internal/persist"
	"github.com/alexjbarnes/sheet-tree/internal/server"
	"github.com/alexjbarnes/sheet-tree/internal/state"
	"github.com/alexjbarnes/sheet-tree/internal/tree"
	"github.com/alexjbarnes/sheet-tree/internal/workbook"
	"github.com/coder/websocket"
	"github.com/goccy/go-json"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testUser = "e2e"
	testKey  = "st_e2e0123456789abcdef0123456789abcdef"
	docID    = "e2e-book"
)

// harness holds the full stack: a directory workbook with its watcher,
// bbolt state, the orchestrator and the HTTP mux serving MCP and the
// tree view websocket.
type harness struct {
	URL       string
	Dir       string
	StatePath string
	Orch      *orchestrator.Orchestrator
	Client    *http.Client

	closeOnce sync.Once
	close     func()
}

// watchSignal is a slog handler that discards records and closes started
// once the workbook watcher reports it is listening.
type watchSignal struct {
	once    *sync.Once
	started chan struct{}
}

func (w watchSignal) Enabled(context.Context, slog.Level) bool { return true }

func (w watchSignal) Handle(_ context.Context, r slog.Record) error {
	if r.Message == "workbook watcher started" {
		w.once.Do(func() { close(w.started) })
	}

	return nil
}

func (w watchSignal) WithAttrs([]slog.Attr) slog.Handler { return w }
func (w watchSignal) WithGroup(string) slog.Handler      { return w }

// newHarness seeds a workbook directory with the given sheets and
// starts the stack over it.
func newHarness(t *testing.T, sheets ...string) *harness {
	t.Helper()

	dir := t.TempDir()
	for _, name := range sheets {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".csv"), []byte("a,b\n1,2\n"), 0o644))
	}

	return newHarnessAt(t, dir, filepath.Join(t.TempDir(), "state.db"))
}

// newHarnessAt starts the stack over an existing workbook directory and
// state database.
func newHarnessAt(t *testing.T, dir, statePath string) *harness {
	t.Helper()

	sig := watchSignal{once: &sync.Once{}, started: make(chan struct{})}
	logger := slog.New(sig)

	appState, err := state.LoadAt(statePath)
	require.NoError(t, err)

	book, err := workbook.OpenDir(dir, logger, workbook.WithWatch(true))
	require.NoError(t, err)

	hub := server.NewHub(logger)
	orch := orchestrator.New(orchestrator.Config{
		Host:       book,
		Store:      persist.NewSaver(appState.Settings(docID), persist.DefaultKey, persist.DefaultWarnBytes, logger),
		Logger:     logger,
		SaveWindow: 20 * time.Millisecond,
		Notifier:   hub,
		Renderer:   hub,
	})
	hub.Attach(orch)

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup

	wg.Add(2)

	go func() {
		defer wg.Done()
		_ = book.Watch(ctx)
	}()

	go func() {
		defer wg.Done()
		_ = orch.Run(ctx)
	}()

	select {
	case <-orch.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator never became ready")
	}

	select {
	case <-sig.started:
	case <-time.After(5 * time.Second):
		t.Fatal("workbook watcher never started")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(testKey), bcrypt.MinCost)
	require.NoError(t, err)

	keys, err := auth.NewKeys(map[string]string{testUser: string(hash)})
	require.NoError(t, err)

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "sheet-tree-e2e", Version: "test"},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, orch)

	mcpHandler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	ts := httptest.NewServer(server.NewMux(server.MuxConfig{
		Keys:       keys,
		MCPHandler: mcpHandler,
		Hub:        hub,
		Status:     orch,
		Logger:     logger,
	}))

	h := &harness{
		URL:       ts.URL,
		Dir:       dir,
		StatePath: statePath,
		Orch:      orch,
		Client:    ts.Client(),
	}

	h.close = func() {
		ts.Close()
		cancel()
		wg.Wait()
		appState.Close()
	}

	t.Cleanup(h.Close)

	return h
}

// Close stops the stack and releases the state database. It is safe to
// call more than once.
func (h *harness) Close() {
	h.closeOnce.Do(h.close)
}

// mcpSession creates an MCP client session authenticated with the given
// API key. Uses the MCP SDK's StreamableClientTransport with a custom
// HTTP RoundTripper that injects the Authorization header.
func (h *harness) mcpSession(t *testing.T, key string) *mcp.ClientSession {
	t.Helper()

	transport := &mcp.StreamableClientTransport{
		Endpoint: h.URL + "/mcp",
		HTTPClient: &http.Client{
			Transport: &bearerTransport{
				token: key,
				base:  h.Client.Transport,
			},
		},
		DisableStandaloneSSE: true,
	}

	client := mcp.NewClient(
		&mcp.Implementation{Name: "e2e-test-client", Version: "test"},
		nil,
	)

	session, err := client.Connect(t.Context(), transport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return session
}

// action calls a mutating tool and decodes its result.
func action(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) mcpserver.ActionResult {
	t.Helper()

	result, err := session.CallTool(t.Context(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.False(t, result.IsError, "tool %s failed: %s", name, extractTextContent(t, result))

	var out mcpserver.ActionResult
	require.NoError(t, json.Unmarshal([]byte(extractTextContent(t, result)), &out))

	return out
}

// nodeID finds a node by label in the live tree.
func (h *harness) nodeID(t *testing.T, label string) string {
	t.Helper()

	var find func(entries []tree.Entry) string
	find = func(entries []tree.Entry) string {
		for _, e := range entries {
			if e.Text == label {
				return e.ID
			}

			if id := find(e.Children); id != "" {
				return id
			}
		}

		return ""
	}

	id := find(h.Orch.Snapshot())
	require.NotEmpty(t, id, "no node labelled %q", label)

	return id
}

// dialWS opens the tree view websocket, passing the key as a query
// parameter the way a browser client does.
func (h *harness) dialWS(t *testing.T) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(h.URL, "http") + "/ws?access_token=" + testKey

	conn, _, err := websocket.Dial(ctx, url, nil) //nolint:bodyclose // websocket.Dial closes the response body internally
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })

	return conn
}

// readFrame reads frames until pred accepts one.
func readFrame(t *testing.T, conn *websocket.Conn, pred func(server.Frame) bool) server.Frame {
	t.Helper()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)

		var f server.Frame
		require.NoError(t, json.Unmarshal(data, &f))

		if pred(f) {
			return f
		}
	}
}

// sheetFiles lists the sheet names on disk.
func (h *harness) sheetFiles(t *testing.T) []string {
	t.Helper()

	matches, err := filepath.Glob(filepath.Join(h.Dir, "*.csv"))
	require.NoError(t, err)

	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, strings.TrimSuffix(filepath.Base(m), ".csv"))
	}

	return names
}

// bearerTransport is an http.RoundTripper that injects a Bearer token
// into every request's Authorization header.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (bt *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+bt.token)

	return bt.base.RoundTrip(req)
}

// extractTextContent pulls the text from the first TextContent in a
// CallToolResult. MCP tools return JSON-serialized results as TextContent.
func extractTextContent(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()

	require.NotEmpty(t, result.Content, "tool result has no content")

	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			return tc.Text
		}
	}

	t.Fatal("no TextContent found in tool result")

	return ""
}
