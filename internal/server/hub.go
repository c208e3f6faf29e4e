package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/alexjbarnes/sheet-tree/internal/auth"
	"github.com/alexjbarnes/sheet-tree/internal/orchestrator"
	"github.com/alexjbarnes/sheet-tree/internal/tree"
	"github.com/coder/websocket"
	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

const (
	// clientSendSize is the per-client outbound buffer. A client that
	// falls this far behind is disconnected.
	clientSendSize = 32

	// writeTimeout bounds one websocket write.
	writeTimeout = 10 * time.Second

	// readLimit caps one inbound frame; intents are small.
	readLimit = 64 * 1024

	// opSnapshot asks for the current tree; opDeleteSummary for the text
	// of a delete confirmation. Every other op is an intent kind.
	opSnapshot      = "snapshot"
	opDeleteSummary = "delete_summary"
)

// treeService is the part of the orchestrator the hub drives.
type treeService interface {
	Submit(ctx context.Context, in orchestrator.Intent) (orchestrator.Result, error)
	Snapshot() []tree.Entry
	DeleteSummary(ctx context.Context, nodeIDs []string) (string, error)
}

// Frame is one outbound websocket message.
type Frame struct {
	Type    string                `json:"type"`
	ID      string                `json:"id,omitempty"`
	Nodes   []tree.Entry          `json:"nodes,omitempty"`
	Message *orchestrator.Message `json:"message,omitempty"`
	Result  *orchestrator.Result  `json:"result,omitempty"`
	Summary string                `json:"summary,omitempty"`
	Error   string                `json:"error,omitempty"`
}

type client struct {
	send chan []byte
	user string
}

// Hub is the tree view's transport. It renders snapshots and notices to
// every connected websocket client and submits the intents they send.
type Hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	svc     treeService
	clients map[*client]struct{}
}

// NewHub returns a Hub with no clients. Attach must be called before
// clients can submit intents.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Attach sets the service intents are submitted to.
func (h *Hub) Attach(svc treeService) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.svc = svc
}

func (h *Hub) service() treeService {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.svc
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.clients)
}

// Render broadcasts a tree snapshot.
func (h *Hub) Render(entries []tree.Entry) {
	h.broadcast(Frame{Type: "snapshot", Nodes: entries})
}

// Notify broadcasts a notice.
func (h *Hub) Notify(m orchestrator.Message) {
	h.broadcast(Frame{Type: "message", Message: &m})
}

func (h *Hub) broadcast(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		h.logger.Warn("encoding frame", slog.String("error", err.Error()))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("websocket client too slow, dropping", slog.String("user", c.user))
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeHTTP upgrades the request to a websocket, sends the current tree
// and then serves intents until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket accept failed", slog.String("error", err.Error()))
		return
	}

	conn.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &client{send: make(chan []byte, clientSendSize), user: auth.RequestUserID(r.Context())}
	h.register(c)
	defer h.unregister(c)

	h.logger.Info("tree view connected",
		slog.String("user", c.user),
		slog.String("ip", auth.RequestRemoteIP(r.Context())),
	)

	go h.writeLoop(ctx, cancel, conn, c)

	if svc := h.service(); svc != nil {
		h.reply(c, Frame{Type: "snapshot", Nodes: svc.Snapshot()})
	}

	err = h.readLoop(ctx, conn, c)

	switch {
	case err == nil, errors.Is(err, context.Canceled):
		conn.Close(websocket.StatusNormalClosure, "bye")
	case websocket.CloseStatus(err) != -1:
		// Client closed.
	default:
		h.logger.Debug("websocket read failed", slog.String("error", err.Error()))
		conn.Close(websocket.StatusInternalError, "read failed")
	}

	h.logger.Info("tree view disconnected", slog.String("user", c.user))
}

func (h *Hub) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, c *client) {
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}

			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, data)
			wcancel()

			if err != nil {
				return
			}
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, conn *websocket.Conn, c *client) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		if typ != websocket.MessageText {
			h.reply(c, Frame{Type: "error", Error: "binary frames are not supported"})
			continue
		}

		h.reply(c, h.handle(ctx, data))
	}
}

// handle answers one inbound frame.
func (h *Hub) handle(ctx context.Context, data []byte) Frame {
	id := gjson.GetBytes(data, "id").String()
	op := gjson.GetBytes(data, "op").Str

	svc := h.service()
	if svc == nil {
		return Frame{Type: "error", ID: id, Error: "not ready"}
	}

	switch op {
	case "":
		return Frame{Type: "error", ID: id, Error: "missing op"}
	case opSnapshot:
		return Frame{Type: "snapshot", ID: id, Nodes: svc.Snapshot()}
	case opDeleteSummary:
		var nodes []string
		for _, n := range gjson.GetBytes(data, "nodes").Array() {
			nodes = append(nodes, n.String())
		}

		summary, err := svc.DeleteSummary(ctx, nodes)
		if err != nil {
			return Frame{Type: "error", ID: id, Error: err.Error()}
		}

		return Frame{Type: "summary", ID: id, Summary: summary}
	}

	if !slices.Contains(orchestrator.Kinds(), orchestrator.Kind(op)) {
		return Frame{Type: "error", ID: id, Error: "unknown op " + op}
	}

	var in orchestrator.Intent
	if err := json.Unmarshal(data, &in); err != nil {
		return Frame{Type: "error", ID: id, Error: "decoding intent: " + err.Error()}
	}

	res, err := svc.Submit(ctx, in)

	f := Frame{Type: "result", ID: id, Result: &res}
	if err != nil {
		f.Error = err.Error()
	}

	return f
}

// reply queues a frame for one client.
func (h *Hub) reply(c *client, f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		h.logger.Warn("encoding frame", slog.String("error", err.Error()))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}

	select {
	case c.send <- data:
	default:
		h.logger.Warn("websocket client too slow, dropping reply", slog.String("user", c.user))
	}
}
