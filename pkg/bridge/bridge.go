// Package bridge exposes the mining engine to local collaborator
// processes over a WebSocket. Connected clients receive every
// dispatched event as a push message and can issue correlated
// request/response commands (identity lookup, active fetch, cache
// pre-seeding) against the engine.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tapminer/tapminer/pkg/dispatch"
	"github.com/tapminer/tapminer/pkg/profile"
	"github.com/tapminer/tapminer/pkg/session"
)

// Backend is the engine surface the bridge exposes to clients.
type Backend interface {
	Lookup(username string) (string, bool)
	Identities() map[string]string
	Tokens() (session.TokenBag, bool)
	Preseed(pairs map[string]string) int
	FetchProfile(ctx context.Context, targetID string) (*profile.Record, error)
}

// command is a client request. ID is an opaque correlation token the
// client picks; the matching response carries it back.
type command struct {
	ID     string            `json:"id"`
	Method string            `json:"method"`
	Target string            `json:"target,omitempty"`
	Pairs  map[string]string `json:"pairs,omitempty"`
}

// response answers one command.
type response struct {
	ID     string `json:"id"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// push wraps a dispatched event for delivery to clients.
type push struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// client is one connected collaborator. Writes are serialized per
// connection; gorilla allows only one concurrent writer.
type client struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

// Server upgrades HTTP connections and serves clients. It implements
// dispatch.Hook so registering it on the engine's dispatcher turns
// every event into a push.
type Server struct {
	backend  Backend
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
	closed  bool
}

var _ dispatch.Hook = (*Server)(nil)

// NewServer creates a bridge server around backend. logger may be nil.
func NewServer(backend Backend, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		backend: backend,
		log:     logger,
		clients: make(map[string]*client),
		upgrader: websocket.Upgrader{
			// Loopback-only service; the browser never connects here, so
			// origin checks add nothing.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and serves the client until it
// disconnects. Non-loopback peers are rejected.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("bridge upgrade failed", slog.String("error", err.Error()))
		return
	}

	id := uuid.NewString()
	c := &client{ws: ws}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ws.Close()
		return
	}
	s.clients[id] = c
	s.mu.Unlock()
	s.log.Debug("bridge client connected", slog.String("client", id))

	for {
		var cmd command
		if err := ws.ReadJSON(&cmd); err != nil {
			break
		}
		c.send(s.handle(r.Context(), &cmd))
	}

	s.mu.Lock()
	delete(s.clients, id)
	s.mu.Unlock()
	ws.Close()
	s.log.Debug("bridge client disconnected", slog.String("client", id))
}

// handle executes one command. Failures stay inside the response; a
// bad command never tears down the connection.
func (s *Server) handle(ctx context.Context, cmd *command) *response {
	resp := &response{ID: cmd.ID}
	switch cmd.Method {
	case "lookup":
		id, ok := s.backend.Lookup(cmd.Target)
		if !ok {
			resp.Error = fmt.Sprintf("unknown username %q", cmd.Target)
			return resp
		}
		resp.Result = id
	case "identities":
		resp.Result = s.backend.Identities()
	case "tokens":
		bag, ok := s.backend.Tokens()
		if !ok {
			resp.Error = "no session captured yet"
			return resp
		}
		resp.Result = bag.FormValues()
	case "preseed":
		resp.Result = s.backend.Preseed(cmd.Pairs)
	case "fetch":
		rec, err := s.backend.FetchProfile(ctx, cmd.Target)
		if err != nil {
			resp.Error = err.Error()
			return resp
		}
		resp.Result = rec
	default:
		resp.Error = fmt.Sprintf("unknown method %q", cmd.Method)
	}
	return resp
}

// OnEvent implements dispatch.Hook: every event fans out to all
// connected clients. A client whose write fails is dropped; it will
// reconnect or it was already gone.
func (s *Server) OnEvent(_ context.Context, event dispatch.Event) error {
	msg := push{Event: string(event.EventType()), Data: event}

	s.mu.Lock()
	targets := make(map[string]*client, len(s.clients))
	for id, c := range s.clients {
		targets[id] = c
	}
	s.mu.Unlock()

	for id, c := range targets {
		if err := c.send(msg); err != nil {
			s.mu.Lock()
			delete(s.clients, id)
			s.mu.Unlock()
			c.ws.Close()
		}
	}
	return nil
}

// EventTypes implements dispatch.Hook; the bridge forwards everything.
func (s *Server) EventTypes() []dispatch.EventType { return nil }

// Close disconnects all clients and refuses new ones.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, c := range s.clients {
		c.ws.Close()
		delete(s.clients, id)
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func isLoopback(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}
