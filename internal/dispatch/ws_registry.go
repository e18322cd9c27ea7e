package dispatch

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/sos-dispatch/internal/models"
)

var ErrNoSession = &NoSessionError{}

type NoSessionError struct{}

func (n *NoSessionError) Error() string { return "no ws session" }

// WSSession wraps one connected socket; the mutex serializes writes.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) SendJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// WSRegistry holds live responder and requester sessions keyed by
// responderKey/caseKey. Offers and case events are fanned out here.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
	logger   *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSRegistry{sessions: make(map[string]*WSSession), logger: logger}
}

func responderKey(id string) string { return "responder:" + id }
func caseKey(id string) string      { return "case:" + id }

func (r *WSRegistry) AddResponder(id string, conn *websocket.Conn) { r.add(responderKey(id), conn) }
func (r *WSRegistry) AddCase(id string, conn *websocket.Conn)      { r.add(caseKey(id), conn) }

func (r *WSRegistry) add(key string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[key]; ok {
		_ = old.conn.Close()
	}
	r.sessions[key] = &WSSession{conn: conn}
}

func (r *WSRegistry) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, key)
}

func (r *WSRegistry) Send(key string, v any) error {
	r.mu.RLock()
	s, ok := r.sessions[key]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.SendJSON(v); err != nil {
		r.logger.Warn("ws send failed", "key", key, "error", err)
		return err
	}
	return nil
}

// Publish pushes a case event to the requester watching that case, if
// connected. Satisfies the event stream subscriber interface.
func (r *WSRegistry) Publish(ev models.CaseEvent) error {
	err := r.Send(caseKey(ev.CaseID), ev)
	if err == ErrNoSession {
		return nil
	}
	return err
}
