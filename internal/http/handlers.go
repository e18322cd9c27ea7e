package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/sos-dispatch/internal/cases"
	"github.com/example/sos-dispatch/internal/dispatch"
	"github.com/example/sos-dispatch/internal/geo"
	"github.com/example/sos-dispatch/internal/ingest"
	"github.com/example/sos-dispatch/internal/models"
	"github.com/example/sos-dispatch/internal/observability"
)

// Server is the inbound API surface: case intake and status for the
// requester app, heartbeats and assignment responses for the responder app.
type Server struct {
	Geo    geo.Index
	Coord  *dispatch.Coordinator
	Kafka  *ingest.KafkaProducer
	WSReg  *dispatch.WSRegistry
	logger *slog.Logger
	mux    *mux.Router

	knownMu sync.Mutex
	known   map[string]struct{}
}

func NewServer(g geo.Index, coord *dispatch.Coordinator, kp *ingest.KafkaProducer, wsreg *dispatch.WSRegistry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		Geo:    g,
		Coord:  coord,
		Kafka:  kp,
		WSReg:  wsreg,
		logger: logger,
		mux:    mux.NewRouter(),
		known:  make(map[string]struct{}),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/sos", s.handleCreateCase).Methods("POST")
	s.mux.HandleFunc("/api/v1/cases/{case_id}", s.handleCaseStatus).Methods("GET")
	s.mux.HandleFunc("/api/v1/cases/{case_id}/cancel", s.handleCancelCase).Methods("POST")
	s.mux.HandleFunc("/api/v1/cases/{case_id}/advance", s.handleAdvanceCase).Methods("POST")
	s.mux.HandleFunc("/api/v1/assignments/{assignment_id}/respond", s.handleRespond).Methods("POST")
	s.mux.HandleFunc("/internal/responder/locations", s.handleHeartbeat).Methods("POST")
	s.mux.HandleFunc("/internal/responder/{responder_id}", s.handleRemoveResponder).Methods("DELETE")
	s.mux.HandleFunc("/ws/responder/{responder_id}", s.handleResponderWS)
	s.mux.HandleFunc("/ws/case/{case_id}", s.handleCaseWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleCreateCase(w http.ResponseWriter, r *http.Request) {
	var req models.CreateCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if req.RequesterID == "" {
		writeJSONError(w, http.StatusUnprocessableEntity, "requester_id is required")
		return
	}
	if req.Location.Lat < -90 || req.Location.Lat > 90 || req.Location.Lng < -180 || req.Location.Lng > 180 {
		writeJSONError(w, http.StatusUnprocessableEntity, "location out of range")
		return
	}
	c, err := s.Coord.CreateCase(req)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"case_id": c.ID, "state": c.State})
}

func (s *Server) handleCaseStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Coord.Status(mux.Vars(r)["case_id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCancelCase(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Coord.CancelCase(mux.Vars(r)["case_id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleAdvanceCase(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	var action cases.AdvanceAction
	switch body.Action {
	case "EN_ROUTE":
		action = cases.ActionEnRoute
	case "ARRIVED":
		action = cases.ActionArrived
	case "COMPLETE":
		action = cases.ActionComplete
	default:
		writeJSONError(w, http.StatusUnprocessableEntity, "action must be EN_ROUTE, ARRIVED or COMPLETE")
		return
	}
	snap, err := s.Coord.AdvanceCase(mux.Vars(r)["case_id"], action)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if body.Action != "ACCEPT" && body.Action != "DECLINE" {
		writeJSONError(w, http.StatusUnprocessableEntity, "action must be ACCEPT or DECLINE")
		return
	}
	snap, err := s.Coord.RespondToAssignment(mux.Vars(r)["assignment_id"], body.Action == "ACCEPT")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var hb models.ResponderHeartbeat
	if err := json.NewDecoder(r.Body).Decode(&hb); err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if hb.ID == "" {
		writeJSONError(w, http.StatusUnprocessableEntity, "id is required")
		return
	}
	// publish to kafka if configured so the consumer can mirror to Redis
	if s.Kafka != nil {
		if err := s.Kafka.PublishHeartbeat(hb); err != nil {
			s.logger.Warn("heartbeat publish failed", "responder_id", hb.ID, "error", err)
		}
	}
	s.Geo.Upsert(models.Responder{ID: hb.ID, Location: hb.Location, Available: hb.Available})

	s.knownMu.Lock()
	if _, ok := s.known[hb.ID]; !ok {
		s.known[hb.ID] = struct{}{}
		observability.RespondersOnline.Inc()
	}
	s.knownMu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveResponder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["responder_id"]
	s.Geo.Remove(id)
	s.knownMu.Lock()
	if _, ok := s.known[id]; ok {
		delete(s.known, id)
		observability.RespondersOnline.Dec()
	}
	s.knownMu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleResponderWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.WSReg.AddResponder(mux.Vars(r)["responder_id"], conn)
}

func (s *Server) handleCaseWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.WSReg.AddCase(mux.Vars(r)["case_id"], conn)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps the dispatch error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cases.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, cases.ErrConflict), errors.Is(err, cases.ErrIllegalTransition):
		writeJSONError(w, http.StatusConflict, err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}
