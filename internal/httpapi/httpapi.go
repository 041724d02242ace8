// Package httpapi is the thin translation layer between wire requests and
// review.Service operations (spec.md §4.9, §6). Every handler validates
// its own input, calls the matching service method (the agent-status read
// also checks that the review exists), and maps the result (or
// ServiceError) onto the documented HTTP surface.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/preflight/preflight/internal/domain"
	"github.com/preflight/preflight/internal/logging"
	"github.com/preflight/preflight/internal/review"
)

// Version is stamped into the health response; set at build time via
// -ldflags, defaulting to "dev".
var Version = "dev"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server wires review.Service into an HTTP router.
type Server struct {
	svc    *review.Service
	log    logging.Logger
	router *mux.Router
}

// NewServer builds the full route table described in spec.md §6.
func NewServer(svc *review.Service, log logging.Logger) *Server {
	s := &Server{svc: svc, log: log, router: mux.NewRouter()}
	s.routes()
	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := s.router
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/api/reviews", s.handleListReviews).Methods(http.MethodGet)
	r.HandleFunc("/api/reviews", s.handleCreateReview).Methods(http.MethodPost)
	r.HandleFunc("/api/reviews", s.handlePurgeClosedReviews).Methods(http.MethodDelete)
	r.HandleFunc("/api/reviews/{id}", s.handleGetReview).Methods(http.MethodGet)
	r.HandleFunc("/api/reviews/{id}", s.handleDeleteReview).Methods(http.MethodDelete)
	r.HandleFunc("/api/reviews/{id}/status", s.handleUpdateReviewStatus).Methods(http.MethodPatch)
	r.HandleFunc("/api/reviews/{id}/agent-status", s.handleGetAgentStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/reviews/{id}/agent-presence", s.handlePutAgentPresence).Methods(http.MethodPut)
	r.HandleFunc("/api/reviews/{id}/request-revision", s.handleRequestRevision).Methods(http.MethodPost)
	r.HandleFunc("/api/reviews/{id}/files", s.handleGetFileList).Methods(http.MethodGet)
	r.HandleFunc("/api/reviews/{id}/files/{path:.*}", s.handleGetFileDiff).Methods(http.MethodGet)
	r.HandleFunc("/api/reviews/{id}/content/{path:.*}", s.handleGetFileContent).Methods(http.MethodGet)
	r.HandleFunc("/api/reviews/{id}/revisions", s.handleGetRevisions).Methods(http.MethodGet)
	r.HandleFunc("/api/reviews/{id}/revisions", s.handleCreateRevision).Methods(http.MethodPost)
	r.HandleFunc("/api/reviews/{id}/threads", s.handleGetThreads).Methods(http.MethodGet)
	r.HandleFunc("/api/reviews/{id}/threads", s.handleCreateThread).Methods(http.MethodPost)

	r.HandleFunc("/api/threads/{id}/status", s.handleUpdateThreadStatus).Methods(http.MethodPatch)
	r.HandleFunc("/api/threads/{id}/agent-status", s.handleSetThreadAgentStatus).Methods(http.MethodPut)
	r.HandleFunc("/api/threads/{id}/comments", s.handleAddComment).Methods(http.MethodPost)
	r.HandleFunc("/api/threads/{id}/poke", s.handlePokeThread).Methods(http.MethodPost)

	r.HandleFunc("/api/ws", s.handleWebSocket).Methods(http.MethodGet)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
}

func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.ListReviews())
}

type createReviewRequest struct {
	Title    *string `json:"title,omitempty"`
	RepoPath string  `json:"repo_path"`
	BaseRef  string  `json:"base_ref"`
}

func (s *Server) handleCreateReview(w http.ResponseWriter, r *http.Request) {
	var req createReviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	review, err := s.svc.CreateReview(r.Context(), req.RepoPath, req.BaseRef, req.Title)
	if !s.handleErr(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, review)
}

func (s *Server) handlePurgeClosedReviews(w http.ResponseWriter, r *http.Request) {
	if !s.handleErr(w, s.svc.DeleteClosedReviews()) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetReview(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	review, err := s.svc.GetReview(id)
	if !s.handleErr(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, review)
}

func (s *Server) handleDeleteReview(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	if !s.handleErr(w, s.svc.DeleteReview(id)) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleUpdateReviewStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var req updateStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	err := s.svc.UpdateReviewStatus(id, domain.ReviewStatus(req.Status))
	if !s.handleErr(w, err) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetAgentStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	if _, err := s.svc.GetReview(id); !s.handleErr(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"connected": s.svc.IsAgentConnected(id)})
}

type agentPresenceRequest struct {
	Connected bool `json:"connected"`
}

func (s *Server) handlePutAgentPresence(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var req agentPresenceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !s.handleErr(w, s.svc.UpdateAgentPresence(id, req.Connected)) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRequestRevision(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	if !s.handleErr(w, s.svc.RequestRevision(id)) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetFileList(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	revisionNumber := optionalIntQuery(r, "revision")
	entries, err := s.svc.GetFileList(id, revisionNumber)
	if !s.handleErr(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetFileDiff(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	path := mux.Vars(r)["path"]
	revisionNumber := optionalIntQuery(r, "revision")
	fd, err := s.svc.GetFileDiff(id, path, revisionNumber)
	if !s.handleErr(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, fd)
}

func (s *Server) handleGetFileContent(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	path := mux.Vars(r)["path"]
	version := r.URL.Query().Get("version")
	content, err := s.svc.GetFileContent(r.Context(), id, path, version)
	if !s.handleErr(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, content)
}

func (s *Server) handleGetRevisions(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	revisions, err := s.svc.GetRevisions(id)
	if !s.handleErr(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, revisions)
}

type createRevisionRequest struct {
	Trigger string  `json:"trigger"`
	Message *string `json:"message,omitempty"`
}

func (s *Server) handleCreateRevision(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var req createRevisionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rev, err := s.svc.CreateRevision(r.Context(), id, domain.RevisionTrigger(req.Trigger), req.Message)
	if !s.handleErr(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, rev)
}

func (s *Server) handleGetThreads(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var filePath *string
	if f := r.URL.Query().Get("file"); f != "" {
		filePath = &f
	}
	threads, err := s.svc.GetThreads(id, filePath)
	if !s.handleErr(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, threads)
}

type createThreadRequest struct {
	FilePath   string `json:"file_path"`
	LineStart  int    `json:"line_start"`
	LineEnd    int    `json:"line_end"`
	Origin     string `json:"origin"`
	Body       string `json:"body"`
	AuthorType string `json:"author_type"`
}

func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var req createThreadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	th, err := s.svc.CreateThread(id, req.FilePath, req.LineStart, req.LineEnd,
		domain.ThreadOrigin(req.Origin), domain.AuthorType(req.AuthorType), req.Body)
	if !s.handleErr(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, th)
}

func (s *Server) handleUpdateThreadStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var req updateStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !s.handleErr(w, s.svc.UpdateThreadStatus(id, domain.ThreadStatus(req.Status))) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setAgentStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleSetThreadAgentStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var req setAgentStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !s.handleErr(w, s.svc.SetAgentStatus(id, domain.AgentStatusTag(req.Status))) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addCommentRequest struct {
	AuthorType string `json:"author_type"`
	Body       string `json:"body"`
}

func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var req addCommentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	comment, err := s.svc.AddComment(id, domain.AuthorType(req.AuthorType), req.Body)
	if !s.handleErr(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, comment)
}

// handlePokeThread publishes ThreadPoked for a thread without mutating it.
// It exists for the mcp subcommand's poke_thread tool, which otherwise has
// no way to make the serve instance emit the event.
func (s *Server) handlePokeThread(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	if !s.handleErr(w, s.svc.PokeThread(id)) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleWebSocket upgrades the connection and streams WsEvents as JSON
// frames. Client frames are read and discarded; the read loop only
// exists to detect disconnects, per gorilla/websocket's one-reader
// one-writer contract.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.LogError("websocket upgrade failed", "error", err.Error())
		return
	}
	defer conn.Close()

	sub := s.svc.Subscribe()
	defer s.svc.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	for {
		select {
		case event := <-sub.Events:
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-sub.Lag:
			// Lagged events are not retransmitted; the client simply
			// resumes from the next delivered event.
		case <-sub.Done:
			return
		case <-readErr:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request, key string) (domain.ID, bool) {
	raw := mux.Vars(r)[key]
	id, err := domain.ParseID(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id: "+raw)
		return domain.ID{}, false
	}
	return id, true
}

func (s *Server) handleErr(w http.ResponseWriter, err error) bool {
	if err == nil {
		return true
	}
	status := http.StatusInternalServerError
	if se, ok := err.(*domain.ServiceError); ok {
		switch se.Kind {
		case domain.KindNotFound:
			status = http.StatusNotFound
		case domain.KindBadRequest:
			status = http.StatusBadRequest
		case domain.KindInternal:
			status = http.StatusInternalServerError
		}
	}
	if status == http.StatusInternalServerError {
		s.log.LogError("request failed", "error", err.Error())
	}
	writeError(w, status, err.Error())
	return false
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func optionalIntQuery(r *http.Request, key string) *int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &n
}
