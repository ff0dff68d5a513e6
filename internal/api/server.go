package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"relativebrightness/internal/ha"
	"relativebrightness/internal/lightgroup"

	"go.uber.org/zap"
)

// maxBodyBytes bounds a turn_on / turn_off request body
const maxBodyBytes = 64 << 10

// GroupController is what the API needs from the light group manager
type GroupController interface {
	Snapshots() []lightgroup.Snapshot
	TurnOn(id string, req lightgroup.TurnOnRequest, callCtx ha.Context) error
	TurnOff(id string, params lightgroup.TurnOffParams, callCtx ha.Context) error
}

// Server provides HTTP API endpoints for the light groups
type Server struct {
	groups GroupController
	logger *zap.Logger
	server *http.Server
}

// NewServer creates a new API server
func NewServer(groups GroupController, logger *zap.Logger, port int) *Server {
	s := &Server{
		groups: groups,
		logger: logger.Named("api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleSitemap)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/groups", s.handleGetGroups)
	mux.HandleFunc("POST /api/groups/{id}/turn_on", s.handleTurnOn)
	mux.HandleFunc("POST /api/groups/{id}/turn_off", s.handleTurnOff)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the HTTP handler serving all endpoints
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// GroupsResponse represents the JSON response for the groups endpoint
type GroupsResponse struct {
	Groups []lightgroup.Snapshot `json:"groups"`
}

// ErrorResponse is the body of every non-2xx JSON response
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleGetGroups returns every group with its members, live state and history
func (s *Server) handleGetGroups(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, GroupsResponse{Groups: s.groups.Snapshots()})

	s.logger.Debug("Groups request served",
		zap.String("remote_addr", r.RemoteAddr))
}

func (s *Server) handleTurnOn(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	data, callCtx, err := readServiceData(w, r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	req, err := lightgroup.ParseTurnOnRequest(data)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	s.logger.Info("Turn on requested",
		zap.String("group", id),
		zap.String("context_id", callCtx.ID),
		zap.String("user_id", callCtx.UserID))

	s.writeResult(w, id, s.groups.TurnOn(id, req, callCtx))
}

func (s *Server) handleTurnOff(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	data, callCtx, err := readServiceData(w, r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	params, err := lightgroup.ParseTurnOffParams(data)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	s.logger.Info("Turn off requested",
		zap.String("group", id),
		zap.String("context_id", callCtx.ID),
		zap.String("user_id", callCtx.UserID))

	s.writeResult(w, id, s.groups.TurnOff(id, params, callCtx))
}

// readServiceData decodes an optional JSON object body. A "user_id" key is
// taken out of the data and put on the returned context.
func readServiceData(w http.ResponseWriter, r *http.Request) (map[string]interface{}, ha.Context, error) {
	data := make(map[string]interface{})

	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&data); err != nil && !errors.Is(err, io.EOF) {
		return nil, ha.Context{}, fmt.Errorf("invalid request body: %w", err)
	}

	userID := ""
	if raw, ok := data["user_id"]; ok {
		s, ok := raw.(string)
		if !ok {
			return nil, ha.Context{}, fmt.Errorf("invalid user_id: expected a string")
		}
		userID = s
		delete(data, "user_id")
	}

	return data, ha.NewContext(userID), nil
}

func (s *Server) writeResult(w http.ResponseWriter, id string, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, lightgroup.ErrUnknownGroup):
		s.writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
	default:
		s.logger.Error("Light group request failed", zap.String("group", id), zap.Error(err))
		s.writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: err.Error()})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// handleHealth returns a simple health check response
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Endpoint represents an API endpoint with its documentation
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

var endpoints = []Endpoint{
	{
		Path:        "/",
		Method:      "GET",
		Description: "This sitemap - lists all available API endpoints",
	},
	{
		Path:        "/health",
		Method:      "GET",
		Description: "Health check endpoint - returns {\"status\": \"ok\"}",
	},
	{
		Path:        "/api/groups",
		Method:      "GET",
		Description: "List light groups with members, aggregate state and recent invocations",
	},
	{
		Path:        "/api/groups/{id}/turn_on",
		Method:      "POST",
		Description: "Turn a group on; JSON body of light attributes, brightness is redistributed",
	},
	{
		Path:        "/api/groups/{id}/turn_off",
		Method:      "POST",
		Description: "Turn a group off; optional JSON body with transition",
	},
}

// handleSitemap returns a list of all available API endpoints
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	// Only handle requests to the root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	preferHTML := strings.Contains(r.Header.Get("Accept"), "text/html")

	if preferHTML {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Relative Brightness Light Groups</title>
    <style>
        body { font-family: monospace; margin: 40px; background: #1e1e1e; color: #d4d4d4; }
        h1 { color: #4ec9b0; }
        .endpoint { background: #2d2d2d; padding: 15px; margin: 10px 0; border-left: 3px solid #007acc; }
        .method { color: #4ec9b0; font-weight: bold; }
        .path { color: #ce9178; }
        .description { color: #9cdcfe; margin-top: 5px; }
    </style>
</head>
<body>
    <h1>Relative Brightness Light Groups</h1>
`)
		for _, ep := range endpoints {
			fmt.Fprintf(w, `    <div class="endpoint">
        <div><span class="method">%s</span> <span class="path">%s</span></div>
        <div class="description">%s</div>
    </div>
`, ep.Method, ep.Path, ep.Description)
		}
		fmt.Fprintf(w, "</body>\n</html>\n")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "Relative Brightness Light Groups API\n")
		fmt.Fprintf(w, "====================================\n\n")
		for _, ep := range endpoints {
			fmt.Fprintf(w, "  %-6s %-28s %s\n", ep.Method, ep.Path, ep.Description)
		}
		fmt.Fprintf(w, "\nExample:\n\n")
		fmt.Fprintf(w, "  curl -X POST -d '{\"brightness\": 150}' http://localhost:8081/api/groups/living_room/turn_on\n\n")
	}

	s.logger.Debug("Sitemap request served",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Bool("html_format", preferHTML))
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
