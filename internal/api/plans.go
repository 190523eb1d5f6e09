package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/stepwise/internal/codec"
	"github.com/seantiz/stepwise/internal/engine"
	"github.com/seantiz/stepwise/internal/model"
)

const (
	maxBodySize     = 1 << 20 // 1 MB
	maxDocumentSize = codec.MaxFileSize
)

// createPlanRequest is the JSON body for POST /v1/plans. VisualGraph may be
// any JSON value; a JSON string is stored unquoted, anything else verbatim.
type createPlanRequest struct {
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Steps        []string        `json:"steps"`
	VisualGraph  json.RawMessage `json:"visualGraph"`
	ExecutorKeys []string        `json:"executorKeys"`
	Metadata     map[string]any  `json:"metadata"`
}

type listPlansResponse struct {
	Plans []*model.Plan `json:"plans"`
	Total int           `json:"total"`
}

type setStatusRequest struct {
	Status string `json:"status"`
}

type completeStepRequest struct {
	Result string `json:"result"`
}

type breakpointRequest struct {
	IsBreakpoint *bool `json:"isBreakpoint"`
}

type fileRequest struct {
	Path string `json:"path"`
}

// stepResponse wraps an optional step so that "no current step" is an
// explicit null rather than an empty body.
type stepResponse struct {
	Step *model.Step `json:"step"`
}

func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req createPlanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	p, err := s.engine.CreatePlan(r.Context(), engine.CreatePlanRequest{
		Title:        req.Title,
		Description:  req.Description,
		Steps:        req.Steps,
		VisualGraph:  graphBlob(req.VisualGraph),
		ExecutorKeys: req.ExecutorKeys,
		Metadata:     req.Metadata,
	})
	if err != nil {
		s.writeEngineError(w, err, "create plan")
		return
	}

	s.writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans := s.engine.ListPlans(r.Context())
	total := len(plans)

	offset := min(max(parseIntQuery(r, "offset", 0), 0), total)
	plans = plans[offset:]
	if limit := parseIntQuery(r, "limit", 0); limit > 0 && limit < len(plans) {
		plans = plans[:limit]
	}

	s.writeJSON(w, http.StatusOK, listPlansResponse{Plans: plans, Total: total})
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.GetPlan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, err, "get plan")
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePlan(w http.ResponseWriter, r *http.Request) {
	if !s.engine.DeletePlan(r.Context(), chi.URLParam(r, "id")) {
		s.writeError(w, http.StatusNotFound, "plan not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetStepStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	idx, ok := s.stepIndex(w, r)
	if !ok {
		return
	}

	var req setStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	status, err := model.ParseStepStatus(req.Status)
	if err != nil {
		s.writeEngineError(w, err, "set step status")
		return
	}

	p, err := s.engine.SetStepStatus(r.Context(), id, idx, status)
	if err != nil {
		s.writeEngineError(w, err, "set step status")
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleCompleteStep(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	idx, ok := s.stepIndex(w, r)
	if !ok {
		return
	}

	// The body is optional: an absent result is recorded as empty.
	var req completeStepRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	p, err := s.engine.CompleteStep(r.Context(), id, idx, req.Result)
	if err != nil {
		s.writeEngineError(w, err, "complete step")
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleToggleBreakpoint(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	idx, ok := s.stepIndex(w, r)
	if !ok {
		return
	}

	var req breakpointRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.IsBreakpoint == nil {
		s.writeError(w, http.StatusBadRequest, "isBreakpoint is required")
		return
	}

	p, err := s.engine.ToggleBreakpoint(r.Context(), id, idx, *req.IsBreakpoint)
	if err != nil {
		s.writeEngineError(w, err, "toggle breakpoint")
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleCurrentStep(w http.ResponseWriter, r *http.Request) {
	step, err := s.engine.CurrentStep(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, err, "resolve current step")
		return
	}
	s.writeJSON(w, http.StatusOK, stepResponse{Step: step})
}

func (s *Server) handleStartNextStep(w http.ResponseWriter, r *http.Request) {
	step, err := s.engine.StartNextStep(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, err, "start next step")
		return
	}
	s.writeJSON(w, http.StatusOK, stepResponse{Step: step})
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	pr, err := s.engine.Progress(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, err, "get progress")
		return
	}
	s.writeJSON(w, http.StatusOK, pr)
}

func (s *Server) handleGetPerformance(w http.ResponseWriter, r *http.Request) {
	rep, err := s.engine.PerformanceReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, err, "get performance report")
		return
	}
	s.writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleRenderTodo(w http.ResponseWriter, r *http.Request) {
	md, err := s.engine.RenderTodoMarkdown(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, err, "render todo")
		return
	}
	s.writeText(w, http.StatusOK, "text/markdown; charset=utf-8", md)
}

// handleSyncTodo applies an edited checklist to the plan's step statuses.
func (s *Server) handleSyncTodo(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	p, err := s.engine.SyncTodoMarkdown(r.Context(), chi.URLParam(r, "id"), body)
	if err != nil {
		s.writeEngineError(w, err, "sync todo")
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleExportWorkflow(w http.ResponseWriter, r *http.Request) {
	doc, err := s.engine.ExportWorkflow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, err, "export plan")
		return
	}
	s.writeText(w, http.StatusOK, "application/json", doc)
}

func (s *Server) handleImportWorkflow(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	p, err := s.engine.ImportWorkflow(r.Context(), body)
	if err != nil {
		s.writeEngineError(w, err, "import plan")
		return
	}
	s.writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleImportTodo(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	p, err := s.engine.ImportTodoMarkdown(r.Context(), body)
	if err != nil {
		s.writeEngineError(w, err, "import todo")
		return
	}
	s.writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleSaveToFile(w http.ResponseWriter, r *http.Request) {
	var req fileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	path, err := s.planPath(req.Path)
	if err != nil {
		s.writeEngineError(w, err, "save plan")
		return
	}

	if err := s.engine.SaveToFile(r.Context(), chi.URLParam(r, "id"), path); err != nil {
		s.writeEngineError(w, err, "save plan")
		return
	}
	s.writeJSON(w, http.StatusOK, fileRequest{Path: req.Path})
}

func (s *Server) handleLoadFromFile(w http.ResponseWriter, r *http.Request) {
	var req fileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	path, err := s.planPath(req.Path)
	if err != nil {
		s.writeEngineError(w, err, "load plan")
		return
	}

	p, err := s.engine.LoadFromFile(r.Context(), path)
	if err != nil {
		s.writeEngineError(w, err, "load plan")
		return
	}
	s.writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleUpdateVisualGraph(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if _, err := s.engine.UpdateVisualGraph(r.Context(), chi.URLParam(r, "id"), body); err != nil {
		s.writeEngineError(w, err, "update visual graph")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// planPath resolves a client-supplied path inside the plan directory. Absolute
// paths and paths escaping the directory are rejected.
func (s *Server) planPath(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("%w: path is required", model.ErrInvalidArgument)
	}
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: path %q must be relative to the plan directory", model.ErrInvalidArgument, rel)
	}
	return filepath.Join(s.planDir, rel), nil
}

// stepIndex parses the {index} URL parameter, writing a 400 on failure.
func (s *Server) stepIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	idx, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "step index must be an integer")
		return 0, false
	}
	return idx, true
}

// readBody reads a raw request body of at most maxDocumentSize bytes.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) (string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxDocumentSize)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return "", false
		}
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return "", false
	}
	return string(data), true
}

// writeEngineError maps the engine's error kinds onto HTTP status codes.
// Client errors echo the message; server errors are logged and masked.
func (s *Server) writeEngineError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrInvalidArgument),
		errors.Is(err, model.ErrOutOfRange),
		errors.Is(err, model.ErrInvalidFormat):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error(op, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}

// decodeJSON decodes a bounded JSON request body into v. An empty body
// yields io.EOF.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	return json.NewDecoder(r.Body).Decode(v)
}

// graphBlob turns the visualGraph request field into the stored blob.
func graphBlob(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) writeText(w http.ResponseWriter, status int, contentType, body string) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	if _, err := io.WriteString(w, body); err != nil {
		s.logger.Error("write response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
