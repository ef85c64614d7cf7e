package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apperrors "github.com/davidleathers/sod-sentinel/internal/errors"
	"github.com/davidleathers/sod-sentinel/internal/infrastructure/telemetry"
	"github.com/davidleathers/sod-sentinel/internal/service/detection"
	"github.com/davidleathers/sod-sentinel/internal/service/ingestion"
	"github.com/davidleathers/sod-sentinel/internal/service/justify"
	"github.com/davidleathers/sod-sentinel/internal/service/policystore"
)

// Handler owns the API surface and the per-session review state: the
// findings cache and decision list, both replaced wholesale whenever a
// new detection run starts. The detection core itself holds no state;
// everything session-scoped lives here.
type Handler struct {
	logger    *zap.Logger
	ingest    *ingestion.Service
	policies  *policystore.Store
	engine    *detection.Engine
	justifier *justify.Service
	validate  *validator.Validate
	upgrader  websocket.Upgrader

	version        string
	maxUploadBytes int64

	// mu serializes ingestion and detection per session; the core
	// services carry no concurrency logic of their own.
	mu        sync.Mutex
	findings  map[string]*FindingResponse
	order     []string
	decisions []DecisionRequest
}

// NewHandler wires the API handler.
func NewHandler(
	logger *zap.Logger,
	ingest *ingestion.Service,
	policies *policystore.Store,
	engine *detection.Engine,
	justifier *justify.Service,
	version string,
	maxUploadBytes int64,
) *Handler {
	return &Handler{
		logger:         logger,
		ingest:         ingest,
		policies:       policies,
		engine:         engine,
		justifier:      justifier,
		validate:       validator.New(),
		upgrader:       websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096},
		version:        version,
		maxUploadBytes: maxUploadBytes,
		findings:       make(map[string]*FindingResponse),
	}
}

// Register attaches all routes to the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/ingest", h.handleIngest)
	mux.HandleFunc("GET /api/v1/findings", h.handleFindings)
	mux.HandleFunc("GET /api/v1/findings/ws", h.handleFindingsWS)
	mux.HandleFunc("POST /api/v1/decisions", h.handleDecision)
	mux.HandleFunc("GET /api/v1/evidence", h.handleEvidence)
	mux.HandleFunc("POST /api/v1/simulate", h.handleSimulate)
	mux.HandleFunc("GET /api/v1/ingest/errors/assignments", h.handleAssignmentErrors)
	mux.HandleFunc("GET /api/v1/ingest/errors/policies", h.handlePolicyErrors)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("writing response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	telemetry.WithContext(r.Context(), h.logger).Warn("request failed",
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.String("code", code),
		zap.String("message", message))
	h.writeJSON(w, status, errorResponse{Code: code, Message: message})
}

func (h *Handler) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && apperrors.IsValidation(err) {
		h.writeError(w, r, http.StatusBadRequest, appErr.Code, appErr.Message)
		return
	}
	h.writeError(w, r, http.StatusInternalServerError, apperrors.CodeInternal, err.Error())
}
