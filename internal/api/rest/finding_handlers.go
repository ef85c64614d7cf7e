package rest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/sod-sentinel/internal/domain/access"
	apperrors "github.com/davidleathers/sod-sentinel/internal/errors"
)

// runDetection executes a fresh detection run and resets the session
// review state. Profiles are returned in sorted user-ID order so streams
// are reproducible.
func (h *Handler) runDetection() []*access.UserViolationProfile {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.findings = make(map[string]*FindingResponse)
	h.order = nil
	h.decisions = nil

	profiles := h.engine.DetectViolations(h.ingest.UserStates())

	userIDs := make([]string, 0, len(profiles))
	for userID := range profiles {
		userIDs = append(userIDs, userID)
	}
	sort.Strings(userIDs)

	ordered := make([]*access.UserViolationProfile, 0, len(profiles))
	for _, userID := range userIDs {
		ordered = append(ordered, profiles[userID])
	}
	return ordered
}

func (h *Handler) cacheFinding(resp *FindingResponse) {
	h.mu.Lock()
	defer h.mu.Unlock()
	userID := resp.Profile.User.UserID
	if _, ok := h.findings[userID]; !ok {
		h.order = append(h.order, userID)
	}
	h.findings[userID] = resp
}

func (h *Handler) hasIngestedData() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ingest.LastSummary() != nil
}

// handleFindings streams findings as server-sent events: detection runs
// once up front, then each profile is justified and emitted as its own
// event, ending with a done event.
func (h *Handler) handleFindings(w http.ResponseWriter, r *http.Request) {
	if !h.hasIngestedData() {
		h.writeError(w, r, http.StatusBadRequest, apperrors.CodeInvalidInput,
			"No data ingested. Call /ingest first.")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, r, http.StatusInternalServerError, apperrors.CodeInternal,
			"streaming unsupported")
		return
	}

	profiles := h.runDetection()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if len(profiles) == 0 {
		fmt.Fprint(w, "data: {}\n\n")
		flusher.Flush()
		return
	}

	h.logger.Info("streaming findings", zap.Int("count", len(profiles)))

	for _, profile := range profiles {
		resp, err := h.justifyProfile(r, profile)
		if err != nil {
			payload, _ := json.Marshal(map[string]any{
				"error":   true,
				"user_id": profile.User.UserID,
				"message": err.Error(),
			})
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			continue
		}

		payload, err := json.Marshal(resp)
		if err != nil {
			h.logger.Error("encoding finding", zap.Error(err))
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}

	fmt.Fprint(w, "event: done\ndata: {\"message\": \"Stream complete\"}\n\n")
	flusher.Flush()
}

// handleFindingsWS streams the same findings over a websocket, one JSON
// message per finding followed by a done message.
func (h *Handler) handleFindingsWS(w http.ResponseWriter, r *http.Request) {
	if !h.hasIngestedData() {
		h.writeError(w, r, http.StatusBadRequest, apperrors.CodeInvalidInput,
			"No data ingested. Call /ingest first.")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	profiles := h.runDetection()

	for _, profile := range profiles {
		resp, err := h.justifyProfile(r, profile)
		if err != nil {
			_ = conn.WriteJSON(map[string]any{
				"error":   true,
				"user_id": profile.User.UserID,
				"message": err.Error(),
			})
			continue
		}
		if err := conn.WriteJSON(resp); err != nil {
			h.logger.Warn("websocket write failed", zap.Error(err))
			return
		}
	}

	_ = conn.WriteJSON(map[string]string{"event": "done", "message": "Stream complete"})
}

func (h *Handler) justifyProfile(r *http.Request, profile *access.UserViolationProfile) (*FindingResponse, error) {
	justification, err := h.justifier.GenerateUserRemediation(r.Context(), profile)
	if err != nil {
		h.logger.Error("justification failed",
			zap.String("user_id", profile.User.UserID),
			zap.Error(err))
		return nil, err
	}

	resp := &FindingResponse{Profile: profile, Justification: justification}
	h.cacheFinding(resp)
	return resp, nil
}

func (h *Handler) handleDecision(w http.ResponseWriter, r *http.Request) {
	var decision DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&decision); err != nil {
		h.writeError(w, r, http.StatusBadRequest, apperrors.CodeInvalidInput,
			fmt.Sprintf("decoding decision: %v", err))
		return
	}
	if err := h.validate.Struct(decision); err != nil {
		h.writeError(w, r, http.StatusBadRequest, apperrors.CodeInvalidInput, err.Error())
		return
	}
	if decision.DecidedAt.IsZero() {
		decision.DecidedAt = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.findings[decision.UserID]; !ok {
		h.writeError(w, r, http.StatusNotFound, apperrors.CodeNotFound,
			fmt.Sprintf("User %s not found in the current scan.", decision.UserID))
		return
	}

	// One decision per user: a resubmission replaces the previous one.
	kept := h.decisions[:0]
	for _, d := range h.decisions {
		if d.UserID != decision.UserID {
			kept = append(kept, d)
		}
	}
	h.decisions = append(kept, decision)

	h.logger.Info("decision recorded",
		zap.String("user_id", decision.UserID),
		zap.String("decision", decision.Decision))

	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":          "success",
		"message":         "Decision recorded",
		"decision":        decision,
		"total_decisions": len(h.decisions),
	})
}

func (h *Handler) handleEvidence(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	summary := h.ingest.LastSummary()
	if summary == nil {
		h.writeError(w, r, http.StatusBadRequest, apperrors.CodeInvalidInput,
			"No data ingested. Call /ingest first.")
		return
	}
	if len(h.findings) == 0 {
		h.writeError(w, r, http.StatusBadRequest, apperrors.CodeInvalidInput,
			"No findings generated. Call /findings first.")
		return
	}

	findings := make([]redactedFinding, 0, len(h.findings))
	for _, userID := range h.order {
		findings = append(findings, redactFinding(h.findings[userID]))
	}

	decisions := make([]DecisionRequest, len(h.decisions))
	copy(decisions, h.decisions)

	evidence := EvidenceLog{
		GeneratedAt:      time.Now().UTC(),
		IngestionSummary: summary,
		PoliciesUsed:     h.policies.All(),
		PoliciesHash:     h.policies.Hash(),
		Findings:         findings,
		Decisions:        decisions,
		Metadata: map[string]any{
			"llm_provider":    h.justifier.ModelIdentifier(),
			"llm_status":      h.justifier.Status(),
			"total_users":     summary.UsersProcessed,
			"total_findings":  len(findings),
			"total_decisions": len(decisions),
		},
	}

	h.logger.Info("evidence log generated",
		zap.Int("findings", len(findings)),
		zap.Int("decisions", len(decisions)))

	h.writeJSON(w, http.StatusOK, evidence)
}

func (h *Handler) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var req SimulationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, apperrors.CodeInvalidInput,
			fmt.Sprintf("decoding simulation request: %v", err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, apperrors.CodeInvalidInput, err.Error())
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ingest.LastSummary() == nil {
		h.writeError(w, r, http.StatusBadRequest, apperrors.CodeInvalidInput,
			"No data ingested.")
		return
	}

	state := h.ingest.FullUserState(req.UserID)
	if state == nil {
		h.writeError(w, r, http.StatusNotFound, apperrors.CodeNotFound,
			fmt.Sprintf("User %s not found", req.UserID))
		return
	}

	result, err := h.engine.SimulateRoleRemoval(state, req.RoleToRemove)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}
