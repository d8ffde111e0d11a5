package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/clawsec-labs/clawsec/pkg/approval"
	"github.com/clawsec-labs/clawsec/pkg/contracts"
)

// maxBodyBytes bounds request bodies; tool inputs are small structured
// payloads, not file uploads.
const maxBodyBytes = 1 << 20

type analyzeRequest struct {
	ToolName  string         `json:"toolName"`
	ToolInput map[string]any `json:"toolInput"`
	SessionID string         `json:"sessionId,omitempty"`
	UserID    string         `json:"userId,omitempty"`
}

type pendingApprovalPayload struct {
	ID string `json:"id"`
	// Timeout is the native approval window in seconds.
	Timeout int `json:"timeout"`
}

type analysisPayload struct {
	Action           contracts.Action      `json:"action"`
	Detections       []contracts.Detection `json:"detections"`
	PrimaryDetection *contracts.Detection  `json:"primaryDetection,omitempty"`
	Cached           bool                  `json:"cached"`
	DurationMs       float64               `json:"durationMs"`
}

type analyzeResponse struct {
	Allowed         bool                    `json:"allowed"`
	Message         string                  `json:"message,omitempty"`
	PendingApproval *pendingApprovalPayload `json:"pendingApproval,omitempty"`
	Analysis        analysisPayload         `json:"analysis"`
}

type decisionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type filterRequest struct {
	ToolName string `json:"toolName,omitempty"`
	Output   any    `json:"output"`
}

type filterResponse struct {
	Allowed        bool   `json:"allowed"`
	FilteredOutput string `json:"filteredOutput"`
	Redactions     int    `json:"redactions"`
	Message        string `json:"message,omitempty"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}
	if _, err := validateBody(raw, analyzeValidator); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req analyzeRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome := s.engine.AnalyzeToolCall(r.Context(), req.ToolName, req.ToolInput)

	resp := analyzeResponse{
		Allowed: outcome.Allowed,
		Message: outcome.Message,
		Analysis: analysisPayload{
			Action:           outcome.Result.Action,
			Detections:       outcome.Result.Detections,
			PrimaryDetection: outcome.Result.PrimaryDetection,
			Cached:           outcome.Result.Cached,
			DurationMs:       outcome.Result.DurationMs,
		},
	}
	if resp.Analysis.Detections == nil {
		resp.Analysis.Detections = []contracts.Detection{}
	}
	if outcome.Pending != nil {
		resp.PendingApproval = &pendingApprovalPayload{
			ID:      outcome.Pending.ID,
			Timeout: s.engine.cfg.Approval.Native.Timeout,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))

	// Optional body: {userId}.
	var body struct {
		UserID string `json:"userId"`
	}
	_ = json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body)

	out := s.engine.Approve(r.Context(), id, strings.TrimSpace(body.UserID))
	writeDecision(w, out)
}

func (s *Server) handleDeny(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	out := s.engine.Deny(r.Context(), id)
	writeDecision(w, out)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))

	var body approval.CallbackResponse
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid callback body")
		return
	}

	out := s.engine.Callback(r.Context(), id, body)
	writeDecision(w, out)
}

func (s *Server) handleFilterOutput(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}
	if _, err := validateBody(raw, filterValidator); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req filterRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res := s.engine.FilterOutput(req.ToolName, req.Output)
	resp := filterResponse{
		Allowed:        res.Allowed,
		FilteredOutput: res.Output,
		Redactions:     res.RedactedInjections + res.RedactedSecrets,
	}
	if !res.Allowed && res.Detection != nil {
		resp.Message = "Output blocked: " + res.Detection.Reason
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.engine.cfg
	enabled := cfg.Global.Enabled == nil || *cfg.Global.Enabled
	writeJSON(w, http.StatusOK, map[string]any{
		"active": true,
		"config": map[string]any{
			"port":    cfg.Server.Port,
			"host":    cfg.Server.Host,
			"enabled": enabled,
		},
		"pendingApprovals": s.engine.PendingCount(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}

// writeDecision maps an approval outcome onto the wire: 200 on success,
// 404 when the record is missing, terminal, or expired.
func writeDecision(w http.ResponseWriter, out approval.Outcome) {
	status := http.StatusOK
	if !out.Success {
		status = http.StatusNotFound
	}
	writeJSON(w, status, decisionResponse{Success: out.Success, Message: out.Message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"error": detail})
}
