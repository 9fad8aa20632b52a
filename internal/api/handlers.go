package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
	"github.com/irun2themoney/autoppia-miner/internal/agent"
	"github.com/irun2themoney/autoppia-miner/internal/feedback"
	"github.com/irun2themoney/autoppia-miner/internal/memory"
	"github.com/irun2themoney/autoppia-miner/internal/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxBodyBytes bounds request bodies on every POST endpoint.
const maxBodyBytes = 1 << 20

// MetricsResponse is returned by GET /metrics.
type MetricsResponse struct {
	metrics.Snapshot
	Cache *memory.CacheStats `json:"cache,omitempty"`
}

// DashboardResponse is returned by GET /api/dashboard/metrics.
type DashboardResponse struct {
	Metrics   metrics.Snapshot   `json:"metrics"`
	Cache     *memory.CacheStats `json:"cache,omitempty"`
	Feedback  *FeedbackSummary   `json:"feedback,omitempty"`
	Diversity *float64           `json:"diversity,omitempty"`
	AgentType string             `json:"agent_type"`
	Version   string             `json:"version"`
}

// FeedbackSummary is the validated outcome view on the dashboard.
type FeedbackSummary struct {
	Total       int     `json:"total"`
	Succeeded   int     `json:"succeeded"`
	SuccessRate float64 `json:"success_rate"`
}

func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req schemas.SolveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.logger.Warn("Malformed solve request", zap.Error(err))
		s.respondWithSolve(w, schemas.SolveResponse{
			Actions:        schemas.MinimalSequence(),
			Recording:      string(schemas.TierFallback),
			ResponseTimeMS: formatMillis(time.Since(start)),
		})
		return
	}

	id := req.RequestID()
	if req.IsRoundStart() {
		s.logger.Info("Round start acknowledged",
			zap.String("round_id", req.RoundID),
			zap.String("task_type", req.TaskType))
		s.respondWithSolve(w, schemas.SolveResponse{
			Actions:        []schemas.Action{schemas.Screenshot()},
			Recording:      string(schemas.TierRound),
			ID:             id,
			TaskID:         id,
			TaskType:       req.TaskType,
			Success:        true,
			ResponseTimeMS: formatMillis(time.Since(start)),
		})
		return
	}

	resp := s.Solver.Solve(r.Context(), agent.Task{ID: id, Prompt: req.Prompt, URL: req.URL})
	out := NewSolveResponse(id, resp, s.agentCfg.WebAgentID, time.Since(start))
	s.logger.Debug("Solved task",
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("task_id", id),
		zap.String("tier", out.Recording),
		zap.Int("actions", len(out.Actions)))
	s.respondWithSolve(w, out)
}

// NewSolveResponse maps a router answer onto the wire response. The action
// list is never empty.
func NewSolveResponse(id string, resp *agent.Response, webAgentID string, elapsed time.Duration) schemas.SolveResponse {
	out := schemas.SolveResponse{
		WebAgentID:     webAgentID,
		Recording:      string(schemas.TierFallback),
		ID:             id,
		TaskID:         id,
		ResponseTimeMS: formatMillis(elapsed),
	}
	if resp != nil {
		out.Actions = resp.Actions
		out.Recording = string(resp.Tier)
		out.TaskType = string(resp.TaskType)
		out.Success = resp.Success
	}
	if len(out.Actions) == 0 {
		out.Actions = schemas.MinimalSequence()
		out.Success = false
	}
	return out
}

// respondWithSolve always answers 200; the caller grades the actions.
func (s *Server) respondWithSolve(w http.ResponseWriter, resp schemas.SolveResponse) {
	resp.WebAgentID = s.agentCfg.WebAgentID
	s.respondWithJSON(w, http.StatusOK, resp)
}

// solveRecoverer turns a panic in the solve path into the minimal response
// instead of chi's bare 500.
func (s *Server) solveRecoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			s.logger.Error("Panic in solve handler", zap.Any("panic", rec), zap.Stack("stack"))
			s.respondWithSolve(w, schemas.SolveResponse{
				Actions:        schemas.MinimalSequence(),
				Recording:      string(schemas.TierFallback),
				ResponseTimeMS: "0",
			})
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondWithJSON(w, http.StatusOK, schemas.HealthResponse{
		Status:    "healthy",
		Version:   s.cfg.Version,
		AgentType: s.agentCfg.Type,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	resp := MetricsResponse{}
	if s.Metrics != nil {
		resp.Snapshot = s.Metrics.Snapshot()
	}
	if s.Cache != nil {
		st := s.Cache.Stats()
		resp.Cache = &st
	}
	s.respondWithJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	resp := DashboardResponse{
		AgentType: s.agentCfg.Type,
		Version:   s.cfg.Version,
	}
	if s.Metrics != nil {
		resp.Metrics = s.Metrics.Snapshot()
	}
	if s.Cache != nil {
		st := s.Cache.Stats()
		resp.Cache = &st
	}
	if s.Feedback != nil {
		st := s.Feedback.Snapshot()
		sum := &FeedbackSummary{Total: st.Total, Succeeded: st.Succeeded}
		if rate, ok := s.Feedback.SuccessRate(); ok {
			sum.SuccessRate = rate
		}
		resp.Feedback = sum
	}
	if s.Governor != nil {
		d := s.Governor.DiversityScore()
		resp.Diversity = &d
	}
	s.respondWithJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if s.Feedback == nil {
		s.respondWithError(w, http.StatusServiceUnavailable, "feedback is disabled")
		return
	}
	var req schemas.FeedbackRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := s.Feedback.Record(r.Context(), feedback.FromRequest(req)); err != nil {
		if errors.Is(err, feedback.ErrInvalidOutcome) {
			s.respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("Failed to record feedback", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Failed to record feedback")
		return
	}
	s.respondWithJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, map[string]string{"error": message})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("Failed to marshal JSON response", zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Internal server error during JSON marshaling"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

// formatMillis renders a duration the way the validator expects
// response_time_ms: a decimal string with two places.
func formatMillis(d time.Duration) string {
	return strconv.FormatFloat(float64(d.Microseconds())/1000, 'f', 2, 64)
}
