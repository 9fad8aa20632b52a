package schemas

import (
	"strings"
)

// -- HTTP Boundary Schemas --

// SolveRequest is the body of POST /solve_task. Unknown fields are tolerated.
// A synapse round-start carries RoundID and no Prompt.
type SolveRequest struct {
	ID      string `json:"id"`
	TaskID  string `json:"task_id,omitempty"`
	Prompt  string `json:"prompt"`
	URL     string `json:"url"`
	RoundID string `json:"round_id,omitempty"`
	// TaskType is only meaningful on round-start envelopes.
	TaskType string   `json:"task_type,omitempty"`
	Actions  []Action `json:"actions,omitempty"`
}

// RequestID returns the caller's id, preferring id over task_id.
func (r SolveRequest) RequestID() string {
	if r.ID != "" {
		return r.ID
	}
	return r.TaskID
}

// IsRoundStart reports whether the envelope is a round-start acknowledgement.
func (r SolveRequest) IsRoundStart() bool {
	return r.RoundID != "" && strings.TrimSpace(r.Prompt) == ""
}

// Tier names the path that produced a response.
type Tier string

const (
	TierCache    Tier = "cache"
	TierMemory   Tier = "memory"
	TierPattern  Tier = "pattern"
	TierTemplate Tier = "template"
	TierLLM      Tier = "llm"
	TierEnsemble Tier = "ensemble"
	TierFallback Tier = "fallback"
	TierRound    Tier = "round_start"
)

// SolveResponse is the body returned from POST /solve_task.
// ResponseTimeMS is a string on the wire.
type SolveResponse struct {
	Actions        []Action `json:"actions"`
	WebAgentID     string   `json:"web_agent_id"`
	Recording      string   `json:"recording"`
	ID             string   `json:"id"`
	TaskID         string   `json:"task_id"`
	TaskType       string   `json:"task_type"`
	Success        bool     `json:"success"`
	ResponseTimeMS string   `json:"response_time_ms"`
}

// FeedbackRequest is the body of POST /feedback.
type FeedbackRequest struct {
	TaskID  string   `json:"task_id"`
	Prompt  string   `json:"prompt"`
	URL     string   `json:"url"`
	Actions []Action `json:"actions"`
	Success bool     `json:"success"`
	Score   *float64 `json:"score,omitempty"`
	Error   string   `json:"error,omitempty"`
	// Timings are observed settle times in seconds per action type.
	Timings map[ActionType]float64 `json:"timings,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	AgentType string `json:"agent_type"`
}
