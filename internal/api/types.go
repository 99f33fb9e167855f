package api

import (
	"time"

	"github.com/MJE43/eden-env/internal/store"
)

// APIError is the structured error body of every failed request.
type APIError struct {
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

func (e APIError) Error() string {
	return e.Message
}

// Error types.
const (
	ErrTypeTypeMismatch  = "type_mismatch"
	ErrTypeShapeMismatch = "shape_mismatch"
	ErrTypeInvalidParams = "invalid_params"
	ErrTypeNotFound      = "not_found"
	ErrTypeEngine        = "engine_error"
	ErrTypeRateLimit     = "rate_limited"
	ErrTypeInternal      = "internal"
)

// ErrorCategory groups error types for logging.
type ErrorCategory string

const (
	CategoryValidation ErrorCategory = "validation"
	CategoryEngine     ErrorCategory = "engine"
	CategorySystem     ErrorCategory = "system"
)

// GetErrorCategory returns the category for an error type.
func GetErrorCategory(errType string) ErrorCategory {
	switch errType {
	case ErrTypeTypeMismatch, ErrTypeShapeMismatch, ErrTypeInvalidParams, ErrTypeNotFound, ErrTypeRateLimit:
		return CategoryValidation
	case ErrTypeEngine:
		return CategoryEngine
	default:
		return CategorySystem
	}
}

// CreateEnvRequest opens an engine. Kind defaults to the server's kind.
type CreateEnvRequest struct {
	Kind   string `json:"kind,omitempty"`
	Config string `json:"config"`
}

type CreateEnvResponse struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Config     string `json:"config"`
	AgentCount []any  `json:"agent_count"`
}

// EnvInfo describes one open environment.
type EnvInfo struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Config    string    `json:"config"`
	CreatedAt time.Time `json:"created_at"`
	Calls     int       `json:"calls"`
	EpisodeID string    `json:"episode_id,omitempty"`
}

type ListEnvsResponse struct {
	Envs []EnvInfo `json:"envs"`
}

// Request bodies carry dynamic values; numbers arrive as json.Number.
type ResetRequest struct {
	Seed any `json:"seed"`
}

type UpdateRequest struct {
	Action any `json:"action"`
}

type RunScriptRequest struct {
	Script any `json:"script"`
}

type CallRequest struct {
	Op   string `json:"op"`
	Args []any  `json:"args"`
}

type StatusResponse struct {
	Status    string `json:"status"`
	EpisodeID string `json:"episode_id,omitempty"`
}

type ObserveResponse struct {
	Observation []any `json:"observation"`
}

type ResultResponse struct {
	Result []any `json:"result"`
}

type AgentCountResponse struct {
	AgentCount []any `json:"agent_count"`
}

type UIResponse struct {
	UI []any `json:"ui"`
}

type RunScriptResponse struct {
	Output string `json:"output"`
}

type CallResponse struct {
	Op     string `json:"op"`
	Result any    `json:"result"`
}

type ListEpisodesResponse struct {
	Episodes []store.Episode `json:"episodes"`
	Total    int             `json:"total"`
	Limit    int             `json:"limit"`
	Offset   int             `json:"offset"`
}
