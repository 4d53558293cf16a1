// File: internal/api/types.go
package api

import (
	"github.com/xkilldash9x/cfgate/internal/service"
)

// Response is the envelope of every JSON response.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// TargetRequest is the body of /detect, /bypass and /screenshot.
type TargetRequest struct {
	URL     string          `json:"url"`
	Options service.Options `json:"options"`
}

// RunsResponse wraps the run history.
type RunsResponse struct {
	Runs  interface{} `json:"runs"`
	Count int         `json:"count"`
}
