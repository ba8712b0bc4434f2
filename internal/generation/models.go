package generation

import (
	apperrors "swot-insights/internal/common/errors"
	"swot-insights/internal/models"
)

// Request is the body sent to the analysis endpoint.
type Request struct {
	Answers     models.Answers `json:"answers"`
	UserID      string         `json:"user_id"`
	CompanyName string         `json:"company_name"`
}

// Response is the envelope returned by the analysis endpoint.
type Response struct {
	Success  bool   `json:"success"`
	Analysis string `json:"analysis,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Result describes one finished generation. Attempts is filled on failure too.
type Result struct {
	Final    models.FinalResult
	ReportID string
	Attempts int
	// Warning is set when the analysis could not be stored.
	Warning *apperrors.StandardError
}
