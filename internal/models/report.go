package models

import "time"

// Report is a stored, generated analysis.
type Report struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	CompanyName string      `json:"company_name"`
	FinalResult FinalResult `json:"final_result"`
	Answers     Answers     `json:"answers"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// ReportPatch lists the mutable parts of a report. Nil means unchanged.
type ReportPatch struct {
	PrioritizedActions *[]string `json:"prioritized_actions,omitempty"`
	CompanyName        *string   `json:"company_name,omitempty"`
}

// ReportSummary is the admin search hit.
type ReportSummary struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	CompanyName string    `json:"company_name"`
	Segment     string    `json:"segment,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
