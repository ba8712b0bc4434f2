package models

import "time"

// Envelope wraps the aggregate answers when persisted.
type Envelope struct {
	Payload             Answers         `json:"payload"`
	SavedAt             time.Time       `json:"saved_at"`
	SchemaVersion       string          `json:"schema_version"`
	StepCompletionFlags map[string]bool `json:"step_completion_flags"`
}

// Age is the time elapsed since the last successful write.
func (e Envelope) Age(now time.Time) time.Duration {
	return now.Sub(e.SavedAt)
}
