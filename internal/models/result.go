package models

import (
	"strings"
	"time"
)

// FinalResult is the parsed analysis. Only PrioritizedActions changes after
// creation.
type FinalResult struct {
	MatrixText         string    `json:"matrix_text"`
	DiagnosticText     string    `json:"diagnostic_text"`
	ActionPlanText     string    `json:"action_plan_text"`
	Ready              bool      `json:"ready"`
	SourceTag          string    `json:"source_tag"`
	CreatedAt          time.Time `json:"created_at"`
	PrioritizedActions []string  `json:"prioritized_actions,omitempty"`
}

// ToggleAction adds or removes action and reports whether it is now prioritized.
func (f *FinalResult) ToggleAction(action string) bool {
	action = strings.TrimSpace(action)
	if action == "" {
		return false
	}
	for i, a := range f.PrioritizedActions {
		if a == action {
			f.PrioritizedActions = append(f.PrioritizedActions[:i:i], f.PrioritizedActions[i+1:]...)
			if len(f.PrioritizedActions) == 0 {
				f.PrioritizedActions = nil
			}
			return false
		}
	}
	f.PrioritizedActions = append(f.PrioritizedActions, action)
	return true
}

func (f FinalResult) Clone() FinalResult {
	if f.PrioritizedActions != nil {
		f.PrioritizedActions = append([]string(nil), f.PrioritizedActions...)
	}
	return f
}

func trimSpace(s string) string {
	return strings.TrimSpace(s)
}
