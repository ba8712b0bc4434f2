// internal/models/answers.go
package models

import (
	"encoding/json"
	"fmt"
)

// StepName identifies one survey step. Values double as JSON keys.
type StepName string

const (
	StepIdentification  StepName = "identification"
	StepStrengths       StepName = "strengths"
	StepWeaknesses      StepName = "weaknesses"
	StepOpportunities   StepName = "opportunities"
	StepThreats         StepName = "threats"
	StepFinancialHealth StepName = "financial_health"
	StepPriorities      StepName = "priorities"
)

// Steps lists the survey steps in presentation order.
var Steps = []StepName{
	StepIdentification,
	StepStrengths,
	StepWeaknesses,
	StepOpportunities,
	StepThreats,
	StepFinancialHealth,
	StepPriorities,
}

// CompanyNameField is the identification question every generation requires.
const CompanyNameField = "company_name"

const finalResultKey = "final_result"

// IsStep reports whether name is one of the survey steps.
func IsStep(name string) bool {
	for _, s := range Steps {
		if string(s) == name {
			return true
		}
	}
	return false
}

// FlagKey is the completion marker stored inside the step record.
func (s StepName) FlagKey() string {
	return fmt.Sprintf("step_%s_ok", s)
}

// StepRecord maps question keys to answers: string, float64 or []interface{}.
type StepRecord map[string]interface{}

// NewStepRecord copies raw into JSON-canonical types so that persisted
// records compare equal after a round trip.
func NewStepRecord(raw map[string]interface{}) StepRecord {
	if raw == nil {
		return StepRecord{}
	}
	data, err := json.Marshal(raw)
	if err != nil {
		out := make(StepRecord, len(raw))
		for k, v := range raw {
			out[k] = v
		}
		return out
	}
	var out StepRecord
	if err := json.Unmarshal(data, &out); err != nil || out == nil {
		return StepRecord{}
	}
	return out
}

// Complete reports whether the step's completion marker is set.
func (r StepRecord) Complete(step StepName) bool {
	ok, _ := r[step.FlagKey()].(bool)
	return ok
}

// Clone returns a deep copy.
func (r StepRecord) Clone() StepRecord {
	return NewStepRecord(r)
}

// Merge overlays patch onto a copy of r.
func (r StepRecord) Merge(patch StepRecord) StepRecord {
	out := r.Clone()
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Answers is the aggregate survey state. Its JSON form is flat: one key per
// step plus "final_result".
type Answers struct {
	Steps       map[StepName]StepRecord
	FinalResult *FinalResult
}

func NewAnswers() Answers {
	return Answers{Steps: make(map[StepName]StepRecord)}
}

// Step returns the record for name, or nil.
func (a Answers) Step(name StepName) StepRecord {
	if a.Steps == nil {
		return nil
	}
	return a.Steps[name]
}

// SetStep stores a canonical copy of rec.
func (a *Answers) SetStep(name StepName, rec StepRecord) {
	if a.Steps == nil {
		a.Steps = make(map[StepName]StepRecord)
	}
	a.Steps[name] = NewStepRecord(rec)
}

// CompanyName returns the trimmed identification company name.
func (a Answers) CompanyName() string {
	s, _ := a.Step(StepIdentification)[CompanyNameField].(string)
	return trimSpace(s)
}

// CompletionFlags collects every step's completion marker.
func (a Answers) CompletionFlags() map[string]bool {
	flags := make(map[string]bool, len(Steps))
	for _, s := range Steps {
		flags[s.FlagKey()] = a.Step(s).Complete(s)
	}
	return flags
}

// IsEmpty reports whether nothing was answered yet.
func (a Answers) IsEmpty() bool {
	return len(a.Steps) == 0 && a.FinalResult == nil
}

// Clone returns a deep copy.
func (a Answers) Clone() Answers {
	out := NewAnswers()
	for k, v := range a.Steps {
		out.Steps[k] = v.Clone()
	}
	if a.FinalResult != nil {
		fr := a.FinalResult.Clone()
		out.FinalResult = &fr
	}
	return out
}

func (a Answers) MarshalJSON() ([]byte, error) {
	flat := make(map[string]interface{}, len(a.Steps)+1)
	for k, v := range a.Steps {
		flat[string(k)] = v
	}
	if a.FinalResult != nil {
		flat[finalResultKey] = a.FinalResult
	}
	return json.Marshal(flat)
}

// UnmarshalJSON accepts the flat form; unknown keys are ignored.
func (a *Answers) UnmarshalJSON(data []byte) error {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	out := NewAnswers()
	for k, raw := range flat {
		switch {
		case k == finalResultKey:
			if string(raw) == "null" {
				continue
			}
			var fr FinalResult
			if err := json.Unmarshal(raw, &fr); err != nil {
				return fmt.Errorf("decode %s: %w", k, err)
			}
			out.FinalResult = &fr
		case IsStep(k):
			var rec StepRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				return fmt.Errorf("decode step %s: %w", k, err)
			}
			if rec == nil {
				rec = StepRecord{}
			}
			out.Steps[StepName(k)] = rec
		}
	}
	*a = out
	return nil
}
