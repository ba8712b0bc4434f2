package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// FieldKind is the input control type behind a field.
type FieldKind string

const (
	KindText   FieldKind = "text"
	KindNumber FieldKind = "number"
	KindChoice FieldKind = "choice"
	KindMulti  FieldKind = "multi"
)

// Condition gates a field on a sibling value. Exactly one of Equals or
// AtLeast is set.
type Condition struct {
	Field   string
	Equals  string
	AtLeast *float64
}

// Holds reports whether the controlling value in record triggers the condition.
func (c Condition) Holds(record map[string]interface{}) bool {
	v, ok := record[c.Field]
	if !ok {
		return false
	}
	if c.AtLeast != nil {
		n, ok := toFloat(v)
		return ok && n >= *c.AtLeast
	}
	s, ok := v.(string)
	return ok && s == c.Equals
}

// FieldSpec declares one question of a step.
type FieldSpec struct {
	Key       string
	Kind      FieldKind
	Required  bool
	MinLength int
	Min       *float64
	Max       *float64
	Enum      []string
	// Default is the untouched control value; a field equal to it counts as empty.
	Default interface{}
	// When makes the field conditional. Conditional fields never count
	// toward MinFilled and are required only while the condition holds.
	When *Condition
}

// Conditional reports whether the field depends on a sibling.
func (f FieldSpec) Conditional() bool {
	return f.When != nil
}

// StepSchema is the declarative validation policy for a step.
type StepSchema struct {
	Name      string
	Fields    []FieldSpec
	MinFilled int
}

// Field returns the FieldSpec for key.
func (s StepSchema) Field(key string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// BaseFields returns the non-conditional fields, the min-fill denominator.
func (s StepSchema) BaseFields() []FieldSpec {
	out := make([]FieldSpec, 0, len(s.Fields))
	for _, f := range s.Fields {
		if !f.Conditional() {
			out = append(out, f)
		}
	}
	return out
}

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
	// Filled is the number of non-empty base fields.
	Filled int `json:"filled"`
	// Total is the number of base fields.
	Total int `json:"total"`
	// MinFilled echoes the step threshold.
	MinFilled int `json:"min_filled"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func Float(v float64) *float64 {
	return &v
}

func (vr *ValidationResult) GetErrorMessages() []string {
	messages := make([]string, len(vr.Errors))
	for i, err := range vr.Errors {
		messages[i] = fmt.Sprintf("%s: %s", err.Field, err.Message)
	}
	return messages
}

func (vr *ValidationResult) HasErrors(field string) bool {
	for _, err := range vr.Errors {
		if err.Field == field {
			return true
		}
	}
	return false
}

func (vr *ValidationResult) GetErrorsForField(field string) []ValidationError {
	var fieldErrors []ValidationError
	for _, err := range vr.Errors {
		if err.Field == field || strings.HasPrefix(err.Field, field+".") || strings.HasPrefix(err.Field, field+"[") {
			fieldErrors = append(fieldErrors, err)
		}
	}
	return fieldErrors
}

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func ValidateEmail(email string) bool {
	return emailPattern.MatchString(email)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}
