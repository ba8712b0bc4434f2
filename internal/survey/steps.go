package survey

import (
	"fmt"
	"strings"

	apperrors "swot-insights/internal/common/errors"
	"swot-insights/internal/common/validation"
	"swot-insights/internal/models"
)

// Screen indexes around the survey steps.
const (
	WelcomeIndex = 0
	ResultsIndex = 8
)

var stepTitles = map[models.StepName]string{
	models.StepIdentification:  "Identificação",
	models.StepStrengths:       "Forças",
	models.StepWeaknesses:      "Fraquezas",
	models.StepOpportunities:   "Oportunidades",
	models.StepThreats:         "Ameaças",
	models.StepFinancialHealth: "Saúde Financeira",
	models.StepPriorities:      "Prioridades",
}

// Step is one survey screen with its compiled validation policy.
type Step struct {
	Name      models.StepName
	Title     string
	Index     int
	validator *validation.Compiled
}

// Schema exposes the declarative policy, e.g. for rendering forms.
func (s Step) Schema() validation.StepSchema {
	return s.validator.Schema()
}

// Validate checks a record without touching the completion marker.
func (s Step) Validate(rec models.StepRecord) *validation.ValidationResult {
	return s.validator.Validate(rec)
}

// Submit validates rec and returns a copy carrying step_<name>_ok. Invalid
// records produce a validation error listing the offending fields.
func (s Step) Submit(rec models.StepRecord) (models.StepRecord, *validation.ValidationResult, error) {
	res := s.Validate(rec)
	if !res.Valid {
		fields := make([]apperrors.FieldError, 0, len(res.Errors))
		for _, e := range res.Errors {
			fields = append(fields, apperrors.FieldError{Field: e.Field, Message: e.Message, Code: e.Code})
		}
		err := apperrors.NewValidationError(fmt.Sprintf("step %s is incomplete", s.Name), fields).
			WithMetadata("step", string(s.Name)).
			WithMetadata("filled", res.Filled).
			WithMetadata("min_filled", res.MinFilled)
		return nil, res, err
	}
	out := rec.Clone()
	out[s.Name.FlagKey()] = true
	return out, res, nil
}

// Catalog is the ordered list of survey steps.
type Catalog struct {
	steps  []Step
	byName map[models.StepName]Step
	owners map[string]models.StepName
}

// NewCatalog compiles every step schema.
func NewCatalog() (*Catalog, error) {
	schemas := stepSchemas()
	c := &Catalog{
		byName: make(map[models.StepName]Step, len(models.Steps)),
		owners: make(map[string]models.StepName),
	}
	for i, name := range models.Steps {
		compiled, err := validation.Compile(schemas[name])
		if err != nil {
			return nil, err
		}
		step := Step{Name: name, Title: stepTitles[name], Index: i + 1, validator: compiled}
		c.steps = append(c.steps, step)
		c.byName[name] = step
		c.owners[name.FlagKey()] = name
		for _, f := range compiled.Schema().Fields {
			c.owners[f.Key] = name
		}
	}
	return c, nil
}

var defaultCatalog *Catalog

func init() {
	c, err := NewCatalog()
	if err != nil {
		panic(err)
	}
	defaultCatalog = c
}

// DefaultCatalog returns the shared, precompiled catalog.
func DefaultCatalog() *Catalog {
	return defaultCatalog
}

// Steps returns the steps in order.
func (c *Catalog) Steps() []Step {
	return append([]Step(nil), c.steps...)
}

// At returns the step shown at screen index i (1-based).
func (c *Catalog) At(i int) (Step, bool) {
	if i < 1 || i > len(c.steps) {
		return Step{}, false
	}
	return c.steps[i-1], true
}

func (c *Catalog) Get(name models.StepName) (Step, bool) {
	s, ok := c.byName[name]
	return s, ok
}

// ownerOf maps a question key to the step that asks it.
func (c *Catalog) ownerOf(key string) (models.StepName, bool) {
	name, ok := c.owners[key]
	return name, ok
}

// Distribute sorts a flat question-keyed map into step records. Unknown keys
// are returned separately.
func (c *Catalog) Distribute(flat map[string]interface{}) (models.Answers, []string) {
	answers := models.NewAnswers()
	var unknown []string
	for key, v := range flat {
		owner, ok := c.ownerOf(key)
		if !ok {
			unknown = append(unknown, key)
			continue
		}
		rec := answers.Steps[owner]
		if rec == nil {
			rec = models.StepRecord{}
		}
		rec[key] = v
		answers.Steps[owner] = rec
	}
	for name, rec := range answers.Steps {
		answers.Steps[name] = models.NewStepRecord(rec)
	}
	return answers, unknown
}

// ResumeIndex picks the screen to reopen for restored answers: the first
// incomplete step, or results once every step is complete.
func (c *Catalog) ResumeIndex(a models.Answers) int {
	if a.FinalResult != nil && a.FinalResult.Ready {
		return ResultsIndex
	}
	if a.IsEmpty() {
		return WelcomeIndex
	}
	if s, pending := c.FirstIncomplete(a); pending {
		return s.Index
	}
	return ResultsIndex
}

// FirstIncomplete returns the earliest step without its completion marker.
func (c *Catalog) FirstIncomplete(a models.Answers) (Step, bool) {
	for _, s := range c.steps {
		if !a.Step(s.Name).Complete(s.Name) {
			return s, true
		}
	}
	return Step{}, false
}

// StripFlags drops completion markers a client tried to send.
func StripFlags(rec map[string]interface{}) models.StepRecord {
	out := make(map[string]interface{}, len(rec))
	for k, v := range rec {
		if strings.HasPrefix(k, "step_") && strings.HasSuffix(k, "_ok") {
			continue
		}
		out[k] = v
	}
	return models.NewStepRecord(out)
}
