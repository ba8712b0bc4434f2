package survey

import (
	"context"
	"fmt"
	"sync"

	apperrors "swot-insights/internal/common/errors"
	"swot-insights/internal/common/logger"
	"swot-insights/internal/common/metrics"
	"swot-insights/internal/generation"
	"swot-insights/internal/models"
)

// Generator turns completed answers into an analysis.
type Generator interface {
	Generate(ctx context.Context, sessionID string, answers models.Answers, identity *models.Identity) (*generation.Result, error)
}

// Phase is the orchestrator sub-state.
type Phase string

const (
	PhaseEditing    Phase = "editing"
	PhaseGenerating Phase = "generating"
	PhaseResults    Phase = "results"
	PhaseFailed     Phase = "failed"
)

type Options struct {
	SessionID string
	Identity  *models.Identity
	Catalog   *Catalog
	Generator Generator
	Logger    logger.Logger
}

// View is a read-only snapshot for the presentation layer.
type View struct {
	SessionID   string                   `json:"session_id"`
	Index       int                      `json:"index"`
	Step        models.StepName          `json:"step,omitempty"`
	StepTitle   string                   `json:"step_title,omitempty"`
	TotalSteps  int                      `json:"total_steps"`
	Phase       Phase                    `json:"phase"`
	Answers     models.Answers           `json:"answers"`
	FinalResult *models.FinalResult      `json:"final_result,omitempty"`
	ReportID    string                   `json:"report_id,omitempty"`
	LastError   *apperrors.StandardError `json:"last_error,omitempty"`
	Attempts    int                      `json:"attempts,omitempty"`
	Warning     *apperrors.StandardError `json:"warning,omitempty"`
	Actions     []string                 `json:"actions,omitempty"`
	ScrollToTop bool                     `json:"scroll_to_top"`
}

// Orchestrator owns one user's answers and walks them through the steps.
// Every transition holds mu, so transitions never overlap.
type Orchestrator struct {
	mu sync.Mutex

	sessionID string
	identity  *models.Identity
	catalog   *Catalog
	generator Generator
	logger    logger.Logger
	subs      []Subscriber

	current  int
	phase    Phase
	answers  models.Answers
	lastErr  *apperrors.StandardError
	warning  *apperrors.StandardError
	attempts int
	reportID string

	genSeq  uint64
	genDone chan struct{}
}

func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Catalog == nil {
		opts.Catalog = DefaultCatalog()
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNoOpLogger()
	}
	return &Orchestrator{
		sessionID: opts.SessionID,
		identity:  opts.Identity,
		catalog:   opts.Catalog,
		generator: opts.Generator,
		logger:    opts.Logger.With(map[string]interface{}{"component": "orchestrator", "sessionId": opts.SessionID}),
		current:   WelcomeIndex,
		phase:     PhaseEditing,
		answers:   models.NewAnswers(),
	}
}

// Subscribe registers s for every later event.
func (o *Orchestrator) Subscribe(s Subscriber) {
	o.mu.Lock()
	o.subs = append(o.subs, s)
	o.mu.Unlock()
}

// SetIdentity replaces the caller identity, e.g. after a token refresh.
func (o *Orchestrator) SetIdentity(identity *models.Identity) {
	o.mu.Lock()
	o.identity = identity
	o.mu.Unlock()
}

// Restore reopens previously persisted answers at the first incomplete step.
// Answers whose steps are all complete but carry no analysis open in the
// failed phase so a retry is offered.
func (o *Orchestrator) Restore(answers models.Answers) View {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.answers = answers.Clone()
	o.current = o.catalog.ResumeIndex(o.answers)
	o.phase = PhaseEditing
	o.lastErr = nil
	if o.current == ResultsIndex {
		if o.answers.FinalResult != nil && o.answers.FinalResult.Ready {
			o.phase = PhaseResults
		} else {
			o.phase = PhaseFailed
			o.lastErr = apperrors.NewInvalidStateError("the analysis for these answers was not generated")
		}
	}
	return o.viewLocked(false)
}

func (o *Orchestrator) View() View {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.viewLocked(false)
}

// Next validates data for the current step and advances. From the welcome
// screen it advances without validation. Completing the last step starts
// the generation.
func (o *Orchestrator) Next(ctx context.Context, data map[string]interface{}) (View, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.phase == PhaseGenerating {
		return o.viewLocked(false), apperrors.NewInvalidStateError("an analysis is being generated")
	}
	if o.current == WelcomeIndex {
		o.current = 1
		metrics.StepTransitions.WithLabelValues("next", "welcome", "ok").Inc()
		return o.viewLocked(true), nil
	}
	step, ok := o.catalog.At(o.current)
	if !ok {
		return o.viewLocked(false), apperrors.NewInvalidStateError("the survey was already submitted")
	}

	merged := o.answers.Step(step.Name).Merge(StripFlags(data))
	rec, res, err := step.Submit(merged)
	if err != nil {
		metrics.StepTransitions.WithLabelValues("next", string(step.Name), "invalid").Inc()
		o.logger.Debug("Step rejected", map[string]interface{}{
			"step":      string(step.Name),
			"filled":    res.Filled,
			"minFilled": res.MinFilled,
			"errors":    len(res.Errors),
		})
		return o.viewLocked(false), err
	}

	o.answers.SetStep(step.Name, rec)
	o.current++
	o.phase = PhaseEditing
	metrics.StepTransitions.WithLabelValues("next", string(step.Name), "ok").Inc()
	o.publish(ctx, Event{Kind: EventStepCompleted, Step: step.Name, Immediate: true})

	if o.current == ResultsIndex {
		if err := o.requireCompleteLocked(); err != nil {
			return o.viewLocked(true), err
		}
		o.startGenerationLocked(ctx)
	}
	return o.viewLocked(true), nil
}

// Back moves one screen back without validation. Entered data is kept.
func (o *Orchestrator) Back() (View, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.phase == PhaseGenerating {
		return o.viewLocked(false), apperrors.NewInvalidStateError("an analysis is being generated")
	}
	if o.current > WelcomeIndex {
		o.current--
	}
	o.phase = PhaseEditing
	o.lastErr = nil
	metrics.StepTransitions.WithLabelValues("back", o.stepLabel(), "ok").Inc()
	return o.viewLocked(true), nil
}

// GoTo jumps to screen n, clamped to the welcome and results screens.
func (o *Orchestrator) GoTo(n int) (View, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.phase == PhaseGenerating {
		return o.viewLocked(false), apperrors.NewInvalidStateError("an analysis is being generated")
	}
	if n < WelcomeIndex {
		n = WelcomeIndex
	}
	if n > ResultsIndex {
		n = ResultsIndex
	}
	o.current = n
	o.phase = PhaseEditing
	o.lastErr = nil
	if n == ResultsIndex {
		if o.answers.FinalResult != nil && o.answers.FinalResult.Ready {
			o.phase = PhaseResults
		} else {
			o.phase = PhaseFailed
			o.lastErr = apperrors.NewInvalidStateError("no analysis has been generated yet")
			if step, pending := o.catalog.FirstIncomplete(o.answers); pending {
				o.lastErr = incompleteError(step)
			}
		}
	}
	metrics.StepTransitions.WithLabelValues("goto", o.stepLabel(), "ok").Inc()
	return o.viewLocked(true), nil
}

// UpdateDraft merges unvalidated input into the current step and asks for a
// debounced save. The completion marker is left as it was.
func (o *Orchestrator) UpdateDraft(ctx context.Context, data map[string]interface{}) (View, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	step, ok := o.catalog.At(o.current)
	if !ok || o.phase != PhaseEditing {
		return o.viewLocked(false), apperrors.NewInvalidStateError("no step is being edited")
	}
	o.answers.SetStep(step.Name, o.answers.Step(step.Name).Merge(StripFlags(data)))
	o.publish(ctx, Event{Kind: EventDraftUpdated, Step: step.Name})
	return o.viewLocked(false), nil
}

// Retry re-runs a failed generation.
func (o *Orchestrator) Retry(ctx context.Context) (View, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.phase != PhaseFailed {
		return o.viewLocked(false), apperrors.NewInvalidStateError("there is no failed generation to retry")
	}
	if err := o.requireCompleteLocked(); err != nil {
		metrics.StepTransitions.WithLabelValues("retry", o.stepLabel(), "incomplete").Inc()
		return o.viewLocked(true), err
	}
	o.current = ResultsIndex
	metrics.StepTransitions.WithLabelValues("retry", "results", "ok").Inc()
	o.startGenerationLocked(ctx)
	return o.viewLocked(true), nil
}

// Restart drops every answer and returns to the welcome screen. A running
// generation keeps going but its outcome is ignored.
func (o *Orchestrator) Restart(ctx context.Context) View {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.genSeq++
	o.answers = models.NewAnswers()
	o.current = WelcomeIndex
	o.phase = PhaseEditing
	o.lastErr = nil
	o.warning = nil
	o.attempts = 0
	o.reportID = ""
	metrics.StepTransitions.WithLabelValues("restart", "welcome", "ok").Inc()
	o.publish(ctx, Event{Kind: EventRestarted, Immediate: true})
	return o.viewLocked(true)
}

// ToggleAction flips action in the prioritized list of the final result and
// reports whether it is now prioritized.
func (o *Orchestrator) ToggleAction(ctx context.Context, action string) (View, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.answers.FinalResult == nil || !o.answers.FinalResult.Ready {
		return o.viewLocked(false), false, apperrors.NewInvalidStateError("there is no analysis to prioritize")
	}
	on := o.answers.FinalResult.ToggleAction(action)
	o.publish(ctx, Event{Kind: EventActionToggled, Immediate: true})
	return o.viewLocked(false), on, nil
}

// WaitGeneration blocks until the running generation settles or ctx ends.
func (o *Orchestrator) WaitGeneration(ctx context.Context) (View, error) {
	o.mu.Lock()
	done := o.genDone
	o.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return o.View(), ctx.Err()
		}
	}
	return o.View(), nil
}

// requireCompleteLocked moves back to the first unsubmitted step, if any.
// The generator only ever receives a fully submitted survey.
func (o *Orchestrator) requireCompleteLocked() error {
	step, pending := o.catalog.FirstIncomplete(o.answers)
	if !pending {
		return nil
	}
	o.current = step.Index
	o.phase = PhaseEditing
	o.lastErr = nil
	o.logger.Info("Survey incomplete, generation not started", map[string]interface{}{"step": string(step.Name)})
	return incompleteError(step)
}

func incompleteError(step Step) *apperrors.StandardError {
	return apperrors.NewInvalidStateError(fmt.Sprintf("step %s must be completed before the analysis", step.Name)).
		WithMetadata("step", string(step.Name)).
		WithMetadata("index", step.Index)
}

func (o *Orchestrator) startGenerationLocked(ctx context.Context) {
	o.phase = PhaseGenerating
	o.lastErr = nil
	o.warning = nil
	o.attempts = 0
	o.answers.FinalResult = nil
	o.genSeq++

	seq := o.genSeq
	done := make(chan struct{})
	o.genDone = done
	snapshot := o.answers.Clone()
	identity := o.identity

	o.publish(ctx, Event{Kind: EventGenerationStarted})
	o.logger.Info("Starting analysis generation", map[string]interface{}{"company": snapshot.CompanyName()})

	// the request that completed the survey must not cancel the generation
	go o.runGeneration(seq, snapshot, identity, done)
}

func (o *Orchestrator) runGeneration(seq uint64, snapshot models.Answers, identity *models.Identity, done chan struct{}) {
	defer close(done)

	var (
		res *generation.Result
		err error
	)
	if o.generator == nil {
		err = apperrors.NewInvalidStateError("no analysis generator is configured")
	} else {
		res, err = o.generator.Generate(context.Background(), o.sessionID, snapshot, identity)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if seq != o.genSeq {
		o.logger.Info("Discarding outcome of superseded generation", map[string]interface{}{"failed": err != nil})
		return
	}
	if res != nil {
		o.attempts = res.Attempts
	}
	ctx := context.Background()
	if err != nil {
		o.phase = PhaseFailed
		o.lastErr = apperrors.Normalize(err)
		o.logger.Warn("Analysis generation failed", map[string]interface{}{
			"errorCode": string(o.lastErr.Code),
			"attempts":  o.attempts,
		})
		o.publish(ctx, Event{Kind: EventGenerationFailed})
		return
	}

	final := res.Final.Clone()
	o.answers.FinalResult = &final
	o.reportID = res.ReportID
	o.warning = res.Warning
	o.phase = PhaseResults
	o.current = ResultsIndex
	o.publish(ctx, Event{Kind: EventGenerationSucceeded, Immediate: true})
}

// publish runs subscribers in registration order. Storage failures are kept
// as a warning; they never undo the transition.
func (o *Orchestrator) publish(ctx context.Context, ev Event) {
	ev.SessionID = o.sessionID
	ev.Index = o.current
	ev.Answers = o.answers.Clone()
	for _, sub := range o.subs {
		if err := sub(ctx, ev); err != nil {
			o.warning = apperrors.Normalize(err)
			o.logger.Warn("Event subscriber failed", map[string]interface{}{
				"event":     string(ev.Kind),
				"errorCode": string(o.warning.Code),
				"error":     err.Error(),
			})
		}
	}
}

func (o *Orchestrator) stepLabel() string {
	switch o.current {
	case WelcomeIndex:
		return "welcome"
	case ResultsIndex:
		return "results"
	}
	if s, ok := o.catalog.At(o.current); ok {
		return string(s.Name)
	}
	return "unknown"
}

func (o *Orchestrator) viewLocked(transition bool) View {
	v := View{
		SessionID:   o.sessionID,
		Index:       o.current,
		TotalSteps:  len(o.catalog.Steps()),
		Phase:       o.phase,
		Answers:     o.answers.Clone(),
		ReportID:    o.reportID,
		LastError:   o.lastErr,
		Attempts:    o.attempts,
		Warning:     o.warning,
		ScrollToTop: transition,
	}
	if s, ok := o.catalog.At(o.current); ok {
		v.Step = s.Name
		v.StepTitle = s.Title
	}
	if v.Answers.FinalResult != nil {
		v.FinalResult = v.Answers.FinalResult
	}
	if o.phase == PhaseFailed {
		v.Actions = []string{apperrors.ActionRetry, apperrors.ActionRestart}
		if _, pending := o.catalog.FirstIncomplete(o.answers); pending {
			v.Actions = []string{apperrors.ActionRestart}
		}
	}
	return v
}
