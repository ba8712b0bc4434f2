package survey

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "swot-insights/internal/common/errors"
	"swot-insights/internal/common/logger"
	"swot-insights/internal/generation"
	"swot-insights/internal/models"
)

type fakeGenerator struct {
	mu      sync.Mutex
	calls   int
	outcome func(call int) (*generation.Result, error)
	gate    chan struct{}
}

func (f *fakeGenerator) Generate(ctx context.Context, sessionID string, answers models.Answers, identity *models.Identity) (*generation.Result, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return f.outcome(call)
}

func (f *fakeGenerator) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func succeed(call int) (*generation.Result, error) {
	return &generation.Result{
		Final: models.FinalResult{
			MatrixText:     "A",
			DiagnosticText: "B",
			ActionPlanText: "C",
			Ready:          true,
			SourceTag:      "generate-swot",
		},
		ReportID: "report-1",
		Attempts: 1,
	}, nil
}

type recordingSaver struct {
	mu      sync.Mutex
	saves   []bool
	last    models.Answers
	clears  int
	saveErr error
}

func (r *recordingSaver) Save(ctx context.Context, data models.Answers, immediate bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves = append(r.saves, immediate)
	r.last = data
	return r.saveErr
}

func (r *recordingSaver) Clear(ctx context.Context, all bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clears++
	return nil
}

func newTestOrchestrator(t *testing.T, gen Generator) (*Orchestrator, *recordingSaver) {
	t.Helper()
	o := NewOrchestrator(Options{
		SessionID: "user-1",
		Identity:  &models.Identity{UserID: "user-1", AccessToken: "token"},
		Generator: gen,
		Logger:    logger.NewTestLogger(t),
	})
	saver := &recordingSaver{}
	o.Subscribe(PersistTo(saver))
	return o, saver
}

// completeSteps walks from welcome through the last step.
func completeSteps(t *testing.T, o *Orchestrator) View {
	t.Helper()
	ctx := context.Background()
	v, err := o.Next(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, 1, v.Index)

	input := validInput()
	for _, name := range models.Steps {
		v, err = o.Next(ctx, input[name])
		require.NoError(t, err, "step %s", name)
	}
	return v
}

func waitView(t *testing.T, o *Orchestrator) View {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := o.WaitGeneration(ctx)
	require.NoError(t, err)
	return v
}

func TestOrchestrator_FullFlow(t *testing.T) {
	gen := &fakeGenerator{outcome: succeed}
	o, saver := newTestOrchestrator(t, gen)

	v := completeSteps(t, o)
	assert.Equal(t, ResultsIndex, v.Index)
	assert.True(t, v.ScrollToTop)

	v = waitView(t, o)
	assert.Equal(t, PhaseResults, v.Phase)
	require.NotNil(t, v.FinalResult)
	assert.True(t, v.FinalResult.Ready)
	assert.Equal(t, "report-1", v.ReportID)
	assert.Equal(t, 1, v.Attempts)
	assert.Empty(t, v.Actions)
	assert.Equal(t, 1, gen.Calls())

	for _, name := range models.Steps {
		assert.True(t, v.Answers.Step(name).Complete(name), "step %s", name)
	}

	saver.mu.Lock()
	defer saver.mu.Unlock()
	assert.Len(t, saver.saves, len(models.Steps)+1)
	for _, immediate := range saver.saves {
		assert.True(t, immediate)
	}
	require.NotNil(t, saver.last.FinalResult)
}

func TestOrchestrator_InvalidStepDoesNotAdvance(t *testing.T) {
	o, saver := newTestOrchestrator(t, &fakeGenerator{outcome: succeed})
	ctx := context.Background()
	_, err := o.GoTo(3)
	require.NoError(t, err)

	short := without(validInput()[models.StepWeaknesses], "cash_control")
	v, err := o.Next(ctx, short)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))
	assert.Equal(t, 3, v.Index)
	assert.False(t, v.ScrollToTop)
	assert.Nil(t, v.Answers.Step(models.StepWeaknesses))
	assert.Empty(t, saver.saves)
}

func TestOrchestrator_ClientCannotForgeCompletion(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeGenerator{outcome: succeed})
	_, _ = o.GoTo(2)

	_, err := o.Next(context.Background(), map[string]interface{}{"step_strengths_ok": true})
	require.Error(t, err)
	assert.Equal(t, 2, o.View().Index)
}

func TestOrchestrator_BackKeepsData(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeGenerator{outcome: succeed})
	ctx := context.Background()

	v, err := o.Back()
	require.NoError(t, err)
	assert.Equal(t, WelcomeIndex, v.Index)

	_, _ = o.Next(ctx, nil)
	_, err = o.Next(ctx, validInput()[models.StepIdentification])
	require.NoError(t, err)

	v, err = o.Back()
	require.NoError(t, err)
	assert.Equal(t, 1, v.Index)
	assert.Equal(t, "Padaria Central", v.Answers.CompanyName())
	assert.True(t, v.ScrollToTop)
}

func TestOrchestrator_GoToClamps(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeGenerator{outcome: succeed})

	v, err := o.GoTo(-4)
	require.NoError(t, err)
	assert.Equal(t, WelcomeIndex, v.Index)

	v, err = o.GoTo(5)
	require.NoError(t, err)
	assert.Equal(t, 5, v.Index)
	assert.Equal(t, models.StepThreats, v.Step)

	v, err = o.GoTo(99)
	require.NoError(t, err)
	assert.Equal(t, ResultsIndex, v.Index)
	assert.Equal(t, PhaseFailed, v.Phase, "results without an analysis offer recovery")
	assert.Equal(t, []string{apperrors.ActionRestart}, v.Actions, "nothing to retry before the survey is complete")
}

func TestOrchestrator_SkippedStepsBlockGeneration(t *testing.T) {
	gen := &fakeGenerator{outcome: succeed}
	o, _ := newTestOrchestrator(t, gen)
	ctx := context.Background()
	input := validInput()

	_, _ = o.Next(ctx, nil)
	_, err := o.Next(ctx, input[models.StepIdentification])
	require.NoError(t, err)

	_, err = o.GoTo(7)
	require.NoError(t, err)
	v, err := o.Next(ctx, input[models.StepPriorities])
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidState))

	assert.Equal(t, 2, v.Index, "sent back to the first skipped step")
	assert.Equal(t, models.StepStrengths, v.Step)
	assert.Equal(t, PhaseEditing, v.Phase)
	assert.True(t, v.Answers.Step(models.StepPriorities).Complete(models.StepPriorities), "the submitted step is kept")
	assert.Equal(t, 0, gen.Calls())
}

func TestOrchestrator_RetryOnIncompleteAnswers(t *testing.T) {
	gen := &fakeGenerator{outcome: succeed}
	o, _ := newTestOrchestrator(t, gen)
	ctx := context.Background()

	_, _ = o.Next(ctx, nil)
	_, err := o.Next(ctx, validInput()[models.StepIdentification])
	require.NoError(t, err)

	v, err := o.GoTo(ResultsIndex)
	require.NoError(t, err)
	assert.Equal(t, PhaseFailed, v.Phase)
	assert.Equal(t, []string{apperrors.ActionRestart}, v.Actions)
	require.NotNil(t, v.LastError)
	assert.Equal(t, string(models.StepStrengths), v.LastError.Metadata["step"])

	v, err = o.Retry(ctx)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidState))
	assert.Equal(t, 2, v.Index)
	assert.Equal(t, PhaseEditing, v.Phase)
	assert.Equal(t, 0, gen.Calls())
}

func TestOrchestrator_FailureThenRetry(t *testing.T) {
	gen := &fakeGenerator{outcome: func(call int) (*generation.Result, error) {
		if call == 1 {
			return &generation.Result{Attempts: 3}, apperrors.NewGenerationTimeoutError(time.Minute)
		}
		return succeed(call)
	}}
	o, _ := newTestOrchestrator(t, gen)

	completeSteps(t, o)
	v := waitView(t, o)
	assert.Equal(t, PhaseFailed, v.Phase)
	require.NotNil(t, v.LastError)
	assert.Equal(t, apperrors.ErrCodeGenerationTimeout, v.LastError.Code)
	assert.Equal(t, 3, v.Attempts)
	assert.Equal(t, []string{apperrors.ActionRetry, apperrors.ActionRestart}, v.Actions)

	_, err := o.Retry(context.Background())
	require.NoError(t, err)
	v = waitView(t, o)
	assert.Equal(t, PhaseResults, v.Phase)
	assert.Nil(t, v.LastError)
	assert.Equal(t, 2, gen.Calls())
}

func TestOrchestrator_RetryRequiresFailure(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeGenerator{outcome: succeed})
	_, err := o.Retry(context.Background())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidState))
}

func TestOrchestrator_TransitionsBlockedWhileGenerating(t *testing.T) {
	gate := make(chan struct{})
	gen := &fakeGenerator{outcome: succeed, gate: gate}
	o, _ := newTestOrchestrator(t, gen)

	v := completeSteps(t, o)
	assert.Equal(t, PhaseGenerating, v.Phase)

	_, err := o.Back()
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidState))
	_, err = o.GoTo(1)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidState))
	_, err = o.Next(context.Background(), nil)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidState))

	close(gate)
	v = waitView(t, o)
	assert.Equal(t, PhaseResults, v.Phase)
	assert.Equal(t, 1, gen.Calls())
}

func TestOrchestrator_RestartDiscardsRunningGeneration(t *testing.T) {
	gate := make(chan struct{})
	gen := &fakeGenerator{outcome: succeed, gate: gate}
	o, saver := newTestOrchestrator(t, gen)

	completeSteps(t, o)
	v := o.Restart(context.Background())
	assert.Equal(t, WelcomeIndex, v.Index)
	assert.True(t, v.Answers.IsEmpty())

	close(gate)
	v = waitView(t, o)
	assert.Equal(t, PhaseEditing, v.Phase)
	assert.Nil(t, v.FinalResult)
	assert.Equal(t, 1, saver.clears)
}

func TestOrchestrator_UpdateDraftIsDebounced(t *testing.T) {
	o, saver := newTestOrchestrator(t, &fakeGenerator{outcome: succeed})
	_, _ = o.GoTo(2)

	v, err := o.UpdateDraft(context.Background(), map[string]interface{}{"team_expertise": "rascunho"})
	require.NoError(t, err)
	assert.Equal(t, 2, v.Index)
	assert.Equal(t, "rascunho", v.Answers.Step(models.StepStrengths)["team_expertise"])
	assert.False(t, v.Answers.Step(models.StepStrengths).Complete(models.StepStrengths))
	assert.Equal(t, []bool{false}, saver.saves)

	_, _ = o.GoTo(WelcomeIndex)
	_, err = o.UpdateDraft(context.Background(), map[string]interface{}{"x": 1})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidState))
}

func TestOrchestrator_StorageFailureIsWarning(t *testing.T) {
	o, saver := newTestOrchestrator(t, &fakeGenerator{outcome: succeed})
	saver.saveErr = apperrors.NewStorageQuotaError("full")
	ctx := context.Background()

	_, _ = o.Next(ctx, nil)
	v, err := o.Next(ctx, validInput()[models.StepIdentification])
	require.NoError(t, err)
	assert.Equal(t, 2, v.Index)
	require.NotNil(t, v.Warning)
	assert.Equal(t, apperrors.ErrCodeStorageQuotaExceeded, v.Warning.Code)
}

func TestOrchestrator_Restore(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeGenerator{outcome: succeed})

	partial := models.NewAnswers()
	rec, _, err := mustStep(t, models.StepIdentification).Submit(models.NewStepRecord(validInput()[models.StepIdentification]))
	require.NoError(t, err)
	partial.SetStep(models.StepIdentification, rec)

	v := o.Restore(partial)
	assert.Equal(t, 2, v.Index)
	assert.Equal(t, PhaseEditing, v.Phase)

	v = o.Restore(completedAnswers(t))
	assert.Equal(t, ResultsIndex, v.Index)
	assert.Equal(t, PhaseFailed, v.Phase)

	done := completedAnswers(t)
	done.FinalResult = &models.FinalResult{Ready: true, MatrixText: "A"}
	v = o.Restore(done)
	assert.Equal(t, PhaseResults, v.Phase)
}

func TestOrchestrator_ToggleAction(t *testing.T) {
	o, saver := newTestOrchestrator(t, &fakeGenerator{outcome: succeed})
	ctx := context.Background()

	_, _, err := o.ToggleAction(ctx, "Renegociar dívidas")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidState))

	done := completedAnswers(t)
	done.FinalResult = &models.FinalResult{Ready: true}
	o.Restore(done)

	v, on, err := o.ToggleAction(ctx, "Renegociar dívidas")
	require.NoError(t, err)
	assert.True(t, on)
	assert.Equal(t, []string{"Renegociar dívidas"}, v.FinalResult.PrioritizedActions)

	v, on, err = o.ToggleAction(ctx, "Renegociar dívidas")
	require.NoError(t, err)
	assert.False(t, on)
	assert.Empty(t, v.FinalResult.PrioritizedActions)
	assert.Equal(t, []bool{true, true}, saver.saves)
}

func TestOrchestrator_MissingGenerator(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	completeSteps(t, o)
	v := waitView(t, o)
	assert.Equal(t, PhaseFailed, v.Phase)
	assert.True(t, apperrors.HasCode(v.LastError, apperrors.ErrCodeInvalidState))
}
