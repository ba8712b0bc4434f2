package survey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "swot-insights/internal/common/errors"
	"swot-insights/internal/common/validation"
	"swot-insights/internal/models"
)

func mustStep(t *testing.T, name models.StepName) Step {
	t.Helper()
	s, ok := DefaultCatalog().Get(name)
	require.True(t, ok)
	return s
}

func TestCatalog_Order(t *testing.T) {
	steps := DefaultCatalog().Steps()
	require.Len(t, steps, len(models.Steps))
	for i, s := range steps {
		assert.Equal(t, models.Steps[i], s.Name)
		assert.Equal(t, i+1, s.Index)
		assert.NotEmpty(t, s.Title)
	}
	_, ok := DefaultCatalog().At(WelcomeIndex)
	assert.False(t, ok)
	_, ok = DefaultCatalog().At(ResultsIndex)
	assert.False(t, ok)
}

func TestEveryValidFixtureIsAccepted(t *testing.T) {
	for name, rec := range validInput() {
		t.Run(string(name), func(t *testing.T) {
			res := mustStep(t, name).Validate(models.NewStepRecord(rec))
			assert.True(t, res.Valid, "%v", res.GetErrorMessages())
		})
	}
}

func TestMinFilledThresholds(t *testing.T) {
	cases := []struct {
		step models.StepName
		min  int
	}{
		{models.StepWeaknesses, WeaknessesMinFilled},
		{models.StepOpportunities, OpportunitiesMinFilled},
		{models.StepFinancialHealth, FinancialHealthMinFilled},
	}
	for _, tc := range cases {
		t.Run(string(tc.step), func(t *testing.T) {
			step := mustStep(t, tc.step)
			full := validInput()[tc.step]
			require.Len(t, full, tc.min)

			res := step.Validate(models.NewStepRecord(full))
			assert.True(t, res.Valid)
			assert.Equal(t, tc.min, res.Filled)

			// any single removal drops below the threshold
			for key := range full {
				res := step.Validate(models.NewStepRecord(without(full, key)))
				assert.False(t, res.Valid, "removing %s", key)
				assert.NotEmpty(t, res.GetErrorsForField(validation.StepField))
			}
		})
	}
}

func TestStrengthsAcceptsAnySingleField(t *testing.T) {
	step := mustStep(t, models.StepStrengths)
	assert.False(t, step.Validate(models.StepRecord{}).Valid)
	assert.False(t, step.Validate(models.StepRecord{"team_expertise": "   "}).Valid)
	assert.True(t, step.Validate(models.StepRecord{"pricing_power": "preço justo"}).Valid)
}

func TestThreats_ConditionalDetail(t *testing.T) {
	step := mustStep(t, models.StepThreats)
	base := validInput()[models.StepThreats]

	res := step.Validate(models.NewStepRecord(base))
	assert.True(t, res.Valid, "detail is not required while the answer is No")

	triggered := with(base, "regulatory_changes", Yes)
	res = step.Validate(models.NewStepRecord(triggered))
	assert.False(t, res.Valid)
	assert.NotEmpty(t, res.GetErrorsForField("regulatory_changes_detail"))

	res = step.Validate(models.NewStepRecord(with(triggered, "regulatory_changes_detail", "Nova NR sanitária")))
	assert.True(t, res.Valid, "%v", res.GetErrorMessages())
}

func TestThreats_RequiredFields(t *testing.T) {
	step := mustStep(t, models.StepThreats)
	res := step.Validate(models.NewStepRecord(without(validInput()[models.StepThreats], "economic_impact")))
	assert.False(t, res.Valid)
	assert.NotEmpty(t, res.GetErrorsForField("economic_impact"))

	res = step.Validate(models.NewStepRecord(with(validInput()[models.StepThreats], "economic_impact", "curto")))
	assert.False(t, res.Valid)
}

func TestFinancialHealth_DebtJustification(t *testing.T) {
	step := mustStep(t, models.StepFinancialHealth)
	base := validInput()[models.StepFinancialHealth]

	below := with(base, "debt_level", DebtJustificationThreshold-1)
	assert.True(t, step.Validate(models.NewStepRecord(below)).Valid)

	at := with(base, "debt_level", DebtJustificationThreshold)
	res := step.Validate(models.NewStepRecord(at))
	assert.False(t, res.Valid)
	assert.NotEmpty(t, res.GetErrorsForField("debt_justification"))

	justified := with(at, "debt_justification", "Empréstimo para reforma da loja")
	res = step.Validate(models.NewStepRecord(justified))
	assert.True(t, res.Valid, "%v", res.GetErrorMessages())
	assert.Equal(t, FinancialHealthMinFilled, res.Filled, "conditional fields never count toward the minimum")
}

func TestFinancialHealth_DefaultDebtIsNotAnswer(t *testing.T) {
	step := mustStep(t, models.StepFinancialHealth)
	rec := with(validInput()[models.StepFinancialHealth], "debt_level", 0)
	res := step.Validate(models.NewStepRecord(rec))
	assert.False(t, res.Valid)
	assert.Equal(t, FinancialHealthMinFilled-1, res.Filled)
}

func TestSubmit_SetsCompletionFlag(t *testing.T) {
	step := mustStep(t, models.StepIdentification)

	rec, res, err := step.Submit(models.NewStepRecord(validInput()[models.StepIdentification]))
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.True(t, rec.Complete(models.StepIdentification))

	_, _, err = step.Submit(models.StepRecord{"company_name": "Padaria"})
	require.Error(t, err)
	se, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeValidationFailed, se.Code)
	assert.Equal(t, "identification", se.Metadata["step"])
	require.NotEmpty(t, se.Fields)
	assert.Equal(t, "segment", se.Fields[0].Field)
}

func TestDistribute(t *testing.T) {
	answers, unknown := DefaultCatalog().Distribute(map[string]interface{}{
		"company_name":       "Oficina Sul",
		"team_expertise":     "Mecânicos certificados",
		"debt_justification": "Compra de elevador",
		"step_threats_ok":    true,
		"favorite_color":     "azul",
	})
	assert.Equal(t, []string{"favorite_color"}, unknown)
	assert.Equal(t, "Oficina Sul", answers.CompanyName())
	assert.Equal(t, "Mecânicos certificados", answers.Step(models.StepStrengths)["team_expertise"])
	assert.Equal(t, "Compra de elevador", answers.Step(models.StepFinancialHealth)["debt_justification"])
	assert.True(t, answers.Step(models.StepThreats).Complete(models.StepThreats))
}

func completedAnswers(t *testing.T) models.Answers {
	t.Helper()
	a := models.NewAnswers()
	for name, rec := range validInput() {
		done, _, err := mustStep(t, name).Submit(models.NewStepRecord(rec))
		require.NoError(t, err)
		a.SetStep(name, done)
	}
	return a
}

func TestResumeIndex(t *testing.T) {
	c := DefaultCatalog()
	assert.Equal(t, WelcomeIndex, c.ResumeIndex(models.NewAnswers()))

	a := completedAnswers(t)
	assert.Equal(t, ResultsIndex, c.ResumeIndex(a))

	delete(a.Steps[models.StepOpportunities], models.StepOpportunities.FlagKey())
	assert.Equal(t, 4, c.ResumeIndex(a))

	partial := models.NewAnswers()
	partial.SetStep(models.StepIdentification, models.StepRecord{"company_name": "Loja"})
	assert.Equal(t, 1, c.ResumeIndex(partial))

	done := completedAnswers(t)
	done.FinalResult = &models.FinalResult{Ready: true}
	assert.Equal(t, ResultsIndex, c.ResumeIndex(done))
}

func TestStripFlags(t *testing.T) {
	out := StripFlags(map[string]interface{}{"step_strengths_ok": true, "team_expertise": "x"})
	assert.Equal(t, models.StepRecord{"team_expertise": "x"}, out)
}
