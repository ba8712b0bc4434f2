package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "swot-insights/internal/common/errors"
	"swot-insights/internal/common/logger"
	"swot-insights/internal/generation"
	"swot-insights/internal/models"
	"swot-insights/internal/parser"
)

const sampleAnalysis = "### MATRIZ SWOT\nForças\n### DIAGNÓSTICO CONSULTIVO\nTexto\n### PLANO DE AÇÃO A/B/C\nA) agir"

type mockSynthesizer struct {
	mock.Mock
}

func (m *mockSynthesizer) Complete(ctx context.Context, system, user string) (string, error) {
	args := m.Called(ctx, system, user)
	return args.String(0), args.Error(1)
}

func init() {
	gin.SetMode(gin.TestMode)
}

func sampleRequest() generation.Request {
	a := models.NewAnswers()
	a.SetStep(models.StepIdentification, models.StepRecord{"company_name": "Padaria Central", "segment": "Comércio", "step_identification_ok": true})
	a.SetStep(models.StepOpportunities, models.StepRecord{"digital_channels": []interface{}{"Instagram", "WhatsApp"}, "market_growth": 7})
	return generation.Request{Answers: a, UserID: "user-1", CompanyName: "Padaria Central"}
}

func serve(t *testing.T, h *Handler, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	r := gin.New()
	r.POST("/functions/v1/generate-swot", h.Handle)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/functions/v1/generate-swot", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func testConfig() *Config {
	cfg := &Config{Timeout: time.Second}
	cfg.applyDefaults()
	return cfg
}

func TestHandle_Success(t *testing.T) {
	llm := new(mockSynthesizer)
	llm.On("Complete", mock.Anything, systemPrompt, mock.MatchedBy(func(p string) bool {
		return strings.Contains(p, `"Padaria Central"`) &&
			strings.Contains(p, parser.MatrixDelimiter) &&
			strings.Contains(p, parser.ActionPlanDelimiter) &&
			strings.Contains(p, "- digital_channels: Instagram, WhatsApp") &&
			strings.Contains(p, "- market_growth: 7") &&
			!strings.Contains(p, "step_identification_ok")
	})).Return("\n"+sampleAnalysis+"\n", nil)

	h := NewHandler(testConfig(), llm, logger.NewTestLogger(t))
	body, _ := json.Marshal(sampleRequest())
	w := serve(t, h, body)

	require.Equal(t, http.StatusOK, w.Code)
	var resp generation.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, sampleAnalysis, resp.Analysis)
	llm.AssertExpectations(t)
}

func TestHandle_MissingCompany(t *testing.T) {
	llm := new(mockSynthesizer)
	h := NewHandler(testConfig(), llm, logger.NewTestLogger(t))

	w := serve(t, h, []byte(`{"answers":{},"user_id":"user-1"}`))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var resp generation.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
	llm.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandle_BadBody(t *testing.T) {
	h := NewHandler(testConfig(), new(mockSynthesizer), logger.NewTestLogger(t))
	w := serve(t, h, []byte(`{"answers":`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandle_LLMFailure(t *testing.T) {
	llm := new(mockSynthesizer)
	llm.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("overloaded"))

	h := NewHandler(testConfig(), llm, logger.NewTestLogger(t))
	body, _ := json.Marshal(sampleRequest())
	w := serve(t, h, body)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	var resp generation.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
}

func TestExecute_Timeout(t *testing.T) {
	llm := new(mockSynthesizer)
	llm.On("Complete", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return("", context.DeadlineExceeded)

	cfg := testConfig()
	cfg.Timeout = 10 * time.Millisecond
	h := NewHandler(cfg, llm, logger.NewTestLogger(t))
	req := sampleRequest()

	_, err := h.Execute(context.Background(), &req)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeGenerationTimeout))
}

func TestExecute_EmptyText(t *testing.T) {
	llm := new(mockSynthesizer)
	llm.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("   ", nil)

	h := NewHandler(testConfig(), llm, logger.NewTestLogger(t))
	req := sampleRequest()
	_, err := h.Execute(context.Background(), &req)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeLLMFailed))
}

func TestAnthropicSynthesizer_Complete(t *testing.T) {
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_01",
			"type": "message",
			"role": "assistant",
			"model": "claude-sonnet-4-5",
			"content": [{"type": "text", "text": "### MATRIZ SWOT\nA"}, {"type": "text", "text": "\nB"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`)
	}))
	defer server.Close()

	cfg := &Config{APIKey: "test-key", BaseURL: server.URL + "/"}
	cfg.applyDefaults()
	s, err := NewAnthropicSynthesizer(cfg)
	require.NoError(t, err)

	text, err := s.Complete(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Equal(t, "### MATRIZ SWOT\nA\nB", text)
	assert.Equal(t, "claude-sonnet-4-5", got["model"])
	assert.EqualValues(t, 4096, got["max_tokens"])
}

func TestNewAnthropicSynthesizer_RequiresKey(t *testing.T) {
	_, err := NewAnthropicSynthesizer(&Config{})
	assert.Error(t, err)
}
