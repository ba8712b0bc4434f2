// Package analysis serves the generate-swot endpoint that turns survey
// answers into the three-section analysis text.
package analysis

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "swot-insights/internal/common/errors"
	"swot-insights/internal/common/logger"
	"swot-insights/internal/generation"
)

const TaskType = "generate-swot"

type Handler struct {
	config *Config
	llm    Synthesizer
	logger logger.Logger
}

func NewHandler(cfg *Config, llm Synthesizer, log logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Handler{
		config: cfg,
		llm:    llm,
		logger: log.With(map[string]interface{}{"taskType": TaskType}),
	}
}

// Handle answers with {success, analysis} or {success: false, error}.
func (h *Handler) Handle(c *gin.Context) {
	var input generation.Request
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, generation.Response{Error: "invalid request body: " + err.Error()})
		return
	}

	text, err := h.Execute(c.Request.Context(), &input)
	if err != nil {
		stdErr := apperrors.Normalize(err)
		h.logger.Error("analysis failed", map[string]interface{}{
			"userId":    input.UserID,
			"errorCode": string(stdErr.Code),
			"error":     err.Error(),
		})
		c.JSON(apperrors.HTTPStatus(stdErr.Code), generation.Response{Error: stdErr.Message})
		return
	}
	c.JSON(http.StatusOK, generation.Response{Success: true, Analysis: text})
}

// Execute builds the prompt and calls the model within the configured timeout.
func (h *Handler) Execute(ctx context.Context, input *generation.Request) (string, error) {
	company := strings.TrimSpace(input.CompanyName)
	if company == "" {
		company = input.Answers.CompanyName()
	}
	if company == "" {
		return "", apperrors.NewValidationError("company name is required", []apperrors.FieldError{
			{Field: "company_name", Message: "missing", Code: "REQUIRED_FIELD_MISSING"},
		})
	}

	ctx, cancel := context.WithTimeout(ctx, h.config.Timeout)
	defer cancel()

	text, err := h.llm.Complete(ctx, systemPrompt, buildPrompt(input.Answers, company))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", apperrors.NewGenerationTimeoutError(h.config.Timeout)
		}
		return "", apperrors.NewLLMFailedError(err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperrors.NewLLMFailedError(errors.New("model returned no text"))
	}

	h.logger.Info("analysis generated", map[string]interface{}{
		"userId": input.UserID,
		"chars":  len(text),
	})
	return text, nil
}
