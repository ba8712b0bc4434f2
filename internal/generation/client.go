// Package generation submits completed surveys to the analysis endpoint.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	apperrors "swot-insights/internal/common/errors"
	commonhttp "swot-insights/internal/common/http"
	"swot-insights/internal/common/logger"
	"swot-insights/internal/common/metrics"
	"swot-insights/internal/common/observability"
	"swot-insights/internal/models"
	"swot-insights/internal/parser"
)

// ReportStore persists generated reports.
type ReportStore interface {
	Create(ctx context.Context, report *models.Report) (string, error)
}

// ReportIndexer feeds the admin search index.
type ReportIndexer interface {
	Index(ctx context.Context, report *models.Report) error
}

type Dependencies struct {
	HTTP    *commonhttp.Client
	Parser  *parser.Parser
	Reports ReportStore
	Indexer ReportIndexer
	Logger  logger.Logger
	Obs     *observability.Observability
}

type Client struct {
	config  *Config
	http    *commonhttp.Client
	parser  *parser.Parser
	reports ReportStore
	indexer ReportIndexer
	logger  logger.Logger
	obs     *observability.Observability

	mu       sync.Mutex
	inFlight map[string]struct{}

	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg *Config, deps Dependencies) *Client {
	cfg.applyDefaults()
	c := &Client{
		config:   cfg,
		http:     deps.HTTP,
		parser:   deps.Parser,
		reports:  deps.Reports,
		indexer:  deps.Indexer,
		logger:   deps.Logger,
		obs:      deps.Obs,
		inFlight: make(map[string]struct{}),
		sleep:    sleepContext,
	}
	if c.http == nil {
		c.http = commonhttp.NewClient(0)
	}
	if c.logger == nil {
		c.logger = logger.NewNoOpLogger()
	}
	if c.parser == nil {
		c.parser = parser.New(parser.Options{SourceTag: cfg.SourceTag, Logger: c.logger})
	}
	if c.obs == nil {
		c.obs = observability.NewNoop()
	}
	c.logger = c.logger.With(map[string]interface{}{"component": "generation"})
	return c
}

func (c *Client) acquire(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.inFlight[sessionID]; ok {
		return false
	}
	c.inFlight[sessionID] = struct{}{}
	return true
}

func (c *Client) release(sessionID string) {
	c.mu.Lock()
	delete(c.inFlight, sessionID)
	c.mu.Unlock()
}

// Generate sends answers to the analysis endpoint and parses the reply.
// At most one call per sessionID runs at a time; a concurrent call returns a
// GENERATION_IN_FLIGHT error without touching the network. Timeouts and
// transport failures are retried with linear backoff; malformed responses
// are not. A storage failure leaves the result intact and sets Warning.
func (c *Client) Generate(ctx context.Context, sessionID string, answers models.Answers, identity *models.Identity) (*Result, error) {
	if err := checkPreconditions(answers, identity); err != nil {
		metrics.GenerationsCompleted.WithLabelValues("rejected", string(err.Code)).Inc()
		return &Result{}, err
	}

	if !c.acquire(sessionID) {
		c.logger.Warn("Generation already in flight, ignoring request", map[string]interface{}{"sessionId": sessionID})
		return nil, apperrors.NewGenerationInFlightError()
	}
	defer c.release(sessionID)

	metrics.GenerationsActive.Inc()
	defer metrics.GenerationsActive.Dec()

	ctx, span := c.obs.StartSpan(ctx, "generation.generate",
		attribute.String("session.id", sessionID),
		attribute.String("user.id", identity.UserID),
	)
	defer span.End()

	start := time.Now()
	req := Request{Answers: answers, UserID: identity.UserID, CompanyName: answers.CompanyName()}
	log := c.logger.With(map[string]interface{}{"sessionId": sessionID, "userId": identity.UserID})

	result := &Result{}
	var lastErr error
	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			wait := c.config.Backoff(attempt - 1)
			log.Info("Retrying analysis generation", map[string]interface{}{"attempt": attempt, "backoff": wait.String()})
			if err := c.sleep(ctx, wait); err != nil {
				lastErr = apperrors.NewGenerationFailedError(err)
				break
			}
		}

		result.Attempts = attempt
		text, err := c.attempt(ctx, attempt, req, identity.AccessToken)
		if err == nil {
			final, perr := c.parser.ParseStrict(text)
			if perr != nil {
				// the endpoint answered; asking again would not change the format
				lastErr = perr
				break
			}
			result.Final = final
			lastErr = nil
			break
		}

		lastErr = err
		log.Warn("Analysis attempt failed", map[string]interface{}{
			"attempt":   attempt,
			"errorCode": string(apperrors.Normalize(err).Code),
			"error":     err.Error(),
		})
		if !apperrors.IsRetryable(err) || ctx.Err() != nil {
			break
		}
	}

	elapsed := time.Since(start)
	if lastErr != nil {
		stdErr := apperrors.Normalize(lastErr).WithMetadata("attempts", result.Attempts)
		span.RecordError(stdErr)
		span.SetStatus(codes.Error, string(stdErr.Code))
		metrics.GenerationsCompleted.WithLabelValues("failed", string(stdErr.Code)).Inc()
		metrics.GenerationDuration.WithLabelValues("failed").Observe(elapsed.Seconds())
		log.Error("Analysis generation failed", map[string]interface{}{
			"attempts":  result.Attempts,
			"errorCode": string(stdErr.Code),
			"error":     stdErr.Error(),
		})
		return result, stdErr
	}

	c.store(ctx, log, identity, answers, result)

	metrics.GenerationsCompleted.WithLabelValues("succeeded", "").Inc()
	metrics.GenerationDuration.WithLabelValues("succeeded").Observe(elapsed.Seconds())
	log.Info("Analysis generated", map[string]interface{}{
		"attempts":   result.Attempts,
		"reportId":   result.ReportID,
		"durationMs": elapsed.Milliseconds(),
	})
	return result, nil
}

func checkPreconditions(answers models.Answers, identity *models.Identity) *apperrors.StandardError {
	if identity == nil || identity.UserID == "" || identity.AccessToken == "" {
		return apperrors.NewValidationError("an authenticated identity is required", []apperrors.FieldError{
			{Field: "identity", Message: "missing", Code: "REQUIRED_FIELD_MISSING"},
		})
	}
	if answers.CompanyName() == "" {
		return apperrors.NewValidationError("company name is required", []apperrors.FieldError{
			{Field: models.CompanyNameField, Message: "missing", Code: "REQUIRED_FIELD_MISSING"},
		})
	}
	return nil
}

// attempt performs one bounded call. The response of a timed-out call is
// dropped with its context.
func (c *Client) attempt(ctx context.Context, attempt int, req Request, token string) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.config.AttemptTimeout)
	defer cancel()

	start := time.Now()
	text, err := c.call(attemptCtx, req, token)
	status := "ok"
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = apperrors.NewGenerationTimeoutError(c.config.AttemptTimeout).WithMetadata("attempt", attempt)
		}
		status = string(apperrors.Normalize(err).Code)
	}
	metrics.GenerationAttempts.WithLabelValues(status).Inc()
	c.obs.RecordAttempt(ctx, attempt, time.Since(start), status)
	return text, err
}

func (c *Client) call(ctx context.Context, req Request, token string) (string, error) {
	resp, err := c.http.PostJSON(ctx, c.config.EndpointURL, token, req)
	if err != nil {
		return "", apperrors.NewGenerationFailedError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", apperrors.NewGenerationFailedError(fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", apperrors.NewAuthError(fmt.Sprintf("analysis endpoint returned %d", resp.StatusCode))
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return "", apperrors.NewGenerationFailedError(fmt.Errorf("status %d: %s", resp.StatusCode, envelopeError(body)))
	case resp.StatusCode != http.StatusOK:
		e := apperrors.NewGenerationFailedError(fmt.Errorf("status %d: %s", resp.StatusCode, envelopeError(body)))
		e.Retryable = false
		return "", e
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return "", apperrors.NewGenerationFailedError(fmt.Errorf("decode response: %w", err))
	}
	if !out.Success {
		return "", apperrors.NewGenerationFailedError(errors.New(nonEmpty(out.Error, "analysis endpoint reported failure")))
	}
	return out.Analysis, nil
}

func (c *Client) store(ctx context.Context, log logger.Logger, identity *models.Identity, answers models.Answers, result *Result) {
	if c.reports == nil {
		return
	}
	now := time.Now().UTC()
	report := &models.Report{
		ID:          uuid.New().String(),
		UserID:      identity.UserID,
		CompanyName: answers.CompanyName(),
		FinalResult: result.Final,
		Answers:     answers,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	id, err := c.reports.Create(ctx, report)
	if err != nil || id == "" {
		if err == nil {
			err = errors.New("report store returned no id")
		}
		result.Warning = apperrors.NewStorageError("create_report", err)
		log.Warn("Analysis generated but not stored", map[string]interface{}{"error": err.Error()})
		return
	}
	result.ReportID = id
	report.ID = id

	if c.indexer != nil {
		if err := c.indexer.Index(ctx, report); err != nil {
			log.Warn("Failed to index report", map[string]interface{}{"reportId": id, "error": err.Error()})
		}
	}
}

func envelopeError(body []byte) string {
	var out Response
	if err := json.Unmarshal(body, &out); err == nil && out.Error != "" {
		return out.Error
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
