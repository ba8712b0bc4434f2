package generation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "swot-insights/internal/common/errors"
	"swot-insights/internal/common/logger"
	"swot-insights/internal/models"
)

const validAnalysis = "### MATRIZ SWOT\nForças: equipe\n### DIAGNÓSTICO CONSULTIVO\nEmpresa saudável\n### PLANO DE AÇÃO A/B/C\nA) vender mais"

type mockReportStore struct {
	mock.Mock
}

func (m *mockReportStore) Create(ctx context.Context, report *models.Report) (string, error) {
	args := m.Called(ctx, report)
	return args.String(0), args.Error(1)
}

func testAnswers() models.Answers {
	a := models.NewAnswers()
	a.SetStep(models.StepIdentification, models.StepRecord{models.CompanyNameField: "Padaria Central", "segment": "Comércio"})
	return a
}

func testIdentity() *models.Identity {
	return &models.Identity{UserID: "user-1", Email: "ana@example.com", AccessToken: "token-abc"}
}

func writeEnvelope(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func newTestClient(t *testing.T, url string, reports ReportStore) *Client {
	c := NewClient(&Config{
		EndpointURL:    url,
		MaxAttempts:    3,
		AttemptTimeout: 100 * time.Millisecond,
		BackoffUnit:    time.Millisecond,
		SourceTag:      "test",
	}, Dependencies{Reports: reports, Logger: logger.NewTestLogger(t)})
	return c
}

func TestGenerate_Success(t *testing.T) {
	var gotAuth string
	var gotBody Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		writeEnvelope(w, http.StatusOK, Response{Success: true, Analysis: validAnalysis})
	}))
	defer server.Close()

	store := new(mockReportStore)
	store.On("Create", mock.Anything, mock.MatchedBy(func(r *models.Report) bool {
		return r.UserID == "user-1" && r.CompanyName == "Padaria Central" && r.FinalResult.Ready
	})).Return("report-1", nil)

	c := newTestClient(t, server.URL, store)
	res, err := c.Generate(context.Background(), "user-1", testAnswers(), testIdentity())

	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "report-1", res.ReportID)
	assert.Nil(t, res.Warning)
	assert.True(t, res.Final.Ready)
	assert.Equal(t, "Forças: equipe", res.Final.MatrixText)
	assert.Equal(t, "test", res.Final.SourceTag)
	assert.Equal(t, "Bearer token-abc", gotAuth)
	assert.Equal(t, "Padaria Central", gotBody.CompanyName)
	store.AssertExpectations(t)
}

func TestGenerate_TimesOutTwiceThenSucceeds(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		writeEnvelope(w, http.StatusOK, Response{Success: true, Analysis: validAnalysis})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, nil)
	var waits []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	res, err := c.Generate(context.Background(), "user-1", testAnswers(), testIdentity())

	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, waits)
}

func TestGenerate_ExhaustsAttempts(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeEnvelope(w, http.StatusBadGateway, Response{Success: false, Error: "upstream down"})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, nil)
	res, err := c.Generate(context.Background(), "user-1", testAnswers(), testIdentity())

	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeGenerationFailed))
	assert.Contains(t, err.Error(), "upstream down")
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGenerate_MalformedFailsFast(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeEnvelope(w, http.StatusOK, Response{Success: true, Analysis: "sem seções"})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, nil)
	res, err := c.Generate(context.Background(), "user-1", testAnswers(), testIdentity())

	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMalformedResponse))
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGenerate_AuthErrorNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, nil)
	_, err := c.Generate(context.Background(), "user-1", testAnswers(), testIdentity())

	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeAuthInvalid))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGenerate_Preconditions(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()
	c := newTestClient(t, server.URL, nil)

	_, err := c.Generate(context.Background(), "s", models.NewAnswers(), testIdentity())
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))

	_, err = c.Generate(context.Background(), "s", testAnswers(), nil)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))

	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestGenerate_StorageFailureIsWarning(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, Response{Success: true, Analysis: validAnalysis})
	}))
	defer server.Close()

	store := new(mockReportStore)
	store.On("Create", mock.Anything, mock.Anything).Return("", errors.New("connection refused"))

	c := newTestClient(t, server.URL, store)
	res, err := c.Generate(context.Background(), "user-1", testAnswers(), testIdentity())

	require.NoError(t, err)
	require.NotNil(t, res.Warning)
	assert.Equal(t, apperrors.ErrCodeStorageFailed, res.Warning.Code)
	assert.True(t, res.Final.Ready)
	assert.Empty(t, res.ReportID)
}

func TestGenerate_SecondCallWhileInFlightIsNoop(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	entered := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(entered)
		}
		<-release
		writeEnvelope(w, http.StatusOK, Response{Success: true, Analysis: validAnalysis})
	}))
	defer server.Close()

	c := NewClient(&Config{EndpointURL: server.URL, AttemptTimeout: 5 * time.Second}, Dependencies{Logger: logger.NewTestLogger(t)})

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = c.Generate(context.Background(), "session-1", testAnswers(), testIdentity())
	}()

	<-entered
	res, err := c.Generate(context.Background(), "session-1", testAnswers(), testIdentity())
	assert.Nil(t, res)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeGenerationInFlight))

	close(release)
	wg.Wait()
	require.NoError(t, firstErr)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// the key is released once the first generation settles
	_, err = c.Generate(context.Background(), "session-1", testAnswers(), testIdentity())
	require.NoError(t, err)
}

func TestConfig_Backoff(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.AttemptTimeout)
	assert.Equal(t, 2*time.Second, cfg.Backoff(1))
	assert.Equal(t, 4*time.Second, cfg.Backoff(2))
}
