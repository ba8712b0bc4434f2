package reports

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	apperrors "swot-insights/internal/common/errors"
	"swot-insights/internal/common/logger"
	"swot-insights/internal/models"
)

const DefaultIndex = "swot-reports"

// IndexMapping is applied when the index is created.
const IndexMapping = `{
	"mappings": {
		"properties": {
			"id": {"type": "keyword"},
			"user_id": {"type": "keyword"},
			"company_name": {"type": "text", "fields": {"raw": {"type": "keyword"}}},
			"segment": {"type": "keyword"},
			"matrix_text": {"type": "text"},
			"diagnostic_text": {"type": "text"},
			"action_plan_text": {"type": "text"},
			"created_at": {"type": "date"}
		}
	}
}`

type document struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	CompanyName    string    `json:"company_name"`
	Segment        string    `json:"segment,omitempty"`
	MatrixText     string    `json:"matrix_text"`
	DiagnosticText string    `json:"diagnostic_text"`
	ActionPlanText string    `json:"action_plan_text"`
	CreatedAt      time.Time `json:"created_at"`
}

// SearchResult is one page of admin search hits.
type SearchResult struct {
	Total int64                  `json:"total"`
	Hits  []models.ReportSummary `json:"hits"`
	Took  int64                  `json:"took"`
}

type Indexer struct {
	client *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewIndexer(client *elasticsearch.Client, index string, log logger.Logger) *Indexer {
	if index == "" {
		index = DefaultIndex
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Indexer{
		client: client,
		index:  index,
		logger: log.WithFields(map[string]interface{}{"component": "report-index", "index": index}),
	}
}

// Index upserts the searchable summary of report.
func (i *Indexer) Index(ctx context.Context, report *models.Report) error {
	segment, _ := report.Answers.Step(models.StepIdentification)["segment"].(string)
	body, err := json.Marshal(document{
		ID:             report.ID,
		UserID:         report.UserID,
		CompanyName:    report.CompanyName,
		Segment:        segment,
		MatrixText:     report.FinalResult.MatrixText,
		DiagnosticText: report.FinalResult.DiagnosticText,
		ActionPlanText: report.FinalResult.ActionPlanText,
		CreatedAt:      report.CreatedAt,
	})
	if err != nil {
		return apperrors.NewSearchQueryFailedError(err)
	}

	req := esapi.IndexRequest{
		Index:      i.index,
		DocumentID: report.ID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return apperrors.NewElasticsearchConnectionFailedError(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return apperrors.NewSearchQueryFailedError(fmt.Errorf("index report %s: %s", report.ID, res.Status()))
	}
	return nil
}

// Remove drops a report from the index. Missing documents are not an error.
func (i *Indexer) Remove(ctx context.Context, id string) error {
	req := esapi.DeleteRequest{Index: i.index, DocumentID: id}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return apperrors.NewElasticsearchConnectionFailedError(err)
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return apperrors.NewSearchQueryFailedError(fmt.Errorf("delete report %s: %s", id, res.Status()))
	}
	return nil
}

// Search runs a full-text query over company names and report sections.
// An empty query lists the newest reports.
func (i *Indexer) Search(ctx context.Context, q string, from, size int) (*SearchResult, error) {
	if size < 1 || size > 100 {
		size = 20
	}
	if from < 0 {
		from = 0
	}

	query := map[string]interface{}{"match_all": map[string]interface{}{}}
	if q = strings.TrimSpace(q); q != "" {
		query = map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  q,
				"fields": []string{"company_name^3", "segment^2", "matrix_text", "diagnostic_text", "action_plan_text"},
			},
		}
	}
	body, err := json.Marshal(map[string]interface{}{
		"query": query,
		"from":  from,
		"size":  size,
		"sort":  []interface{}{map[string]interface{}{"created_at": map[string]string{"order": "desc"}}},
	})
	if err != nil {
		return nil, apperrors.NewSearchQueryFailedError(err)
	}

	req := esapi.SearchRequest{
		Index: []string{i.index},
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return nil, apperrors.NewElasticsearchConnectionFailedError(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, apperrors.NewSearchQueryFailedError(fmt.Errorf("search failed: %s", res.String()))
	}

	var r struct {
		Took int64 `json:"took"`
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source document `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return nil, apperrors.NewSearchQueryFailedError(fmt.Errorf("decode search response: %w", err))
	}

	out := &SearchResult{Total: r.Hits.Total.Value, Took: r.Took, Hits: []models.ReportSummary{}}
	for _, h := range r.Hits.Hits {
		out.Hits = append(out.Hits, models.ReportSummary{
			ID:          h.Source.ID,
			UserID:      h.Source.UserID,
			CompanyName: h.Source.CompanyName,
			Segment:     h.Source.Segment,
			CreatedAt:   h.Source.CreatedAt,
		})
	}
	return out, nil
}
