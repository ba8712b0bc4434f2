// Package reports stores generated analyses in Postgres and mirrors a
// searchable summary into Elasticsearch for the admin console.
package reports

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "swot-insights/internal/common/errors"
	"swot-insights/internal/common/logger"
	"swot-insights/internal/models"
)

const DefaultListLimit = 50

type Store struct {
	db     *sql.DB
	logger logger.Logger
	now    func() time.Time
}

func NewStore(db *sql.DB, log logger.Logger) *Store {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Store{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "reports"}),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts report and returns its id. A missing id is generated.
func (s *Store) Create(ctx context.Context, report *models.Report) (string, error) {
	if report.ID == "" {
		report.ID = uuid.New().String()
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = s.now()
	}
	report.UpdatedAt = report.CreatedAt

	finalJSON, err := json.Marshal(report.FinalResult)
	if err != nil {
		return "", apperrors.NewStorageError("create_report", fmt.Errorf("marshal final result: %w", err))
	}
	answersJSON, err := json.Marshal(report.Answers)
	if err != nil {
		return "", apperrors.NewStorageError("create_report", fmt.Errorf("marshal answers: %w", err))
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO swot_reports (
			id, user_id, company_name, final_result, answers, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		report.ID,
		report.UserID,
		report.CompanyName,
		finalJSON,
		answersJSON,
		report.CreatedAt,
	)
	if err != nil {
		return "", apperrors.NewStorageError("create_report", err)
	}

	s.logger.Info("report created", map[string]interface{}{
		"reportId": report.ID,
		"userId":   report.UserID,
	})
	return report.ID, nil
}

// Update applies patch to the caller's report. It reports false when the
// report does not exist or belongs to someone else.
func (s *Store) Update(ctx context.Context, id, userID string, patch models.ReportPatch) (bool, error) {
	var (
		finalJSON []byte
		company   string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT final_result, company_name FROM swot_reports
		WHERE id = $1 AND user_id = $2`, id, userID).Scan(&finalJSON, &company)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apperrors.NewStorageError("update_report", err)
	}

	var final models.FinalResult
	if err := json.Unmarshal(finalJSON, &final); err != nil {
		return false, apperrors.NewStorageError("update_report", fmt.Errorf("decode final result: %w", err))
	}
	if patch.PrioritizedActions != nil {
		final.PrioritizedActions = append([]string(nil), (*patch.PrioritizedActions)...)
	}
	if patch.CompanyName != nil {
		company = *patch.CompanyName
	}
	finalJSON, err = json.Marshal(final)
	if err != nil {
		return false, apperrors.NewStorageError("update_report", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE swot_reports
		SET final_result = $1, company_name = $2, updated_at = $3
		WHERE id = $4 AND user_id = $5`,
		finalJSON, company, s.now(), id, userID)
	if err != nil {
		return false, apperrors.NewStorageError("update_report", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.NewStorageError("update_report", err)
	}
	return n > 0, nil
}

// Delete removes the caller's report.
func (s *Store) Delete(ctx context.Context, id, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM swot_reports WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, apperrors.NewStorageError("delete_report", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.NewStorageError("delete_report", err)
	}
	if n > 0 {
		s.logger.Info("report deleted", map[string]interface{}{"reportId": id, "userId": userID})
	}
	return n > 0, nil
}

// ListByUser returns the newest reports first.
func (s *Store) ListByUser(ctx context.Context, userID string, limit int) ([]models.Report, error) {
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, company_name, final_result, answers, created_at, updated_at
		FROM swot_reports
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, apperrors.NewStorageError("list_reports", err)
	}
	defer rows.Close()

	out := []models.Report{}
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, apperrors.NewStorageError("list_reports", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError("list_reports", err)
	}
	return out, nil
}

// Get loads one of the caller's reports.
func (s *Store) Get(ctx context.Context, id, userID string) (*models.Report, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, company_name, final_result, answers, created_at, updated_at
		FROM swot_reports
		WHERE id = $1 AND user_id = $2`, id, userID)
	r, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewReportNotFoundError(id)
	}
	if err != nil {
		return nil, apperrors.NewStorageError("get_report", err)
	}
	return r, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanReport(row scanner) (*models.Report, error) {
	var (
		r           models.Report
		finalJSON   []byte
		answersJSON []byte
	)
	if err := row.Scan(&r.ID, &r.UserID, &r.CompanyName, &finalJSON, &answersJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(finalJSON, &r.FinalResult); err != nil {
		return nil, fmt.Errorf("decode final result: %w", err)
	}
	if err := json.Unmarshal(answersJSON, &r.Answers); err != nil {
		return nil, fmt.Errorf("decode answers: %w", err)
	}
	return &r, nil
}
