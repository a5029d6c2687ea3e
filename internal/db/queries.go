package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/openmeet-team/fieldwork/internal/models"
)

// Querier interface represents a database connection or transaction
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Queries provides database query methods
type Queries struct {
	db Querier
}

// NewQueries creates a new Queries instance
func NewQueries(db Querier) *Queries {
	return &Queries{db: db}
}

// Survey Queries

// GetSurveyBySlug retrieves a survey by its slug. Definitions are authored
// elsewhere; this service only reads them.
func (q *Queries) GetSurveyBySlug(ctx context.Context, slug string) (*models.Survey, error) {
	query := `
		SELECT id, slug, title, definition, created_at, updated_at
		FROM surveys
		WHERE slug = $1
	`

	var s models.Survey
	var defJSON []byte
	err := q.db.QueryRowContext(ctx, query, slug).Scan(
		&s.ID, &s.Slug, &s.Title, &defJSON, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(defJSON, &s.Definition); err != nil {
		return nil, fmt.Errorf("failed to unmarshal survey definition: %w", err)
	}

	return &s, nil
}

// GetSurveyConstituencies retrieves the assembly constituencies assigned to
// a survey, with their polling station groups.
func (q *Queries) GetSurveyConstituencies(ctx context.Context, surveyID uuid.UUID) ([]models.Constituency, error) {
	query := `
		SELECT id, name, polling_groups
		FROM survey_constituencies
		WHERE survey_id = $1
		ORDER BY name
	`

	rows, err := q.db.QueryContext(ctx, query, surveyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query constituencies: %w", err)
	}
	defer rows.Close()

	var out []models.Constituency
	for rows.Next() {
		var ac models.Constituency
		var groupsJSON []byte
		if err := rows.Scan(&ac.ID, &ac.Name, &groupsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan constituency: %w", err)
		}
		if len(groupsJSON) > 0 {
			if err := json.Unmarshal(groupsJSON, &ac.PollingGroups); err != nil {
				return nil, fmt.Errorf("failed to unmarshal polling groups: %w", err)
			}
		}
		out = append(out, ac)
	}
	return out, rows.Err()
}

// Interview Queries

// SubmitInterview persists a completed interview and its answers in one
// transaction. The engine calls this exactly once per completed session.
func (q *Queries) SubmitInterview(ctx context.Context, sub *models.Submission) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	audioJSON, err := json.Marshal(sub.Audio)
	if err != nil {
		return fmt.Errorf("failed to marshal audio metadata: %w", err)
	}
	deviceJSON, err := json.Marshal(sub.Device)
	if err != nil {
		return fmt.Errorf("failed to marshal device info: %w", err)
	}

	var locationJSON, stationJSON []byte
	if sub.Location != nil {
		if locationJSON, err = json.Marshal(sub.Location); err != nil {
			return fmt.Errorf("failed to marshal location: %w", err)
		}
	}
	if sub.PollingStation != nil {
		if stationJSON, err = json.Marshal(sub.PollingStation); err != nil {
			return fmt.Errorf("failed to marshal polling station: %w", err)
		}
	}

	var constituencyID *string
	if sub.Constituency != nil {
		constituencyID = &sub.Constituency.ID
	}

	query := `
		INSERT INTO interviews (
			id, session_id, survey_id, interviewer_id, mode,
			started_at, ended_at, total_time_seconds,
			total_questions, answered_questions, completion_percentage,
			device, audio, location, constituency_id, polling_station,
			call_queue_id, call_id, gender, fingerprint, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (fingerprint) DO NOTHING
	`

	_, err = tx.ExecContext(ctx, query,
		sub.ID, sub.SessionID, sub.SurveyID, sub.InterviewerID, sub.Mode,
		sub.StartTime, sub.EndTime, sub.TotalTimeSeconds,
		sub.TotalQuestions, sub.AnsweredQuestions, sub.CompletionPercentage,
		deviceJSON, audioJSON, locationJSON, constituencyID, stationJSON,
		nullableString(sub.CallQueueID), nullableString(sub.CallID),
		nullableString(sub.Gender), sub.Fingerprint, sub.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert interview: %w", err)
	}

	answerQuery := `
		INSERT INTO interview_answers (
			interview_id, question_id, section_index, question_index,
			question_type, question_text, options, response,
			response_time_seconds, required, skipped
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	for _, ans := range sub.Answers {
		var optionsJSON, responseJSON []byte
		if len(ans.Options) > 0 {
			if optionsJSON, err = json.Marshal(ans.Options); err != nil {
				return fmt.Errorf("failed to marshal options for question '%s': %w", ans.QuestionID, err)
			}
		}
		if ans.Response != nil {
			if responseJSON, err = json.Marshal(ans.Response); err != nil {
				return fmt.Errorf("failed to marshal response for question '%s': %w", ans.QuestionID, err)
			}
		}

		_, err = tx.ExecContext(ctx, answerQuery,
			sub.ID, ans.QuestionID, ans.SectionIndex, ans.QuestionIndex,
			ans.Type, ans.Text, optionsJSON, responseJSON,
			ans.ResponseTimeSeconds, ans.Required, ans.Skipped,
		)
		if err != nil {
			return fmt.Errorf("failed to insert answer for question '%s': %w", ans.QuestionID, err)
		}
	}

	return tx.Commit()
}

// GenderResponseCounts aggregates completed interviews per canonical gender
// label. This feeds the live quota buckets.
func (q *Queries) GenderResponseCounts(ctx context.Context, surveyID uuid.UUID) (map[string]int, error) {
	query := `
		SELECT gender, COUNT(*)
		FROM interviews
		WHERE survey_id = $1 AND gender IS NOT NULL
		GROUP BY gender
	`

	rows, err := q.db.QueryContext(ctx, query, surveyID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate gender counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var gender string
		var count int
		if err := rows.Scan(&gender, &count); err != nil {
			return nil, fmt.Errorf("failed to scan gender count: %w", err)
		}
		counts[gender] = count
	}
	return counts, rows.Err()
}

// GetStats returns service-level counters for the health dashboard.
func (q *Queries) GetStats(ctx context.Context) (*Stats, error) {
	var stats Stats
	err := q.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM surveys),
			(SELECT COUNT(*) FROM interviews),
			(SELECT COUNT(DISTINCT interviewer_id) FROM interviews)
	`).Scan(&stats.SurveyCount, &stats.InterviewCount, &stats.InterviewerCount)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	return &stats, nil
}

// Stats represents service-level counters
type Stats struct {
	SurveyCount      int `json:"surveyCount"`
	InterviewCount   int `json:"interviewCount"`
	InterviewerCount int `json:"interviewerCount"`
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
