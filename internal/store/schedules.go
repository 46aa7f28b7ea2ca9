package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ScheduledQuestion is a question put to the council on a cron schedule,
// with its answers accumulating in a dedicated conversation.
type ScheduledQuestion struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Schedule       string     `json:"schedule"`
	Question       string     `json:"question"`
	ConversationID string     `json:"conversation_id"`
	Status         string     `json:"status"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	LastStatus     string     `json:"last_status,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func scanQuestion(scanner interface {
	Scan(dest ...any) error
}) (*ScheduledQuestion, error) {
	q := &ScheduledQuestion{}
	var lastStatus, lastError *string
	err := scanner.Scan(&q.ID, &q.Name, &q.Schedule, &q.Question, &q.ConversationID, &q.Status,
		&q.NextRunAt, &q.LastRunAt, &lastStatus, &lastError, &q.CreatedAt)
	if err != nil {
		return nil, err
	}
	if lastStatus != nil {
		q.LastStatus = *lastStatus
	}
	if lastError != nil {
		q.LastError = *lastError
	}
	return q, nil
}

func (s *Store) SaveScheduledQuestion(q *ScheduledQuestion) error {
	_, err := s.db.Exec(`
		INSERT INTO scheduled_questions (id, name, schedule, question, conversation_id, status, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			schedule = excluded.schedule,
			question = excluded.question,
			status = excluded.status,
			next_run_at = excluded.next_run_at`,
		q.ID, q.Name, q.Schedule, q.Question, q.ConversationID, q.Status, q.NextRunAt)
	if err != nil {
		return fmt.Errorf("save scheduled question: %w", err)
	}
	return nil
}

func (s *Store) GetScheduledQuestion(id string) (*ScheduledQuestion, error) {
	row := s.db.QueryRow(`
		SELECT id, name, schedule, question, conversation_id, status,
		       next_run_at, last_run_at, last_status, last_error, created_at
		FROM scheduled_questions WHERE id = ?`, id)
	q, err := scanQuestion(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scheduled question: %w", err)
	}
	return q, nil
}

func (s *Store) ListScheduledQuestions() ([]ScheduledQuestion, error) {
	rows, err := s.db.Query(`
		SELECT id, name, schedule, question, conversation_id, status,
		       next_run_at, last_run_at, last_status, last_error, created_at
		FROM scheduled_questions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list scheduled questions: %w", err)
	}
	defer rows.Close()

	var out []ScheduledQuestion
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled question: %w", err)
		}
		out = append(out, *q)
	}
	return out, rows.Err()
}

func (s *Store) GetDueQuestions(now time.Time) ([]ScheduledQuestion, error) {
	rows, err := s.db.Query(`
		SELECT id, name, schedule, question, conversation_id, status,
		       next_run_at, last_run_at, last_status, last_error, created_at
		FROM scheduled_questions
		WHERE status = 'active' AND next_run_at <= ?
		ORDER BY next_run_at`, now)
	if err != nil {
		return nil, fmt.Errorf("get due questions: %w", err)
	}
	defer rows.Close()

	var out []ScheduledQuestion
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled question: %w", err)
		}
		out = append(out, *q)
	}
	return out, rows.Err()
}

func (s *Store) UpdateQuestionRun(id string, lastStatus string, lastError string, nextRunAt *time.Time) error {
	_, err := s.db.Exec(`
		UPDATE scheduled_questions
		SET last_run_at = CURRENT_TIMESTAMP, last_status = ?, last_error = ?, next_run_at = ?
		WHERE id = ?`, lastStatus, lastError, nextRunAt, id)
	return err
}

func (s *Store) UpdateQuestionStatus(id string, status string) error {
	_, err := s.db.Exec(`UPDATE scheduled_questions SET status = ? WHERE id = ?`, status, id)
	return err
}

func (s *Store) DeleteScheduledQuestion(id string) error {
	_, err := s.db.Exec(`DELETE FROM scheduled_questions WHERE id = ?`, id)
	return err
}
