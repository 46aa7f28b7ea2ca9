package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// Turn roles. An assistant turn's Content holds the chairman's final text
// and its Payload holds the full deliberation record as JSON.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Turn struct {
	ID             int64           `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Role           string          `json:"role"`
	Content        string          `json:"content"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// AppendTurn writes one turn and bumps the conversation's updated_at in the
// same transaction. A crash mid-append leaves either both rows touched or
// neither; there is no half-written turn to trip over on restart.
func (s *Store) AppendTurn(t *Turn) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		INSERT INTO turns (conversation_id, role, content, payload)
		VALUES (?, ?, ?, ?)`,
		t.ConversationID, t.Role, t.Content, nullableJSON(t.Payload))
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	if _, err := tx.Exec(`
		UPDATE conversations SET updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		t.ConversationID); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit turn: %w", err)
	}
	t.ID, _ = result.LastInsertId()
	return nil
}

func (s *Store) GetTurns(conversationID string) ([]Turn, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, role, content, payload, created_at
		FROM turns
		WHERE conversation_id = ?
		ORDER BY id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("get turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var payload *string
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.Role, &t.Content, &payload, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		if payload != nil {
			t.Payload = json.RawMessage(*payload)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// CountTurns exists so callers can detect a first message without loading
// the whole history.
func (s *Store) CountTurns(conversationID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM turns WHERE conversation_id = ?`, conversationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count turns: %w", err)
	}
	return n, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
