package store

import (
	"database/sql"
	"fmt"
	"time"
)

type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	TurnCount int       `json:"turn_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Store) CreateConversation(id string) (*Conversation, error) {
	_, err := s.db.Exec(`INSERT INTO conversations (id) VALUES (?)`, id)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return s.GetConversation(id)
}

// GetConversation returns nil, nil when the id is unknown.
func (s *Store) GetConversation(id string) (*Conversation, error) {
	row := s.db.QueryRow(`
		SELECT c.id, c.title, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM turns t WHERE t.conversation_id = c.id)
		FROM conversations c WHERE c.id = ?`, id)

	c := &Conversation{}
	err := row.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt, &c.TurnCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

func (s *Store) ListConversations() ([]Conversation, error) {
	rows, err := s.db.Query(`
		SELECT c.id, c.title, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM turns t WHERE t.conversation_id = c.id)
		FROM conversations c
		ORDER BY c.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt, &c.TurnCount); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) UpdateConversationTitle(id, title string) error {
	_, err := s.db.Exec(`
		UPDATE conversations SET title = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		title, id)
	if err != nil {
		return fmt.Errorf("update conversation title: %w", err)
	}
	return nil
}

func (s *Store) DeleteConversation(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM scheduled_questions WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("delete conversation schedules: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM turns WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("delete conversation turns: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}

	return tx.Commit()
}
