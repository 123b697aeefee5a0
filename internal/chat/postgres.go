package chat

import (
	"context"
	"database/sql"
	"errors"

	"linkup/internal/ident"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations (id, type, name) VALUES ($1, $2, $3)`,
		conv.ID, conv.Type, conv.Name)
	if err != nil {
		return err
	}

	for _, m := range conv.Members {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO conversation_members (conversation_id, user_id) VALUES ($1, $2)`,
			conv.ID, m.UserID)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *PostgresStore) Conversation(ctx context.Context, id ident.ID) (*Conversation, error) {
	conv := &Conversation{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, type, name, created_at, updated_at FROM conversations WHERE id = $1`, id).
		Scan(&conv.ID, &conv.Type, &conv.Name, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, unread_count FROM conversation_members WHERE conversation_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.UserID, &m.UnreadCount); err != nil {
			return nil, err
		}
		conv.Members = append(conv.Members, m)
	}
	return conv, rows.Err()
}

func (s *PostgresStore) DeleteConversation(ctx context.Context, id ident.ID) error {
	// Members and messages go through the FK cascade.
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) Summaries(ctx context.Context, userID ident.ID, limit int) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT c.id, c.type, c.name, c.updated_at,
               COALESCE(m.id::text, ''), COALESCE(m.sender_id::text, ''),
               COALESCE(m.body, ''), COALESCE(m.seen, FALSE),
               COALESCE(m.created_at, c.created_at)
        FROM conversations c
        JOIN conversation_members cm ON cm.conversation_id = c.id AND cm.user_id = $1
        LEFT JOIN messages m ON m.id = c.last_message_id
        ORDER BY c.updated_at DESC
        LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sums []Summary
	for rows.Next() {
		var sum Summary
		last := LastMessage{}
		var lastID, lastSender string
		if err := rows.Scan(&sum.ID, &sum.Type, &sum.Name, &sum.UpdatedAt,
			&lastID, &lastSender, &last.Body, &last.Seen, &last.CreatedAt); err != nil {
			return nil, err
		}
		if lastID != "" {
			last.ID = ident.ID(lastID)
			last.Sender = ident.ID(lastSender)
			last.IsImage = sniffImage(last.Body)
			sum.LastMessage = &last
		}
		sums = append(sums, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// The page is at most 20 rows; fetching members per conversation is
	// fine here and keeps the query planner honest.
	for i := range sums {
		members, err := s.memberDetails(ctx, sums[i].ID)
		if err != nil {
			return nil, err
		}
		sums[i].Members = members
	}
	return sums, nil
}

func (s *PostgresStore) memberDetails(ctx context.Context, conversationID ident.ID) ([]MemberDetail, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT u.id, u.name, u.avatar, cm.unread_count
        FROM conversation_members cm
        JOIN users u ON u.id = cm.user_id
        WHERE cm.conversation_id = $1`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []MemberDetail
	for rows.Next() {
		var m MemberDetail
		if err := rows.Scan(&m.UserID, &m.Name, &m.Avatar, &m.UnreadCount); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *PostgresStore) InsertMessage(ctx context.Context, msg *Message) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO messages (id, conversation_id, sender_id, body, seen, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.ConversationID, msg.Sender, msg.Body, msg.Seen, msg.CreatedAt)
	return err
}

func (s *PostgresStore) Messages(ctx context.Context, conversationID ident.ID, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, conversation_id, sender_id, body, seen, created_at
        FROM messages
        WHERE conversation_id = $1
        ORDER BY created_at DESC
        LIMIT $2`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Sender, &m.Body, &m.Seen, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.IsImage = sniffImage(m.Body)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Fetched newest-first for the LIMIT; callers want oldest-first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *PostgresStore) SetLastMessage(ctx context.Context, conversationID, messageID ident.ID) error {
	_, err := s.db.ExecContext(ctx, `
        UPDATE conversations
        SET last_message_id = $2, updated_at = CURRENT_TIMESTAMP
        WHERE id = $1`, conversationID, messageID)
	return err
}

func (s *PostgresStore) IncrementUnread(ctx context.Context, conversationID, sender ident.ID) ([]ident.ID, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
        UPDATE conversation_members
        SET unread_count = unread_count + 1
        WHERE conversation_id = $1 AND user_id <> $2
        RETURNING user_id`, conversationID, sender)
	if err != nil {
		return nil, err
	}

	var recipients []ident.ID
	for rows.Next() {
		var id ident.ID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		recipients = append(recipients, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range recipients {
		if _, err := tx.ExecContext(ctx, `
            UPDATE users SET unread_messages = unread_messages + 1 WHERE id = $1`, id); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return recipients, nil
}

func (s *PostgresStore) MarkSeen(ctx context.Context, conversationID, reader ident.ID) error {
	_, err := s.db.ExecContext(ctx, `
        UPDATE messages SET seen = TRUE
        WHERE conversation_id = $1 AND sender_id <> $2`, conversationID, reader)
	return err
}

func (s *PostgresStore) ResetUnread(ctx context.Context, conversationID, reader ident.ID) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var cleared int
	err = tx.QueryRowContext(ctx, `
        SELECT unread_count FROM conversation_members
        WHERE conversation_id = $1 AND user_id = $2
        FOR UPDATE`, conversationID, reader).Scan(&cleared)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	if cleared == 0 {
		return 0, tx.Commit()
	}

	_, err = tx.ExecContext(ctx, `
        UPDATE conversation_members SET unread_count = 0
        WHERE conversation_id = $1 AND user_id = $2`, conversationID, reader)
	if err != nil {
		return 0, err
	}

	_, err = tx.ExecContext(ctx, `
        UPDATE users SET unread_messages = GREATEST(unread_messages - $2, 0)
        WHERE id = $1`, reader, cleared)
	if err != nil {
		return 0, err
	}

	return cleared, tx.Commit()
}
