package friend

import (
	"context"
	"database/sql"
	"errors"

	"linkup/internal/ident"
)

// dbtx is the subset of database/sql shared by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PostgresStore struct {
	db   *sql.DB
	conn dbtx
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, conn: db}
}

func (s *PostgresStore) Relation(ctx context.Context, userID, peerID ident.ID) (*Relation, error) {
	rel := &Relation{}
	var convID sql.NullString
	query := `SELECT user_id, peer_id, kind, conversation_id, created_at
              FROM user_relations WHERE user_id = $1 AND peer_id = $2`

	err := s.conn.QueryRowContext(ctx, query, userID, peerID).
		Scan(&rel.UserID, &rel.PeerID, &rel.Kind, &convID, &rel.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRelationNotFound
		}
		return nil, err
	}
	if convID.Valid {
		rel.ConversationID = ident.ID(convID.String)
	}
	return rel, nil
}

func (s *PostgresStore) Put(ctx context.Context, rel Relation) error {
	query := `INSERT INTO user_relations (user_id, peer_id, kind, conversation_id)
              VALUES ($1, $2, $3, NULLIF($4, ''))`
	_, err := s.conn.ExecContext(ctx, query, rel.UserID, rel.PeerID, rel.Kind, string(rel.ConversationID))
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, userID, peerID ident.ID) error {
	query := `DELETE FROM user_relations WHERE user_id = $1 AND peer_id = $2`
	_, err := s.conn.ExecContext(ctx, query, userID, peerID)
	return err
}

func (s *PostgresStore) List(ctx context.Context, userID ident.ID, kind Kind) ([]Relation, error) {
	query := `SELECT user_id, peer_id, kind, conversation_id, created_at
              FROM user_relations WHERE user_id = $1 AND kind = $2 ORDER BY created_at`

	rows, err := s.conn.QueryContext(ctx, query, userID, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rels []Relation
	for rows.Next() {
		var rel Relation
		var convID sql.NullString
		if err := rows.Scan(&rel.UserID, &rel.PeerID, &rel.Kind, &convID, &rel.CreatedAt); err != nil {
			return nil, err
		}
		if convID.Valid {
			rel.ConversationID = ident.ID(convID.String)
		}
		rels = append(rels, rel)
	}
	return rels, rows.Err()
}

func (s *PostgresStore) ListProfiles(ctx context.Context, userID ident.ID, kind Kind) ([]PeerProfile, error) {
	query := `SELECT u.id, u.name, u.avatar, COALESCE(r.conversation_id::text, '')
              FROM user_relations r
              JOIN users u ON u.id = r.peer_id
              WHERE r.user_id = $1 AND r.kind = $2
              ORDER BY r.created_at`

	rows, err := s.conn.QueryContext(ctx, query, userID, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []PeerProfile
	for rows.Next() {
		var p PeerProfile
		var convID string
		if err := rows.Scan(&p.ID, &p.Name, &p.Avatar, &convID); err != nil {
			return nil, err
		}
		p.ConversationID = ident.ID(convID)
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

func (s *PostgresStore) UserExists(ctx context.Context, userID ident.ID) (bool, error) {
	var exists bool
	err := s.conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) Within(ctx context.Context, fn func(Store) error) error {
	if _, alreadyTx := s.conn.(*sql.Tx); alreadyTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(&PostgresStore{db: s.db, conn: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
