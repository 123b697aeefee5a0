package user

import (
	"context"
	"database/sql"
	"errors"

	"linkup/internal/ident"
)

var ErrNotFound = errors.New("user not found")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateUser(ctx context.Context, u *User) (*User, error) {
	if u.ID == "" {
		u.ID = ident.New()
	}
	query := `INSERT INTO users (id, phone, email, name, avatar, password)
              VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)`

	_, err := r.db.ExecContext(ctx, query, u.ID, u.Phone, u.Email, u.Name, u.Avatar, u.Password)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// GetByLogin resolves a login identifier that may be a phone number or an
// email address.
func (r *Repository) GetByLogin(ctx context.Context, login string) (*User, error) {
	u := &User{}
	query := `SELECT id, phone, COALESCE(email, ''), name, avatar, password, unread_messages, created_at
              FROM users WHERE phone = $1 OR email = $1`

	err := r.db.QueryRowContext(ctx, query, login).
		Scan(&u.ID, &u.Phone, &u.Email, &u.Name, &u.Avatar, &u.Password, &u.UnreadMessages, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

func (r *Repository) GetByID(ctx context.Context, id ident.ID) (*User, error) {
	u := &User{}
	query := `SELECT id, phone, COALESCE(email, ''), name, avatar, password, unread_messages, created_at
              FROM users WHERE id = $1`

	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&u.ID, &u.Phone, &u.Email, &u.Name, &u.Avatar, &u.Password, &u.UnreadMessages, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

func (r *Repository) SearchUsers(ctx context.Context, query string) ([]User, error) {
	// We limit to 10 to keep it fast
	q := `SELECT id, phone, name, avatar FROM users
          WHERE name ILIKE $1 OR phone = $2 LIMIT 10`
	rows, err := r.db.QueryContext(ctx, q, "%"+query+"%", query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Phone, &u.Name, &u.Avatar); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
