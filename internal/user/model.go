package user

import (
	"time"

	"linkup/internal/ident"
)

type User struct {
	ID             ident.ID  `json:"id"`
	Name           string    `json:"name"`
	Phone          string    `json:"phone"`
	Email          string    `json:"email,omitempty"`
	Avatar         string    `json:"avatar"`
	Password       string    `json:"-"`
	UnreadMessages int       `json:"unread_messages"`
	CreatedAt      time.Time `json:"created_at"`
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	// Phone also accepts an email address, matching the mobile client.
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string   `json:"access_token"`
	ID          ident.ID `json:"id"`
	Name        string   `json:"name"`
	Phone       string   `json:"phone"`
	Avatar      string   `json:"avatar"`
}
