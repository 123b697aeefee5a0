package chat

import (
	"strings"
	"time"

	"linkup/internal/ident"
)

type Type string

const (
	TypeSingle Type = "single"
	TypeGroup  Type = "group"
)

// imagePrefix marks a message body carrying an inline data-URI image;
// the clients sniff the same prefix when rendering.
const imagePrefix = "data:image/"

type Conversation struct {
	ID        ident.ID  `json:"id"`
	Type      Type      `json:"type"`
	Name      string    `json:"name,omitempty"`
	Members   []Member  `json:"members"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Member struct {
	UserID      ident.ID `json:"user_id"`
	UnreadCount int      `json:"unread_count"`
}

func (c *Conversation) HasMember(userID ident.ID) bool {
	for _, m := range c.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

type Message struct {
	ID             ident.ID  `json:"id"`
	ConversationID ident.ID  `json:"conversation_id"`
	Sender         ident.ID  `json:"sender"`
	Body           string    `json:"message"`
	Seen           bool      `json:"seen"`
	IsImage        bool      `json:"is_image"`
	CreatedAt      time.Time `json:"created_at"`
}

// sniffImage flags data-URI image payloads sent through the text channel.
func sniffImage(body string) bool {
	return strings.HasPrefix(body, imagePrefix)
}

// Summary is the conversation-list projection: member display identities
// and the last message, not the message history.
type Summary struct {
	ID          ident.ID       `json:"id"`
	Type        Type           `json:"type"`
	Name        string         `json:"name,omitempty"`
	Members     []MemberDetail `json:"members"`
	LastMessage *LastMessage   `json:"last_message"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type MemberDetail struct {
	UserID      ident.ID `json:"user_id"`
	Name        string   `json:"name"`
	Avatar      string   `json:"avatar"`
	UnreadCount int      `json:"unread_count"`
}

type LastMessage struct {
	ID        ident.ID  `json:"id"`
	Sender    ident.ID  `json:"sender"`
	Body      string    `json:"message"`
	Seen      bool      `json:"seen"`
	IsImage   bool      `json:"is_image"`
	CreatedAt time.Time `json:"created_at"`
}
