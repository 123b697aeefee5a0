package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"linkup/internal/ident"
)

// MemoryStore is the in-process Store used by tests. It also tracks the
// per-user unread aggregate the way the users table does.
type MemoryStore struct {
	mu            sync.Mutex
	conversations map[ident.ID]*Conversation
	messages      map[ident.ID][]Message // keyed by conversation
	userUnread    map[ident.ID]int
	profiles      map[ident.ID]MemberDetail
	seq           int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[ident.ID]*Conversation),
		messages:      make(map[ident.ID][]Message),
		userUnread:    make(map[ident.ID]int),
		profiles:      make(map[ident.ID]MemberDetail),
	}
}

// AddProfile registers display identity for summary projections.
func (s *MemoryStore) AddProfile(id ident.ID, name, avatar string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[id] = MemberDetail{UserID: id, Name: name, Avatar: avatar}
}

// UserUnread reports a user's aggregate unread counter.
func (s *MemoryStore) UserUnread(id ident.ID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userUnread[id]
}

func (s *MemoryStore) tick() time.Time {
	s.seq++
	return time.Unix(0, int64(s.seq)*int64(time.Millisecond)).UTC()
}

func (s *MemoryStore) CreateConversation(_ context.Context, conv *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *conv
	stored.Members = append([]Member(nil), conv.Members...)
	stored.CreatedAt = s.tick()
	stored.UpdatedAt = stored.CreatedAt
	s.conversations[conv.ID] = &stored
	return nil
}

func (s *MemoryStore) Conversation(_ context.Context, id ident.ID) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	out := *conv
	out.Members = append([]Member(nil), conv.Members...)
	return &out, nil
}

func (s *MemoryStore) DeleteConversation(_ context.Context, id ident.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conversations, id)
	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) Summaries(_ context.Context, userID ident.ID, limit int) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sums []Summary
	for _, conv := range s.conversations {
		var mine bool
		for _, m := range conv.Members {
			if m.UserID == userID {
				mine = true
			}
		}
		if !mine {
			continue
		}

		sum := Summary{ID: conv.ID, Type: conv.Type, Name: conv.Name, UpdatedAt: conv.UpdatedAt}
		for _, m := range conv.Members {
			detail := s.profiles[m.UserID]
			detail.UserID = m.UserID
			detail.UnreadCount = m.UnreadCount
			sum.Members = append(sum.Members, detail)
		}
		if msgs := s.messages[conv.ID]; len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			sum.LastMessage = &LastMessage{
				ID: last.ID, Sender: last.Sender, Body: last.Body,
				Seen: last.Seen, IsImage: last.IsImage, CreatedAt: last.CreatedAt,
			}
		}
		sums = append(sums, sum)
	}

	sort.Slice(sums, func(i, j int) bool { return sums[i].UpdatedAt.After(sums[j].UpdatedAt) })
	if len(sums) > limit {
		sums = sums[:limit]
	}
	return sums, nil
}

func (s *MemoryStore) InsertMessage(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[msg.ConversationID]; !ok {
		return ErrConversationNotFound
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], *msg)
	return nil
}

func (s *MemoryStore) Messages(_ context.Context, conversationID ident.ID, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[conversationID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]Message(nil), msgs...), nil
}

func (s *MemoryStore) SetLastMessage(_ context.Context, conversationID, _ ident.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv, ok := s.conversations[conversationID]; ok {
		conv.UpdatedAt = s.tick()
	}
	return nil
}

func (s *MemoryStore) IncrementUnread(_ context.Context, conversationID, sender ident.ID) ([]ident.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}

	var recipients []ident.ID
	for i := range conv.Members {
		if conv.Members[i].UserID == sender {
			continue
		}
		conv.Members[i].UnreadCount++
		s.userUnread[conv.Members[i].UserID]++
		recipients = append(recipients, conv.Members[i].UserID)
	}
	return recipients, nil
}

func (s *MemoryStore) MarkSeen(_ context.Context, conversationID, reader ident.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[conversationID]
	for i := range msgs {
		if msgs[i].Sender != reader {
			msgs[i].Seen = true
		}
	}
	return nil
}

func (s *MemoryStore) ResetUnread(_ context.Context, conversationID, reader ident.ID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return 0, nil
	}
	for i := range conv.Members {
		if conv.Members[i].UserID != reader {
			continue
		}
		cleared := conv.Members[i].UnreadCount
		conv.Members[i].UnreadCount = 0
		if s.userUnread[reader] < cleared {
			s.userUnread[reader] = 0
		} else {
			s.userUnread[reader] -= cleared
		}
		return cleared, nil
	}
	return 0, nil
}
