package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"linkup/internal/cache"
	"linkup/internal/ident"
)

const (
	// Page sizes match what the clients render.
	messagePageSize      = 50
	conversationPageSize = 20

	convCacheKind = "conv"
	msgCacheKind  = "msg"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotMember            = errors.New("sender is not a conversation member")
	ErrEmptyMessage         = errors.New("empty message body")
)

// Store persists conversations and messages. The unread-counter writes
// must be atomic increments; two concurrent appends to one conversation
// may not lose a count.
type Store interface {
	CreateConversation(ctx context.Context, conv *Conversation) error
	Conversation(ctx context.Context, id ident.ID) (*Conversation, error)
	DeleteConversation(ctx context.Context, id ident.ID) error
	Summaries(ctx context.Context, userID ident.ID, limit int) ([]Summary, error)

	InsertMessage(ctx context.Context, msg *Message) error
	Messages(ctx context.Context, conversationID ident.ID, limit int) ([]Message, error)
	SetLastMessage(ctx context.Context, conversationID, messageID ident.ID) error

	// IncrementUnread bumps every member's counter except the sender's,
	// and each such member's user-level aggregate, atomically. Returns
	// the members whose counters moved.
	IncrementUnread(ctx context.Context, conversationID, sender ident.ID) ([]ident.ID, error)
	// MarkSeen flips seen on every message not sent by reader.
	MarkSeen(ctx context.Context, conversationID, reader ident.ID) error
	// ResetUnread zeroes reader's member counter and takes the same
	// amount off the user aggregate, never below zero. Returns the
	// amount cleared.
	ResetUnread(ctx context.Context, conversationID, reader ident.ID) (int, error)
}

type Service struct {
	store Store
	cache cache.Store
	ttl   time.Duration
	now   func() time.Time
	log   *slog.Logger

	locks sync.Map // conversation id -> *sync.Mutex
}

func NewService(store Store, c cache.Store, ttl time.Duration) *Service {
	return &Service{
		store: store,
		cache: c,
		ttl:   ttl,
		now:   time.Now,
		log:   slog.Default().With("component", "chat"),
	}
}

// lockConversation serializes the append path per conversation so unread
// increments and last-message updates from concurrent sends cannot
// interleave.
func (s *Service) lockConversation(id ident.ID) func() {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// CreateDirect creates the private conversation for a confirmed pair.
func (s *Service) CreateDirect(ctx context.Context, a, b ident.ID) (ident.ID, error) {
	if a == "" || b == "" || a == b {
		return "", ident.ErrInvalid
	}

	conv := &Conversation{
		ID:   ident.New(),
		Type: TypeSingle,
		Members: []Member{
			{UserID: a},
			{UserID: b},
		},
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return "", err
	}

	s.invalidateConversationLists(ctx, a, b)
	return conv.ID, nil
}

// DeleteConversation removes a conversation; its messages, member rows
// and append lock go with it.
func (s *Service) DeleteConversation(ctx context.Context, id ident.ID) error {
	unlock := s.lockConversation(id)
	defer func() {
		unlock()
		// Late lockConversation callers mint a fresh mutex and then find
		// the conversation gone.
		s.locks.Delete(id)
	}()

	conv, err := s.store.Conversation(ctx, id)
	if errors.Is(err, ErrConversationNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.store.DeleteConversation(ctx, id); err != nil {
		return err
	}

	if err := s.cache.InvalidateByPrefix(ctx, cache.Prefix(msgCacheKind, string(id))); err != nil {
		s.log.Warn("message cache invalidation failed", "conversation", id, "err", err)
	}
	members := make([]ident.ID, 0, len(conv.Members))
	for _, m := range conv.Members {
		members = append(members, m.UserID)
	}
	s.invalidateConversationLists(ctx, members...)
	return nil
}

// SendMessage appends a message and, as a side effect, bumps the unread
// counters of every other member and moves the conversation's
// last-message pointer. Returns the created message.
func (s *Service) SendMessage(ctx context.Context, conversationID, sender ident.ID, body string) (*Message, error) {
	if body == "" {
		return nil, ErrEmptyMessage
	}

	unlock := s.lockConversation(conversationID)
	defer unlock()

	conv, err := s.store.Conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasMember(sender) {
		return nil, ErrNotMember
	}

	msg := &Message{
		ID:             ident.New(),
		ConversationID: conversationID,
		Sender:         sender,
		Body:           body,
		IsImage:        sniffImage(body),
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}

	recipients, err := s.store.IncrementUnread(ctx, conversationID, sender)
	if err != nil {
		s.log.Error("consistency fault: unread counters missed a message",
			"conversation", conversationID, "message", msg.ID, "err", err)
		return nil, err
	}

	if err := s.store.SetLastMessage(ctx, conversationID, msg.ID); err != nil {
		return nil, err
	}

	if err := s.cache.InvalidateByPrefix(ctx, cache.Prefix(msgCacheKind, string(conversationID))); err != nil {
		s.log.Warn("message cache invalidation failed", "conversation", conversationID, "err", err)
	}
	s.invalidateConversationLists(ctx, append(recipients, sender)...)

	return msg, nil
}

// MarkSeen marks every message not sent by reader as seen and clears the
// reader's unread counters for the conversation.
func (s *Service) MarkSeen(ctx context.Context, conversationID, reader ident.ID) error {
	unlock := s.lockConversation(conversationID)
	defer unlock()

	conv, err := s.store.Conversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasMember(reader) {
		return ErrNotMember
	}

	if err := s.store.MarkSeen(ctx, conversationID, reader); err != nil {
		return err
	}
	if _, err := s.store.ResetUnread(ctx, conversationID, reader); err != nil {
		return err
	}

	if err := s.cache.InvalidateByPrefix(ctx, cache.Prefix(msgCacheKind, string(conversationID))); err != nil {
		s.log.Warn("message cache invalidation failed", "conversation", conversationID, "err", err)
	}
	s.invalidateConversationLists(ctx, reader)
	return nil
}

// Messages returns the newest page of a conversation, oldest first.
func (s *Service) Messages(ctx context.Context, conversationID ident.ID) ([]Message, error) {
	key := cache.Key(msgCacheKind, string(conversationID), s.ttl, s.now())
	if payload, ok := s.cache.Get(ctx, key); ok {
		var msgs []Message
		if err := json.Unmarshal(payload, &msgs); err == nil {
			return msgs, nil
		}
	}

	msgs, err := s.store.Messages(ctx, conversationID, messagePageSize)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(msgs); err == nil {
		s.cache.Set(ctx, key, payload)
	}
	return msgs, nil
}

// Summaries returns the user's most recently active conversations.
func (s *Service) Summaries(ctx context.Context, userID ident.ID) ([]Summary, error) {
	key := cache.Key(convCacheKind, string(userID), s.ttl, s.now())
	if payload, ok := s.cache.Get(ctx, key); ok {
		var sums []Summary
		if err := json.Unmarshal(payload, &sums); err == nil {
			return sums, nil
		}
	}

	sums, err := s.store.Summaries(ctx, userID, conversationPageSize)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(sums); err == nil {
		s.cache.Set(ctx, key, payload)
	}
	return sums, nil
}

// Conversation fetches one conversation with its member counters.
func (s *Service) Conversation(ctx context.Context, id ident.ID) (*Conversation, error) {
	return s.store.Conversation(ctx, id)
}

func (s *Service) invalidateConversationLists(ctx context.Context, userIDs ...ident.ID) {
	for _, id := range userIDs {
		if err := s.cache.InvalidateByPrefix(ctx, cache.Prefix(convCacheKind, string(id))); err != nil {
			s.log.Warn("conversation cache invalidation failed", "user", id, "err", err)
		}
	}
}
