// Package friend owns the relationship state machine between pairs of
// users. Each user carries three peer lists (friends, outgoing requests,
// incoming requests) persisted as one relation row per (user, peer) pair;
// a peer can sit in at most one list at a time.
package friend

import (
	"context"
	"errors"
	"time"

	"linkup/internal/ident"
)

type Kind string

const (
	KindFriend   Kind = "friend"
	KindOutgoing Kind = "outgoing"
	KindIncoming Kind = "incoming"
)

// Relation is one side of a pair relationship. Friend relations carry the
// id of the private conversation created when the pair was confirmed.
type Relation struct {
	UserID         ident.ID
	PeerID         ident.ID
	Kind           Kind
	ConversationID ident.ID
	CreatedAt      time.Time
}

// PeerProfile is the projection HTTP clients render in friend and request
// lists.
type PeerProfile struct {
	ID             ident.ID `json:"id"`
	Name           string   `json:"name"`
	Avatar         string   `json:"avatar"`
	ConversationID ident.ID `json:"conversation_id,omitempty"`
}

var (
	ErrRelationNotFound = errors.New("relation not found")
	ErrUserNotFound     = errors.New("user not found")
	ErrSelfRelation     = errors.New("cannot relate a user to themselves")
	ErrNoPendingRequest = errors.New("no pending request")
)

// Store persists relation rows. Mutations that must land on both users
// atomically run inside Within.
type Store interface {
	Relation(ctx context.Context, userID, peerID ident.ID) (*Relation, error)
	Put(ctx context.Context, rel Relation) error
	Delete(ctx context.Context, userID, peerID ident.ID) error
	List(ctx context.Context, userID ident.ID, kind Kind) ([]Relation, error)
	ListProfiles(ctx context.Context, userID ident.ID, kind Kind) ([]PeerProfile, error)
	UserExists(ctx context.Context, userID ident.ID) (bool, error)

	// Within runs fn inside a transaction; fn receives a Store whose
	// operations all join that transaction.
	Within(ctx context.Context, fn func(Store) error) error
}

// Conversations is the slice of the chat service this package needs:
// friendship confirmation creates the pair's private conversation, and
// unfriending tears it down.
type Conversations interface {
	CreateDirect(ctx context.Context, a, b ident.ID) (ident.ID, error)
	DeleteConversation(ctx context.Context, id ident.ID) error
}
