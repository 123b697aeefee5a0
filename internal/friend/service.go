package friend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"linkup/internal/ident"
)

type Service struct {
	store Store
	convs Conversations
	log   *slog.Logger
}

func NewService(store Store, convs Conversations) *Service {
	return &Service{
		store: store,
		convs: convs,
		log:   slog.Default().With("component", "friend"),
	}
}

func (s *Service) ensureUsers(ctx context.Context, ids ...ident.ID) error {
	for _, id := range ids {
		ok, err := s.store.UserExists(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrUserNotFound, id)
		}
	}
	return nil
}

// SendRequest records a pending friend request from -> to. Any existing
// relation between the pair, in either direction, makes this a no-op so
// that a peer never lands in two lists at once.
func (s *Service) SendRequest(ctx context.Context, from, to ident.ID) error {
	if from == to {
		return ErrSelfRelation
	}
	if err := s.ensureUsers(ctx, from, to); err != nil {
		return err
	}

	return s.store.Within(ctx, func(tx Store) error {
		if _, err := tx.Relation(ctx, from, to); err == nil {
			return nil // already friends or already requested
		} else if !errors.Is(err, ErrRelationNotFound) {
			return err
		}
		if _, err := tx.Relation(ctx, to, from); err == nil {
			return nil // reverse request pending
		} else if !errors.Is(err, ErrRelationNotFound) {
			return err
		}

		if err := tx.Put(ctx, Relation{UserID: from, PeerID: to, Kind: KindOutgoing}); err != nil {
			return err
		}
		return tx.Put(ctx, Relation{UserID: to, PeerID: from, Kind: KindIncoming})
	})
}

// CancelRequest withdraws a request the sender has not had answered yet.
// Calling it with no request pending is a no-op.
func (s *Service) CancelRequest(ctx context.Context, from, to ident.ID) error {
	if err := s.ensureUsers(ctx, from, to); err != nil {
		return err
	}

	return s.store.Within(ctx, func(tx Store) error {
		rel, err := tx.Relation(ctx, from, to)
		if errors.Is(err, ErrRelationNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if rel.Kind != KindOutgoing {
			return nil // never touch a confirmed friendship from this path
		}

		if err := tx.Delete(ctx, from, to); err != nil {
			return err
		}
		return tx.Delete(ctx, to, from)
	})
}

// AcceptRequest confirms a request sitting in from's incoming list. It
// creates the pair's private conversation and moves both users to each
// other's friends list carrying its id. Returns the conversation id.
func (s *Service) AcceptRequest(ctx context.Context, from, to ident.ID) (ident.ID, error) {
	if err := s.ensureUsers(ctx, from, to); err != nil {
		return "", err
	}

	rel, err := s.store.Relation(ctx, from, to)
	if errors.Is(err, ErrRelationNotFound) || (err == nil && rel.Kind != KindIncoming) {
		return "", ErrNoPendingRequest
	}
	if err != nil {
		return "", err
	}

	convID, err := s.convs.CreateDirect(ctx, from, to)
	if err != nil {
		return "", err
	}

	err = s.store.Within(ctx, func(tx Store) error {
		if err := tx.Delete(ctx, from, to); err != nil {
			return err
		}
		if err := tx.Delete(ctx, to, from); err != nil {
			return err
		}
		if err := tx.Put(ctx, Relation{UserID: from, PeerID: to, Kind: KindFriend, ConversationID: convID}); err != nil {
			return err
		}
		return tx.Put(ctx, Relation{UserID: to, PeerID: from, Kind: KindFriend, ConversationID: convID})
	})
	if err != nil {
		// The conversation exists but the lists never flipped; undo it so
		// the pair is back where it started instead of half-joined.
		if delErr := s.convs.DeleteConversation(ctx, convID); delErr != nil {
			s.log.Error("consistency fault: orphan conversation after failed accept",
				"conversation", convID, "from", from, "to", to, "err", delErr)
		}
		return "", err
	}

	return convID, nil
}

// DeclineRequest drops a request sitting in from's incoming list.
func (s *Service) DeclineRequest(ctx context.Context, from, to ident.ID) error {
	if err := s.ensureUsers(ctx, from, to); err != nil {
		return err
	}

	return s.store.Within(ctx, func(tx Store) error {
		rel, err := tx.Relation(ctx, from, to)
		if errors.Is(err, ErrRelationNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if rel.Kind != KindIncoming {
			return nil
		}

		if err := tx.Delete(ctx, from, to); err != nil {
			return err
		}
		return tx.Delete(ctx, to, from)
	})
}

// Unfriend dissolves a confirmed friendship and deletes the pair's
// conversation together with its messages. Without a confirmed
// friendship it is a no-op: the relation row is the authority on which
// conversation goes, never the caller-supplied id, so a forged id can
// delete nothing.
func (s *Service) Unfriend(ctx context.Context, from, to, conversationID ident.ID) error {
	if err := s.ensureUsers(ctx, from, to); err != nil {
		return err
	}

	rel, err := s.store.Relation(ctx, from, to)
	if errors.Is(err, ErrRelationNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if rel.Kind != KindFriend {
		return nil
	}

	if conversationID != "" && conversationID != rel.ConversationID {
		s.log.Warn("ignoring conversation id that does not match the friendship",
			"claimed", conversationID, "stored", rel.ConversationID, "from", from, "to", to)
	}
	if rel.ConversationID != "" {
		if err := s.convs.DeleteConversation(ctx, rel.ConversationID); err != nil {
			s.log.Error("consistency fault: conversation survived unfriend",
				"conversation", rel.ConversationID, "from", from, "to", to, "err", err)
		}
	}

	return s.store.Within(ctx, func(tx Store) error {
		if err := tx.Delete(ctx, from, to); err != nil {
			return err
		}
		return tx.Delete(ctx, to, from)
	})
}

// Friends lists a user's confirmed friends with display identity.
func (s *Service) Friends(ctx context.Context, userID ident.ID) ([]PeerProfile, error) {
	return s.store.ListProfiles(ctx, userID, KindFriend)
}

// Requests lists pending requests for a user in the given direction.
func (s *Service) Requests(ctx context.Context, userID ident.ID, incoming bool) ([]PeerProfile, error) {
	kind := KindOutgoing
	if incoming {
		kind = KindIncoming
	}
	return s.store.ListProfiles(ctx, userID, kind)
}
