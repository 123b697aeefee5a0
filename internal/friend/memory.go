package friend

import (
	"context"
	"sort"
	"sync"
	"time"

	"linkup/internal/ident"
)

// MemoryStore keeps relations in process. Tests use it in place of
// Postgres; Within snapshots the map so a failed transaction rolls back.
type MemoryStore struct {
	mu        sync.Mutex
	relations map[[2]ident.ID]Relation
	users     map[ident.ID]PeerProfile
	inTx      bool
	seq       int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		relations: make(map[[2]ident.ID]Relation),
		users:     make(map[ident.ID]PeerProfile),
	}
}

// AddUser registers a user the store will report as existing.
func (s *MemoryStore) AddUser(id ident.ID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = PeerProfile{ID: id, Name: name}
}

func (s *MemoryStore) Relation(_ context.Context, userID, peerID ident.ID) (*Relation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rel, ok := s.relations[[2]ident.ID{userID, peerID}]
	if !ok {
		return nil, ErrRelationNotFound
	}
	out := rel
	return &out, nil
}

func (s *MemoryStore) Put(_ context.Context, rel Relation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	rel.CreatedAt = time.Unix(int64(s.seq), 0)
	s.relations[[2]ident.ID{rel.UserID, rel.PeerID}] = rel
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, userID, peerID ident.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.relations, [2]ident.ID{userID, peerID})
	return nil
}

func (s *MemoryStore) List(_ context.Context, userID ident.ID, kind Kind) ([]Relation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rels []Relation
	for key, rel := range s.relations {
		if key[0] == userID && rel.Kind == kind {
			rels = append(rels, rel)
		}
	}
	sort.Slice(rels, func(i, j int) bool { return rels[i].CreatedAt.Before(rels[j].CreatedAt) })
	return rels, nil
}

func (s *MemoryStore) ListProfiles(ctx context.Context, userID ident.ID, kind Kind) ([]PeerProfile, error) {
	rels, err := s.List(ctx, userID, kind)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var profiles []PeerProfile
	for _, rel := range rels {
		p := s.users[rel.PeerID]
		p.ConversationID = rel.ConversationID
		profiles = append(profiles, p)
	}
	return profiles, nil
}

func (s *MemoryStore) UserExists(_ context.Context, userID ident.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.users[userID]
	return ok, nil
}

func (s *MemoryStore) Within(ctx context.Context, fn func(Store) error) error {
	s.mu.Lock()
	if s.inTx {
		s.mu.Unlock()
		return fn(s)
	}
	s.inTx = true
	snapshot := make(map[[2]ident.ID]Relation, len(s.relations))
	for k, v := range s.relations {
		snapshot[k] = v
	}
	s.mu.Unlock()

	err := fn(s)

	s.mu.Lock()
	if err != nil {
		s.relations = snapshot
	}
	s.inTx = false
	s.mu.Unlock()
	return err
}
