package chat

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkup/internal/cache"
	"linkup/internal/ident"
)

func newTestChat(t *testing.T) (*Service, *MemoryStore, ident.ID, ident.ID, ident.ID) {
	t.Helper()
	store := NewMemoryStore()
	svc := NewService(store, cache.NewMemory(10*time.Second), 10*time.Second)

	alice, bob := ident.New(), ident.New()
	store.AddProfile(alice, "Alice", "")
	store.AddProfile(bob, "Bob", "")

	convID, err := svc.CreateDirect(context.Background(), alice, bob)
	require.NoError(t, err)
	return svc, store, convID, alice, bob
}

func memberCount(t *testing.T, store *MemoryStore, convID, userID ident.ID) int {
	t.Helper()
	conv, err := store.Conversation(context.Background(), convID)
	require.NoError(t, err)
	for _, m := range conv.Members {
		if m.UserID == userID {
			return m.UnreadCount
		}
	}
	t.Fatalf("user %s is not a member of %s", userID, convID)
	return 0
}

func TestCreateDirectValidatesPair(t *testing.T) {
	svc := NewService(NewMemoryStore(), cache.NewMemory(time.Second), time.Second)
	ctx := context.Background()
	alice := ident.New()

	_, err := svc.CreateDirect(ctx, alice, alice)
	assert.ErrorIs(t, err, ident.ErrInvalid)
	_, err = svc.CreateDirect(ctx, alice, "")
	assert.ErrorIs(t, err, ident.ErrInvalid)
}

func TestSendMessageBumpsEveryCounterButTheSenders(t *testing.T) {
	svc, store, convID, alice, bob := newTestChat(t)
	ctx := context.Background()

	_, err := svc.SendMessage(ctx, convID, alice, "first")
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, convID, alice, "second")
	require.NoError(t, err)

	assert.Equal(t, 0, memberCount(t, store, convID, alice))
	assert.Equal(t, 2, memberCount(t, store, convID, bob))
	assert.Equal(t, 0, store.UserUnread(alice))
	assert.Equal(t, 2, store.UserUnread(bob))
}

func TestSendMessageRejectsOutsidersAndEmptyBodies(t *testing.T) {
	svc, _, convID, _, _ := newTestChat(t)
	ctx := context.Background()

	_, err := svc.SendMessage(ctx, convID, ident.New(), "hello")
	assert.ErrorIs(t, err, ErrNotMember)

	_, err = svc.SendMessage(ctx, convID, ident.New(), "")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = svc.SendMessage(ctx, ident.New(), ident.New(), "hello")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestSendMessageSniffsInlineImages(t *testing.T) {
	svc, _, convID, alice, _ := newTestChat(t)
	ctx := context.Background()

	msg, err := svc.SendMessage(ctx, convID, alice, "data:image/png;base64,iVBORw0KGgo=")
	require.NoError(t, err)
	assert.True(t, msg.IsImage)

	msg, err = svc.SendMessage(ctx, convID, alice, "just text")
	require.NoError(t, err)
	assert.False(t, msg.IsImage)
}

func TestMarkSeenClearsExactlyWhatWasUnread(t *testing.T) {
	svc, store, convID, alice, bob := newTestChat(t)
	ctx := context.Background()

	for _, body := range []string{"one", "two", "three"} {
		_, err := svc.SendMessage(ctx, convID, alice, body)
		require.NoError(t, err)
	}
	require.Equal(t, 3, store.UserUnread(bob))

	require.NoError(t, svc.MarkSeen(ctx, convID, bob))

	assert.Equal(t, 0, memberCount(t, store, convID, bob))
	assert.Equal(t, 0, store.UserUnread(bob))

	msgs, err := svc.Messages(ctx, convID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for _, m := range msgs {
		assert.True(t, m.Seen)
	}

	// Reading twice must not drive the aggregate negative.
	require.NoError(t, svc.MarkSeen(ctx, convID, bob))
	assert.Equal(t, 0, store.UserUnread(bob))
}

func TestMarkSeenOnlyTouchesTheReadersCounters(t *testing.T) {
	svc, store, convID, alice, bob := newTestChat(t)
	ctx := context.Background()

	_, err := svc.SendMessage(ctx, convID, alice, "to bob")
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, convID, bob, "to alice")
	require.NoError(t, err)

	require.NoError(t, svc.MarkSeen(ctx, convID, bob))

	assert.Equal(t, 0, store.UserUnread(bob))
	assert.Equal(t, 1, store.UserUnread(alice))
	assert.Equal(t, 1, memberCount(t, store, convID, alice))
}

func TestMarkSeenRejectsNonMembers(t *testing.T) {
	svc, _, convID, _, _ := newTestChat(t)
	assert.ErrorIs(t, svc.MarkSeen(context.Background(), convID, ident.New()), ErrNotMember)
}

func TestMessagesReturnsNewestPageOldestFirst(t *testing.T) {
	svc, _, convID, alice, _ := newTestChat(t)
	ctx := context.Background()

	for i := 0; i < messagePageSize+10; i++ {
		_, err := svc.SendMessage(ctx, convID, alice, "msg "+strings.Repeat("x", i%3))
		require.NoError(t, err)
	}

	msgs, err := svc.Messages(ctx, convID)
	require.NoError(t, err)
	require.Len(t, msgs, messagePageSize)
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt))
	}
}

func TestMessagesServesCachedPageUntilInvalidated(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, cache.NewMemory(time.Hour), time.Hour)
	ctx := context.Background()

	alice, bob := ident.New(), ident.New()
	convID, err := svc.CreateDirect(ctx, alice, bob)
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, convID, alice, "hello")
	require.NoError(t, err)

	first, err := svc.Messages(ctx, convID)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// A write through the store alone is invisible while the page is
	// cached; a write through the service invalidates it.
	require.NoError(t, store.InsertMessage(ctx, &Message{
		ID: ident.New(), ConversationID: convID, Sender: bob, Body: "behind the cache",
	}))
	cached, err := svc.Messages(ctx, convID)
	require.NoError(t, err)
	assert.Len(t, cached, 1)

	_, err = svc.SendMessage(ctx, convID, bob, "fresh")
	require.NoError(t, err)
	fresh, err := svc.Messages(ctx, convID)
	require.NoError(t, err)
	assert.Len(t, fresh, 3)
}

func TestSummariesProjectMembersAndLastMessage(t *testing.T) {
	svc, _, convID, alice, bob := newTestChat(t)
	ctx := context.Background()

	_, err := svc.SendMessage(ctx, convID, alice, "latest")
	require.NoError(t, err)

	sums, err := svc.Summaries(ctx, bob)
	require.NoError(t, err)
	require.Len(t, sums, 1)

	sum := sums[0]
	assert.Equal(t, convID, sum.ID)
	require.NotNil(t, sum.LastMessage)
	assert.Equal(t, "latest", sum.LastMessage.Body)
	assert.Equal(t, alice, sum.LastMessage.Sender)

	require.Len(t, sum.Members, 2)
	byID := map[ident.ID]MemberDetail{}
	for _, m := range sum.Members {
		byID[m.UserID] = m
	}
	assert.Equal(t, "Alice", byID[alice].Name)
	assert.Equal(t, 1, byID[bob].UnreadCount)
	assert.Equal(t, 0, byID[alice].UnreadCount)
}

func TestSummariesOrderByActivityAndCapThePage(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, cache.NewMemory(time.Second), time.Second)
	ctx := context.Background()
	alice := ident.New()

	var convs []ident.ID
	for i := 0; i < conversationPageSize+5; i++ {
		id, err := svc.CreateDirect(ctx, alice, ident.New())
		require.NoError(t, err)
		convs = append(convs, id)
	}

	// Touch the first conversation last so it surfaces on top.
	_, err := svc.SendMessage(ctx, convs[0], alice, "bump")
	require.NoError(t, err)

	sums, err := svc.Summaries(ctx, alice)
	require.NoError(t, err)
	require.Len(t, sums, conversationPageSize)
	assert.Equal(t, convs[0], sums[0].ID)
}

func TestDeleteConversationIsIdempotent(t *testing.T) {
	svc, store, convID, alice, _ := newTestChat(t)
	ctx := context.Background()

	_, err := svc.SendMessage(ctx, convID, alice, "doomed")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteConversation(ctx, convID))
	require.NoError(t, svc.DeleteConversation(ctx, convID))

	_, err = store.Conversation(ctx, convID)
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestDeleteConversationEvictsItsAppendLock(t *testing.T) {
	svc, _, convID, alice, _ := newTestChat(t)
	ctx := context.Background()

	_, err := svc.SendMessage(ctx, convID, alice, "hello")
	require.NoError(t, err)
	_, held := svc.locks.Load(convID)
	require.True(t, held, "the append path keys a mutex per conversation")

	require.NoError(t, svc.DeleteConversation(ctx, convID))

	_, held = svc.locks.Load(convID)
	assert.False(t, held, "deleted conversations must not pin their mutex")
}

func TestConcurrentSendsLoseNoCounts(t *testing.T) {
	svc, store, convID, alice, bob := newTestChat(t)
	ctx := context.Background()

	const perSender = 25
	var wg sync.WaitGroup
	for _, sender := range []ident.ID{alice, bob} {
		wg.Add(1)
		go func(sender ident.ID) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				if _, err := svc.SendMessage(ctx, convID, sender, "ping"); err != nil {
					t.Error(err)
					return
				}
			}
		}(sender)
	}
	wg.Wait()

	assert.Equal(t, perSender, memberCount(t, store, convID, alice))
	assert.Equal(t, perSender, memberCount(t, store, convID, bob))
	assert.Equal(t, perSender, store.UserUnread(alice))
	assert.Equal(t, perSender, store.UserUnread(bob))
}
