package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkup/internal/chat"
	"linkup/internal/ident"
)

type fakeFriends struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeFriends) record(op string, from, to ident.ID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("%s %s->%s", op, from, to))
}

func (f *fakeFriends) SendRequest(_ context.Context, from, to ident.ID) error {
	f.record("send", from, to)
	return f.err
}

func (f *fakeFriends) CancelRequest(_ context.Context, from, to ident.ID) error {
	f.record("cancel", from, to)
	return f.err
}

func (f *fakeFriends) AcceptRequest(_ context.Context, from, to ident.ID) (ident.ID, error) {
	f.record("accept", from, to)
	return ident.New(), f.err
}

func (f *fakeFriends) DeclineRequest(_ context.Context, from, to ident.ID) error {
	f.record("decline", from, to)
	return f.err
}

func (f *fakeFriends) Unfriend(_ context.Context, from, to, _ ident.ID) error {
	f.record("unfriend", from, to)
	return f.err
}

type fakeChats struct {
	mu   sync.Mutex
	conv *chat.Conversation
	seen []ident.ID
	err  error
}

func (f *fakeChats) SendMessage(_ context.Context, conversationID, sender ident.ID, body string) (*chat.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &chat.Message{
		ID:             ident.New(),
		ConversationID: conversationID,
		Sender:         sender,
		Body:           body,
		CreatedAt:      time.Now(),
	}, nil
}

func (f *fakeChats) MarkSeen(_ context.Context, conversationID, reader ident.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, reader)
	return f.err
}

func (f *fakeChats) Conversation(_ context.Context, id ident.ID) (*chat.Conversation, error) {
	if f.conv == nil || f.conv.ID != id {
		return nil, chat.ErrConversationNotFound
	}
	return f.conv, nil
}

func newTestHub(friends FriendService, chats ChatService) *Hub {
	return NewHub(friends, chats, time.Second)
}

func connect(h *Hub, userID ident.ID) *Client {
	c := h.NewClient(userID, "user "+string(userID)[:8])
	h.Register(c)
	return c
}

func dispatch(h *Hub, c *Client, event string, payload any) {
	raw, _ := json.Marshal(Envelope{Event: event, Data: mustMarshal(payload)})
	h.handleEvent(c, raw)
}

// recv pops one buffered outbound frame, failing if none arrived.
func recv(t *testing.T, c *Client) Envelope {
	t.Helper()
	select {
	case raw := <-c.send:
		var env Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		return env
	default:
		t.Fatal("expected an outbound frame, got none")
		return Envelope{}
	}
}

func assertSilent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case raw := <-c.send:
		t.Fatalf("expected no outbound frame, got %s", raw)
	default:
	}
}

func TestJoinRoomBindsSessionUser(t *testing.T) {
	h := newTestHub(&fakeFriends{}, &fakeChats{})
	alice := ident.New()
	c := connect(h, alice)

	dispatch(h, c, EvtJoinRoom, joinRoomPayload{UserID: string(alice)})

	assert.Equal(t, 1, h.rooms.size(string(alice)))
	assertSilent(t, c)
}

func TestJoinRoomRejectsOtherUser(t *testing.T) {
	h := newTestHub(&fakeFriends{}, &fakeChats{})
	alice, bob := ident.New(), ident.New()
	c := connect(h, alice)

	dispatch(h, c, EvtJoinRoom, joinRoomPayload{UserID: string(bob)})

	assert.Equal(t, 0, h.rooms.size(string(bob)))
	env := recv(t, c)
	assert.Equal(t, EvtJoinRoom+"_failure", env.Event)
}

func TestJoinConversationRequiresMembership(t *testing.T) {
	alice := ident.New()
	convID := ident.New()
	chats := &fakeChats{conv: &chat.Conversation{
		ID:      convID,
		Members: []chat.Member{{UserID: alice}},
	}}
	h := newTestHub(&fakeFriends{}, chats)

	c := connect(h, alice)
	dispatch(h, c, EvtJoinConversation, joinConversationPayload{ConversationID: string(convID)})
	assert.Equal(t, 1, h.rooms.size(string(convID)))

	outsider := connect(h, ident.New())
	dispatch(h, outsider, EvtJoinConversation, joinConversationPayload{ConversationID: string(convID)})
	assert.Equal(t, 1, h.rooms.size(string(convID)))
	env := recv(t, outsider)
	assert.Equal(t, EvtJoinConversation+"_failure", env.Event)
}

func TestJoinConversationAcceptsBareStringPayload(t *testing.T) {
	alice := ident.New()
	convID := ident.New()
	chats := &fakeChats{conv: &chat.Conversation{
		ID:      convID,
		Members: []chat.Member{{UserID: alice}},
	}}
	h := newTestHub(&fakeFriends{}, chats)
	c := connect(h, alice)

	dispatch(h, c, EvtJoinConversation, string(convID))

	assert.Equal(t, 1, h.rooms.size(string(convID)))
}

func TestJoinAllConversationsSkipsInvalidEntries(t *testing.T) {
	alice := ident.New()
	convID := ident.New()
	chats := &fakeChats{conv: &chat.Conversation{
		ID:      convID,
		Members: []chat.Member{{UserID: alice}},
	}}
	h := newTestHub(&fakeFriends{}, chats)
	c := connect(h, alice)

	dispatch(h, c, EvtJoinAllConversations, joinAllPayload{
		"[object Object]",
		string(convID),
		string(ident.New()), // unknown conversation, skipped
	})

	assert.Equal(t, 1, h.rooms.size(string(convID)))
	assert.Len(t, c.joined, 1)
}

func TestAddFriendFansOutToBothUsers(t *testing.T) {
	friends := &fakeFriends{}
	h := newTestHub(friends, &fakeChats{})
	alice, bob := ident.New(), ident.New()

	ca := connect(h, alice)
	cb := connect(h, bob)
	dispatch(h, ca, EvtJoinRoom, joinRoomPayload{UserID: string(alice)})
	dispatch(h, cb, EvtJoinRoom, joinRoomPayload{UserID: string(bob)})

	dispatch(h, ca, EvtAddFriend, friendPayload{UserFrom: string(alice), UserTo: string(bob)})

	assert.Equal(t, []string{fmt.Sprintf("send %s->%s", alice, bob)}, friends.calls)
	assert.Equal(t, EvtAddFriendSuccess, recv(t, ca).Event)
	assert.Equal(t, EvtNewRequestFriend, recv(t, cb).Event)
}

func TestAddFriendFailureAnswersOriginOnly(t *testing.T) {
	friends := &fakeFriends{err: fmt.Errorf("already related")}
	h := newTestHub(friends, &fakeChats{})
	alice, bob := ident.New(), ident.New()

	ca := connect(h, alice)
	cb := connect(h, bob)
	dispatch(h, ca, EvtJoinRoom, joinRoomPayload{UserID: string(alice)})
	dispatch(h, cb, EvtJoinRoom, joinRoomPayload{UserID: string(bob)})

	dispatch(h, ca, EvtAddFriend, friendPayload{UserFrom: string(alice), UserTo: string(bob)})

	env := recv(t, ca)
	assert.Equal(t, EvtAddFriend+"_failure", env.Event)
	var p failurePayload
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, "already related", p.Reason)
	assertSilent(t, cb)
}

func TestFriendEventRejectsSpoofedActor(t *testing.T) {
	friends := &fakeFriends{}
	h := newTestHub(friends, &fakeChats{})
	alice, bob := ident.New(), ident.New()
	c := connect(h, alice)

	dispatch(h, c, EvtAcceptRequestFriend, friendPayload{UserFrom: string(bob), UserTo: string(alice)})

	assert.Empty(t, friends.calls)
	assert.Equal(t, EvtAcceptRequestFriend+"_failure", recv(t, c).Event)
}

func TestAcceptAndDeclineUseTheirOwnEventNames(t *testing.T) {
	friends := &fakeFriends{}
	h := newTestHub(friends, &fakeChats{})
	alice, bob := ident.New(), ident.New()

	ca := connect(h, alice)
	cb := connect(h, bob)
	dispatch(h, ca, EvtJoinRoom, joinRoomPayload{UserID: string(alice)})
	dispatch(h, cb, EvtJoinRoom, joinRoomPayload{UserID: string(bob)})

	dispatch(h, ca, EvtAcceptRequestFriend, friendPayload{UserFrom: string(alice), UserTo: string(bob)})
	assert.Equal(t, EvtAcceptSuccess, recv(t, ca).Event)
	assert.Equal(t, EvtAccepted, recv(t, cb).Event)

	dispatch(h, ca, EvtDeclineRequestFriend, friendPayload{UserFrom: string(alice), UserTo: string(bob)})
	assert.Equal(t, EvtDeclineSuccess, recv(t, ca).Event)
	assert.Equal(t, EvtDeclined, recv(t, cb).Event)
}

func TestSendMessageFansOutToConversationRoom(t *testing.T) {
	alice, bob := ident.New(), ident.New()
	convID := ident.New()
	chats := &fakeChats{conv: &chat.Conversation{
		ID:      convID,
		Members: []chat.Member{{UserID: alice}, {UserID: bob}},
	}}
	h := newTestHub(&fakeFriends{}, chats)

	ca := connect(h, alice)
	cb := connect(h, bob)
	dispatch(h, ca, EvtJoinConversation, joinConversationPayload{ConversationID: string(convID)})
	dispatch(h, cb, EvtJoinConversation, joinConversationPayload{ConversationID: string(convID)})

	dispatch(h, ca, EvtSendMessage, sendMessagePayload{
		ConversationID: string(convID),
		Sender:         string(alice),
		Message:        "hello there",
	})

	for _, c := range []*Client{ca, cb} {
		env := recv(t, c)
		assert.Equal(t, EvtNewMessage, env.Event)
		var msg chat.Message
		require.NoError(t, json.Unmarshal(env.Data, &msg))
		assert.Equal(t, "hello there", msg.Body)
		assert.Equal(t, alice, msg.Sender)
	}
}

func TestSendMessageRejectsSpoofedSender(t *testing.T) {
	alice, bob := ident.New(), ident.New()
	convID := ident.New()
	chats := &fakeChats{conv: &chat.Conversation{
		ID:      convID,
		Members: []chat.Member{{UserID: alice}, {UserID: bob}},
	}}
	h := newTestHub(&fakeFriends{}, chats)
	c := connect(h, alice)

	dispatch(h, c, EvtSendMessage, sendMessagePayload{
		ConversationID: string(convID),
		Sender:         string(bob),
		Message:        "hi",
	})

	assert.Equal(t, EvtSendMessage+"_failure", recv(t, c).Event)
}

func TestSeenMessageNotifiesRoomAndMembers(t *testing.T) {
	alice, bob := ident.New(), ident.New()
	convID := ident.New()
	chats := &fakeChats{conv: &chat.Conversation{
		ID:      convID,
		Members: []chat.Member{{UserID: alice}, {UserID: bob}},
	}}
	h := newTestHub(&fakeFriends{}, chats)

	ca := connect(h, alice)
	cb := connect(h, bob)
	dispatch(h, ca, EvtJoinRoom, joinRoomPayload{UserID: string(alice)})
	dispatch(h, cb, EvtJoinRoom, joinRoomPayload{UserID: string(bob)})
	dispatch(h, ca, EvtJoinConversation, joinConversationPayload{ConversationID: string(convID)})
	dispatch(h, cb, EvtJoinConversation, joinConversationPayload{ConversationID: string(convID)})

	dispatch(h, cb, EvtSeenMessage, seenPayload{
		ConversationID: string(convID),
		UserID:         string(bob),
	})

	assert.Equal(t, []ident.ID{bob}, chats.seen)

	// Conversation room frame first, then each member's user room frame.
	for _, c := range []*Client{ca, cb} {
		env := recv(t, c)
		assert.Equal(t, EvtSeenMessageOut, env.Event)
		env = recv(t, c)
		assert.Equal(t, EvtConversationUpdated, env.Event)
		assertSilent(t, c)
	}
}

func TestMalformedFrameIsDroppedQuietly(t *testing.T) {
	friends := &fakeFriends{}
	h := newTestHub(friends, &fakeChats{})
	c := connect(h, ident.New())

	h.handleEvent(c, []byte("not json at all"))
	dispatch(h, c, "no_such_event", map[string]string{"x": "y"})

	assert.Empty(t, friends.calls)
	assertSilent(t, c)
}

func TestMalformedFriendPayloadDoesNotReachService(t *testing.T) {
	friends := &fakeFriends{}
	h := newTestHub(friends, &fakeChats{})
	c := connect(h, ident.New())

	dispatch(h, c, EvtAddFriend, friendPayload{UserFrom: "[object Object]", UserTo: ""})

	assert.Empty(t, friends.calls)
	assert.Equal(t, EvtAddFriend+"_failure", recv(t, c).Event)
}

func TestMultiDeviceUserReceivesOnEveryConnection(t *testing.T) {
	friends := &fakeFriends{}
	h := newTestHub(friends, &fakeChats{})
	alice, bob := ident.New(), ident.New()

	phone := connect(h, bob)
	laptop := connect(h, bob)
	dispatch(h, phone, EvtJoinRoom, joinRoomPayload{UserID: string(bob)})
	dispatch(h, laptop, EvtJoinRoom, joinRoomPayload{UserID: string(bob)})

	ca := connect(h, alice)
	dispatch(h, ca, EvtJoinRoom, joinRoomPayload{UserID: string(alice)})
	dispatch(h, ca, EvtAddFriend, friendPayload{UserFrom: string(alice), UserTo: string(bob)})

	assert.Equal(t, EvtNewRequestFriend, recv(t, phone).Event)
	assert.Equal(t, EvtNewRequestFriend, recv(t, laptop).Event)
}

func TestUnfriendFansOutWithoutConversationID(t *testing.T) {
	friends := &fakeFriends{}
	h := newTestHub(friends, &fakeChats{})
	alice, bob := ident.New(), ident.New()

	ca := connect(h, alice)
	cb := connect(h, bob)
	dispatch(h, ca, EvtJoinRoom, joinRoomPayload{UserID: string(alice)})
	dispatch(h, cb, EvtJoinRoom, joinRoomPayload{UserID: string(bob)})

	// Clients may omit idConversation; the service falls back to the
	// stored relation.
	dispatch(h, ca, EvtUnfriend, unfriendPayload{
		UserFrom: string(alice),
		UserTo:   string(bob),
	})

	assert.Equal(t, []string{fmt.Sprintf("unfriend %s->%s", alice, bob)}, friends.calls)
	assert.Equal(t, EvtUnfriendSuccess, recv(t, ca).Event)
	assert.Equal(t, EvtUnfriended, recv(t, cb).Event)
}

func TestEmitRacingDisconnectIsDropped(t *testing.T) {
	h := newTestHub(&fakeFriends{}, &fakeChats{})
	alice := ident.New()
	c := connect(h, alice)
	dispatch(h, c, EvtJoinRoom, joinRoomPayload{UserID: string(alice)})

	// An emitter can snapshot the room, lose the CPU to the read pump's
	// teardown, and only then reach the client's channel. The frame must
	// be refused, not panic the process.
	snapshot := h.rooms.members(string(alice))
	require.Len(t, snapshot, 1)

	h.Unregister(c)

	assert.NotPanics(t, func() {
		for _, m := range snapshot {
			assert.False(t, m.trySend([]byte(`{"event":"new_message"}`)))
		}
	})
	_, open := <-c.send
	assert.False(t, open)
}

func TestConcurrentEmitsAndDisconnectsSurvive(t *testing.T) {
	h := newTestHub(&fakeFriends{}, &fakeChats{})
	alice := ident.New()

	for i := 0; i < 200; i++ {
		c := connect(h, alice)
		dispatch(h, c, EvtJoinRoom, joinRoomPayload{UserID: string(alice)})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.emitToRoom(string(alice), EvtNewMessage, userEventPayload{UserID: string(alice)})
		}()
		go func() {
			defer wg.Done()
			h.Unregister(c)
		}()
		wg.Wait()
	}
}

type panickingChats struct {
	fakeChats
}

func (p *panickingChats) SendMessage(context.Context, ident.ID, ident.ID, string) (*chat.Message, error) {
	panic("store connection gone")
}

func TestPanickingHandlerIsContained(t *testing.T) {
	alice := ident.New()
	convID := ident.New()
	chats := &panickingChats{fakeChats: fakeChats{conv: &chat.Conversation{
		ID:      convID,
		Members: []chat.Member{{UserID: alice}},
	}}}
	h := newTestHub(&fakeFriends{}, chats)
	c := connect(h, alice)

	assert.NotPanics(t, func() {
		dispatch(h, c, EvtSendMessage, sendMessagePayload{
			ConversationID: string(convID),
			Sender:         string(alice),
			Message:        "boom",
		})
	})

	// The connection stays usable after the recovered event.
	dispatch(h, c, EvtJoinRoom, joinRoomPayload{UserID: string(alice)})
	assert.Equal(t, 1, h.rooms.size(string(alice)))
}

func TestUnregisterLeavesRoomsAndIsIdempotent(t *testing.T) {
	h := newTestHub(&fakeFriends{}, &fakeChats{})
	alice := ident.New()
	c := connect(h, alice)
	dispatch(h, c, EvtJoinRoom, joinRoomPayload{UserID: string(alice)})
	require.Equal(t, 1, h.rooms.size(string(alice)))

	h.Unregister(c)
	h.Unregister(c)

	assert.Equal(t, 0, h.rooms.size(string(alice)))
	_, open := <-c.send
	assert.False(t, open)
}
