package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"linkup/internal/chat"
	"linkup/internal/ident"
)

// FriendService is the slice of the friend graph the hub dispatches to.
type FriendService interface {
	SendRequest(ctx context.Context, from, to ident.ID) error
	CancelRequest(ctx context.Context, from, to ident.ID) error
	AcceptRequest(ctx context.Context, from, to ident.ID) (ident.ID, error)
	DeclineRequest(ctx context.Context, from, to ident.ID) error
	Unfriend(ctx context.Context, from, to, conversationID ident.ID) error
}

// ChatService is the slice of the conversation service the hub dispatches
// to.
type ChatService interface {
	SendMessage(ctx context.Context, conversationID, sender ident.ID, body string) (*chat.Message, error)
	MarkSeen(ctx context.Context, conversationID, reader ident.ID) error
	Conversation(ctx context.Context, id ident.ID) (*chat.Conversation, error)
}

// Hub routes events between connected clients and the two services. It is
// an explicit instance handed to the websocket handler, never a global;
// tests run several isolated hubs side by side.
type Hub struct {
	rooms   *roomTable
	friends FriendService
	chats   ChatService
	timeout time.Duration
	log     *slog.Logger

	mu      sync.Mutex
	clients map[*Client]bool
}

func NewHub(friends FriendService, chats ChatService, timeout time.Duration) *Hub {
	return &Hub{
		rooms:   newRoomTable(),
		friends: friends,
		chats:   chats,
		timeout: timeout,
		log:     slog.Default().With("component", "hub"),
		clients: make(map[*Client]bool),
	}
}

// NewClient pairs a connection-less client with the hub; the websocket
// handler fills in the conn, tests leave it nil and read c.send.
func (h *Hub) NewClient(userID ident.ID, name string) *Client {
	return &Client{
		hub:    h,
		send:   make(chan []byte, 256),
		userID: userID,
		name:   name,
		joined: make(map[string]bool),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

// Unregister drops a connection from every room and closes its outbound
// channel. Idempotent, so a racing read/write pump teardown is safe.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	h.mu.Unlock()

	h.rooms.leaveAll(c)
	c.shutdown()
}

// handleEvent processes one inbound frame. Failures never propagate to
// the transport: malformed payloads are logged and dropped, service
// errors answer the origin connection with `<event>_failure`, and a
// panicking handler is recovered here so one bad event cannot take the
// process down.
func (h *Hub) handleEvent(c *Client, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("recovered panicking handler", "user", c.userID, "panic", r)
		}
	}()

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.log.Warn("dropping undecodable frame", "user", c.userID, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	switch env.Event {
	case EvtJoinRoom:
		h.onJoinRoom(c, env)
	case EvtJoinConversation:
		h.onJoinConversation(ctx, c, env)
	case EvtJoinAllConversations:
		h.onJoinAllConversations(ctx, c, env)
	case EvtAddFriend:
		h.onFriendEvent(ctx, c, env, h.friendAdd)
	case EvtDeleteRequestFriend:
		h.onFriendEvent(ctx, c, env, h.friendCancel)
	case EvtAcceptRequestFriend:
		h.onFriendEvent(ctx, c, env, h.friendAccept)
	case EvtDeclineRequestFriend:
		h.onFriendEvent(ctx, c, env, h.friendDecline)
	case EvtUnfriend:
		h.onUnfriend(ctx, c, env)
	case EvtSeenMessage:
		h.onSeenMessage(ctx, c, env)
	case EvtSendMessage:
		h.onSendMessage(ctx, c, env)
	default:
		// Unknown event names are tolerated and ignored.
		h.log.Warn("ignoring unknown event", "event", env.Event, "user", c.userID)
	}
}

func (h *Hub) onJoinRoom(c *Client, env Envelope) {
	var p joinRoomPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		h.drop(c, env.Event, "malformed payload")
		return
	}
	userID, err := ident.Parse(p.UserID)
	if err != nil {
		h.drop(c, env.Event, "invalid user id")
		return
	}
	if userID != c.userID {
		h.fail(c, env.Event, "room does not match session user")
		return
	}
	h.rooms.join(string(userID), c)
}

func (h *Hub) onJoinConversation(ctx context.Context, c *Client, env Envelope) {
	id, err := conversationIDFrom(env.Data)
	if err != nil {
		h.drop(c, env.Event, "invalid conversation id")
		return
	}
	if !h.isMember(ctx, id, c.userID) {
		h.fail(c, env.Event, "not a conversation member")
		return
	}
	h.rooms.join(string(id), c)
}

func (h *Hub) onJoinAllConversations(ctx context.Context, c *Client, env Envelope) {
	var ids joinAllPayload
	if err := json.Unmarshal(env.Data, &ids); err != nil {
		h.drop(c, env.Event, "malformed payload")
		return
	}
	for _, raw := range ids {
		id, err := ident.Parse(raw)
		if err != nil {
			continue // skip invalid entries, join the rest
		}
		if !h.isMember(ctx, id, c.userID) {
			continue
		}
		h.rooms.join(string(id), c)
	}
}

// friendOutcome names the success and peer-notification events of one
// friend operation.
type friendOutcome struct {
	success string
	notify  string
}

func (h *Hub) friendAdd(ctx context.Context, from, to ident.ID) (friendOutcome, error) {
	err := h.friends.SendRequest(ctx, from, to)
	return friendOutcome{EvtAddFriendSuccess, EvtNewRequestFriend}, err
}

func (h *Hub) friendCancel(ctx context.Context, from, to ident.ID) (friendOutcome, error) {
	err := h.friends.CancelRequest(ctx, from, to)
	return friendOutcome{EvtDeleteRequestSuccess, EvtPersonDeleteRequest}, err
}

func (h *Hub) friendAccept(ctx context.Context, from, to ident.ID) (friendOutcome, error) {
	_, err := h.friends.AcceptRequest(ctx, from, to)
	return friendOutcome{EvtAcceptSuccess, EvtAccepted}, err
}

func (h *Hub) friendDecline(ctx context.Context, from, to ident.ID) (friendOutcome, error) {
	err := h.friends.DeclineRequest(ctx, from, to)
	return friendOutcome{EvtDeclineSuccess, EvtDeclined}, err
}

func (h *Hub) onFriendEvent(ctx context.Context, c *Client, env Envelope,
	op func(context.Context, ident.ID, ident.ID) (friendOutcome, error)) {

	from, to, ok := h.friendPair(c, env)
	if !ok {
		return
	}

	outcome, err := op(ctx, from, to)
	if err != nil {
		h.log.Warn("friend event rejected", "event", env.Event, "from", from, "to", to, "err", err)
		h.fail(c, env.Event, err.Error())
		return
	}

	h.emitToRoom(string(from), outcome.success, userEventPayload{UserID: string(from)})
	h.emitToRoom(string(to), outcome.notify, userEventPayload{UserID: string(to)})
}

func (h *Hub) onUnfriend(ctx context.Context, c *Client, env Envelope) {
	var p unfriendPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		h.drop(c, env.Event, "malformed payload")
		return
	}
	from, err := ident.Parse(p.UserFrom)
	if err != nil {
		h.drop(c, env.Event, "invalid user id")
		return
	}
	to, err := ident.Parse(p.UserTo)
	if err != nil {
		h.drop(c, env.Event, "invalid user id")
		return
	}
	if from != c.userID {
		h.fail(c, env.Event, "userFrom does not match session user")
		return
	}

	var convID ident.ID
	if p.ConversationID != "" {
		if convID, err = ident.Parse(p.ConversationID); err != nil {
			h.drop(c, env.Event, "invalid conversation id")
			return
		}
	}

	if err := h.friends.Unfriend(ctx, from, to, convID); err != nil {
		h.log.Warn("unfriend rejected", "from", from, "to", to, "err", err)
		h.fail(c, env.Event, err.Error())
		return
	}

	h.emitToRoom(string(from), EvtUnfriendSuccess, userEventPayload{UserID: string(from)})
	h.emitToRoom(string(to), EvtUnfriended, userEventPayload{UserID: string(to)})
}

func (h *Hub) onSeenMessage(ctx context.Context, c *Client, env Envelope) {
	var p seenPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		h.drop(c, env.Event, "malformed payload")
		return
	}
	convID, err := ident.Parse(p.ConversationID)
	if err != nil {
		h.drop(c, env.Event, "invalid conversation id")
		return
	}
	userID, err := ident.Parse(p.UserID)
	if err != nil {
		h.drop(c, env.Event, "invalid user id")
		return
	}
	if userID != c.userID {
		h.fail(c, env.Event, "userId does not match session user")
		return
	}

	if err := h.chats.MarkSeen(ctx, convID, userID); err != nil {
		h.log.Warn("seen_message rejected", "conversation", convID, "user", userID, "err", err)
		h.fail(c, env.Event, err.Error())
		return
	}

	h.emitToRoom(string(convID), EvtSeenMessageOut, seenPayload{
		ConversationID: string(convID),
		UserID:         string(userID),
	})

	// Members re-fetch their conversation list on this; target their user
	// rooms instead of broadcasting to every connection.
	if conv, err := h.chats.Conversation(ctx, convID); err == nil {
		for _, m := range conv.Members {
			h.emitToRoom(string(m.UserID), EvtConversationUpdated, joinConversationPayload{
				ConversationID: string(convID),
			})
		}
	}
}

func (h *Hub) onSendMessage(ctx context.Context, c *Client, env Envelope) {
	var p sendMessagePayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		h.drop(c, env.Event, "malformed payload")
		return
	}
	convID, err := ident.Parse(p.ConversationID)
	if err != nil {
		h.drop(c, env.Event, "invalid conversation id")
		return
	}
	sender, err := ident.Parse(p.Sender)
	if err != nil {
		h.drop(c, env.Event, "invalid sender id")
		return
	}
	if sender != c.userID {
		h.fail(c, env.Event, "sender does not match session user")
		return
	}

	msg, err := h.chats.SendMessage(ctx, convID, sender, p.Message)
	if err != nil {
		h.log.Warn("send_message rejected", "conversation", convID, "sender", sender, "err", err)
		h.fail(c, env.Event, err.Error())
		return
	}

	h.emitToRoom(string(convID), EvtNewMessage, msg)
}

func (h *Hub) friendPair(c *Client, env Envelope) (from, to ident.ID, ok bool) {
	var p friendPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		h.drop(c, env.Event, "malformed payload")
		return "", "", false
	}
	from, err := ident.Parse(p.UserFrom)
	if err != nil {
		h.drop(c, env.Event, "invalid user id")
		return "", "", false
	}
	to, err = ident.Parse(p.UserTo)
	if err != nil {
		h.drop(c, env.Event, "invalid user id")
		return "", "", false
	}
	if from != c.userID {
		h.fail(c, env.Event, "userFrom does not match session user")
		return "", "", false
	}
	return from, to, true
}

func (h *Hub) isMember(ctx context.Context, conversationID, userID ident.ID) bool {
	conv, err := h.chats.Conversation(ctx, conversationID)
	if err != nil {
		return false
	}
	return conv.HasMember(userID)
}

// drop logs a validation rejection and answers the origin connection.
func (h *Hub) drop(c *Client, event, reason string) {
	h.log.Warn("dropping event", "event", event, "user", c.userID, "reason", reason)
	h.fail(c, event, reason)
}

func (h *Hub) fail(c *Client, event, reason string) {
	h.emitTo(c, event+"_failure", failurePayload{Reason: reason})
}

func (h *Hub) emitToRoom(room, event string, payload any) {
	frame, err := json.Marshal(Envelope{Event: event, Data: mustMarshal(payload)})
	if err != nil {
		return
	}
	for _, c := range h.rooms.members(room) {
		// A refused frame means a full buffer or a connection that shut
		// down after the room snapshot; the pump teardown handles both.
		if !c.trySend(frame) {
			h.log.Warn("dropping frame for gone or slow client", "room", room, "user", c.userID)
		}
	}
}

func (h *Hub) emitTo(c *Client, event string, payload any) {
	frame, err := json.Marshal(Envelope{Event: event, Data: mustMarshal(payload)})
	if err != nil {
		return
	}
	if !c.trySend(frame) {
		h.log.Warn("dropping frame for gone or slow client", "user", c.userID)
	}
}

// conversationIDFrom accepts either a bare JSON string id or the
// `{idConversation}` object form the web client sends.
func conversationIDFrom(data json.RawMessage) (ident.ID, error) {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return ident.Parse(s)
	}
	var p joinConversationPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return "", ident.ErrInvalid
	}
	return ident.Parse(p.ConversationID)
}
