package realtime

import "encoding/json"

// Envelope is the wire frame for both directions: an event name and a
// JSON payload. Unknown inbound names are ignored; unknown payload fields
// are discarded by decoding into the typed payload structs.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Inbound event names.
const (
	EvtJoinRoom             = "join_room"
	EvtJoinConversation     = "join_conversation"
	EvtJoinAllConversations = "join_all_conversations"
	EvtAddFriend            = "add_friend"
	EvtDeleteRequestFriend  = "delete_request_friend"
	EvtAcceptRequestFriend  = "accept_request_friend"
	EvtDeclineRequestFriend = "dont_accept_request_friend"
	EvtUnfriend             = "un_friend"
	EvtSeenMessage          = "seen_message"
	EvtSendMessage          = "send_message"
)

// Outbound event names.
const (
	EvtAddFriendSuccess     = "add_friend_success"
	EvtNewRequestFriend     = "new_request_friend"
	EvtDeleteRequestSuccess = "delete_request_friend_success"
	EvtPersonDeleteRequest  = "person_delete_request_friend"
	EvtAcceptSuccess        = "accept_request_friend_success"
	EvtAccepted             = "accept_request_friend"
	EvtDeclineSuccess       = "dont_accept_request_friend_success"
	EvtDeclined             = "dont_accept_request_friend"
	EvtUnfriendSuccess      = "un_friend_success"
	EvtUnfriended           = "un_friend"
	EvtSeenMessageOut       = "seen_message"
	EvtConversationUpdated  = "conversation_updated"
	EvtNewMessage           = "new_message"
)

// Typed inbound payloads. Every handler decodes and validates before any
// service call; missing required fields drop the event.

type joinRoomPayload struct {
	UserID string `json:"userId"`
}

type joinConversationPayload struct {
	ConversationID string `json:"idConversation"`
}

type joinAllPayload []string

type friendPayload struct {
	UserFrom string `json:"userFrom"`
	UserTo   string `json:"userTo"`
}

type unfriendPayload struct {
	UserFrom       string `json:"userFrom"`
	UserTo         string `json:"userTo"`
	ConversationID string `json:"idConversation"`
}

type seenPayload struct {
	ConversationID string `json:"idConversation"`
	UserID         string `json:"userId"`
}

type sendMessagePayload struct {
	ConversationID string `json:"idConversation"`
	Sender         string `json:"sender"`
	Message        string `json:"message"`
}

// failurePayload rides the `<event>_failure` reply to the origin
// connection.
type failurePayload struct {
	Reason string `json:"reason"`
}

// userEventPayload mirrors the original contract: user-targeted friend
// events carry the id of the user the event concerns.
type userEventPayload struct {
	UserID string `json:"userId"`
}

func mustMarshal(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
