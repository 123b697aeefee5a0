package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	BaseURL   = "http://localhost:8080"
	WSURL     = "ws://localhost:8080/ws"
	PairCount = 50 // ⚠️ Start small. Each pair is 2 users, 2 sockets.
	MsgCount  = 20 // Messages per user
)

type authResponse struct {
	Token string `json:"access_token"`
	ID    string `json:"id"`
}

type friendEntry struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
}

type envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

func main() {
	log.Printf("🔥 STARTING STRESS TEST: %d Users, %d Messages each...", PairCount*2, MsgCount)
	var wg sync.WaitGroup

	// Pairs: user 0 talks to user 1, user 2 talks to user 3...
	for i := 0; i < PairCount; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(pairID)
		}(i)
	}

	wg.Wait()
	log.Println("✅ LOAD TEST COMPLETE")
}

func runPair(pairID int) {
	phoneA := fmt.Sprintf("090%07d", pairID*2)
	phoneB := fmt.Sprintf("090%07d", pairID*2+1)
	pass := "password123"

	tokenA, idA := authenticate(phoneA, pass)
	tokenB, idB := authenticate(phoneB, pass)
	if tokenA == "" || tokenB == "" {
		return
	}

	connA := connect(tokenA, idA)
	connB := connect(tokenB, idB)
	if connA == nil || connB == nil {
		return
	}
	defer connA.Close()
	defer connB.Close()

	// A requests, B accepts; the server creates their conversation.
	send(connA, "add_friend", map[string]string{"userFrom": idA, "userTo": idB})
	time.Sleep(200 * time.Millisecond)
	send(connB, "accept_request_friend", map[string]string{"userFrom": idB, "userTo": idA})
	time.Sleep(200 * time.Millisecond)

	convID := conversationWith(tokenA, idB)
	if convID == "" {
		log.Printf("❌ No conversation for pair %d", pairID)
		return
	}

	send(connA, "join_conversation", map[string]string{"idConversation": convID})
	send(connB, "join_conversation", map[string]string{"idConversation": convID})

	var wsWg sync.WaitGroup
	wsWg.Add(2)
	go spamChat(&wsWg, connA, convID, idA)
	go spamChat(&wsWg, connB, convID, idB)
	wsWg.Wait()
}

// authenticate registers (ignores error if exists) and logs in.
func authenticate(phone, password string) (string, string) {
	postJSON("/register", map[string]string{
		"name":     "Load " + phone,
		"phone":    phone,
		"password": password,
	})

	resp, err := postJSON("/login", map[string]string{"phone": phone, "password": password})
	if err != nil {
		log.Printf("❌ Login Failed [%s]: %v", phone, err)
		return "", ""
	}
	defer resp.Body.Close()

	var data authResponse
	json.NewDecoder(resp.Body).Decode(&data)
	return data.Token, data.ID
}

func connect(token, userID string) *websocket.Conn {
	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("%s?token=%s", WSURL, token), nil)
	if err != nil {
		log.Printf("❌ WS Connect Fail [%s]: %v", userID, err)
		return nil
	}

	// Drain server frames so the write side never blocks on backpressure.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send(conn, "join_room", map[string]string{"userId": userID})
	return conn
}

// conversationWith looks up the private conversation id off the friends
// list.
func conversationWith(token, peerID string) string {
	req, _ := http.NewRequest("GET", BaseURL+"/api/me/friends", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	var friends []friendEntry
	json.NewDecoder(resp.Body).Decode(&friends)
	for _, f := range friends {
		if f.ID == peerID {
			return f.ConversationID
		}
	}
	return ""
}

func spamChat(wg *sync.WaitGroup, conn *websocket.Conn, convID, userID string) {
	defer wg.Done()

	for i := 0; i < MsgCount; i++ {
		err := send(conn, "send_message", map[string]string{
			"idConversation": convID,
			"sender":         userID,
			"message":        fmt.Sprintf("LoadTest Msg %d from %s", i, userID),
		})
		if err != nil {
			log.Printf("❌ Send Fail [%s]: %v", userID, err)
			break
		}
		// Small sleep to prevent instant localhost bottleneck (simulate real network)
		time.Sleep(10 * time.Millisecond)
	}
	log.Printf("✅ %s finished sending %d msgs", userID, MsgCount)
}

func send(conn *websocket.Conn, event string, data interface{}) error {
	return conn.WriteJSON(envelope{Event: event, Data: data})
}

func postJSON(endpoint string, data interface{}) (*http.Response, error) {
	jsonData, _ := json.Marshal(data)
	return http.Post(BaseURL+endpoint, "application/json", bytes.NewBuffer(jsonData))
}
