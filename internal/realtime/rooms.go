package realtime

import "sync"

// roomTable is the session/presence registry: which connections joined
// which rooms. Rooms are named by user id (direct notifications) or by
// conversation id (message fan-out). A user with several devices holds
// several connections in their user room; presence is nothing more than
// membership here, nothing is persisted.
type roomTable struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]bool
}

func newRoomTable() *roomTable {
	return &roomTable{rooms: make(map[string]map[*Client]bool)}
}

func (t *roomTable) join(room string, c *Client) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.rooms[room]; !ok {
		t.rooms[room] = make(map[*Client]bool)
	}
	t.rooms[room][c] = true
	c.joined[room] = true
}

// leaveAll removes a disconnecting client from every room it joined.
func (t *roomTable) leaveAll(c *Client) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for room := range c.joined {
		if clients, ok := t.rooms[room]; ok {
			delete(clients, c)
			if len(clients) == 0 {
				delete(t.rooms, room)
			}
		}
	}
	c.joined = make(map[string]bool)
}

// members snapshots a room's connections.
func (t *roomTable) members(room string) []*Client {
	t.mu.RLock()
	defer t.mu.RUnlock()

	clients := t.rooms[room]
	out := make([]*Client, 0, len(clients))
	for c := range clients {
		out = append(out, c)
	}
	return out
}

func (t *roomTable) size(room string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rooms[room])
}
