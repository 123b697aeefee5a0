package realtime

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"linkup/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWs upgrades an authenticated request to a websocket session and
// starts its pumps. The auth middleware has already bound the user to
// the request; join_room only confirms that identity.
func ServeWs(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.UserFrom(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		name, _ := middleware.NameFrom(r.Context())

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "user", userID, "err", err)
			return
		}

		client := hub.NewClient(userID, name)
		client.conn = conn
		hub.Register(client)

		go client.writePump()
		go client.readPump()
	}
}
