package realtime

import (
	"net/http"

	ws "github.com/coder/websocket"
)

// Serve upgrades the request and runs it as userID's subscriber of topic
// until the connection closes. Callers authorize the topic first.
func Serve(hub *Hub, w http.ResponseWriter, r *http.Request, userID string, topic Topic) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		InsecureSkipVerify: true, // native clients send no Origin
	})
	if err != nil {
		hub.logger.Error("websocket accept", "error", err)
		return
	}
	defer conn.CloseNow()

	hub.logger.Debug("subscriber connected", "table", topic.Table, "home_id", topic.HomeID)
	NewClient(hub, conn, userID, topic).Run(r.Context())
	hub.logger.Debug("subscriber disconnected", "table", topic.Table, "home_id", topic.HomeID)
}
