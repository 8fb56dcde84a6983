package daemon

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	apihttp "github.com/mcpherd/mcpherd/internal/api/http"
	"github.com/mcpherd/mcpherd/internal/eventbus"
)

const logStreamWriteTimeout = 10 * time.Second

var logStreamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The daemon only listens on a local unix socket, so origin checks
	// add nothing here.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleLogStream streams child process output over a websocket. An optional
// ?server= query restricts the stream to a single server.
func (s *httpService) handleLogStream(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("server")

	conn, err := logStreamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := s.daemon.bus.Subscribe(eventbus.TopicServerLog,
		eventbus.WithSubscriptionName("logstream-"+uuid.NewString()),
		eventbus.WithContext(r.Context()),
	)
	defer sub.Close()

	// Drain client frames so close messages and pings are processed; any
	// read error tears down the subscription.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-readerDone:
			return
		case env, ok := <-sub.C():
			if !ok {
				deadline := time.Now().Add(logStreamWriteTimeout)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "daemon shutting down"),
					deadline)
				return
			}
			event, ok := env.Payload.(eventbus.ServerLogEvent)
			if !ok {
				continue
			}
			if filter != "" && event.Server != filter {
				continue
			}
			frame := apihttp.LogStreamEvent{
				Server:    event.Server,
				Stream:    string(event.Stream),
				Line:      event.Line,
				Timestamp: env.Timestamp,
			}
			_ = conn.SetWriteDeadline(time.Now().Add(logStreamWriteTimeout))
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		}
	}
}
