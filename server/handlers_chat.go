package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/chatmerge/telemetry"
)

const wsWriteWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the viewer may be served from anywhere, e.g. an OBS browser source
	},
}

// HandleChat returns the whole buffer as a JSON array in insertion order.
func (h *Handlers) HandleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.deps.Aggregator.Snapshot()); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}

// HandleChatWS pushes every message appended after the upgrade as a JSON
// text frame until the client goes away.
func (h *Handlers) HandleChatWS(w http.ResponseWriter, r *http.Request) {
	logger := telemetry.LoggerWithCorr(r.Context()).With(slog.String("component", "chat_ws"))
	// Hijacked responses only carry the headers handed to Upgrade.
	respHeader := http.Header{}
	if corr := w.Header().Get("X-Correlation-ID"); corr != "" {
		respHeader.Set("X-Correlation-ID", corr)
	}
	conn, err := upgrader.Upgrade(w, r, respHeader)
	if err != nil {
		logger.Debug("websocket upgrade failed", slog.Any("err", err))
		return
	}
	defer conn.Close()
	// The HTTP server's read deadline does not apply to the hijacked stream.
	_ = conn.SetReadDeadline(time.Time{})

	msgs, cancel := h.deps.Aggregator.Subscribe(0)
	defer cancel()
	telemetry.AddWSClients(1)
	defer telemetry.AddWSClients(-1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range msgs {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debug("websocket write failed", slog.Any("err", err))
				_ = conn.Close()
				return
			}
		}
	}()

	// Read pump; blocks until the connection closes.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	cancel()
	<-done
}

// HandleViewer serves the HTML page that polls /chat.
func (h *Handlers) HandleViewer(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(viewerHTML))
}

const viewerHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Live Chat Viewer</title>
<style>
  body { font-family: Arial, sans-serif; background-color: #1e1e1e; color: #ffffff; }
  ul { list-style: none; padding: 0; }
  li { margin: 4px 0; }
  .YouTube { color: #FF0000; }
  .Twitch { color: #9146FF; }
</style>
</head>
<body>
<h1>Live Chat Viewer</h1>
<ul id="chat"></ul>
<script>
  async function fetchMessages() {
    try {
      const response = await fetch("/chat");
      const messages = await response.json();
      const chat = document.getElementById("chat");
      chat.innerHTML = "";
      messages.forEach(function (msg) {
        const li = document.createElement("li");
        li.className = msg.platform;
        li.textContent = "[" + msg.platform + "] " + msg.author + ": " + msg.message;
        chat.appendChild(li);
      });
    } catch (err) {
      console.error("failed to fetch messages", err);
    }
  }
  setInterval(fetchMessages, 3000);
  fetchMessages();
</script>
</body>
</html>
`
