package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/loykin/scriptr/internal/metrics"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
	wsSendDepth  = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API binds to an operator-controlled address; browser origin
	// checks add nothing here.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleLogStream streams the buffered history followed by every live
// line as JSON text frames. The subscription sheds oldest lines if the
// client cannot keep up; shed counts surface in metrics on disconnect.
func (r *Router) handleLogStream(c *gin.Context) {
	id := c.Param("id")
	st, err := r.eng.Status(id)
	if err != nil {
		writeError(c, err)
		return
	}
	snap, sub, err := r.eng.Subscribe(id, wsSendDepth)
	if err != nil {
		writeError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		sub.Close()
		return
	}
	defer func() {
		metrics.AddSubscriberDrops(st.Name, sub.Dropped())
		sub.Close()
		_ = conn.Close()
	}()

	// Read side exists only to observe the close handshake and pongs.
	done := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, ln := range snap {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(ln); err != nil {
			return
		}
	}

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case ln, ok := <-sub.Lines():
			if !ok {
				// Buffer closed: the script was removed or the engine
				// is shutting down.
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "log buffer closed"))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ln); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
