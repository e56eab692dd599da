package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	keepAlive    = 25 * time.Second
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// the dashboard binds to localhost and the UI may be served by a dev server
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleEvents streams every event as server-sent events until the client
// goes away.
func (r *Router) handleEvents(c *gin.Context) {
	sub, err := r.svc.SubscribeEvents(r.eventBuffer)
	if err != nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: err.Error()})
		return
	}
	defer func() { _ = r.svc.Unsubscribe(sub.ID) }()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	ctx := c.Request.Context()
	r.log.Debug("event stream opened", "subscriber", sub.ID)
	c.SSEvent("ready", gin.H{"subscriber": sub.ID})
	c.Writer.Flush()
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case e, ok := <-sub.C:
			if !ok {
				return false
			}
			c.SSEvent(string(e.Type), e)
			return true
		case <-ticker.C:
			c.SSEvent("ping", gin.H{"time": time.Now()})
			return true
		}
	})
	r.log.Debug("event stream closed", "subscriber", sub.ID)
}

// handleWebSocket pushes every event as a JSON text message. Messages from
// the client are read and discarded so close frames are noticed.
func (r *Router) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		r.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	sub, err := r.svc.SubscribeEvents(r.eventBuffer)
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(writeTimeout))
		return
	}
	defer func() { _ = r.svc.Unsubscribe(sub.ID) }()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	r.log.Debug("websocket opened", "subscriber", sub.ID, "remote", c.Request.RemoteAddr)
	for {
		select {
		case <-gone:
			r.log.Debug("websocket closed", "subscriber", sub.ID)
			return
		case e, ok := <-sub.C:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
