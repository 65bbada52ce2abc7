package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/goliatone/go-proofcast/pkg/domain"
	"github.com/goliatone/go-proofcast/pkg/interfaces/logger"
)

// Close codes for handshake rejections, mirrored from the HTTP statuses so
// widget clients can distinguish retryable from terminal failures.
const (
	closeBadRequest = 4400
	closeForbidden  = 4403
	closeNotFound   = 4404
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Widgets are embedded on arbitrary storefront origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSHandler serves the WebSocket transport on GET /ws?site_id=<id>.
func (g *Gateway) WSHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		socket, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already replied to the client.
			g.logger.Warn("gateway: ws upgrade failed", logger.F("error", err))
			return
		}

		siteID := r.URL.Query().Get("site_id")
		conn, err := g.Connect(r.Context(), siteID)
		if err != nil {
			g.rejectSocket(socket, siteID, err)
			return
		}

		go g.wsReadPump(socket, conn)

		g.runPump(conn, func(frame []byte) error {
			socket.SetWriteDeadline(time.Now().Add(g.cfg.WriteTimeout))
			return socket.WriteMessage(websocket.TextMessage, frame)
		})

		// Server-initiated teardown: tell the client the service is
		// restarting so its reconnection controller retries.
		if g.isDraining() {
			deadline := time.Now().Add(time.Second)
			socket.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseServiceRestart, "draining"), deadline)
		}
		g.Release(conn)
		socket.Close()
	})
}

func (g *Gateway) isDraining() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.draining
}

// rejectSocket reports a handshake failure over the upgraded socket, then
// closes it. No registration happened, so there is nothing to release.
func (g *Gateway) rejectSocket(socket *websocket.Conn, siteID string, err error) {
	code := closeBadRequest
	switch {
	case errors.Is(err, domain.ErrForbidden):
		code = closeForbidden
	case errors.Is(err, domain.ErrNotFound):
		code = closeNotFound
	case errors.Is(err, ErrShuttingDown):
		code = websocket.CloseTryAgainLater
	}
	g.logger.Warn("gateway: ws handshake rejected",
		logger.F("site_id", siteID), logger.F("code", code), logger.F("error", err))

	deadline := time.Now().Add(time.Second)
	socket.SetWriteDeadline(deadline)
	socket.WriteMessage(websocket.TextMessage, errorFrame(err.Error()))
	socket.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, err.Error()), deadline)
	socket.Close()
}

// wsReadPump discards inbound traffic and turns a transport abort into the
// connection's close signal so cleanup runs immediately.
func (g *Gateway) wsReadPump(socket *websocket.Conn, conn *Connection) {
	for {
		if _, _, err := socket.ReadMessage(); err != nil {
			conn.Close()
			return
		}
	}
}
