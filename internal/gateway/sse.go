package gateway

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/goliatone/go-proofcast/pkg/domain"
	"github.com/goliatone/go-proofcast/pkg/interfaces/logger"
)

// SSEHandler serves the server-sent events transport. Clients open
// GET /stream?site_id=<id> and receive `data: <json>` frames until they
// disconnect or the server drains.
func (g *Gateway) SSEHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		siteID := r.URL.Query().Get("site_id")
		conn, err := g.Connect(r.Context(), siteID)
		if err != nil {
			status := statusFromError(err)
			g.logger.Warn("gateway: sse handshake rejected",
				logger.F("site_id", siteID), logger.F("status", status), logger.F("error", err))
			http.Error(w, err.Error(), status)
			return
		}
		defer g.Release(conn)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		// A client abort cancels the request context; fold that into the
		// connection's own close signal.
		go func() {
			<-r.Context().Done()
			conn.Close()
		}()

		g.runPump(conn, func(frame []byte) error {
			if _, err := fmt.Fprintf(w, "data: %s\n\n", frame); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		})
	})
}

// statusFromError maps the error taxonomy onto HTTP statuses.
func statusFromError(err error) int {
	switch {
	case errors.Is(err, domain.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrBusUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
